package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/pressly/goose/v3"
)

const (
	DefaultDir = "pkg/migrate/migrations"
	// Dialect is fixed: the schema relies on Postgres enum types and jsonb columns.
	Dialect = "postgres"
)

// Command is a goose command understood by Run.
type Command string

const (
	CommandUp     Command = "up"
	CommandDown   Command = "down"
	CommandRedo   Command = "redo"
	CommandStatus Command = "status"
)

var errNoDB = errors.New("migrate: db is required")

func prepare(db *sql.DB, dir string) error {
	if db == nil {
		return errNoDB
	}
	if dir == "" {
		return errors.New("migrate: dir is required")
	}
	if err := goose.SetDialect(Dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return nil
}

// Run executes one of the connected goose commands against dir.
func Run(ctx context.Context, db *sql.DB, dir string, cmd Command) error {
	if err := prepare(db, dir); err != nil {
		return err
	}
	switch cmd {
	case CommandUp, CommandDown, CommandRedo, CommandStatus:
	default:
		return fmt.Errorf("migrate: unsupported command %q", cmd)
	}
	if err := goose.RunContext(ctx, string(cmd), db, dir); err != nil {
		return fmt.Errorf("goose %s: %w", cmd, err)
	}
	return nil
}

// State describes where the database sits relative to the migration files.
type State struct {
	Current int64
	Latest  int64
	Pending []int64
}

// UpToDate reports whether every migration file has been applied.
func (s State) UpToDate() bool { return len(s.Pending) == 0 }

// Inspect reads the applied version and lists the migrations still to run.
func Inspect(ctx context.Context, db *sql.DB, dir string) (State, error) {
	if err := prepare(db, dir); err != nil {
		return State{}, err
	}
	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return State{}, fmt.Errorf("get db version: %w", err)
	}
	all, err := goose.CollectMigrations(dir, 0, goose.MaxVersion)
	if err != nil {
		return State{}, fmt.Errorf("collect migrations: %w", err)
	}
	state := State{Current: current}
	for _, m := range all {
		if m.Version > state.Latest {
			state.Latest = m.Version
		}
		if m.Version > current {
			state.Pending = append(state.Pending, m.Version)
		}
	}
	return state, nil
}

// MigrateToVersion moves the schema up or down until it matches targetVersion.
func MigrateToVersion(ctx context.Context, db *sql.DB, dir string, targetVersion string) error {
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil || target < 0 {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", targetVersion)
	}
	if err := prepare(db, dir); err != nil {
		return err
	}
	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current < target:
		err = goose.UpToContext(ctx, db, dir, target)
	case current > target:
		err = goose.DownToContext(ctx, db, dir, target)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("goose migrate %d -> %d: %w", current, target, err)
	}
	return nil
}
