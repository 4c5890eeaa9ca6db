package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/angelmondragon/cantora-backend/pkg/config"
	"github.com/angelmondragon/cantora-backend/pkg/db"
	"github.com/angelmondragon/cantora-backend/pkg/logger"
	"github.com/angelmondragon/cantora-backend/pkg/migrate"
	"github.com/joho/godotenv"
)

const usage = `usage: migrate [flags] <command>

commands:
  up | down | redo | status   run the goose command against DATABASE_URL
  pending                     exit 1 when migrations are waiting to be applied
  version                     migrate up or down to -version
  create                      scaffold a new migration named -name
  validate                    lint the migration directory (no database)
`

func main() {
	_ = godotenv.Load()

	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory")
	name := flag.String("name", "", "migration name for create")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for version")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	cmd := flag.Arg(0)

	// offline commands do not need config or a database
	switch cmd {
	case "create":
		if *name == "" {
			exitf("create requires -name")
		}
		path, err := migrate.CreateSQLMigration(*dir, *name)
		if err != nil {
			exitf("create: %v", err)
		}
		fmt.Println(path)
		return
	case "validate":
		if err := migrate.ValidateDir(*dir); err != nil {
			exitf("%s is invalid:\n%v", *dir, err)
		}
		fmt.Println("ok")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		exitf("config: %v", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": cmd, "dir": *dir})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "database unavailable", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		logg.Error(ctx, "sql handle unavailable", err)
		os.Exit(1)
	}

	switch cmd {
	case "up", "down", "redo", "status":
		err = migrate.Run(ctx, sqlDB, *dir, migrate.Command(cmd))
	case "pending":
		var state migrate.State
		state, err = migrate.Inspect(ctx, sqlDB, *dir)
		if err == nil {
			fmt.Printf("current=%d latest=%d pending=%v\n", state.Current, state.Latest, state.Pending)
			if !state.UpToDate() {
				os.Exit(1)
			}
		}
	case "version":
		if *version == "" {
			exitf("version requires -version")
		}
		err = migrate.MigrateToVersion(ctx, sqlDB, *dir, *version)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logg.Error(ctx, "migration command failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migration command finished")
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
