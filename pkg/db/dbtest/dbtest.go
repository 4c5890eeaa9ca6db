// Package dbtest opens isolated in-memory SQLite databases carrying the order
// fulfillment schema, for repository and service tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/cantora-backend/pkg/db"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS credit_packages (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  kind TEXT NOT NULL DEFAULT 'standard',
  plan_id TEXT,
  total_credits INTEGER NOT NULL,
  used_credits INTEGER NOT NULL DEFAULT 0,
  is_active BOOLEAN NOT NULL DEFAULT 1,
  purchased_at DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME,
  CHECK (used_credits >= 0 AND used_credits <= total_credits)
);`, `
CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  external_id TEXT NOT NULL UNIQUE,
  plan_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'active',
  credits_per_period INTEGER NOT NULL,
  current_period_start DATETIME NOT NULL,
  current_period_end DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS subscription_usages (
  id TEXT PRIMARY KEY,
  subscription_id TEXT NOT NULL,
  period_start DATETIME NOT NULL,
  used_credits INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME,
  CONSTRAINT ux_subscription_usage_period UNIQUE (subscription_id, period_start)
);`, `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'DRAFT',
  payment_status TEXT NOT NULL DEFAULT 'PENDING',
  is_instrumental BOOLEAN NOT NULL DEFAULT 0,
  has_custom_lyric BOOLEAN NOT NULL DEFAULT 0,
  approved_lyric_id TEXT,
  amount NUMERIC NOT NULL DEFAULT 0,
  credit_source TEXT,
  credit_package_id TEXT,
  subscription_id TEXT,
  plan_id TEXT,
  credit_used_at DATETIME,
  honoree_name TEXT NOT NULL,
  relationship TEXT,
  occasion TEXT,
  story TEXT NOT NULL,
  music_style TEXT NOT NULL,
  mood TEXT,
  tempo TEXT,
  song_structure TEXT,
  instrumentation TEXT,
  voice_type TEXT,
  language TEXT NOT NULL DEFAULT 'pt',
  custom_lyric TEXT,
  pronunciations TEXT,
  voice_note_url TEXT,
  voice_note_transcript TEXT,
  style_prompt TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS lyrics (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  version INTEGER NOT NULL DEFAULT 1,
  title TEXT NOT NULL DEFAULT '',
  content TEXT NOT NULL,
  edited BOOLEAN NOT NULL DEFAULT 0,
  created_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`, `
CREATE UNIQUE INDEX IF NOT EXISTS ux_outbox_events_event_aggregate
  ON outbox_events (event_type, aggregate_type, aggregate_id)
  WHERE event_type <> 'credit_consumed';`,
}

// Open returns a fresh database private to the calling test.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("failed to create schema: %v", err)
		}
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	// one connection keeps the shared in-memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

// Client wraps Open in the application db client.
func Client(t *testing.T) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return db.Wrap(conn), conn
}
