package store

import (
	"fmt"
	"strings"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Both drivers accept $N placeholders; SQLite binds them in order of first
// appearance, so every query lists them in ascending order.
func schema(driver string) ([]string, error) {
	var pk string
	switch driver {
	case DriverSQLite:
		pk = "INTEGER PRIMARY KEY AUTOINCREMENT"
	case DriverPostgres:
		pk = "BIGSERIAL PRIMARY KEY"
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrValidation, driver)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS clients (
			id          {pk},
			external_id TEXT NOT NULL UNIQUE,
			name        TEXT,
			phone       TEXT,
			email       TEXT,
			created_at  BIGINT NOT NULL,
			updated_at  BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id               {pk},
			client_id        BIGINT NOT NULL REFERENCES clients(id),
			external_deal_id TEXT,
			status           TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed')),
			context_summary  TEXT NOT NULL DEFAULT '{}',
			created_at       BIGINT NOT NULL,
			last_activity    BIGINT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS conversations_one_active
			ON conversations (client_id) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS conversations_status_activity
			ON conversations (status, last_activity)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id              {pk},
			conversation_id BIGINT NOT NULL REFERENCES conversations(id),
			sender          TEXT NOT NULL CHECK (sender IN ('client', 'assistant', 'system')),
			content         TEXT NOT NULL,
			kind            TEXT NOT NULL DEFAULT 'text',
			metadata        TEXT,
			created_at      BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_created
			ON messages (conversation_id, created_at, id)`,
		`CREATE TABLE IF NOT EXISTS config (
			config_key   TEXT PRIMARY KEY,
			config_value TEXT NOT NULL,
			description  TEXT,
			updated_at   BIGINT NOT NULL
		)`,
	}

	for i, s := range stmts {
		stmts[i] = strings.ReplaceAll(s, "{pk}", pk)
	}
	return stmts, nil
}

// sqliteDSN turns a bare file path into a DSN with foreign keys, WAL and a
// busy timeout enabled on every pooled connection.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	return dsn + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}
