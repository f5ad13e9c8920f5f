package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/mattn/go-sqlite3"

	"github.com/iammorganparry/agentmem/internal/models"
)

// driverName is go-sqlite3 with a unicode-aware fold() SQL function.
// SQLite's built-in lower() only folds ASCII.
const driverName = "sqlite3_agentmem"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("fold", strings.ToLower, true)
		},
	})
}

// DB wraps the SQLite connection with initialization logic.
type DB struct {
	*sql.DB
}

// OpenDB creates or opens the SQLite database at the given path, runs schema
// initialization, and configures WAL mode for concurrent reads.
func OpenDB(dbPath string) (*DB, error) {
	if dbPath == "" {
		return nil, models.Configuration("sqlite path must not be empty")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, goerr.Wrap(err, "create db directory", goerr.V("dir", dir))
		}
	}

	db, err := sql.Open(driverName, dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, models.Connectivity(err, "open sqlite", "path", dbPath)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, models.Connectivity(err, "init schema", "path", dbPath)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, models.Connectivity(err, "run migrations", "path", dbPath)
	}

	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id            TEXT PRIMARY KEY,
		content       TEXT NOT NULL,
		memory_type   TEXT NOT NULL,
		agent_id      TEXT,
		session_id    TEXT,
		metadata      TEXT NOT NULL DEFAULT '{}',
		embedding     BLOB,
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_memories_memory_type ON memories(memory_type);
	CREATE INDEX IF NOT EXISTS idx_memories_agent_id ON memories(agent_id);
	CREATE INDEX IF NOT EXISTS idx_memories_session_id ON memories(session_id);
	CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// runMigrations adds the columns introduced after the first schema. Each
// step is idempotent so it is safe to call on every database open.
func runMigrations(db *sql.DB) error {
	columns := []struct {
		name string
		ddl  string
		fill string
	}{
		{"importance", `ALTER TABLE memories ADD COLUMN importance REAL NOT NULL DEFAULT 5.0`, ""},
		{"tags", `ALTER TABLE memories ADD COLUMN tags TEXT`, `UPDATE memories SET tags = '[]' WHERE tags IS NULL`},
		{"access_count", `ALTER TABLE memories ADD COLUMN access_count INTEGER NOT NULL DEFAULT 0`, ""},
		{"last_accessed", `ALTER TABLE memories ADD COLUMN last_accessed INTEGER`, ""},
	}

	for _, c := range columns {
		exists, err := columnExists(db, "memories", c.name)
		if err != nil {
			return fmt.Errorf("check %s column: %w", c.name, err)
		}
		if exists {
			continue
		}
		if _, err := db.Exec(c.ddl); err != nil {
			return fmt.Errorf("add %s column: %w", c.name, err)
		}
		if c.fill != "" {
			if _, err := db.Exec(c.fill); err != nil {
				return fmt.Errorf("backfill %s column: %w", c.name, err)
			}
		}
	}
	return nil
}

// columnExists checks whether a column exists in the given table.
func columnExists(db *sql.DB, table, column string) (bool, error) {
	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
