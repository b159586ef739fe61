package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS games (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		start_time DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		end_time DATETIME,
		image_idx INTEGER NOT NULL,
		true_label INTEGER NOT NULL,
		final_guess INTEGER,
		num_turns INTEGER,
		trajectory TEXT,
		thought_trajectory TEXT,
		probability_distribution_trajectory TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		game_id INTEGER NOT NULL,
		turn_number INTEGER NOT NULL,
		pixel_row INTEGER NOT NULL,
		pixel_col INTEGER NOT NULL,
		probability_distribution TEXT NOT NULL,
		thought_process TEXT NOT NULL,
		FOREIGN KEY (game_id) REFERENCES games (id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_turns_game_turn ON turns (game_id, turn_number)`,
}

// SQLitePath reports whether databaseURL selects the SQLite backend
// ("sqlite:<path>" or "sqlite://<path>") and returns the file path.
func SQLitePath(databaseURL string) (string, bool) {
	for _, prefix := range []string{"sqlite://", "sqlite:"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return strings.TrimPrefix(databaseURL, prefix), true
		}
	}
	return "", false
}

// NewSQLiteDB opens path with foreign keys enforced and write transactions
// taking the database lock at BEGIN.
func NewSQLiteDB(path string) (*sql.DB, error) {
	dsn := path
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// EnsureSQLiteSchema creates the games and turns tables if they are absent.
func EnsureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	for i, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
