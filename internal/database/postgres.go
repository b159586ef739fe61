package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS games (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		end_time TIMESTAMPTZ,
		image_idx INTEGER NOT NULL,
		true_label INTEGER NOT NULL,
		final_guess INTEGER,
		num_turns INTEGER,
		trajectory TEXT,
		thought_trajectory TEXT,
		probability_distribution_trajectory TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS turns (
		id BIGSERIAL PRIMARY KEY,
		game_id BIGINT NOT NULL REFERENCES games (id),
		turn_number INTEGER NOT NULL,
		pixel_row INTEGER NOT NULL,
		pixel_col INTEGER NOT NULL,
		probability_distribution TEXT NOT NULL,
		thought_process TEXT NOT NULL
	)`,
	// Separate from the table definition so pre-existing turns tables get it too.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_turns_game_turn ON turns (game_id, turn_number)`,
}

func NewPostgresPool(databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// EnsurePostgresSchema creates the games and turns tables if they are absent.
func EnsurePostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, stmt := range postgresSchema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}
