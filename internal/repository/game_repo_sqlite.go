package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"pixelguess-backend/internal/models"
)

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLiteGameRepo is the session store for local runs and tests. The database
// must be opened with database.NewSQLiteDB so that foreign keys are enforced
// and transactions lock at BEGIN.
type SQLiteGameRepo struct {
	db *sql.DB
}

func NewSQLiteGameRepo(db *sql.DB) *SQLiteGameRepo {
	return &SQLiteGameRepo{db: db}
}

func (r *SQLiteGameRepo) CreateGame(ctx context.Context, g *models.Game) error {
	g.StartTime = time.Now().UTC().Truncate(time.Microsecond)

	res, err := r.db.ExecContext(ctx,
		"INSERT INTO games (user_id, start_time, image_idx, true_label) VALUES (?, ?, ?, ?)",
		g.UserID, g.StartTime, g.ImageIdx, g.TrueLabel,
	)
	if err != nil {
		return err
	}
	g.ID, err = res.LastInsertId()
	return err
}

func (r *SQLiteGameRepo) AppendTurn(ctx context.Context, t *models.Turn) error {
	dist, err := encodeJSON(t.ProbabilityDistribution)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var endTime *time.Time
	err = tx.QueryRowContext(ctx, "SELECT end_time FROM games WHERE id = ?", t.GameID).Scan(&endTime)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("game %d: %w", t.GameID, ErrGameNotFound)
	}
	if err != nil {
		return err
	}
	if endTime != nil {
		return fmt.Errorf("game %d: %w", t.GameID, ErrGameFinalized)
	}

	var last int
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(turn_number), 0) FROM turns WHERE game_id = ?", t.GameID).Scan(&last); err != nil {
		return err
	}
	if err := checkNextTurn(last, t.TurnNumber); err != nil {
		return fmt.Errorf("game %d: %w", t.GameID, err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO turns (game_id, turn_number, pixel_row, pixel_col, probability_distribution, thought_process)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.GameID, t.TurnNumber, t.PixelRow, t.PixelCol, dist, t.ThoughtProcess,
	)
	if err != nil {
		return mapSQLiteError(err)
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *SQLiteGameRepo) FinalizeGame(ctx context.Context, res *models.GameResult) (*models.Game, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	g, err := scanSQLiteGame(tx.QueryRowContext(ctx, sqliteSelectGame+" WHERE id = ?", res.GameID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("game %d: %w", res.GameID, ErrGameNotFound)
	}
	if err != nil {
		return nil, err
	}
	if g.Finalized() {
		return nil, fmt.Errorf("game %d: %w", res.GameID, ErrGameFinalized)
	}

	turns, err := listSQLiteTurns(ctx, tx, res.GameID)
	if err != nil {
		return nil, err
	}
	cols, err := buildTrajectory(g, turns)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	_, err = tx.ExecContext(ctx,
		`UPDATE games SET end_time = ?, final_guess = ?, num_turns = ?,
			trajectory = ?, thought_trajectory = ?, probability_distribution_trajectory = ?
		 WHERE id = ? AND end_time IS NULL`,
		now, res.FinalGuess, res.NumTurns, cols.trajectory, cols.thoughts, cols.distributions, res.GameID,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit finalize: %w", err)
	}

	g.EndTime = &now
	g.FinalGuess = &res.FinalGuess
	g.NumTurns = &res.NumTurns
	return g, nil
}

func (r *SQLiteGameRepo) GetGame(ctx context.Context, id int64) (*models.Game, error) {
	g, err := scanSQLiteGame(r.db.QueryRowContext(ctx, sqliteSelectGame+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("game %d: %w", id, ErrGameNotFound)
	}
	return g, err
}

func (r *SQLiteGameRepo) ListTurns(ctx context.Context, gameID int64) ([]*models.Turn, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM games WHERE id = ?)", gameID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("game %d: %w", gameID, ErrGameNotFound)
	}
	return listSQLiteTurns(ctx, r.db, gameID)
}

const sqliteSelectGame = `SELECT id, user_id, start_time, end_time, image_idx, true_label, final_guess, num_turns,
		trajectory, thought_trajectory, probability_distribution_trajectory
	FROM games`

func scanSQLiteGame(row *sql.Row) (*models.Game, error) {
	g := &models.Game{}
	var trajectory, thoughts, distributions *string
	err := row.Scan(
		&g.ID, &g.UserID, &g.StartTime, &g.EndTime, &g.ImageIdx, &g.TrueLabel, &g.FinalGuess, &g.NumTurns,
		&trajectory, &thoughts, &distributions,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeTrajectory(g, trajectory, thoughts, distributions); err != nil {
		return nil, err
	}
	return g, nil
}

func listSQLiteTurns(ctx context.Context, q sqlQuerier, gameID int64) ([]*models.Turn, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, game_id, turn_number, pixel_row, pixel_col, probability_distribution, thought_process
		FROM turns WHERE game_id = ? ORDER BY turn_number`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns := []*models.Turn{}
	for rows.Next() {
		t := &models.Turn{}
		var dist string
		if err := rows.Scan(&t.ID, &t.GameID, &t.TurnNumber, &t.PixelRow, &t.PixelCol, &dist, &t.ThoughtProcess); err != nil {
			return nil, err
		}
		if err := decodeJSON(&dist, &t.ProbabilityDistribution); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func mapSQLiteError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %v", ErrGameNotFound, err)
		case sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%w: %v", ErrTurnOutOfOrder, err)
		}
	}
	return err
}
