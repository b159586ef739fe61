package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pixelguess-backend/internal/models"
)

// PostgreSQL error codes
const (
	pgErrForeignKeyViolation = "23503"
	pgErrUniqueViolation     = "23505"
)

const selectGame = `SELECT id, user_id, start_time, end_time, image_idx, true_label, final_guess, num_turns,
		trajectory, thought_trajectory, probability_distribution_trajectory
	FROM games`

const selectTurns = `SELECT id, game_id, turn_number, pixel_row, pixel_col, probability_distribution, thought_process
	FROM turns WHERE game_id = $1 ORDER BY turn_number`

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// GameRepo is the Postgres-backed session store.
type GameRepo struct {
	pool *pgxpool.Pool
}

func NewGameRepo(pool *pgxpool.Pool) *GameRepo {
	return &GameRepo{pool: pool}
}

func (r *GameRepo) CreateGame(ctx context.Context, g *models.Game) error {
	g.StartTime = time.Now().UTC().Truncate(time.Microsecond)

	query := `INSERT INTO games (user_id, start_time, image_idx, true_label)
		VALUES ($1, $2, $3, $4) RETURNING id`

	return r.pool.QueryRow(ctx, query, g.UserID, g.StartTime, g.ImageIdx, g.TrueLabel).Scan(&g.ID)
}

func (r *GameRepo) AppendTurn(ctx context.Context, t *models.Turn) error {
	dist, err := encodeJSON(t.ProbabilityDistribution)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var endTime *time.Time
	err = tx.QueryRow(ctx, "SELECT end_time FROM games WHERE id = $1 FOR UPDATE", t.GameID).Scan(&endTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("game %d: %w", t.GameID, ErrGameNotFound)
	}
	if err != nil {
		return err
	}
	if endTime != nil {
		return fmt.Errorf("game %d: %w", t.GameID, ErrGameFinalized)
	}

	var last int
	if err := tx.QueryRow(ctx, "SELECT COALESCE(MAX(turn_number), 0) FROM turns WHERE game_id = $1", t.GameID).Scan(&last); err != nil {
		return err
	}
	if err := checkNextTurn(last, t.TurnNumber); err != nil {
		return fmt.Errorf("game %d: %w", t.GameID, err)
	}

	query := `INSERT INTO turns (game_id, turn_number, pixel_row, pixel_col, probability_distribution, thought_process)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	err = tx.QueryRow(ctx, query, t.GameID, t.TurnNumber, t.PixelRow, t.PixelCol, dist, t.ThoughtProcess).Scan(&t.ID)
	if err != nil {
		return mapPgError(err)
	}

	return tx.Commit(ctx)
}

// FinalizeGame writes the end-of-game fields once. The trajectory columns are
// rebuilt from the turn rows in the same transaction.
func (r *GameRepo) FinalizeGame(ctx context.Context, res *models.GameResult) (*models.Game, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	g, err := scanPgGame(tx.QueryRow(ctx, selectGame+" WHERE id = $1 FOR UPDATE", res.GameID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("game %d: %w", res.GameID, ErrGameNotFound)
	}
	if err != nil {
		return nil, err
	}
	if g.Finalized() {
		return nil, fmt.Errorf("game %d: %w", res.GameID, ErrGameFinalized)
	}

	turns, err := listPgTurns(ctx, tx, res.GameID)
	if err != nil {
		return nil, err
	}
	cols, err := buildTrajectory(g, turns)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	_, err = tx.Exec(ctx,
		`UPDATE games SET end_time = $1, final_guess = $2, num_turns = $3,
			trajectory = $4, thought_trajectory = $5, probability_distribution_trajectory = $6
		 WHERE id = $7 AND end_time IS NULL`,
		now, res.FinalGuess, res.NumTurns, cols.trajectory, cols.thoughts, cols.distributions, res.GameID,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit finalize: %w", err)
	}

	g.EndTime = &now
	g.FinalGuess = &res.FinalGuess
	g.NumTurns = &res.NumTurns
	return g, nil
}

func (r *GameRepo) GetGame(ctx context.Context, id int64) (*models.Game, error) {
	g, err := scanPgGame(r.pool.QueryRow(ctx, selectGame+" WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("game %d: %w", id, ErrGameNotFound)
	}
	return g, err
}

func (r *GameRepo) ListTurns(ctx context.Context, gameID int64) ([]*models.Turn, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM games WHERE id = $1)", gameID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("game %d: %w", gameID, ErrGameNotFound)
	}
	return listPgTurns(ctx, r.pool, gameID)
}

func scanPgGame(row pgx.Row) (*models.Game, error) {
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

func listPgTurns(ctx context.Context, q pgQuerier, gameID int64) ([]*models.Turn, error) {
	rows, err := q.Query(ctx, selectTurns, gameID)
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

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrGameNotFound, pgErr.Detail)
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", ErrTurnOutOfOrder, pgErr.Detail)
		}
	}
	return err
}
