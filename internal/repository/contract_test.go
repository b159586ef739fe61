package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelguess-backend/internal/models"
)

type gameStore interface {
	CreateGame(ctx context.Context, g *models.Game) error
	AppendTurn(ctx context.Context, t *models.Turn) error
	FinalizeGame(ctx context.Context, res *models.GameResult) (*models.Game, error)
	GetGame(ctx context.Context, id int64) (*models.Game, error)
	ListTurns(ctx context.Context, gameID int64) ([]*models.Turn, error)
}

var (
	_ gameStore = (*GameRepo)(nil)
	_ gameStore = (*SQLiteGameRepo)(nil)
)

func uniform(n int) []float64 {
	d := make([]float64, n)
	for i := range d {
		d[i] = 1 / float64(n)
	}
	return d
}

func createGame(t *testing.T, s gameStore, userID string) *models.Game {
	t.Helper()
	g := &models.Game{UserID: userID, ImageIdx: 42, TrueLabel: 7}
	require.NoError(t, s.CreateGame(context.Background(), g))
	return g
}

func appendTurn(t *testing.T, s gameStore, gameID int64, n int) *models.Turn {
	t.Helper()
	turn := &models.Turn{
		GameID:                  gameID,
		TurnNumber:              n,
		PixelRow:                n,
		PixelCol:                n + 1,
		ProbabilityDistribution: uniform(10),
		ThoughtProcess:          "thought",
	}
	require.NoError(t, s.AppendTurn(context.Background(), turn))
	return turn
}

// runStoreContract exercises the behavior every game store backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) gameStore) {
	ctx := context.Background()

	t.Run("create assigns unique ids", func(t *testing.T) {
		s := newStore(t)
		seen := map[int64]bool{}
		for i := 0; i < 5; i++ {
			g := createGame(t, s, "u1")
			require.NotZero(t, g.ID)
			require.False(t, seen[g.ID], "id %d issued twice", g.ID)
			seen[g.ID] = true

			got, err := s.GetGame(ctx, g.ID)
			require.NoError(t, err)
			assert.Equal(t, "u1", got.UserID)
			assert.Equal(t, 42, got.ImageIdx)
			assert.Equal(t, 7, got.TrueLabel)
			assert.False(t, got.StartTime.IsZero())
			assert.Nil(t, got.EndTime)
			assert.Nil(t, got.FinalGuess)
			assert.Nil(t, got.NumTurns)
		}
	})

	t.Run("append turn is visible", func(t *testing.T) {
		s := newStore(t)
		g := createGame(t, s, "u1")

		turn := &models.Turn{
			GameID:                  g.ID,
			TurnNumber:              1,
			PixelRow:                3,
			PixelCol:                4,
			ProbabilityDistribution: []float64{0.1, 0, 0, 0, 0, 0, 0, 0.9, 0, 0},
			ThoughtProcess:          "corner looks empty",
		}
		require.NoError(t, s.AppendTurn(ctx, turn))
		assert.NotZero(t, turn.ID)

		turns, err := s.ListTurns(ctx, g.ID)
		require.NoError(t, err)
		require.Len(t, turns, 1)
		assert.Equal(t, g.ID, turns[0].GameID)
		assert.Equal(t, 1, turns[0].TurnNumber)
		assert.Equal(t, 3, turns[0].PixelRow)
		assert.Equal(t, 4, turns[0].PixelCol)
		assert.Equal(t, "corner looks empty", turns[0].ThoughtProcess)
		assert.Equal(t, turn.ProbabilityDistribution, turns[0].ProbabilityDistribution)
	})

	t.Run("distribution round trip is lossless", func(t *testing.T) {
		s := newStore(t)
		g := createGame(t, s, "u1")

		dist := []float64{1.0 / 3, 0.1 + 0.2, 1e-17, 5e-324, 0, 0.123456789012345678, 2.0 / 7, 1, 0.5, 0.25}
		require.NoError(t, s.AppendTurn(ctx, &models.Turn{GameID: g.ID, TurnNumber: 1, ProbabilityDistribution: dist}))

		turns, err := s.ListTurns(ctx, g.ID)
		require.NoError(t, err)
		require.Len(t, turns, 1)
		for i := range dist {
			assert.Equal(t, dist[i], turns[0].ProbabilityDistribution[i], "element %d", i)
		}
	})

	t.Run("append to unknown game writes nothing", func(t *testing.T) {
		s := newStore(t)
		err := s.AppendTurn(ctx, &models.Turn{GameID: 9999, TurnNumber: 1, ProbabilityDistribution: uniform(10)})
		require.ErrorIs(t, err, ErrGameNotFound)

		_, err = s.ListTurns(ctx, 9999)
		require.ErrorIs(t, err, ErrGameNotFound)
	})

	t.Run("out of order and duplicate turns are rejected", func(t *testing.T) {
		s := newStore(t)
		g := createGame(t, s, "u1")

		err := s.AppendTurn(ctx, &models.Turn{GameID: g.ID, TurnNumber: 2, ProbabilityDistribution: uniform(10)})
		require.ErrorIs(t, err, ErrTurnOutOfOrder)
		var orderErr *TurnOrderError
		require.True(t, errors.As(err, &orderErr))
		assert.Equal(t, 1, orderErr.Expected)

		appendTurn(t, s, g.ID, 1)
		err = s.AppendTurn(ctx, &models.Turn{GameID: g.ID, TurnNumber: 1, ProbabilityDistribution: uniform(10)})
		require.ErrorIs(t, err, ErrTurnOutOfOrder)

		turns, err := s.ListTurns(ctx, g.ID)
		require.NoError(t, err)
		assert.Len(t, turns, 1)
	})

	t.Run("finalize derives trajectory from turns", func(t *testing.T) {
		s := newStore(t)
		g := createGame(t, s, "u1")
		t1 := appendTurn(t, s, g.ID, 1)
		t2 := appendTurn(t, s, g.ID, 2)

		done, err := s.FinalizeGame(ctx, &models.GameResult{GameID: g.ID, FinalGuess: 7, NumTurns: 2})
		require.NoError(t, err)
		require.NotNil(t, done.EndTime)

		got, err := s.GetGame(ctx, g.ID)
		require.NoError(t, err)
		require.NotNil(t, got.EndTime)
		require.NotNil(t, got.FinalGuess)
		require.NotNil(t, got.NumTurns)
		assert.Equal(t, 7, *got.FinalGuess)
		assert.Equal(t, 2, *got.NumTurns)
		assert.Equal(t, []models.Coord{{t1.PixelRow, t1.PixelCol}, {t2.PixelRow, t2.PixelCol}}, got.Trajectory)
		assert.Equal(t, []string{"thought", "thought"}, got.ThoughtTrajectory)
		assert.Equal(t, [][]float64{uniform(10), uniform(10)}, got.ProbabilityDistributionTrajectory)
		assert.Equal(t, 42, got.ImageIdx)
		assert.Equal(t, 7, got.TrueLabel)
	})

	t.Run("finalize is write once", func(t *testing.T) {
		s := newStore(t)
		g := createGame(t, s, "u1")

		_, err := s.FinalizeGame(ctx, &models.GameResult{GameID: g.ID, FinalGuess: 3, NumTurns: 0})
		require.NoError(t, err)
		first, err := s.GetGame(ctx, g.ID)
		require.NoError(t, err)

		_, err = s.FinalizeGame(ctx, &models.GameResult{GameID: g.ID, FinalGuess: 8, NumTurns: 5})
		require.ErrorIs(t, err, ErrGameFinalized)

		second, err := s.GetGame(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, *second.FinalGuess)
		assert.Equal(t, 0, *second.NumTurns)
		assert.True(t, first.EndTime.Equal(*second.EndTime))
	})

	t.Run("no turns after finalize", func(t *testing.T) {
		s := newStore(t)
		g := createGame(t, s, "u1")
		_, err := s.FinalizeGame(ctx, &models.GameResult{GameID: g.ID, FinalGuess: 1, NumTurns: 0})
		require.NoError(t, err)

		err = s.AppendTurn(ctx, &models.Turn{GameID: g.ID, TurnNumber: 1, ProbabilityDistribution: uniform(10)})
		require.ErrorIs(t, err, ErrGameFinalized)
	})

	t.Run("finalize unknown game", func(t *testing.T) {
		s := newStore(t)
		_, err := s.FinalizeGame(ctx, &models.GameResult{GameID: 4242, FinalGuess: 1, NumTurns: 1})
		require.ErrorIs(t, err, ErrGameNotFound)
		_, err = s.GetGame(ctx, 4242)
		require.ErrorIs(t, err, ErrGameNotFound)
	})

	t.Run("concurrent duplicate turns keep one row", func(t *testing.T) {
		s := newStore(t)
		g := createGame(t, s, "u1")

		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.AppendTurn(ctx, &models.Turn{GameID: g.ID, TurnNumber: 1, ProbabilityDistribution: uniform(10)})
			}()
		}
		wg.Wait()
		close(errs)

		ok := 0
		for err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, ErrTurnOutOfOrder)
		}
		assert.Equal(t, 1, ok)

		turns, err := s.ListTurns(ctx, g.ID)
		require.NoError(t, err)
		assert.Len(t, turns, 1)
	})
}
