package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"pixelguess-backend/internal/dataset"
	"pixelguess-backend/internal/lock"
	"pixelguess-backend/internal/models"
	"pixelguess-backend/internal/repository"
)

// ImageProvider supplies secret images; *dataset.Collection implements it.
type ImageProvider interface {
	Pick() (int, dataset.Image)
	Resolution() int
	NumClasses() int
}

type gameRepository interface {
	CreateGame(ctx context.Context, g *models.Game) error
	AppendTurn(ctx context.Context, t *models.Turn) error
	FinalizeGame(ctx context.Context, res *models.GameResult) (*models.Game, error)
	GetGame(ctx context.Context, id int64) (*models.Game, error)
	ListTurns(ctx context.Context, gameID int64) ([]*models.Turn, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, event models.GameEvent) error
}

type GameOptions struct {
	// ExposeLabel returns the secret label from Start. The client is trusted
	// not to use it; disable to keep the label server-side until the game ends.
	ExposeLabel bool
	// StrictValidation checks turn bounds/shape and cross-checks End against
	// the recorded turns. Off by default: callers are trusted.
	StrictValidation bool
	// LockWait bounds how long RecordTurn/End wait for another request on the same game.
	LockWait time.Duration
}

type GameService struct {
	images ImageProvider
	repo   gameRepository
	locker lock.Locker
	events eventPublisher
	opts   GameOptions
}

// NewGameService wires the service. images may be nil when the dataset failed
// to load; Start then reports DATA_UNAVAILABLE. events may be nil.
func NewGameService(images ImageProvider, repo gameRepository, locker lock.Locker, events eventPublisher, opts GameOptions) *GameService {
	if opts.LockWait <= 0 {
		opts.LockWait = 5 * time.Second
	}
	return &GameService{
		images: images,
		repo:   repo,
		locker: locker,
		events: events,
		opts:   opts,
	}
}

func (s *GameService) Start(ctx context.Context, userID string) (*models.StartGameResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &ValidationError{Fields: map[string]string{"user_id": "user_id is required"}}
	}
	if s.images == nil {
		return nil, &UnavailableError{Code: CodeDataUnavailable, Message: "Image data is unavailable"}
	}

	idx, img := s.images.Pick()
	game := &models.Game{
		UserID:    userID,
		ImageIdx:  idx,
		TrueLabel: img.Label,
	}
	if err := s.repo.CreateGame(ctx, game); err != nil {
		return nil, translateStoreError(0, err)
	}

	resp := &models.StartGameResponse{
		GameID:   game.ID,
		ImageIdx: idx,
		Image:    img.Pixels,
	}
	if s.opts.ExposeLabel {
		label := img.Label
		resp.Label = &label
	}
	return resp, nil
}

func (s *GameService) RecordTurn(ctx context.Context, req models.RecordTurnRequest) error {
	if s.opts.StrictValidation {
		if err := s.validateTurn(req); err != nil {
			return err
		}
	}

	turn := &models.Turn{
		GameID:                  req.GameID,
		TurnNumber:              req.TurnNumber,
		PixelRow:                req.PixelRow,
		PixelCol:                req.PixelCol,
		ProbabilityDistribution: req.ProbabilityDistribution,
		ThoughtProcess:          req.ThoughtProcess,
	}
	err := s.withGameLock(ctx, req.GameID, func() error {
		if err := s.repo.AppendTurn(ctx, turn); err != nil {
			return translateStoreError(req.GameID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, models.GameEvent{Type: models.EventTurnRecorded, GameID: turn.GameID, Turn: turn})
	return nil
}

// End finalizes a game once. The stored trajectory is rebuilt from the
// recorded turns; the trajectories in req are only compared in strict mode.
func (s *GameService) End(ctx context.Context, req models.EndGameRequest) error {
	var game *models.Game
	err := s.withGameLock(ctx, req.GameID, func() error {
		if s.opts.StrictValidation {
			if err := s.crossCheckEnd(ctx, req); err != nil {
				return err
			}
		}

		var err error
		game, err = s.repo.FinalizeGame(ctx, &models.GameResult{
			GameID:     req.GameID,
			FinalGuess: req.FinalGuess,
			NumTurns:   req.NumTurns,
		})
		if err != nil {
			return translateStoreError(req.GameID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, models.GameEvent{
		Type:       models.EventGameEnded,
		GameID:     game.ID,
		FinalGuess: game.FinalGuess,
		NumTurns:   game.NumTurns,
	})
	return nil
}

// crossCheckEnd compares an end request with the stored game. An already
// finalized game is reported as such before its data is compared.
func (s *GameService) crossCheckEnd(ctx context.Context, req models.EndGameRequest) error {
	game, err := s.repo.GetGame(ctx, req.GameID)
	if err != nil {
		return translateStoreError(req.GameID, err)
	}
	if game.Finalized() {
		return translateStoreError(req.GameID, repository.ErrGameFinalized)
	}

	turns, err := s.repo.ListTurns(ctx, req.GameID)
	if err != nil {
		return translateStoreError(req.GameID, err)
	}
	return s.validateEnd(req, turns)
}

func (s *GameService) GetGame(ctx context.Context, id int64) (*models.GameView, error) {
	game, err := s.repo.GetGame(ctx, id)
	if err != nil {
		return nil, translateStoreError(id, err)
	}

	view := &models.GameView{Game: game}
	if s.opts.ExposeLabel || game.Finalized() {
		label := game.TrueLabel
		view.TrueLabel = &label
	}
	return view, nil
}

func (s *GameService) ListTurns(ctx context.Context, gameID int64) ([]*models.Turn, error) {
	turns, err := s.repo.ListTurns(ctx, gameID)
	if err != nil {
		return nil, translateStoreError(gameID, err)
	}
	return turns, nil
}

// withGameLock runs fn while holding the game's lock. Slow follow-up work such
// as publishing belongs after it returns.
func (s *GameService) withGameLock(ctx context.Context, gameID int64, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.opts.LockWait)
	defer cancel()

	release, err := s.locker.Lock(lockCtx, lock.GameKey(gameID))
	if err != nil {
		return translateLockError(gameID, err)
	}
	defer release()

	return fn()
}

// publish runs after commit and after the game lock is released; a failed
// publish never fails the operation.
func (s *GameService) publish(ctx context.Context, event models.GameEvent) {
	if s.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.events.Publish(ctx, event); err != nil {
		log.Printf("Failed to publish %s for game %d: %v", event.Type, event.GameID, err)
	}
}

const distributionSumTolerance = 1e-3

func (s *GameService) validateTurn(req models.RecordTurnRequest) error {
	fields := make(map[string]string)

	if req.TurnNumber < 1 {
		fields["turn_number"] = "turn_number must be at least 1"
	}
	if s.images != nil {
		res := s.images.Resolution()
		if req.PixelRow < 0 || req.PixelRow >= res {
			fields["pixel_row"] = fmt.Sprintf("pixel_row must be in [0, %d)", res)
		}
		if req.PixelCol < 0 || req.PixelCol >= res {
			fields["pixel_col"] = fmt.Sprintf("pixel_col must be in [0, %d)", res)
		}
		if n := s.images.NumClasses(); len(req.ProbabilityDistribution) != n {
			fields["probability_distribution"] = fmt.Sprintf("probability_distribution must have %d entries", n)
		}
	}
	if _, ok := fields["probability_distribution"]; !ok {
		if msg := checkDistribution(req.ProbabilityDistribution); msg != "" {
			fields["probability_distribution"] = msg
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func checkDistribution(dist []float64) string {
	if len(dist) == 0 {
		return "probability_distribution is required"
	}
	sum := 0.0
	for _, p := range dist {
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return "probability_distribution entries must be non-negative numbers"
		}
		sum += p
	}
	if math.Abs(sum-1) > distributionSumTolerance {
		return "probability_distribution must sum to 1"
	}
	return ""
}

func (s *GameService) validateEnd(req models.EndGameRequest, turns []*models.Turn) error {
	fields := make(map[string]string)

	if req.NumTurns != len(turns) {
		fields["num_turns"] = fmt.Sprintf("num_turns must equal the %d recorded turns", len(turns))
	}
	if s.images != nil {
		if n := s.images.NumClasses(); req.FinalGuess < 0 || req.FinalGuess >= n {
			fields["final_guess"] = fmt.Sprintf("final_guess must be in [0, %d)", n)
		}
	}
	if !trajectoryMatches(req, turns) {
		fields["trajectory"] = "trajectories must match the recorded turns"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func trajectoryMatches(req models.EndGameRequest, turns []*models.Turn) bool {
	if len(req.Trajectory) != len(turns) ||
		len(req.ThoughtTrajectory) != len(turns) ||
		len(req.ProbabilityDistributionTrajectory) != len(turns) {
		return false
	}
	for i, t := range turns {
		if req.Trajectory[i] != (models.Coord{t.PixelRow, t.PixelCol}) {
			return false
		}
		if req.ThoughtTrajectory[i] != t.ThoughtProcess {
			return false
		}
		dist := req.ProbabilityDistributionTrajectory[i]
		if len(dist) != len(t.ProbabilityDistribution) {
			return false
		}
		for j := range dist {
			if dist[j] != t.ProbabilityDistribution[j] {
				return false
			}
		}
	}
	return true
}
