package models

import "time"

// Coord is a (row, col) pixel position. It encodes as a two-element JSON array.
type Coord [2]int

func (c Coord) Row() int { return c[0] }
func (c Coord) Col() int { return c[1] }

// Game is one play-through, from secret image selection to the final guess.
type Game struct {
	ID        int64      `json:"game_id"`
	UserID    string     `json:"user_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	ImageIdx  int        `json:"image_idx"`
	TrueLabel int        `json:"true_label"`

	FinalGuess *int `json:"final_guess"`
	NumTurns   *int `json:"num_turns"`

	// Derived from the turn rows when the game is finalized.
	Trajectory                        []Coord     `json:"trajectory"`
	ThoughtTrajectory                 []string    `json:"thought_trajectory"`
	ProbabilityDistributionTrajectory [][]float64 `json:"probability_distribution_trajectory"`
}

func (g *Game) Finalized() bool { return g.EndTime != nil }

// GameView is the client-facing game. TrueLabel shadows Game.TrueLabel so it
// can be withheld (null) until the game ends.
type GameView struct {
	*Game
	TrueLabel *int `json:"true_label"`
}

// Turn is one pixel disclosure within a game.
type Turn struct {
	ID                      int64     `json:"id"`
	GameID                  int64     `json:"game_id"`
	TurnNumber              int       `json:"turn_number"`
	PixelRow                int       `json:"pixel_row"`
	PixelCol                int       `json:"pixel_col"`
	ProbabilityDistribution []float64 `json:"probability_distribution"`
	ThoughtProcess          string    `json:"thought_process"`
}

// GameResult carries the write-once finalize fields.
type GameResult struct {
	GameID     int64
	FinalGuess int
	NumTurns   int
}
