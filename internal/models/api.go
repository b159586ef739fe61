package models

type StartGameRequest struct {
	UserID string `json:"user_id"`
}

type StartGameResponse struct {
	GameID   int64       `json:"game_id"`
	ImageIdx int         `json:"image_idx"`
	Image    [][]float64 `json:"image"`
	Label    *int        `json:"label,omitempty"` // withheld when label exposure is disabled
}

type RecordTurnRequest struct {
	GameID                  int64     `json:"game_id"`
	TurnNumber              int       `json:"turn_number"`
	PixelRow                int       `json:"pixel_row"`
	PixelCol                int       `json:"pixel_col"`
	ProbabilityDistribution []float64 `json:"probability_distribution"`
	ThoughtProcess          string    `json:"thought_process"`
}

type EndGameRequest struct {
	GameID                            int64       `json:"game_id"`
	FinalGuess                        int         `json:"final_guess"`
	NumTurns                          int         `json:"num_turns"`
	Trajectory                        []Coord     `json:"trajectory"`
	ThoughtTrajectory                 []string    `json:"thought_trajectory"`
	ProbabilityDistributionTrajectory [][]float64 `json:"probability_distribution_trajectory"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

// GameEvent is pushed to spectators after a turn or the end of a game is committed.
type GameEvent struct {
	Type   string `json:"type"` // "turn_recorded" | "game_ended"
	GameID int64  `json:"game_id"`
	Turn   *Turn  `json:"turn,omitempty"`

	FinalGuess *int `json:"final_guess,omitempty"`
	NumTurns   *int `json:"num_turns,omitempty"`
}

const (
	EventTurnRecorded = "turn_recorded"
	EventGameEnded    = "game_ended"
)

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
