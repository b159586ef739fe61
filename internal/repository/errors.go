package repository

import (
	"errors"
	"fmt"
)

var (
	ErrGameNotFound   = errors.New("game not found")
	ErrGameFinalized  = errors.New("game already finalized")
	ErrTurnOutOfOrder = errors.New("turn out of order")
)

// TurnOrderError reports the turn number the game expects next.
type TurnOrderError struct {
	Expected int
	Got      int
}

func (e *TurnOrderError) Error() string {
	return fmt.Sprintf("turn out of order: expected %d, got %d", e.Expected, e.Got)
}

func (e *TurnOrderError) Is(target error) bool { return target == ErrTurnOutOfOrder }

// checkNextTurn enforces 1-based, gap-free turn numbering.
func checkNextTurn(last, got int) error {
	if got != last+1 {
		return &TurnOrderError{Expected: last + 1, Got: got}
	}
	return nil
}
