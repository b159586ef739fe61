package services

import (
	"errors"
	"fmt"

	"pixelguess-backend/internal/lock"
	"pixelguess-backend/internal/repository"
)

// Custom errors
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type ConflictError struct {
	Code    string
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

// UnavailableError means a backing dependency (image data or the store) failed.
type UnavailableError struct {
	Code    string
	Message string
	Err     error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *UnavailableError) Unwrap() error { return e.Err }

const (
	CodeDataUnavailable  = "DATA_UNAVAILABLE"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeTurnOutOfOrder   = "TURN_OUT_OF_ORDER"
	CodeSessionFinalized = "SESSION_FINALIZED"
	CodeSessionBusy      = "SESSION_BUSY"
)

// translateStoreError maps repository failures onto the service error taxonomy.
func translateStoreError(gameID int64, err error) error {
	var orderErr *repository.TurnOrderError
	switch {
	case errors.Is(err, repository.ErrGameNotFound):
		return &NotFoundError{Message: fmt.Sprintf("Game %d not found", gameID)}
	case errors.As(err, &orderErr):
		return &ConflictError{Code: CodeTurnOutOfOrder, Message: fmt.Sprintf("Expected turn %d, got %d", orderErr.Expected, orderErr.Got)}
	case errors.Is(err, repository.ErrTurnOutOfOrder):
		return &ConflictError{Code: CodeTurnOutOfOrder, Message: "Turn number already recorded"}
	case errors.Is(err, repository.ErrGameFinalized):
		return &ConflictError{Code: CodeSessionFinalized, Message: fmt.Sprintf("Game %d has already ended", gameID)}
	default:
		return &UnavailableError{Code: CodeStoreUnavailable, Message: "Game store unavailable", Err: err}
	}
}

func translateLockError(gameID int64, err error) error {
	if errors.Is(err, lock.ErrLockTimeout) {
		return &ConflictError{Code: CodeSessionBusy, Message: fmt.Sprintf("Game %d is busy, retry later", gameID)}
	}
	return &UnavailableError{Code: CodeStoreUnavailable, Message: "Game lock unavailable", Err: err}
}
