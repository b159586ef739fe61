package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pixelguess-backend/internal/models"
)

type GameHandler struct {
	games gameService
}

type gameService interface {
	Start(ctx context.Context, userID string) (*models.StartGameResponse, error)
	RecordTurn(ctx context.Context, req models.RecordTurnRequest) error
	End(ctx context.Context, req models.EndGameRequest) error
	GetGame(ctx context.Context, id int64) (*models.GameView, error)
	ListTurns(ctx context.Context, gameID int64) ([]*models.Turn, error)
}

func NewGameHandler(games gameService) *GameHandler {
	return &GameHandler{games: games}
}

// StartGame handles POST /api/start_game
func (h *GameHandler) StartGame(w http.ResponseWriter, r *http.Request) {
	var req models.StartGameRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := h.games.Start(r.Context(), req.UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// RecordTurn handles POST /api/record_turn
func (h *GameHandler) RecordTurn(w http.ResponseWriter, r *http.Request) {
	var req models.RecordTurnRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.games.RecordTurn(r.Context(), req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.SuccessResponse{Success: true})
}

// EndGame handles POST /api/end_game
func (h *GameHandler) EndGame(w http.ResponseWriter, r *http.Request) {
	var req models.EndGameRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.games.End(r.Context(), req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.SuccessResponse{Success: true})
}

func (h *GameHandler) GetGame(w http.ResponseWriter, r *http.Request) {
	id, ok := gameIDParam(w, r)
	if !ok {
		return
	}

	game, err := h.games.GetGame(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, game)
}

func (h *GameHandler) ListTurns(w http.ResponseWriter, r *http.Request) {
	id, ok := gameIDParam(w, r)
	if !ok {
		return
	}

	turns, err := h.games.ListTurns(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if turns == nil {
		turns = []*models.Turn{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"turns": turns})
}

// maxBodyBytes bounds request bodies; a full end_game payload is far below it.
const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("PAYLOAD_TOO_LARGE", "Request body too large", r))
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return false
	}
	return true
}

func gameIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid game ID", r))
		return 0, false
	}
	return id, true
}
