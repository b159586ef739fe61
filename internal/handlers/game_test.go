package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"pixelguess-backend/internal/models"
	"pixelguess-backend/internal/services"
)

type stubGameService struct {
	startResp *models.StartGameResponse
	err       error
	lastUser  string
	lastTurn  models.RecordTurnRequest
	lastEnd   models.EndGameRequest
	game      *models.GameView
	turns     []*models.Turn
}

func (s *stubGameService) Start(ctx context.Context, userID string) (*models.StartGameResponse, error) {
	s.lastUser = userID
	return s.startResp, s.err
}

func (s *stubGameService) RecordTurn(ctx context.Context, req models.RecordTurnRequest) error {
	s.lastTurn = req
	return s.err
}

func (s *stubGameService) End(ctx context.Context, req models.EndGameRequest) error {
	s.lastEnd = req
	return s.err
}

func (s *stubGameService) GetGame(ctx context.Context, id int64) (*models.GameView, error) {
	return s.game, s.err
}

func (s *stubGameService) ListTurns(ctx context.Context, gameID int64) ([]*models.Turn, error) {
	return s.turns, s.err
}

func postJSON(t *testing.T, handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-1")
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.APIError {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp.Error
}

func TestGameHandler_StartGame(t *testing.T) {
	label := 7
	svc := &stubGameService{startResp: &models.StartGameResponse{
		GameID:   1,
		ImageIdx: 42,
		Image:    [][]float64{{0, 0.5}, {1, 0}},
		Label:    &label,
	}}
	h := NewGameHandler(svc)

	rr := postJSON(t, h.StartGame, "/api/start_game", `{"user_id":"u1"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if svc.lastUser != "u1" {
		t.Fatalf("expected user u1, got %q", svc.lastUser)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	for _, key := range []string{"game_id", "image_idx", "image", "label"} {
		if _, ok := body[key]; !ok {
			t.Errorf("response missing %q: %v", key, body)
		}
	}
	if body["game_id"] != float64(1) || body["label"] != float64(7) {
		t.Fatalf("unexpected response: %v", body)
	}
}

func TestGameHandler_StartGame_OmitsHiddenLabel(t *testing.T) {
	svc := &stubGameService{startResp: &models.StartGameResponse{GameID: 2, ImageIdx: 1, Image: [][]float64{{0}}}}
	h := NewGameHandler(svc)

	rr := postJSON(t, h.StartGame, "/api/start_game", `{"user_id":"u1"}`)

	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, ok := body["label"]; ok {
		t.Fatalf("label should be omitted, got %v", body)
	}
}

func TestGameHandler_InvalidBody(t *testing.T) {
	h := NewGameHandler(&stubGameService{})

	handlers := map[string]http.HandlerFunc{
		"start":  h.StartGame,
		"record": h.RecordTurn,
		"end":    h.EndGame,
	}
	for name, handler := range handlers {
		t.Run(name, func(t *testing.T) {
			rr := postJSON(t, handler, "/api/"+name, `{not json`)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
			}
			if e := decodeError(t, rr); e.Code != "VALIDATION_ERROR" || e.RequestID != "req-1" {
				t.Fatalf("unexpected error: %+v", e)
			}
		})
	}
}

func TestGameHandler_RecordTurn_DecodesSnakeCase(t *testing.T) {
	svc := &stubGameService{}
	h := NewGameHandler(svc)

	body := `{"game_id":1,"turn_number":1,"pixel_row":3,"pixel_col":4,` +
		`"probability_distribution":[0.1,0.9],"thought_process":"corner looks empty"}`
	rr := postJSON(t, h.RecordTurn, "/api/record_turn", body)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if rr.Body.String() != "{\"success\":true}\n" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
	got := svc.lastTurn
	if got.GameID != 1 || got.TurnNumber != 1 || got.PixelRow != 3 || got.PixelCol != 4 ||
		len(got.ProbabilityDistribution) != 2 || got.ThoughtProcess != "corner looks empty" {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestGameHandler_EndGame_DecodesTrajectory(t *testing.T) {
	svc := &stubGameService{}
	h := NewGameHandler(svc)

	body := `{"game_id":1,"final_guess":7,"num_turns":2,"trajectory":[[3,4],[5,6]],` +
		`"thought_trajectory":["a","b"],"probability_distribution_trajectory":[[1],[1]]}`
	rr := postJSON(t, h.EndGame, "/api/end_game", body)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	got := svc.lastEnd
	if got.FinalGuess != 7 || got.NumTurns != 2 || len(got.Trajectory) != 2 || got.Trajectory[1] != (models.Coord{5, 6}) {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestGameHandler_ServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &services.ValidationError{Fields: map[string]string{"user_id": "required"}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown session", &services.NotFoundError{Message: "Game 9 not found"}, http.StatusNotFound, "UNKNOWN_SESSION"},
		{"out of order", &services.ConflictError{Code: services.CodeTurnOutOfOrder, Message: "Expected turn 1, got 2"}, http.StatusConflict, services.CodeTurnOutOfOrder},
		{"finalized", &services.ConflictError{Code: services.CodeSessionFinalized, Message: "ended"}, http.StatusConflict, services.CodeSessionFinalized},
		{"data unavailable", &services.UnavailableError{Code: services.CodeDataUnavailable, Message: "no data"}, http.StatusServiceUnavailable, services.CodeDataUnavailable},
		{"store unavailable", &services.UnavailableError{Code: services.CodeStoreUnavailable, Message: "down", Err: errors.New("dial tcp")}, http.StatusServiceUnavailable, services.CodeStoreUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewGameHandler(&stubGameService{err: tc.err})
			rr := postJSON(t, h.RecordTurn, "/api/record_turn", `{"game_id":9,"turn_number":1}`)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			if e := decodeError(t, rr); e.Code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, e.Code)
			}
		})
	}
}

func withGameID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestGameHandler_GetGame(t *testing.T) {
	label := 7
	guess := 7
	svc := &stubGameService{game: &models.GameView{
		Game:      &models.Game{ID: 1, UserID: "u1", TrueLabel: 7, FinalGuess: &guess},
		TrueLabel: &label,
	}}
	h := NewGameHandler(svc)

	req := withGameID(httptest.NewRequest(http.MethodGet, "/api/games/1", nil), "1")
	rr := httptest.NewRecorder()
	h.GetGame(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["game_id"] != float64(1) || body["true_label"] != float64(7) || body["final_guess"] != float64(7) {
		t.Fatalf("unexpected response: %v", body)
	}
}

func TestGameHandler_GetGame_HiddenLabelIsNull(t *testing.T) {
	svc := &stubGameService{game: &models.GameView{Game: &models.Game{ID: 1, TrueLabel: 7}}}
	h := NewGameHandler(svc)

	req := withGameID(httptest.NewRequest(http.MethodGet, "/api/games/1", nil), "1")
	rr := httptest.NewRecorder()
	h.GetGame(rr, req)

	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if v, ok := body["true_label"]; !ok || v != nil {
		t.Fatalf("expected true_label null, got %v", body["true_label"])
	}
}

func TestGameHandler_BadGameID(t *testing.T) {
	h := NewGameHandler(&stubGameService{})

	for _, id := range []string{"abc", "0", "-3"} {
		req := withGameID(httptest.NewRequest(http.MethodGet, "/api/games/"+id+"/turns", nil), id)
		rr := httptest.NewRecorder()
		h.ListTurns(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("id %q: expected status %d, got %d", id, http.StatusBadRequest, rr.Code)
		}
	}
}

func TestGameHandler_ListTurns_EmptyIsArray(t *testing.T) {
	h := NewGameHandler(&stubGameService{})

	req := withGameID(httptest.NewRequest(http.MethodGet, "/api/games/1/turns", nil), "1")
	rr := httptest.NewRecorder()
	h.ListTurns(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if rr.Body.String() != "{\"turns\":[]}\n" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestGameHandler_RejectsOversizedBody(t *testing.T) {
	svc := &stubGameService{}
	h := NewGameHandler(svc)

	body := `{"game_id":1,"turn_number":1,"thought_process":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	rr := postJSON(t, h.RecordTurn, "/api/record_turn", body)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, rr.Code)
	}
	if e := decodeError(t, rr); e.Code != "PAYLOAD_TOO_LARGE" {
		t.Fatalf("unexpected error: %+v", e)
	}
	if svc.lastTurn.GameID != 0 {
		t.Fatal("service should not be called for an oversized body")
	}
}
