package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"pixelguess-backend/internal/handlers"
	"pixelguess-backend/internal/middleware"
	"pixelguess-backend/internal/websocket"
)

func New(
	gameHandler *handlers.GameHandler,
	wsHub *websocket.Hub,
	startLimiter *middleware.RateLimiter,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		// ──── Game Routes ────
		r.Group(func(r chi.Router) {
			if startLimiter != nil {
				r.Use(startLimiter.Middleware)
			}
			r.Post("/start_game", gameHandler.StartGame)
		})
		r.Post("/record_turn", gameHandler.RecordTurn)
		r.Post("/end_game", gameHandler.EndGame)

		// ──── Read Routes ────
		r.Route("/games/{id}", func(r chi.Router) {
			r.Get("/", gameHandler.GetGame)
			r.Get("/turns", gameHandler.ListTurns)
			r.Get("/watch", wsHub.HandleWebSocket)
		})
	})

	return r
}
