package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/cors"
)

// RequestID makes sure every request carries an X-Request-ID, echoing it back
// so error bodies and logs can be correlated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// CORS allows the configured frontend origin. "*" opens the API to any origin.
func CORS(frontendURL string) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}
	if frontendURL == "" || frontendURL == "*" {
		opts.AllowOriginFunc = func(string) bool { return true }
	} else {
		opts.AllowedOrigins = []string{frontendURL}
	}
	opts.AllowCredentials = true
	return cors.New(opts).Handler
}
