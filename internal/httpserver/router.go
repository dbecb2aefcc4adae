package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hfdash/internal/middleware"
)

type RouterDeps struct {
	Logger  *slog.Logger
	API     *API
	Limiter *middleware.ClientLimiter
}

// NewRouter собирает chi-роутер с общими middleware. Маршруты /api
// дополнительно ограничены по частоте, если задан Limiter.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(deps.Logger))
	r.Use(middleware.Logging(deps.Logger))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Route("/api", func(r chi.Router) {
		if deps.Limiter != nil {
			r.Use(middleware.RateLimit(deps.Limiter))
		}
		deps.API.Routes(r)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteJSONError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return r
}
