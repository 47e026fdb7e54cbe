package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/wedecode/internal/service"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// inbox is the directory uploaded packages are saved to.
func NewRouter(svc *service.Service, authEnabled bool, token string, sseHandler http.Handler, inbox string) chi.Router {
	h := NewHandler(svc)
	uh := NewUploadHandler(svc, inbox)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Runs.
	r.Get("/runs", h.ListRuns)
	r.Post("/runs", h.CreateRun)
	r.Get("/runs/{id}", h.GetRun)
	r.Delete("/runs/{id}", h.DeleteRun)
	r.Get("/runs/{id}/modules", h.ListModules)
	r.Get("/runs/{id}/modules/*", h.GetModule)
	r.Get("/runs/{id}/files/*", h.ServeFile)
	r.Get("/runs/{id}/graph", h.Graph)
	r.Get("/runs/{id}/dependents/*", h.Dependents)

	// Search.
	r.Get("/search", h.Search)

	// Package upload (auth-protected).
	r.Post("/packages", uh.Upload)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
