package api

import (
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/wedecode/internal/catalog"
	"github.com/starford/wedecode/internal/models"
	"github.com/starford/wedecode/internal/service"
)

// Handler holds API route handlers.
type Handler struct {
	svc *service.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// wildcardPath extracts the output-relative path after the route prefix.
// Supports encoded slashes from OpenAPI clients (e.g. pages%2Findex.js).
func wildcardPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListRuns handles GET /api/runs.
//
//	@Summary		List recorded runs, newest first
//	@Tags			runs
//	@Produce		json
//	@Param			limit	query		int	false	"Max runs"
//	@Success		200		{object}	RunListResponse
//	@Security		BearerAuth
//	@Router			/runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.svc.Runs(r.Context(), limit)
	if err != nil {
		fail(w, "list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs": runs,
	})
}

// CreateRun handles POST /api/runs.
//
//	@Summary		Decompile a package on the server's file system
//	@Tags			runs
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateRunRequest	true	"Package to decompile"
//	@Success		201		{object}	RunResult
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	RunResult
//	@Security		BearerAuth
//	@Router			/runs [post]
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Input == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("input is required"))
		return
	}
	cfg := models.RunConfig{
		InputPath:  req.Input,
		OutputPath: req.Output,
		UsePx:      req.UsePx,
		UnpackOnly: req.UnpackOnly,
		AppID:      req.AppID,
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = h.svc.OutputFor(req.Input)
	}

	res, err := h.svc.Decompile(r.Context(), cfg)
	if err != nil {
		fail(w, "create run", err, slog.String("input", req.Input))
		return
	}
	status := http.StatusCreated
	if !res.Outcome.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

// GetRun handles GET /api/runs/{id}.
//
//	@Summary		Get a run and the files it produced
//	@Tags			runs
//	@Produce		json
//	@Param			id	path		string	true	"Run id or latest"
//	@Success		200	{object}	RunDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{id} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.svc.Run(r.Context(), id)
	if err != nil {
		fail(w, "get run", err, slog.String("run", id))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// DeleteRun handles DELETE /api/runs/{id}. The output tree is kept.
//
//	@Summary		Forget a recorded run
//	@Tags			runs
//	@Param			id	path	string	true	"Run id or latest"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{id} [delete]
func (h *Handler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteRun(r.Context(), id); err != nil {
		fail(w, "delete run", err, slog.String("run", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListModules handles GET /api/runs/{id}/modules.
//
//	@Summary		List the modules of a run with optional pagination
//	@Tags			modules
//	@Produce		json
//	@Param			id		path		string	true	"Run id or latest"
//	@Param			bundle	query		string	false	"Filter by bundle path"
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	ModuleListResponse
//	@Security		BearerAuth
//	@Router			/runs/{id}/modules [get]
func (h *Handler) ListModules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	mods, total, err := h.svc.Modules(r.Context(), catalog.ModuleFilter{
		RunID:  chi.URLParam(r, "id"),
		Bundle: q.Get("bundle"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		fail(w, "list modules", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"modules": mods,
		"total":   total,
	})
}

// GetModule handles GET /api/runs/{id}/modules/*.
//
//	@Summary		Get a module with its source and dependents
//	@Tags			modules
//	@Produce		json
//	@Param			id		path		string	true	"Run id or latest"
//	@Param			path	path		string	true	"Module output path"
//	@Success		200		{object}	ModuleDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{id}/modules/{path} [get]
func (h *Handler) GetModule(w http.ResponseWriter, r *http.Request) {
	p := wildcardPath(r)
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	m, err := h.svc.Module(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		fail(w, "get module", err, slog.String("path", p))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ServeFile handles GET /api/runs/{id}/files/*.
//
//	@Summary		Download a file from a run's output tree
//	@Tags			runs
//	@Produce		octet-stream
//	@Param			id		path	string	true	"Run id or latest"
//	@Param			path	path	string	true	"Output-relative path"
//	@Success		200
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{id}/files/{path} [get]
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request) {
	p := wildcardPath(r)
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	data, err := h.svc.ReadFile(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		fail(w, "serve file", err, slog.String("path", p))
		return
	}
	ct := mime.TypeByExtension(path.Ext(p))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Dependents handles GET /api/runs/{id}/dependents/*.
//
//	@Summary		List the modules that depend on a module
//	@Tags			modules
//	@Produce		json
//	@Param			id		path		string	true	"Run id or latest"
//	@Param			path	path		string	true	"Module output path"
//	@Success		200		{object}	DependentsResponse
//	@Security		BearerAuth
//	@Router			/runs/{id}/dependents/{path} [get]
func (h *Handler) Dependents(w http.ResponseWriter, r *http.Request) {
	p := wildcardPath(r)
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	deps, err := h.svc.Dependents(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		fail(w, "dependents", err, slog.String("path", p))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":       p,
		"dependents": deps,
	})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across the modules of a run
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			run		query		string	false	"Run id, defaults to the latest run"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), r.URL.Query().Get("run"), q, limit)
	if err != nil {
		fail(w, "search", err, slog.String("query", q))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
	})
}

// Graph handles GET /api/runs/{id}/graph.
//
//	@Summary		Get the module dependency graph of a run
//	@Tags			graph
//	@Produce		json
//	@Param			id	path		string	true	"Run id or latest"
//	@Success		200	{object}	GraphResponse
//	@Security		BearerAuth
//	@Router			/runs/{id}/graph [get]
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	nodes, links, err := h.svc.Graph(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, "graph", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes": nodes,
		"links": links,
	})
}
