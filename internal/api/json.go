package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/wedecode/internal/apperr"
)

// maxJSONBody caps request bodies decoded by decodeJSON.
const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
	Kind  string `json:"kind,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// decodeJSON reads a single JSON object into v. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// fail writes the response for a service error. Lookups that miss map to
// 404; everything else is logged and hidden behind a 500.
func fail(w http.ResponseWriter, op string, err error, attrs ...any) {
	if errors.Is(err, apperr.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errResponse{Error: "not found", Kind: apperr.Kind(err)})
		return
	}
	slog.Error(op+" failed", append(attrs, slog.String("error", err.Error()))...)
	writeJSON(w, http.StatusInternalServerError, errResponse{Error: "internal error", Kind: apperr.Kind(err)})
}
