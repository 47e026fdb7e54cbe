package api

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/wedecode/internal/service"
	"github.com/starford/wedecode/internal/wxapkg"
)

const maxUploadBytes = 256 << 20 // 256 MB

// UploadHandler accepts package uploads and decompiles them.
type UploadHandler struct {
	svc   *service.Service
	inbox string
}

// NewUploadHandler creates a handler that saves packages under inbox.
func NewUploadHandler(svc *service.Service, inbox string) *UploadHandler {
	return &UploadHandler{svc: svc, inbox: inbox}
}

// safeName validates that the filename is a plain package name (no path
// separators, no traversal) and returns the absolute path under the inbox.
func (h *UploadHandler) safeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid filename: %s", name)
	}
	if !strings.EqualFold(filepath.Ext(cleaned), wxapkg.Ext) {
		return "", fmt.Errorf("filename must end in %s", wxapkg.Ext)
	}
	abs := filepath.Join(h.inbox, cleaned)
	if !strings.HasPrefix(abs, filepath.Clean(h.inbox)+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes upload directory")
	}
	return abs, nil
}

// Upload handles POST /api/packages (multipart/form-data, field "file").
//
//	@Summary		Upload a package and decompile it
//	@Tags			runs
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"Package file"
//	@Success		201		{object}	UploadResponse
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	UploadResponse
//	@Security		BearerAuth
//	@Router			/packages [post]
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	abs, err := h.safeName(header.Filename)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	if err := os.MkdirAll(h.inbox, 0o755); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to create upload dir"))
		return
	}

	dst, err := os.Create(abs)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to create file"))
		return
	}
	written, err := io.Copy(dst, file)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to write file"))
		return
	}

	res, err := h.svc.DecompileFile(r.Context(), abs)
	if err != nil {
		fail(w, "upload decompile", err, slog.String("path", abs))
		return
	}
	status := http.StatusCreated
	if !res.Outcome.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, UploadResponse{
		Filename: header.Filename,
		Size:     written,
		Result:   *res,
	})
}
