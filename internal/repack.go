package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/starford/wedecode/internal/cipher"
	"github.com/starford/wedecode/internal/storage"
	"github.com/starford/wedecode/internal/wxapkg"
)

// RepackRequest describes one invocation of the repack mode.
type RepackRequest struct {
	Dir    string
	Output string
	// AppID seals the package for the desktop client when non-empty.
	AppID string
}

// Repack packs every file below req.Dir into a package at req.Output and
// returns the number of files packed. Entries are sorted by path.
func Repack(req RepackRequest) (int, error) {
	store, err := storage.NewFS(req.Dir)
	if err != nil {
		return 0, fmt.Errorf("repack: open %s: %w", req.Dir, err)
	}
	files, err := store.List("")
	if err != nil {
		return 0, fmt.Errorf("repack: list: %w", err)
	}

	entries := make([]wxapkg.Entry, 0, len(files))
	for _, f := range files {
		data, err := store.Read(f.Path)
		if err != nil {
			return 0, fmt.Errorf("repack: read %s: %w", f.Path, err)
		}
		entries = append(entries, wxapkg.Entry{Name: "/" + f.Path, Data: data})
	}

	out := wxapkg.Pack(0, entries)
	if req.AppID != "" {
		if out, err = cipher.Resolve(nil, req.AppID).Seal(out); err != nil {
			return 0, fmt.Errorf("repack: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return 0, fmt.Errorf("repack: create output dir: %w", err)
	}
	if err := os.WriteFile(req.Output, out, 0o644); err != nil {
		return 0, fmt.Errorf("repack: write: %w", err)
	}
	return len(entries), nil
}
