package decompiler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/wedecode/internal/apperr"
	"github.com/starford/wedecode/internal/wxapkg"
)

// FindPackages returns the package files directly inside dir, sorted.
func FindPackages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("decompiler: scan %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), wxapkg.Ext) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// ResolveInput maps an input path to a single package file. A directory must
// contain exactly one package.
func ResolveInput(p string) (string, error) {
	info, err := os.Stat(p)
	if err != nil {
		return "", fmt.Errorf("decompiler: stat input: %w", err)
	}
	if !info.IsDir() {
		return p, nil
	}
	pkgs, err := FindPackages(p)
	if err != nil {
		return "", err
	}
	switch len(pkgs) {
	case 0:
		return "", fmt.Errorf("decompiler: no %s file in %s: %w", wxapkg.Ext, p, apperr.ErrNotFound)
	case 1:
		return pkgs[0], nil
	default:
		return "", fmt.Errorf("decompiler: %d packages in %s, pass one file", len(pkgs), p)
	}
}
