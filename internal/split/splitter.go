// Package split materializes module trees recovered from script bundles.
package split

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/starford/wedecode/internal/apperr"
	"github.com/starford/wedecode/internal/bundle"
	"github.com/starford/wedecode/internal/models"
	"github.com/starford/wedecode/internal/resolve"
	"github.com/starford/wedecode/internal/storage"
)

// Stage names the pipeline stage in issues raised by this package.
const Stage = "split"

// Result is the outcome of splitting one bundle.
type Result struct {
	Tree     models.ModuleTree
	Manifest []models.ManifestEntry
	Issues   []models.Issue
}

// Splitter writes one file per module record. It is safe for concurrent use
// on different bundles; writes to the same path are serialized by the store.
type Splitter struct {
	store      storage.Provider
	resolver   *resolve.Resolver
	units      Units
	parserOpts []bundle.Option
	logger     *slog.Logger
}

// New creates a splitter writing into store.
func New(store storage.Provider, resolver *resolve.Resolver, units Units, logger *slog.Logger, opts ...bundle.Option) *Splitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Splitter{store: store, resolver: resolver, units: units, parserOpts: opts, logger: logger}
}

// SplitFile splits the bundle stored at p and removes it once every module
// was written. A file without registrations is left untouched and yields an
// empty result.
func (s *Splitter) SplitFile(ctx context.Context, p string, usePx bool) (Result, error) {
	data, err := s.store.Read(p)
	if err != nil {
		return Result{}, fmt.Errorf("split: read %s: %w", p, err)
	}
	res := s.Split(ctx, p, string(data), usePx)
	if len(res.Tree.Modules) == 0 || hasWriteIssue(res.Issues) {
		return res, nil
	}
	if err := s.store.Delete(p); err != nil {
		res.Issues = append(res.Issues, models.Issue{
			Path: p, Stage: Stage, Kind: apperr.Kind(apperr.ErrWrite),
			Message: fmt.Sprintf("remove bundle: %v", err),
		})
	}
	return res, nil
}

// SplitMarkup splits the inline script bundles of the markup file at p into
// a directory next to it. The markup file is kept.
func (s *Splitter) SplitMarkup(ctx context.Context, p string, usePx bool) (Result, error) {
	data, err := s.store.Read(p)
	if err != nil {
		return Result{}, fmt.Errorf("split: read %s: %w", p, err)
	}
	src, err := InlineScripts(data, s.parserOpts...)
	if err != nil {
		return Result{Issues: []models.Issue{{Path: p, Stage: Stage, Kind: apperr.Kind(err), Message: err.Error()}}}, nil
	}
	if src == "" {
		return Result{}, nil
	}
	return s.Split(ctx, p, src, usePx), nil
}

// Split parses src as the bundle at bundlePath and writes its modules.
func (s *Splitter) Split(ctx context.Context, bundlePath, src string, usePx bool) Result {
	var res Result

	p := bundle.NewParser(src, s.parserOpts...)
	var records []models.ModuleRecord
	for rec := range p.All() {
		records = append(records, rec)
	}
	for _, w := range p.Warnings() {
		res.Issues = append(res.Issues, models.Issue{
			Path: bundlePath, Stage: Stage, Kind: apperr.Kind(w), Message: w.Error(),
		})
	}
	if len(records) == 0 {
		return res
	}

	res.Tree = s.resolver.Resolve(bundlePath, records)
	var total int
	for _, m := range res.Tree.Modules {
		if ctx.Err() != nil {
			res.Issues = append(res.Issues, models.Issue{
				Path: m.Path, Stage: Stage, Kind: apperr.Kind(apperr.ErrWrite), Message: ctx.Err().Error(),
			})
			continue
		}
		body := m.Record.Body
		if usePx {
			body, _ = s.units.Rewrite(body, bundle.LangScript)
		}
		if err := s.store.Write(m.Path, []byte(body)); err != nil {
			s.logger.Warn("split: write failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			res.Issues = append(res.Issues, models.Issue{
				Path: m.Path, Stage: Stage, Kind: apperr.Kind(err), Message: err.Error(),
			})
			continue
		}
		total += len(body)
		res.Manifest = append(res.Manifest, models.ManifestEntry{
			Bundle:   bundlePath,
			Path:     m.Path,
			ModuleID: m.Record.ID,
			Size:     len(body),
			Entry:    m.Path == res.Tree.Entry,
			Deps:     m.Record.Deps,
		})
	}
	sort.Slice(res.Manifest, func(i, j int) bool { return res.Manifest[i].Path < res.Manifest[j].Path })

	s.logger.Info("split: bundle",
		slog.String("bundle", bundlePath),
		slog.Int("modules", len(res.Manifest)),
		slog.String("size", humanize.Bytes(uint64(total))),
		slog.String("entry", res.Tree.Entry),
	)
	return res
}

// RewriteStyle applies the unit rewrite to the style file at p in place.
func (s *Splitter) RewriteStyle(p string) (int, error) {
	data, err := s.store.Read(p)
	if err != nil {
		return 0, fmt.Errorf("split: read %s: %w", p, err)
	}
	out, n := s.units.Rewrite(string(data), bundle.LangStyle)
	if n == 0 {
		return 0, nil
	}
	if err := s.store.Write(p, []byte(out)); err != nil {
		return 0, err
	}
	return n, nil
}

// IsMarkupBundleCandidate reports whether p is an HTML page that may carry
// inline bundles.
func IsMarkupBundleCandidate(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	return ext == ".html" || ext == ".htm"
}

func hasWriteIssue(issues []models.Issue) bool {
	for _, is := range issues {
		if is.Kind == apperr.Kind(apperr.ErrWrite) {
			return true
		}
	}
	return false
}
