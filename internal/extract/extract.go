// Package extract writes the files of a parsed container to the output tree,
// decrypting sealed entries and descending into nested containers.
package extract

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"path"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/starford/wedecode/internal/apperr"
	"github.com/starford/wedecode/internal/bundle"
	"github.com/starford/wedecode/internal/cipher"
	"github.com/starford/wedecode/internal/models"
	"github.com/starford/wedecode/internal/storage"
	"github.com/starford/wedecode/internal/wxapkg"
)

// Stage names the pipeline stage in issues raised by this package.
const Stage = "extract"

// DefaultMaxDepth bounds nested container recursion.
const DefaultMaxDepth = 4

// DefaultMaxNested bounds the number of nested containers one run expands.
const DefaultMaxNested = 256

// Options tunes an Extractor.
type Options struct {
	// Workers caps concurrent file writes. Zero means runtime.NumCPU().
	Workers int
	// MaxDepth is the deepest nesting level extracted; the top level is 0.
	MaxDepth int
	// MaxNested caps the nested containers expanded per run, at any depth.
	MaxNested int
	// Registrars are the loader names used to sniff script bundles.
	Registrars []string
}

// Result lists what one extraction wrote and what went wrong.
type Result struct {
	// Declared is the number of files in the top-level index.
	Declared int
	// Files are the written files sorted by path. Data is not retained.
	Files  []models.DecodedFile
	Issues []models.Issue
}

// Extractor writes container entries into a storage.Provider.
type Extractor struct {
	store  storage.Provider
	opts   Options
	logger *slog.Logger
}

// New creates an extractor writing into store.
func New(store storage.Provider, opts Options, logger *slog.Logger) *Extractor {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxNested <= 0 {
		opts.MaxNested = DefaultMaxNested
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{store: store, opts: opts, logger: logger}
}

type run struct {
	*Extractor
	strategy *cipher.Strategy

	mu     sync.Mutex
	seen     map[string]struct{} // output paths claimed so far, across all containers
	expanded int                 // nested containers opened so far
	files    []models.DecodedFile
	issues   []models.Issue
}

// digest identifies a container buffer on the current nesting chain.
type digest [sha256.Size]byte

// Extract writes every entry of a. Failures are recorded per file and never
// stop the remaining entries.
func (e *Extractor) Extract(ctx context.Context, a *wxapkg.Archive, strategy *cipher.Strategy) Result {
	r := &run{Extractor: e, strategy: strategy, seen: make(map[string]struct{}, len(a.Files))}
	r.archive(ctx, a, "", []digest{sha256.Sum256(a.Bytes())})

	sort.Slice(r.files, func(i, j int) bool { return r.files[i].Path < r.files[j].Path })
	return Result{Declared: len(a.Files), Files: r.files, Issues: r.issues}
}

type job struct {
	desc wxapkg.FileDescriptor
	path string
}

// archive extracts a under prefix. Entries are written concurrently.
// chain holds the digests of a and every container enclosing it; its
// length minus one is the nesting depth.
func (r *run) archive(ctx context.Context, a *wxapkg.Archive, prefix string, chain []digest) {
	jobs := make([]job, 0, len(a.Files))
	for _, d := range a.Files {
		rel, err := wxapkg.NormalizePath(d.Name)
		if err != nil {
			r.issue(path.Join(prefix, d.Name), err)
			continue
		}
		p := path.Join(prefix, rel)
		if !r.claim(p) {
			r.issue(p, fmt.Errorf("extract: duplicate entry %q skipped", d.Name))
			continue
		}
		jobs = append(jobs, job{desc: d, path: p})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for _, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				r.issue(j.path, err)
				return nil
			}
			r.entry(gctx, a, j, chain)
			return nil
		})
	}
	_ = g.Wait()
}

// claim reserves the output path p for one entry. It reports false when an
// earlier entry, in this or any other container of the run, holds p.
func (r *run) claim(p string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seen[p]; dup {
		return false
	}
	r.seen[p] = struct{}{}
	return true
}

func (r *run) entry(ctx context.Context, a *wxapkg.Archive, j job, chain []digest) {
	data := a.Body(j.desc)
	if j.desc.Encrypted {
		plain, err := r.strategy.Open(data)
		if err != nil {
			r.issue(j.path, err)
			return
		}
		data = plain
	}

	if wxapkg.HasMagic(data) {
		r.nested(ctx, j.path, data, chain)
		return
	}

	if err := r.store.Write(j.path, data); err != nil {
		r.logger.Warn("extract: write failed", slog.String("path", j.path), slog.String("error", err.Error()))
		r.issue(j.path, err)
		return
	}

	f := models.DecodedFile{
		Path:   j.path,
		Source: j.desc.Name,
		Offset: int64(j.desc.Offset),
		Length: int64(j.desc.Length),
		Kind:   r.kind(j.path, data),
	}
	r.logger.Debug("extract: wrote",
		slog.String("path", f.Path),
		slog.String("kind", string(f.Kind)),
		slog.String("size", humanize.Bytes(uint64(len(data)))),
	)
	r.mu.Lock()
	r.files = append(r.files, f)
	r.mu.Unlock()
}

// nested extracts an embedded container into the directory named after its
// entry path without the extension. A container identical to one enclosing
// it is not expanded again, and neither is any container past MaxNested.
func (r *run) nested(ctx context.Context, p string, data []byte, chain []digest) {
	depth := len(chain)
	if depth > r.opts.MaxDepth {
		r.issue(p, fmt.Errorf("extract: nested package at depth %d: %w", depth, apperr.ErrDepthExceeded))
		return
	}
	sum := digest(sha256.Sum256(data))
	if slices.Contains(chain, sum) {
		r.issue(p, fmt.Errorf("extract: nested package repeats an enclosing package: %w", apperr.ErrDepthExceeded))
		return
	}
	r.mu.Lock()
	over := r.expanded >= r.opts.MaxNested
	if !over {
		r.expanded++
	}
	r.mu.Unlock()
	if over {
		r.issue(p, fmt.Errorf("extract: more than %d nested packages: %w", r.opts.MaxNested, apperr.ErrDepthExceeded))
		return
	}

	sub, err := wxapkg.Read(data)
	if err != nil {
		r.issue(p, err)
		return
	}
	dir := NestedDir(p)
	r.logger.Info("extract: nested package",
		slog.String("path", p),
		slog.Int("files", len(sub.Files)),
		slog.Int("depth", depth),
	)
	r.archive(ctx, sub, dir, append(slices.Clip(chain), sum))
}

func (r *run) kind(p string, data []byte) models.Kind {
	k := models.KindFromPath(p)
	if k != models.KindScript || !strings.EqualFold(path.Ext(p), ".js") {
		return k
	}
	var opts []bundle.Option
	if len(r.opts.Registrars) > 0 {
		opts = append(opts, bundle.WithRegistrars(r.opts.Registrars...))
	}
	if bundle.IsBundle(string(data), opts...) {
		return models.KindBundle
	}
	return k
}

func (r *run) issue(p string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issues = append(r.issues, models.Issue{
		Path:    p,
		Stage:   Stage,
		Kind:    apperr.Kind(err),
		Message: err.Error(),
	})
}

// NestedDir returns the directory a nested container at p is extracted into.
func NestedDir(p string) string {
	if ext := path.Ext(p); ext != "" {
		return strings.TrimSuffix(p, ext)
	}
	return p
}
