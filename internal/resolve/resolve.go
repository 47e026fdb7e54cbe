// Package resolve maps module ids recovered from a bundle to output paths.
package resolve

import (
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/starford/wedecode/internal/models"
)

// Rule rewrites the part of an id matched by Pattern with Replace.
type Rule struct {
	Pattern *regexp.Regexp
	Replace string
}

// Policy holds the resolution constants. The zero value is not useful; start
// from DefaultPolicy.
type Policy struct {
	// Strip removes non-semantic suffixes, applied in order.
	Strip []Rule
	// Separator joins a colliding path's base name and its counter.
	Separator string
	// EntryIDs are conventional entry module ids, compared after normalization.
	EntryIDs []string
}

// DefaultPolicy returns the policy used by mini-program bundles.
func DefaultPolicy() Policy {
	return Policy{
		Strip: []Rule{
			{Pattern: regexp.MustCompile(`\?.*$`)},
			{Pattern: regexp.MustCompile(`#.*$`)},
			{Pattern: regexp.MustCompile(`\.[0-9a-f]{8,}(\.js)?$`), Replace: "$1"},
		},
		Separator: "_",
		EntryIDs:  []string{"app.js", "game.js"},
	}
}

// Resolver applies a Policy. It holds no per-bundle state and is safe for
// concurrent use.
type Resolver struct {
	policy Policy
}

// New returns a resolver for p.
func New(p Policy) *Resolver {
	if p.Separator == "" {
		p.Separator = "_"
	}
	return &Resolver{policy: p}
}

// Normalize maps a module id to a slash-separated path relative to the
// bundle directory.
func (r *Resolver) Normalize(id string) string {
	s := id
	for _, rule := range r.policy.Strip {
		s = rule.Pattern.ReplaceAllString(s, rule.Replace)
	}
	s = strings.ReplaceAll(s, `\`, "/")
	s = strings.TrimPrefix(path.Clean("/"+s), "/")
	if s == "" {
		s = "index"
	}
	if path.Ext(path.Base(s)) == "" {
		s += ".js"
	}
	return s
}

// BundleDir returns the directory that replaces the bundle file at p: the
// same path without its extension.
func BundleDir(p string) string {
	return strings.TrimSuffix(p, path.Ext(p))
}

// Resolve lays out the records of the bundle at bundlePath. Paths in the
// returned tree are output-relative. Records keep bundle order.
func (r *Resolver) Resolve(bundlePath string, records []models.ModuleRecord) models.ModuleTree {
	tree := models.ModuleTree{
		Bundle:  bundlePath,
		Dir:     BundleDir(bundlePath),
		Modules: make([]models.ResolvedModule, 0, len(records)),
	}

	taken := newClaims(len(records))
	norms := make([]string, len(records))
	for i, rec := range records {
		norms[i] = r.Normalize(rec.ID)
		p := r.claim(path.Join(tree.Dir, norms[i]), taken)
		tree.Modules = append(tree.Modules, models.ResolvedModule{Path: p, Record: rec})
	}

	if i := r.entry(records, norms); i >= 0 {
		tree.Entry = tree.Modules[i].Path
	}
	return tree
}

// claims tracks the output paths handed out for one bundle. A path is in
// use when it is a claimed file or a directory holding claimed files.
type claims struct {
	files map[string]struct{}
	dirs  map[string]struct{}
}

func newClaims(n int) *claims {
	return &claims{files: make(map[string]struct{}, n), dirs: make(map[string]struct{})}
}

func (c *claims) used(p string) bool {
	_, f := c.files[p]
	_, d := c.dirs[p]
	return f || d
}

func (c *claims) add(p string) {
	c.files[p] = struct{}{}
	for d := path.Dir(p); d != "." && d != "/"; d = path.Dir(d) {
		c.dirs[d] = struct{}{}
	}
}

// suffixed returns p as "<base><sep><n><ext>".
func (r *Resolver) suffixed(p string, n int) string {
	ext := path.Ext(p)
	return strings.TrimSuffix(p, ext) + r.policy.Separator + strconv.Itoa(n) + ext
}

// claim returns p, or a variant of it that neither overwrites a claimed
// file nor turns one into a directory. A directory segment that names a
// claimed file is renamed first, then the leaf gets the first free
// "<base><sep><n><ext>".
func (r *Resolver) claim(p string, c *claims) string {
	segs := strings.Split(p, "/")
	for i := 1; i < len(segs); i++ {
		dir := strings.Join(segs[:i], "/")
		if _, isFile := c.files[dir]; !isFile {
			continue
		}
		for n := 1; ; n++ {
			cand := r.suffixed(dir, n)
			if _, isFile := c.files[cand]; !isFile {
				segs[i-1] = path.Base(cand)
				break
			}
		}
	}
	p = strings.Join(segs, "/")

	if !c.used(p) {
		c.add(p)
		return p
	}
	for n := 1; ; n++ {
		if cand := r.suffixed(p, n); !c.used(cand) {
			c.add(cand)
			return cand
		}
	}
}

// entry returns the index of the entry module, or -1 when it cannot be
// determined.
func (r *Resolver) entry(records []models.ModuleRecord, norms []string) int {
	conventional := make(map[string]struct{}, len(r.policy.EntryIDs))
	for _, id := range r.policy.EntryIDs {
		conventional[r.Normalize(id)] = struct{}{}
	}
	found := -1
	for i, n := range norms {
		if _, ok := conventional[n]; !ok {
			continue
		}
		if found >= 0 {
			found = -1
			break
		}
		found = i
	}
	if found >= 0 {
		return found
	}

	depended := make(map[string]struct{})
	for i, rec := range records {
		for _, dep := range rec.Deps {
			depended[r.dependency(norms[i], dep)] = struct{}{}
		}
	}
	root := -1
	for i, n := range norms {
		if _, ok := depended[n]; ok {
			continue
		}
		if root >= 0 {
			return -1
		}
		root = i
	}
	return root
}

// dependency normalizes dep as seen from the module at from. Relative deps
// are resolved against from's directory.
func (r *Resolver) dependency(from, dep string) string {
	if strings.HasPrefix(dep, "./") || strings.HasPrefix(dep, "../") {
		dep = path.Join(path.Dir(from), dep)
	}
	return r.Normalize(dep)
}

// Target returns the output path that dep, as written in the module at the
// output path from, refers to inside the bundle directory dir.
func (r *Resolver) Target(dir, from, dep string) string {
	rel := strings.TrimPrefix(from, dir+"/")
	if dir == "" || dir == "." {
		rel = from
	}
	return path.Join(dir, r.dependency(rel, dep))
}
