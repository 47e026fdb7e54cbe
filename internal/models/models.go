// Package models defines the domain types shared by the decompilation stages.
package models

import (
	"path"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Kind classifies an extracted file.
type Kind string

const (
	KindMarkup Kind = "markup"
	KindStyle  Kind = "style"
	KindConfig Kind = "config"
	KindBundle Kind = "script-bundle"
	KindScript Kind = "script"
	KindBinary Kind = "binary"
)

// KindFromPath infers a kind from the file extension alone. Script bundles
// are only recognized after content sniffing, so .js files report KindScript.
func KindFromPath(p string) Kind {
	switch strings.ToLower(path.Ext(p)) {
	case ".wxml", ".html", ".htm":
		return KindMarkup
	case ".wxss", ".css":
		return KindStyle
	case ".json":
		return KindConfig
	case ".js", ".wxs":
		return KindScript
	default:
		return KindBinary
	}
}

// DecodedFile is one embedded file after slicing and decryption.
type DecodedFile struct {
	Path   string `json:"path"`   // output-relative, normalized
	Source string `json:"source"` // name as declared in the archive index
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
	Kind   Kind   `json:"kind"`
	Data   []byte `json:"-"`
}

// Span is a half-open byte range [Start, End) in a parent buffer.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ModuleRecord is one module registration recovered from a bundle.
type ModuleRecord struct {
	ID           string   `json:"id"`
	Deps         []string `json:"deps,omitempty"`
	DeclaredDeps bool     `json:"declared_deps"` // false when Deps were inferred from require calls
	Body         string   `json:"-"`
	Source       string   `json:"-"` // verbatim registration call text, equal to parent[Span]
	Span         Span     `json:"span"`
}

// ResolvedModule pairs a module record with its output-relative path.
type ResolvedModule struct {
	Path   string       `json:"path"`
	Record ModuleRecord `json:"record"`
}

// ModuleTree is the resolved layout of one bundle.
type ModuleTree struct {
	Bundle  string           `json:"bundle"` // bundle file path, output-relative
	Dir     string           `json:"dir"`    // directory replacing the bundle
	Modules []ResolvedModule `json:"modules"`
	Entry   string           `json:"entry,omitempty"` // resolved path of the entry module, if determinable
}

// RunConfig is the resolved configuration of one decompilation run. It is
// created by the CLI layer and never mutated afterward.
type RunConfig struct {
	InputPath  string `json:"input_path" yaml:"input_path"`
	OutputPath string `json:"output_path" yaml:"output_path"`
	UsePx      bool   `json:"use_px" yaml:"use_px"`
	UnpackOnly bool   `json:"unpack_only" yaml:"unpack_only"`
	// AppID keys the desktop-client cipher. Inferred from InputPath when empty.
	AppID string `json:"app_id,omitempty" yaml:"app_id"`
}

// Validate validates the run configuration.
func (c RunConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.InputPath, validation.Required),
		validation.Field(&c.OutputPath, validation.Required),
	)
}

// Issue is a non-fatal (or, for failed runs, the fatal) problem recorded during a run.
type Issue struct {
	Path    string `json:"path,omitempty"`
	Stage   string `json:"stage"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ManifestEntry describes one module file written by the splitter.
type ManifestEntry struct {
	Bundle   string   `json:"bundle"`
	Path     string   `json:"path"`
	ModuleID string   `json:"module_id"`
	Size     int      `json:"size"`
	Entry    bool     `json:"entry,omitempty"`
	Deps     []string `json:"deps,omitempty"`
}

// RunOutcome is the immutable result of one run.
type RunOutcome struct {
	Input      string          `json:"input"`
	OutputPath string          `json:"output_path"`
	Success    bool            `json:"success"`
	State      string          `json:"state"`
	Declared   int             `json:"declared"` // files declared by the top-level index
	Files      []FileSummary   `json:"files"`
	Manifest   []ManifestEntry `json:"manifest,omitempty"`
	Issues     []Issue         `json:"issues,omitempty"`
}

// FileSummary describes one file left in the output tree after extraction.
type FileSummary struct {
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
	Size int64  `json:"size"`
}
