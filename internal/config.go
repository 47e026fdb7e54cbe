package internal

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/wedecode/internal/bundle"
	"github.com/starford/wedecode/internal/decompiler"
	"github.com/starford/wedecode/internal/extract"
	"github.com/starford/wedecode/internal/resolve"
	"github.com/starford/wedecode/internal/split"
	"github.com/starford/wedecode/internal/watch"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Decompile DecompileConfig   `yaml:"decompile"`
	Watch     WatchConfig       `yaml:"watch"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Decompile.Validate(); err != nil {
		return err
	}
	if err := c.Watch.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// DecompileConfig holds the decompiler policy and run defaults.
type DecompileConfig struct {
	// OutputRoot is where packages handled by serve and mcp are written.
	OutputRoot string `yaml:"output_root"`
	// Workers bounds per-run parallelism; 0 means one per CPU.
	Workers    int           `yaml:"workers"`
	MaxDepth   int           `yaml:"max_depth"`
	Registrars []string      `yaml:"registrars"`
	UsePx      bool          `yaml:"use_px"`
	UnpackOnly bool          `yaml:"unpack_only"`
	Units      split.Units   `yaml:"units"`
	Resolve    ResolveConfig `yaml:"resolve"`
}

// Validate validates the decompile configuration.
func (c *DecompileConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.OutputRoot, validation.Required),
		validation.Field(&c.Workers, validation.Min(0)),
		validation.Field(&c.MaxDepth, validation.Required, validation.Min(1)),
		validation.Field(&c.Registrars, validation.Required, validation.Each(validation.Required)),
	); err != nil {
		return err
	}
	if err := validation.ValidateStruct(&c.Units,
		validation.Field(&c.Units.From, validation.Required),
		validation.Field(&c.Units.Factor, validation.Required, validation.Min(0.0).Exclusive()),
	); err != nil {
		return fmt.Errorf("units: %w", err)
	}
	return c.Resolve.Validate()
}

// Options converts the configuration to decompiler options.
func (c *DecompileConfig) Options() decompiler.Options {
	return decompiler.Options{
		Workers:    c.Workers,
		MaxDepth:   c.MaxDepth,
		Registrars: c.Registrars,
		Resolve:    c.Resolve.Policy(),
		Units:      c.Units,
	}
}

// StripRule is one id rewrite of ResolveConfig.
type StripRule struct {
	Pattern string `yaml:"pattern"`
	Replace string `yaml:"replace"`
}

// ResolveConfig holds the module path resolution policy.
type ResolveConfig struct {
	Strip     []StripRule `yaml:"strip"`
	Separator string      `yaml:"separator"`
	EntryIDs  []string    `yaml:"entry_ids"`
}

// Validate validates the resolution configuration.
func (c *ResolveConfig) Validate() error {
	for _, r := range c.Strip {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("resolve: strip pattern %q: %w", r.Pattern, err)
		}
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Separator, validation.Required),
	)
}

// Policy compiles the configuration. Patterns must have passed Validate.
func (c *ResolveConfig) Policy() resolve.Policy {
	p := resolve.Policy{Separator: c.Separator, EntryIDs: c.EntryIDs}
	for _, r := range c.Strip {
		p.Strip = append(p.Strip, resolve.Rule{Pattern: regexp.MustCompile(r.Pattern), Replace: r.Replace})
	}
	return p
}

// WatchConfig holds the inbox watcher configuration.
type WatchConfig struct {
	// Dir is watched for new packages in serve mode; empty disables watching.
	Dir string `yaml:"dir"`
	// UploadDir receives packages uploaded over HTTP or fetched over MCP.
	UploadDir string        `yaml:"upload_dir"`
	Settle    time.Duration `yaml:"settle"`
	Existing  bool          `yaml:"existing"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.UploadDir, validation.Required),
		validation.Field(&c.Settle, validation.Min(time.Duration(0))),
	)
}

// SQLiteConfig holds SQLite catalog configuration.
type SQLiteConfig struct {
	// Path of the catalog; empty disables recording.
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled".
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Decompile: DecompileConfig{
			OutputRoot: "./out",
			MaxDepth:   extract.DefaultMaxDepth,
			Registrars: []string{bundle.DefaultRegistrar},
			Units:      split.DefaultUnits(),
			Resolve: ResolveConfig{
				Strip: []StripRule{
					{Pattern: `\?.*$`},
					{Pattern: `#.*$`},
					{Pattern: `\.[0-9a-f]{8,}(\.js)?$`, Replace: "$1"},
				},
				Separator: "_",
				EntryIDs:  []string{"app.js", "game.js"},
			},
		},
		Watch: WatchConfig{
			UploadDir: "./uploads",
			Settle:    watch.DefaultSettle,
		},
		SQLite: SQLiteConfig{
			Path: "./wedecode.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
