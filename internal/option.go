package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/wedecode/internal/catalog"
	"github.com/starford/wedecode/internal/models"
	"github.com/starford/wedecode/internal/service"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	logger *slog.Logger
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger replaces the logger the mode would build from the configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(a *application) {
		a.logger = logger
	}
}

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// openCatalog opens the configured catalog, or returns nil when recording
// is disabled.
func (a *application) openCatalog() (*catalog.DB, error) {
	if a.config.SQLite.Path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(a.config.SQLite.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
	}
	db, err := catalog.Open(a.config.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init catalog: %w", err)
	}
	return db, nil
}

// newService builds the service over db, which may be nil.
func (a *application) newService(db *catalog.DB, events service.EventPublisher) *service.Service {
	cfg := a.config.Decompile
	opts := []service.Option{
		service.WithOutputRoot(cfg.OutputRoot),
		service.WithDefaults(models.RunConfig{UsePx: cfg.UsePx, UnpackOnly: cfg.UnpackOnly}),
	}
	if db != nil {
		opts = append(opts, service.WithCatalog(db))
	}
	if events != nil {
		opts = append(opts, service.WithEvents(events))
	}
	return service.New(cfg.Options(), a.logger, opts...)
}
