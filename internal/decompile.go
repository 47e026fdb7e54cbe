package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/wedecode/internal/models"
	"github.com/starford/wedecode/internal/service"
)

// DecompileRequest describes one invocation of the decompile mode.
type DecompileRequest struct {
	Inputs []string
	// Output is the output directory for a single input, or the root for
	// several. Empty uses the configured output root.
	Output string
	AppID  string
}

// Decompile runs the decompile mode: every input is decompiled in parallel
// and recorded when a catalog is configured. Results keep the order of
// the inputs.
func Decompile(ctx context.Context, req DecompileRequest, opts ...Option) ([]*service.RunResult, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	c := *app.config
	cfg := &c
	app.config = cfg
	if app.logger == nil {
		app.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: cfg.App.LogLevel,
		}))
	}
	if len(req.Inputs) == 0 {
		return nil, fmt.Errorf("at least one input is required")
	}
	if req.Output != "" && len(req.Inputs) > 1 {
		cfg.Decompile.OutputRoot = req.Output
	}

	db, err := app.openCatalog()
	if err != nil {
		return nil, err
	}
	if db != nil {
		defer db.Close()
	}
	svc := app.newService(db, nil)

	cfgs := make([]models.RunConfig, len(req.Inputs))
	for i, in := range req.Inputs {
		out := svc.OutputFor(in)
		if req.Output != "" && len(req.Inputs) == 1 {
			out = req.Output
		}
		cfgs[i] = models.RunConfig{
			InputPath:  in,
			OutputPath: out,
			UsePx:      cfg.Decompile.UsePx,
			UnpackOnly: cfg.Decompile.UnpackOnly,
			AppID:      req.AppID,
		}
	}
	return svc.DecompileAll(ctx, cfgs)
}
