package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/wedecode/internal"
	"github.com/starford/wedecode/internal/service"
	pkgconfig "github.com/starford/wedecode/pkg/config"
)

var (
	okMark   = color.New(color.FgGreen, color.Bold).Sprint("✔")
	failMark = color.New(color.FgRed, color.Bold).Sprint("✘")
	warn     = color.New(color.FgYellow).SprintFunc()
	faint    = color.New(color.Faint).SprintFunc()
)

// loadConfig reads the config file, when present, and applies flag overrides.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, err
	}

	if cmd.IsSet("db") {
		cfg.SQLite.Path = cmd.String("db")
	}
	if cmd.Bool("no-catalog") {
		cfg.SQLite.Path = ""
	}
	if cmd.IsSet("workers") {
		cfg.Decompile.Workers = int(cmd.Int("workers"))
	}
	if cmd.IsSet("use-px") {
		cfg.Decompile.UsePx = cmd.Bool("use-px")
	}
	if cmd.IsSet("unpack-only") {
		cfg.Decompile.UnpackOnly = cmd.Bool("unpack-only")
	}
	if cmd.IsSet("port") {
		cfg.App.HTTP.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("watch") {
		cfg.Watch.Dir = cmd.String("watch")
	}
	if cmd.Bool("verbose") {
		cfg.App.LogLevel = slog.LevelDebug
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decompile(ctx context.Context, cmd *cli.Command) error {
	inputs := cmd.Args().Slice()
	if len(inputs) == 0 {
		return cli.ShowAppHelp(cmd)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	results, err := internal.Decompile(ctx, internal.DecompileRequest{
		Inputs: inputs,
		Output: cmd.String("output"),
		AppID:  cmd.String("app-id"),
	}, internal.WithConfig(cfg))
	if err != nil {
		slog.Warn("catalog recording failed", slog.String("error", err.Error()))
	}

	failed := 0
	for _, res := range results {
		printResult(res)
		if !res.Outcome.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d packages failed", failed, len(results))
	}
	return nil
}

func printResult(res *service.RunResult) {
	out := res.Outcome
	mark := okMark
	if !out.Success {
		mark = failMark
	}
	var size int64
	for _, f := range out.Files {
		size += f.Size
	}
	fmt.Printf("%s %s -> %s  %d files (%s), %d modules",
		mark, filepath.Base(out.Input), out.OutputPath, len(out.Files), humanize.Bytes(uint64(size)), len(out.Manifest))
	if res.RunID != "" {
		fmt.Printf("  %s", faint("run "+res.RunID))
	}
	fmt.Println()
	for _, is := range out.Issues {
		line := fmt.Sprintf("  [%s/%s] %s", is.Stage, is.Kind, is.Message)
		if is.Path != "" {
			line = fmt.Sprintf("  [%s/%s] %s: %s", is.Stage, is.Kind, is.Path, is.Message)
		}
		fmt.Println(warn(line))
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, internal.WithConfig(cfg))
}

func repack(_ context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("repack takes exactly one directory")
	}
	dir := cmd.Args().First()
	out := cmd.String("output")
	if out == "" {
		out = filepath.Clean(dir) + ".wxapkg"
	}
	n, err := internal.Repack(internal.RepackRequest{
		Dir:    dir,
		Output: out,
		AppID:  cmd.String("app-id"),
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s packed %d files into %s\n", okMark, n, out)
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:      "wedecode",
		Usage:     "Decompile mini-program packages into readable source trees",
		ArgsUsage: "<package or dir>...",
		Action:    decompile,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (optional)",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output directory (one input) or output root (several); package path for repack",
			},
			&cli.StringFlag{
				Name:    "app-id",
				Usage:   "App id keying desktop-client encryption (inferred from the path when empty)",
				Sources: cli.EnvVars("WEDECODE_APP_ID"),
			},
			&cli.BoolFlag{
				Name:  "use-px",
				Usage: "Rewrite rpx sizes to px",
			},
			&cli.BoolFlag{
				Name:  "unpack-only",
				Usage: "Extract files without splitting bundles",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Parallel workers per run (0 = one per CPU)",
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "SQLite catalog path",
				Sources: cli.EnvVars("WEDECODE_DB"),
			},
			&cli.BoolFlag{
				Name:  "no-catalog",
				Usage: "Do not record runs",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "decompile",
				Usage:     "Decompile packages (default command)",
				ArgsUsage: "<package or dir>...",
				Action:    decompile,
			},
			{
				Name:   "serve",
				Usage:  "Serve the HTTP API and watch an inbox directory",
				Action: serve,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Usage:   "HTTP port",
						Sources: cli.EnvVars("WEDECODE_PORT"),
					},
					&cli.StringFlag{
						Name:  "watch",
						Usage: "Directory to watch for new packages",
					},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdio",
				Action: serveMCP,
			},
			{
				Name:      "repack",
				Usage:     "Pack a directory into a package (sealed when --app-id is set)",
				ArgsUsage: "<dir>",
				Action:    repack,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
