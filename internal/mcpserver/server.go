// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes wedecode tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/wedecode/internal/apperr"
	"github.com/starford/wedecode/internal/catalog"
	"github.com/starford/wedecode/internal/models"
	"github.com/starford/wedecode/internal/service"
)

// LayoutURI is the resource holding LayoutContract.
const LayoutURI = "wedecode://layout"

// Server wraps the MCP server with wedecode tools.
type Server struct {
	mcp   *server.MCPServer
	svc   *service.Service
	inbox string
}

// New creates a new MCP server with all wedecode tools registered.
// Fetched packages are saved under inbox.
func New(svc *service.Service, inbox string) *Server {
	s := &Server{svc: svc, inbox: inbox}

	s.mcp = server.NewMCPServer(
		"wedecode",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("decompile_package",
		mcp.WithDescription("Decompile a .wxapkg package on the local file system. "+
			"Returns the run id and outcome; pass the run id to the other tools."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Package file, or a directory holding exactly one package")),
		mcp.WithString("output", mcp.Description("Output directory (defaults to one derived from the package path)")),
		mcp.WithString("app_id", mcp.Description("App id keying encrypted desktop packages (inferred from the path when empty)")),
		mcp.WithBoolean("use_px", mcp.Description("Rewrite rpx sizes to px")),
		mcp.WithBoolean("unpack_only", mcp.Description("Extract files without splitting bundles")),
	), s.decompilePackage)

	s.mcp.AddTool(mcp.NewTool("fetch_package",
		mcp.WithDescription("Download a package from an http(s) URL or a base64 data URI and decompile it."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:application/octet-stream;base64,... URI")),
		mcp.WithString("filename", mcp.Description("File name to save the package under (must end with .wxapkg)")),
		mcp.WithString("app_id", mcp.Description("App id keying encrypted desktop packages")),
	), s.fetchPackage)

	s.mcp.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List recorded decompilation runs, newest first."),
		mcp.WithNumber("limit", mcp.Description("Max runs (default 20)")),
	), s.listRuns)

	s.mcp.AddTool(mcp.NewTool("list_modules",
		mcp.WithDescription("List the module paths written by a run."),
		mcp.WithString("run", mcp.Description("Run id (latest run when empty)")),
		mcp.WithString("bundle", mcp.Description("Only modules split from this bundle path")),
	), s.listModules)

	s.mcp.AddTool(mcp.NewTool("read_module",
		mcp.WithDescription("Read a module's source with its dependencies and dependents."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Module output path (e.g. app-service/utils/util.js)")),
		mcp.WithString("run", mcp.Description("Run id (latest run when empty)")),
	), s.readModule)

	s.mcp.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read a text file from a run's output tree."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Output-relative path (e.g. app.json)")),
		mcp.WithString("run", mcp.Description("Run id (latest run when empty)")),
	), s.readFile)

	s.mcp.AddTool(mcp.NewTool("search_modules",
		mcp.WithDescription("Full-text search through module sources and ids."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithString("run", mcp.Description("Run id (latest run when empty)")),
	), s.searchModules)

	s.mcp.AddTool(mcp.NewTool("get_dependents",
		mcp.WithDescription("Find all modules that require the specified module."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Module output path")),
		mcp.WithString("run", mcp.Description("Run id (latest run when empty)")),
	), s.getDependents)

	// Resource: output layout contract.
	s.mcp.AddResource(
		mcp.NewResource(LayoutURI, "Output Layout",
			mcp.WithResourceDescription("How a decompilation run lays out files and modules."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readLayoutResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func errorResult(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError("not found")
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) decompilePackage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cfg := models.RunConfig{
		InputPath:  path,
		OutputPath: req.GetString("output", ""),
		AppID:      req.GetString("app_id", ""),
		UsePx:      req.GetBool("use_px", false),
		UnpackOnly: req.GetBool("unpack_only", false),
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = s.svc.OutputFor(path)
	}
	res, err := s.svc.Decompile(ctx, cfg)
	if err != nil {
		return errorResult(err), nil
	}
	return runResult(res), nil
}

// runResult reports a run without the file listing, which can be large.
func runResult(res *service.RunResult) *mcp.CallToolResult {
	out := res.Outcome
	summary := map[string]any{
		"run_id":   res.RunID,
		"success":  out.Success,
		"state":    out.State,
		"output":   out.OutputPath,
		"declared": out.Declared,
		"files":    len(out.Files),
		"modules":  len(out.Manifest),
		"issues":   out.Issues,
	}
	r := jsonResult(summary)
	r.IsError = !out.Success
	return r
}

func (s *Server) listRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, err := s.svc.Runs(ctx, req.GetInt("limit", 20))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(runs), nil
}

func (s *Server) listModules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mods, _, err := s.svc.Modules(ctx, catalog.ModuleFilter{
		RunID:  req.GetString("run", ""),
		Bundle: req.GetString("bundle", ""),
		Limit:  5000,
	})
	if err != nil {
		return errorResult(err), nil
	}
	paths := make([]string, 0, len(mods))
	for _, m := range mods {
		line := m.Path
		if m.Entry {
			line += " (entry)"
		}
		paths = append(paths, line)
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) readModule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m, err := s.svc.Module(ctx, req.GetString("run", ""), path)
	if err != nil {
		return errorResult(err), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "// module: %s\n", m.ModuleID)
	if len(m.Deps) > 0 {
		fmt.Fprintf(&b, "// requires: %s\n", strings.Join(m.Deps, ", "))
	}
	if len(m.Dependents) > 0 {
		fmt.Fprintf(&b, "// required by: %s\n", strings.Join(m.Dependents, ", "))
	}
	b.WriteString(m.Source)
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) readFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.svc.ReadFile(ctx, req.GetString("run", ""), path)
	if err != nil {
		return errorResult(err), nil
	}
	if !utf8.Valid(data) {
		return mcp.NewToolResultError(fmt.Sprintf("binary file: %s (%d bytes)", path, len(data))), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) searchModules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, req.GetString("run", ""), query, 20)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(results), nil
}

func (s *Server) getDependents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	deps, err := s.svc.Dependents(ctx, req.GetString("run", ""), path)
	if err != nil {
		return errorResult(err), nil
	}
	if len(deps) == 0 {
		return mcp.NewToolResultText("no dependents found"), nil
	}
	return mcp.NewToolResultText(strings.Join(deps, "\n")), nil
}

func (s *Server) readLayoutResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      LayoutURI,
			MIMEType: "text/markdown",
			Text:     LayoutContract,
		},
	}, nil
}
