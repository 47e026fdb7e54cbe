package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/wedecode/internal/apperr"
	"github.com/starford/wedecode/internal/catalog"
	"github.com/starford/wedecode/internal/decompiler"
	"github.com/starford/wedecode/internal/models"
	"github.com/starford/wedecode/internal/sse"
	"github.com/starford/wedecode/internal/testutil"
)

type recorder struct {
	mu    sync.Mutex
	kinds []string
	last  sse.RunEvent
}

func (r *recorder) PublishRunEvent(kind string, ev sse.RunEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	r.last = ev
}

func setup(t *testing.T) (*Service, *recorder, string) {
	t.Helper()
	dir := t.TempDir()
	rec := &recorder{}
	svc := New(decompiler.DefaultOptions(), testutil.Logger(),
		WithCatalog(testutil.TestCatalog(t)),
		WithEvents(rec),
		WithOutputRoot(filepath.Join(dir, "out")),
	)
	return svc, rec, dir
}

func TestDecompileRecordsRun(t *testing.T) {
	svc, rec, dir := setup(t)
	ctx := context.Background()
	in := testutil.WriteFile(t, dir, "main.wxapkg", testutil.SamplePackage())

	res, err := svc.DecompileFile(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Outcome.Success || res.RunID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got, want := res.Outcome.OutputPath, filepath.Join(dir, "out", "main"); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	if diff := cmp.Diff([]string{sse.RunStarted, sse.RunFinished}, rec.kinds); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if rec.last.RunID != res.RunID || rec.last.Modules != 4 {
		t.Errorf("finished event = %+v", rec.last)
	}

	run, err := svc.Run(ctx, "latest")
	if err != nil {
		t.Fatal(err)
	}
	if run.ID != res.RunID || len(run.Files) != len(res.Outcome.Files) {
		t.Errorf("run = %+v", run)
	}

	mods, total, err := svc.Modules(ctx, catalog.ModuleFilter{RunID: res.RunID})
	if err != nil {
		t.Fatal(err)
	}
	if total != 4 || len(mods) != 4 {
		t.Errorf("modules = %d/%d", len(mods), total)
	}

	m, err := svc.Module(ctx, res.RunID, "app-service/app.js")
	if err != nil {
		t.Fatal(err)
	}
	if !m.Entry || m.Source == "" {
		t.Errorf("module = %+v", m)
	}
	if diff := cmp.Diff([]string{"app-service/utils/util.js"}, m.Deps); diff != "" {
		t.Errorf("deps (-want +got):\n%s", diff)
	}

	deps, err := svc.Dependents(ctx, "", "app-service/utils/util.js")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"app-service/app.js"}, deps); diff != "" {
		t.Errorf("dependents (-want +got):\n%s", diff)
	}

	hits, err := svc.Search(ctx, res.RunID, "console", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Path != "app-service/utils/util.js" {
		t.Errorf("search = %+v", hits)
	}

	data, err := svc.ReadFile(ctx, res.RunID, "app.wxss")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != ".page{padding:30rpx}/* 2rpx */" {
		t.Errorf("app.wxss = %q", data)
	}
	if _, err := svc.ReadFile(ctx, res.RunID, "missing.js"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing file err = %v", err)
	}

	nodes, links, err := svc.Graph(ctx, res.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 4 || len(links) != 1 {
		t.Errorf("graph = %d nodes, %d links", len(nodes), len(links))
	}
}

func TestDecompileFailurePublishesFailed(t *testing.T) {
	svc, rec, dir := setup(t)
	in := testutil.WriteFile(t, dir, "broken.wxapkg", []byte("not a package"))

	res, err := svc.DecompileFile(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome.Success {
		t.Fatal("expected failure")
	}
	if diff := cmp.Diff([]string{sse.RunStarted, sse.RunFailed}, rec.kinds); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}

	run, err := svc.Run(context.Background(), res.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Success || len(run.Issues) == 0 {
		t.Errorf("run = %+v", run)
	}
}

func TestWithoutCatalog(t *testing.T) {
	dir := t.TempDir()
	svc := New(decompiler.DefaultOptions(), testutil.Logger(), WithDefaults(models.RunConfig{UnpackOnly: true}))
	in := testutil.WriteFile(t, dir, "main.wxapkg", testutil.SamplePackage())

	res, err := svc.Decompile(context.Background(), models.RunConfig{InputPath: in, OutputPath: filepath.Join(dir, "out")})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Outcome.Success || res.RunID != "" {
		t.Errorf("result = %+v", res)
	}
	if _, err := svc.Runs(context.Background(), 10); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Runs err = %v", err)
	}
	if svc.CatalogEnabled() {
		t.Error("catalog should be disabled")
	}
}

func TestLatestWithNoRuns(t *testing.T) {
	svc, _, _ := setup(t)
	if _, err := svc.Run(context.Background(), ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestOutputFor(t *testing.T) {
	svc := New(decompiler.DefaultOptions(), nil, WithOutputRoot("/out"))
	tests := []struct {
		in, want string
	}{
		{"/tmp/main.wxapkg", "/out/main"},
		{"/Applet/wx0123456789abcdef/12/__APP__.wxapkg", "/out/wx0123456789abcdef/__APP__"},
	}
	for _, tt := range tests {
		if got := svc.OutputFor(tt.in); got != tt.want {
			t.Errorf("OutputFor(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecompileAll(t *testing.T) {
	svc, rec, dir := setup(t)
	a := testutil.WriteFile(t, dir, "a.wxapkg", testutil.SamplePackage())
	b := testutil.WriteFile(t, dir, "b.wxapkg", []byte("broken"))

	results, err := svc.DecompileAll(context.Background(), []models.RunConfig{
		{InputPath: a, OutputPath: svc.OutputFor(a)},
		{InputPath: b, OutputPath: svc.OutputFor(b)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || !results[0].Outcome.Success || results[1].Outcome.Success {
		t.Fatalf("results = %+v", results)
	}
	if results[0].RunID == results[1].RunID {
		t.Error("run ids should differ")
	}
	if len(rec.kinds) != 4 {
		t.Errorf("events = %v", rec.kinds)
	}

	runs, err := svc.Runs(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("runs = %d, want 2", len(runs))
	}
}

func TestRerunSupersedesPreviousRun(t *testing.T) {
	svc, _, dir := setup(t)
	ctx := context.Background()
	in := testutil.WriteFile(t, dir, "main.wxapkg", testutil.SamplePackage())

	first, err := svc.DecompileFile(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.DecompileFile(ctx, in)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Run(ctx, first.RunID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("first run err = %v, want not found", err)
	}
	runs, err := svc.Runs(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != second.RunID {
		t.Errorf("runs = %+v", runs)
	}

	if err := svc.DeleteRun(ctx, "latest"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if _, err := svc.Run(ctx, "latest"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("latest after delete err = %v", err)
	}
}
