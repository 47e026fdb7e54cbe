package catalog

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/wedecode/internal/apperr"
	"github.com/starford/wedecode/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "wedecode-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleOutcome() models.RunOutcome {
	return models.RunOutcome{
		Input:      "/in/main.wxapkg",
		OutputPath: "/out/main",
		Success:    true,
		State:      "done",
		Declared:   3,
		Files: []models.FileSummary{
			{Path: "app.json", Kind: models.KindConfig, Size: 20},
			{Path: "app-service/app.js", Kind: models.KindScript, Size: 30},
		},
		Issues: []models.Issue{{Path: "x.js", Stage: "split", Kind: "parse", Message: "unbalanced"}},
	}
}

func sampleModules() []ModuleRow {
	return []ModuleRow{
		{Path: "app-service/app.js", Bundle: "app-service.js", ModuleID: "app.js", Entry: true,
			Deps: []string{"app-service/utils/util.js"}, Body: "App({ onLaunch() {} })"},
		{Path: "app-service/utils/util.js", Bundle: "app-service.js", ModuleID: "utils/util.js",
			Body: "module.exports = { formatTime: uniqueword }"},
		{Path: "app-service/pages/p.js", Bundle: "app-service.js", ModuleID: "pages/p.js",
			Deps: []string{"app-service/utils/util.js", "external/lib.js"}, Body: "Page({})"},
	}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"runs", "files", "modules", "deps"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestRecordAndReadRun(t *testing.T) {
	db := testDB(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := db.RecordRun("r1", at, sampleOutcome(), sampleModules()); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	run, err := db.Run("r1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !run.Success || run.Declared != 3 || run.Output != "/out/main" || !run.CreatedAt.Equal(at) {
		t.Errorf("run = %+v", run)
	}
	if len(run.Issues) != 1 || run.Issues[0].Kind != "parse" {
		t.Errorf("issues = %+v", run.Issues)
	}

	files, err := db.Files("r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[0].Path != "app-service/app.js" || files[0].Kind != models.KindScript {
		t.Errorf("files = %+v", files)
	}
}

func TestModules(t *testing.T) {
	db := testDB(t)
	_ = db.RecordRun("r1", time.Now(), sampleOutcome(), sampleModules())

	mods, total, err := db.Modules(ModuleFilter{RunID: "r1", Limit: 2})
	if err != nil {
		t.Fatalf("Modules: %v", err)
	}
	if total != 3 || len(mods) != 2 {
		t.Fatalf("total=%d len=%d", total, len(mods))
	}
	if mods[0].Path != "app-service/app.js" || !mods[0].Entry {
		t.Errorf("first module = %+v", mods[0])
	}
	if diff := cmp.Diff([]string{"app-service/utils/util.js"}, mods[0].Deps); diff != "" {
		t.Errorf("deps (-want +got):\n%s", diff)
	}

	m, err := db.Module("r1", "app-service/utils/util.js")
	if err != nil {
		t.Fatalf("Module: %v", err)
	}
	if m.Body == "" || m.ModuleID != "utils/util.js" {
		t.Errorf("module = %+v", m)
	}
	if _, err := db.Module("r1", "nope.js"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing module err = %v", err)
	}
}

func TestDependentsAndGraph(t *testing.T) {
	db := testDB(t)
	_ = db.RecordRun("r1", time.Now(), sampleOutcome(), sampleModules())

	deps, err := db.Dependents("r1", "app-service/utils/util.js")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"app-service/app.js", "app-service/pages/p.js"}, deps); diff != "" {
		t.Errorf("dependents (-want +got):\n%s", diff)
	}

	nodes, links, err := db.Graph("r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 3 {
		t.Errorf("nodes = %+v", nodes)
	}
	if len(links) != 2 {
		t.Errorf("links to unknown modules should be dropped: %+v", links)
	}
}

func TestLatestRunAndDelete(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_ = db.RecordRun("old", now.Add(-time.Hour), sampleOutcome(), nil)
	_ = db.RecordRun("new", now, sampleOutcome(), sampleModules())

	latest, err := db.LatestRun("/out/main")
	if err != nil || latest.ID != "new" {
		t.Fatalf("LatestRun = %+v, %v", latest, err)
	}
	runs, _ := db.Runs(10)
	if len(runs) != 2 || runs[0].ID != "new" {
		t.Errorf("runs = %+v", runs)
	}

	if err := db.DeleteRun("new"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if _, err := db.Run("new"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("deleted run still present: %v", err)
	}
	if mods, _, _ := db.Modules(ModuleFilter{RunID: "new"}); len(mods) != 0 {
		t.Errorf("modules survived delete: %+v", mods)
	}
	if err := db.DeleteRun("new"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
	if _, err := db.LatestRun("/elsewhere"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("LatestRun for unknown output err = %v", err)
	}
}

func TestSearch_Basic(t *testing.T) {
	db := testDB(t)
	_ = db.RecordRun("r1", time.Now(), sampleOutcome(), sampleModules())
	_ = db.RecordRun("r2", time.Now(), sampleOutcome(), nil)

	results, err := db.Search("r1", "uniqueword", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "app-service/utils/util.js" {
		t.Errorf("search results = %+v, want 1 hit for util.js", results)
	}
	if results, _ := db.Search("r2", "uniqueword", 10); len(results) != 0 {
		t.Errorf("search leaked across runs: %+v", results)
	}
}
