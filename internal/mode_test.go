package internal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/wedecode/internal/testutil"
)

func TestDecompileMode(t *testing.T) {
	dir := t.TempDir()
	a := testutil.WriteFile(t, dir, "a.wxapkg", testutil.SamplePackage())
	b := testutil.WriteFile(t, dir, "b.wxapkg", testutil.SamplePackage())

	cfg := NewDefaultConfig()
	cfg.SQLite.Path = filepath.Join(dir, "db", "wedecode.db")
	cfg.Decompile.UnpackOnly = true

	results, err := Decompile(context.Background(), DecompileRequest{
		Inputs: []string{a, b},
		Output: filepath.Join(dir, "out"),
	}, WithConfig(cfg), WithLogger(testutil.Logger()))
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	for i, name := range []string{"a", "b"} {
		res := results[i]
		if !res.Outcome.Success || res.RunID == "" {
			t.Errorf("%s: %+v", name, res)
		}
		// Unpack only: the bundle stays whole.
		if _, err := os.Stat(filepath.Join(dir, "out", name, "app-service.js")); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	if cfg.Decompile.OutputRoot != "./out" {
		t.Errorf("caller config mutated: %q", cfg.Decompile.OutputRoot)
	}
}

func TestDecompileMode_SingleOutput(t *testing.T) {
	dir := t.TempDir()
	in := testutil.WriteFile(t, dir, "main.wxapkg", testutil.SamplePackage())
	cfg := NewDefaultConfig()
	cfg.SQLite.Path = ""

	out := filepath.Join(dir, "exact")
	results, err := Decompile(context.Background(), DecompileRequest{Inputs: []string{in}, Output: out},
		WithConfig(cfg), WithLogger(testutil.Logger()))
	if err != nil {
		t.Fatal(err)
	}
	if results[0].RunID != "" {
		t.Error("run recorded without a catalog")
	}
	if _, err := os.Stat(filepath.Join(out, "app-service", "app.js")); err != nil {
		t.Error(err)
	}
}

func TestModesRequireConfig(t *testing.T) {
	if _, err := Decompile(context.Background(), DecompileRequest{Inputs: []string{"x"}}); err == nil {
		t.Error("Decompile without config should fail")
	}
	if err := Run(context.Background()); err == nil {
		t.Error("Run without config should fail")
	}
	cfg := NewDefaultConfig()
	if _, err := Decompile(context.Background(), DecompileRequest{}, WithConfig(cfg)); err == nil {
		t.Error("Decompile without inputs should fail")
	}
}
