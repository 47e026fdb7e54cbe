package appconfig

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/wedecode/internal/testutil"
)

func TestRestore(t *testing.T) {
	_, store := testutil.TestStore(t)
	cfg := `{
  "pages": ["pages/index/index", "pages/logs/logs"],
  "entryPagePath": "pages/index/index",
  "subpackages": [{"root": "sub"}],
  "global": {"window": {"navigationBarTitleText": "Demo"}},
  "page": {
    "pages/logs/logs.html": {"window": {"navigationBarTitleText": "Logs"}},
    "pages/index/index.html": {"window": {}},
    "pages/none/none.html": {}
  },
  "appLaunchInfo": {"ignored": true}
}`
	if err := store.Write("app-config.json", []byte(cfg)); err != nil {
		t.Fatal(err)
	}

	written, err := Restore(store, "")
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	want := []string{"app.json", "pages/index/index.json", "pages/logs/logs.json"}
	if diff := cmp.Diff(want, written); diff != "" {
		t.Errorf("written (-want +got):\n%s", diff)
	}

	var app map[string]any
	data, _ := store.Read("app.json")
	if err := json.Unmarshal(data, &app); err != nil {
		t.Fatal(err)
	}
	wantApp := map[string]any{
		"pages":         []any{"pages/index/index", "pages/logs/logs"},
		"entryPagePath": "pages/index/index",
		"subPackages":   []any{map[string]any{"root": "sub"}},
		"window":        map[string]any{"navigationBarTitleText": "Demo"},
	}
	if diff := cmp.Diff(wantApp, app); diff != "" {
		t.Errorf("app.json (-want +got):\n%s", diff)
	}

	logs, _ := store.Read("pages/logs/logs.json")
	if string(logs) != "{\n  \"navigationBarTitleText\": \"Logs\"\n}\n" {
		t.Errorf("logs.json = %q", logs)
	}
	if !store.Exists("app-config.json") {
		t.Error("merged config removed")
	}
}

func TestRestoreMissing(t *testing.T) {
	_, store := testutil.TestStore(t)
	written, err := Restore(store, "")
	if err != nil || written != nil {
		t.Errorf("Restore = %v, %v", written, err)
	}
}

func TestRestoreMalformed(t *testing.T) {
	_, store := testutil.TestStore(t)
	_ = store.Write("sub/app-config.json", []byte("{not json"))
	if _, err := Restore(store, "sub"); err == nil {
		t.Error("expected error for malformed config")
	}
}
