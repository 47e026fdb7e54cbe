package internal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/wedecode/internal/cipher"
	"github.com/starford/wedecode/internal/testutil"
	"github.com/starford/wedecode/internal/wxapkg"
)

func TestRepackRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	for _, e := range testutil.SampleEntries() {
		p := filepath.Join(src, filepath.FromSlash(e.Name[1:]))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, e.Data, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		appID string
	}{
		{"plain", ""},
		{"sealed", testutil.AppID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(dir, tt.name, "out.wxapkg")
			n, err := Repack(RepackRequest{Dir: src, Output: out, AppID: tt.appID})
			if err != nil {
				t.Fatal(err)
			}
			if n != len(testutil.SampleEntries()) {
				t.Errorf("packed %d files", n)
			}

			data, err := os.ReadFile(out)
			if err != nil {
				t.Fatal(err)
			}
			wantMode := cipher.ModePlain
			if tt.appID != "" {
				wantMode = cipher.ModePC
			}
			if got := cipher.Detect(data); got != wantMode {
				t.Fatalf("mode = %v, want %v", got, wantMode)
			}
			plain, err := cipher.Resolve(data, tt.appID).Open(data)
			if err != nil {
				t.Fatal(err)
			}
			a, err := wxapkg.Read(plain)
			if err != nil {
				t.Fatal(err)
			}

			got := map[string]string{}
			for _, f := range a.Files {
				got[f.Name] = string(a.Body(f))
			}
			want := map[string]string{}
			for _, e := range testutil.SampleEntries() {
				want[e.Name] = string(e.Data)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("entries (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRepackMissingDir(t *testing.T) {
	if _, err := Repack(RepackRequest{Dir: filepath.Join(t.TempDir(), "nope"), Output: "x.wxapkg"}); err == nil {
		t.Error("missing dir should fail")
	}
}
