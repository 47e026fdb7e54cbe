package split

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/wedecode/internal/resolve"
	"github.com/starford/wedecode/internal/storage"
)

func newSplitter(t *testing.T) (*Splitter, *storage.FS) {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(fs, resolve.New(resolve.DefaultPolicy()), DefaultUnits(), logger), fs
}

func listPaths(t *testing.T, fs *storage.FS) []string {
	t.Helper()
	entries, err := fs.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

const serviceBundle = `var __wxAppCode__ = {};
function define(e, t) { __wxAppCode__[e] = t }
define("app.js", function(require, module, exports){ var a = require("./utils/util.js"); App({}) });
define("utils/util.js", function(require, module, exports){ module.exports = { w: 10rpx, s: "{ 10rpx }" } });
define("pages/a", function(){ Page({}) });
define("pages/a.js", function(){ Page({b: 1}) });
`

func TestSplitFileDirectoryClash(t *testing.T) {
	s, fs := newSplitter(t)
	src := `define("a", function(){ A() });
define("a.js/b", function(){ B() });
`
	res := s.Split(context.Background(), "bundle.js", src, false)
	if len(res.Issues) != 0 {
		t.Fatalf("issues: %+v", res.Issues)
	}
	if len(res.Manifest) != 2 {
		t.Errorf("manifest = %+v", res.Manifest)
	}
	want := []string{"bundle/a.js", "bundle/a_1.js/b.js"}
	if diff := cmp.Diff(want, listPaths(t, fs)); diff != "" {
		t.Errorf("tree (-want +got):\n%s", diff)
	}
}

func TestSplitFile(t *testing.T) {
	s, fs := newSplitter(t)
	if err := fs.Write("app-service.js", []byte(serviceBundle)); err != nil {
		t.Fatal(err)
	}
	res, err := s.SplitFile(context.Background(), "app-service.js", true)
	if err != nil {
		t.Fatalf("SplitFile: %v", err)
	}
	if len(res.Issues) != 0 {
		t.Fatalf("issues: %+v", res.Issues)
	}

	want := []string{
		"app-service/app.js",
		"app-service/pages/a.js",
		"app-service/pages/a_1.js",
		"app-service/utils/util.js",
	}
	if diff := cmp.Diff(want, listPaths(t, fs)); diff != "" {
		t.Errorf("tree (-want +got):\n%s", diff)
	}
	if res.Tree.Entry != "app-service/app.js" {
		t.Errorf("entry = %q", res.Tree.Entry)
	}

	util, _ := fs.Read("app-service/utils/util.js")
	if got, want := string(util), ` module.exports = { w: 5px, s: "{ 10rpx }" } `; got != want {
		t.Errorf("util body = %q, want %q", got, want)
	}
	a1, _ := fs.Read("app-service/pages/a_1.js")
	if string(a1) != " Page({b: 1}) " {
		t.Errorf("collided module body = %q", a1)
	}

	if len(res.Manifest) != 4 || !res.Manifest[0].Entry {
		t.Errorf("manifest = %+v", res.Manifest)
	}
}

func TestSplitFileWithoutRegistrationsIsUntouched(t *testing.T) {
	s, fs := newSplitter(t)
	_ = fs.Write("lib.js", []byte(`console.log("define")`))
	res, err := s.SplitFile(context.Background(), "lib.js", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Manifest) != 0 || !fs.Exists("lib.js") {
		t.Errorf("plain script was split: %+v", res)
	}
}

func TestSplitRecordsParseWarnings(t *testing.T) {
	s, fs := newSplitter(t)
	src := `define("ok.js", function(){ return 1 }); define("bad.js", function(){ if (x) {`
	_ = fs.Write("b.js", []byte(src))
	res, err := s.SplitFile(context.Background(), "b.js", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Issues) != 1 || res.Issues[0].Kind != "parse" || res.Issues[0].Path != "b.js" {
		t.Fatalf("issues = %+v", res.Issues)
	}
	if diff := cmp.Diff([]string{"b/ok.js"}, listPaths(t, fs)); diff != "" {
		t.Errorf("tree (-want +got):\n%s", diff)
	}
}

func TestSplitMarkup(t *testing.T) {
	s, fs := newSplitter(t)
	html := `<html><head><script src="wxconfig.js"></script>
<script>var x = 1;</script>
<script>define("pages/p.js", function(){ render() });</script></head><body></body></html>`
	_ = fs.Write("page-frame.html", []byte(html))
	res, err := s.SplitMarkup(context.Background(), "page-frame.html", false)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"page-frame.html", "page-frame/pages/p.js"}
	if diff := cmp.Diff(want, listPaths(t, fs)); diff != "" {
		t.Errorf("tree (-want +got):\n%s", diff)
	}
	if len(res.Manifest) != 1 || res.Manifest[0].ModuleID != "pages/p.js" {
		t.Errorf("manifest = %+v", res.Manifest)
	}
}

func TestRewriteStyleFile(t *testing.T) {
	s, fs := newSplitter(t)
	_ = fs.Write("app.wxss", []byte(".a{width:750rpx}"))
	n, err := s.RewriteStyle("app.wxss")
	if err != nil || n != 1 {
		t.Fatalf("RewriteStyle = %d, %v", n, err)
	}
	got, _ := fs.Read("app.wxss")
	if string(got) != ".a{width:375px}" {
		t.Errorf("style = %q", got)
	}
}
