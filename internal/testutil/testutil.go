// Package testutil provides shared fixtures: synthetic packages, output
// stores and catalogs.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/starford/wedecode/internal/catalog"
	"github.com/starford/wedecode/internal/storage"
	"github.com/starford/wedecode/internal/wxapkg"
)

// AppID is a well-formed app id used to seal fixtures.
const AppID = "wx0123456789abcdef"

// ServiceBundle is a small logic-layer bundle: a loader shim followed by
// four registrations, two of which collide after normalization.
const ServiceBundle = `var __wxAppCode__ = {};
function define(e, t) { __wxAppCode__[e] = t }
define("app.js", function(require, module, exports){ var u = require("./utils/util.js"); App({ onLaunch() { u.log("{ }") } }) });
define("utils/util.js", function(require, module, exports){ module.exports = { log: function(s) { console.log(s) }, gap: 20rpx } });
define("pages/index/index", function(require){ Page({ data: { w: "10rpx" } }) });
define("pages/index/index.js", function(require){ Page({}) });
`

// AppConfig is a minimal app-config.json.
const AppConfig = `{
  "pages": ["pages/index/index", "pages/logs/logs"],
  "entryPagePath": "pages/index/index",
  "global": {"window": {"navigationBarTitleText": "Demo"}},
  "page": {
    "pages/logs/logs.html": {"window": {"navigationBarTitleText": "Logs"}}
  }
}`

// SampleEntries returns the entries of a typical main package.
func SampleEntries() []wxapkg.Entry {
	return []wxapkg.Entry{
		{Name: "/app-config.json", Data: []byte(AppConfig)},
		{Name: "/app-service.js", Data: []byte(ServiceBundle)},
		{Name: "/app.wxss", Data: []byte(".page{padding:30rpx}/* 2rpx */")},
		{Name: "/pages/index/index.wxml", Data: []byte(`<view class="c">{{w}}</view>`)},
		{Name: "/images/logo.png", Data: []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}},
	}
}

// SamplePackage packs SampleEntries.
func SamplePackage() []byte {
	return wxapkg.Pack(0, SampleEntries())
}

// WriteFile writes data to dir/name and returns the path.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := dir + string(os.PathSeparator) + name
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// Logger returns a logger that discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestCatalog creates a temporary SQLite catalog that is automatically cleaned up.
func TestCatalog(t *testing.T) *catalog.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "wedecode-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := catalog.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStore creates a temporary output directory with a storage provider.
func TestStore(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}
