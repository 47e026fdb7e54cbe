// Package appconfig restores the per-project configuration files that the
// build toolchain merges into a single app-config.json.
package appconfig

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/starford/wedecode/internal/storage"
)

// FileName is the merged configuration written by the toolchain.
const FileName = "app-config.json"

// appKeys are copied verbatim from the merged config into app.json.
var appKeys = []string{
	"pages",
	"tabBar",
	"networkTimeout",
	"navigateToMiniProgramAppIdList",
	"plugins",
	"permission",
	"requiredBackgroundModes",
	"entryPagePath",
}

type merged struct {
	Global struct {
		Window json.RawMessage `json:"window"`
	} `json:"global"`
	Page map[string]struct {
		Window json.RawMessage `json:"window"`
	} `json:"page"`
}

// Restore reads dir/app-config.json from store and writes dir/app.json plus
// one <page>.json per configured page. It returns the written paths sorted.
// A missing merged config is not an error.
func Restore(store storage.Provider, dir string) ([]string, error) {
	src := path.Join(dir, FileName)
	if !store.Exists(src) {
		return nil, nil
	}
	data, err := store.Read(src)
	if err != nil {
		return nil, fmt.Errorf("appconfig: read: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("appconfig: parse %s: %w", src, err)
	}
	var m merged
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("appconfig: parse %s: %w", src, err)
	}

	app := make(map[string]json.RawMessage)
	for _, k := range appKeys {
		if v, ok := raw[k]; ok {
			app[k] = v
		}
	}
	if len(m.Global.Window) > 0 {
		app["window"] = m.Global.Window
	}
	if v, ok := raw["subPackages"]; ok {
		app["subPackages"] = v
	} else if v, ok := raw["subpackages"]; ok {
		app["subPackages"] = v
	}

	var written []string
	appPath := path.Join(dir, "app.json")
	if err := writeJSON(store, appPath, app); err != nil {
		return written, err
	}
	written = append(written, appPath)

	pages := make([]string, 0, len(m.Page))
	for p := range m.Page {
		pages = append(pages, p)
	}
	sort.Strings(pages)
	for _, p := range pages {
		win := m.Page[p].Window
		if len(win) == 0 {
			continue
		}
		rel := strings.TrimSuffix(p, path.Ext(p)) + ".json"
		dst := path.Join(dir, path.Clean("/" + rel)[1:])
		if err := writeJSON(store, dst, win); err != nil {
			return written, err
		}
		written = append(written, dst)
	}
	sort.Strings(written)
	return written, nil
}

func writeJSON(store storage.Provider, p string, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("appconfig: encode %s: %w", p, err)
	}
	out = append(out, '\n')
	return store.Write(p, out)
}
