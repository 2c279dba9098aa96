package launcher

import (
	"sort"
	"strings"
)

// MergeEnv layers overlay on top of base and prepends pathDirs to PATH.
// npm lifecycle variables leak in when the adapter itself is started through
// npm and confuse node-based agents, so they are dropped. Keys compare
// case-insensitively on Windows.
func MergeEnv(base []string, overlay map[string]string, pathDirs []string, goos string) []string {
	fold := goos == "windows"
	norm := func(k string) string {
		if fold {
			return strings.ToUpper(k)
		}
		return k
	}

	type entry struct {
		key, value string
	}
	var order []string
	values := make(map[string]entry, len(base)+len(overlay))
	set := func(k, v string) {
		nk := norm(k)
		if _, ok := values[nk]; !ok {
			order = append(order, nk)
		}
		values[nk] = entry{key: k, value: v}
	}

	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" || strings.HasPrefix(strings.ToLower(k), "npm_") {
			continue
		}
		set(k, v)
	}

	overlayKeys := make([]string, 0, len(overlay))
	for k := range overlay {
		overlayKeys = append(overlayKeys, k)
	}
	sort.Strings(overlayKeys)
	for _, k := range overlayKeys {
		if existing, ok := values[norm(k)]; ok {
			// keep the original spelling (Path vs PATH on Windows)
			set(existing.key, overlay[k])
			continue
		}
		set(k, overlay[k])
	}

	if len(pathDirs) > 0 {
		sep := ":"
		if goos == "windows" {
			sep = ";"
		}
		key := "PATH"
		current := ""
		if existing, ok := values[norm("PATH")]; ok {
			key = existing.key
			current = existing.value
		}
		parts := append([]string(nil), pathDirs...)
		if current != "" {
			parts = append(parts, current)
		}
		set(key, strings.Join(parts, sep))
	}

	out := make([]string, 0, len(order))
	for _, nk := range order {
		e := values[nk]
		out = append(out, e.key+"="+e.value)
	}
	return out
}

// LookupEnv returns the value of key in env, honoring Windows case folding.
func LookupEnv(env []string, key, goos string) (string, bool) {
	for i := len(env) - 1; i >= 0; i-- {
		k, v, ok := strings.Cut(env[i], "=")
		if !ok {
			continue
		}
		if k == key || (goos == "windows" && strings.EqualFold(k, key)) {
			return v, true
		}
	}
	return "", false
}
