package exec

import (
	"runtime"
	"sort"
	"strings"
)

// MergeEnv overlays overlay onto base (KEY=VALUE entries). Overlay keys
// replace existing entries; on Windows keys compare case-insensitively.
// Keys containing '=' or empty keys are skipped.
func MergeEnv(base []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return append([]string(nil), base...)
	}
	fold := func(k string) string { return k }
	if runtime.GOOS == "windows" {
		fold = strings.ToUpper
	}

	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		if k == "" || strings.Contains(k, "=") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	replaced := make(map[string]bool, len(keys))
	for _, k := range keys {
		replaced[fold(k)] = true
	}

	out := make([]string, 0, len(base)+len(keys))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if replaced[fold(key)] {
			continue
		}
		out = append(out, kv)
	}
	for _, k := range keys {
		out = append(out, k+"="+overlay[k])
	}
	return out
}
