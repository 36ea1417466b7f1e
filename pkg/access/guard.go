// Package access decides whether a requested path may be touched.
//
// A Guard is built once from a Policy and never changes afterwards. Validate
// is a pure function of its input and the Guard: it normalises the path
// lexically and never consults the file system, so the same (policy, path)
// pair always yields the same answer.
package access

import (
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sameehj/execbridge/pkg/types"
)

// Policy is the configuration a Guard is built from.
type Policy struct {
	// Volumes are permitted drive designators such as "C" or "D:".
	Volumes []string
	// Prefixes are permitted path prefixes.
	Prefixes []string
	// ScratchDir is the staging area for generated files; always permitted.
	ScratchDir string
	// OpenPaths are always permitted regardless of the rules above.
	OpenPaths []string
	// HomeDir expands a leading "~". Its last element also names a user whose
	// mounted Windows profile is always permitted.
	HomeDir string
	// HomeUsers are further user names whose Windows profile directories
	// (C:/Users/<name>, /mnt/c/Users/<name>, any drive) are always permitted.
	HomeUsers []string
	// BaseDir resolves relative paths.
	BaseDir string
}

// Rules is the active rule set, reported with every denial.
type Rules struct {
	Volumes    []string `json:"volumes"`
	Prefixes   []string `json:"prefixes"`
	ScratchDir string   `json:"scratch_dir,omitempty"`
	OpenPaths  []string `json:"open_paths,omitempty"`

	// MountedHomes lists the always-open profile directories, "*" standing
	// for any drive letter.
	MountedHomes []string `json:"mounted_homes,omitempty"`
}

type Guard struct {
	volumes  map[string]bool
	prefixes []string
	open     []string
	scratch  string
	users    []string
	home     string
	base     string
}

func NewGuard(p Policy) *Guard {
	g := &Guard{
		volumes: make(map[string]bool, len(p.Volumes)),
		home:    Normalize(p.HomeDir, "", ""),
	}
	g.base = Normalize(p.BaseDir, "", g.home)
	for _, v := range p.Volumes {
		if vol := normalizeVolume(v); vol != "" {
			g.volumes[vol] = true
		}
	}
	for _, prefix := range p.Prefixes {
		if n := g.normalize(prefix); n != "" {
			g.prefixes = append(g.prefixes, n)
		}
	}
	if p.ScratchDir != "" {
		g.scratch = g.normalize(p.ScratchDir)
	}
	for _, op := range p.OpenPaths {
		if n := g.normalize(op); n != "" {
			g.open = append(g.open, n)
		}
	}
	g.users = homeUsers(g.home, p.HomeUsers)
	return g
}

// Validate returns the canonical form of p, or an AccessDenied error when p
// matches none of the rules.
func (g *Guard) Validate(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", types.Malformed("validate", "path is required")
	}
	n := g.normalize(p)
	if g.Allowed(n) {
		return filepath.FromSlash(n), nil
	}
	return "", &types.Error{
		Kind:    types.KindAccessDenied,
		Op:      "validate",
		Path:    p,
		Message: "path is outside the allowed volumes and prefixes",
		Details: g.Rules(),
	}
}

// ValidateOptional behaves like Validate but accepts an empty path, which it
// returns unchanged. It is used for optional working-directory arguments.
func (g *Guard) ValidateOptional(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", nil
	}
	return g.Validate(p)
}

// Allowed reports whether the already normalised path n is permitted.
func (g *Guard) Allowed(n string) bool {
	if g.scratch != "" && within(n, g.scratch) {
		return true
	}
	for _, op := range g.open {
		if within(n, op) {
			return true
		}
	}
	if g.inMountedHome(n) {
		return true
	}
	for _, prefix := range g.prefixes {
		if within(n, prefix) {
			return true
		}
	}
	if vol := volumeOf(n); vol != "" && g.volumes[vol] {
		return true
	}
	return false
}

func (g *Guard) Rules() Rules {
	vols := make([]string, 0, len(g.volumes))
	for v := range g.volumes {
		vols = append(vols, v)
	}
	sort.Strings(vols)
	var homes []string
	for _, u := range g.users {
		homes = append(homes, "*:/Users/"+u, "/mnt/*/Users/"+u)
	}
	return Rules{
		Volumes:      vols,
		Prefixes:     append([]string{}, g.prefixes...),
		ScratchDir:   g.scratch,
		OpenPaths:    append([]string(nil), g.open...),
		MountedHomes: homes,
	}
}

// inMountedHome reports whether n lies in the Windows profile directory of
// a home user, reached by drive letter or through a WSL mount. Windows
// file systems ignore case, so the match does too.
func (g *Guard) inMountedHome(n string) bool {
	if len(g.users) == 0 {
		return false
	}
	var rest string
	if _, r, ok := splitDrive(n); ok {
		rest = r
	} else if volumeOf(n) != "" {
		rest = n[len("/mnt/x"):]
	} else {
		return false
	}
	parts := strings.SplitN(strings.TrimPrefix(rest, "/"), "/", 3)
	if len(parts) < 2 || !strings.EqualFold(parts[0], "Users") {
		return false
	}
	for _, u := range g.users {
		if strings.EqualFold(parts[1], u) {
			return true
		}
	}
	return false
}

// homeUsers collects the distinct user names of the mounted home
// convention: the last element of home plus extra.
func homeUsers(home string, extra []string) []string {
	var users []string
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" || u == "." || u == ".." || strings.ContainsAny(u, `/\:`) {
			return
		}
		for _, seen := range users {
			if strings.EqualFold(seen, u) {
				return
			}
		}
		users = append(users, u)
	}
	if home != "" && home != "/" && !strings.HasSuffix(home, ":/") {
		add(path.Base(home))
	}
	for _, u := range extra {
		add(u)
	}
	return users
}

func (g *Guard) normalize(p string) string {
	return Normalize(p, g.base, g.home)
}

// Normalize cleans p lexically: separators become "/", "." and ".." are
// resolved, a drive letter is upper-cased and relative paths are joined to
// base. "~" expands to home.
func Normalize(p, base, home string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, `\`, "/")
	if home != "" && (p == "~" || strings.HasPrefix(p, "~/")) {
		p = home + strings.TrimPrefix(p, "~")
	}

	if vol, rest, ok := splitDrive(p); ok {
		if !strings.HasPrefix(rest, "/") {
			rest = "/" + rest
		}
		return vol + path.Clean(rest)
	}
	if strings.HasPrefix(p, "//") {
		return "/" + path.Clean(p[1:])
	}
	if !strings.HasPrefix(p, "/") {
		if base == "" {
			return path.Clean("/" + p)
		}
		return Normalize(base+"/"+p, "", "")
	}
	return path.Clean(p)
}

func splitDrive(p string) (string, string, bool) {
	if len(p) >= 2 && p[1] == ':' && isLetter(p[0]) {
		return strings.ToUpper(p[:1]) + ":", p[2:], true
	}
	return "", p, false
}

// volumeOf returns the drive letter of a normalised path. WSL style mounts
// (/mnt/c/...) carry the volume of the drive they mount.
func volumeOf(n string) string {
	if vol, _, ok := splitDrive(n); ok {
		return vol[:1]
	}
	if strings.HasPrefix(n, "/mnt/") {
		rest := n[len("/mnt/"):]
		if len(rest) >= 1 && isLetter(rest[0]) && (len(rest) == 1 || rest[1] == '/') {
			return strings.ToUpper(rest[:1])
		}
	}
	return ""
}

func normalizeVolume(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimRight(v, `:\/`)
	if len(v) != 1 || !isLetter(v[0]) {
		return ""
	}
	return strings.ToUpper(v)
}

// within reports whether n equals root or lies beneath it. Paths carrying a
// drive letter compare case-insensitively.
func within(n, root string) bool {
	if hasDrive(n) || hasDrive(root) {
		n, root = strings.ToLower(n), strings.ToLower(root)
	}
	if n == root {
		return true
	}
	if root == "/" || strings.HasSuffix(root, ":/") {
		return strings.HasPrefix(n, root)
	}
	return strings.HasPrefix(n, root+"/")
}

func hasDrive(p string) bool {
	_, _, ok := splitDrive(p)
	return ok
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
