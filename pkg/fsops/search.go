package fsops

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/sameehj/execbridge/pkg/types"
)

type Match struct {
	Path     string     `json:"path"`
	Type     string     `json:"type,omitempty"`
	Size     int64      `json:"size"`
	Modified *time.Time `json:"modified,omitempty"`
	Error    string     `json:"error,omitempty"`
}

type SearchResult struct {
	Root      string  `json:"root"`
	Pattern   string  `json:"pattern"`
	Matches   []Match `json:"matches"`
	Total     int     `json:"total"`
	Truncated bool    `json:"truncated"`
}

// Search expands a glob pattern ("**" crosses directories) beneath dir.
// Patterns are always relative to dir; every match is re-joined to the root
// with symlinks scoped inside it, so nothing outside dir is reported.
func (s *Service) Search(dir, pattern string) (*SearchResult, error) {
	root, err := s.guard.Validate(dir)
	if err != nil {
		return nil, err
	}
	pattern = strings.TrimSpace(filepath.ToSlash(pattern))
	if pattern == "" {
		return nil, types.Malformed("search", "pattern is required")
	}
	if strings.HasPrefix(pattern, "/") || hasParentSegment(pattern) || !doublestar.ValidatePattern(pattern) {
		return nil, types.Malformed("search", "invalid pattern %q", pattern)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, types.FromOS("search", root, err)
	}
	if !info.IsDir() {
		return nil, &types.Error{Kind: types.KindMalformedRequest, Op: "search", Path: root, Message: "not a directory"}
	}

	found, err := doublestar.Glob(os.DirFS(root), pattern)
	if err != nil {
		return nil, types.Malformed("search", "invalid pattern %q: %v", pattern, err)
	}
	sort.Strings(found)

	res := &SearchResult{Root: root, Pattern: pattern, Total: len(found), Matches: []Match{}}
	if len(found) > s.opts.MaxSearchResults {
		found = found[:s.opts.MaxSearchResults]
		res.Truncated = true
	}
	for _, rel := range found {
		res.Matches = append(res.Matches, matchFor(root, rel))
	}
	return res, nil
}

func matchFor(root, rel string) Match {
	full, err := securejoin.SecureJoin(root, filepath.FromSlash(rel))
	if err != nil {
		return Match{Path: filepath.Join(root, filepath.FromSlash(rel)), Error: err.Error()}
	}
	info, err := os.Stat(full)
	if err != nil {
		return Match{Path: full, Error: err.Error()}
	}
	return Match{
		Path:     full,
		Type:     typeOf(info.Mode()),
		Size:     info.Size(),
		Modified: timePtr(info.ModTime()),
	}
}

func hasParentSegment(pattern string) bool {
	for _, seg := range strings.Split(pattern, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
