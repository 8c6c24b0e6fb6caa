package specs

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"
)

// Resolver expands spec file patterns relative to a base directory. Patterns
// support "**" for recursive matching.
type Resolver struct{}

// NewResolver returns a filesystem backed resolver.
func NewResolver() *Resolver { return &Resolver{} }

// Resolve expands patterns into absolute, cleaned paths. Matches of each pattern are
// sorted, patterns are applied in order, and duplicates keep their first position.
// A spec pattern that matches nothing is logged and skipped; exclusion patterns are
// allowed to match nothing silently.
func (r *Resolver) Resolve(patterns []string, exclusion bool, baseDir string) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		full := pattern
		if !filepath.IsAbs(full) {
			full = filepath.Join(baseDir, pattern)
		}
		matches, err := doublestar.FilepathGlob(full)
		if err != nil {
			return nil, fmt.Errorf("resolve pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 && !exclusion {
			log.Warn().Str("pattern", pattern).Str("base_dir", baseDir).Msg("pattern did not match any files")
			continue
		}
		sort.Strings(matches)
		for _, m := range matches {
			abs, err := filepath.Abs(m)
			if err != nil {
				return nil, fmt.Errorf("absolute path for %s: %w", m, err)
			}
			if _, dup := seen[abs]; dup {
				continue
			}
			seen[abs] = struct{}{}
			out = append(out, abs)
		}
	}
	return out, nil
}
