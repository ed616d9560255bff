// Package matcher resolves include and exclude rules into a backup selection.
package matcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for rule resolution.
type Service interface {
	Resolve(rules models.RuleSet) ([]string, error)
	RsyncExcludes(excludes []models.Rule) []string
}

// Globber expands a filesystem glob pattern.
type Globber interface {
	Glob(pattern string) ([]string, error)
}

// DefaultGlobber expands patterns with doublestar so "**" crosses directories.
type DefaultGlobber struct{}

// Glob returns the paths matching pattern.
func (g *DefaultGlobber) Glob(pattern string) ([]string, error) {
	return doublestar.FilepathGlob(pattern)
}

// Impl implements the matcher Service interface.
type Impl struct {
	globber Globber
	workDir func() (string, error)
	logger  zerolog.Logger
}

// New creates a new matcher service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		globber: &DefaultGlobber{},
		workDir: os.Getwd,
		logger:  logger.With().Str("component", "matcher").Logger(),
	}
}

// NewWithGlobber creates a new matcher service with a custom globber (for testing).
func NewWithGlobber(logger zerolog.Logger, globber Globber) *Impl {
	s := New(logger)
	s.globber = globber
	return s
}

// Resolve turns the include rules into sorted absolute paths and drops
// everything an exclude rule matches. Empty includes yield an empty selection.
func (s *Impl) Resolve(rules models.RuleSet) ([]string, error) {
	if len(rules.Includes) == 0 {
		return []string{}, nil
	}

	for _, r := range append(append([]models.Rule{}, rules.Includes...), rules.Excludes...) {
		if r.Kind == models.RuleGlob && !doublestar.ValidatePathPattern(r.Value) {
			return nil, models.ConfigError("invalid pattern %q", r.Value)
		}
	}

	candidates, err := s.expandIncludes(rules.Includes)
	if err != nil {
		return nil, err
	}

	excludes, err := s.normalize(rules.Excludes)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(candidates))
	selection := make([]string, 0, len(candidates))
	for _, path := range candidates {
		if seen[path] {
			continue
		}
		seen[path] = true

		if rule, ok := excluded(path, excludes); ok {
			s.logger.Debug().Str("path", path).Str("rule", rule.Value).Msg("excluded")
			continue
		}
		selection = append(selection, path)
	}

	sort.Strings(selection)
	selection = collapse(selection)

	s.logger.Debug().
		Int("includes", len(rules.Includes)).
		Int("excludes", len(rules.Excludes)).
		Int("selected", len(selection)).
		Msg("rules resolved")

	return selection, nil
}

// RsyncExcludes renders exclude rules as rsync exclude patterns. Literal and
// directory rules are anchored at the transfer root, which with --relative is
// the filesystem root. rsync has no brace alternatives, so glob rules like
// "*.{tmp,log}" become one pattern per alternative.
func (s *Impl) RsyncExcludes(excludes []models.Rule) []string {
	out := make([]string, 0, len(excludes))
	for _, r := range excludes {
		switch r.Kind {
		case models.RuleLiteral, models.RuleDirectoryPrefix:
			out = append(out, filepath.Clean(r.Value))
		case models.RuleGlob:
			for _, p := range expandBraces(r.Value) {
				if !slices.Contains(out, p) {
					out = append(out, p)
				}
			}
		}
	}
	return out
}

// expandBraces expands the first brace group of pattern and recurses on the
// results. Unbalanced or escaped braces are left as they are.
func expandBraces(pattern string) []string {
	open, end := -1, -1
	depth := 0
	var commas []int
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++
		case '{':
			if depth == 0 {
				open = i
				commas = commas[:0]
			}
			depth++
		case ',':
			if depth == 1 {
				commas = append(commas, i)
			}
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end >= 0 {
			break
		}
	}
	if open < 0 || end < 0 {
		return []string{pattern}
	}

	prefix, suffix := pattern[:open], pattern[end+1:]
	bounds := append(append([]int{open}, commas...), end)
	var out []string
	for i := 0; i+1 < len(bounds); i++ {
		alt := pattern[bounds[i]+1 : bounds[i+1]]
		out = append(out, expandBraces(prefix+alt+suffix)...)
	}
	return out
}

func (s *Impl) expandIncludes(includes []models.Rule) ([]string, error) {
	var roots []string
	for _, r := range includes {
		if r.Kind == models.RuleDirectoryPrefix {
			abs, err := s.absolute(r.Value)
			if err != nil {
				return nil, err
			}
			roots = append(roots, abs)
		}
	}

	var out []string
	for _, r := range includes {
		switch r.Kind {
		case models.RuleLiteral, models.RuleDirectoryPrefix:
			abs, err := s.absolute(r.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, abs)
		case models.RuleGlob:
			matches, err := s.expandGlob(r.Value, roots)
			if err != nil {
				return nil, err
			}
			out = append(out, matches...)
		}
	}
	return out, nil
}

func (s *Impl) expandGlob(pattern string, roots []string) ([]string, error) {
	var patterns []string
	switch {
	case filepath.IsAbs(pattern):
		patterns = []string{pattern}
	case len(roots) > 0:
		for _, root := range roots {
			patterns = append(patterns, filepath.Join(root, pattern))
		}
	default:
		wd, err := s.workDir()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		patterns = []string{filepath.Join(wd, pattern)}
	}

	var out []string
	for _, p := range patterns {
		matches, err := s.globber.Glob(p)
		if err != nil {
			if errors.Is(err, doublestar.ErrBadPattern) {
				return nil, models.ConfigError("invalid pattern %q", pattern)
			}
			return nil, fmt.Errorf("expanding %q: %w", p, err)
		}
		if len(matches) == 0 {
			s.logger.Debug().Str("pattern", p).Msg("pattern matched nothing")
		}
		for _, m := range matches {
			out = append(out, filepath.Clean(m))
		}
	}
	return out, nil
}

func (s *Impl) normalize(excludes []models.Rule) ([]models.Rule, error) {
	out := make([]models.Rule, 0, len(excludes))
	for _, r := range excludes {
		if r.Kind == models.RuleGlob {
			out = append(out, r)
			continue
		}
		abs, err := s.absolute(r.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Rule{Kind: r.Kind, Value: abs})
	}
	return out, nil
}

func (s *Impl) absolute(path string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	wd, err := s.workDir()
	if err != nil {
		return "", fmt.Errorf("resolving working directory: %w", err)
	}
	return filepath.Join(wd, path), nil
}

// excluded reports the first exclude rule that drops path.
func excluded(path string, excludes []models.Rule) (models.Rule, bool) {
	for _, r := range excludes {
		switch r.Kind {
		case models.RuleLiteral:
			if path == r.Value {
				return r, true
			}
		case models.RuleDirectoryPrefix:
			if path == r.Value || isDescendant(path, r.Value) {
				return r, true
			}
		case models.RuleGlob:
			if globMatches(r.Value, path) {
				return r, true
			}
		}
	}
	return models.Rule{}, false
}

// globMatches matches pattern against path or any of its ancestors. Patterns
// without a separator match base names, relative ones match at any depth.
func globMatches(pattern, path string) bool {
	for p := path; p != "/" && p != "." && p != ""; p = filepath.Dir(p) {
		var ok bool
		switch {
		case !strings.Contains(pattern, "/"):
			ok, _ = doublestar.Match(pattern, filepath.Base(p))
		case filepath.IsAbs(pattern):
			ok, _ = doublestar.PathMatch(pattern, p)
		default:
			ok, _ = doublestar.PathMatch("**/"+pattern, strings.TrimPrefix(p, "/"))
		}
		if ok {
			return true
		}
	}
	return false
}

func isDescendant(path, dir string) bool {
	if dir == "/" {
		return path != "/"
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

// collapse drops paths already covered by an included ancestor. Input must be
// sorted so ancestors precede their descendants.
func collapse(sorted []string) []string {
	kept := make(map[string]bool, len(sorted))
	out := make([]string, 0, len(sorted))
	for _, p := range sorted {
		if coveredBy(p, kept) {
			continue
		}
		kept[p] = true
		out = append(out, p)
	}
	return out
}

func coveredBy(path string, kept map[string]bool) bool {
	for d := filepath.Dir(path); ; d = filepath.Dir(d) {
		if kept[d] {
			return true
		}
		if d == "/" || d == "." {
			return false
		}
	}
}
