package models

import (
	"os"
	"path/filepath"
	"strings"
)

// RuleKind tags how a rule is matched against paths.
type RuleKind int

const (
	// RuleLiteral matches one exact path.
	RuleLiteral RuleKind = iota
	// RuleDirectoryPrefix matches a directory and everything below it.
	RuleDirectoryPrefix
	// RuleGlob matches paths with shell glob semantics, including "**".
	RuleGlob
)

// String returns the config section name of the kind.
func (k RuleKind) String() string {
	switch k {
	case RuleLiteral:
		return "files"
	case RuleDirectoryPrefix:
		return "folders"
	case RuleGlob:
		return "patterns"
	}
	return "unknown"
}

// Rule is a single include or exclude entry.
type Rule struct {
	Kind  RuleKind
	Value string
}

// RuleSet is the include and exclude selection of a backup.
type RuleSet struct {
	Includes []Rule
	Excludes []Rule
}

// IsGlobPattern reports whether s contains glob meta characters.
func IsGlobPattern(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// ClassifyRule turns a user supplied value into a rule, checking the filesystem
// to tell directories from files. Values that neither exist nor look like
// patterns are kept as literals so a missing file can still be excluded.
func ClassifyRule(value string) Rule {
	if IsGlobPattern(value) {
		return Rule{Kind: RuleGlob, Value: value}
	}

	abs := value
	if a, err := filepath.Abs(value); err == nil {
		abs = a
	}

	info, err := os.Stat(abs)
	switch {
	case err != nil:
		return Rule{Kind: RuleLiteral, Value: abs}
	case info.IsDir():
		return Rule{Kind: RuleDirectoryPrefix, Value: abs}
	default:
		return Rule{Kind: RuleLiteral, Value: abs}
	}
}

// Flatten returns the raw rule values in kind order: folders, files, patterns.
func Flatten(rules []Rule) []string {
	out := make([]string, 0, len(rules))
	for _, kind := range []RuleKind{RuleDirectoryPrefix, RuleLiteral, RuleGlob} {
		for _, r := range rules {
			if r.Kind == kind {
				out = append(out, r.Value)
			}
		}
	}
	return out
}
