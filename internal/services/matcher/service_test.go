package matcher

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockGlobber struct {
	globFunc func(pattern string) ([]string, error)
}

func (m *mockGlobber) Glob(pattern string) ([]string, error) {
	if m.globFunc != nil {
		return m.globFunc(pattern)
	}
	return nil, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// tree creates files (and their parent dirs) below a temp root.
func tree(t *testing.T, files ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range files {
		path := filepath.Join(root, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(f), 0o600))
	}
	return root
}

func dir(v string) models.Rule  { return models.Rule{Kind: models.RuleDirectoryPrefix, Value: v} }
func file(v string) models.Rule { return models.Rule{Kind: models.RuleLiteral, Value: v} }
func glob(v string) models.Rule { return models.Rule{Kind: models.RuleGlob, Value: v} }

func TestResolve_EmptyIncludes(t *testing.T) {
	svc := New(testLogger())

	got, err := svc.Resolve(models.RuleSet{Excludes: []models.Rule{file("/etc/passwd")}})

	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestResolve_LiteralsIncludedDirectly(t *testing.T) {
	root := tree(t, "docs/a.txt", "notes.md")
	svc := New(testLogger())

	got, err := svc.Resolve(models.RuleSet{
		Includes: []models.Rule{
			file(filepath.Join(root, "notes.md")),
			dir(filepath.Join(root, "docs")),
			file(filepath.Join(root, "missing.txt")),
		},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "docs"),
		filepath.Join(root, "missing.txt"),
		filepath.Join(root, "notes.md"),
	}, got)
}

func TestResolve_GlobExpandedAgainstDirectoryRoots(t *testing.T) {
	root := tree(t, "home/a.conf", "home/sub/b.conf", "home/c.txt", "other/d.conf")
	svc := New(testLogger())

	got, err := svc.Resolve(models.RuleSet{
		Includes: []models.Rule{
			dir(filepath.Join(root, "other")),
			glob("**/*.conf"),
		},
	})

	require.NoError(t, err)
	// d.conf is covered by the included "other" directory.
	assert.Equal(t, []string{filepath.Join(root, "other")}, got)

	got, err = svc.Resolve(models.RuleSet{
		Includes: []models.Rule{glob(filepath.Join(root, "home", "**", "*.conf"))},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "home", "a.conf"),
		filepath.Join(root, "home", "sub", "b.conf"),
	}, got)
}

func TestResolve_UnmatchedPatternIsNotAnError(t *testing.T) {
	root := tree(t, "a.txt")
	svc := New(testLogger())

	got, err := svc.Resolve(models.RuleSet{
		Includes: []models.Rule{glob(filepath.Join(root, "*.nothing"))},
	})

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolve_ExcludeWins(t *testing.T) {
	root := tree(t, "a/keep.txt", "a/secret.key", "b/cache/x", "b/data.db", "c.tmp")

	tests := []struct {
		name     string
		includes []models.Rule
		excludes []models.Rule
		want     []string
	}{
		{
			name:     "exact literal",
			includes: []models.Rule{file(filepath.Join(root, "c.tmp")), dir(filepath.Join(root, "a"))},
			excludes: []models.Rule{file(filepath.Join(root, "c.tmp"))},
			want:     []string{filepath.Join(root, "a")},
		},
		{
			name:     "descendant of exclude directory",
			includes: []models.Rule{glob(filepath.Join(root, "b", "*")), glob(filepath.Join(root, "b", "*", "*"))},
			excludes: []models.Rule{dir(filepath.Join(root, "b", "cache"))},
			want:     []string{filepath.Join(root, "b", "data.db")},
		},
		{
			name:     "basename glob",
			includes: []models.Rule{glob(filepath.Join(root, "a", "*"))},
			excludes: []models.Rule{glob("*.key")},
			want:     []string{filepath.Join(root, "a", "keep.txt")},
		},
		{
			name:     "relative path glob",
			includes: []models.Rule{glob(filepath.Join(root, "**", "*"))},
			excludes: []models.Rule{glob("b/cache"), glob("b/*.db"), glob("a/*.txt"), glob("*.key"), glob("*.tmp")},
			want:     []string{filepath.Join(root, "a"), filepath.Join(root, "b")},
		},
		{
			name:     "include equals exclude",
			includes: []models.Rule{dir(filepath.Join(root, "a"))},
			excludes: []models.Rule{dir(filepath.Join(root, "a"))},
			want:     []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(testLogger())

			got, err := svc.Resolve(models.RuleSet{Includes: tt.includes, Excludes: tt.excludes})

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_ExcludeDominatesRegardlessOfOrder(t *testing.T) {
	root := tree(t, "x/1", "x/2", "y/3")
	includes := []models.Rule{dir(filepath.Join(root, "y")), glob(filepath.Join(root, "x", "*"))}
	excludes := []models.Rule{file(filepath.Join(root, "x", "2")), glob("3")}
	svc := New(testLogger())

	forward, err := svc.Resolve(models.RuleSet{Includes: includes, Excludes: excludes})
	require.NoError(t, err)

	reversed, err := svc.Resolve(models.RuleSet{
		Includes: []models.Rule{includes[1], includes[0]},
		Excludes: []models.Rule{excludes[1], excludes[0]},
	})
	require.NoError(t, err)

	assert.Equal(t, forward, reversed)
	assert.NotContains(t, forward, filepath.Join(root, "x", "2"))
	assert.Contains(t, forward, filepath.Join(root, "x", "1"))
}

func TestResolve_InvalidPattern(t *testing.T) {
	svc := New(testLogger())

	_, err := svc.Resolve(models.RuleSet{Includes: []models.Rule{glob("/tmp/[abc")}})

	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConfig))
}

func TestResolve_GlobberError(t *testing.T) {
	svc := NewWithGlobber(testLogger(), &mockGlobber{
		globFunc: func(pattern string) ([]string, error) {
			return nil, errors.New("permission denied")
		},
	})

	_, err := svc.Resolve(models.RuleSet{Includes: []models.Rule{glob("/srv/*")}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestResolve_RelativeGlobWithoutRootsUsesWorkDir(t *testing.T) {
	var seen []string
	svc := NewWithGlobber(testLogger(), &mockGlobber{
		globFunc: func(pattern string) ([]string, error) {
			seen = append(seen, pattern)
			return []string{"/work/a.go"}, nil
		},
	})
	svc.workDir = func() (string, error) { return "/work", nil }

	got, err := svc.Resolve(models.RuleSet{Includes: []models.Rule{glob("*.go")}})

	require.NoError(t, err)
	assert.Equal(t, []string{"/work/*.go"}, seen)
	assert.Equal(t, []string{"/work/a.go"}, got)
}

func TestRsyncExcludes(t *testing.T) {
	svc := New(testLogger())

	got := svc.RsyncExcludes([]models.Rule{
		dir("/home/me/.cache/"),
		file("/home/me/secret.txt"),
		glob("*.tmp"),
	})

	assert.Equal(t, []string{"/home/me/.cache", "/home/me/secret.txt", "*.tmp"}, got)
}

func TestRsyncExcludes_ExpandsBraces(t *testing.T) {
	svc := New(testLogger())

	tests := []struct {
		name    string
		pattern string
		want    []string
	}{
		{"single group", "*.{tmp,log}", []string{"*.tmp", "*.log"}},
		{"nested group", "/var/{cache,log/{a,b}}/*", []string{"/var/cache/*", "/var/log/a/*", "/var/log/b/*"}},
		{"two groups", "{a,b}.{x,y}", []string{"a.x", "a.y", "b.x", "b.y"}},
		{"unbalanced", "*.{tmp", []string{"*.{tmp"}},
		{"escaped", `\{a,b\}`, []string{`\{a,b\}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := svc.RsyncExcludes([]models.Rule{glob(tt.pattern)})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRsyncExcludes_DeduplicatesAlternatives(t *testing.T) {
	svc := New(testLogger())
	got := svc.RsyncExcludes([]models.Rule{glob("*.{tmp,log}"), glob("*.tmp")})
	assert.Equal(t, []string{"*.tmp", "*.log"}, got)
	for _, p := range got {
		assert.NotContains(t, p, "{")
	}
}

func TestCollapse(t *testing.T) {
	got := collapse([]string{"/a", "/a-b", "/a/c", "/a/c/d", "/b"})
	assert.Equal(t, []string{"/a", "/a-b", "/b"}, got)
}
