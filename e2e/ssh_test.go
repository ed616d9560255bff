//go:build e2e

package e2e

import (
	"context"
	"os"
	"path"
	"strconv"
	"testing"
	"time"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/fgeck/gorsync-homelab/internal/services/catalog"
	"github.com/fgeck/gorsync-homelab/internal/services/orchestrator"
	"github.com/fgeck/gorsync-homelab/internal/services/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getTarget describes a remote target reachable through the user's ssh config.
func getTarget(t *testing.T) models.TargetConfig {
	t.Helper()

	host := os.Getenv("TEST_SSH_HOST")
	if host == "" {
		t.Skip("TEST_SSH_HOST not set")
	}

	dir := os.Getenv("TEST_SSH_TARGET_PATH")
	if dir == "" {
		t.Skip("TEST_SSH_TARGET_PATH not set")
	}

	configFile := os.Getenv("TEST_SSH_CONFIG")
	if configFile == "" {
		home, err := os.UserHomeDir()
		require.NoError(t, err)
		configFile = path.Join(home, ".ssh", "config")
	}

	return models.TargetConfig{
		Path:          path.Join(dir, "gorsync-e2e-"+strconv.FormatInt(time.Now().UnixNano(), 36)),
		Host:          host,
		SSHConfigFile: configFile,
	}
}

func openSSH(t *testing.T, target models.TargetConfig) *storage.SSH {
	t.Helper()

	host, err := storage.ResolveHost(target.Host, target.SSHConfigFile)
	require.NoError(t, err)

	fsys := storage.NewSSH(testLogger(), host)
	t.Cleanup(func() {
		_ = fsys.RemoveAll(context.Background(), target.Path)
		_ = fsys.Close()
	})
	return fsys
}

func TestSSHTestConnection_E2E(t *testing.T) {
	target := getTarget(t)
	fsys := openSSH(t, target)

	result, err := fsys.TestConnection(context.Background())

	require.NoError(t, err)
	assert.True(t, result.CommandRun)
	assert.Equal(t, "OK", result.Output)
	assert.Nil(t, result.Error)
}

func TestSSHFileOperations_E2E(t *testing.T) {
	target := getTarget(t)
	fsys := openSSH(t, target)
	ctx := context.Background()

	dir := path.Join(target.Path, "ops")
	require.NoError(t, fsys.MkdirAll(ctx, dir))
	require.NoError(t, fsys.WriteFile(ctx, path.Join(dir, "a.json"), []byte(`{"name":"a"}`)))
	require.NoError(t, fsys.Rename(ctx, path.Join(dir, "a.json"), path.Join(dir, "b.json")))

	data, err := fsys.ReadFile(ctx, path.Join(dir, "b.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a"}`, string(data))

	entries, err := fsys.ReadDir(ctx, dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b.json", entries[0].Name)

	exists, err := fsys.Exists(ctx, path.Join(dir, "a.json"))
	require.NoError(t, err)
	assert.False(t, exists)

	size, err := fsys.Usage(ctx, dir)
	require.NoError(t, err)
	assert.Positive(t, size)
}

func TestSSHConnectionFailed_E2E(t *testing.T) {
	if os.Getenv("TEST_SSH_HOST") == "" {
		t.Skip("TEST_SSH_HOST not set")
	}

	host := models.RemoteHost{
		Alias:    "unreachable",
		HostName: "192.168.255.254", // Non-routable IP
		Port:     22,
		Username: "root",
		KeyPath:  os.Getenv("TEST_SSH_KEY_PATH"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fsys := storage.NewSSH(testLogger(), host)
	defer fsys.Close()

	result, err := fsys.TestConnection(ctx)

	require.NoError(t, err)
	assert.False(t, result.CommandRun)
	assert.NotNil(t, result.Error)
}

// TestRemoteBackup_E2E needs rsync on both ends.
func TestRemoteBackup_E2E(t *testing.T) {
	target := getTarget(t)
	fsys := openSSH(t, target)
	ctx := context.Background()

	src := t.TempDir()
	require.NoError(t, os.WriteFile(path.Join(src, "hello.txt"), []byte("hello"), 0o600))

	cfg := models.BackupConfig{
		Target: target,
		Rules: models.RuleSet{
			Includes: []models.Rule{{Kind: models.RuleDirectoryPrefix, Value: src}},
		},
		Rsync: models.RsyncSettings{
			Binary:    "rsync",
			SSHBinary: "ssh",
			OutFormat: "%t %i %n",
		},
	}
	cat := catalog.New(testLogger(), fsys, target.Path)
	orch := orchestrator.New(testLogger(), cfg, cat)

	first, err := orch.Backup(ctx, models.BackupOptions{})
	require.NoError(t, err)
	require.NotNil(t, first.Generation)
	assert.Equal(t, models.StatusComplete, first.Generation.Status)

	time.Sleep(time.Second)

	second, err := orch.Backup(ctx, models.BackupOptions{})
	require.NoError(t, err)
	assert.Equal(t, first.Generation.Name, second.Generation.Previous)

	gens, err := cat.List(ctx)
	require.NoError(t, err)
	assert.Len(t, gens, 2)
}
