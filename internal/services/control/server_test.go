package control

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/fgeck/gorsync-homelab/internal/services/catalog"
	"github.com/fgeck/gorsync-homelab/internal/services/daemon"
	"github.com/fgeck/gorsync-homelab/internal/services/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockQueue struct {
	submitFunc func(kind models.TaskKind, args models.TaskArgs) (models.Task, error)
	getFunc    func(id string) (models.Task, error)
	cancelFunc func(id string) (bool, error)
	tasks      []models.Task
	cleared    int
}

func (m *mockQueue) Submit(kind models.TaskKind, args models.TaskArgs) (models.Task, error) {
	if m.submitFunc != nil {
		return m.submitFunc(kind, args)
	}
	return models.Task{ID: "t1", Kind: kind, Args: args, State: models.TaskQueued}, nil
}

func (m *mockQueue) Get(id string) (models.Task, error) {
	if m.getFunc != nil {
		return m.getFunc(id)
	}
	return models.Task{}, models.NotFoundError("task", id)
}

func (m *mockQueue) List() []models.Task {
	return m.tasks
}

func (m *mockQueue) Cancel(id string) (bool, error) {
	if m.cancelFunc != nil {
		return m.cancelFunc(id)
	}
	return true, nil
}

func (m *mockQueue) Clear() int {
	return m.cleared
}

func (m *mockQueue) Follow(id string) ([]string, <-chan string, func(), error) {
	return nil, nil, nil, models.NotFoundError("task", id)
}

type fakeOrchestrator struct {
	release chan struct{}
}

func (f *fakeOrchestrator) Backup(ctx context.Context, opts models.BackupOptions) (*models.BackupResult, error) {
	if f.release != nil {
		<-f.release
	}
	zerolog.Ctx(ctx).Info().Msg("sending incremental file list")
	return &models.BackupResult{}, nil
}

func (f *fakeOrchestrator) Restore(ctx context.Context, opts models.RestoreOptions) (*models.RestoreReport, error) {
	return &models.RestoreReport{}, nil
}

type fakePruner struct{}

func (fakePruner) Prune(ctx context.Context, policy models.RetentionPolicy, dryRun bool) (*models.PruneResult, error) {
	return &models.PruneResult{}, nil
}

func (fakePruner) PruneNames(ctx context.Context, names []string, dryRun bool) (*models.PruneResult, error) {
	return &models.PruneResult{}, nil
}

func (fakePruner) PruneFailed(ctx context.Context, dryRun bool) (*models.PruneResult, error) {
	return &models.PruneResult{}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testCatalog(t *testing.T) *catalog.Impl {
	t.Helper()
	root := filepath.Join(t.TempDir(), "backups")
	return catalog.NewWithLocation(testLogger(), storage.NewLocal(testLogger()), root, time.UTC)
}

// socketPath stays below the unix socket path limit.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "gorsync")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "d.sock")
}

// startServer serves on a socket until the test ends and returns a client.
func startServer(t *testing.T, queue Queue, cat catalog.Service) *Client {
	t.Helper()
	socket := socketPath(t)
	srv := NewServer(testLogger(), socket, queue, cat)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		_, err := os.Stat(socket)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	return NewClient(socket)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Submit(t *testing.T) {
	var gotKind models.TaskKind
	var gotArgs models.TaskArgs
	q := &mockQueue{
		submitFunc: func(kind models.TaskKind, args models.TaskArgs) (models.Task, error) {
			gotKind, gotArgs = kind, args
			return models.Task{ID: "abc", Kind: kind, State: models.TaskQueued}, nil
		},
	}
	h := NewServer(testLogger(), "", q, testCatalog(t)).Handler()

	rec := do(t, h, http.MethodPost, "/tasks", `{"kind":"restore","args":{"nth":2,"items":["/etc/hosts"]}}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"abc"`)
	assert.Equal(t, models.TaskRestore, gotKind)
	assert.Equal(t, 2, gotArgs.Nth)
	assert.Equal(t, []string{"/etc/hosts"}, gotArgs.Items)
}

func TestHandler_SubmitInvalid(t *testing.T) {
	h := NewServer(testLogger(), "", &mockQueue{}, testCatalog(t)).Handler()

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"kind":`},
		{"missing kind", `{}`},
		{"unknown kind", `{"kind":"sync"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/tasks", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"kind":"config"`)
		})
	}
}

func TestHandler_ErrorStatus(t *testing.T) {
	q := &mockQueue{
		cancelFunc: func(id string) (bool, error) {
			return false, models.AlreadyRunningError(id)
		},
	}
	h := NewServer(testLogger(), "", q, testCatalog(t)).Handler()

	rec := do(t, h, http.MethodDelete, "/tasks/abc", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already running")

	rec = do(t, h, http.MethodGet, "/tasks/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/generations/20000101000000", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Metrics(t *testing.T) {
	h := NewServer(testLogger(), "", &mockQueue{}, testCatalog(t)).Handler()

	rec := do(t, h, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestClient_RoundTrip(t *testing.T) {
	cat := testCatalog(t)
	gen, err := cat.Register(context.Background(), time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)
	require.NoError(t, cat.Finalize(context.Background(), gen, models.StatusComplete))

	q := &mockQueue{
		tasks:   []models.Task{{ID: "a", Kind: models.TaskBackup, State: models.TaskDone}},
		cleared: 1,
		getFunc: func(id string) (models.Task, error) {
			if id == "a" {
				return models.Task{ID: "a", State: models.TaskDone, Log: []string{"done"}}, nil
			}
			return models.Task{}, models.NotFoundError("task", id)
		},
	}
	client := startServer(t, q, cat)
	ctx := context.Background()

	task, err := client.Submit(ctx, models.TaskBackup, models.TaskArgs{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, "t1", task.ID)
	assert.True(t, task.Args.DryRun)

	tasks, err := client.Tasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	got, err := client.Task(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"done"}, got.Log)

	_, err = client.Task(ctx, "b")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)

	ok, err := client.Cancel(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	removed, err := client.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	gens, err := client.Generations(ctx)
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.Equal(t, gen.Name, gens[0].Name)
	assert.Equal(t, models.StatusComplete, gens[0].Status)

	latest, err := client.Generation(ctx, models.LatestAlias)
	require.NoError(t, err)
	assert.Equal(t, gen.Name, latest.Name)
}

func TestClient_DaemonNotRunning(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "missing.sock"))

	_, err := client.Tasks(context.Background())

	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindTransfer))
	assert.Contains(t, err.Error(), "is it running")
}

func TestClient_Follow(t *testing.T) {
	orch := &fakeOrchestrator{release: make(chan struct{})}
	sched := daemon.New(testLogger(), orch, fakePruner{}, nil, daemon.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		_ = sched.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-workerDone
	})
	client := startServer(t, sched, testCatalog(t))

	task, err := client.Submit(context.Background(), models.TaskBackup, models.TaskArgs{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := sched.Get(task.ID)
		return err == nil && got.State == models.TaskRunning
	}, 5*time.Second, 5*time.Millisecond)

	var lines []string
	followErr := make(chan error, 1)
	go func() {
		followErr <- client.Follow(context.Background(), task.ID, func(line string) {
			lines = append(lines, line)
		})
	}()

	close(orch.release)

	select {
	case err := <-followErr:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("follow did not return")
	}
	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, "sending incremental file list")
	assert.Contains(t, joined, "task finished")
}

func TestClient_FollowUnknownTask(t *testing.T) {
	client := startServer(t, &mockQueue{}, testCatalog(t))

	err := client.Follow(context.Background(), "nope", func(string) {})

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestServe_RefusesSecondDaemon(t *testing.T) {
	socket := socketPath(t)
	first := NewServer(testLogger(), socket, &mockQueue{}, testCatalog(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = first.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool {
		_, err := os.Stat(socket)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	second := NewServer(testLogger(), socket, &mockQueue{}, testCatalog(t))
	err := second.Serve(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "another daemon")
}
