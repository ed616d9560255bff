// Package daemon serializes backup, restore and prune requests onto a single worker.
package daemon

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/fgeck/gorsync-homelab/internal/metrics"
	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/fgeck/gorsync-homelab/internal/services/catalog"
	"github.com/fgeck/gorsync-homelab/internal/services/orchestrator"
	"github.com/fgeck/gorsync-homelab/internal/services/retention"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const followBuffer = 256

// Options tunes a Scheduler.
type Options struct {
	// Policy is applied by prune tasks that carry no policy of their own.
	Policy models.RetentionPolicy
	// KeepFinished bounds how many finished tasks are retained, 0 keeps all.
	KeepFinished int
	// LogOutput receives a copy of every task log line, nil for none.
	LogOutput io.Writer
}

type entry struct {
	task        models.Task
	subscribers map[chan string]struct{}
	done        chan struct{}
}

// Scheduler owns the task list and runs queued tasks one at a time in
// submission order.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string // submission order
	queue   []string // queued task ids, FIFO
	wake    chan struct{}

	orch    orchestrator.Service
	pruner  retention.Service
	catalog catalog.Service
	opts    Options
	now     func() time.Time
	newID   func() string
	logger  zerolog.Logger
}

// New creates a new scheduler. Nothing runs until Serve is called.
func New(logger zerolog.Logger, orch orchestrator.Service, pruner retention.Service, cat catalog.Service, opts Options) *Scheduler {
	return &Scheduler{
		entries: make(map[string]*entry),
		wake:    make(chan struct{}, 1),
		orch:    orch,
		pruner:  pruner,
		catalog: cat,
		opts:    opts,
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  logger.With().Str("component", "daemon").Logger(),
	}
}

// Submit enqueues a task and returns it immediately.
func (s *Scheduler) Submit(kind models.TaskKind, args models.TaskArgs) (models.Task, error) {
	if !kind.Valid() {
		return models.Task{}, models.ConfigError("unknown task kind %q", kind)
	}
	if kind == models.TaskPrune && args.Policy != nil {
		if err := retention.Validate(*args.Policy); err != nil {
			return models.Task{}, err
		}
	}
	if kind == models.TaskRestore && args.Nth < 0 {
		return models.Task{}, models.ConfigError("nth must not be negative")
	}

	s.mu.Lock()
	e := &entry{
		task: models.Task{
			ID:          s.newID(),
			Kind:        kind,
			Args:        args,
			State:       models.TaskQueued,
			SubmittedAt: s.now(),
			Log:         []string{},
		},
		subscribers: make(map[chan string]struct{}),
		done:        make(chan struct{}),
	}
	s.entries[e.task.ID] = e
	s.order = append(s.order, e.task.ID)
	s.queue = append(s.queue, e.task.ID)
	metrics.QueueDepth.Set(float64(len(s.queue)))
	task := copyTask(e.task)
	s.mu.Unlock()

	metrics.RecordTransition(kind, models.TaskQueued)
	s.logger.Info().Str("task", task.ID).Str("kind", string(kind)).Msg("task queued")

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return task, nil
}

// Get returns a snapshot of a task.
func (s *Scheduler) Get(id string) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return models.Task{}, models.NotFoundError("task", id)
	}
	return copyTask(e.task), nil
}

// List returns snapshots of all retained tasks in submission order.
// Logs are left out.
func (s *Scheduler) List() []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]models.Task, 0, len(s.order))
	for _, id := range s.order {
		t := copyTask(s.entries[id].task)
		t.Log = nil
		tasks = append(tasks, t)
	}
	return tasks
}

// Cancel removes a queued task from the queue. It reports false without an
// error for tasks that already finished. Running tasks are never interrupted.
func (s *Scheduler) Cancel(id string) (bool, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return false, models.NotFoundError("task", id)
	}

	switch e.task.State {
	case models.TaskRunning:
		s.mu.Unlock()
		return false, models.AlreadyRunningError(id)
	case models.TaskQueued:
	default:
		s.mu.Unlock()
		return false, nil
	}

	s.queue = slices.DeleteFunc(s.queue, func(q string) bool { return q == id })
	metrics.QueueDepth.Set(float64(len(s.queue)))
	now := s.now()
	e.task.State = models.TaskCancelled
	e.task.FinishedAt = &now
	s.finishLocked(e)
	kind := e.task.Kind
	s.mu.Unlock()

	metrics.RecordTransition(kind, models.TaskCancelled)
	s.logger.Info().Str("task", id).Msg("task cancelled")
	return true, nil
}

// Clear drops finished tasks and returns how many were dropped.
func (s *Scheduler) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	s.order = slices.DeleteFunc(s.order, func(id string) bool {
		if !s.entries[id].task.State.Finished() {
			return false
		}
		delete(s.entries, id)
		removed++
		return true
	})
	return removed
}

// Wait blocks until the task finishes or ctx is done.
func (s *Scheduler) Wait(ctx context.Context, id string) (models.Task, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return models.Task{}, models.NotFoundError("task", id)
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return models.Task{}, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTask(e.task), nil
}

// Follow returns the log lines written so far and a channel receiving new
// ones. The channel is closed when the task finishes. stop releases the
// subscription early.
func (s *Scheduler) Follow(id string) (backlog []string, lines <-chan string, stop func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, nil, nil, models.NotFoundError("task", id)
	}

	backlog = slices.Clone(e.task.Log)
	ch := make(chan string, followBuffer)
	if e.task.State.Finished() {
		close(ch)
		return backlog, ch, func() {}, nil
	}

	e.subscribers[ch] = struct{}{}
	stop = func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := e.subscribers[ch]; ok {
			delete(e.subscribers, ch)
			close(ch)
		}
	}
	return backlog, ch, stop, nil
}

// Serve runs the worker loop until ctx is done.
func (s *Scheduler) Serve(ctx context.Context) error {
	if s.catalog != nil {
		recovered, err := s.catalog.Recover(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("could not recover interrupted generations")
		}
		for _, name := range recovered {
			s.logger.Warn().Str("generation", name).Msg("marked interrupted generation failed")
		}
		s.refreshGenerations(ctx)
	}

	s.logger.Info().Msg("task worker started")
	for {
		id, ok := s.next()
		if !ok {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("task worker stopped")
				return ctx.Err()
			case <-s.wake:
				continue
			}
		}
		s.execute(ctx, id)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// String names the worker in supervisor logs.
func (s *Scheduler) String() string {
	return "task-worker"
}

// next moves the oldest queued task to running.
func (s *Scheduler) next() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return "", false
	}
	id := s.queue[0]
	s.queue = s.queue[1:]
	metrics.QueueDepth.Set(float64(len(s.queue)))

	e := s.entries[id]
	now := s.now()
	e.task.State = models.TaskRunning
	e.task.StartedAt = &now
	return id, true
}

func (s *Scheduler) execute(ctx context.Context, id string) {
	s.mu.Lock()
	e := s.entries[id]
	kind, args := e.task.Kind, e.task.Args
	started := *e.task.StartedAt
	s.mu.Unlock()

	metrics.RecordTransition(kind, models.TaskRunning)
	logger := s.taskLogger(id, kind)
	logger.Info().Msg("task started")

	err := s.run(logger.WithContext(ctx), logger, kind, args)

	state := models.TaskDone
	switch {
	case err == nil:
		logger.Info().Msg("task finished")
	case models.IsKind(err, models.KindEmptySelection):
		logger.Warn().Err(err).Msg("task finished without work")
	default:
		state = models.TaskFailed
		logger.Error().Err(err).Msg("task failed")
	}

	s.mu.Lock()
	now := s.now()
	e.task.State = state
	e.task.FinishedAt = &now
	if state == models.TaskFailed {
		e.task.Error = err.Error()
		e.task.ErrorKind = models.KindOf(err)
	}
	s.finishLocked(e)
	s.trimLocked()
	s.mu.Unlock()

	metrics.RecordTransition(kind, state)
	metrics.RecordFinished(kind, state, now.Sub(started))
	if s.catalog != nil && kind != models.TaskRestore {
		s.refreshGenerations(context.WithoutCancel(ctx))
	}
}

// run dispatches a task. Panics are turned into task failures so the worker
// keeps serving the queue.
func (s *Scheduler) run(ctx context.Context, logger zerolog.Logger, kind models.TaskKind, args models.TaskArgs) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	switch kind {
	case models.TaskBackup:
		result, err := s.orch.Backup(ctx, models.BackupOptions{DryRun: args.DryRun})
		if err != nil {
			return err
		}
		if result.Generation != nil {
			logger.Info().Str("generation", result.Generation.Name).Msg("generation created")
		}
		return nil

	case models.TaskRestore:
		report, err := s.orch.Restore(ctx, models.RestoreOptions{
			Generation:  args.Generation,
			Nth:         args.Nth,
			Items:       args.Items,
			Destination: args.Destination,
			DryRun:      args.DryRun,
		})
		if err != nil {
			return err
		}
		logger.Info().Str("generation", report.Generation).Str("destination", report.Destination).Msg("restored")
		return nil

	case models.TaskPrune:
		result, err := retention.RunTask(ctx, s.pruner, s.opts.Policy, args)
		if result != nil {
			logger.Info().Strs("removed", result.Removed).Bool("dry_run", result.DryRun).Msg("prune finished")
		}
		return err
	}

	return models.ConfigError("unknown task kind %q", kind)
}

// finishLocked closes the task's follow channels and wakes waiters.
func (s *Scheduler) finishLocked(e *entry) {
	for ch := range e.subscribers {
		close(ch)
	}
	clear(e.subscribers)
	close(e.done)
}

// trimLocked drops the oldest finished tasks beyond KeepFinished.
func (s *Scheduler) trimLocked() {
	if s.opts.KeepFinished <= 0 {
		return
	}
	finished := 0
	for _, id := range s.order {
		if s.entries[id].task.State.Finished() {
			finished++
		}
	}
	excess := finished - s.opts.KeepFinished
	if excess <= 0 {
		return
	}
	s.order = slices.DeleteFunc(s.order, func(id string) bool {
		if excess == 0 || !s.entries[id].task.State.Finished() {
			return false
		}
		delete(s.entries, id)
		excess--
		return true
	})
}

func (s *Scheduler) refreshGenerations(ctx context.Context) {
	gens, err := s.catalog.List(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not list generations")
		return
	}
	metrics.RecordGenerations(gens)
}

// appendLog records one task log line and fans it out to followers.
func (s *Scheduler) appendLog(id, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return
	}
	e.task.Log = append(e.task.Log, line)
	for ch := range e.subscribers {
		select {
		case ch <- line:
		default:
			// Slow follower, it can re-read the backlog.
		}
	}
}

func copyTask(t models.Task) models.Task {
	t.Log = slices.Clone(t.Log)
	t.Args.Items = slices.Clone(t.Args.Items)
	t.Args.Names = slices.Clone(t.Args.Names)
	return t
}
