package models

import (
	"time"
)

// TaskKind is the type of work a daemon task performs.
type TaskKind string

const (
	TaskBackup  TaskKind = "backup"
	TaskRestore TaskKind = "restore"
	TaskPrune   TaskKind = "prune"
)

// Valid reports whether k is a known task kind.
func (k TaskKind) Valid() bool {
	switch k {
	case TaskBackup, TaskRestore, TaskPrune:
		return true
	}
	return false
}

// TaskState is the lifecycle state of a daemon task.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskDone      TaskState = "done"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Finished reports whether the state is terminal.
func (s TaskState) Finished() bool {
	return s == TaskDone || s == TaskFailed || s == TaskCancelled
}

// TaskArgs carries the parameters of a submitted task. Only the fields
// relevant to the task kind are read.
type TaskArgs struct {
	DryRun bool `json:"dry_run,omitempty"`

	// restore
	Generation  string   `json:"generation,omitempty"`
	Nth         int      `json:"nth,omitempty"`
	Items       []string `json:"items,omitempty"`
	Destination string   `json:"destination,omitempty"`

	// prune; nil means the configured policy
	Policy *RetentionPolicy `json:"policy,omitempty"`
	Names  []string         `json:"names,omitempty"`
	Failed bool             `json:"failed,omitempty"`
}

// Task is one unit of daemon work.
type Task struct {
	ID          string     `json:"id"`
	Kind        TaskKind   `json:"kind"`
	Args        TaskArgs   `json:"args"`
	State       TaskState  `json:"state"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   ErrorKind  `json:"error_kind,omitempty"`
	Log         []string   `json:"log,omitempty"`
}
