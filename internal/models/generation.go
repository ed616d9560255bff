package models

import "time"

// GenerationNameFormat is the layout of a generation's directory name.
// Lexicographic and chronological order of names are identical.
const GenerationNameFormat = "20060102150405"

// GenerationPrettyFormat is the human readable rendering of a generation name.
const GenerationPrettyFormat = "Mon 02, Jan 2006 - 15:04:05"

// LatestAlias resolves to the newest complete generation.
const LatestAlias = "latest"

// GenerationStatus is the lifecycle state of a backup generation.
type GenerationStatus string

const (
	// StatusInProgress marks a generation whose transfer has not finished.
	StatusInProgress GenerationStatus = "in-progress"
	// StatusComplete marks a generation whose transfer exited cleanly.
	StatusComplete GenerationStatus = "complete"
	// StatusFailed marks a generation whose transfer failed or was interrupted.
	StatusFailed GenerationStatus = "failed"
)

// Valid reports whether s is a known status.
func (s GenerationStatus) Valid() bool {
	switch s {
	case StatusInProgress, StatusComplete, StatusFailed:
		return true
	}
	return false
}

// TransferCounters holds per-run file and byte counts.
type TransferCounters struct {
	FilesCreated     int   `json:"files_created"`
	FilesUpdated     int   `json:"files_updated"`
	FilesDeleted     int   `json:"files_deleted"`
	FilesUnchanged   int   `json:"files_unchanged"`
	BytesTotal       int64 `json:"bytes_total"`
	BytesTransferred int64 `json:"bytes_transferred"`
}

// Files returns the number of files the run touched or inspected.
func (c TransferCounters) Files() int {
	return c.FilesCreated + c.FilesUpdated + c.FilesDeleted + c.FilesUnchanged
}

// Generation is one backup run stored as a directory tree at the target.
type Generation struct {
	Name       string           `json:"name"`
	CreatedAt  time.Time        `json:"created_at"`
	Root       string           `json:"root"` // directory holding the generation
	Status     GenerationStatus `json:"status"`
	Previous   string           `json:"previous,omitempty"` // link-dest predecessor name, empty if none
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	ExitCode   int              `json:"exit_code"`
	Message    string           `json:"message,omitempty"`
	Counters   TransferCounters `json:"counters"`
	SizeBytes  int64            `json:"size_bytes"` // disk usage, zero until computed
	RestoredAt []time.Time      `json:"restored_at,omitempty"`
}

// IsComplete reports whether the generation may serve as a link-dest predecessor or restore source.
func (g Generation) IsComplete() bool {
	return g.Status == StatusComplete
}

// Pretty returns the generation name formatted for humans.
func (g Generation) Pretty() string {
	return g.CreatedAt.Format(GenerationPrettyFormat)
}
