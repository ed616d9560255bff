package models

import "time"

// FileChange is the outcome of one path in a transfer run.
type FileChange string

const (
	ChangeCreated   FileChange = "created"
	ChangeUpdated   FileChange = "updated"
	ChangeDeleted   FileChange = "deleted"
	ChangeUnchanged FileChange = "unchanged"
)

// FileOutcome is one parsed line of transfer output.
type FileOutcome struct {
	Time   time.Time
	Code   string // itemized change code, e.g. ">f+++++++++"
	Path   string
	Change FileChange
	IsDir  bool
}

// TransferRequest describes one invocation of the transfer tool.
type TransferRequest struct {
	Sources     []string
	Destination string
	LinkDest    string   // previous generation data dir, empty for none
	Excludes    []string // rsync exclude patterns
	Delete      bool
	DryRun      bool
	Remote      bool
}

// TransferResult holds the outcome of a transfer run.
type TransferResult struct {
	ExitCode int
	Message  string
	Counters TransferCounters
	Files    []FileOutcome
	Duration time.Duration
	Error    error
}

// BackupOptions overrides the defaults of a backup run.
type BackupOptions struct {
	DryRun bool
	// Previous forces the link-dest predecessor; empty lets the catalog pick.
	Previous string
}

// BackupResult holds the outcome of a backup run.
type BackupResult struct {
	Generation *Generation // nil when no generation was registered
	Selection  []string
	Transfer   *TransferResult
	DryRun     bool
	Duration   time.Duration
}

// RestoreOptions selects what to restore and where.
type RestoreOptions struct {
	Generation  string // name or "latest"; ignored when Nth > 0
	Nth         int    // N-th newest complete generation, 1 being the newest
	Items       []string
	Destination string
	DryRun      bool
}

// RestoreReport holds the outcome of a restore run.
type RestoreReport struct {
	Generation  string
	Items       []string
	Destination string
	Transfer    *TransferResult
	DryRun      bool
	Duration    time.Duration
}
