package models

import "time"

// Notification holds the data of a backup or restore completion message.
type Notification struct {
	Success   bool
	Kind      TaskKind
	Host      string
	Target    string
	StartTime time.Time
	Duration  time.Duration

	// Transfer stats (if the transfer ran).
	Generation string
	Counters   TransferCounters

	// Error info (if failed).
	ErrorKind    ErrorKind
	ErrorMessage string
	FailedStep   string
}

// NotifyResult holds the result of a notification delivery.
type NotifyResult struct {
	MessageSent bool
	Error       error
}
