package daemon

import (
	"io"
	"strings"
	"time"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/rs/zerolog"
)

// taskLog is the io.Writer behind a task's append-only log.
type taskLog struct {
	s  *Scheduler
	id string
}

func (w taskLog) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		w.s.appendLog(w.id, line)
	}
	return len(p), nil
}

// taskLogger returns a logger writing plain console lines into the task log
// and, when configured, JSON or console output into the daemon log.
func (s *Scheduler) taskLogger(id string, kind models.TaskKind) zerolog.Logger {
	var out io.Writer = zerolog.ConsoleWriter{
		Out:           taskLog{s: s, id: id},
		NoColor:       true,
		TimeFormat:    time.TimeOnly,
		FieldsExclude: []string{"task", "kind"},
	}
	if s.opts.LogOutput != nil {
		out = zerolog.MultiLevelWriter(out, s.opts.LogOutput)
	}

	return zerolog.New(out).
		Level(zerolog.InfoLevel).
		With().
		Timestamp().
		Str("task", id).
		Str("kind", string(kind)).
		Logger()
}
