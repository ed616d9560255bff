package main

import (
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var infoSize bool

var infoCmd = &cobra.Command{
	Use:   "info [generation]",
	Short: "Show details of a generation",
	Long:  `Show the metadata of a generation. Defaults to the newest complete generation.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInfo,
}

func init() {
	infoCmd.Flags().BoolVarP(&infoSize, "size", "s", false, "compute disk usage if none is recorded")
}

type infoView struct {
	Name        string    `yaml:"name"`
	Date        string    `yaml:"date"`
	Status      string    `yaml:"status"`
	Path        string    `yaml:"path"`
	Previous    string    `yaml:"previous,omitempty"`
	Started     string    `yaml:"started,omitempty"`
	Finished    string    `yaml:"finished,omitempty"`
	Duration    string    `yaml:"duration,omitempty"`
	ExitCode    int       `yaml:"exit_code"`
	Message     string    `yaml:"message,omitempty"`
	Files       filesView `yaml:"files"`
	Total       string    `yaml:"total"`
	Transferred string    `yaml:"transferred"`
	Size        string    `yaml:"size,omitempty"`
	RestoredAt  []string  `yaml:"restored_at,omitempty"`
}

type filesView struct {
	Created   int `yaml:"created"`
	Updated   int `yaml:"updated"`
	Deleted   int `yaml:"deleted"`
	Unchanged int `yaml:"unchanged"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	name := models.LatestAlias
	if len(args) == 1 {
		name = args[0]
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	gen, err := a.catalog.Find(ctx, name)
	if err != nil {
		return err
	}
	if infoSize && gen.SizeBytes == 0 && gen.Status != models.StatusInProgress {
		if size, err := a.catalog.Usage(ctx, gen.Name); err == nil {
			gen.SizeBytes = size
		}
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(newInfoView(*gen, a.cfg.Target.Address(a.catalog.DataPath(gen.Name)))); err != nil {
		return err
	}
	return enc.Close()
}

func newInfoView(g models.Generation, path string) infoView {
	v := infoView{
		Name:     g.Name,
		Date:     g.Pretty(),
		Status:   string(g.Status),
		Path:     path,
		Previous: g.Previous,
		ExitCode: g.ExitCode,
		Message:  g.Message,
		Files: filesView{
			Created:   g.Counters.FilesCreated,
			Updated:   g.Counters.FilesUpdated,
			Deleted:   g.Counters.FilesDeleted,
			Unchanged: g.Counters.FilesUnchanged,
		},
		Total:       humanize.IBytes(uint64(g.Counters.BytesTotal)),
		Transferred: humanize.IBytes(uint64(g.Counters.BytesTransferred)),
	}
	if !g.StartedAt.IsZero() {
		v.Started = g.StartedAt.Local().Format(time.DateTime)
	}
	if !g.FinishedAt.IsZero() {
		v.Finished = g.FinishedAt.Local().Format(time.DateTime)
		if !g.StartedAt.IsZero() {
			v.Duration = g.FinishedAt.Sub(g.StartedAt).Round(time.Second).String()
		}
	}
	if g.SizeBytes > 0 {
		v.Size = humanize.IBytes(uint64(g.SizeBytes))
	}
	for _, t := range g.RestoredAt {
		v.RestoredAt = append(v.RestoredAt, t.Local().Format(time.DateTime))
	}
	return v
}
