package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/spf13/cobra"
)

var listSize bool

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List generations, newest first",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

func init() {
	listCmd.Flags().BoolVarP(&listSize, "size", "s", false, "compute disk usage of generations that have none recorded")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	gens, err := a.catalog.List(ctx)
	if err != nil {
		return err
	}
	if len(gens) == 0 {
		fmt.Println("No generations.")
		return nil
	}

	if listSize {
		fillUsage(ctx, a, gens)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tDATE\tSTATUS\tFILES\tTRANSFERRED\tSIZE")
	for i := len(gens) - 1; i >= 0; i-- {
		g := gens[i]
		size := "-"
		if g.SizeBytes > 0 {
			size = humanize.IBytes(uint64(g.SizeBytes))
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			len(gens)-i,
			g.Name,
			g.Pretty(),
			g.Status,
			humanize.Comma(int64(g.Counters.Files())),
			humanize.IBytes(uint64(g.Counters.BytesTransferred)),
			size,
		)
	}
	return w.Flush()
}

// fillUsage computes and records the disk usage of every generation
// lacking one. Failures only leave the size blank.
func fillUsage(ctx context.Context, a *app, gens []models.Generation) {
	for i := range gens {
		if gens[i].SizeBytes > 0 || gens[i].Status == models.StatusInProgress {
			continue
		}
		size, err := a.catalog.Usage(ctx, gens[i].Name)
		if err != nil {
			continue
		}
		gens[i].SizeBytes = size
	}
}
