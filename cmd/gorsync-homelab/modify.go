package main

import (
	"fmt"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/spf13/cobra"
)

var modifyStatus string

var modifyCmd = &cobra.Command{
	Use:   "modify <generation>",
	Short: "Change the recorded status of a generation",
	Long: `Mark a generation complete or failed by hand. A generation marked complete
becomes a link-dest candidate and a restore source.`,
	Args: cobra.ExactArgs(1),
	RunE: runModify,
}

func init() {
	modifyCmd.Flags().StringVar(&modifyStatus, "status", "", "new status: complete or failed")
	_ = modifyCmd.MarkFlagRequired("status")
}

func runModify(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	gen, err := a.catalog.Mark(ctx, args[0], models.GenerationStatus(modifyStatus))
	if err != nil {
		return err
	}
	fmt.Printf("Generation %s is now %s\n", gen.Name, gen.Status)
	return nil
}
