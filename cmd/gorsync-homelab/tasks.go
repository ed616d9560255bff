package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/spf13/cobra"
)

var tasksClear bool

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List daemon tasks",
	Args:  cobra.NoArgs,
	RunE:  runTasks,
}

var statusCmd = &cobra.Command{
	Use:   "status <task>",
	Short: "Show a daemon task and its log",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <task>",
	Short: "Cancel a queued daemon task",
	Long:  `Cancel a task that has not started yet. Running tasks cannot be cancelled.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var followCmd = &cobra.Command{
	Use:   "follow <task>",
	Short: "Stream the log of a daemon task until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE:  runFollow,
}

func init() {
	tasksCmd.Flags().BoolVar(&tasksClear, "clear", false, "forget all finished tasks")
}

func runTasks(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := daemonClient()
	if err != nil {
		return err
	}

	if tasksClear {
		removed, err := client.Clear(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Cleared %d finished task(s).\n", removed)
		return nil
	}

	tasks, err := client.Tasks(ctx)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSTATE\tSUBMITTED\tERROR")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Kind, t.State, humanize.Time(t.SubmittedAt), t.Error)
	}
	return w.Flush()
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := daemonClient()
	if err != nil {
		return err
	}

	task, err := client.Task(ctx, args[0])
	if err != nil {
		return err
	}
	printTask(task)
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := daemonClient()
	if err != nil {
		return err
	}

	cancelled, err := client.Cancel(ctx, args[0])
	if err != nil {
		return err
	}
	if cancelled {
		fmt.Printf("Task %s cancelled.\n", args[0])
	} else {
		fmt.Printf("Task %s already finished.\n", args[0])
	}
	return nil
}

func runFollow(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := daemonClient()
	if err != nil {
		return err
	}

	if err := client.Follow(ctx, args[0], func(line string) { fmt.Println(line) }); err != nil {
		return err
	}

	task, err := client.Task(ctx, args[0])
	if err != nil {
		return err
	}
	if task.State == models.TaskFailed {
		return &models.Error{Kind: task.ErrorKind, Msg: task.Error}
	}
	return nil
}

func printTask(t models.Task) {
	fmt.Printf("Task:      %s\n", t.ID)
	fmt.Printf("Kind:      %s\n", t.Kind)
	fmt.Printf("State:     %s\n", t.State)
	fmt.Printf("Submitted: %s\n", t.SubmittedAt.Local().Format(time.DateTime))
	if t.StartedAt != nil {
		fmt.Printf("Started:   %s\n", t.StartedAt.Local().Format(time.DateTime))
	}
	if t.FinishedAt != nil {
		fmt.Printf("Finished:  %s\n", t.FinishedAt.Local().Format(time.DateTime))
	}
	if t.Error != "" {
		fmt.Printf("Error:     %s: %s\n", t.ErrorKind, t.Error)
	}
	if len(t.Log) > 0 {
		fmt.Println()
		for _, line := range t.Log {
			fmt.Println(line)
		}
	}
}
