package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the local database",
	Long: `Display entity counts and the task list from the local database.

Shows:
  - Category, task and effort totals
  - Completed task and open effort counts
  - Every task with its due date and category/effort counts`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := cmd.Context()

		stats, err := st.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("failed to read stats: %w", err)
		}

		fmt.Printf("Categories: %d\n", stats.Categories)
		fmt.Printf("Tasks:      %d (%d done)\n", stats.Tasks, stats.CompletedTasks)
		fmt.Printf("Efforts:    %d (%d open)\n", stats.Efforts, stats.OpenEfforts)

		if stats.Tasks == 0 {
			return nil
		}

		tasks, err := st.ListTasks(ctx)
		if err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}

		fmt.Println()
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Subject", "Due", "Done", "Categories", "Efforts"})
		for _, t := range tasks {
			due := ""
			if t.Due != nil {
				due = t.Due.Format("2006-01-02")
			}
			done := ""
			if t.Completed != nil {
				done = t.Completed.Format("2006-01-02")
			}
			tw.AppendRow(table.Row{t.Subject, due, done, t.Categories, t.Efforts})
		}
		tw.Render()
		return nil
	},
}
