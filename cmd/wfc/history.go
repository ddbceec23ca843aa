package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/kubiyabot/workflow-compiler/internal/store"
)

var historyLimit int

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "Show past compilations, or one run in full detail",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		if err := runHistory(id); err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to list")
}

func runHistory(id string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	if rt.cfg.History.Path == "" {
		return fmt.Errorf("history is disabled (history.path is empty)")
	}

	db, err := store.Open(rt.cfg.History.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	if id != "" {
		return showRun(db, id)
	}
	return listRuns(db)
}

func listRuns(db *store.Store) error {
	records, err := db.List(historyLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("📋 No compilations recorded yet")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "CREATED", "STATUS", "ROUNDS", "TASK"})
	for _, rec := range records {
		t.AppendRow(table.Row{
			rec.ID,
			rec.CreatedAt.Local().Format("2006-01-02 15:04"),
			statusIcon(rec.Status) + " " + rec.Status,
			rec.RoundsRun,
			truncate(rec.Task, 48),
		})
	}
	t.Render()
	return nil
}

func showRun(db *store.Store, id string) error {
	rec, err := db.Get(id)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s\n", statusIcon(rec.Status), rec.ID)
	fmt.Printf("Task:    %s\n", rec.Task)
	fmt.Printf("Created: %s\n", rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Status:  %s\n", rec.Status)
	if rec.Error != "" {
		fmt.Printf("Error:   %s\n", rec.Error)
	}

	for _, round := range rec.Rounds {
		if len(round.ErrorLines) == 0 {
			fmt.Printf("\nRound %d: ✅ valid\n", round.Index)
			continue
		}
		fmt.Printf("\nRound %d: %d problem(s)\n", round.Index, len(round.ErrorLines))
		for _, line := range round.ErrorLines {
			fmt.Printf("   %s\n", line)
		}
	}

	if rec.Manifest != "" {
		fmt.Printf("\n%s", rec.Manifest)
	}
	return nil
}

func statusIcon(status string) string {
	switch status {
	case store.StatusSucceeded:
		return "✅"
	case store.StatusExhausted:
		return "🔁"
	case store.StatusCancelled:
		return "✋"
	default:
		return "❌"
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
