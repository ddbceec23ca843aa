package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/kubiyabot/workflow-compiler/internal/orchestrator"
	"github.com/kubiyabot/workflow-compiler/internal/store"
	"github.com/kubiyabot/workflow-compiler/internal/stream"
)

var (
	composeStream    string
	composeModel     string
	composeMaxRounds int
	composeNoSave    bool
)

// composeCmd represents the compose command
var composeCmd = &cobra.Command{
	Use:   "compose <task>",
	Short: "Generate a validated workflow manifest from a task description",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runCompose(strings.Join(args, " ")); err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(composeCmd)
	composeCmd.Flags().StringVar(&composeStream, "stream", "", "stream events to stdout: jsonl, sse, or vercel")
	composeCmd.Flags().StringVar(&composeModel, "model", "", "override the configured model")
	composeCmd.Flags().IntVar(&composeMaxRounds, "max-rounds", 0, "override the refinement round budget")
	composeCmd.Flags().BoolVar(&composeNoSave, "no-save", false, "skip recording the run in history")
}

func runCompose(task string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	cfg := rt.cfg

	generator, err := buildGenerator(cfg)
	if err != nil {
		return err
	}
	defer generator.Close()

	eval, cleanup, err := buildEvaluator(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	model := composeModel
	if model == "" {
		model = cfg.Generator.Model
	}
	maxRounds := composeMaxRounds
	if maxRounds <= 0 {
		maxRounds = cfg.Orchestrator.MaxRounds
	}

	opts := orchestrator.Options{
		Generator:      generator,
		Evaluator:      eval,
		Loader:         buildLoader(cfg),
		Logger:         rt.log,
		MaxRounds:      maxRounds,
		Policy:         cfg.Orchestrator.RefinementPolicy,
		Model:          model,
		MaxTokens:      cfg.Generator.MaxTokens,
		RequestTimeout: time.Duration(cfg.Orchestrator.RequestTimeoutSec) * time.Second,
	}

	// Ctrl-C cancels the run; the orchestrator emits a terminal cancelled
	// event and we exit without a manifest.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		emitter   *stream.Emitter
		drainDone chan error
	)
	if composeStream != "" {
		translator, err := stream.NewTranslator(composeStream, os.Stdout)
		if err != nil {
			return err
		}
		emitter = stream.NewEmitter(stream.DefaultBuffer)
		opts.Emitter = emitter
		drainDone = make(chan error, 1)
		go func() {
			drainDone <- stream.Drain(emitter.Events(), translator)
		}()
	}

	orch, err := orchestrator.New(opts)
	if err != nil {
		return err
	}

	var spin *spinner.Spinner
	if composeStream == "" {
		spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		spin.Suffix = " Composing workflow..."
		spin.Start()
	}

	res, runErr := orch.Run(ctx, task)

	if spin != nil {
		spin.Stop()
	}
	if drainDone != nil {
		if err := <-drainDone; err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  stream write failed: %v\n", err)
		}
	}

	if !composeNoSave {
		saveHistory(cfg.History.Path, task, res, runErr)
	}

	if runErr != nil {
		var exhausted *orchestrator.ExhaustedError
		if errors.As(runErr, &exhausted) {
			fmt.Fprintf(os.Stderr, "❌ %v\n", exhausted)
			for _, line := range lastRoundErrors(exhausted.Rounds) {
				fmt.Fprintf(os.Stderr, "   %s\n", line)
			}
			os.Exit(1)
		}
		if errors.Is(runErr, orchestrator.ErrCancelled) {
			fmt.Fprintln(os.Stderr, "✋ Cancelled")
			os.Exit(130)
		}
		return runErr
	}

	if composeStream == "" {
		fmt.Fprintf(os.Stderr, "✅ Workflow %q ready after %d round(s)\n", res.Workflow.Name, len(res.Rounds))
		for _, warning := range res.Warnings {
			fmt.Fprintf(os.Stderr, "⚠️  %s\n", warning)
		}
		data, err := res.Manifest.YAML()
		if err != nil {
			return err
		}
		os.Stdout.Write(data)
	}
	return nil
}

func lastRoundErrors(rounds []orchestrator.Round) []string {
	if len(rounds) == 0 {
		return nil
	}
	return rounds[len(rounds)-1].ErrorLines
}

// saveHistory records the run outcome. History failures never fail the run.
func saveHistory(path, task string, res *orchestrator.Result, runErr error) {
	if path == "" {
		return
	}
	db, err := store.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  history unavailable: %v\n", err)
		return
	}
	defer db.Close()

	rec := store.Record{Task: task}
	switch {
	case runErr == nil:
		rec.Status = store.StatusSucceeded
		rec.Rounds = roundRecords(res.Rounds)
		if data, err := res.Manifest.YAML(); err == nil {
			rec.Manifest = string(data)
		}
	case errors.Is(runErr, orchestrator.ErrCancelled):
		rec.Status = store.StatusCancelled
		rec.Error = runErr.Error()
	default:
		var exhausted *orchestrator.ExhaustedError
		if errors.As(runErr, &exhausted) {
			rec.Status = store.StatusExhausted
			rec.Rounds = roundRecords(exhausted.Rounds)
		} else {
			rec.Status = store.StatusFailed
		}
		rec.Error = runErr.Error()
	}

	if err := db.Save(&rec); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  failed to record history: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "📝 Recorded as %s\n", rec.ID)
}

func roundRecords(rounds []orchestrator.Round) []store.RoundRecord {
	out := make([]store.RoundRecord, len(rounds))
	for i, r := range rounds {
		out[i] = store.RoundRecord{Index: r.Index, Candidate: r.Candidate, ErrorLines: r.ErrorLines}
	}
	return out
}
