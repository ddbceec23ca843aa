package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kubiyabot/workflow-compiler/internal/mcpserver"
	"github.com/kubiyabot/workflow-compiler/internal/orchestrator"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve compose, compile, and validate as MCP tools over stdio",
	Long: `mcp runs a Model Context Protocol server on stdin/stdout so AI
assistants can compose, compile, and validate workflows. All logs go to
stderr; stdout carries only the protocol.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runMCP(); err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP() error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	cfg := rt.cfg

	eval, cleanup, err := buildEvaluator(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// compose_workflow needs a generation backend; without one the server
	// still serves compile and validate.
	var composer mcpserver.Composer
	if generator, err := buildGenerator(cfg); err != nil {
		rt.log.Warnw("compose_workflow disabled", "error", err)
	} else {
		defer generator.Close()
		orch, err := orchestrator.New(orchestrator.Options{
			Generator:      generator,
			Evaluator:      eval,
			Loader:         buildLoader(cfg),
			Logger:         rt.log,
			MaxRounds:      cfg.Orchestrator.MaxRounds,
			Policy:         cfg.Orchestrator.RefinementPolicy,
			Model:          cfg.Generator.Model,
			MaxTokens:      cfg.Generator.MaxTokens,
			RequestTimeout: time.Duration(cfg.Orchestrator.RequestTimeoutSec) * time.Second,
		})
		if err != nil {
			return err
		}
		composer = orch
	}

	srv, err := mcpserver.New(mcpserver.Options{
		Version:   version,
		Composer:  composer,
		Evaluator: eval,
		Logger:    rt.log,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Serve(ctx)
}
