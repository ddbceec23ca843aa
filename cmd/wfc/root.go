package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kubiyabot/workflow-compiler/internal/backend"
	"github.com/kubiyabot/workflow-compiler/internal/compiler"
	"github.com/kubiyabot/workflow-compiler/internal/config"
	"github.com/kubiyabot/workflow-compiler/internal/evaluator"
	"github.com/kubiyabot/workflow-compiler/internal/logger"
	"github.com/kubiyabot/workflow-compiler/internal/platform"
	"github.com/kubiyabot/workflow-compiler/internal/pluginapi"
	"github.com/kubiyabot/workflow-compiler/internal/worker"
)

var version = "0.3.0"

var (
	cfgFile   string
	debugFlag bool
	logFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "wfc",
	Version: version,
	Short:   "Compile natural-language tasks and builder code into validated workflow manifests",
	Long: `wfc turns task descriptions and workflow builder source into validated,
executable workflow manifests.

Features:
  - Compose workflows from plain-language tasks with AI-assisted refinement
  - Compile builder source (Lua DSL) or YAML/JSON definitions offline
  - Validate definitions and get the full ordered error list
  - Stream compilation progress as JSON lines, SSE, or Vercel frames
  - Browse past compilations stored in a local history database

Examples:
  wfc compose "build, test and deploy the api service"
  wfc compose "nightly database backup" --stream sse
  wfc compile -i release.lua -o release.yaml
  wfc validate -i workflow.yaml
  wfc history --limit 10`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./wfc.yaml or ~/.config/wfc/wfc.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: human or json")
}

// runtime bundles the pieces every command needs.
type runtime struct {
	cfg *config.Config
	log *zap.SugaredLogger
}

func newRuntime() (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if debugFlag {
		cfg.Debug = true
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}

	log, err := logger.New(cfg.Debug, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, log: log}, nil
}

// buildEvaluator picks the isolation mode from config. The returned cleanup
// stops the worker subprocess when one was started.
func buildEvaluator(cfg *config.Config) (evaluator.Evaluator, func() error, error) {
	timeout := time.Duration(cfg.Evaluator.TimeoutSec) * time.Second

	if cfg.Evaluator.Isolation == config.IsolationSubprocess {
		client, err := worker.NewClient(worker.Options{TimeoutSec: cfg.Evaluator.TimeoutSec})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start evaluation worker: %w", err)
		}
		return client, client.Close, nil
	}

	sandbox := evaluator.New(evaluator.Options{Timeout: timeout})
	return sandbox, func() error { return nil }, nil
}

// buildCompiler wraps the configured evaluator in the offline pipeline.
func buildCompiler(cfg *config.Config) (*compiler.Compiler, func() error, error) {
	eval, cleanup, err := buildEvaluator(cfg)
	if err != nil {
		return nil, nil, err
	}
	return compiler.New(compiler.Options{Evaluator: eval}), cleanup, nil
}

func buildGenerator(cfg *config.Config) (backend.Generator, error) {
	switch cfg.Generator.Provider {
	case "openai":
		return backend.NewOpenAIGenerator(backend.OpenAIConfig{
			APIKey:       cfg.Generator.OpenAI.APIKey,
			BaseURL:      cfg.Generator.OpenAI.BaseURL,
			DefaultModel: cfg.Generator.Model,
		})
	case "command":
		return backend.NewCommandGenerator(backend.CommandConfig{
			Command: cfg.Generator.Command.Command,
			Shell:   cfg.Generator.Command.Shell,
		})
	}
	// Extension binaries register extra providers at link time.
	if factory, ok := pluginapi.Generator(cfg.Generator.Provider); ok {
		return factory()
	}
	return nil, fmt.Errorf("unknown generator provider %q", cfg.Generator.Provider)
}

// buildLoader returns the platform client when a base URL is configured and
// an empty static snapshot otherwise.
func buildLoader(cfg *config.Config) platform.Loader {
	if cfg.Platform.BaseURL == "" {
		return &platform.Static{}
	}
	return platform.NewClient(platform.Config{
		BaseURL: cfg.Platform.BaseURL,
		APIKey:  cfg.Platform.APIKey,
		Timeout: time.Duration(cfg.Platform.TimeoutSec) * time.Second,
	})
}
