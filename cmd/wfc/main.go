package main

import (
	"os"

	"github.com/kubiyabot/workflow-compiler/internal/worker"
)

func main() {
	// Worker mode runs the evaluation loop instead of the CLI so the same
	// binary can host sandboxed subprocess evaluation.
	if worker.IsWorkerProcess() {
		worker.NewServer(worker.SandboxHandler{}).Run()
		return
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
