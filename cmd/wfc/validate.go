package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kubiyabot/workflow-compiler/internal/workflow"
)

var validateInput string

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a workflow definition and list every structural problem",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(); err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVarP(&validateInput, "input", "i", "", "workflow file (.lua, .yaml, .json)")
	validateCmd.MarkFlagRequired("input")
}

func runValidate() error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}

	comp, cleanup, err := buildCompiler(rt.cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	wfs, err := comp.LoadFile(context.Background(), validateInput)
	if err != nil {
		return err
	}

	problems := 0
	for i := range wfs {
		wf := &wfs[i]
		errs := workflow.Validate(wf)
		if len(errs) == 0 {
			fmt.Printf("✅ %s: valid (%d step(s))\n", wf.Name, len(wf.Steps))
			continue
		}
		problems += len(errs)
		fmt.Printf("❌ %s: %d problem(s)\n", wf.Name, len(errs))
		for _, line := range workflow.RenderErrors(errs) {
			fmt.Printf("   %s\n", line)
		}
	}

	if problems > 0 {
		return fmt.Errorf("%d problem(s) found", problems)
	}
	return nil
}
