package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kubiyabot/workflow-compiler/internal/compiler"
	"github.com/kubiyabot/workflow-compiler/internal/workflow"
)

var (
	compileInput  string
	compileOutput string
	compileFormat string
)

// compileCmd represents the compile command
var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile builder source or a definition file into a manifest, no model calls",
	Long: `compile turns a workflow definition into a validated manifest without
talking to any model. Builder source (.lua) runs in the sandbox; YAML and JSON
definitions are parsed directly. The manifest goes to stdout or --output.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runCompile(); err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(compileCmd)
	compileCmd.Flags().StringVarP(&compileInput, "input", "i", "", "workflow file (.lua, .yaml, .json)")
	compileCmd.MarkFlagRequired("input")
	compileCmd.Flags().StringVarP(&compileOutput, "output", "o", "", "write the manifest here instead of stdout")
	compileCmd.Flags().StringVar(&compileFormat, "format", "", "manifest format: yaml or json (default: from output extension, else yaml)")
}

func runCompile() error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}

	comp, cleanup, err := buildCompiler(rt.cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	wfs, err := comp.LoadFile(context.Background(), compileInput)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "📋 Loaded %d workflow(s) from %s\n", len(wfs), compileInput)

	invalid := false
	manifests := make([]*workflow.Manifest, 0, len(wfs))
	for i := range wfs {
		res, err := comp.CompileWorkflow(&wfs[i])
		if err != nil {
			var bad *compiler.InvalidWorkflowError
			if !errors.As(err, &bad) {
				return err
			}
			invalid = true
			fmt.Fprintf(os.Stderr, "❌ %s: %d problem(s)\n", wfs[i].Name, len(bad.Errors))
			for _, line := range workflow.RenderErrors(bad.Errors) {
				fmt.Fprintf(os.Stderr, "   %s\n", line)
			}
			continue
		}
		fmt.Fprintf(os.Stderr, "✅ %s validated, %d step(s)\n", wfs[i].Name, len(res.Manifest.Steps))
		manifests = append(manifests, res.Manifest)
	}
	if invalid {
		return fmt.Errorf("compilation failed")
	}

	data, err := renderManifests(manifests, manifestFormat())
	if err != nil {
		return err
	}

	if compileOutput == "" {
		os.Stdout.Write(data)
		return nil
	}
	if err := os.WriteFile(compileOutput, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	fmt.Fprintf(os.Stderr, "📦 Manifest written to %s\n", compileOutput)
	return nil
}

func manifestFormat() string {
	if compileFormat != "" {
		return compileFormat
	}
	if strings.ToLower(filepath.Ext(compileOutput)) == ".json" {
		return "json"
	}
	return "yaml"
}

func renderManifests(manifests []*workflow.Manifest, format string) ([]byte, error) {
	switch format {
	case "yaml":
		var buf bytes.Buffer
		for i, m := range manifests {
			if i > 0 {
				buf.WriteString("---\n")
			}
			data, err := m.YAML()
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		return buf.Bytes(), nil
	case "json":
		if len(manifests) == 1 {
			data, err := manifests[0].JSON()
			if err != nil {
				return nil, err
			}
			return append(data, '\n'), nil
		}
		data, err := json.MarshalIndent(manifests, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
	return nil, fmt.Errorf("unknown manifest format %q (want yaml or json)", format)
}
