package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CommandGenerator implements Generator by running a local command, which
// lets self-hosted model wrappers plug in without an API surface. The
// request is written to the command's stdin as JSON and the candidate
// definition is read from its stdout.
type CommandGenerator struct {
	command string
	shell   string
}

// CommandConfig holds configuration for the command generator.
type CommandConfig struct {
	// Command is the shell command line to run per generation.
	Command string

	// Shell interprets the command line (default: "sh").
	Shell string
}

type commandRequest struct {
	System    string `json:"system,omitempty"`
	Prompt    string `json:"prompt"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// NewCommandGenerator creates a command-backed generator.
func NewCommandGenerator(cfg CommandConfig) (*CommandGenerator, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("command generator needs a command line")
	}
	shell := cfg.Shell
	if shell == "" {
		shell = "sh"
	}
	return &CommandGenerator{command: cfg.Command, shell: shell}, nil
}

// Generate implements Generator. The command runs once per request; it
// cannot stream, so OnDelta receives the whole response in one call.
func (g *CommandGenerator) Generate(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(commandRequest{
		System:    req.System,
		Prompt:    req.Prompt,
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, g.shell, "-c", g.command)
	cmd.Env = os.Environ()
	cmd.Stdin = bytes.NewReader(append(payload, '\n'))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return "", fmt.Errorf("generation command failed: %w: %s", err, detail)
		}
		return "", fmt.Errorf("generation command failed: %w", err)
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", fmt.Errorf("generation command produced no output")
	}
	if req.OnDelta != nil {
		req.OnDelta(out)
	}
	return out, nil
}

// Name implements Generator.
func (g *CommandGenerator) Name() string {
	return "command"
}

// Close implements Generator.
func (g *CommandGenerator) Close() error {
	return nil
}
