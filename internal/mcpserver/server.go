// Package mcpserver exposes workflow compilation over the Model Context
// Protocol so AI assistants can compose, compile, and validate workflows as
// tools. The server speaks MCP over stdio; logs go to stderr.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/kubiyabot/workflow-compiler/internal/compiler"
	"github.com/kubiyabot/workflow-compiler/internal/evaluator"
	"github.com/kubiyabot/workflow-compiler/internal/logger"
	"github.com/kubiyabot/workflow-compiler/internal/orchestrator"
	"github.com/kubiyabot/workflow-compiler/internal/workflow"
)

// Composer runs the full generation pipeline for one task. Implemented by
// orchestrator.Orchestrator.
type Composer interface {
	Run(ctx context.Context, task string) (*orchestrator.Result, error)
}

// Options configures a Server. Evaluator is required; a nil Composer leaves
// compose_workflow registered but failing with a configuration hint.
type Options struct {
	Version   string
	Composer  Composer
	Evaluator evaluator.Evaluator
	Logger    *zap.SugaredLogger
}

// Server wires the compilation pipeline into MCP tools.
type Server struct {
	composer Composer
	compiler *compiler.Compiler
	log      *zap.SugaredLogger
	mcp      *server.MCPServer
}

// New builds the server and registers its tools.
func New(opts Options) (*Server, error) {
	if opts.Evaluator == nil {
		return nil, fmt.Errorf("mcp server needs an evaluator")
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}

	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	s := &Server{
		composer: opts.Composer,
		compiler: compiler.New(compiler.Options{Evaluator: opts.Evaluator}),
		log:      log,
		mcp: server.NewMCPServer(
			"workflow-compiler",
			version,
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
			server.WithPromptCapabilities(false),
		),
	}
	s.registerTools()
	return s, nil
}

// Serve blocks handling MCP requests on stdin/stdout until the peer
// disconnects or ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Infow("mcp server starting", "transport", "stdio")
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) registerTools() {
	composeTool := mcp.NewTool("compose_workflow",
		mcp.WithDescription("Generate a validated workflow manifest from a natural-language task description. Runs the full generate-evaluate-refine loop."),
		mcp.WithString("task",
			mcp.Required(),
			mcp.Description("What the workflow should accomplish, in plain language"),
		),
	)
	s.mcp.AddTool(composeTool, s.handleCompose)

	compileTool := mcp.NewTool("compile_workflow",
		mcp.WithDescription("Compile workflow builder source into a manifest without any model calls. Fails with the full error list when the source is invalid."),
		mcp.WithString("source",
			mcp.Required(),
			mcp.Description("Workflow builder source (Lua DSL)"),
		),
	)
	s.mcp.AddTool(compileTool, s.handleCompile)

	validateTool := mcp.NewTool("validate_workflow",
		mcp.WithDescription("Check workflow builder source and return the ordered list of structural problems, empty when the workflow is valid."),
		mcp.WithString("source",
			mcp.Required(),
			mcp.Description("Workflow builder source (Lua DSL)"),
		),
	)
	s.mcp.AddTool(validateTool, s.handleValidate)
}

type composeReply struct {
	Task     string             `json:"task"`
	Rounds   int                `json:"rounds"`
	Manifest *workflow.Manifest `json:"manifest"`
	Warnings []string           `json:"warnings,omitempty"`
}

func (s *Server) handleCompose(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := request.RequireString("task")
	if err != nil {
		return mcp.NewToolResultError("task argument is required"), nil
	}
	if s.composer == nil {
		return mcp.NewToolResultError("no generation backend configured; set an API key and restart the server"), nil
	}

	s.log.Infow("compose_workflow", "task", task)
	res, err := s.composer.Run(ctx, task)
	if err != nil {
		var exhausted *orchestrator.ExhaustedError
		if errors.As(err, &exhausted) {
			return mcp.NewToolResultError(renderExhausted(exhausted)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(composeReply{
		Task:     res.Task,
		Rounds:   len(res.Rounds),
		Manifest: res.Manifest,
		Warnings: res.Warnings,
	})
}

func (s *Server) handleCompile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := request.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError("source argument is required"), nil
	}

	s.log.Debugw("compile_workflow", "bytes", len(source))
	res, err := s.compiler.Compile(ctx, source)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res.Manifest)
}

type validateReply struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

func (s *Server) handleValidate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := request.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError("source argument is required"), nil
	}

	s.log.Debugw("validate_workflow", "bytes", len(source))
	reply := validateReply{Valid: true, Errors: []string{}}

	if _, err := s.compiler.Compile(ctx, source); err != nil {
		reply.Valid = false
		var invalid *compiler.InvalidWorkflowError
		if errors.As(err, &invalid) {
			reply.Errors = workflow.RenderErrors(invalid.Errors)
		} else {
			reply.Errors = append(reply.Errors, err.Error())
		}
	}
	return jsonResult(reply)
}

// renderExhausted joins the exhaustion summary with the problems of the final
// attempt, the same lines the refinement loop saw.
func renderExhausted(e *orchestrator.ExhaustedError) string {
	lines := []string{e.Error()}
	if len(e.Rounds) > 0 {
		lines = append(lines, e.Rounds[len(e.Rounds)-1].ErrorLines...)
	}
	return strings.Join(lines, "\n")
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
