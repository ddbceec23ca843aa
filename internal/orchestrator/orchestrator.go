// Package orchestrator drives a task description through context loading,
// generation, evaluation, validation, and bounded refinement until a valid
// manifest emerges or the round budget is spent. One orchestrator run serves
// one request; all dependencies are injected and nothing is shared between
// runs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kubiyabot/workflow-compiler/internal/backend"
	"github.com/kubiyabot/workflow-compiler/internal/config"
	"github.com/kubiyabot/workflow-compiler/internal/evaluator"
	"github.com/kubiyabot/workflow-compiler/internal/logger"
	"github.com/kubiyabot/workflow-compiler/internal/platform"
	"github.com/kubiyabot/workflow-compiler/internal/prompt"
	"github.com/kubiyabot/workflow-compiler/internal/stream"
	"github.com/kubiyabot/workflow-compiler/internal/workflow"
)

// DefaultMaxRounds bounds refinement when the caller does not choose.
const DefaultMaxRounds = 3

// State names the orchestration phases, for logs and debugging.
type State string

const (
	StateLoadingContext State = "loading_context"
	StateGenerating     State = "generating"
	StateEvaluating     State = "evaluating"
	StateRefining       State = "refining"
	StateDone           State = "done"
	StateExhausted      State = "exhausted"
)

// ErrCancelled reports a run aborted by the caller's context.
var ErrCancelled = errors.New("compilation cancelled")

// ExhaustedError reports a run that spent its round budget without producing
// a valid workflow. The full history rides along for inspection.
type ExhaustedError struct {
	Rounds []Round
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("no valid workflow after %d rounds", len(e.Rounds))
}

// Round records one generation or refinement attempt. Rounds are immutable
// once appended to the history.
type Round struct {
	// Index is 0 for the initial generation, 1..MaxRounds for refinements.
	Index int `json:"index"`

	// InputErrors are the prior round's problems that triggered this
	// refinement. Empty for the initial generation.
	InputErrors []string `json:"input_errors,omitempty"`

	// Candidate is the cleaned model output. Empty when the generation
	// capability itself failed.
	Candidate string `json:"candidate"`

	// ErrorLines are the rendered problems that made this round invalid.
	// Empty on the successful round.
	ErrorLines []string `json:"error_lines,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Result is a successful compilation.
type Result struct {
	Task     string
	Workflow *workflow.Workflow
	Manifest *workflow.Manifest
	Rounds   []Round
	Warnings []string
	Snapshot *platform.Snapshot
}

// Options configures an Orchestrator. Generator and Evaluator are required.
type Options struct {
	Generator backend.Generator
	Evaluator evaluator.Evaluator

	// Loader provides the context snapshot. Nil means an empty snapshot.
	Loader platform.Loader

	// Prompts overrides the default prompt builder.
	Prompts *prompt.Builder

	// Emitter receives progress events. Nil disables streaming. Run closes
	// it on return so consumers can range over Events.
	Emitter *stream.Emitter

	Logger *zap.SugaredLogger

	// MaxRounds bounds refinement rounds. Non-positive means
	// DefaultMaxRounds; a run makes at most MaxRounds+1 attempts.
	MaxRounds int

	// Policy selects how much history refinement prompts carry:
	// config.PolicyLastRound (default) or config.PolicyFullHistory.
	Policy string

	// Model and MaxTokens are passed through to the generator.
	Model     string
	MaxTokens int

	// RequestTimeout bounds the whole run. Zero means no extra bound
	// beyond the caller's context.
	RequestTimeout time.Duration
}

// Orchestrator runs compilations.
type Orchestrator struct {
	generator backend.Generator
	evaluator evaluator.Evaluator
	loader    platform.Loader
	prompts   *prompt.Builder
	emitter   *stream.Emitter
	log       *zap.SugaredLogger

	maxRounds      int
	policy         string
	model          string
	maxTokens      int
	requestTimeout time.Duration
}

// New validates the options and builds an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Generator == nil {
		return nil, fmt.Errorf("orchestrator needs a generator")
	}
	if opts.Evaluator == nil {
		return nil, fmt.Errorf("orchestrator needs an evaluator")
	}

	prompts := opts.Prompts
	if prompts == nil {
		var err error
		prompts, err = prompt.NewBuilder()
		if err != nil {
			return nil, err
		}
	}

	loader := opts.Loader
	if loader == nil {
		loader = &platform.Static{}
	}

	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	policy := opts.Policy
	if policy == "" {
		policy = config.PolicyLastRound
	}
	if policy != config.PolicyLastRound && policy != config.PolicyFullHistory {
		return nil, fmt.Errorf("unknown refinement policy %q", policy)
	}

	return &Orchestrator{
		generator:      opts.Generator,
		evaluator:      opts.Evaluator,
		loader:         loader,
		prompts:        prompts,
		emitter:        opts.Emitter,
		log:            log,
		maxRounds:      maxRounds,
		policy:         policy,
		model:          opts.Model,
		maxTokens:      opts.MaxTokens,
		requestTimeout: opts.RequestTimeout,
	}, nil
}

// Run compiles a task description into a validated manifest. On cancellation
// it returns ErrCancelled and never a partial result; when the round budget
// is exhausted it returns an ExhaustedError carrying the full history.
func (o *Orchestrator) Run(ctx context.Context, task string) (*Result, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, fmt.Errorf("task description is empty")
	}

	if o.emitter != nil {
		defer o.emitter.Close()
	}

	if o.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.requestTimeout)
		defer cancel()
	}

	o.log.Debugw("run starting", "task", task, "max_rounds", o.maxRounds, "state", StateLoadingContext)
	if err := ctx.Err(); err != nil {
		return nil, o.abort(ctx)
	}

	snap, warnings := o.loader.LoadSnapshot(ctx)
	for _, w := range warnings {
		o.log.Warnw("context warning", "warning", w)
		o.emit(stream.Warning(w))
	}
	o.emit(stream.ContextLoaded(len(snap.Runners), len(snap.Integrations), len(snap.SecretsAvailable)))

	var rounds []Round
	for i := 0; i <= o.maxRounds; i++ {
		if err := ctx.Err(); err != nil {
			return nil, o.abort(ctx)
		}

		round := Round{Index: i, StartedAt: time.Now()}
		if n := len(rounds); n > 0 {
			round.InputErrors = rounds[n-1].ErrorLines
		}

		userPrompt, err := o.buildPrompt(task, snap, i, rounds)
		if err != nil {
			o.emit(stream.Error(err.Error()))
			return nil, err
		}

		o.log.Debugw("generating candidate", "round", i, "state", StateGenerating, "generator", o.generator.Name())
		candidate, genErr := o.generate(ctx, userPrompt)
		if genErr != nil {
			if ctx.Err() != nil {
				return nil, o.abort(ctx)
			}
			// A capability failure consumes the round so a permanently
			// failing generator still terminates.
			line := fmt.Sprintf("generation failed: %v", genErr)
			o.log.Warnw("generation failed", "round", i, "error", genErr)
			round.ErrorLines = []string{line}
			round.FinishedAt = time.Now()
			rounds = append(rounds, round)
			o.emit(stream.Warning(line))
			continue
		}

		round.Candidate = candidate
		o.emit(stream.CandidateReady(i, candidate))

		if err := ctx.Err(); err != nil {
			return nil, o.abort(ctx)
		}

		o.log.Debugw("evaluating candidate", "round", i, "state", StateEvaluating)
		lines, wf := o.check(ctx, candidate)
		if wf == nil && ctx.Err() != nil {
			return nil, o.abort(ctx)
		}
		if len(lines) > 0 {
			round.ErrorLines = lines
			round.FinishedAt = time.Now()
			rounds = append(rounds, round)
			o.emit(stream.ValidationErrors(i, lines))
			o.log.Infow("candidate rejected", "round", i, "problems", len(lines))
			continue
		}

		manifest, err := workflow.BuildManifest(wf)
		if err != nil {
			// Internal invariant breach; nothing refinement can fix.
			o.emit(stream.Error(err.Error()))
			return nil, err
		}

		round.FinishedAt = time.Now()
		rounds = append(rounds, round)
		o.emit(stream.WorkflowReady(manifest))
		o.log.Infow("workflow ready", "round", i, "steps", len(manifest.Steps), "state", StateDone)

		return &Result{
			Task:     task,
			Workflow: wf,
			Manifest: manifest,
			Rounds:   rounds,
			Warnings: warnings,
			Snapshot: snap,
		}, nil
	}

	o.log.Infow("refinement exhausted", "rounds", len(rounds), "state", StateExhausted)
	exhausted := &ExhaustedError{Rounds: rounds}
	o.emit(stream.Error(exhausted.Error()))
	return nil, exhausted
}

// buildPrompt renders the generation prompt for round 0 and refinement
// prompts afterwards, honoring the history policy.
func (o *Orchestrator) buildPrompt(task string, snap *platform.Snapshot, round int, rounds []Round) (string, error) {
	if round == 0 {
		return o.prompts.Generation(task, snap)
	}

	o.log.Debugw("refining", "round", round, "state", StateRefining, "policy", o.policy)
	o.emit(stream.RefinementStarted(round))

	var attempts []prompt.Attempt
	if o.policy == config.PolicyFullHistory {
		for _, r := range rounds {
			attempts = append(attempts, prompt.Attempt{Source: r.Candidate, Errors: r.ErrorLines})
		}
	} else {
		last := rounds[len(rounds)-1]
		attempts = []prompt.Attempt{{Source: last.Candidate, Errors: last.ErrorLines}}
	}
	return o.prompts.Refinement(task, snap, attempts)
}

func (o *Orchestrator) generate(ctx context.Context, userPrompt string) (string, error) {
	req := backend.Request{
		System:    o.prompts.System(),
		Prompt:    userPrompt,
		Model:     o.model,
		MaxTokens: o.maxTokens,
	}
	if o.emitter != nil {
		req.OnDelta = func(chunk string) {
			o.emit(stream.GenerationChunk(chunk))
		}
	}

	raw, err := o.generator.Generate(ctx, req)
	if err != nil {
		return "", err
	}

	candidate := cleanCandidate(raw)
	if candidate == "" {
		return "", fmt.Errorf("generator returned an empty candidate")
	}
	return candidate, nil
}

// check evaluates and validates one candidate. It returns the rendered error
// lines (empty on success) and the workflow when evaluation succeeded.
func (o *Orchestrator) check(ctx context.Context, candidate string) ([]string, *workflow.Workflow) {
	wf, err := o.evaluator.Evaluate(ctx, candidate)
	if err != nil {
		var evalErr *evaluator.Error
		if errors.As(err, &evalErr) {
			return []string{evalErr.Error()}, nil
		}
		// Context errors surface to the caller through ctx.Err.
		return []string{fmt.Sprintf("evaluation failed: %v", err)}, nil
	}

	if errs := workflow.Validate(wf); len(errs) > 0 {
		return workflow.RenderErrors(errs), nil
	}
	return nil, wf
}

func (o *Orchestrator) emit(ev stream.Event) {
	if o.emitter != nil {
		o.emitter.Emit(ev)
	}
}

// abort maps a dead context to the terminal event and error. Deadline
// overruns are reported failures; everything else is caller cancellation.
func (o *Orchestrator) abort(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		o.emit(stream.Error("request deadline exceeded"))
		return fmt.Errorf("request deadline exceeded: %w", context.DeadlineExceeded)
	}
	o.emit(stream.Cancelled())
	return ErrCancelled
}

// cleanCandidate strips the code fences models add despite instructions.
func cleanCandidate(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return ""
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
