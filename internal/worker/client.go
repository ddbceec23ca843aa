// Package worker runs candidate evaluation in a subprocess. The parent
// re-executes its own binary with WFC_WORKER=1 and speaks newline-delimited
// JSON over the child's stdin and stdout, so a candidate that crashes the
// interpreter takes down the worker instead of the compiler.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kubiyabot/workflow-compiler/internal/evaluator"
	"github.com/kubiyabot/workflow-compiler/internal/workflow"
)

// Request is sent from client to worker over stdin as JSON newline.
type Request struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	TimeoutSec int            `json:"timeout_sec,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

// Response is sent from worker to client over stdout as JSON newline. ErrKind
// carries the evaluation error kind across the process boundary so the
// refinement loop sees the same taxonomy in both isolation modes.
type Response struct {
	ID       string          `json:"id"`
	Workflow json.RawMessage `json:"workflow,omitempty"`
	ErrKind  string          `json:"err_kind,omitempty"`
	Err      string          `json:"err,omitempty"`
}

// ErrWorkerExited reports a worker that died before answering a request.
var ErrWorkerExited = errors.New("worker exited before responding")

// Options configures the requests a Client sends.
type Options struct {
	// TimeoutSec is the per-evaluation budget forwarded to the worker.
	// Zero lets the worker apply its default.
	TimeoutSec int

	// Params are the declared parameter values forwarded with every request.
	Params map[string]any
}

// Client manages communication with a worker subprocess. It implements
// evaluator.Evaluator, so callers pick isolation without changing shape.
type Client struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	writeMu sync.Mutex
	enc     *json.Encoder

	pendingMu sync.Mutex
	pending   map[string]chan Response

	idCounter uint64
	opts      Options
}

var _ evaluator.Evaluator = (*Client)(nil)

// NewClient spawns a worker subprocess running the current binary.
func NewClient(opts Options) (*Client, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	exe, _ = filepath.Abs(exe)

	cmd := exec.Command(exe)
	// Inherit the parent environment but strip any stale worker marker so a
	// worker can never recursively spawn workers.
	parentEnv := os.Environ()
	childEnv := make([]string, 0, len(parentEnv)+1)
	for _, e := range parentEnv {
		if strings.HasPrefix(e, envWorker+"=") {
			continue
		}
		childEnv = append(childEnv, e)
	}
	childEnv = append(childEnv, envWorker+"=1")
	cmd.Env = childEnv
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	c := &Client{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
		enc:     json.NewEncoder(stdin),
		pending: make(map[string]chan Response),
		opts:    opts,
	}

	go c.readLoop()

	return c, nil
}

// readLoop reads responses from the worker subprocess and routes them to
// waiting callers. When the stream ends, every pending call is failed so no
// caller blocks on a dead worker.
func (c *Client) readLoop() {
	dec := json.NewDecoder(bufio.NewReader(c.stdout))
	for {
		var resp Response
		if err := dec.Decode(&resp); err != nil {
			if err != io.EOF {
				fmt.Fprintf(os.Stderr, "worker client decode error: %v\n", err)
			}
			c.failPending()
			return
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.pendingMu.Unlock()

		if ok {
			ch <- resp
			close(ch)
		}
	}
}

func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
}

// Evaluate sends the candidate source to the worker and waits for the
// resulting workflow or a reconstructed evaluation error.
func (c *Client) Evaluate(ctx context.Context, source string) (*workflow.Workflow, error) {
	id := fmt.Sprintf("%d", atomic.AddUint64(&c.idCounter, 1))
	req := Request{
		ID:         id,
		Source:     source,
		TimeoutSec: c.opts.TimeoutSec,
		Params:     c.opts.Params,
	}

	ch := make(chan Response, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	err := c.enc.Encode(req)
	c.writeMu.Unlock()
	if err != nil {
		c.discard(id)
		return nil, fmt.Errorf("send to worker: %w", err)
	}

	select {
	case <-ctx.Done():
		c.discard(id)
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrWorkerExited
		}
		return decodeResponse(resp)
	}
}

func (c *Client) discard(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func decodeResponse(resp Response) (*workflow.Workflow, error) {
	if resp.Err != "" {
		if resp.ErrKind != "" {
			return nil, &evaluator.Error{Kind: evaluator.Kind(resp.ErrKind), Message: resp.Err}
		}
		return nil, errors.New(resp.Err)
	}
	var wf workflow.Workflow
	if err := json.Unmarshal(resp.Workflow, &wf); err != nil {
		return nil, fmt.Errorf("decode worker result: %w", err)
	}
	return &wf, nil
}

// Close shuts down the worker subprocess. Closing stdin ends the worker's
// read loop and lets it exit on its own.
func (c *Client) Close() error {
	c.stdin.Close()
	return c.cmd.Wait()
}

// Pid returns the process ID of the worker subprocess.
func (c *Client) Pid() int {
	if c.cmd != nil && c.cmd.Process != nil {
		return c.cmd.Process.Pid
	}
	return 0
}
