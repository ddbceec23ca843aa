package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/kubiyabot/workflow-compiler/internal/evaluator"
	"github.com/kubiyabot/workflow-compiler/internal/workflow"
)

// Handler evaluates a single request on behalf of the server loop.
type Handler interface {
	Evaluate(req Request) (*workflow.Workflow, error)
}

// SandboxHandler evaluates each request in a fresh sandbox so no state leaks
// between candidates.
type SandboxHandler struct{}

func (SandboxHandler) Evaluate(req Request) (*workflow.Workflow, error) {
	s := evaluator.New(evaluator.Options{
		Timeout: time.Duration(req.TimeoutSec) * time.Second,
		Params:  req.Params,
	})
	return s.Evaluate(context.Background(), req.Source)
}

// Server runs inside a spawned worker process and handles incoming requests.
type Server struct {
	handler Handler
	mu      sync.Mutex
}

// NewServer creates a worker server with the given handler.
func NewServer(handler Handler) *Server {
	return &Server{handler: handler}
}

// Run serves requests on the process streams. It blocks until stdin closes.
func (s *Server) Run() {
	fmt.Fprintf(os.Stderr, "wfc worker: starting (pid=%d)\n", os.Getpid())
	s.Serve(os.Stdin, os.Stdout)
	fmt.Fprintf(os.Stderr, "wfc worker: exiting (pid=%d)\n", os.Getpid())
}

// Serve reads newline-delimited JSON requests from r and writes one response
// per request to w, in order.
func (s *Server) Serve(r io.Reader, w io.Writer) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	scanner := bufio.NewScanner(r)
	// Candidate sources can exceed the default scanner limit.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			enc.Encode(Response{ID: req.ID, Err: fmt.Sprintf("invalid request: %v", err)})
			bw.Flush()
			continue
		}

		s.mu.Lock()
		wf, err := s.handler.Evaluate(req)
		s.mu.Unlock()

		enc.Encode(buildResponse(req.ID, wf, err))
		bw.Flush()
	}

	if err := scanner.Err(); err != nil && err != io.EOF {
		fmt.Fprintf(os.Stderr, "worker input error: %v\n", err)
	}
}

func buildResponse(id string, wf *workflow.Workflow, err error) Response {
	resp := Response{ID: id}
	if err != nil {
		resp.Err = err.Error()
		var evalErr *evaluator.Error
		if errors.As(err, &evalErr) {
			resp.ErrKind = string(evalErr.Kind)
			resp.Err = evalErr.Message
		}
		return resp
	}

	data, merr := json.Marshal(wf)
	if merr != nil {
		resp.Err = fmt.Sprintf("encode workflow: %v", merr)
		return resp
	}
	resp.Workflow = data
	return resp
}
