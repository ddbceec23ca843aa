// Package stream carries compilation and execution progress as typed events
// and translates them into client wire formats. Producers emit through a
// buffered channel handle; order in is order out, and nothing is dropped.
package stream

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Kind identifies an event type on the wire.
type Kind string

const (
	KindContextLoaded     Kind = "context_loaded"
	KindGenerationChunk   Kind = "generation_chunk"
	KindCandidateReady    Kind = "candidate_ready"
	KindValidationErrors  Kind = "validation_errors"
	KindRefinementStarted Kind = "refinement_started"
	KindWorkflowReady     Kind = "workflow_ready"
	KindExecutionStarted  Kind = "execution_started"
	KindStepStarted       Kind = "step_started"
	KindStepOutputChunk   Kind = "step_output_chunk"
	KindStepCompleted     Kind = "step_completed"
	KindExecutionComplete Kind = "execution_complete"
	KindWarning           Kind = "warning"
	KindCancelled         Kind = "cancelled"
	KindError             Kind = "error"
)

// Event is one progress notification. Data fields are flattened next to the
// type tag on the wire: {"type": "warning", "message": "..."}.
type Event struct {
	Kind Kind
	Data map[string]any
}

// MarshalJSON flattens Data into the envelope.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		if k == "type" {
			continue
		}
		m[k] = v
	}
	m["type"] = string(e.Kind)
	return json.Marshal(m)
}

// UnmarshalJSON splits the type tag from the payload fields. Events with
// unrecognized kinds decode fine; translators pass them through.
func (e *Event) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	kind, _ := m["type"].(string)
	if kind == "" {
		return fmt.Errorf("event missing type tag")
	}
	delete(m, "type")
	e.Kind = Kind(kind)
	e.Data = nil
	if len(m) > 0 {
		e.Data = m
	}
	return nil
}

// ContextLoaded reports the snapshot section sizes.
func ContextLoaded(runners, integrations, secrets int) Event {
	return Event{Kind: KindContextLoaded, Data: map[string]any{
		"runners":      runners,
		"integrations": integrations,
		"secrets":      secrets,
	}}
}

// GenerationChunk carries one fragment of streamed model output.
func GenerationChunk(text string) Event {
	return Event{Kind: KindGenerationChunk, Data: map[string]any{"text": text}}
}

// CandidateReady reports a complete candidate for a round.
func CandidateReady(round int, source string) Event {
	return Event{Kind: KindCandidateReady, Data: map[string]any{
		"round":  round,
		"source": source,
	}}
}

// ValidationErrors reports the rendered error lines for a round.
func ValidationErrors(round int, lines []string) Event {
	return Event{Kind: KindValidationErrors, Data: map[string]any{
		"round":  round,
		"errors": lines,
	}}
}

// RefinementStarted marks the beginning of a refinement round.
func RefinementStarted(round int) Event {
	return Event{Kind: KindRefinementStarted, Data: map[string]any{"round": round}}
}

// WorkflowReady carries the final manifest.
func WorkflowReady(manifest any) Event {
	return Event{Kind: KindWorkflowReady, Data: map[string]any{"manifest": manifest}}
}

// Warning carries a non-fatal condition.
func Warning(message string) Event {
	return Event{Kind: KindWarning, Data: map[string]any{"message": message}}
}

// Cancelled is the terminal event for an aborted run.
func Cancelled() Event {
	return Event{Kind: KindCancelled}
}

// Error is the terminal event for a failed run.
func Error(message string) Event {
	return Event{Kind: KindError, Data: map[string]any{"message": message}}
}

// DefaultBuffer is the emitter channel capacity when none is given.
const DefaultBuffer = 64

// Emitter is the producer handle for an event stream. Emit blocks when the
// consumer falls more than the buffer behind, preserving FIFO order with no
// drops.
type Emitter struct {
	ch        chan Event
	closeOnce sync.Once
}

// NewEmitter creates an emitter with the given buffer size.
func NewEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Emitter{ch: make(chan Event, buffer)}
}

// Emit queues an event.
func (e *Emitter) Emit(ev Event) {
	e.ch <- ev
}

// Events returns the consumer side of the stream.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Close ends the stream. Safe to call more than once; never call Emit after.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() { close(e.ch) })
}
