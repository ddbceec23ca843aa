package stream

import (
	"encoding/json"
	"fmt"
	"io"
)

// Translator renders events into a client wire format, one event at a time.
// Each Write is a pure mapping; translators hold no event state.
type Translator interface {
	Write(ev Event) error
}

// JSONLines writes one JSON envelope per line.
type JSONLines struct {
	w io.Writer
}

func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{w: w}
}

func (t *JSONLines) Write(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(t.w, "%s\n", data)
	return err
}

// SSE writes the same envelopes as server-sent-event data frames.
type SSE struct {
	w io.Writer
}

func NewSSE(w io.Writer) *SSE {
	return &SSE{w: w}
}

func (t *SSE) Write(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(t.w, "data: %s\n\n", data)
	return err
}

// Vercel writes the AI-SDK data-stream protocol: text chunks as 0:"...",
// structured events as 2:[{...}], errors as 3:"...", and a terminal finish
// frame as d:{...}. Unknown kinds ride along as data events.
type Vercel struct {
	w io.Writer
}

func NewVercel(w io.Writer) *Vercel {
	return &Vercel{w: w}
}

func (t *Vercel) Write(ev Event) error {
	switch ev.Kind {
	case KindGenerationChunk, KindStepOutputChunk:
		text, _ := ev.Data["text"].(string)
		quoted, err := json.Marshal(text)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(t.w, "0:%s\n", quoted)
		return err

	case KindError:
		message, _ := ev.Data["message"].(string)
		quoted, err := json.Marshal(message)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(t.w, "3:%s\n", quoted)
		return err

	case KindExecutionComplete:
		_, err := fmt.Fprint(t.w, `d:{"finishReason":"stop"}`+"\n")
		return err

	case KindCancelled:
		_, err := fmt.Fprint(t.w, `d:{"finishReason":"cancelled"}`+"\n")
		return err

	default:
		data, err := json.Marshal([]Event{ev})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(t.w, "2:%s\n", data)
		return err
	}
}

// NewTranslator picks a translator by format name: "jsonl", "sse", or
// "vercel".
func NewTranslator(format string, w io.Writer) (Translator, error) {
	switch format {
	case "jsonl":
		return NewJSONLines(w), nil
	case "sse":
		return NewSSE(w), nil
	case "vercel":
		return NewVercel(w), nil
	default:
		return nil, fmt.Errorf("unknown stream format %q (want jsonl, sse, or vercel)", format)
	}
}

// Drain writes every event from the channel through the translator until the
// channel closes. The first write error stops translation and is returned;
// remaining events are discarded so the producer never blocks.
func Drain(events <-chan Event, t Translator) error {
	var firstErr error
	for ev := range events {
		if firstErr != nil {
			continue
		}
		if err := t.Write(ev); err != nil {
			firstErr = err
		}
	}
	return firstErr
}
