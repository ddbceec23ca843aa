package stream

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestEventEnvelope(t *testing.T) {
	ev := Warning("platform unreachable")

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"message":"platform unreachable","type":"warning"}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}

	var back Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back.Kind != KindWarning || back.Data["message"] != "platform unreachable" {
		t.Errorf("round trip = %+v", back)
	}
}

func TestEventUnknownKindDecodes(t *testing.T) {
	raw := `{"type":"engine_heartbeat","seq":7}`
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if ev.Kind != Kind("engine_heartbeat") {
		t.Errorf("Kind = %q", ev.Kind)
	}
	if ev.Data["seq"] != float64(7) {
		t.Errorf("Data = %v", ev.Data)
	}
}

func TestEventMissingTypeRejected(t *testing.T) {
	var ev Event
	if err := json.Unmarshal([]byte(`{"message":"x"}`), &ev); err == nil {
		t.Error("events without a type tag should not decode")
	}
}

func TestEmitterFIFO(t *testing.T) {
	e := NewEmitter(8)
	go func() {
		for i := 0; i < 100; i++ {
			e.Emit(CandidateReady(i, "src"))
		}
		e.Close()
	}()

	var rounds []int
	for ev := range e.Events() {
		rounds = append(rounds, ev.Data["round"].(int))
	}
	if len(rounds) != 100 {
		t.Fatalf("received %d events, want 100", len(rounds))
	}
	for i, r := range rounds {
		if r != i {
			t.Fatalf("event %d has round %d, order broken", i, r)
		}
	}
}

func TestEmitterCloseIdempotent(t *testing.T) {
	e := NewEmitter(0)
	e.Close()
	e.Close()
	if _, ok := <-e.Events(); ok {
		t.Error("closed emitter should yield no events")
	}
}

func TestJSONLines(t *testing.T) {
	var buf bytes.Buffer
	tr := NewJSONLines(&buf)

	tr.Write(RefinementStarted(1))
	tr.Write(Cancelled())

	want := `{"round":1,"type":"refinement_started"}` + "\n" + `{"type":"cancelled"}` + "\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestSSE(t *testing.T) {
	var buf bytes.Buffer
	tr := NewSSE(&buf)

	tr.Write(GenerationChunk("wf"))

	want := "data: {\"text\":\"wf\",\"type\":\"generation_chunk\"}\n\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestVercelMapping(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{
			name: "text chunk",
			ev:   GenerationChunk(`workflow("x")`),
			want: `0:"workflow(\"x\")"` + "\n",
		},
		{
			name: "step output chunk",
			ev:   Event{Kind: KindStepOutputChunk, Data: map[string]any{"step": "build", "text": "ok"}},
			want: `0:"ok"` + "\n",
		},
		{
			name: "error",
			ev:   Error("generation failed"),
			want: `3:"generation failed"` + "\n",
		},
		{
			name: "terminal finish",
			ev:   Event{Kind: KindExecutionComplete},
			want: `d:{"finishReason":"stop"}` + "\n",
		},
		{
			name: "cancelled finish",
			ev:   Cancelled(),
			want: `d:{"finishReason":"cancelled"}` + "\n",
		},
		{
			name: "data event",
			ev:   RefinementStarted(2),
			want: `2:[{"round":2,"type":"refinement_started"}]` + "\n",
		},
		{
			name: "unknown kind passes through",
			ev:   Event{Kind: Kind("engine_heartbeat"), Data: map[string]any{"seq": 7}},
			want: `2:[{"seq":7,"type":"engine_heartbeat"}]` + "\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewVercel(&buf).Write(tt.ev); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("output = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestNewTranslator(t *testing.T) {
	var buf bytes.Buffer
	for _, format := range []string{"jsonl", "sse", "vercel"} {
		if _, err := NewTranslator(format, &buf); err != nil {
			t.Errorf("NewTranslator(%q) error = %v", format, err)
		}
	}
	if _, err := NewTranslator("xml", &buf); err == nil {
		t.Error("NewTranslator should reject unknown formats")
	}
}

func TestDrain(t *testing.T) {
	e := NewEmitter(4)
	go func() {
		e.Emit(Warning("one"))
		e.Emit(Warning("two"))
		e.Close()
	}()

	var buf bytes.Buffer
	if err := Drain(e.Events(), NewJSONLines(&buf)); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %v", lines)
	}

	var got []string
	for _, line := range lines {
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("line %q: %v", line, err)
		}
		got = append(got, ev.Data["message"].(string))
	}
	if !reflect.DeepEqual(got, []string{"one", "two"}) {
		t.Errorf("messages = %v", got)
	}
}
