package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	mock := &mockGenerator{}
	registry.Register("mock", mock)

	retrieved, ok := registry.Get("mock")
	if !ok || retrieved == nil {
		t.Error("failed to retrieve registered generator")
	}

	notFound, ok := registry.Get("nonexistent")
	if ok || notFound != nil {
		t.Error("expected not found for non-existent generator")
	}
}

func TestRegistryDefault(t *testing.T) {
	registry := NewRegistry()

	registry.Register("first", &mockGenerator{name: "first"})

	retrieved, ok := registry.Get("")
	if !ok || retrieved.Name() != "first" {
		t.Errorf("first registration should be the default, got %v", retrieved)
	}

	registry.Register("second", &mockGenerator{name: "second"})
	registry.SetDefault("second")

	retrieved, _ = registry.Get("")
	if retrieved.Name() != "second" {
		t.Errorf("expected second as default, got %s", retrieved.Name())
	}
}

func TestRegistryNames(t *testing.T) {
	registry := NewRegistry()
	registry.Register("zeta", &mockGenerator{})
	registry.Register("alpha", &mockGenerator{})

	want := []string{"alpha", "zeta"}
	if got := registry.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

type mockGenerator struct {
	name string
}

func (m *mockGenerator) Generate(ctx context.Context, req Request) (string, error) {
	return "mock response", nil
}

func (m *mockGenerator) Name() string {
	if m.name != "" {
		return m.name
	}
	return "mock"
}

func (m *mockGenerator) Close() error {
	return nil
}

func TestCommandGeneratorReceivesRequest(t *testing.T) {
	// cat echoes the request JSON back, proving what reached stdin.
	g, err := NewCommandGenerator(CommandConfig{Command: "cat"})
	if err != nil {
		t.Fatalf("NewCommandGenerator() error = %v", err)
	}

	var deltas []string
	out, err := g.Generate(context.Background(), Request{
		System:  "sys",
		Prompt:  "make a release workflow",
		OnDelta: func(chunk string) { deltas = append(deltas, chunk) },
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.Contains(out, `"prompt":"make a release workflow"`) {
		t.Errorf("command did not receive the prompt: %q", out)
	}
	if !strings.Contains(out, `"system":"sys"`) {
		t.Errorf("command did not receive the system prompt: %q", out)
	}
	if len(deltas) != 1 || deltas[0] != out {
		t.Errorf("OnDelta = %v, want one call with the full output", deltas)
	}
}

func TestCommandGeneratorOutput(t *testing.T) {
	g, _ := NewCommandGenerator(CommandConfig{
		Command: `cat >/dev/null; printf 'workflow("gen") step("s").shell("true")'`,
	})

	out, err := g.Generate(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out != `workflow("gen") step("s").shell("true")` {
		t.Errorf("Generate() = %q", out)
	}
}

func TestCommandGeneratorFailure(t *testing.T) {
	g, _ := NewCommandGenerator(CommandConfig{Command: "echo broken >&2; exit 3"})

	_, err := g.Generate(context.Background(), Request{Prompt: "p"})
	if err == nil {
		t.Fatal("Generate() should fail")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error should carry stderr detail: %v", err)
	}
}

func TestCommandGeneratorEmptyOutput(t *testing.T) {
	g, _ := NewCommandGenerator(CommandConfig{Command: "cat >/dev/null"})

	if _, err := g.Generate(context.Background(), Request{Prompt: "p"}); err == nil {
		t.Error("empty output should be an error")
	}
}

func TestCommandGeneratorCancellation(t *testing.T) {
	g, _ := NewCommandGenerator(CommandConfig{Command: "sleep 5"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := g.Generate(ctx, Request{Prompt: "p"}); err == nil {
		t.Error("Generate() should fail when the context expires")
	}
}

func TestNewCommandGeneratorRequiresCommand(t *testing.T) {
	if _, err := NewCommandGenerator(CommandConfig{}); err == nil {
		t.Error("NewCommandGenerator() should reject an empty command")
	}
}

func TestNewOpenAIGeneratorRequiresKey(t *testing.T) {
	if _, err := NewOpenAIGenerator(OpenAIConfig{}); err == nil {
		t.Error("NewOpenAIGenerator() should reject a missing API key")
	}
}

type fakeChatRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newFakeOpenAI(t *testing.T, chunks []string) (*httptest.Server, *fakeChatRequest) {
	t.Helper()
	lastReq := &fakeChatRequest{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(lastReq); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if !lastReq.Stream {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`,
				strings.Join(chunks, ""))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range chunks {
			fmt.Fprintf(w, `data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":%q}}]}`, chunk)
			fmt.Fprint(w, "\n\n")
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	})
	return httptest.NewServer(mux), lastReq
}

func TestOpenAIGenerator(t *testing.T) {
	srv, lastReq := newFakeOpenAI(t, []string{`workflow("x")`})
	defer srv.Close()

	g, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}

	out, err := g.Generate(context.Background(), Request{System: "sys", Prompt: "task"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out != `workflow("x")` {
		t.Errorf("Generate() = %q", out)
	}
	if len(lastReq.Messages) != 2 || lastReq.Messages[0].Role != "system" {
		t.Errorf("messages = %+v, want system then user", lastReq.Messages)
	}
}

func TestOpenAIGeneratorStreaming(t *testing.T) {
	srv, _ := newFakeOpenAI(t, []string{`workflow(`, `"x")`})
	defer srv.Close()

	g, _ := NewOpenAIGenerator(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1"})

	var deltas []string
	out, err := g.Generate(context.Background(), Request{
		Prompt:  "task",
		OnDelta: func(chunk string) { deltas = append(deltas, chunk) },
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out != `workflow("x")` {
		t.Errorf("Generate() = %q", out)
	}
	if len(deltas) != 2 || deltas[0] != `workflow(` {
		t.Errorf("deltas = %v", deltas)
	}
}
