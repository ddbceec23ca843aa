package wfc_test

import (
	"testing"
	"time"

	"github.com/kubiyabot/workflow-compiler/pkg/wfc"
)

func TestDefaultOptions(t *testing.T) {
	opts := wfc.DefaultOptions()

	if opts.EvalTimeout != 0 {
		t.Errorf("expected zero EvalTimeout, got %v", opts.EvalTimeout)
	}
	if opts.Params != nil {
		t.Errorf("expected nil Params, got %v", opts.Params)
	}
	if opts.MaxRounds != 0 {
		t.Errorf("expected zero MaxRounds, got %d", opts.MaxRounds)
	}
	if opts.RefinementPolicy != "" {
		t.Errorf("expected empty RefinementPolicy, got %s", opts.RefinementPolicy)
	}
	if opts.Model != "" {
		t.Errorf("expected empty Model, got %s", opts.Model)
	}
	if opts.PlatformURL != "" {
		t.Errorf("expected empty PlatformURL, got %s", opts.PlatformURL)
	}
}

func TestWithEvalTimeout(t *testing.T) {
	opts := wfc.ApplyOptions(wfc.WithEvalTimeout(10 * time.Second))

	if opts.EvalTimeout != 10*time.Second {
		t.Errorf("expected EvalTimeout 10s, got %v", opts.EvalTimeout)
	}
}

func TestWithParams(t *testing.T) {
	opts := wfc.ApplyOptions(wfc.WithParams(map[string]any{"env": "prod"}))

	if opts.Params["env"] != "prod" {
		t.Errorf("expected params env 'prod', got %v", opts.Params["env"])
	}
}

func TestWithMaxRounds(t *testing.T) {
	opts := wfc.ApplyOptions(wfc.WithMaxRounds(5))

	if opts.MaxRounds != 5 {
		t.Errorf("expected MaxRounds 5, got %d", opts.MaxRounds)
	}
}

func TestWithRefinementPolicy(t *testing.T) {
	opts := wfc.ApplyOptions(wfc.WithRefinementPolicy("full_history"))

	if opts.RefinementPolicy != "full_history" {
		t.Errorf("expected RefinementPolicy 'full_history', got %s", opts.RefinementPolicy)
	}
}

func TestWithModel(t *testing.T) {
	opts := wfc.ApplyOptions(wfc.WithModel("gpt-4o"))

	if opts.Model != "gpt-4o" {
		t.Errorf("expected Model 'gpt-4o', got %s", opts.Model)
	}
}

func TestWithMaxTokens(t *testing.T) {
	opts := wfc.ApplyOptions(wfc.WithMaxTokens(2048))

	if opts.MaxTokens != 2048 {
		t.Errorf("expected MaxTokens 2048, got %d", opts.MaxTokens)
	}
}

func TestWithAPIKey(t *testing.T) {
	opts := wfc.ApplyOptions(wfc.WithAPIKey("sk-test"))

	if opts.APIKey != "sk-test" {
		t.Errorf("expected APIKey 'sk-test', got %s", opts.APIKey)
	}
}

func TestWithBaseURL(t *testing.T) {
	opts := wfc.ApplyOptions(wfc.WithBaseURL("http://localhost:8080/v1"))

	if opts.BaseURL != "http://localhost:8080/v1" {
		t.Errorf("expected BaseURL 'http://localhost:8080/v1', got %s", opts.BaseURL)
	}
}

func TestWithRequestTimeout(t *testing.T) {
	opts := wfc.ApplyOptions(wfc.WithRequestTimeout(time.Minute))

	if opts.RequestTimeout != time.Minute {
		t.Errorf("expected RequestTimeout 1m, got %v", opts.RequestTimeout)
	}
}

func TestWithPlatform(t *testing.T) {
	opts := wfc.ApplyOptions(wfc.WithPlatform("https://api.example.com", "key-123"))

	if opts.PlatformURL != "https://api.example.com" {
		t.Errorf("expected PlatformURL 'https://api.example.com', got %s", opts.PlatformURL)
	}
	if opts.PlatformAPIKey != "key-123" {
		t.Errorf("expected PlatformAPIKey 'key-123', got %s", opts.PlatformAPIKey)
	}
}

func TestApplyOptionsChaining(t *testing.T) {
	opts := wfc.ApplyOptions(
		wfc.WithMaxRounds(4),
		wfc.WithModel("gpt-4o"),
		wfc.WithRefinementPolicy("full_history"),
		wfc.WithEvalTimeout(2*time.Second),
	)

	if opts.MaxRounds != 4 {
		t.Errorf("expected MaxRounds 4, got %d", opts.MaxRounds)
	}
	if opts.Model != "gpt-4o" {
		t.Errorf("expected Model 'gpt-4o', got %s", opts.Model)
	}
	if opts.RefinementPolicy != "full_history" {
		t.Errorf("expected RefinementPolicy 'full_history', got %s", opts.RefinementPolicy)
	}
	if opts.EvalTimeout != 2*time.Second {
		t.Errorf("expected EvalTimeout 2s, got %v", opts.EvalTimeout)
	}
}

func TestApplyOptionsOverride(t *testing.T) {
	// Later options should override earlier ones
	opts := wfc.ApplyOptions(
		wfc.WithModel("gpt-4o-mini"),
		wfc.WithModel("gpt-4o"),
	)

	if opts.Model != "gpt-4o" {
		t.Errorf("expected Model 'gpt-4o', got %s", opts.Model)
	}
}

func TestVersion(t *testing.T) {
	if wfc.Version == "" {
		t.Error("Version should not be empty")
	}
	if wfc.MinGoVersion == "" {
		t.Error("MinGoVersion should not be empty")
	}
}
