// Package platform loads the execution context a workflow will run against:
// the runner inventory, installed integrations, and available secret names.
// The platform is reachable on a best-effort basis only, so every section
// degrades to a warning instead of failing the compilation.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds each platform request.
const DefaultTimeout = 10 * time.Second

// Runner is an execution target registered with the platform.
type Runner struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities,omitempty"`
	Version      string   `json:"version,omitempty"`
	Healthy      bool     `json:"healthy"`
}

// Integration is a vendor capability steps may rely on.
type Integration struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities,omitempty"`
	Type         string   `json:"type,omitempty"`
}

// Snapshot is a point-in-time view of the execution context. Sections that
// could not be loaded are empty, never nil checks away from a panic.
type Snapshot struct {
	Runners          []Runner      `json:"runners"`
	Integrations     []Integration `json:"integrations"`
	SecretsAvailable []string      `json:"secrets_available"`
}

// Empty reports whether nothing could be loaded.
func (s *Snapshot) Empty() bool {
	return len(s.Runners) == 0 && len(s.Integrations) == 0 && len(s.SecretsAvailable) == 0
}

// RunnerNames returns the runner names in inventory order.
func (s *Snapshot) RunnerNames() []string {
	names := make([]string, len(s.Runners))
	for i, r := range s.Runners {
		names[i] = r.Name
	}
	return names
}

// Loader produces context snapshots. The orchestrator depends on this
// interface so tests can substitute a fixed snapshot.
type Loader interface {
	LoadSnapshot(ctx context.Context) (*Snapshot, []string)
}

// Config carries the platform endpoint settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the platform API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ Loader = (*Client)(nil)

// NewClient creates a platform client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// LoadSnapshot fetches all context sections concurrently. Sections that fail
// are reported as warnings; the returned snapshot is never nil.
func (c *Client) LoadSnapshot(ctx context.Context) (*Snapshot, []string) {
	snap := &Snapshot{}

	var mu sync.Mutex
	var warnings []string
	warn := func(section string, err error) {
		mu.Lock()
		warnings = append(warnings, fmt.Sprintf("context: %s unavailable: %v", section, err))
		mu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error {
		var runners []Runner
		if err := c.getJSON(ctx, "/runners", &runners); err != nil {
			warn("runners", err)
			return nil
		}
		snap.Runners = runners
		return nil
	})
	g.Go(func() error {
		var integrations []Integration
		if err := c.getJSON(ctx, "/integrations", &integrations); err != nil {
			warn("integrations", err)
			return nil
		}
		snap.Integrations = integrations
		return nil
	})
	g.Go(func() error {
		var secrets []struct {
			Name string `json:"name"`
		}
		if err := c.getJSON(ctx, "/secrets", &secrets); err != nil {
			warn("secrets", err)
			return nil
		}
		names := make([]string, len(secrets))
		for i, s := range secrets {
			names[i] = s.Name
		}
		snap.SecretsAvailable = names
		return nil
	})
	g.Wait()

	return snap, warnings
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Static is a Loader that always returns a fixed snapshot. It backs offline
// compilation and tests.
type Static struct {
	Snapshot Snapshot
}

func (s *Static) LoadSnapshot(ctx context.Context) (*Snapshot, []string) {
	snap := Snapshot{
		Runners:          append([]Runner(nil), s.Snapshot.Runners...),
		Integrations:     append([]Integration(nil), s.Snapshot.Integrations...),
		SecretsAvailable: append([]string(nil), s.Snapshot.SecretsAvailable...),
	}
	return &snap, nil
}
