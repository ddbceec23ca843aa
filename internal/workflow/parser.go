package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDefinitions loads one or more workflow definitions from a YAML or JSON
// file. YAML files may contain multiple documents separated by `---`; empty
// documents are ignored. JSON files hold a single definition or an array of
// them.
func LoadDefinitions(path string) ([]Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var wfs []Workflow
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		wfs, err = parseJSON(data)
	default:
		wfs, err = parseYAML(data)
	}
	if err != nil {
		return nil, err
	}

	if len(wfs) == 0 {
		return nil, fmt.Errorf("no workflows found in %s", path)
	}
	return wfs, nil
}

// ParseDefinition parses a single workflow definition from YAML or JSON bytes.
func ParseDefinition(data []byte) (*Workflow, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		wfs, err := parseJSON(data)
		if err != nil {
			return nil, err
		}
		if len(wfs) != 1 {
			return nil, fmt.Errorf("expected exactly one workflow, got %d", len(wfs))
		}
		return &wfs[0], nil
	}

	wfs, err := parseYAML(data)
	if err != nil {
		return nil, err
	}
	if len(wfs) != 1 {
		return nil, fmt.Errorf("expected exactly one workflow, got %d", len(wfs))
	}
	return &wfs[0], nil
}

func parseYAML(data []byte) ([]Workflow, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var wfs []Workflow
	for {
		var wf Workflow
		if err := dec.Decode(&wf); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		// skip completely empty docs
		if wf.Name == "" && len(wf.Steps) == 0 {
			continue
		}
		wfs = append(wfs, wf)
	}
	return wfs, nil
}

func parseJSON(data []byte) ([]Workflow, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var wfs []Workflow
		if err := json.Unmarshal(data, &wfs); err != nil {
			return nil, err
		}
		return wfs, nil
	}
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, err
	}
	return []Workflow{wf}, nil
}
