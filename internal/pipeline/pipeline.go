package pipeline

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed pipeline.schema.json
var schemaJSON string

const schemaURL = "svpatch://pipeline.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// Step is a named group of scripts executed in order.
type Step struct {
	Name    string   `json:"name"`
	Scripts []string `json:"scripts"`
}

// Pipeline is an ordered list of steps.
type Pipeline struct {
	Steps []Step `json:"steps"`
}

// Format selects the descriptor encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFromPath picks YAML for .yaml/.yml files and JSON otherwise.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// LoadFile reads and validates a pipeline descriptor.
func LoadFile(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline file: %w", err)
	}
	p, err := Load(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("loading pipeline %s: %w", path, err)
	}
	return p, nil
}

// Load decodes a descriptor, validates it against the embedded schema and normalizes it.
// A step's scripts may be a string, an object {"script": ...} or a list of either.
// Steps without a name are called step-<n>.
func Load(data []byte, format Format) (*Pipeline, error) {
	doc, err := decode(data, format)
	if err != nil {
		return nil, err
	}

	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling pipeline schema: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}

	root := doc.(map[string]any)
	rawSteps := root["steps"].([]any)

	p := &Pipeline{Steps: make([]Step, 0, len(rawSteps))}
	for i, raw := range rawSteps {
		obj := raw.(map[string]any)
		name := fmt.Sprintf("step-%d", i+1)
		if v, ok := obj["name"]; ok {
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				name = s
			}
		}
		scripts := normalizeScripts(obj["scripts"])
		if len(scripts) == 0 {
			return nil, fmt.Errorf("invalid pipeline: step %q has no scripts", name)
		}
		p.Steps = append(p.Steps, Step{Name: name, Scripts: scripts})
	}
	return p, nil
}

// decode returns the descriptor as generic JSON values (json.Number for numbers).
func decode(data []byte, format Format) (any, error) {
	if format == FormatYAML {
		var y any
		if err := yaml.Unmarshal(data, &y); err != nil {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
		b, err := json.Marshal(y)
		if err != nil {
			return nil, fmt.Errorf("converting YAML to JSON: %w", err)
		}
		data = b
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	return doc, nil
}

func normalizeScripts(v any) []string {
	switch s := v.(type) {
	case string:
		if t := strings.TrimSpace(s); t != "" {
			return []string{t}
		}
	case map[string]any:
		if ref, ok := s["script"].(string); ok && strings.TrimSpace(ref) != "" {
			return []string{strings.TrimSpace(ref)}
		}
	case []any:
		var out []string
		for _, item := range s {
			out = append(out, normalizeScripts(item)...)
		}
		return out
	}
	return nil
}

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}
