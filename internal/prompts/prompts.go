package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Prompt names the LLM adapters look up
const (
	Copy       = "copy"
	Regenerate = "regenerate"
	Translate  = "translate"
)

// Response formats a prompt may declare
const (
	FormatJSON = "json"
	FormatText = "text"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// File is the parsed prompts manifest
type File struct {
	Version string   `yaml:"version"`
	Prompts []Prompt `yaml:"prompts"`
}

// Prompt is one named template pair. System and User are text/template
// sources; OutputSchema, when set, is a JSON Schema the model's reply must
// satisfy.
type Prompt struct {
	Name           string `yaml:"name"`
	Description    string `yaml:"description"`
	ResponseFormat string `yaml:"response_format"`
	System         string `yaml:"system"`
	User           string `yaml:"user"`
	OutputSchema   string `yaml:"output_schema"`
}

// Load builds a registry from path, or from the embedded defaults when path
// is empty. Prompts missing from the file fall back to the defaults.
func Load(path string) (*Registry, error) {
	defaults, err := parse(bytes.NewReader(defaultsYAML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse default prompts: %w", err)
	}

	reg := NewRegistry()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompts file: %w", err)
		}
		defer f.Close()

		custom, err := parse(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for _, p := range custom.Prompts {
			if err := reg.Register(p); err != nil {
				return nil, err
			}
		}
	}

	for _, p := range defaults.Prompts {
		if _, ok := reg.Get(p.Name); ok {
			continue
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// parse decodes a manifest, rejecting unknown keys so typos surface at startup
func parse(r io.Reader) (*File, error) {
	var file File
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse prompts: %w", err)
	}

	if file.Version == "" {
		file.Version = "v1"
	}
	if file.Version != "v1" {
		return nil, fmt.Errorf("unsupported prompts version %q", file.Version)
	}
	for i, p := range file.Prompts {
		if p.Name == "" {
			return nil, fmt.Errorf("prompt %d missing required field: name", i)
		}
		if p.User == "" {
			return nil, fmt.Errorf("prompt %s missing required field: user", p.Name)
		}
		switch p.ResponseFormat {
		case "":
			file.Prompts[i].ResponseFormat = FormatText
		case FormatText, FormatJSON:
		default:
			return nil, fmt.Errorf("prompt %s: unknown response_format %q", p.Name, p.ResponseFormat)
		}
	}
	return &file, nil
}
