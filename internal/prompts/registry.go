package prompts

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/kaptinlin/jsonschema"
)

// Rendered is a prompt ready to send
type Rendered struct {
	System         string
	User           string
	ResponseFormat string
}

type entry struct {
	prompt Prompt
	system *template.Template
	user   *template.Template
	schema *jsonschema.Schema
}

// Registry holds compiled prompts indexed by name
type Registry struct {
	entries map[string]*entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

var funcs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}

// Register compiles p's templates and output schema and adds it.
// A name can only be registered once.
func (r *Registry) Register(p Prompt) error {
	if _, exists := r.entries[p.Name]; exists {
		return fmt.Errorf("prompt already registered: %s", p.Name)
	}

	e := &entry{prompt: p}
	var err error
	if e.system, err = template.New(p.Name + ".system").Funcs(funcs).Option("missingkey=error").Parse(p.System); err != nil {
		return fmt.Errorf("prompt %s: failed to parse system template: %w", p.Name, err)
	}
	if e.user, err = template.New(p.Name + ".user").Funcs(funcs).Option("missingkey=error").Parse(p.User); err != nil {
		return fmt.Errorf("prompt %s: failed to parse user template: %w", p.Name, err)
	}
	if p.OutputSchema != "" {
		if e.schema, err = jsonschema.NewCompiler().Compile([]byte(p.OutputSchema)); err != nil {
			return fmt.Errorf("prompt %s: failed to compile output schema: %w", p.Name, err)
		}
	}

	r.entries[p.Name] = e
	return nil
}

// Get returns the prompt registered under name
func (r *Registry) Get(name string) (Prompt, bool) {
	e, ok := r.entries[name]
	if !ok {
		return Prompt{}, false
	}
	return e.prompt, true
}

// Names lists registered prompts sorted by name
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render executes the named prompt's templates against data
func (r *Registry) Render(name string, data interface{}) (Rendered, error) {
	e, ok := r.entries[name]
	if !ok {
		return Rendered{}, fmt.Errorf("unknown prompt %q", name)
	}

	var sys, user bytes.Buffer
	if err := e.system.Execute(&sys, data); err != nil {
		return Rendered{}, fmt.Errorf("prompt %s: %w", name, err)
	}
	if err := e.user.Execute(&user, data); err != nil {
		return Rendered{}, fmt.Errorf("prompt %s: %w", name, err)
	}
	return Rendered{
		System:         strings.TrimSpace(sys.String()),
		User:           strings.TrimSpace(user.String()),
		ResponseFormat: e.prompt.ResponseFormat,
	}, nil
}

// Validate checks a decoded model reply against the named prompt's output
// schema. Prompts without a schema accept anything.
func (r *Registry) Validate(name string, doc map[string]interface{}) error {
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("unknown prompt %q", name)
	}
	if e.schema == nil {
		return nil
	}

	result := e.schema.Validate(doc)
	if !result.IsValid() {
		var messages []string
		for field, evalErr := range result.Errors {
			messages = append(messages, fmt.Sprintf("%s: %s", field, evalErr.Error()))
		}
		sort.Strings(messages)
		return fmt.Errorf("%s output validation failed: %s", name, strings.Join(messages, "; "))
	}
	return nil
}
