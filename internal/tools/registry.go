// Package tools maps tool names to handlers and dispatches model tool calls
// with schema validation, per-tool timeouts and panic recovery.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Handler executes one tool call. The returned value is marshaled to JSON
// as the result payload.
type Handler func(ctx context.Context, args Args) (any, error)

// Tool is a named, schema-validated operation the model may invoke.
type Tool struct {
	Name        string
	Description string
	// Schema is a JSON schema for the arguments object. Nil accepts any object.
	Schema json.RawMessage
	// Timeout overrides the dispatcher default when positive.
	Timeout time.Duration
	Handler Handler
}

// Definition is the model-facing description of a tool.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"input_schema"`
}

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

var defaultSchema = json.RawMessage(`{"type":"object"}`)

type registeredTool struct {
	Tool
	compiled *jsonschema.Schema
}

// Registry holds registered tools. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registeredTool)}
}

// Register adds a tool, compiling its schema. Names must be unique.
func (r *Registry) Register(tool Tool) error {
	if !toolNamePattern.MatchString(tool.Name) {
		return fmt.Errorf("invalid tool name %q", tool.Name)
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", tool.Name)
	}
	if len(tool.Schema) == 0 {
		tool.Schema = defaultSchema
	}
	compiled, err := jsonschema.CompileString(tool.Name+".schema.json", string(tool.Schema))
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", tool.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %s already registered", tool.Name)
	}
	r.tools[tool.Name] = &registeredTool{Tool: tool, compiled: compiled}
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Unregister removes a tool and reports whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tools[name]
	delete(r.tools, name)
	return ok
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return Tool{}, false
	}
	return t.Tool, true
}

func (r *Registry) lookup(name string) (*registeredTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions lists registered tools sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{Name: t.Name, Description: t.Description, Schema: t.Schema})
	}
	r.mu.RUnlock()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// validate decodes raw arguments and checks them against the tool schema.
func (t *registeredTool) validate(raw json.RawMessage) (Args, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, InvalidArguments("arguments are not valid JSON: %v", err)
	}
	if err := t.compiled.Validate(decoded); err != nil {
		return nil, InvalidArguments("arguments do not match schema: %v", err)
	}
	args, ok := decoded.(map[string]any)
	if !ok {
		return nil, InvalidArguments("arguments must be a JSON object")
	}
	return Args(args), nil
}
