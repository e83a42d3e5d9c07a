// Package toolregistry implements the Tool Registry & Execution
// subsystem: typed tool invocation with JSON-Schema parameter validation,
// permission gating, and bounded-parallel dispatch with retry/backoff.
package toolregistry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/osa-systems/osa/pkg/osa"
)

// Tool parameter limits, carried forward to prevent resource exhaustion.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20 // 10MB
)

// Registry holds the set of available tools. Registration is idempotent:
// registering a name that already exists replaces the prior definition.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]osa.ToolDefinition
	schemas map[string]*jsonschema.Schema
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		tools:   make(map[string]osa.ToolDefinition),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds or replaces a tool definition. It compiles the tool's
// JSON-Schema once at registration time so Execute never pays the
// compilation cost per call; a schema that fails to compile is rejected
// rather than silently accepted and ignored at call time.
func (r *Registry) Register(def osa.ToolDefinition) error {
	compiled, err := compileSchema(def.Name, def.Parameters)
	if err != nil {
		return fmt.Errorf("register tool %q: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = def
	if compiled != nil {
		r.schemas[def.Name] = compiled
	} else {
		delete(r.schemas, def.Name)
	}
	return nil
}

// Unregister removes a tool by name. The registry never executes a tool
// whose name is not registered at the moment of the call, so an in-flight
// Execute that already looked the tool up is unaffected.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool definition by name.
func (r *Registry) Get(name string) (osa.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// List returns every registered tool definition.
func (r *Registry) List() []osa.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]osa.ToolDefinition, 0, len(r.tools))
	for _, def := range r.tools {
		out = append(out, def)
	}
	return out
}

// AsLLMTools returns every registered tool as the provider-facing shape.
func (r *Registry) AsLLMTools() []osa.LLMTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]osa.LLMTool, 0, len(r.tools))
	for _, def := range r.tools {
		out = append(out, def.AsLLMTool())
	}
	return out
}

func compileSchema(name string, params json.RawMessage) (*jsonschema.Schema, error) {
	if len(params) == 0 {
		return nil, nil
	}
	c := jsonschema.NewCompiler()
	resource := "tool:" + name
	if err := c.AddResource(resource, bytes.NewReader(params)); err != nil {
		return nil, err
	}
	return c.Compile(resource)
}

// validate checks args against the tool's compiled schema, if any.
// Schema violations return osa.ErrSchemaViolation without invoking the
// handler.
func (r *Registry) validate(name string, args json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	var v any
	if len(args) == 0 {
		v = map[string]any{}
	} else if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Errorf("%w: %v", osa.ErrSchemaViolation, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", osa.ErrSchemaViolation, err)
	}
	return nil
}
