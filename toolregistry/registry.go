// Package toolregistry maintains the set of tools available to a session,
// validates incoming call arguments against each tool's JSON Schema before
// dispatch, and projects the registered specs into model.ToolDefinition for
// the active agent mode.
package toolregistry

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/safe-coder/safe-coder/corerrors"
	"github.com/safe-coder/safe-coder/model"
	"github.com/safe-coder/safe-coder/tools"
)

// Registry holds the compiled tool specs for a process. It is safe for
// concurrent use; Register is expected at startup, Lookup/Definitions/Call
// during normal operation.
type Registry struct {
	mu      sync.RWMutex
	specs   map[tools.ID]tools.Spec
	schemas map[tools.ID]*jsonschema.Schema
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		specs:   make(map[tools.ID]tools.Spec),
		schemas: make(map[tools.ID]*jsonschema.Schema),
	}
}

// Register compiles the tool's InputSchema and adds it to the registry.
// Registering a tool with the same Name twice replaces the prior entry.
func (r *Registry) Register(spec tools.Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("toolregistry: tool spec missing name")
	}
	if spec.Handler == nil {
		return fmt.Errorf("toolregistry: tool %q missing handler", spec.Name)
	}
	var schema *jsonschema.Schema
	if len(spec.InputSchema) > 0 {
		var doc any
		if err := json.Unmarshal(spec.InputSchema, &doc); err != nil {
			return fmt.Errorf("toolregistry: tool %q: unmarshal schema: %w", spec.Name, err)
		}
		c := jsonschema.NewCompiler()
		resource := string(spec.Name) + ".json"
		if err := c.AddResource(resource, doc); err != nil {
			return fmt.Errorf("toolregistry: tool %q: add schema resource: %w", spec.Name, err)
		}
		compiled, err := c.Compile(resource)
		if err != nil {
			return fmt.Errorf("toolregistry: tool %q: compile schema: %w", spec.Name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Name] = spec
	if schema != nil {
		r.schemas[spec.Name] = schema
	} else {
		delete(r.schemas, spec.Name)
	}
	return nil
}

// Lookup returns the spec registered under name.
func (r *Registry) Lookup(name tools.ID) (tools.Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// Definitions projects every registered spec matching the predicate into
// model.ToolDefinition, sorted by name for deterministic request payloads.
// A nil predicate includes every registered tool.
func (r *Registry) Definitions(include func(tools.Spec) bool) []*model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]tools.ID, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	defs := make([]*model.ToolDefinition, 0, len(names))
	for _, name := range names {
		spec := r.specs[name]
		if include != nil && !include(spec) {
			continue
		}
		var schema any
		if len(spec.InputSchema) > 0 {
			_ = json.Unmarshal(spec.InputSchema, &schema)
		}
		defs = append(defs, &model.ToolDefinition{
			Name:        string(spec.Name),
			Description: spec.Description,
			InputSchema: schema,
		})
	}
	return defs
}

// Validate checks params against the tool's compiled JSON Schema. A tool
// with no schema accepts any payload.
func (r *Registry) Validate(name tools.ID, params json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	var doc any
	if len(params) == 0 {
		doc = map[string]any{}
	} else if err := json.Unmarshal(params, &doc); err != nil {
		return corerrors.NewToolErrorWithCause(fmt.Sprintf("tool %q: arguments are not valid JSON", name), err)
	}
	if err := schema.Validate(doc); err != nil {
		return corerrors.NewToolErrorWithCause(fmt.Sprintf("tool %q: arguments failed schema validation", name), err)
	}
	return nil
}

// Call validates params and, if valid, invokes the tool's handler.
func (r *Registry) Call(ctx tools.Context, name tools.ID, params json.RawMessage) (any, error) {
	spec, ok := r.Lookup(name)
	if !ok {
		return nil, corerrors.NewToolError(fmt.Sprintf("unknown tool %q", name))
	}
	if err := r.Validate(name, params); err != nil {
		return nil, err
	}
	result, err := spec.Handler(ctx, params)
	if err != nil {
		return nil, corerrors.ToolErrorFromError(err)
	}
	return result, nil
}
