// Package toolregistry implements the Tool Registry contract of spec §6.2:
// a read-mostly, in-process catalogue of named tools that validates
// parameters against a JSON Schema before invoking the tool's handler.
// Registration is rare and serialized; lookups and execution are concurrent
// (spec §5 "read-mostly after startup").
package toolregistry

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/flowstack/agentcore/errs"
)

// CallContext carries the ambient state a tool handler needs (spec §6.2:
// "ctx carries {session, virtualFs, userId}"). Session and VirtualFS are
// deliberately untyped here to avoid a dependency cycle with the session
// package, which depends on toolregistry rather than the reverse.
type CallContext struct {
	Session   any
	VirtualFS []FileInfo
	UserID    string
}

// FileInfo is one entry of the virtual-filesystem inventory a sub-agent's
// prompt is built from (spec §4.4 step 1c: "names + sizes").
type FileInfo struct {
	Name string
	Size int64
}

// Spec describes one registered tool's public metadata, as returned by
// GetAll (spec §6.2: "{name, description, parameters-schema, category}").
type Spec struct {
	Name        string
	Description string
	Category    string
	Parameters  []byte // raw JSON Schema
}

// Handler executes a tool call once its parameters have passed schema
// validation.
type Handler func(ctx context.Context, params map[string]any, call CallContext) (any, error)

type entry struct {
	spec    Spec
	schema  *jsonschema.Schema
	handler Handler
}

// Registry is a concurrency-safe, in-process tool catalogue.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register compiles spec.Parameters as a JSON Schema and adds the tool to
// the registry. Registration is serialized and expected to happen at
// startup; re-registering an existing name replaces it.
func (r *Registry) Register(spec Spec, handler Handler) error {
	if spec.Name == "" {
		return errs.New(errs.KindInternal, "toolregistry", "tool name is required")
	}
	if handler == nil {
		return errs.New(errs.KindInternal, "toolregistry", "tool handler is required")
	}
	var schema *jsonschema.Schema
	if len(spec.Parameters) > 0 {
		compiled, err := compileSchema(spec.Name, spec.Parameters)
		if err != nil {
			return errs.Wrap(errs.KindInternal, "toolregistry", "compile schema for "+spec.Name, err)
		}
		schema = compiled
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[spec.Name] = &entry{spec: spec, schema: schema, handler: handler}
	return nil
}

func compileSchema(name string, raw []byte) (*jsonschema.Schema, error) {
	var schemaDoc any
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	url := "mem://" + name + ".json"
	if err := c.AddResource(url, schemaDoc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// GetAll returns the public Spec for every registered tool.
func (r *Registry) GetAll() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.spec)
	}
	return out
}

// Execute validates params against the tool's schema (if any) and invokes
// its handler. Unknown tool names and schema violations are returned as
// *errs.Error with KindUnknownTool/KindInvalidParameters so callers and the
// Fallback Manager can dispatch on Kind without string-matching.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any, call CallContext) (any, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.Errorf(errs.KindUnknownTool, "toolregistry", "unknown tool %q", name)
	}
	if e.schema != nil {
		doc := params
		if doc == nil {
			doc = map[string]any{}
		}
		if err := e.schema.Validate(doc); err != nil {
			return nil, errs.Wrap(errs.KindInvalidParameters, "toolregistry", "invalid parameters for "+name, err)
		}
	}
	out, err := e.handler(ctx, params, call)
	if err != nil {
		if perr, ok := err.(*errs.Error); ok {
			return nil, perr
		}
		return nil, errs.Wrap(errs.KindInternal, "toolregistry", "tool execution failed for "+name, err)
	}
	return out, nil
}
