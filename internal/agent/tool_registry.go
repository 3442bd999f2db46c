package agent

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tunacode/agentcore/pkg/models"
)

// suspiciousToolNameChars are the characters spec.md §4.3's normalization
// step flags as malformed tool-name output (never executed, routed
// straight to a failed TOOL_RETURN instead).
const suspiciousToolNameChars = `<>(){}[]"'` + "`"

// maxToolNameLength is spec.md §4.3's length cutoff for a suspicious name.
const maxToolNameLength = 50

// ToolRegistry holds the tools available to the current request, keyed by
// name, and provides the normalization/validation spec.md §4.3 requires
// before a call is ever dispatched. Grounded on the teacher's
// internal/agent/tool_registry.go map-backed registry, stripped of the
// approval/policy/job machinery that belongs to the removed product
// surfaces (see DESIGN.md).
type ToolRegistry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	schema map[string]*jsonschema.Schema
}

// NewToolRegistry creates a new empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:  make(map[string]Tool),
		schema: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool to the registry, compiling its parameter schema
// (spec.md §6.2: "parameters_schema (JSON Schema subset)") so argument
// validation can run without re-compiling on every call. A tool whose
// schema fails to compile is still registered, but Validate will report a
// compile error for every call to it.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	delete(r.schema, tool.Name())

	raw := tool.Schema()
	if len(raw) == 0 {
		return
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(tool.Name()+".json", strings.NewReader(string(raw))); err != nil {
		return
	}
	if compiled, err := compiler.Compile(tool.Name() + ".json"); err == nil {
		r.schema[tool.Name()] = compiled
	}
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schema, name)
}

// Get returns a tool by its normalized name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[NormalizeToolName(name)]
	return tool, ok
}

// All returns every registered tool, for building the provider's tool
// schema list (spec.md §4.1's "tool schemas" call input).
func (r *ToolRegistry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Defs snapshots the registry as ToolDef records for the model provider's
// outbound tool schema list (spec.md §4.1's "tool schemas" call input).
func (r *ToolRegistry) Defs() []models.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ToolDef, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, models.ToolDef{
			Name:             t.Name(),
			Description:      t.Description(),
			ParametersSchema: t.Schema(),
			IsMutating:       t.IsMutating(),
		})
	}
	return defs
}

// Validate checks decoded args against the tool's compiled JSON Schema, if
// one was registered. A tool with no schema accepts any well-formed JSON
// object.
func (r *ToolRegistry) Validate(name string, args json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schema[NormalizeToolName(name)]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return err
	}
	return schema.Validate(decoded)
}

// NormalizeToolName trims whitespace from a model-emitted tool name, per
// spec.md §4.3's normalization step.
func NormalizeToolName(name string) string {
	return strings.TrimSpace(name)
}

// IsSuspiciousToolName reports whether a tool name is malformed model
// output that must never be executed: containing any of
// <>(){}[]"'` or exceeding 50 characters, per spec.md §4.3.
func IsSuspiciousToolName(name string) bool {
	if len(name) > maxToolNameLength {
		return true
	}
	return strings.ContainsAny(name, suspiciousToolNameChars)
}
