// Package tools holds the tool catalogue exposed to the model: declarative
// schemas, argument validation, and string-result dispatch.
package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/radresearch/caseagent/internal/metrics"
)

// Parameter describes one tool argument
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Handler executes a tool call. The returned string goes back to the model
// verbatim; an empty string with a nil error reads as plain success.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Definition declares a tool at registration time. Schemas are derived from
// the parameter list, never from reflection on the handler.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// Schema is the provider-neutral function schema handed to chat providers
type Schema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Registry maps tool names to handlers and call schemas. It is an explicit
// object passed to whoever needs it; there is no process-wide catalogue, so
// tests and sub-agents can hold isolated registries.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	tools    map[string]*Definition
	exports  map[string]Schema
	compiled map[string]*gojsonschema.Schema

	metrics *metrics.Metrics
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]*Definition),
		exports:  make(map[string]Schema),
		compiled: make(map[string]*gojsonschema.Schema),
	}
}

// SetMetrics wires optional call counters and duration histograms
func (r *Registry) SetMetrics(m *metrics.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// Register adds a tool to the catalogue. Re-registering a name silently
// overwrites the previous binding and keeps the original catalogue position.
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	export := buildSchema(def)
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(export.Parameters))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = &def
	r.exports[def.Name] = export
	r.compiled[def.Name] = compiled

	log.Debug().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// Names returns all registered tool names in catalogue order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Get returns a tool definition, or nil when absent
func (r *Registry) Get(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.tools[name]
}

// Schemas returns call schemas for the requested names in catalogue order,
// silently dropping unknown names. With no names it returns the whole
// catalogue.
func (r *Registry) Schemas(names ...string) []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var requested map[string]bool
	if len(names) > 0 {
		requested = make(map[string]bool, len(names))
		for _, name := range names {
			requested[name] = true
		}
	}

	schemas := make([]Schema, 0, len(r.order))
	for _, name := range r.order {
		if requested != nil && !requested[name] {
			continue
		}
		schemas = append(schemas, r.exports[name])
	}
	return schemas
}

// Dispatch runs a tool by name. It never panics and never returns an error:
// unknown names, bad arguments, handler errors, and handler panics all come
// back as a string the run loop feeds to the model like any other output.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]interface{}) string {
	r.mu.RLock()
	def := r.tools[name]
	compiled := r.compiled[name]
	m := r.metrics
	r.mu.RUnlock()

	if def == nil {
		log.Warn().Str("tool", name).Msg("Unknown tool requested")
		if m != nil {
			m.ToolCallsTotal.WithLabelValues(name, "not_found").Inc()
		}
		return fmt.Sprintf("Error: Tool '%s' not found", name)
	}

	if args == nil {
		args = map[string]interface{}{}
	}

	if err := validateArgs(compiled, args); err != nil {
		log.Warn().Str("tool", name).Err(err).Msg("Tool argument validation failed")
		if m != nil {
			m.ToolCallsTotal.WithLabelValues(name, "invalid_args").Inc()
			m.ToolErrorsTotal.WithLabelValues(name).Inc()
		}
		return fmt.Sprintf("Error: invalid arguments for '%s': %v", name, err)
	}

	start := time.Now()
	result, err := runHandler(ctx, def.Handler, args)
	duration := time.Since(start)

	if m != nil {
		m.ToolCallDuration.WithLabelValues(name).Observe(duration.Seconds())
	}

	if err != nil {
		log.Error().Str("tool", name).Dur("duration", duration).Err(err).Msg("Tool call failed")
		if m != nil {
			m.ToolCallsTotal.WithLabelValues(name, "error").Inc()
			m.ToolErrorsTotal.WithLabelValues(name).Inc()
		}
		return fmt.Sprintf("Error: %v", err)
	}

	log.Debug().Str("tool", name).Dur("duration", duration).Msg("Tool call completed")
	if m != nil {
		m.ToolCallsTotal.WithLabelValues(name, "success").Inc()
	}

	if result == "" {
		return "Success"
	}
	return truncateResult(result)
}

// runHandler converts a panicking handler into an ordinary error
func runHandler(ctx context.Context, handler Handler, args map[string]interface{}) (result string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool panicked: %v", rec)
		}
	}()

	return handler(ctx, args)
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
	}

	return nil
}

// buildSchema turns a declarative parameter list into a JSON-schema object
func buildSchema(def Definition) Schema {
	properties := make(map[string]interface{}, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	parameters := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		parameters["required"] = required
	}

	return Schema{
		Name:        def.Name,
		Description: def.Description,
		Parameters:  parameters,
	}
}

func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			details = append(details, resultErr.String())
		}
		return fmt.Errorf("%v", details)
	}
	return nil
}

// truncateResult caps tool output fed back into the conversation
func truncateResult(result string) string {
	const maxSize = 10 * 1024

	if len(result) <= maxSize {
		return result
	}

	log.Warn().Int("original", len(result)).Int("kept", maxSize).Msg("Tool output truncated")

	return result[:maxSize] + "\n... [output truncated]"
}
