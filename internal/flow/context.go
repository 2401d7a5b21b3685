// Package flow implements the FlowDeck execution engine: the variable
// context, one handler per step kind, and the durable orchestrator that
// walks a session through its flow.
package flow

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderPattern matches {key} and @{key} template tokens.
var placeholderPattern = regexp.MustCompile(`@?\{([^{}]+)\}`)

// VariableContext is the growing key-value store of collected and generated
// values for one session. Keys are user-declared variable names plus
// positional keys synthesized by the orchestrator after each step
// completes (step-<n>-text, step-<n>-button, ...). Values never shrink;
// last write wins on collision.
type VariableContext struct {
	values map[string]string
}

// NewVariableContext creates an empty variable context.
func NewVariableContext() *VariableContext {
	return &VariableContext{values: make(map[string]string)}
}

// ContextFromMap creates a variable context seeded with a copy of m.
func ContextFromMap(m map[string]string) *VariableContext {
	c := NewVariableContext()
	for k, v := range m {
		c.values[k] = v
	}
	return c
}

// Set stores a value under the given key, overwriting any previous value.
func (c *VariableContext) Set(key, value string) {
	c.values[key] = value
}

// Get retrieves a value and whether it is present.
func (c *VariableContext) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Len returns the number of stored variables.
func (c *VariableContext) Len() int {
	return len(c.values)
}

// Snapshot returns a copy of the stored variables.
func (c *VariableContext) Snapshot() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Render substitutes every {key} and @{key} occurrence in template with the
// stored value. Unresolved placeholders are left verbatim: templating is
// best-effort and never fails a step. Rendering is idempotent as long as
// stored values do not themselves contain placeholder tokens.
func (c *VariableContext) Render(template string) string {
	if template == "" || !strings.ContainsRune(template, '{') {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(match, "@"), "{"), "}")
		if v, ok := c.values[key]; ok {
			return v
		}
		return match
	})
}

// PositionalKey builds the synthesized key for a step result, e.g.
// "step-3-button".
func PositionalKey(index int, suffix string) string {
	return fmt.Sprintf("step-%d-%s", index, suffix)
}
