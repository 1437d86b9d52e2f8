// Package tools defines the tool contract, the sealed registry and the
// dispatcher that turns tool calls into structured results.
package tools

import (
	"context"
	"sort"

	apperrors "github.com/vinayprograms/shipper/internal/errors"
)

// SchemaVersion is the version stamped on every built-in tool schema.
const SchemaVersion = "1"

// Tool is a capability exposed to the agent.
type Tool interface {
	Name() string
	Description() string
	Schema() Schema
	// Execute runs the call. A non-nil error marks the call failed; the
	// payload is still reported when both are returned.
	Execute(ctx context.Context, call Call) (map[string]any, error)
}

// Func adapts a plain function to Tool.
type Func struct {
	ToolName string
	Desc     string
	Params   Schema
	Fn       func(ctx context.Context, call Call) (map[string]any, error)
}

func (f *Func) Name() string        { return f.ToolName }
func (f *Func) Description() string { return f.Desc }
func (f *Func) Schema() Schema      { return f.Params }

func (f *Func) Execute(ctx context.Context, call Call) (map[string]any, error) {
	return f.Fn(ctx, call)
}

// Property types
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Property describes one argument.
type Property struct {
	Type        string    `json:"type" yaml:"type"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Items       *Property `json:"items,omitempty" yaml:"items,omitempty"`
}

// Schema is a versioned argument contract.
type Schema struct {
	Version    string              `json:"version" yaml:"version"`
	Properties map[string]Property `json:"properties" yaml:"properties"`
	Required   []string            `json:"required,omitempty" yaml:"required,omitempty"`
}

// JSONSchema renders the schema as a JSON Schema object for LLM tool
// definitions.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = p.jsonSchema()
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		req := append([]string(nil), s.Required...)
		sort.Strings(req)
		out["required"] = req
	}
	return out
}

func (p Property) jsonSchema() map[string]any {
	out := map[string]any{"type": p.Type}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if p.Items != nil {
		out["items"] = p.Items.jsonSchema()
	}
	return out
}

// Call is one tool invocation. It is not modified after dispatch.
type Call struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Session   string         `json:"session"`
	Arguments map[string]any `json:"arguments"`
}

// Result is the outcome of exactly one Call.
type Result struct {
	CallID     string         `json:"call_id"`
	Tool       string         `json:"tool"`
	Session    string         `json:"session"`
	Success    bool           `json:"success"`
	Payload    map[string]any `json:"payload,omitempty"`
	Error      *ErrorDetail   `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// ErrorDetail is the failure part of a Result.
type ErrorDetail struct {
	Kind    apperrors.Code `json:"kind"`
	Reason  string         `json:"reason"`
	Context map[string]any `json:"context,omitempty"`
}

func detailOf(err error) *ErrorDetail {
	d := &ErrorDetail{
		Kind:   apperrors.GetCode(err),
		Reason: apperrors.ReasonOf(err),
	}
	if e, ok := apperrors.As(err); ok && len(e.Context) > 0 {
		d.Context = make(map[string]any, len(e.Context))
		for k, v := range e.Context {
			d.Context[k] = v
		}
	}
	return d
}
