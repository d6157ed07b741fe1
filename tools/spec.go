// Package tools declares the static metadata for every tool the execution
// core can dispatch: its name, description, and JSON Schema input. The
// toolregistry package turns these specs into a runtime lookup table and
// validates arguments against InputSchema before a call reaches a handler.
package tools

import "encoding/json"

// ID is the strong type for a tool identifier (e.g. "read_file",
// "run_shell"). Using a distinct type instead of a bare string avoids
// accidentally mixing tool names with arbitrary text in maps or APIs.
type ID string

// Handler executes a tool call. params is the raw JSON arguments supplied by
// the model, already validated against Spec.InputSchema. The returned value
// is marshaled into the ToolResultPart content; a non-nil error becomes an
// IsError ToolResultPart via corerrors.ToolError.
type Handler func(ctx Context, params json.RawMessage) (any, error)

// Context carries the per-call metadata a handler needs: which task/session
// it runs under and which workspace path, if any, scopes its file access.
type Context struct {
	SessionID     string
	TaskID        string
	WorkspacePath string
}

// Spec enumerates the metadata for a single tool.
type Spec struct {
	// Name is the identifier as seen by the model.
	Name ID

	// Description is presented to the model to decide when to call the
	// tool.
	Description string

	// InputSchema is a JSON Schema describing the accepted parameters.
	InputSchema json.RawMessage

	// ReadOnly marks tools that only read state (file reads, search,
	// listing) and therefore qualify for the "safe" permission preset.
	ReadOnly bool

	// Tags carries optional labels consulted by the permission engine's
	// preset matching (e.g. "file-write", "shell").
	Tags []string

	// Handler is the function invoked when the call is permitted.
	Handler Handler
}

// FieldIssue describes a single JSON Schema validation failure, surfaced to
// the model as part of a ToolResultPart so it can correct its next call.
type FieldIssue struct {
	Field      string
	Constraint string
}
