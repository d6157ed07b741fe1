// Package permission implements the permission engine (C1): allow/deny/
// needs-approval decisions for tool calls, driven by glob-pattern rules and
// named presets. The engine is process-scoped and read-mostly; the session
// loop consults it before every tool dispatch.
package permission

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"
)

// Kind distinguishes an Allow rule from a Deny rule.
type Kind int

const (
	// Allow permits a matching call outright.
	Allow Kind = iota
	// Deny blocks a matching call outright. Deny rules are evaluated
	// before Allow rules.
	Deny
)

// Decision is the outcome of a permission check.
type Decision int

const (
	// Allowed means the call may proceed without prompting.
	Allowed Decision = iota
	// NeedsApproval means no rule matched; the caller must prompt the
	// user before dispatching.
	NeedsApproval
	// Denied means a Deny rule matched; the call must not proceed.
	Denied
)

// String renders the decision for logging and UI prompts.
func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return "needs_approval"
	}
}

// Rule matches a tool call iff ToolName is equal and every listed parameter's
// stringified value matches its glob pattern. An empty ParamPatterns matches
// any call for ToolName.
type Rule struct {
	ToolName string

	// ParamPatterns maps a parameter name to the glob pattern its
	// stringified value must match.
	ParamPatterns map[string]string

	// Permanent rules survive ClearTransient; transient rules do not.
	Permanent bool

	Kind Kind
}

// Engine holds the active rule set and the YOLO override flag. It is safe
// for concurrent use.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
	yolo  bool
}

// New constructs an empty Engine with no rules and YOLO disabled.
func New() *Engine {
	return &Engine{}
}

// Check evaluates a tool call's permission. If YOLO is set, it returns
// Allowed unconditionally. Otherwise it scans deny rules first, then allow
// rules, each in declaration order, and returns the first match.
func (e *Engine) Check(toolName string, params json.RawMessage) Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.yolo {
		return Allowed
	}

	values := stringifyParams(params)
	for _, r := range e.rules {
		if r.Kind == Deny && r.matches(toolName, values) {
			return Denied
		}
	}
	for _, r := range e.rules {
		if r.Kind == Allow && r.matches(toolName, values) {
			return Allowed
		}
	}
	return NeedsApproval
}

// Approve adds (or re-adds) an Allow rule.
func (e *Engine) Approve(r Rule) {
	r.Kind = Allow
	e.add(r)
}

// Deny adds (or re-adds) a Deny rule.
func (e *Engine) Deny(r Rule) {
	r.Kind = Deny
	e.add(r)
}

func (e *Engine) add(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, r)
}

// ClearTransient removes every non-Permanent rule, used on session reset.
func (e *Engine) ClearTransient() {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.rules[:0]
	for _, r := range e.rules {
		if r.Permanent {
			kept = append(kept, r)
		}
	}
	e.rules = kept
}

// SetYOLO toggles the unconditional-allow override used by the "yolo"
// preset.
func (e *Engine) SetYOLO(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.yolo = on
}

// ApplyPreset installs the named preset's rules. Unknown preset names are a
// no-op; callers are expected to validate names against PresetNames first.
func (e *Engine) ApplyPreset(name string) {
	preset, ok := presets[name]
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if name == "yolo" {
		e.yolo = true
		return
	}
	e.yolo = false
	e.rules = append(e.rules, preset...)
}

// PresetNames lists the recognized preset identifiers, sorted for
// deterministic CLI help output.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r Rule) matches(toolName string, values map[string]string) bool {
	if r.ToolName != toolName {
		return false
	}
	for param, pattern := range r.ParamPatterns {
		v, ok := values[param]
		if !ok || !matchGlob(pattern, v) {
			return false
		}
	}
	return true
}

// stringifyParams converts each top-level parameter value to a string for
// glob matching: objects/arrays render as canonical JSON, scalars render
// verbatim (numbers/bools via their JSON text, strings unquoted).
func stringifyParams(params json.RawMessage) map[string]string {
	out := map[string]string{}
	if len(params) == 0 {
		return out
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(params, &raw); err != nil {
		return out
	}
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		if trimmed := bytes.TrimSpace(v); len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
			var composite any
			if err := json.Unmarshal(trimmed, &composite); err == nil {
				if canon, err := json.Marshal(composite); err == nil {
					out[k] = string(canon)
					continue
				}
			}
		}
		out[k] = string(v)
	}
	return out
}
