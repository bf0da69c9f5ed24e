// Package tools defines the capability table the agent executes against:
// a thread-safe registry of named tools, each declaring a description, an
// argument schema and a scope. Tools with the write scope require a
// two-step confirmation before they run; read tools run directly.
package tools

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/frontdesk-io/frontdesk/internal/mailer"
)

// Scopes a tool can declare. Write tools never execute without an
// explicit confirmed flag.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

// Argument types understood by ValidateArgs.
const (
	ArgString = "string"
	ArgInt    = "int"
	ArgBool   = "bool"
)

// ArgSpec describes one tool argument for validation and for the planner
// catalog. Aliases let the planner use an alternate name for the same
// argument ("period" for "periodo").
type ArgSpec struct {
	Name        string
	Type        string
	Required    bool
	Description string
	Aliases     []string
}

// Context is the per-invocation bundle handed to every tool.
type Context struct {
	RequestID string
	SessionID string
	Channel   string
	UserID    string
	Confirmed bool
	Mailer    mailer.Sender
}

// Tool is one named capability. Run receives arguments already validated
// and coerced against Args.
type Tool interface {
	Name() string
	Description() string
	Scopes() []string
	Args() []ArgSpec
	Run(ctx context.Context, args map[string]interface{}, tctx *Context) (map[string]interface{}, error)
}

// RequiresConfirmation reports whether the tool declares the write scope.
func RequiresConfirmation(t Tool) bool {
	for _, s := range t.Scopes() {
		if s == ScopeWrite {
			return true
		}
	}
	return false
}

// Registry holds tools by name. Thread-safe for concurrent access.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns all registered tools sorted by name, so the planner
// catalog (and its prompt cache key) is stable across runs.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Describe renders the catalog text embedded in planner prompts. Listing
// the real argument names keeps the planner from inventing its own.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, t := range r.List() {
		scopes := strings.Join(t.Scopes(), ",")
		confirmNote := ""
		if RequiresConfirmation(t) {
			confirmNote = " (requires_confirmation)"
		}
		fmt.Fprintf(&b, "- %s (%s)%s: %s\n", t.Name(), scopes, confirmNote, t.Description())

		specs := t.Args()
		if len(specs) == 0 {
			b.WriteString("  args: (none)\n")
			continue
		}
		parts := make([]string, 0, len(specs))
		for _, a := range specs {
			req := "optional"
			if a.Required {
				req = "required"
			}
			if a.Description != "" {
				parts = append(parts, fmt.Sprintf("%s:%s (%s) - %s", a.Name, a.Type, req, a.Description))
			} else {
				parts = append(parts, fmt.Sprintf("%s:%s (%s)", a.Name, a.Type, req))
			}
		}
		fmt.Fprintf(&b, "  args: %s\n", strings.Join(parts, "; "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Argument accessors for validated maps. Missing or mistyped values
// yield the zero value; validation has already rejected bad input for
// required arguments.

func stringArg(args map[string]interface{}, name string) string {
	v, _ := args[name].(string)
	return v
}

func intArg(args map[string]interface{}, name string) int {
	v, _ := args[name].(int)
	return v
}

func boolArg(args map[string]interface{}, name string) bool {
	v, _ := args[name].(bool)
	return v
}

// ArgError reports an argument that failed validation.
type ArgError struct {
	Arg    string
	Detail string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Detail)
}

// ValidateArgs checks raw planner-supplied arguments against the specs and
// returns a coerced copy keyed by canonical names. Unknown arguments are
// dropped, aliases resolve to their canonical name, and JSON numbers are
// coerced to int where the spec asks for one.
func ValidateArgs(specs []ArgSpec, raw map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(specs))
	for _, spec := range specs {
		val, ok := raw[spec.Name]
		if !ok {
			for _, alias := range spec.Aliases {
				if val, ok = raw[alias]; ok {
					break
				}
			}
		}
		if !ok || val == nil {
			if spec.Required {
				return nil, &ArgError{Arg: spec.Name, Detail: "required argument missing"}
			}
			continue
		}

		coerced, err := coerceArg(spec, val)
		if err != nil {
			return nil, err
		}
		out[spec.Name] = coerced
	}
	return out, nil
}

func coerceArg(spec ArgSpec, val interface{}) (interface{}, error) {
	switch spec.Type {
	case ArgString:
		switch v := val.(type) {
		case string:
			return v, nil
		case float64:
			if v == math.Trunc(v) {
				return fmt.Sprintf("%d", int64(v)), nil
			}
			return fmt.Sprintf("%g", v), nil
		default:
			return nil, &ArgError{Arg: spec.Name, Detail: fmt.Sprintf("expected string, got %T", val)}
		}
	case ArgInt:
		switch v := val.(type) {
		case float64:
			if v != math.Trunc(v) {
				return nil, &ArgError{Arg: spec.Name, Detail: "expected integer, got fraction"}
			}
			return int(v), nil
		case int:
			return v, nil
		case string:
			var n int
			if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &n); err != nil {
				return nil, &ArgError{Arg: spec.Name, Detail: fmt.Sprintf("expected integer, got %q", v)}
			}
			return n, nil
		default:
			return nil, &ArgError{Arg: spec.Name, Detail: fmt.Sprintf("expected integer, got %T", val)}
		}
	case ArgBool:
		switch v := val.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "1", "yes", "si", "sí":
				return true, nil
			case "false", "0", "no":
				return false, nil
			}
			return nil, &ArgError{Arg: spec.Name, Detail: fmt.Sprintf("expected bool, got %q", v)}
		default:
			return nil, &ArgError{Arg: spec.Name, Detail: fmt.Sprintf("expected bool, got %T", val)}
		}
	default:
		return nil, &ArgError{Arg: spec.Name, Detail: fmt.Sprintf("unknown argument type %q", spec.Type)}
	}
}
