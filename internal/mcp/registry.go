package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"vbox-mcp/internal/ops"
	"vbox-mcp/internal/provider"
)

// ConcurrencyClass declares how a tool (or action of a multi-action tool) interacts
// with shared hypervisor state.
type ConcurrencyClass string

const (
	ClassRead           ConcurrencyClass = "read"
	ClassVMMutating     ConcurrencyClass = "vm-mutating"
	ClassGlobalMutating ConcurrencyClass = "global-mutating"
)

// HandlerFunc executes a validated call.
type HandlerFunc func(ctx context.Context, args Args) (any, error)

// Action is one branch of a multi-action tool, with its own sub-schema,
// class, and handler. The action set of a tool is closed: adding one is
// a breaking contract change.
type Action struct {
	Name        string
	Description string
	Class       ConcurrencyClass
	LongRunning bool
	Fields      []Field
	Handler     HandlerFunc
}

// Tool is one registry entry. A tool either has a Handler (simple tool)
// or an Actions table keyed on the "action" argument.
type Tool struct {
	Name        string
	Description string
	Category    string
	Class       ConcurrencyClass
	LongRunning bool
	Fields      []Field
	Handler     HandlerFunc

	Actions     []*Action
	actionIndex map[string]*Action
}

// multiAction reports whether the tool dispatches on an action argument.
func (t *Tool) multiAction() bool { return len(t.Actions) > 0 }

// actionNames returns the closed action set in declaration order.
func (t *Tool) actionNames() []string {
	names := make([]string, 0, len(t.Actions))
	for _, a := range t.Actions {
		names = append(names, a.Name)
	}
	return names
}

// hasReadSurface reports whether anything in the tool is read-classed,
// which keeps it listed in degraded mode.
func (t *Tool) hasReadSurface() bool {
	if !t.multiAction() {
		return t.Class == ClassRead
	}
	for _, a := range t.Actions {
		if a.Class == ClassRead {
			return true
		}
	}
	return false
}

// Registry is the name -> descriptor map with validation and dispatch.
// Tools are declared once at startup; the registry is immutable
// afterwards.
type Registry struct {
	tools map[string]*Tool
	order []string
	coord *ops.Coordinator

	// degraded reports whether the hypervisor binary is missing; in that
	// mode only read surfaces are served.
	degraded func() bool
}

// NewRegistry builds an empty registry bound to the coordinator.
func NewRegistry(coord *ops.Coordinator, degraded func() bool) *Registry {
	if degraded == nil {
		degraded = func() bool { return false }
	}
	return &Registry{
		tools:    make(map[string]*Tool),
		coord:    coord,
		degraded: degraded,
	}
}

// register adds a tool at build time. Duplicate or malformed
// declarations are programmer errors.
func (r *Registry) register(t *Tool) {
	if _, exists := r.tools[t.Name]; exists {
		panic(fmt.Sprintf("duplicate tool registration: %s", t.Name))
	}
	if t.multiAction() {
		t.actionIndex = make(map[string]*Action, len(t.Actions))
		for _, a := range t.Actions {
			if _, exists := t.actionIndex[a.Name]; exists {
				panic(fmt.Sprintf("duplicate action %s on tool %s", a.Name, t.Name))
			}
			if a.Handler == nil {
				panic(fmt.Sprintf("action %s on tool %s has no handler", a.Name, t.Name))
			}
			t.actionIndex[a.Name] = a
		}
	} else if t.Handler == nil {
		panic(fmt.Sprintf("tool %s has no handler", t.Name))
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
}

// List returns the registered tools in registration order. In degraded
// mode, tools with no read surface are omitted.
func (r *Registry) List() []*Tool {
	degraded := r.degraded()
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		if degraded && !t.hasReadSurface() {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Get looks up one tool.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Call resolves, validates, and dispatches one tool invocation. Long
// running calls are handed to the coordinator and return an operation
// handle instead of a result.
func (r *Registry) Call(ctx context.Context, name string, raw map[string]any) (any, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, provider.Errorf(provider.KindToolNotFound, "unknown tool %q", name).
			WithDetail("tool", name)
	}

	fields := t.Fields
	class := t.Class
	longRunning := t.LongRunning
	handler := t.Handler
	actionName := ""

	if t.multiAction() {
		rawAction, _ := raw["action"].(string)
		action, ok := t.actionIndex[rawAction]
		if !ok {
			supported := t.actionNames()
			sort.Strings(supported)
			return nil, provider.Errorf(provider.KindInvalidAction,
				"unknown action %q for %s; supported actions: %s",
				rawAction, t.Name, strings.Join(supported, ", ")).
				WithDetail("supported_actions", supported)
		}
		// Action-specific requirements are validated only after the
		// action resolves.
		fields = action.Fields
		class = action.Class
		longRunning = action.LongRunning
		handler = action.Handler
		actionName = action.Name
	}

	args, err := validateArgs(fields, raw)
	if err != nil {
		return nil, err
	}

	if class != ClassRead && r.degraded() {
		return nil, provider.NewError(provider.KindBinaryNotFound,
			"the hypervisor CLI is not available; the server is running in read-only mode")
	}

	if longRunning && r.coord != nil {
		opTool := t.Name
		if actionName != "" {
			opTool = t.Name + ":" + actionName
		}
		id := r.coord.Start(opTool, func(opCtx context.Context) (any, error) {
			return handler(opCtx, args)
		})
		return map[string]any{
			"operation_id": id,
			"state":        string(ops.StatePending),
			"tool_name":    opTool,
		}, nil
	}

	return handler(ctx, args)
}
