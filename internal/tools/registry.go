package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
)

// Definition is the model-facing declaration of one tool. Definitions are
// built once at startup and never change while the process runs.
type Definition struct {
	Name         string
	Description  string
	InputSchema  *jsonschema.Schema
	OutputSchema *jsonschema.Schema
}

// CallRequest is one tool invocation issued by the model. CallID correlates
// the eventual result with the originating request.
type CallRequest struct {
	CallID string
	Name   string
	Args   map[string]any
}

// CallResult carries either a JSON payload or an error description, never
// both. Results are not mutated after creation.
type CallResult struct {
	CallID  string
	Content string
	IsError bool
}

// Handler executes a tool against validated arguments and returns a
// JSON-marshalable payload.
type Handler func(ctx context.Context, args map[string]any) (any, error)

type Tool struct {
	Definition Definition
	Handler    Handler
}

// ValidationError marks arguments rejected by a tool's input schema.
type ValidationError struct {
	Tool    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %q: %s", e.Tool, e.Message)
}

// Registry holds the dispatchable tools in registration order. The set of
// registered definitions and the set of dispatchable names are the same map,
// so they cannot drift apart.
type Registry struct {
	log      *slog.Logger
	order    []string
	byName   map[string]Tool
	resolved map[string]*jsonschema.Resolved
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:      log,
		byName:   make(map[string]Tool),
		resolved: make(map[string]*jsonschema.Resolved),
	}
}

func (r *Registry) Register(tool Tool) error {
	name := tool.Definition.Name
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %q has no handler", name)
	}
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("tool %q is already registered", name)
	}
	if tool.Definition.InputSchema != nil {
		resolved, err := tool.Definition.InputSchema.Resolve(nil)
		if err != nil {
			return fmt.Errorf("failed to resolve input schema for tool %q: %w", name, err)
		}
		r.resolved[name] = resolved
	}
	r.order = append(r.order, name)
	r.byName[name] = tool
	return nil
}

// Definitions returns the registered tool declarations in registration order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.byName[name].Definition)
	}
	return defs
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	tool, ok := r.byName[name]
	return tool, ok
}

// Dispatch routes one call to its handler. Failures of any kind (unknown
// name, schema rejection, handler error) come back as an error result
// carrying the request's CallID; they never abort the caller's conversation.
func (r *Registry) Dispatch(ctx context.Context, req CallRequest) CallResult {
	tool, ok := r.byName[req.Name]
	if !ok {
		return errorResult(req.CallID, fmt.Sprintf("unknown tool %q", req.Name))
	}

	if resolved, ok := r.resolved[req.Name]; ok {
		args := req.Args
		if args == nil {
			args = map[string]any{}
		}
		if err := resolved.Validate(args); err != nil {
			verr := &ValidationError{Tool: req.Name, Message: err.Error()}
			r.log.Debug("tools: rejected arguments", "tool", req.Name, "error", err)
			return errorResult(req.CallID, verr.Error())
		}
	}

	r.log.Debug("tools: dispatching call", "tool", req.Name, "call_id", req.CallID)

	payload, err := tool.Handler(ctx, req.Args)
	if err != nil {
		return errorResult(req.CallID, err.Error())
	}

	content, err := json.Marshal(payload)
	if err != nil {
		return errorResult(req.CallID, fmt.Sprintf("failed to encode result for tool %q: %v", req.Name, err))
	}
	return CallResult{CallID: req.CallID, Content: string(content)}
}

func errorResult(callID, msg string) CallResult {
	return CallResult{CallID: callID, Content: msg, IsError: true}
}
