// File: internal/agent/registry.go
package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ParamSpec describes one input field of an action.
type ParamSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ActionSchema is the declarative half of an action: what the decision
// function sees when choosing the next step.
type ActionSchema struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []ParamSpec `json:"parameters,omitempty"`
}

// Action binds a schema to an executor operating on the live environment.
// Executors must confine side effects to the environment and should be safe
// to retry where feasible.
type Action struct {
	ActionSchema
	Execute func(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds the fixed set of named actions available to one flow.
type Registry struct {
	logger  *zap.Logger
	actions map[string]*Action
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:  logger.Named("registry"),
		actions: make(map[string]*Action),
	}
}

// Register adds an action, replacing any previous action of the same name.
func (r *Registry) Register(a *Action) {
	if _, exists := r.actions[a.Name]; !exists {
		r.order = append(r.order, a.Name)
	}
	r.actions[a.Name] = a
}

// Schemas returns the action schemas in registration order, for presentation
// to the decision function.
func (r *Registry) Schemas() []ActionSchema {
	schemas := make([]ActionSchema, 0, len(r.order))
	for _, name := range r.order {
		schemas = append(schemas, r.actions[name].ActionSchema)
	}
	return schemas
}

// Execute runs one requested action and returns its result message. The
// registry boundary is non-throwing: executor errors and panics are converted
// to string-typed failure results so a single bad action never crashes the
// loop. The caller may retry by issuing a new request.
func (r *Registry) Execute(ctx context.Context, req ActionRequest) (msg Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Action executor panicked",
				zap.String("action", req.Name), zap.Any("panic", rec))
			msg = ActionResultMessage(fmt.Sprintf("Error: action %s panicked: %v", req.Name, rec), req.ID)
		}
	}()

	action, ok := r.actions[req.Name]
	if !ok {
		r.logger.Warn("Unknown action requested", zap.String("action", req.Name))
		return ActionResultMessage(fmt.Sprintf("Error: unknown action %q", req.Name), req.ID)
	}

	result, err := action.Execute(ctx, req.Arguments)
	if err != nil {
		r.logger.Error("Action execution failed",
			zap.String("action", req.Name), zap.Error(err))
		return ActionResultMessage(fmt.Sprintf("Error: %v", err), req.ID)
	}

	return ActionResultMessage(result, req.ID)
}

// StringArg extracts a string argument, tolerating absent keys.
func StringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// FloatArg extracts a numeric argument, accepting the numeric types JSON
// decoding may produce.
func FloatArg(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}
