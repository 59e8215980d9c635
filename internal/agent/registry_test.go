// File: internal/agent/registry_test.go
package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(zaptest.NewLogger(t))
}

func TestExecuteSuccess(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(&Action{
		ActionSchema: ActionSchema{Name: "echo"},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return StringArg(args, "text"), nil
		},
	})

	msg := r.Execute(context.Background(), ActionRequest{
		Name: "echo", Arguments: map[string]any{"text": "hello"}, ID: "req-1",
	})

	assert.Equal(t, RoleActionResult, msg.Role)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "req-1", msg.ActionRequestID)
}

func TestExecuteErrorBecomesResult(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(&Action{
		ActionSchema: ActionSchema{Name: "broken"},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("element not found")
		},
	})

	msg := r.Execute(context.Background(), ActionRequest{Name: "broken", ID: "req-2"})

	assert.Equal(t, RoleActionResult, msg.Role)
	assert.Equal(t, "Error: element not found", msg.Content)
	assert.Equal(t, "req-2", msg.ActionRequestID)
}

func TestExecutePanicIsRecovered(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(&Action{
		ActionSchema: ActionSchema{Name: "volatile"},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			panic("boom")
		},
	})

	var msg Message
	require.NotPanics(t, func() {
		msg = r.Execute(context.Background(), ActionRequest{Name: "volatile", ID: "req-3"})
	})

	assert.Equal(t, RoleActionResult, msg.Role)
	assert.Contains(t, msg.Content, "Error: action volatile panicked")
	assert.Equal(t, "req-3", msg.ActionRequestID)
}

func TestExecuteUnknownAction(t *testing.T) {
	r := newTestRegistry(t)

	msg := r.Execute(context.Background(), ActionRequest{Name: "nope", ID: "req-4"})

	assert.Equal(t, `Error: unknown action "nope"`, msg.Content)
	assert.Equal(t, "req-4", msg.ActionRequestID)
}

func TestSchemasRegistrationOrder(t *testing.T) {
	r := newTestRegistry(t)
	noop := func(ctx context.Context, args map[string]any) (string, error) { return "", nil }
	r.Register(&Action{ActionSchema: ActionSchema{Name: "navigate"}, Execute: noop})
	r.Register(&Action{ActionSchema: ActionSchema{Name: "click"}, Execute: noop})
	r.Register(&Action{ActionSchema: ActionSchema{Name: "type_text"}, Execute: noop})

	schemas := r.Schemas()
	require.Len(t, schemas, 3)
	assert.Equal(t, "navigate", schemas[0].Name)
	assert.Equal(t, "click", schemas[1].Name)
	assert.Equal(t, "type_text", schemas[2].Name)
}

func TestRegisterReplacesByName(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(&Action{
		ActionSchema: ActionSchema{Name: "probe"},
		Execute:      func(ctx context.Context, args map[string]any) (string, error) { return "old", nil },
	})
	r.Register(&Action{
		ActionSchema: ActionSchema{Name: "probe"},
		Execute:      func(ctx context.Context, args map[string]any) (string, error) { return "new", nil },
	})

	require.Len(t, r.Schemas(), 1)
	msg := r.Execute(context.Background(), ActionRequest{Name: "probe"})
	assert.Equal(t, "new", msg.Content)
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{
		"text":    "body",
		"seconds": float64(2.5),
		"count":   3,
		"ratio":   float32(0.5),
	}

	assert.Equal(t, "body", StringArg(args, "text"))
	assert.Equal(t, "", StringArg(args, "missing"))
	assert.Equal(t, "", StringArg(args, "count"))

	assert.Equal(t, 2.5, FloatArg(args, "seconds"))
	assert.Equal(t, 3.0, FloatArg(args, "count"))
	assert.Equal(t, 0.5, FloatArg(args, "ratio"))
	assert.Equal(t, 0.0, FloatArg(args, "missing"))
}
