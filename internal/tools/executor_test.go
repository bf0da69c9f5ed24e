package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontdesk-io/frontdesk/internal/audit"
)

type stubTool struct {
	name   string
	scopes []string
	args   []ArgSpec
	result map[string]interface{}
	err    error
	calls  int
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }
func (s *stubTool) Scopes() []string    { return s.scopes }
func (s *stubTool) Args() []ArgSpec     { return s.args }

func (s *stubTool) Run(ctx context.Context, args map[string]interface{}, tctx *Context) (map[string]interface{}, error) {
	s.calls++
	return s.result, s.err
}

func newTestExecutor(tools ...Tool) (*Executor, *audit.Bus) {
	reg := NewRegistry()
	for _, t := range tools {
		reg.Register(t)
	}
	bus := audit.NewBus(nil, 16)
	return NewExecutor(reg, bus), bus
}

func TestExecutorRunSuccessEmitsToolEvent(t *testing.T) {
	tool := &stubTool{
		name:   "echo",
		scopes: []string{ScopeRead},
		args:   []ArgSpec{{Name: "value", Type: ArgString, Required: true}},
		result: map[string]interface{}{"ok": true, "value": "hola"},
	}
	exec, bus := newTestExecutor(tool)

	res, err := exec.Run(context.Background(), "echo",
		map[string]interface{}{"value": "hola"},
		&Context{RequestID: "req-1", SessionID: "s1", Channel: "web"})
	require.NoError(t, err)
	assert.Equal(t, true, res["ok"])
	assert.Equal(t, 1, tool.calls)

	tail := bus.Tail(0)
	require.Len(t, tail, 1)
	assert.Equal(t, audit.TypeTool, tail[0].Type)
	assert.Equal(t, "echo", tail[0].ToolName)
	assert.Equal(t, "req-1", tail[0].RequestID)
	assert.Equal(t, map[string]interface{}{"value": "hola"}, tail[0].Payload["args"])
}

func TestExecutorRunFailureEmitsErrorEvent(t *testing.T) {
	tool := &stubTool{
		name:   "boom",
		scopes: []string{ScopeRead},
		err:    errors.New("backend down"),
	}
	exec, bus := newTestExecutor(tool)

	_, err := exec.Run(context.Background(), "boom", nil, &Context{SessionID: "s1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")

	tail := bus.Tail(0)
	require.Len(t, tail, 1)
	assert.Equal(t, audit.TypeError, tail[0].Type)
	assert.Equal(t, "boom", tail[0].ToolName)
}

func TestExecutorUnconfirmedWriteDoesNotExecute(t *testing.T) {
	tool := &stubTool{name: "write_thing", scopes: []string{ScopeWrite}}
	exec, bus := newTestExecutor(tool)

	_, err := exec.Run(context.Background(), "write_thing", nil, &Context{SessionID: "s1"})
	require.ErrorIs(t, err, ErrConfirmationRequired)
	assert.Equal(t, 0, tool.calls)
	assert.Empty(t, bus.Tail(0))
}

func TestExecutorConfirmedWriteExecutes(t *testing.T) {
	tool := &stubTool{
		name:   "write_thing",
		scopes: []string{ScopeWrite},
		result: map[string]interface{}{"ok": true},
	}
	exec, _ := newTestExecutor(tool)

	res, err := exec.Run(context.Background(), "write_thing", nil,
		&Context{SessionID: "s1", Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, true, res["ok"])
	assert.Equal(t, 1, tool.calls)
}

func TestExecutorToolNotFound(t *testing.T) {
	exec, bus := newTestExecutor()

	_, err := exec.Run(context.Background(), "missing", nil, &Context{SessionID: "s1"})
	require.ErrorIs(t, err, ErrToolNotFound)
	assert.Empty(t, bus.Tail(0))
}

func TestExecutorArgValidationFailure(t *testing.T) {
	tool := &stubTool{
		name:   "strict",
		scopes: []string{ScopeRead},
		args:   []ArgSpec{{Name: "id", Type: ArgInt, Required: true}},
	}
	exec, _ := newTestExecutor(tool)

	_, err := exec.Run(context.Background(), "strict",
		map[string]interface{}{"id": "not a number"}, &Context{SessionID: "s1"})
	require.Error(t, err)
	var argErr *ArgError
	assert.ErrorAs(t, err, &argErr)
	assert.Equal(t, 0, tool.calls)
}
