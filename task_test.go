package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetInput struct {
	Name string `validate:"required"`
}

func TestTaskRunnerValidatesInput(t *testing.T) {
	store := NewStore()
	mm := NewMiddlewareManager()
	tr := NewTaskRunner(store, mm, nil, nil, nil)

	task := defineTask(TaskOptions{
		ID:          "greet",
		InputSchema: NewStructSchema("greetInput", greetInput{}),
		Run: func(rc *RunContext) (any, error) {
			in := rc.Input.(greetInput)
			return "hello " + in.Name, nil
		},
	})

	out, err := tr.Run(context.Background(), task, greetInput{Name: "ada"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello ada", out)

	_, err = tr.Run(context.Background(), task, greetInput{}, nil)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrValidation, kind)
}

func TestTaskRunnerResolvesResourceValuesIntoDeps(t *testing.T) {
	store := NewStore()
	mm := NewMiddlewareManager()
	tr := NewTaskRunner(store, mm, nil, nil, nil)

	res := &ResourceDefinition{id: "db"}
	task := defineTask(TaskOptions{
		ID:           "useDB",
		Dependencies: Dependencies{"db": res},
		Run: func(rc *RunContext) (any, error) {
			return rc.Deps["db"], nil
		},
	})
	task.computedDeps = map[string]item{"db": res}

	out, err := tr.Run(context.Background(), task, nil, map[string]any{"db": "connection"})
	require.NoError(t, err)
	assert.Equal(t, "connection", out)
}

func TestTaskRunnerRecoversPanic(t *testing.T) {
	store := NewStore()
	mm := NewMiddlewareManager()
	tr := NewTaskRunner(store, mm, nil, nil, nil)

	task := defineTask(TaskOptions{
		ID: "boom",
		Run: func(rc *RunContext) (any, error) {
			panic("kaboom")
		},
	})

	_, err := tr.Run(context.Background(), task, nil, nil)
	require.Error(t, err)
}

func TestTaskRunnerComposesMiddlewareAroundTunnelRoutedCall(t *testing.T) {
	store := NewStore()
	mm := NewMiddlewareManager()

	var order []string
	clientSide := defineMiddleware(MiddlewareOptions{
		ID: "clientSide",
		Run: func(exec *ExecutionInput) (any, error) {
			order = append(order, "before:clientSide")
			out, err := exec.Next()
			order = append(order, "after:clientSide")
			return out, err
		},
	})
	serverOnly := defineMiddleware(MiddlewareOptions{
		ID: "serverOnly",
		Run: func(exec *ExecutionInput) (any, error) {
			order = append(order, "before:serverOnly")
			return exec.Next()
		},
	})

	runner := &TunnelRunner{
		Mode:  TunnelClient,
		Tasks: []any{"remote.task"},
		Run: func(ctx context.Context, taskID string, input any) (any, error) {
			order = append(order, "remote-call")
			return "remote-result", nil
		},
	}
	runner.expandSelectors(nil)
	router := &TunnelRouter{runners: []*TunnelRunner{runner}}

	task := defineTask(TaskOptions{
		ID:           "remote.task",
		Middleware:   []*MiddlewareUsage{clientSide.Bare(), serverOnly.Bare()},
		TunnelPolicy: []string{clientSide.id},
		Run: func(rc *RunContext) (any, error) {
			t.Fatal("local RunFunc must not execute for a tunnel-routed task")
			return nil, nil
		},
	})

	tr := NewTaskRunner(store, mm, router, nil, nil)
	out, err := tr.Run(context.Background(), task, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "remote-result", out)
	assert.Equal(t, []string{"before:clientSide", "remote-call", "after:clientSide"}, order)
}

func TestTaskRunnerEmitsLifecycleEvents(t *testing.T) {
	store := NewStore()
	mm := NewMiddlewareManager()
	events := NewEventManager(false, nil)

	var seen []string
	require.NoError(t, events.Subscribe("obs", "probe.beforeRun", 0, func(ctx context.Context, e *EventEmission) error {
		seen = append(seen, "beforeRun")
		return nil
	}))
	require.NoError(t, events.Subscribe("obs", "probe.afterRun", 0, func(ctx context.Context, e *EventEmission) error {
		seen = append(seen, "afterRun")
		return nil
	}))
	require.NoError(t, events.Subscribe("obs", "probe.onError", 0, func(ctx context.Context, e *EventEmission) error {
		seen = append(seen, "onError")
		return nil
	}))

	tr := NewTaskRunner(store, mm, nil, events, nil)
	task := defineTask(TaskOptions{ID: "probe", Run: func(rc *RunContext) (any, error) { return "ok", nil }})

	_, err := tr.Run(context.Background(), task, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"beforeRun", "afterRun"}, seen)

	seen = nil
	failing := defineTask(TaskOptions{ID: "probe", Run: func(rc *RunContext) (any, error) { return nil, RuntimeError("boom") }})
	_, err = tr.Run(context.Background(), failing, nil, nil)
	require.Error(t, err)
	assert.Equal(t, []string{"beforeRun", "onError"}, seen)
}

type testIdentifiedError struct {
	id   string
	data any
}

func (e *testIdentifiedError) Error() string  { return "identified: " + e.id }
func (e *testIdentifiedError) ErrorID() string { return e.id }
func (e *testIdentifiedError) ErrorData() any  { return e.data }

func TestTaskRunnerResolvesIdentifiedErrorViaStore(t *testing.T) {
	store := NewStore()
	mm := NewMiddlewareManager()
	tr := NewTaskRunner(store, mm, nil, nil, nil)

	errDef := defineError("notFound", func(data any) error {
		return RuntimeError("not found: %v", data)
	}, nil)
	require.NoError(t, store.storeGenericItem("", errDef))

	task := defineTask(TaskOptions{
		ID: "lookup",
		Run: func(rc *RunContext) (any, error) {
			return nil, &testIdentifiedError{id: "notFound", data: "item-1"}
		},
	})

	_, err := tr.Run(context.Background(), task, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found: item-1")
}
