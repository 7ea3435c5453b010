package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSelector struct{ id string }

func (f fakeSelector) ID() string { return f.id }

func TestTunnelRouterRoutesMatchingTaskToRemote(t *testing.T) {
	var calledWith string
	runner := &TunnelRunner{
		Mode:  TunnelClient,
		Tasks: []any{"remote.task", fakeSelector{id: "other.task"}},
		Run: func(ctx context.Context, taskID string, input any) (any, error) {
			calledWith = taskID
			return "remote-result", nil
		},
	}
	runner.expandSelectors(nil)

	router := &TunnelRouter{runners: []*TunnelRunner{runner}}
	def := &TaskDefinition{id: "remote.task"}
	handled, out, err := router.RouteTask(context.Background(), def, nil)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "remote-result", out)
	assert.Equal(t, "remote.task", calledWith)
}

func TestTunnelRouterLeavesUnmatchedTaskLocal(t *testing.T) {
	runner := &TunnelRunner{Mode: TunnelClient, Tasks: []any{"remote.task"}, Run: func(ctx context.Context, taskID string, input any) (any, error) {
		return nil, nil
	}}
	runner.expandSelectors(nil)
	router := &TunnelRouter{runners: []*TunnelRunner{runner}}

	handled, _, err := router.RouteTask(context.Background(), &TaskDefinition{id: "local.task"}, nil)
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestTunnelRouterServerModeNeverRedirects(t *testing.T) {
	runner := &TunnelRunner{Mode: TunnelServer, Tasks: []any{"remote.task"}}
	runner.expandSelectors(nil)
	router := &TunnelRouter{runners: []*TunnelRunner{runner}}

	handled, _, err := router.RouteTask(context.Background(), &TaskDefinition{id: "remote.task"}, nil)
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestTunnelRouterEventDeliveryModes(t *testing.T) {
	var calls []string
	localFn := func(tag string) func() error {
		return func() error { calls = append(calls, "local:"+tag); return nil }
	}

	t.Run("local-first runs local then remote", func(t *testing.T) {
		calls = nil
		runner := &TunnelRunner{Mode: TunnelBoth, Events: []any{"e"}, EventDeliveryMode: DeliveryLocalFirst,
			Emit: func(ctx context.Context, eventID string, data any) error {
				calls = append(calls, "remote")
				return nil
			}}
		runner.expandSelectors(nil)
		router := &TunnelRouter{runners: []*TunnelRunner{runner}}
		require.NoError(t, router.RouteEvent(context.Background(), "e", nil, localFn("x")))
		assert.Equal(t, []string{"local:x", "remote"}, calls)
	})

	t.Run("remote-first runs remote only, skipping local", func(t *testing.T) {
		calls = nil
		runner := &TunnelRunner{Mode: TunnelBoth, Events: []any{"e"}, EventDeliveryMode: DeliveryRemoteFirst,
			Emit: func(ctx context.Context, eventID string, data any) error {
				calls = append(calls, "remote")
				return nil
			}}
		runner.expandSelectors(nil)
		router := &TunnelRouter{runners: []*TunnelRunner{runner}}
		require.NoError(t, router.RouteEvent(context.Background(), "e", nil, localFn("x")))
		assert.Equal(t, []string{"remote"}, calls)
	})
}

func TestExpandSelectorIDsSkipsUnknownTypes(t *testing.T) {
	var warned bool
	logger := funcLogger{warn: func(msg string, args ...any) { warned = true }}
	ids := expandSelectorIDs([]any{"a", fakeSelector{id: "b"}, 42}, logger)
	assert.True(t, ids["a"])
	assert.True(t, ids["b"])
	assert.Len(t, ids, 2)
	assert.True(t, warned)
}

// funcLogger is a minimal Logger stub for assertions on Warn calls.
type funcLogger struct {
	warn func(msg string, args ...any)
}

func (f funcLogger) With(string, any) Logger { return f }
func (f funcLogger) Debug(string, ...any)    {}
func (f funcLogger) Info(string, ...any)     {}
func (f funcLogger) Warn(msg string, args ...any) {
	if f.warn != nil {
		f.warn(msg, args...)
	}
}
func (f funcLogger) Error(string, ...any) {}
