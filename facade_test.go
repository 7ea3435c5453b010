package runtime

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBootsResourcesAndTasksEndToEnd(t *testing.T) {
	counter := &ResourceDefinition{
		id: "counter",
		InitFunc: func(rc *RunContext) (any, error) {
			return 0, nil
		},
	}
	increment := defineTask(TaskOptions{
		ID:           "increment",
		Dependencies: Dependencies{"counter": counter},
		Run: func(rc *RunContext) (any, error) {
			return rc.Deps["counter"].(int) + 1, nil
		},
	})
	root := &ResourceDefinition{
		id:       "root",
		Register: []any{counter, increment},
		InitFunc: func(rc *RunContext) (any, error) { return "root-value", nil },
	}

	result, err := Run(context.Background(), root, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "root-value", result.Value)

	out, err := result.RunTask(context.Background(), increment.ID(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out)

	v, err := result.GetResourceValue(counter.id)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	require.NoError(t, result.Dispose(context.Background()))
}

func TestRunEmitsReadyEventAfterBoot(t *testing.T) {
	var readyFired bool
	hook := defineHook(HookOptions{
		ID: "onReady",
		On: ReadyEvent.ID(),
		Run: func(ctx context.Context, emission *EventEmission, deps map[string]any) error {
			readyFired = true
			return nil
		},
	})
	root := &ResourceDefinition{
		id:       "root",
		Register: []any{hook},
		InitFunc: func(rc *RunContext) (any, error) { return nil, nil },
	}

	_, err := Run(context.Background(), root, RunOptions{})
	require.NoError(t, err)
	assert.True(t, readyFired)
}

func TestRunRejectsUnresolvableDependency(t *testing.T) {
	ghost := &ResourceDefinition{id: "ghost"}
	task := defineTask(TaskOptions{ID: "needsGhost", Dependencies: Dependencies{"g": ghost}})
	root := &ResourceDefinition{
		id:       "root",
		Register: []any{task},
		InitFunc: func(rc *RunContext) (any, error) { return nil, nil },
	}

	_, err := Run(context.Background(), root, RunOptions{})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrDependencyNotFound, kind)
}

func TestRunWiresMetricsIntoBootedTaskPipeline(t *testing.T) {
	counter := &ResourceDefinition{id: "counter", InitFunc: func(rc *RunContext) (any, error) { return 0, nil }}
	increment := defineTask(TaskOptions{
		ID:           "increment",
		Dependencies: Dependencies{"counter": counter},
		Run: func(rc *RunContext) (any, error) {
			return rc.Deps["counter"].(int) + 1, nil
		},
	})
	root := &ResourceDefinition{id: "root", Register: []any{counter, increment}, InitFunc: func(rc *RunContext) (any, error) { return nil, nil }}

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	result, err := Run(context.Background(), root, RunOptions{Metrics: metrics})
	require.NoError(t, err)

	_, err = result.RunTask(context.Background(), increment.ID(), nil)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRunDetectsResourceCycle(t *testing.T) {
	a := &ResourceDefinition{id: "a"}
	b := &ResourceDefinition{id: "b", Dependencies: Dependencies{"a": a}}
	a.Dependencies = Dependencies{"b": b}
	root := &ResourceDefinition{id: "root", Register: []any{a, b}, InitFunc: func(rc *RunContext) (any, error) { return nil, nil }}

	_, err := Run(context.Background(), root, RunOptions{})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrCircularDependencies, kind)
}
