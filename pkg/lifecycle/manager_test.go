package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func record(events *[]string, tag string) func(context.Context) error {
	return func(context.Context) error {
		*events = append(*events, tag)
		return nil
	}
}

func TestManager_StartStopOrder(t *testing.T) {
	m := NewManager(zap.NewNop())
	var events []string

	require.NoError(t, m.Register(NewServiceAdapter("consensus").
		WithStart(record(&events, "start consensus")).
		WithStop(record(&events, "stop consensus")), "feedback", "state"))
	require.NoError(t, m.Register(NewServiceAdapter("state").
		WithStart(record(&events, "start state")).
		WithStop(record(&events, "stop state"))))
	require.NoError(t, m.Register(NewServiceAdapter("feedback").
		WithStart(record(&events, "start feedback")).
		WithStop(record(&events, "stop feedback")), "state"))

	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.Started())
	require.NoError(t, m.Stop(context.Background()))
	assert.False(t, m.Started())

	assert.Equal(t, []string{
		"start state",
		"start feedback",
		"start consensus",
		"stop consensus",
		"stop feedback",
		"stop state",
	}, events)
}

func TestManager_StartFailureUnwinds(t *testing.T) {
	m := NewManager(zap.NewNop())
	var events []string

	require.NoError(t, m.Register(NewServiceAdapter("state").
		WithStart(record(&events, "start state")).
		WithStop(record(&events, "stop state"))))
	require.NoError(t, m.Register(NewServiceAdapter("feedback").
		WithStart(func(context.Context) error { return errors.New("boom") }), "state"))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.False(t, m.Started())
	// The already-started resource was stopped again.
	assert.Equal(t, []string{"start state", "stop state"}, events)
}

func TestManager_DuplicateAndMissingDependency(t *testing.T) {
	m := NewManager(zap.NewNop())
	require.NoError(t, m.Register(NewServiceAdapter("state")))
	assert.Error(t, m.Register(NewServiceAdapter("state")))

	require.NoError(t, m.Register(NewServiceAdapter("feedback"), "nope"))
	assert.Error(t, m.Start(context.Background()))
}

func TestManager_Health(t *testing.T) {
	m := NewManager(zap.NewNop())
	require.NoError(t, m.Register(NewServiceAdapter("state")))
	require.NoError(t, m.Register(NewServiceAdapter("feedback").
		WithHealth(func() error { return errors.New("degraded") })))

	err := m.Health()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feedback")
}

func TestManager_CycleDetected(t *testing.T) {
	m := NewManager(zap.NewNop())
	require.NoError(t, m.Register(NewServiceAdapter("a"), "b"))
	require.NoError(t, m.Register(NewServiceAdapter("b"), "a"))
	assert.Error(t, m.Start(context.Background()))
}
