package validation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleStateSets(t *testing.T) {
	assert.True(t, StateSubmitted.Known())
	assert.True(t, StateUnknown.Known())
	assert.False(t, LifecycleState("archived").Known())

	for _, s := range []LifecycleState{StateApproved, StateRejected, StateIntegrated, StateCancelled, StateExpired} {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}
	for _, s := range []LifecycleState{StateSubmitted, StateInReview, StateConsensusReached} {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}

func TestExpertiseLevelOrdering(t *testing.T) {
	levels := []ExpertiseLevel{
		ExpertiseNovice, ExpertiseBeginner, ExpertiseIntermediate,
		ExpertiseAdvanced, ExpertiseExpert, ExpertiseTrainer, ExpertiseResearcher,
	}
	for i, level := range levels {
		require.True(t, level.Known())
		assert.Equal(t, i+1, level.Rank())
	}
	assert.False(t, ExpertiseLevel("guru").Known())
	assert.Equal(t, 0, ExpertiseLevel("guru").Rank())
}

func TestPriorityWeights(t *testing.T) {
	assert.Equal(t, 1, PriorityLow.Weight())
	assert.Equal(t, 2, PriorityMedium.Weight())
	assert.Equal(t, 3, PriorityHigh.Weight())
	assert.Equal(t, 1, Priority("").Weight())
}

func TestErrorCodesAndWrapping(t *testing.T) {
	err := TransitionDenied("v-1", StateSubmitted, StateApproved, []LifecycleState{StatePending})
	assert.Equal(t, CodeStateTransitionDenied, CodeOf(err))
	assert.Equal(t, StateSubmitted, err.Details["from"])
	assert.Equal(t, StateApproved, err.Details["to"])

	wrapped := fmt.Errorf("advance: %w", err)
	assert.Equal(t, CodeStateTransitionDenied, CodeOf(wrapped))
	assert.True(t, errors.Is(wrapped, NewError(CodeStateTransitionDenied, "")))

	plain := errors.New("disk on fire")
	converted := AsError(plain)
	assert.Equal(t, CodeOperationFailed, converted.Code)
	assert.Equal(t, "disk on fire", converted.Details["cause"])
	assert.True(t, errors.Is(converted, plain))
}

func TestResultEnvelope(t *testing.T) {
	ok := OK("v-1")
	assert.True(t, ok.Success)
	data, err := ok.Unwrap()
	require.NoError(t, err)
	assert.Equal(t, "v-1", data)

	fail := Fail[string](MissingField("expertId"))
	assert.False(t, fail.Success)
	_, err = fail.Unwrap()
	assert.Equal(t, CodeMissingRequiredField, CodeOf(err))
}

func TestPageRequestNormalize(t *testing.T) {
	p := PageRequest{Page: 0, Limit: 0}.Normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.Limit)

	p = PageRequest{Page: 2, Limit: 500}.Normalize()
	assert.Equal(t, 100, p.Limit)
}

func TestPageOfRoundTrip(t *testing.T) {
	items := make([]int, 15)
	for i := range items {
		items[i] = i
	}

	page := PageOf(items, PageRequest{Page: 2, Limit: 5})
	assert.Equal(t, []int{5, 6, 7, 8, 9}, page.Items)
	assert.Equal(t, 15, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.PageCount)

	// Past the end: empty items, envelope still filled.
	page = PageOf(items, PageRequest{Page: 9, Limit: 5})
	assert.Empty(t, page.Items)
	assert.Equal(t, 15, page.Total)
	assert.Equal(t, 3, page.PageCount)
}
