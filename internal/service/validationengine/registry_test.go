package validationengine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lsfhub/validation-engine/internal/metrics"
	"github.com/lsfhub/validation-engine/internal/validation"
	"github.com/lsfhub/validation-engine/pkg/eventbus"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(context.Background(), Options{
		Logger:  zap.NewNop(),
		Metrics: metrics.New(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r
}

func submit(t *testing.T, r *Registry) string {
	t.Helper()
	id, err := r.SubmitProposal(context.Background(), validation.SubmitRequest{
		ContentKind: validation.ContentKindSign,
		RequesterID: "requester-1",
		Payload:     map[string]interface{}{"gloss": "HELLO"},
	}).Unwrap()
	require.NoError(t, err)
	return id
}

func TestSubmitProposal(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	rec := &eventRecorder{}
	_, err := r.Subscribe(eventbus.Wildcard, rec.handle).Unwrap()
	require.NoError(t, err)

	id := submit(t, r)

	item, err := r.GetValidation(ctx, id).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, validation.DefaultMinFeedback, item.MinFeedbackRequired)

	state, err := r.CurrentState(ctx, id).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, validation.StateSubmitted, state)

	// Submission publishes exactly one event; the seed transition is not a
	// state change.
	assert.Equal(t, []string{validation.EventSubmission}, rec.types())
	rec.mu.Lock()
	assert.Equal(t, id, rec.events[0].ValidationID)
	rec.mu.Unlock()

	// One manual update delivers exactly one state-changed event for the
	// same item.
	_, err = r.UpdateState(ctx, id, validation.StatePending, "queued for review").Unwrap()
	require.NoError(t, err)
	assert.Equal(t, []string{validation.EventSubmission, validation.EventStateChanged}, rec.types())
	rec.mu.Lock()
	assert.Equal(t, id, rec.events[1].ValidationID)
	rec.mu.Unlock()

	history, err := r.StateHistory(ctx, id, validation.PageRequest{}).Unwrap()
	require.NoError(t, err)
	require.Equal(t, 2, history.Total)
	assert.Equal(t, validation.StateUnknown, history.Items[0].PreviousState)
	assert.Equal(t, "requester-1", history.Items[0].ChangedBy)
	assert.Equal(t, validation.StatePending, history.Items[1].NewState)
}

func TestSubmitProposalValidation(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	result := r.SubmitProposal(ctx, validation.SubmitRequest{ContentKind: validation.ContentKindSign})
	assert.False(t, result.Success)
	assert.Equal(t, validation.CodeMissingRequiredField, result.Err.Code)

	result = r.SubmitProposal(ctx, validation.SubmitRequest{RequesterID: "r-1", ContentKind: "hologram"})
	assert.Equal(t, validation.CodeInvalidData, result.Err.Code)

	result = r.SubmitProposal(ctx, validation.SubmitRequest{
		RequesterID: "r-1", ContentKind: validation.ContentKindSign, MinFeedbackRequired: -1,
	})
	assert.Equal(t, validation.CodeInvalidData, result.Err.Code)
}

func TestStrongConsensusAutoCloses(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	id := submit(t, r)

	rec := &eventRecorder{}
	_, err := r.Subscribe(eventbus.Wildcard, rec.handle).Unwrap()
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := r.AddFeedback(ctx, id, judgment(fmt.Sprintf("e-%d", i), i < 4)).Unwrap()
		require.NoError(t, err)
	}

	opts := validation.ConsensusOptions{Algorithm: validation.AlgorithmMajority, ApprovalThreshold: 0.7, MinParticipants: 3}
	result, err := r.CalculateConsensus(ctx, id, &opts).Unwrap()
	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.GreaterOrEqual(t, result.ConsensusLevel, 0.8)
	assert.Equal(t, 4, result.ApprovalCount)

	// Four of five approvals is a strong consensus: the item closes itself.
	state, err := r.CurrentState(ctx, id).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, validation.StateApproved, state)

	assert.Contains(t, rec.types(), validation.EventReadyForConsensus)
	assert.Contains(t, rec.types(), validation.EventConsensusReached)
	assert.Contains(t, rec.types(), validation.EventCompleted)

	stored, err := r.GetConsensus(ctx, id).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, result.ComputedAt, stored.ComputedAt)

	// The decision is final; recomputation is refused.
	recompute := r.CalculateConsensus(ctx, id, &opts)
	assert.Equal(t, validation.CodeConsensusAlreadyReached, recompute.Err.Code)
}

func TestSplitConsensusStaysOpen(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	id := submit(t, r)

	for i := 0; i < 6; i++ {
		_, err := r.AddFeedback(ctx, id, judgment(fmt.Sprintf("e-%d", i), i%2 == 0)).Unwrap()
		require.NoError(t, err)
	}

	opts := validation.ConsensusOptions{Algorithm: validation.AlgorithmMajority, ApprovalThreshold: 0.7, MinParticipants: 3}
	result, err := r.CalculateConsensus(ctx, id, &opts).Unwrap()
	require.NoError(t, err)
	assert.False(t, result.Approved)
	assert.InDelta(t, 0.5, result.ConsensusLevel, 1e-9)

	// An even split reaches consensus-reached but does not auto-close.
	state, err := r.CurrentState(ctx, id).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, validation.StateConsensusReached, state)
}

func TestConsensusGuardDoesNotPersist(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	id := submit(t, r)

	_, err := r.AddFeedback(ctx, id, judgment("e-0", true)).Unwrap()
	require.NoError(t, err)

	result, err := r.CalculateConsensus(ctx, id, nil).Unwrap()
	require.NoError(t, err)
	assert.False(t, result.Approved)
	assert.Empty(t, result.Algorithm)

	// Below the floor nothing is persisted and the state is untouched.
	lookup := r.GetConsensus(ctx, id)
	assert.Equal(t, validation.CodeInvalidState, lookup.Err.Code)
	state, err := r.CurrentState(ctx, id).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, validation.StateInReview, state)
}

func TestConsensusFloorUsesItemMinimum(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	id, err := r.SubmitProposal(ctx, validation.SubmitRequest{
		ContentKind:         validation.ContentKindTranslation,
		RequesterID:         "r-1",
		MinFeedbackRequired: 5,
	}).Unwrap()
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := r.AddFeedback(ctx, id, judgment(fmt.Sprintf("e-%d", i), true)).Unwrap()
		require.NoError(t, err)
	}

	// 4 entries satisfy the default floor of 3 but not the item's own 5.
	result, err := r.CalculateConsensus(ctx, id, nil).Unwrap()
	require.NoError(t, err)
	assert.Empty(t, result.Algorithm)
	assert.Equal(t, 4, result.ExpertCount)
}

func TestIntegrateValidation(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	id := submit(t, r)

	for i := 0; i < 3; i++ {
		_, err := r.AddFeedback(ctx, id, judgment(fmt.Sprintf("e-%d", i), true)).Unwrap()
		require.NoError(t, err)
	}
	opts := validation.ConsensusOptions{Algorithm: validation.AlgorithmMajority, ApprovalThreshold: 0.7, MinParticipants: 3}
	_, err := r.CalculateConsensus(ctx, id, &opts).Unwrap()
	require.NoError(t, err)

	change, err := r.IntegrateValidation(ctx, id, "merged into sign corpus").Unwrap()
	require.NoError(t, err)
	assert.Equal(t, validation.StateApproved, change.PreviousState)
	assert.Equal(t, validation.StateIntegrated, change.NewState)
}

func TestSearchValidations(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		kind := validation.ContentKindSign
		if i == 2 {
			kind = validation.ContentKindDocument
		}
		_, err := r.SubmitProposal(ctx, validation.SubmitRequest{ContentKind: kind, RequesterID: "r-1"}).Unwrap()
		require.NoError(t, err)
	}

	page, err := r.SearchValidations(ctx, validation.SearchCriteria{ContentKind: validation.ContentKindSign}, validation.PageRequest{}).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = r.SearchValidations(ctx, validation.SearchCriteria{
		States: []validation.LifecycleState{validation.StateSubmitted},
	}, validation.PageRequest{Limit: 2}).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.PageCount)
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	r := newTestRegistry(t)

	subID, err := r.Subscribe(validation.EventSubmission, func(eventbus.Event) {}).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, 1, r.SubscriptionCount())

	ok, err := r.Unsubscribe(subID).Unwrap()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, r.SubscriptionCount())

	result := r.Unsubscribe(subID)
	assert.False(t, result.Success)
	assert.Equal(t, validation.CodeInvalidData, result.Err.Code)
}

func TestSubscriberPanicIsIsolated(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Subscribe(eventbus.Wildcard, func(eventbus.Event) { panic("bad handler") }).Unwrap()
	require.NoError(t, err)
	rec := &eventRecorder{}
	_, err = r.Subscribe(eventbus.Wildcard, rec.handle).Unwrap()
	require.NoError(t, err)

	submit(t, r)

	assert.Equal(t, []string{validation.EventSubmission}, rec.types())
	assert.Equal(t, uint64(1), r.Bus().FaultCount())
}

func TestTransactionNoRollback(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	var firstID string
	result := r.Transaction(ctx, func(tx *Registry) error {
		id, err := tx.SubmitProposal(ctx, validation.SubmitRequest{
			ContentKind: validation.ContentKindSign, RequesterID: "r-1",
		}).Unwrap()
		if err != nil {
			return err
		}
		firstID = id
		return errors.New("downstream rejected the batch")
	})

	assert.False(t, result.Success)
	assert.Equal(t, validation.CodeTransactionFailed, result.Err.Code)
	assert.Equal(t, "downstream rejected the batch", result.Err.Details["cause"])

	// The step completed before the failure stays applied.
	_, err := r.GetValidation(ctx, firstID).Unwrap()
	assert.NoError(t, err)
}

func TestTransactionRecoversPanic(t *testing.T) {
	r := newTestRegistry(t)

	result := r.Transaction(context.Background(), func(*Registry) error {
		panic("boom")
	})
	assert.False(t, result.Success)
	assert.Equal(t, validation.CodeTransactionFailed, result.Err.Code)
}

func TestShutdownGatesOperations(t *testing.T) {
	r, err := NewRegistry(context.Background(), Options{Logger: zap.NewNop()})
	require.NoError(t, err)
	require.NoError(t, r.Health())

	require.NoError(t, r.Shutdown(context.Background()))
	// Shutdown is idempotent.
	require.NoError(t, r.Shutdown(context.Background()))

	result := r.SubmitProposal(context.Background(), validation.SubmitRequest{
		ContentKind: validation.ContentKindSign, RequesterID: "r-1",
	})
	assert.Equal(t, validation.CodeSystemNotInitialized, result.Err.Code)
	assert.Equal(t, validation.CodeSystemNotInitialized, validation.CodeOf(r.Health()))
}

func TestExpertOperationsThroughRegistry(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	created, err := r.RegisterExpert(ctx, validation.ExpertProfile{
		Name:           "Ana",
		ExpertiseLevel: validation.ExpertiseResearcher,
		IsNative:       true,
	}).Unwrap()
	require.NoError(t, err)

	id := submit(t, r)
	_, err = r.AddFeedback(ctx, id, validation.FeedbackInput{
		ExpertID:          created.ID,
		Approved:          ptr(true),
		IsNativeValidator: ptr(true),
		ExpertiseLevel:    validation.ExpertiseResearcher,
	}).Unwrap()
	require.NoError(t, err)

	stats, err := r.ExpertStats(ctx, created.ID).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FeedbackCount)
	assert.InDelta(t, 1.0, stats.ApprovalRate, 1e-9)

	experts, err := r.ListExperts(ctx, validation.PageRequest{}).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, 1, experts.Total)

	found, err := r.FindExperts(ctx, validation.ExpertCriteria{NativeOnly: true}).Unwrap()
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestSweeperExpiresStalePending(t *testing.T) {
	store, _, sm := newTestStateMachine(t)
	seedItem(t, store, "v-1")
	seedItem(t, store, "v-2")

	_, err := sm.Advance(context.Background(), "v-1", validation.StatePending, "queued", "api")
	require.NoError(t, err)

	sw := NewSweeper(store, sm, time.Nanosecond, "@every 1h", zap.NewNop())
	time.Sleep(5 * time.Millisecond)
	sw.Sweep()

	state, err := store.CurrentState("v-1")
	require.NoError(t, err)
	assert.Equal(t, validation.StateExpired, state)

	// Items outside Pending are untouched.
	state, err = store.CurrentState("v-2")
	require.NoError(t, err)
	assert.Equal(t, validation.StateSubmitted, state)
}

func TestSweeperScheduleValidation(t *testing.T) {
	store, _, sm := newTestStateMachine(t)
	sw := NewSweeper(store, sm, time.Hour, "not a schedule", zap.NewNop())
	err := sw.Start(context.Background())
	require.Error(t, err)
	require.NoError(t, sw.Stop(context.Background()))
}
