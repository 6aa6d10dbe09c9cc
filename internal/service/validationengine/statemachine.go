// Package validationengine implements the collaborative validation engine:
// lifecycle state machine, feedback collection, consensus calculation,
// expert registry, and the manager registry facade that composes them.
package validationengine

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lsfhub/validation-engine/internal/metrics"
	"github.com/lsfhub/validation-engine/internal/repository"
	"github.com/lsfhub/validation-engine/internal/validation"
	"github.com/lsfhub/validation-engine/pkg/eventbus"
)

// transitionTable is the static lifecycle contract. Missing sources have no
// outgoing transitions.
var transitionTable = map[validation.LifecycleState][]validation.LifecycleState{
	validation.StateUnknown:   {validation.StateSubmitted},
	validation.StateSubmitted: {validation.StatePending, validation.StateInReview, validation.StateCancelled},
	validation.StatePending:   {validation.StateInReview, validation.StateCancelled, validation.StateExpired},
	validation.StateInReview: {
		validation.StateFeedbackCollecting, validation.StateCancelled, validation.StateNeedsImprovement,
		validation.StateApproved, validation.StateRejected,
	},
	validation.StateFeedbackCollecting: {
		validation.StateConsensusCalculating, validation.StateNeedsImprovement, validation.StateCancelled,
	},
	validation.StateConsensusCalculating: {
		validation.StateConsensusReached, validation.StateNeedsImprovement, validation.StateCancelled,
	},
	validation.StateConsensusReached: {
		validation.StateApproved, validation.StateRejected, validation.StateNeedsImprovement,
	},
	validation.StateNeedsImprovement: {validation.StateSubmitted, validation.StateCancelled},
	validation.StateApproved:         {validation.StateIntegrated},
	validation.StateRejected:         {validation.StateSubmitted, validation.StateCancelled},
	validation.StateIntegrated:       {},
	validation.StateCancelled:        {},
	validation.StateExpired:          {validation.StateSubmitted},
}

// LegalTargets returns a copy of the allowed targets from one state.
func LegalTargets(from validation.LifecycleState) []validation.LifecycleState {
	targets := transitionTable[from]
	out := make([]validation.LifecycleState, len(targets))
	copy(out, targets)
	return out
}

// busEvent is a deferred publication; managers collect events while holding
// an item's key lock and publish them after release.
type busEvent struct {
	validationID string
	eventType    string
	payload      interface{}
}

// StateMachine enforces the lifecycle transition table and records the
// append-only audit history.
type StateMachine struct {
	store   *repository.Store
	bus     *eventbus.Bus
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewStateMachine creates the lifecycle manager.
func NewStateMachine(store *repository.Store, bus *eventbus.Bus, m *metrics.Metrics, log *zap.Logger) *StateMachine {
	return &StateMachine{store: store, bus: bus, metrics: m, log: log.With(zap.String("manager", "state-machine"))}
}

// Advance moves one item to the target state. Requesting the current state
// is an idempotent success that still appends an "unchanged" audit record.
func (sm *StateMachine) Advance(ctx context.Context, id string, target validation.LifecycleState, reason, actor string) (validation.StateChange, error) {
	unlock := sm.store.LockKey(id)
	change, events, err := sm.advanceLocked(id, target, reason, actor)
	unlock()
	if err != nil {
		return validation.StateChange{}, err
	}
	sm.publish(ctx, events)
	return change, nil
}

// advanceLocked performs the transition-table check and mutation. The caller
// must hold the item's key lock and publish the returned events after
// releasing it.
func (sm *StateMachine) advanceLocked(id string, target validation.LifecycleState, reason, actor string) (validation.StateChange, []busEvent, error) {
	if !target.Known() || target == validation.StateUnknown {
		return validation.StateChange{}, nil, validation.InvalidField("targetState", "not a known lifecycle state")
	}

	current, err := sm.store.CurrentState(id)
	if err != nil {
		return validation.StateChange{}, nil, err
	}

	if target == current {
		change := validation.StateChange{
			ValidationID:  id,
			PreviousState: current,
			NewState:      current,
			ChangedBy:     actor,
			ChangedAt:     time.Now().UTC(),
			Reason:        tagUnchanged(reason),
		}
		if err := sm.store.AppendChange(change); err != nil {
			return validation.StateChange{}, nil, err
		}
		return change, nil, nil
	}

	legal := LegalTargets(current)
	if !containsState(legal, target) {
		if sm.metrics != nil {
			sm.metrics.TransitionsDenied.Inc()
		}
		return validation.StateChange{}, nil, validation.TransitionDenied(id, current, target, legal)
	}

	change := validation.StateChange{
		ValidationID:  id,
		PreviousState: current,
		NewState:      target,
		ChangedBy:     actor,
		ChangedAt:     time.Now().UTC(),
		Reason:        reason,
	}
	if err := sm.store.AppendChange(change); err != nil {
		return validation.StateChange{}, nil, err
	}
	if sm.metrics != nil {
		sm.metrics.Transitions.WithLabelValues(string(target)).Inc()
	}

	payload := validation.StateChangedPayload{Change: change}
	events := []busEvent{{id, validation.EventStateChanged, payload}}
	switch target {
	case validation.StateConsensusReached:
		events = append(events, busEvent{id, validation.EventConsensusReached, payload})
	case validation.StateApproved, validation.StateRejected:
		events = append(events, busEvent{id, validation.EventCompleted, payload})
	case validation.StateIntegrated:
		events = append(events, busEvent{id, validation.EventImprovementIntegrated, payload})
	}
	return change, events, nil
}

// Current returns the item's current lifecycle state.
func (sm *StateMachine) Current(_ context.Context, id string) (validation.LifecycleState, error) {
	return sm.store.CurrentState(id)
}

// History returns the audit trail, chronological by default; a "desc" sort
// direction reverses it.
func (sm *StateMachine) History(_ context.Context, id string, page validation.PageRequest) (validation.Page[validation.StateChange], error) {
	history, err := sm.store.History(id)
	if err != nil {
		return validation.Page[validation.StateChange]{}, err
	}
	if strings.EqualFold(page.SortDirection, "desc") {
		for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
			history[i], history[j] = history[j], history[i]
		}
	}
	return validation.PageOf(history, page), nil
}

// LegalNextStates returns the targets reachable from the item's current
// state.
func (sm *StateMachine) LegalNextStates(_ context.Context, id string) ([]validation.LifecycleState, error) {
	current, err := sm.store.CurrentState(id)
	if err != nil {
		return nil, err
	}
	return LegalTargets(current), nil
}

func (sm *StateMachine) publish(_ context.Context, events []busEvent) {
	for _, ev := range events {
		sm.bus.Publish(ev.validationID, ev.eventType, ev.payload)
		if sm.metrics != nil {
			sm.metrics.EventsPublished.WithLabelValues(ev.eventType).Inc()
		}
	}
}

func tagUnchanged(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "unchanged"
	}
	return "unchanged: " + reason
}

func containsState(states []validation.LifecycleState, target validation.LifecycleState) bool {
	for _, s := range states {
		if s == target {
			return true
		}
	}
	return false
}
