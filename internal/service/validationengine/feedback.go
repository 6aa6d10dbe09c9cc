package validationengine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lsfhub/validation-engine/internal/metrics"
	"github.com/lsfhub/validation-engine/internal/repository"
	"github.com/lsfhub/validation-engine/internal/validation"
	"github.com/lsfhub/validation-engine/pkg/eventbus"
)

// feedbackOpenStates are the lifecycle states that accept new feedback.
var feedbackOpenStates = map[validation.LifecycleState]bool{
	validation.StateSubmitted:          true,
	validation.StatePending:            true,
	validation.StateInReview:           true,
	validation.StateFeedbackCollecting: true,
}

// FeedbackManager accepts, validates and stores expert feedback and drives
// the feedback-count auto-transitions.
type FeedbackManager struct {
	store   *repository.Store
	states  *StateMachine
	bus     *eventbus.Bus
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewFeedbackManager creates the feedback manager. It shares the state
// machine so count-triggered transitions go through the same table.
func NewFeedbackManager(store *repository.Store, states *StateMachine, bus *eventbus.Bus, m *metrics.Metrics, log *zap.Logger) *FeedbackManager {
	return &FeedbackManager{
		store:   store,
		states:  states,
		bus:     bus,
		metrics: m,
		log:     log.With(zap.String("manager", "feedback")),
	}
}

// Add validates and stores one feedback entry, returning its id. Crossing
// the first-feedback or minimum-feedback thresholds advances the item's
// state; a failed auto-advance never fails the add.
func (fm *FeedbackManager) Add(ctx context.Context, validationID string, input validation.FeedbackInput) (string, error) {
	if err := validateFeedbackInput(input); err != nil {
		return "", err
	}

	unlock := fm.store.LockKey(validationID)
	id, events, err := fm.addLocked(validationID, input)
	unlock()
	if err != nil {
		return "", err
	}

	for _, ev := range events {
		fm.bus.Publish(ev.validationID, ev.eventType, ev.payload)
		if fm.metrics != nil {
			fm.metrics.EventsPublished.WithLabelValues(ev.eventType).Inc()
		}
	}
	if fm.metrics != nil {
		fm.metrics.FeedbackAdded.Inc()
	}
	return id, nil
}

func (fm *FeedbackManager) addLocked(validationID string, input validation.FeedbackInput) (string, []busEvent, error) {
	item, err := fm.store.Item(validationID)
	if err != nil {
		return "", nil, err
	}
	current, err := fm.store.CurrentState(validationID)
	if err != nil {
		return "", nil, err
	}
	if !feedbackOpenStates[current] {
		return "", nil, validation.NewError(validation.CodeInvalidState, "validation no longer accepts feedback").
			WithDetails("validationId", validationID).
			WithDetails("state", string(current))
	}

	entry := validation.FeedbackEntry{
		ID:                uuid.NewString(),
		ExpertID:          input.ExpertID,
		ValidationID:      validationID,
		Approved:          *input.Approved,
		IsNativeValidator: *input.IsNativeValidator,
		ExpertiseLevel:    input.ExpertiseLevel,
		Score:             input.Score,
		Confidence:        input.Confidence,
		Comments:          input.Comments,
		Suggestions:       input.Suggestions,
		Timestamp:         time.Now().UTC(),
	}
	count, err := fm.store.AddFeedback(entry)
	if err != nil {
		return "", nil, err
	}

	events := []busEvent{{validationID, validation.EventFeedbackAdded, validation.FeedbackAddedPayload{
		FeedbackID:    entry.ID,
		ExpertID:      entry.ExpertID,
		Approved:      entry.Approved,
		FeedbackCount: count,
	}}}

	minRequired := item.MinFeedbackRequired
	if minRequired <= 0 {
		minRequired = validation.DefaultMinFeedback
	}

	// At most one automatic transition per add; the first-feedback rule takes
	// precedence while the count is exactly one.
	switch {
	case count == 1 && current == validation.StateSubmitted:
		_, evs, err := fm.states.advanceLocked(validationID, validation.StateInReview, "first feedback received", "system")
		if err != nil {
			fm.log.Debug("auto-advance to in_review skipped",
				zap.String("validation_id", validationID), zap.Error(err))
			break
		}
		events = append(events, evs...)
	case count >= minRequired && current != validation.StateFeedbackCollecting:
		_, evs, err := fm.states.advanceLocked(validationID, validation.StateFeedbackCollecting, "minimum feedback reached", "system")
		if err != nil {
			fm.log.Debug("auto-advance to feedback_collecting skipped",
				zap.String("validation_id", validationID), zap.Error(err))
			break
		}
		events = append(events, evs...)
		events = append(events, busEvent{validationID, validation.EventReadyForConsensus, validation.ReadyForConsensusPayload{
			FeedbackCount: count,
			MinRequired:   minRequired,
		}})
	}
	return entry.ID, events, nil
}

// Get returns one feedback entry by id.
func (fm *FeedbackManager) Get(_ context.Context, feedbackID string) (validation.FeedbackEntry, error) {
	return fm.store.Feedback(feedbackID)
}

// List returns an item's feedback in submission order; a "desc" sort
// direction reverses it.
func (fm *FeedbackManager) List(_ context.Context, validationID string, page validation.PageRequest) (validation.Page[validation.FeedbackEntry], error) {
	if _, err := fm.store.Item(validationID); err != nil {
		return validation.Page[validation.FeedbackEntry]{}, err
	}
	entries := fm.store.FeedbackByValidation(validationID)
	if strings.EqualFold(page.SortDirection, "desc") {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	return validation.PageOf(entries, page), nil
}

// Update applies a patch to an accepted entry. The merged entry is
// re-validated and its timestamp refreshed.
func (fm *FeedbackManager) Update(_ context.Context, feedbackID string, patch validation.FeedbackPatch) (validation.FeedbackEntry, error) {
	entry, err := fm.store.Feedback(feedbackID)
	if err != nil {
		return validation.FeedbackEntry{}, err
	}

	if patch.Approved != nil {
		entry.Approved = *patch.Approved
	}
	if patch.IsNativeValidator != nil {
		entry.IsNativeValidator = *patch.IsNativeValidator
	}
	if patch.ExpertiseLevel != nil {
		entry.ExpertiseLevel = *patch.ExpertiseLevel
	}
	if patch.Score != nil {
		entry.Score = patch.Score
	}
	if patch.Confidence != nil {
		entry.Confidence = patch.Confidence
	}
	if patch.Comments != nil {
		entry.Comments = *patch.Comments
	}
	if patch.Suggestions != nil {
		entry.Suggestions = *patch.Suggestions
	}

	if err := validateEntryRanges(entry.ExpertiseLevel, entry.Score, entry.Confidence); err != nil {
		return validation.FeedbackEntry{}, err
	}
	entry.Timestamp = time.Now().UTC()
	if err := fm.store.UpdateFeedback(entry); err != nil {
		return validation.FeedbackEntry{}, err
	}
	return entry, nil
}

// ByExpert returns every entry one expert has filed across items.
func (fm *FeedbackManager) ByExpert(_ context.Context, expertID string) []validation.FeedbackEntry {
	return fm.store.FeedbackByExpert(expertID)
}

func validateFeedbackInput(input validation.FeedbackInput) error {
	if strings.TrimSpace(input.ExpertID) == "" {
		return validation.MissingField("expertId")
	}
	if input.Approved == nil {
		return validation.MissingField("approved")
	}
	if input.IsNativeValidator == nil {
		return validation.MissingField("isNativeValidator")
	}
	return validateEntryRanges(input.ExpertiseLevel, input.Score, input.Confidence)
}

func validateEntryRanges(level validation.ExpertiseLevel, score, confidence *float64) error {
	if level != "" && !level.Known() {
		return validation.InvalidField("expertiseLevel", "not a known expertise level")
	}
	if score != nil && (*score < 0 || *score > 10) {
		return validation.InvalidField("score", "must be between 0 and 10")
	}
	if confidence != nil && (*confidence < 0 || *confidence > 1) {
		return validation.InvalidField("confidence", "must be between 0 and 1")
	}
	return nil
}
