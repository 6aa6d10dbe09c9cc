package validationengine

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lsfhub/validation-engine/internal/metrics"
	"github.com/lsfhub/validation-engine/internal/repository"
	"github.com/lsfhub/validation-engine/internal/validation"
	"github.com/lsfhub/validation-engine/pkg/di"
	"github.com/lsfhub/validation-engine/pkg/eventbus"
	"github.com/lsfhub/validation-engine/pkg/lifecycle"
	"github.com/lsfhub/validation-engine/pkg/rediscache"
)

const consensusCacheTTL = time.Hour

// Options configures a Registry. The zero value is usable: in-memory only,
// synchronous events, engine-default consensus options, no sweeper.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// Cache holds consensus results alongside the authoritative in-memory
	// store. Nil disables caching.
	Cache *rediscache.Cache
	// Directory answers expert lookups externally. Nil keeps lookups local.
	Directory ExpertDirectory

	ConsensusDefaults    validation.ConsensusOptions
	StrongConsensusLevel float64

	// EventWorkers > 0 switches the bus to async dispatch.
	EventWorkers   int
	EventQueueSize int

	// PendingTTL > 0 enables the expiry sweeper.
	PendingTTL    time.Duration
	SweepSchedule string
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if reflect.DeepEqual(o.ConsensusDefaults, validation.ConsensusOptions{}) {
		o.ConsensusDefaults = validation.DefaultConsensusOptions()
	}
	if o.StrongConsensusLevel <= 0 || o.StrongConsensusLevel > 1 {
		o.StrongConsensusLevel = 0.8
	}
	if o.SweepSchedule == "" {
		o.SweepSchedule = "@every 1h"
	}
	return o
}

// Registry is the composition root and single entry point of the engine.
// Every operation returns the uniform Result envelope; expected business
// failures travel inside it and nothing panics across this boundary.
type Registry struct {
	opts      Options
	log       *zap.Logger
	metrics   *metrics.Metrics
	cache     *rediscache.Cache
	container *di.Container
	lifecycle *lifecycle.Manager

	store     *repository.Store
	bus       *eventbus.Bus
	states    *StateMachine
	feedback  *FeedbackManager
	experts   *ExpertRegistry
	consensus *ConsensusEngine
	sweeper   *Sweeper

	initialized atomic.Bool
}

// NewRegistry builds and starts the engine. Managers are constructed through
// the DI container and started in dependency order: state machine, feedback,
// experts, consensus, then the optional sweeper.
func NewRegistry(ctx context.Context, opts Options) (*Registry, error) {
	opts = opts.withDefaults()
	log := opts.Logger

	r := &Registry{
		opts:      opts,
		log:       log.With(zap.String("component", "registry")),
		metrics:   opts.Metrics,
		cache:     opts.Cache,
		container: di.New(),
		lifecycle: lifecycle.NewManager(log),
		store:     repository.NewStore(),
	}

	var busOpts []eventbus.Option
	if opts.EventWorkers > 0 {
		busOpts = append(busOpts, eventbus.WithWorkers(opts.EventWorkers, opts.EventQueueSize))
	}
	if opts.Metrics != nil {
		busOpts = append(busOpts, eventbus.WithFaultHook(opts.Metrics.SubscriberFaults.Inc))
	}
	r.bus = eventbus.New(log, busOpts...)

	if err := r.registerFactories(log); err != nil {
		return nil, err
	}
	if err := r.resolveManagers(); err != nil {
		return nil, err
	}
	if err := r.registerResources(); err != nil {
		return nil, err
	}
	if err := r.lifecycle.Start(ctx); err != nil {
		r.bus.Close()
		return nil, err
	}
	r.initialized.Store(true)
	r.log.Info("validation engine started")
	return r, nil
}

func (r *Registry) registerFactories(log *zap.Logger) error {
	factories := []struct {
		iface   interface{}
		factory di.Factory
	}{
		{(*StateMachine)(nil), func(*di.Container) (interface{}, error) {
			return NewStateMachine(r.store, r.bus, r.metrics, log), nil
		}},
		{(*FeedbackManager)(nil), func(c *di.Container) (interface{}, error) {
			var states *StateMachine
			if err := c.Resolve(&states); err != nil {
				return nil, err
			}
			return NewFeedbackManager(r.store, states, r.bus, r.metrics, log), nil
		}},
		{(*ExpertRegistry)(nil), func(*di.Container) (interface{}, error) {
			return NewExpertRegistry(r.store, r.bus, r.opts.Directory, log), nil
		}},
		{(*ConsensusEngine)(nil), func(*di.Container) (interface{}, error) {
			return NewConsensusEngine(r.store, r.metrics, log), nil
		}},
	}
	for _, f := range factories {
		if err := r.container.Register(f.iface, f.factory); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) resolveManagers() error {
	if err := r.container.Resolve(&r.states); err != nil {
		return err
	}
	if err := r.container.Resolve(&r.feedback); err != nil {
		return err
	}
	if err := r.container.Resolve(&r.experts); err != nil {
		return err
	}
	if err := r.container.Resolve(&r.consensus); err != nil {
		return err
	}
	return nil
}

func (r *Registry) registerResources() error {
	resources := []struct {
		resource lifecycle.Resource
		deps     []string
	}{
		{lifecycle.NewServiceAdapter("state-machine"), nil},
		{lifecycle.NewServiceAdapter("feedback"), []string{"state-machine"}},
		{lifecycle.NewServiceAdapter("experts"), []string{"state-machine"}},
		{lifecycle.NewServiceAdapter("consensus"), []string{"feedback"}},
	}
	for _, res := range resources {
		if err := r.lifecycle.Register(res.resource, res.deps...); err != nil {
			return err
		}
	}
	if r.opts.PendingTTL > 0 {
		r.sweeper = NewSweeper(r.store, r.states, r.opts.PendingTTL, r.opts.SweepSchedule, r.log)
		adapter := lifecycle.NewServiceAdapter("expiry-sweeper").
			WithStart(r.sweeper.Start).
			WithStop(r.sweeper.Stop)
		if err := r.lifecycle.Register(adapter, "state-machine"); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) ready() error {
	if !r.initialized.Load() {
		return validation.NewError(validation.CodeSystemNotInitialized, "engine is not running")
	}
	return nil
}

// SubmitProposal creates a new validation item in Submitted state and
// returns its id. Only a submission event is published; the seed transition
// carries no state-changed notification.
func (r *Registry) SubmitProposal(_ context.Context, req validation.SubmitRequest) validation.Result[string] {
	if err := r.ready(); err != nil {
		return validation.Fail[string](err)
	}
	if strings.TrimSpace(req.RequesterID) == "" {
		return validation.Fail[string](validation.MissingField("requesterId"))
	}
	if !req.ContentKind.Known() {
		return validation.Fail[string](validation.InvalidField("contentKind", "not a known content kind"))
	}
	if req.MinFeedbackRequired < 0 {
		return validation.Fail[string](validation.InvalidField("minFeedbackRequired", "must not be negative"))
	}

	item := validation.ValidationItem{
		ID:                  uuid.NewString(),
		ContentKind:         req.ContentKind,
		Payload:             req.Payload,
		RequesterID:         req.RequesterID,
		SubmittedAt:         time.Now().UTC(),
		MinFeedbackRequired: req.MinFeedbackRequired,
	}
	if item.MinFeedbackRequired == 0 {
		item.MinFeedbackRequired = validation.DefaultMinFeedback
	}
	seed := validation.StateChange{
		ValidationID:  item.ID,
		PreviousState: validation.StateUnknown,
		NewState:      validation.StateSubmitted,
		ChangedBy:     req.RequesterID,
		ChangedAt:     item.SubmittedAt,
		Reason:        "validation submitted",
	}
	if err := r.store.CreateItem(item, seed); err != nil {
		return validation.Fail[string](err)
	}

	r.publish(item.ID, validation.EventSubmission, validation.SubmissionPayload{Item: item})
	if r.metrics != nil {
		r.metrics.Submissions.Inc()
	}
	r.log.Info("validation submitted",
		zap.String("validation_id", item.ID),
		zap.String("content_kind", string(item.ContentKind)))
	return validation.OK(item.ID)
}

// GetValidation returns one item by id.
func (r *Registry) GetValidation(_ context.Context, id string) validation.Result[validation.ValidationItem] {
	if err := r.ready(); err != nil {
		return validation.Fail[validation.ValidationItem](err)
	}
	item, err := r.store.Item(id)
	if err != nil {
		return validation.Fail[validation.ValidationItem](err)
	}
	return validation.OK(item)
}

// CurrentState returns the item's lifecycle state.
func (r *Registry) CurrentState(ctx context.Context, id string) validation.Result[validation.LifecycleState] {
	if err := r.ready(); err != nil {
		return validation.Fail[validation.LifecycleState](err)
	}
	state, err := r.states.Current(ctx, id)
	if err != nil {
		return validation.Fail[validation.LifecycleState](err)
	}
	return validation.OK(state)
}

// UpdateState advances one item through the lifecycle table.
func (r *Registry) UpdateState(ctx context.Context, id string, target validation.LifecycleState, reason string) validation.Result[validation.StateChange] {
	if err := r.ready(); err != nil {
		return validation.Fail[validation.StateChange](err)
	}
	change, err := r.states.Advance(ctx, id, target, reason, "api")
	if err != nil {
		return validation.Fail[validation.StateChange](err)
	}
	return validation.OK(change)
}

// StateHistory returns the item's audit trail.
func (r *Registry) StateHistory(ctx context.Context, id string, page validation.PageRequest) validation.Result[validation.Page[validation.StateChange]] {
	if err := r.ready(); err != nil {
		return validation.Fail[validation.Page[validation.StateChange]](err)
	}
	history, err := r.states.History(ctx, id, page)
	if err != nil {
		return validation.Fail[validation.Page[validation.StateChange]](err)
	}
	return validation.OK(history)
}

// LegalNextStates returns the transitions available from the item's current
// state.
func (r *Registry) LegalNextStates(ctx context.Context, id string) validation.Result[[]validation.LifecycleState] {
	if err := r.ready(); err != nil {
		return validation.Fail[[]validation.LifecycleState](err)
	}
	states, err := r.states.LegalNextStates(ctx, id)
	if err != nil {
		return validation.Fail[[]validation.LifecycleState](err)
	}
	return validation.OK(states)
}

// AddFeedback records one expert judgment and returns the feedback id.
func (r *Registry) AddFeedback(ctx context.Context, validationID string, input validation.FeedbackInput) validation.Result[string] {
	if err := r.ready(); err != nil {
		return validation.Fail[string](err)
	}
	id, err := r.feedback.Add(ctx, validationID, input)
	if err != nil {
		return validation.Fail[string](err)
	}
	return validation.OK(id)
}

// GetFeedback returns one feedback entry.
func (r *Registry) GetFeedback(ctx context.Context, feedbackID string) validation.Result[validation.FeedbackEntry] {
	if err := r.ready(); err != nil {
		return validation.Fail[validation.FeedbackEntry](err)
	}
	entry, err := r.feedback.Get(ctx, feedbackID)
	if err != nil {
		return validation.Fail[validation.FeedbackEntry](err)
	}
	return validation.OK(entry)
}

// ListFeedback returns an item's feedback entries.
func (r *Registry) ListFeedback(ctx context.Context, validationID string, page validation.PageRequest) validation.Result[validation.Page[validation.FeedbackEntry]] {
	if err := r.ready(); err != nil {
		return validation.Fail[validation.Page[validation.FeedbackEntry]](err)
	}
	entries, err := r.feedback.List(ctx, validationID, page)
	if err != nil {
		return validation.Fail[validation.Page[validation.FeedbackEntry]](err)
	}
	return validation.OK(entries)
}

// UpdateFeedback patches an accepted entry.
func (r *Registry) UpdateFeedback(ctx context.Context, feedbackID string, patch validation.FeedbackPatch) validation.Result[validation.FeedbackEntry] {
	if err := r.ready(); err != nil {
		return validation.Fail[validation.FeedbackEntry](err)
	}
	entry, err := r.feedback.Update(ctx, feedbackID, patch)
	if err != nil {
		return validation.Fail[validation.FeedbackEntry](err)
	}
	return validation.OK(entry)
}

// CalculateConsensus computes consensus over the item's current feedback.
// With enough participants the result is persisted, the item advances to
// ConsensusReached, and a consensus level at or above the strong threshold
// closes the item as Approved or Rejected. Below the participation floor the
// guard result is returned and nothing is persisted.
func (r *Registry) CalculateConsensus(ctx context.Context, validationID string, opts *validation.ConsensusOptions) validation.Result[validation.ConsensusResult] {
	if err := r.ready(); err != nil {
		return validation.Fail[validation.ConsensusResult](err)
	}
	item, err := r.store.Item(validationID)
	if err != nil {
		return validation.Fail[validation.ConsensusResult](err)
	}
	current, err := r.states.Current(ctx, validationID)
	if err != nil {
		return validation.Fail[validation.ConsensusResult](err)
	}
	if current.Terminal() {
		return validation.Fail[validation.ConsensusResult](
			validation.NewError(validation.CodeConsensusAlreadyReached, "validation decision is final").
				WithDetails("validationId", validationID).
				WithDetails("state", string(current)))
	}

	effective := r.opts.ConsensusDefaults
	if opts != nil {
		effective = *opts
	}
	effective = normalizeOptions(effective)
	if item.MinFeedbackRequired > effective.MinParticipants {
		effective.MinParticipants = item.MinFeedbackRequired
	}

	entries := r.store.FeedbackByValidation(validationID)
	result, err := r.consensus.Compute(validationID, entries, effective)
	if err != nil {
		return validation.Fail[validation.ConsensusResult](err)
	}
	if len(entries) < effective.MinParticipants {
		return validation.OK(result)
	}

	r.store.SaveConsensus(result)
	if r.cache != nil {
		if err := r.cache.Set(ctx, "consensus", validationID, result, consensusCacheTTL); err != nil {
			r.log.Warn("consensus cache write failed",
				zap.String("validation_id", validationID), zap.Error(err))
		}
	}
	r.publish(validationID, validation.EventConsensusReached, validation.ConsensusPayload{
		Result:     result,
		ComputedAt: result.ComputedAt,
	})

	if err := r.advanceAfterConsensus(ctx, validationID, result); err != nil {
		return validation.Fail[validation.ConsensusResult](err)
	}
	return validation.OK(result)
}

// advanceAfterConsensus walks the item to ConsensusReached and, on strong
// consensus, on to the final decision state.
func (r *Registry) advanceAfterConsensus(ctx context.Context, validationID string, result validation.ConsensusResult) error {
	current, err := r.states.Current(ctx, validationID)
	if err != nil {
		return err
	}
	if current == validation.StateFeedbackCollecting {
		if _, err := r.states.Advance(ctx, validationID, validation.StateConsensusCalculating, "consensus calculation started", "system"); err != nil {
			return err
		}
		current = validation.StateConsensusCalculating
	}
	if current == validation.StateConsensusCalculating {
		reason := fmt.Sprintf("consensus computed at level %.2f", result.ConsensusLevel)
		if _, err := r.states.Advance(ctx, validationID, validation.StateConsensusReached, reason, "system"); err != nil {
			return err
		}
		current = validation.StateConsensusReached
	}
	if current == validation.StateConsensusReached && result.ConsensusLevel >= r.opts.StrongConsensusLevel {
		target := validation.StateRejected
		if result.Approved {
			target = validation.StateApproved
		}
		reason := fmt.Sprintf("strong consensus at level %.2f", result.ConsensusLevel)
		if _, err := r.states.Advance(ctx, validationID, target, reason, "system"); err != nil {
			return err
		}
	}
	return nil
}

// GetConsensus returns the latest computed result for an item, consulting
// the cache first when one is wired.
func (r *Registry) GetConsensus(ctx context.Context, validationID string) validation.Result[validation.ConsensusResult] {
	if err := r.ready(); err != nil {
		return validation.Fail[validation.ConsensusResult](err)
	}
	if _, err := r.store.Item(validationID); err != nil {
		return validation.Fail[validation.ConsensusResult](err)
	}
	if r.cache != nil {
		var cached validation.ConsensusResult
		hit, err := r.cache.Get(ctx, "consensus", validationID, &cached)
		if err != nil {
			r.log.Warn("consensus cache read failed",
				zap.String("validation_id", validationID), zap.Error(err))
		} else if hit {
			return validation.OK(cached)
		}
	}
	result, ok := r.store.Consensus(validationID)
	if !ok {
		return validation.Fail[validation.ConsensusResult](
			validation.NewError(validation.CodeInvalidState, "consensus has not been calculated").
				WithDetails("validationId", validationID))
	}
	return validation.OK(result)
}

// IntegrateValidation moves an approved item to Integrated.
func (r *Registry) IntegrateValidation(ctx context.Context, validationID, reason string) validation.Result[validation.StateChange] {
	if err := r.ready(); err != nil {
		return validation.Fail[validation.StateChange](err)
	}
	if reason == "" {
		reason = "improvement integrated"
	}
	change, err := r.states.Advance(ctx, validationID, validation.StateIntegrated, reason, "api")
	if err != nil {
		return validation.Fail[validation.StateChange](err)
	}
	return validation.OK(change)
}

// SearchValidations filters items by the criteria, newest first.
func (r *Registry) SearchValidations(_ context.Context, criteria validation.SearchCriteria, page validation.PageRequest) validation.Result[validation.Page[validation.ValidationItem]] {
	if err := r.ready(); err != nil {
		return validation.Fail[validation.Page[validation.ValidationItem]](err)
	}
	items := r.store.SearchItems(criteria)
	return validation.OK(validation.PageOf(items, page))
}

// RegisterExpert stores a reviewer profile.
func (r *Registry) RegisterExpert(ctx context.Context, profile validation.ExpertProfile) validation.Result[validation.ExpertProfile] {
	if err := r.ready(); err != nil {
		return validation.Fail[validation.ExpertProfile](err)
	}
	created, err := r.experts.Register(ctx, profile)
	if err != nil {
		return validation.Fail[validation.ExpertProfile](err)
	}
	return validation.OK(created)
}

// GetExpert returns one profile by id.
func (r *Registry) GetExpert(ctx context.Context, id string) validation.Result[validation.ExpertProfile] {
	if err := r.ready(); err != nil {
		return validation.Fail[validation.ExpertProfile](err)
	}
	profile, err := r.experts.Get(ctx, id)
	if err != nil {
		return validation.Fail[validation.ExpertProfile](err)
	}
	return validation.OK(profile)
}

// UpdateExpert replaces an existing profile.
func (r *Registry) UpdateExpert(ctx context.Context, profile validation.ExpertProfile) validation.Result[validation.ExpertProfile] {
	if err := r.ready(); err != nil {
		return validation.Fail[validation.ExpertProfile](err)
	}
	updated, err := r.experts.Update(ctx, profile)
	if err != nil {
		return validation.Fail[validation.ExpertProfile](err)
	}
	return validation.OK(updated)
}

// ListExperts returns registered profiles.
func (r *Registry) ListExperts(ctx context.Context, page validation.PageRequest) validation.Result[validation.Page[validation.ExpertProfile]] {
	if err := r.ready(); err != nil {
		return validation.Fail[validation.Page[validation.ExpertProfile]](err)
	}
	return validation.OK(r.experts.List(ctx, page))
}

// FindExperts matches reviewers against the criteria.
func (r *Registry) FindExperts(ctx context.Context, criteria validation.ExpertCriteria) validation.Result[[]validation.ExpertProfile] {
	if err := r.ready(); err != nil {
		return validation.Fail[[]validation.ExpertProfile](err)
	}
	matches, err := r.experts.Find(ctx, criteria)
	if err != nil {
		return validation.Fail[[]validation.ExpertProfile](err)
	}
	return validation.OK(matches)
}

// ExpertStats aggregates one reviewer's history.
func (r *Registry) ExpertStats(ctx context.Context, expertID string) validation.Result[validation.ExpertStats] {
	if err := r.ready(); err != nil {
		return validation.Fail[validation.ExpertStats](err)
	}
	stats, err := r.experts.Stats(ctx, expertID)
	if err != nil {
		return validation.Fail[validation.ExpertStats](err)
	}
	return validation.OK(stats)
}

// Subscribe registers an event handler. filter is an event type or the
// wildcard.
func (r *Registry) Subscribe(filter string, handler eventbus.Handler) validation.Result[string] {
	if err := r.ready(); err != nil {
		return validation.Fail[string](err)
	}
	return validation.OK(r.bus.Subscribe(filter, handler))
}

// Unsubscribe removes an event handler. Unknown ids report failure inside
// the envelope.
func (r *Registry) Unsubscribe(subscriptionID string) validation.Result[bool] {
	if err := r.ready(); err != nil {
		return validation.Fail[bool](err)
	}
	if !r.bus.Unsubscribe(subscriptionID) {
		return validation.Fail[bool](
			validation.NewError(validation.CodeInvalidData, "unknown subscription").
				WithDetails("subscriptionId", subscriptionID))
	}
	return validation.OK(true)
}

// SubscriptionCount returns the number of live subscriptions.
func (r *Registry) SubscriptionCount() int {
	return r.bus.SubscriptionCount()
}

// Transaction runs fn against the registry. There is no rollback: completed
// steps stay applied, and the first error aborts the remainder and surfaces
// as a TransactionFailed. A panicking fn is recovered and reported the same
// way.
func (r *Registry) Transaction(_ context.Context, fn func(*Registry) error) (result validation.Result[bool]) {
	if err := r.ready(); err != nil {
		return validation.Fail[bool](err)
	}
	defer func() {
		if rec := recover(); rec != nil {
			result = validation.Fail[bool](
				validation.NewError(validation.CodeTransactionFailed, "transaction panicked").
					WithDetails("panic", fmt.Sprintf("%v", rec)))
		}
	}()
	if err := fn(r); err != nil {
		return validation.Fail[bool](
			validation.NewError(validation.CodeTransactionFailed, "transaction aborted").
				WithDetails("cause", err.Error()).
				WithCause(err))
	}
	return validation.OK(true)
}

// Health reports the first unhealthy resource, nil when all are healthy.
func (r *Registry) Health() error {
	if err := r.ready(); err != nil {
		return err
	}
	return r.lifecycle.Health()
}

// Shutdown stops the managers in reverse order and drains the event bus.
// Further operations report SystemNotInitialized.
func (r *Registry) Shutdown(ctx context.Context) error {
	if !r.initialized.CompareAndSwap(true, false) {
		return nil
	}
	err := r.lifecycle.Stop(ctx)
	r.bus.Close()
	r.log.Info("validation engine stopped")
	return err
}

// Bus exposes the event bus for embedding callers that need raw access.
func (r *Registry) Bus() *eventbus.Bus { return r.bus }

func (r *Registry) publish(validationID, eventType string, payload interface{}) {
	r.bus.Publish(validationID, eventType, payload)
	if r.metrics != nil {
		r.metrics.EventsPublished.WithLabelValues(eventType).Inc()
	}
}
