package validationengine

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lsfhub/validation-engine/internal/repository"
	"github.com/lsfhub/validation-engine/internal/validation"
)

// Sweeper expires validation items that sit in Pending past their TTL.
type Sweeper struct {
	store    *repository.Store
	states   *StateMachine
	ttl      time.Duration
	schedule string
	log      *zap.Logger
	cron     *cron.Cron
}

// NewSweeper creates the expiry sweeper. schedule is a cron expression or a
// descriptor such as "@every 1h".
func NewSweeper(store *repository.Store, states *StateMachine, ttl time.Duration, schedule string, log *zap.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		states:   states,
		ttl:      ttl,
		schedule: schedule,
		log:      log.With(zap.String("manager", "sweeper")),
	}
}

// Start schedules the sweep job.
func (sw *Sweeper) Start(_ context.Context) error {
	sw.cron = cron.New()
	if _, err := sw.cron.AddFunc(sw.schedule, sw.Sweep); err != nil {
		return validation.NewError(validation.CodeOperationFailed, "invalid sweep schedule").
			WithDetails("schedule", sw.schedule).
			WithCause(err)
	}
	sw.cron.Start()
	sw.log.Info("expiry sweeper started",
		zap.String("schedule", sw.schedule),
		zap.Duration("ttl", sw.ttl))
	return nil
}

// Stop halts the scheduler and waits for an in-flight sweep to finish.
func (sw *Sweeper) Stop(ctx context.Context) error {
	if sw.cron == nil {
		return nil
	}
	done := sw.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Sweep expires every Pending item whose last transition is older than the
// TTL. Individual failures are logged and do not stop the pass.
func (sw *Sweeper) Sweep() {
	cutoff := time.Now().UTC().Add(-sw.ttl)
	expired := 0
	for _, item := range sw.store.ItemsInState(validation.StatePending) {
		history, err := sw.store.History(item.ID)
		if err != nil || len(history) == 0 {
			continue
		}
		if history[len(history)-1].ChangedAt.After(cutoff) {
			continue
		}
		if _, err := sw.states.Advance(context.Background(), item.ID, validation.StateExpired, "validation expired", "system"); err != nil {
			sw.log.Warn("expiry transition failed",
				zap.String("validation_id", item.ID), zap.Error(err))
			continue
		}
		expired++
	}
	if expired > 0 {
		sw.log.Info("expired stale validations", zap.Int("count", expired))
	}
}
