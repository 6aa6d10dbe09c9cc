package repository

import (
	"sort"

	"github.com/lsfhub/validation-engine/internal/validation"
)

// CreateItem stores a new validation item with its seed state change. The
// item's current state becomes the change's new state.
func (s *Store) CreateItem(item validation.ValidationItem, seed validation.StateChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; exists {
		return validation.NewError(validation.CodeDuplicateEntry, "validation item already exists").
			WithDetails("id", item.ID)
	}
	s.items[item.ID] = &itemRecord{
		item:    item,
		state:   seed.NewState,
		history: []validation.StateChange{seed},
	}
	return nil
}

// Item returns the immutable submission payload.
func (s *Store) Item(id string) (validation.ValidationItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.items[id]
	if !ok {
		return validation.ValidationItem{}, validation.NotFound(validation.CodeValidationNotFound, id)
	}
	return rec.item, nil
}

// CurrentState returns the item's current lifecycle state.
func (s *Store) CurrentState(id string) (validation.LifecycleState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.items[id]
	if !ok {
		return validation.StateUnknown, validation.NotFound(validation.CodeValidationNotFound, id)
	}
	return rec.state, nil
}

// AppendChange records an audit entry and moves the current state to the
// change's new state. Legality is the state machine's responsibility; it
// calls this under the item's key lock.
func (s *Store) AppendChange(change validation.StateChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.items[change.ValidationID]
	if !ok {
		return validation.NotFound(validation.CodeValidationNotFound, change.ValidationID)
	}
	rec.state = change.NewState
	rec.history = append(rec.history, change)
	return nil
}

// History returns a snapshot of the append-only audit trail, oldest first.
func (s *Store) History(id string) ([]validation.StateChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.items[id]
	if !ok {
		return nil, validation.NotFound(validation.CodeValidationNotFound, id)
	}
	history := make([]validation.StateChange, len(rec.history))
	copy(history, rec.history)
	return history, nil
}

// SearchItems returns items matching the criteria, newest submission first.
func (s *Store) SearchItems(criteria validation.SearchCriteria) []validation.ValidationItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []validation.ValidationItem
	for _, rec := range s.items {
		if !matchesCriteria(rec, criteria) {
			continue
		}
		out = append(out, rec.item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

// ItemsInState returns items currently in the given state, oldest first.
func (s *Store) ItemsInState(state validation.LifecycleState) []validation.ValidationItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []validation.ValidationItem
	for _, rec := range s.items {
		if rec.state == state {
			out = append(out, rec.item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

func matchesCriteria(rec *itemRecord, criteria validation.SearchCriteria) bool {
	if len(criteria.States) > 0 {
		found := false
		for _, state := range criteria.States {
			if rec.state == state {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if criteria.ContentKind != "" && rec.item.ContentKind != criteria.ContentKind {
		return false
	}
	if criteria.RequesterID != "" && rec.item.RequesterID != criteria.RequesterID {
		return false
	}
	if !criteria.SubmittedAfter.IsZero() && rec.item.SubmittedAt.Before(criteria.SubmittedAfter) {
		return false
	}
	if !criteria.SubmittedBefore.IsZero() && rec.item.SubmittedAt.After(criteria.SubmittedBefore) {
		return false
	}
	return true
}
