package repository

import "github.com/lsfhub/validation-engine/internal/validation"

// AddFeedback stores an accepted entry and returns the item's feedback count
// after the insert. The feedback manager calls this under the item's key
// lock so the returned count is stable for its threshold checks.
func (s *Store) AddFeedback(entry validation.FeedbackEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.feedback[entry.ID]; exists {
		return 0, validation.NewError(validation.CodeDuplicateEntry, "feedback entry already exists").
			WithDetails("id", entry.ID)
	}
	s.feedback[entry.ID] = entry
	s.byItem[entry.ValidationID] = append(s.byItem[entry.ValidationID], entry.ID)
	return len(s.byItem[entry.ValidationID]), nil
}

// Feedback returns one entry by id.
func (s *Store) Feedback(feedbackID string) (validation.FeedbackEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.feedback[feedbackID]
	if !ok {
		return validation.FeedbackEntry{}, validation.NotFound(validation.CodeFeedbackNotFound, feedbackID)
	}
	return entry, nil
}

// UpdateFeedback replaces an existing entry.
func (s *Store) UpdateFeedback(entry validation.FeedbackEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.feedback[entry.ID]; !ok {
		return validation.NotFound(validation.CodeFeedbackNotFound, entry.ID)
	}
	s.feedback[entry.ID] = entry
	return nil
}

// FeedbackByValidation returns a snapshot of an item's entries in insertion
// order. The copy means consensus never observes a torn list.
func (s *Store) FeedbackByValidation(validationID string) []validation.FeedbackEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byItem[validationID]
	out := make([]validation.FeedbackEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.feedback[id])
	}
	return out
}

// FeedbackCount returns the number of entries for one item.
func (s *Store) FeedbackCount(validationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byItem[validationID])
}

// FeedbackByExpert returns every entry one expert has filed, across items.
func (s *Store) FeedbackByExpert(expertID string) []validation.FeedbackEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []validation.FeedbackEntry
	for _, ids := range s.byItem {
		for _, id := range ids {
			if entry := s.feedback[id]; entry.ExpertID == expertID {
				out = append(out, entry)
			}
		}
	}
	return out
}
