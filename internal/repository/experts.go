package repository

import "github.com/lsfhub/validation-engine/internal/validation"

// CreateExpert registers a new profile.
func (s *Store) CreateExpert(profile validation.ExpertProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.experts[profile.ID]; exists {
		return validation.NewError(validation.CodeDuplicateEntry, "expert already registered").
			WithDetails("id", profile.ID)
	}
	s.experts[profile.ID] = profile
	s.expertIDs = append(s.expertIDs, profile.ID)
	return nil
}

// Expert returns one profile by id.
func (s *Store) Expert(id string) (validation.ExpertProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.experts[id]
	if !ok {
		return validation.ExpertProfile{}, validation.NotFound(validation.CodeExpertNotFound, id)
	}
	return profile, nil
}

// UpdateExpert replaces an existing profile in place.
func (s *Store) UpdateExpert(profile validation.ExpertProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experts[profile.ID]; !ok {
		return validation.NotFound(validation.CodeExpertNotFound, profile.ID)
	}
	s.experts[profile.ID] = profile
	return nil
}

// Experts returns every profile in registration order.
func (s *Store) Experts() []validation.ExpertProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]validation.ExpertProfile, 0, len(s.expertIDs))
	for _, id := range s.expertIDs {
		out = append(out, s.experts[id])
	}
	return out
}
