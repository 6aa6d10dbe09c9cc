package repository

import "github.com/lsfhub/validation-engine/internal/validation"

// SaveConsensus stores the derived result for an item, overwriting any
// previous one. No history of past results is kept.
func (s *Store) SaveConsensus(result validation.ConsensusResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consensus[result.ValidationID] = result
}

// Consensus returns the latest result for an item, if one was computed.
func (s *Store) Consensus(validationID string) (validation.ConsensusResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.consensus[validationID]
	return result, ok
}
