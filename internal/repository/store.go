// Package repository provides the in-memory keyed store backing the
// validation engine. A durable store is a drop-in replacement as long as it
// preserves the same read/write and ordering contracts.
package repository

import (
	"hash/fnv"
	"sync"

	"github.com/lsfhub/validation-engine/internal/validation"
)

const keyShards = 64

// Store holds every mutable table of the engine. Map access is guarded by
// mu; compound check-then-act sequences on one validation item serialize
// through the sharded key mutex so cross-item operations stay contention
// free.
type Store struct {
	mu sync.RWMutex

	items     map[string]*itemRecord
	feedback  map[string]validation.FeedbackEntry
	byItem    map[string][]string // validationID -> feedback ids, insertion order
	experts   map[string]validation.ExpertProfile
	expertIDs []string // registration order
	consensus map[string]validation.ConsensusResult

	keyLocks [keyShards]sync.Mutex
}

type itemRecord struct {
	item    validation.ValidationItem
	state   validation.LifecycleState
	history []validation.StateChange
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		items:     make(map[string]*itemRecord),
		feedback:  make(map[string]validation.FeedbackEntry),
		byItem:    make(map[string][]string),
		experts:   make(map[string]validation.ExpertProfile),
		consensus: make(map[string]validation.ConsensusResult),
	}
}

// LockKey serializes compound operations for one validation id. It returns
// the unlock func; callers must not hold two key locks at once.
func (s *Store) LockKey(validationID string) func() {
	h := fnv.New32a()
	h.Write([]byte(validationID))
	lock := &s.keyLocks[h.Sum32()%keyShards]
	lock.Lock()
	return lock.Unlock
}
