package workflow

import (
	"context"
	"encoding/json"
	"sync"
)

// RunStore persists run state at every suspension point. Implementations are
// keyed by the opaque run identifier; Load on an unknown identifier returns
// ErrRunNotFound.
type RunStore interface {
	Save(ctx context.Context, state *RunState) error
	Load(ctx context.Context, runID string) (*RunState, error)
}

// MemoryStore is an in-process RunStore. State is stored serialized so that
// Save/Load round-trips behave exactly like a durable backend, which is what
// the restart-resume tests rely on.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string][]byte
}

// NewMemoryStore creates an empty in-memory run store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string][]byte)}
}

var _ RunStore = (*MemoryStore)(nil)

// Save implements RunStore.
func (s *MemoryStore) Save(_ context.Context, state *RunState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[state.RunID] = data
	return nil
}

// Load implements RunStore.
func (s *MemoryStore) Load(_ context.Context, runID string) (*RunState, error) {
	s.mu.RLock()
	data, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRunNotFound
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}
