package learning

import (
	"context"
	"sync"
	"time"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

type correctionKey struct {
	nodeID string
	role   string
}

// MemoryStore is the in-process learning backend. Safe for concurrent use by
// multiple mission runners.
type MemoryStore struct {
	mu      sync.RWMutex
	current map[correctionKey]schemas.SelectorCorrection
	history map[correctionKey][]schemas.SelectorCorrection
}

var _ schemas.LearningStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		current: make(map[correctionKey]schemas.SelectorCorrection),
		history: make(map[correctionKey][]schemas.SelectorCorrection),
	}
}

// Get returns the authoritative correction for the key, or nil when none has
// been learned.
func (m *MemoryStore) Get(_ context.Context, nodeID, componentRole string) (*schemas.SelectorCorrection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.current[correctionKey{nodeID, componentRole}]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// Put replaces the current correction for its key and appends to its history.
func (m *MemoryStore) Put(_ context.Context, correction schemas.SelectorCorrection) error {
	if err := validateCorrection(correction); err != nil {
		return err
	}
	if correction.AcceptedAt.IsZero() {
		correction.AcceptedAt = time.Now()
	}
	correction.AcceptedAt = correction.AcceptedAt.UTC()

	key := correctionKey{correction.NodeID, correction.ComponentRole}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current[key] = correction
	m.history[key] = append(m.history[key], correction)
	return nil
}

// History returns every correction recorded for the key, oldest first.
func (m *MemoryStore) History(_ context.Context, nodeID, componentRole string) ([]schemas.SelectorCorrection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recorded := m.history[correctionKey{nodeID, componentRole}]
	if len(recorded) == 0 {
		return nil, nil
	}
	out := make([]schemas.SelectorCorrection, len(recorded))
	copy(out, recorded)
	return out, nil
}
