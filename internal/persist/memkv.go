package persist

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryKV is an in-process KV for tests. It honors the same
// atomic-update contract as Store, JSON round-trip included.
type MemoryKV struct {
	mu     sync.Mutex
	values map[string][]byte

	// FailUpdates makes the next N Update calls fail with a transient
	// StoreError, for exercising retry and dirty-retention paths.
	FailUpdates int
	// Updates counts committed Update calls.
	Updates int
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string][]byte)}
}

func (m *MemoryKV) Load(_ context.Context, key string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, &StoreError{Kind: KindPermanent, Key: key, Err: err}
	}
	return value, nil
}

func (m *MemoryKV) Update(_ context.Context, key string, mutate Mutator) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUpdates > 0 {
		m.FailUpdates--
		return nil, &StoreError{Kind: KindTransient, Key: key, Err: context.DeadlineExceeded}
	}

	var old map[string]any
	if raw, ok := m.values[key]; ok {
		if err := json.Unmarshal(raw, &old); err != nil {
			return nil, &StoreError{Kind: KindPermanent, Key: key, Err: err}
		}
	}
	next, err := mutate(old)
	if err != nil {
		return nil, &StoreError{Kind: KindPermanent, Key: key, Err: err}
	}
	encoded, err := json.Marshal(next)
	if err != nil {
		return nil, &StoreError{Kind: KindPermanent, Key: key, Err: err}
	}
	m.values[key] = encoded
	m.Updates++
	return next, nil
}
