package catalog

import (
	"context"
	"sync"
)

// Memory is an in-memory Source, used in tests and in deployments without
// a poll database (labels then fall back to option IDs).
type Memory struct {
	mu     sync.RWMutex
	topics map[string][]Option
}

func NewMemory() *Memory {
	return &Memory{topics: make(map[string][]Option)}
}

// SetOptions replaces the option set for a topic.
func (m *Memory) SetOptions(topicID string, options []Option) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics[topicID] = append([]Option(nil), options...)
}

func (m *Memory) OptionLabel(_ context.Context, topicID, optionID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, opt := range m.topics[topicID] {
		if opt.ID == optionID {
			return opt.Label, nil
		}
	}
	return "", ErrNotFound
}

func (m *Memory) TopicOptions(_ context.Context, topicID string) ([]Option, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	options, ok := m.topics[topicID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]Option(nil), options...), nil
}
