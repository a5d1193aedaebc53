package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps a sliding log of granted hit times per key and window
// in process memory.
type MemoryBackend struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{hits: map[string][]time.Time{}, now: time.Now}
}

func (m *MemoryBackend) Take(_ context.Context, key string, windows []Window) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	allowed := true
	for _, w := range windows {
		k := key + ":" + w.Name
		hits := m.prune(k, now.Add(-w.Period))
		if len(hits) >= w.Limit {
			allowed = false
		}
	}
	if !allowed {
		return false, nil
	}
	for _, w := range windows {
		k := key + ":" + w.Name
		m.hits[k] = append(m.hits[k], now)
	}
	return true, nil
}

// prune drops hits at or before cutoff and returns the rest.
func (m *MemoryBackend) prune(k string, cutoff time.Time) []time.Time {
	hits := m.hits[k]
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	hits = hits[i:]
	if len(hits) == 0 {
		delete(m.hits, k)
		return nil
	}
	m.hits[k] = hits
	return hits
}
