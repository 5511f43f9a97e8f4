// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package guard

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter is an in-process CounterStore. Counts are lost on restart
// and not shared between instances; use the SQL store for that.
type MemoryCounter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{hits: make(map[string][]time.Time)}
}

func (m *MemoryCounter) Hit(_ context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-window)
	kept := m.hits[key][:0]
	for _, at := range m.hits[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}

	if len(kept) >= limit {
		m.hits[key] = kept
		return false, nil
	}
	m.hits[key] = append(kept, now)
	return true, nil
}

// Prune drops keys with no hits inside window. Run it periodically so idle
// origins do not accumulate.
func (m *MemoryCounter) Prune(now time.Time, window time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-window)
	removed := 0
	for key, hits := range m.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(m.hits, key)
			removed++
		}
	}
	return removed
}
