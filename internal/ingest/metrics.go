package ingest

import (
	"sync"
	"time"

	"github.com/jwtor7/agenthud/internal/event"
)

// metrics counts accepted events, surfaced via GET /health.
type metrics struct {
	mu        sync.Mutex
	total     uint64
	byType    map[event.Type]uint64
	startedAt time.Time
}

func newMetrics() *metrics {
	return &metrics{
		byType:    make(map[event.Type]uint64),
		startedAt: time.Now(),
	}
}

func (m *metrics) record(t event.Type) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.byType[t]++
}

func (m *metrics) snapshot() (uint64, map[event.Type]uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byType := make(map[event.Type]uint64, len(m.byType))
	for k, v := range m.byType {
		byType[k] = v
	}
	return m.total, byType
}
