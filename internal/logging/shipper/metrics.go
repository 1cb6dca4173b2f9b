package shipper

import (
	"sync"
)

type ShipperMetrics struct {
	EventsEnqueued  int
	EventsDropped   int
	EventsShipped   int
	BatchesShipped  int
	BatchesFailed   int
	BatchesArchived int
	StreamOpens     int
	mu              sync.RWMutex
}

func (m *ShipperMetrics) IncEventsEnqueued() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EventsEnqueued++
}

func (m *ShipperMetrics) IncEventsDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EventsDropped++
}

func (m *ShipperMetrics) AddEventsShipped(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EventsShipped += n
}

func (m *ShipperMetrics) IncBatchesShipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchesShipped++
}

func (m *ShipperMetrics) IncBatchesFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchesFailed++
}

func (m *ShipperMetrics) IncBatchesArchived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchesArchived++
}

func (m *ShipperMetrics) IncStreamOpens() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StreamOpens++
}

func (m *ShipperMetrics) GetMetricsStamp() ShipperMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ShipperMetrics{
		EventsEnqueued:  m.EventsEnqueued,
		EventsDropped:   m.EventsDropped,
		EventsShipped:   m.EventsShipped,
		BatchesShipped:  m.BatchesShipped,
		BatchesFailed:   m.BatchesFailed,
		BatchesArchived: m.BatchesArchived,
		StreamOpens:     m.StreamOpens,
	}
}

func (m *ShipperMetrics) GetDropRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	produced := m.EventsEnqueued + m.EventsDropped
	if produced == 0 {
		return 0
	}
	return float64(m.EventsDropped) / float64(produced)
}
