package logging

import (
	"sync"
)

// Metrics tracks pipeline counters. All methods are safe for concurrent
// use; read a consistent view with GetMetricsStamp.
type Metrics struct {
	EventsEmitted  int
	EventsDropped  int
	EncodeFailures int
	BatchesSent    int
	BatchesDropped int
	SendRetries    int
	EnvelopesSent  int
	QueueCapacity  int
	mu             sync.RWMutex
}

func (m *Metrics) IncEventsEmitted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EventsEmitted++
}

func (m *Metrics) IncEventsDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EventsDropped++
}

func (m *Metrics) IncEncodeFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EncodeFailures++
}

func (m *Metrics) IncBatchesSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchesSent++
}

func (m *Metrics) IncBatchesDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchesDropped++
}

func (m *Metrics) IncSendRetries() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SendRetries++
}

func (m *Metrics) AddEnvelopesSent(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EnvelopesSent += n
}

func (m *Metrics) GetMetricsStamp() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		EventsEmitted:  m.EventsEmitted,
		EventsDropped:  m.EventsDropped,
		EncodeFailures: m.EncodeFailures,
		BatchesSent:    m.BatchesSent,
		BatchesDropped: m.BatchesDropped,
		SendRetries:    m.SendRetries,
		EnvelopesSent:  m.EnvelopesSent,
		QueueCapacity:  m.QueueCapacity,
	}
}

// GetQueueUsage returns depth as a fraction of capacity.
func (m *Metrics) GetQueueUsage(depth int) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.QueueCapacity == 0 {
		return 0
	}
	return float64(depth) / float64(m.QueueCapacity)
}
