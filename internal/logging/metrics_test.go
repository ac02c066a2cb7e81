package logging

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := &Metrics{QueueCapacity: 100}

	m.IncEventsEmitted()
	m.IncEventsEmitted()
	m.IncEventsDropped()
	m.IncBatchesSent()
	m.IncBatchesDropped()
	m.IncSendRetries()
	m.IncEncodeFailures()
	m.AddEnvelopesSent(5)

	stamp := m.GetMetricsStamp()
	assert.Equal(t, 2, stamp.EventsEmitted)
	assert.Equal(t, 1, stamp.EventsDropped)
	assert.Equal(t, 1, stamp.BatchesSent)
	assert.Equal(t, 1, stamp.BatchesDropped)
	assert.Equal(t, 1, stamp.SendRetries)
	assert.Equal(t, 1, stamp.EncodeFailures)
	assert.Equal(t, 5, stamp.EnvelopesSent)
	assert.Equal(t, 100, stamp.QueueCapacity)
}

func TestMetrics_QueueUsage(t *testing.T) {
	m := &Metrics{QueueCapacity: 50}
	assert.InDelta(t, 0.5, m.GetQueueUsage(25), 0.001)

	empty := &Metrics{}
	assert.Equal(t, 0.0, empty.GetQueueUsage(10))
}

func TestMetrics_ConcurrentIncrements(t *testing.T) {
	m := &Metrics{}

	var wg sync.WaitGroup
	wg.Add(10)
	for w := 0; w < 10; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				m.IncEventsEmitted()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, m.GetMetricsStamp().EventsEmitted)
}
