// Package handler exposes the producer-facing logging handler: a
// non-blocking Emit backed by the bounded queue and the background
// dispatch worker.
package handler

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/esobolev/ddshipper/internal/logging"
	"github.com/esobolev/ddshipper/internal/logging/dispatch"
	"github.com/esobolev/ddshipper/internal/logging/encode"
	"github.com/esobolev/ddshipper/internal/logging/queue"
	"github.com/esobolev/ddshipper/internal/logging/retry"
)

// Handler is the lifecycle controller for one shipping pipeline. All
// public methods are safe to call from arbitrary concurrent producers.
type Handler struct {
	cfg        logging.Config
	queue      *queue.Queue
	dispatcher *dispatch.Dispatcher
	metrics    *logging.Metrics
	instanceID string

	closed    atomic.Bool
	closeOnce sync.Once
}

// New validates the configuration, wires queue, encoder, retry policy and
// dispatcher, and starts the background worker. A bad configuration is a
// construction failure, never a silently broken handler.
func New(cfg logging.Config, sender logging.Sender) (*Handler, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, errors.New("handler: sender is required")
	}

	metrics := &logging.Metrics{QueueCapacity: cfg.QueueSize}
	q := queue.New(cfg.QueueSize)
	policy := retry.New(sender, cfg, metrics)
	dispatcher := dispatch.New(cfg, q, encode.New(cfg), policy, metrics)

	h := &Handler{
		cfg:        cfg,
		queue:      q,
		dispatcher: dispatcher,
		metrics:    metrics,
		instanceID: uuid.NewString(),
	}
	h.dispatcher.Start()

	log.Printf("Handler started: service=%s batch_size=%d flush_interval=%s queue_size=%d",
		cfg.Service, cfg.BatchSize, cfg.FlushInterval, cfg.QueueSize)

	return h, nil
}

// Emit enqueues one event for shipping. It never blocks and never panics
// into the caller: on a full queue or a closed handler the event is
// dropped and counted.
func (h *Handler) Emit(ev logging.LogEvent) {
	defer func() {
		if r := recover(); r != nil {
			h.metrics.IncEventsDropped()
			h.cfg.ReportError(errors.Errorf("emit panic: %v", r))
		}
	}()

	if h.closed.Load() {
		h.metrics.IncEventsDropped()
		return
	}

	if !h.queue.Push(ev) {
		h.metrics.IncEventsDropped()
		h.cfg.ReportError(errors.Errorf(
			"queue full (%d/%d), dropping event from logger %q",
			h.queue.Size(), h.queue.Cap(), ev.Logger))
		return
	}

	h.metrics.IncEventsEmitted()
	if h.queue.Size() >= h.cfg.BatchSize {
		h.dispatcher.Kick()
	}
}

// Flush synchronously drains and delivers whatever is queued right now.
func (h *Handler) Flush() {
	h.dispatcher.Flush()
}

// Close stops accepting events, runs a bounded final flush and joins the
// worker. Safe to call more than once; later calls return nil without
// draining again.
func (h *Handler) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.dispatcher.Stop()

		stamp := h.metrics.GetMetricsStamp()
		log.Printf("Handler closed: service=%s sent=%d batches (%d envelopes), dropped=%d events, %d batches",
			h.cfg.Service, stamp.BatchesSent, stamp.EnvelopesSent, stamp.EventsDropped, stamp.BatchesDropped)
	})
	return nil
}

// QueueSize is the instantaneous queue depth, for monitoring.
func (h *Handler) QueueSize() int {
	return h.queue.Size()
}

// HealthCheck reports whether the handler accepts events and its worker
// is alive. It is a cheap liveness probe, not a network round-trip.
func (h *Handler) HealthCheck() bool {
	return !h.closed.Load() && h.dispatcher.Running()
}

// InstanceID uniquely identifies this handler instance.
func (h *Handler) InstanceID() string {
	return h.instanceID
}

// Metrics returns a consistent snapshot of the pipeline counters.
func (h *Handler) Metrics() logging.Metrics {
	return h.metrics.GetMetricsStamp()
}
