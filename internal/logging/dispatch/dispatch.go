// Package dispatch runs the single background worker that drains the
// queue into batches and paces delivery.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/esobolev/ddshipper/internal/logging"
	"github.com/esobolev/ddshipper/internal/logging/encode"
	"github.com/esobolev/ddshipper/internal/logging/queue"
	"github.com/esobolev/ddshipper/internal/logging/retry"
)

// Dispatcher owns the dispatch loop. Batches are assembled and delivered
// strictly one at a time; the loop blocks on the current batch's outcome
// before draining again.
type Dispatcher struct {
	cfg     logging.Config
	queue   *queue.Queue
	encoder *encode.Encoder
	policy  *retry.Policy
	metrics *logging.Metrics

	kick    chan struct{}
	flushes chan chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	mu      sync.Mutex
	running bool
}

func New(cfg logging.Config, q *queue.Queue, enc *encode.Encoder, policy *retry.Policy, metrics *logging.Metrics) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:     cfg,
		queue:   q,
		encoder: enc,
		policy:  policy,
		metrics: metrics,
		kick:    make(chan struct{}, 1),
		flushes: make(chan chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start spawns the worker goroutine. Idempotent.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.mu.Lock()
		d.running = true
		d.mu.Unlock()

		d.wg.Add(1)
		go d.run()
	})
}

// Stop signals the worker, waits for its final drain-and-send pass and
// joins it. Idempotent: a second call returns once the first finished.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(d.cancel)
	d.wg.Wait()
}

// Kick wakes the worker because the queue has reached a full batch. The
// signal is coalesced; a worker already awake sees the backlog itself.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Flush forces an out-of-cycle drain-and-send and returns once that
// attempt completes. After Stop it returns immediately.
func (d *Dispatcher) Flush() {
	done := make(chan struct{})
	select {
	case d.flushes <- done:
		<-done
	case <-d.ctx.Done():
	}
}

// Running reports whether the worker goroutine is alive.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	timer := time.NewTimer(d.cfg.FlushInterval)
	defer timer.Stop()

	for {
		select {
		case <-d.kick:
			if d.queue.Size() < d.cfg.BatchSize {
				// Stale signal: the backlog was already dispatched.
				continue
			}
			d.dispatch(d.ctx)
		case <-timer.C:
			d.dispatch(d.ctx)
		case done := <-d.flushes:
			d.dispatch(d.ctx)
			close(done)
		case <-d.ctx.Done():
			d.finalDrain()
			return
		}

		// The timer restarts only after an actual dispatch pass.
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d.cfg.FlushInterval)
	}
}

// dispatch drains and delivers. A size-triggered backlog keeps the worker
// sending full batches; a partial batch is sent once and the remainder of
// the interval resumes.
func (d *Dispatcher) dispatch(ctx context.Context) {
	for {
		events := d.queue.Drain(d.cfg.BatchSize)
		if len(events) == 0 {
			return
		}
		batch := d.encodeBatch(events)
		if len(batch) > 0 {
			// Outcome (and drop accounting) is handled by the policy.
			_ = d.policy.Deliver(ctx, batch)
		}
		if d.queue.Size() < d.cfg.BatchSize {
			return
		}
	}
}

// finalDrain delivers whatever remains, bounded by the shutdown timeout.
// It runs on a fresh context so delivery is not aborted by the stop
// signal itself.
func (d *Dispatcher) finalDrain() {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout)
	defer cancel()

	for d.queue.Size() > 0 {
		if ctx.Err() != nil {
			d.cfg.ReportError(errors.Errorf(
				"shutdown timeout elapsed with %d events still queued", d.queue.Size()))
			return
		}
		events := d.queue.Drain(d.cfg.BatchSize)
		if len(events) == 0 {
			return
		}
		batch := d.encodeBatch(events)
		if len(batch) > 0 {
			_ = d.policy.Deliver(ctx, batch)
		}
	}
}

// encodeBatch encodes each drained event in isolation: one broken event
// is skipped and reported without affecting its batch-mates.
func (d *Dispatcher) encodeBatch(events []logging.LogEvent) []logging.Envelope {
	batch := make([]logging.Envelope, 0, len(events))
	for i := range events {
		env, err := d.safeEncode(&events[i])
		if err != nil {
			if d.metrics != nil {
				d.metrics.IncEncodeFailures()
			}
			d.cfg.ReportError(err)
			continue
		}
		batch = append(batch, env)
	}
	return batch
}

func (d *Dispatcher) safeEncode(ev *logging.LogEvent) (env logging.Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			env = nil
			err = errors.Errorf("encode panic for logger %q: %v", ev.Logger, r)
		}
	}()
	return d.encoder.Encode(ev), nil
}
