// Package retry wraps batch delivery with a bounded backoff schedule.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/esobolev/ddshipper/internal/logging"
)

// Policy delivers batches through a Sender with at most 1 + MaxRetries
// attempts. Attempts stop at the first success; waits between attempts
// grow exponentially and are cut short by context cancellation.
type Policy struct {
	sender     logging.Sender
	maxRetries int
	retryDelay time.Duration
	metrics    *logging.Metrics
	report     func(error)
}

func New(sender logging.Sender, cfg logging.Config, metrics *logging.Metrics) *Policy {
	return &Policy{
		sender:     sender,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		metrics:    metrics,
		report:     cfg.ReportError,
	}
}

// Deliver attempts to send the batch. A non-nil return means the retry
// budget was exhausted and the batch has been dropped; the failure has
// already been counted and reported through the error hook.
func (p *Policy) Deliver(ctx context.Context, batch []logging.Envelope) error {
	if len(batch) == 0 {
		return nil
	}

	attempts := 0
	operation := func() error {
		attempts++
		if attempts > 1 && p.metrics != nil {
			p.metrics.IncSendRetries()
		}
		if err := p.sender.Send(ctx, batch); err != nil {
			return errors.Wrapf(err, "send batch of %d", len(batch))
		}
		return nil
	}

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = p.retryDelay
	schedule.MaxElapsedTime = 0 // attempts are capped, not the wall clock

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(schedule, uint64(p.maxRetries)), ctx))
	if err != nil {
		if p.metrics != nil {
			p.metrics.IncBatchesDropped()
		}
		dropErr := errors.Wrapf(err, "dropping batch of %d after %d attempts", len(batch), attempts)
		p.report(dropErr)
		return dropErr
	}

	if p.metrics != nil {
		p.metrics.IncBatchesSent()
		p.metrics.AddEnvelopesSent(len(batch))
	}
	return nil
}
