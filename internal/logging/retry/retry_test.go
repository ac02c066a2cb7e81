package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/esobolev/ddshipper/internal/logging"
	"github.com/esobolev/ddshipper/internal/testutils"
)

func testConfig(maxRetries int) logging.Config {
	return logging.Config{
		Service:    "test-service",
		MaxRetries: maxRetries,
		RetryDelay: 1 * time.Millisecond,
		OnError:    func(error) {},
	}
}

func batchOf(n int) []logging.Envelope {
	batch := make([]logging.Envelope, n)
	for i := range batch {
		batch[i] = logging.Envelope{"message": "test"}
	}
	return batch
}

func TestPolicy_DeliverSuccess(t *testing.T) {
	sender := &testutils.MockSender{}
	metrics := &logging.Metrics{}
	policy := New(sender, testConfig(3), metrics)

	err := policy.Deliver(context.Background(), batchOf(2))

	assert.NoError(t, err)
	assert.Equal(t, 1, sender.Calls())

	stamp := metrics.GetMetricsStamp()
	assert.Equal(t, 1, stamp.BatchesSent)
	assert.Equal(t, 2, stamp.EnvelopesSent)
	assert.Equal(t, 0, stamp.BatchesDropped)
}

func TestPolicy_ExhaustsRetryBudgetThenDrops(t *testing.T) {
	sender := &testutils.MockSender{Fail: true}
	metrics := &logging.Metrics{}

	var reported error
	cfg := testConfig(2)
	cfg.OnError = func(err error) { reported = err }
	policy := New(sender, cfg, metrics)

	err := policy.Deliver(context.Background(), batchOf(1))

	assert.Error(t, err)
	// 1 initial attempt + MaxRetries retries, never more.
	assert.Equal(t, 3, sender.Calls())
	assert.Error(t, reported)

	stamp := metrics.GetMetricsStamp()
	assert.Equal(t, 1, stamp.BatchesDropped)
	assert.Equal(t, 2, stamp.SendRetries)
	assert.Equal(t, 0, stamp.BatchesSent)
}

func TestPolicy_StopsRetryingOnFirstSuccess(t *testing.T) {
	sender := &testutils.MockSender{FailFirst: 1}
	metrics := &logging.Metrics{}
	policy := New(sender, testConfig(5), metrics)

	err := policy.Deliver(context.Background(), batchOf(1))

	assert.NoError(t, err)
	assert.Equal(t, 2, sender.Calls())
	assert.Equal(t, 1, metrics.GetMetricsStamp().BatchesSent)
}

func TestPolicy_ZeroRetriesMeansSingleAttempt(t *testing.T) {
	sender := &testutils.MockSender{Fail: true}
	policy := New(sender, testConfig(0), &logging.Metrics{})

	err := policy.Deliver(context.Background(), batchOf(1))

	assert.Error(t, err)
	assert.Equal(t, 1, sender.Calls())
}

func TestPolicy_CanceledContextShortensRetries(t *testing.T) {
	sender := &testutils.MockSender{Fail: true}
	cfg := testConfig(10)
	cfg.RetryDelay = 1 * time.Second
	policy := New(sender, cfg, &logging.Metrics{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := policy.Deliver(ctx, batchOf(1))

	assert.Error(t, err)
	// The first attempt runs, then the canceled context cuts the wait.
	assert.Equal(t, 1, sender.Calls())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPolicy_EmptyBatchIsNoop(t *testing.T) {
	sender := &testutils.MockSender{}
	policy := New(sender, testConfig(3), &logging.Metrics{})

	assert.NoError(t, policy.Deliver(context.Background(), nil))
	assert.Equal(t, 0, sender.Calls())
}
