package natspub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esobolev/ddshipper/internal/logging"
)

// fakeConn records publishes and flushes in place of a broker connection.
type fakeConn struct {
	mu            sync.Mutex
	published     []publishedMsg
	flushTimeouts []time.Duration
	publishErr    error
	flushErr      error
	closed        bool
}

type publishedMsg struct {
	subject string
	data    []byte
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishedMsg{subject: subject, data: data})
	return nil
}

func (f *fakeConn) FlushTimeout(timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushTimeouts = append(f.flushTimeouts, timeout)
	return f.flushErr
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func testBatch() []logging.Envelope {
	return []logging.Envelope{
		{"level": "INFO", "message": "test message 1", "service": "test-service"},
		{"level": "ERROR", "message": "test message 2", "service": "test-service"},
	}
}

func TestSender_SendPublishesBatchAsJSONArray(t *testing.T) {
	fake := &fakeConn{}
	sender := &Sender{conn: fake, subject: "logs.batches"}

	require.NoError(t, sender.Send(context.Background(), testBatch()))

	require.Len(t, fake.published, 1)
	assert.Equal(t, "logs.batches", fake.published[0].subject)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(fake.published[0].data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "test message 1", decoded[0]["message"])
	assert.Equal(t, "ERROR", decoded[1]["level"])

	// One flush per batch, at the default timeout.
	require.Len(t, fake.flushTimeouts, 1)
	assert.Equal(t, flushTimeout, fake.flushTimeouts[0])
}

func TestSender_PublishErrorIsWrapped(t *testing.T) {
	fake := &fakeConn{publishErr: fmt.Errorf("connection refused")}
	sender := &Sender{conn: fake, subject: "logs.batches"}

	err := sender.Send(context.Background(), testBatch())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish to logs.batches")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, fake.flushTimeouts)
}

func TestSender_FlushErrorIsWrapped(t *testing.T) {
	fake := &fakeConn{flushErr: fmt.Errorf("timeout waiting for server")}
	sender := &Sender{conn: fake, subject: "logs.batches"}

	err := sender.Send(context.Background(), testBatch())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush connection")
}

func TestSender_DeadlineCapsFlushTimeout(t *testing.T) {
	fake := &fakeConn{}
	sender := &Sender{conn: fake, subject: "logs.batches"}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, sender.Send(ctx, testBatch()))

	require.Len(t, fake.flushTimeouts, 1)
	assert.Greater(t, fake.flushTimeouts[0], time.Duration(0))
	assert.LessOrEqual(t, fake.flushTimeouts[0], 500*time.Millisecond)
}

func TestSender_ExpiredDeadlineReturnsContextError(t *testing.T) {
	fake := &fakeConn{}
	sender := &Sender{conn: fake, subject: "logs.batches"}

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	err := sender.Send(ctx, testBatch())

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, fake.published)
	assert.Empty(t, fake.flushTimeouts)
}

func TestSender_CanceledContextReturnsContextError(t *testing.T) {
	fake := &fakeConn{}
	sender := &Sender{conn: fake, subject: "logs.batches"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sender.Send(ctx, testBatch())

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.published)
}

func TestSender_EmptyBatchIsNoop(t *testing.T) {
	fake := &fakeConn{}
	sender := &Sender{conn: fake, subject: "logs.batches"}

	require.NoError(t, sender.Send(context.Background(), nil))
	assert.Empty(t, fake.published)
	assert.Empty(t, fake.flushTimeouts)
}

func TestSender_Close(t *testing.T) {
	fake := &fakeConn{}
	sender := &Sender{conn: fake, subject: "logs.batches"}

	sender.Close()
	assert.True(t, fake.closed)
}

func TestNewSender_RequiresSubject(t *testing.T) {
	_, err := NewSender("nats://127.0.0.1:4222", "")
	assert.Error(t, err)
}
