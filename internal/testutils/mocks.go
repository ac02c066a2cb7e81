package testutils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/esobolev/ddshipper/internal/logging"
)

// MockSender records every delivered batch. FailFirst makes the first N
// Send calls fail, which exercises the retry path; Fail makes every call
// fail.
type MockSender struct {
	mu          sync.Mutex
	SentBatches [][]logging.Envelope
	Fail        bool
	FailFirst   int
	Delay       time.Duration
	calls       int
}

func (m *MockSender) Send(ctx context.Context, batch []logging.Envelope) error {
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.Fail || m.calls <= m.FailFirst {
		return fmt.Errorf("mock send failed")
	}

	copied := make([]logging.Envelope, len(batch))
	copy(copied, batch)
	m.SentBatches = append(m.SentBatches, copied)
	return nil
}

func (m *MockSender) GetSentBatches() [][]logging.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SentBatches
}

func (m *MockSender) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockSender) TotalEnvelopes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, batch := range m.SentBatches {
		total += len(batch)
	}
	return total
}

// MockEmitter collects events handed to Emit, standing in for the handler
// in tailer tests.
type MockEmitter struct {
	mu     sync.Mutex
	Events []logging.LogEvent
}

func (m *MockEmitter) Emit(ev logging.LogEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, ev)
}

func (m *MockEmitter) GetEvents() []logging.LogEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]logging.LogEvent(nil), m.Events...)
}

// CreateTempLogStructure lays out a small service log tree for tailer
// tests and returns its root.
func CreateTempLogStructure(t *testing.T) string {
	tempDir := t.TempDir()

	structure := map[string]string{
		"api/access.log":      "GET /healthz 200\nGET /orders 200\n",
		"api/app.log":         `{"level":"error","message":"db timeout","attempt":3}` + "\n",
		"worker/worker.log":   "job started\njob finished\n",
		"worker/metrics.json": "not a log file\n",
	}

	for path, content := range structure {
		fullPath := filepath.Join(tempDir, path)
		dir := filepath.Dir(fullPath)

		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write file %s: %v", fullPath, err)
		}
	}

	return tempDir
}
