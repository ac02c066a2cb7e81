// Package natspub publishes envelope batches to a NATS subject, for
// deployments that fan logs into a broker instead of an HTTP intake.
package natspub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/esobolev/ddshipper/internal/logging"
)

const flushTimeout = 5 * time.Second

// conn is the slice of *nats.Conn the sender depends on.
type conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// Sender publishes each batch as one JSON array message.
type Sender struct {
	conn    conn
	subject string
}

// NewSender connects to the NATS server at url. The connection retries in
// the background, so a broker outage surfaces as Send failures rather
// than a construction error.
func NewSender(url, subject string, opts ...nats.Option) (*Sender, error) {
	if subject == "" {
		return nil, errors.New("natspub: subject is required")
	}
	opts = append([]nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", url)
	}
	return &Sender{conn: nc, subject: subject}, nil
}

func (s *Sender) Send(ctx context.Context, batch []logging.Envelope) error {
	if len(batch) == 0 {
		return nil
	}

	// An expired or canceled context means the delivery window is gone;
	// publishing would only mislabel the failure.
	timeout := flushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ctx.Err()
		}
		if remaining < timeout {
			timeout = remaining
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return errors.Wrap(err, "marshal batch")
	}
	if err := s.conn.Publish(s.subject, payload); err != nil {
		return errors.Wrapf(err, "publish to %s", s.subject)
	}
	if err := s.conn.FlushTimeout(timeout); err != nil {
		return errors.Wrap(err, "flush connection")
	}
	return nil
}

// Close drains the connection.
func (s *Sender) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}
