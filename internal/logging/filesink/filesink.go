// Package filesink appends envelope batches to a local NDJSON file. It is
// the delivery target for development runs and air-gapped hosts; the file
// lock keeps concurrent shipper processes from interleaving lines.
package filesink

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/esobolev/ddshipper/internal/logging"
)

const bufferSize = 32 * 1024

// Sender writes one envelope per line.
type Sender struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	lock   *flock.Flock
	path   string
}

func NewSender(path string) (*Sender, error) {
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "create sink directory")
	}

	file, err := os.OpenFile(cleanPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open sink file")
	}

	return &Sender{
		file:   file,
		writer: bufio.NewWriterSize(file, bufferSize),
		lock:   flock.New(cleanPath),
		path:   cleanPath,
	}, nil
}

func (s *Sender) Send(ctx context.Context, batch []logging.Envelope) error {
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return errors.Wrap(err, "acquire file lock")
	}
	defer func() {
		_ = s.lock.Unlock()
	}()

	for _, env := range batch {
		line, err := json.Marshal(env)
		if err != nil {
			return errors.Wrap(err, "marshal envelope")
		}
		if _, err := s.writer.Write(line); err != nil {
			return errors.Wrapf(err, "write to %s", s.path)
		}
		if err := s.writer.WriteByte('\n'); err != nil {
			return errors.Wrapf(err, "write to %s", s.path)
		}
	}
	if err := s.writer.Flush(); err != nil {
		return errors.Wrapf(err, "flush %s", s.path)
	}
	return nil
}

// Close flushes buffered lines and releases the file.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flushErr := s.writer.Flush()
	closeErr := s.file.Close()
	if flushErr != nil {
		return errors.Wrapf(flushErr, "flush %s", s.path)
	}
	return errors.Wrapf(closeErr, "close %s", s.path)
}

// Path returns the sink file location.
func (s *Sender) Path() string {
	return s.path
}
