package logging

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Level is an ordered log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel maps a case-insensitive level name to a Level.
// Unknown names map to LevelInfo.
func ParseLevel(name string) Level {
	switch name {
	case "DEBUG", "debug", "TRACE", "trace":
		return LevelDebug
	case "INFO", "info":
		return LevelInfo
	case "WARN", "warn", "WARNING", "warning":
		return LevelWarn
	case "ERROR", "error", "ERR", "err":
		return LevelError
	case "FATAL", "fatal", "CRITICAL", "critical":
		return LevelFatal
	}
	return LevelInfo
}

// SourceLocation records where a log event originated.
type SourceLocation struct {
	File     string
	Line     int
	Function string
}

// ExceptionInfo carries an error captured alongside a log event.
type ExceptionInfo struct {
	Class     string
	Message   string
	Traceback string
}

// CorrelationPrefix is the namespace under which correlation identifiers
// (trace/span ids) surface as top-level envelope keys.
const CorrelationPrefix = "dd."

// LogEvent is a single structured log record as captured at the call site.
// It is immutable once handed to Emit.
type LogEvent struct {
	Time    time.Time
	Level   Level
	Logger  string
	Message string
	PID     int

	// Source is nil when the origin of the event is unknown; the encoder
	// then omits the source block entirely.
	Source *SourceLocation

	// Correlation is the nested correlation object. Its values win over
	// flattened CorrelationPrefix keys found in Extra.
	Correlation map[string]any

	// Extra is the caller-supplied attribute bag. Keys with the
	// CorrelationPrefix are treated as flattened correlation ids.
	Extra map[string]any

	Exception  *ExceptionInfo
	StackTrace string
}

// Envelope is the canonical flat attribute map produced per log event,
// ready for transmission.
type Envelope map[string]any

// Sender transmits one batch of envelopes to the remote logging service.
// A nil error means the whole batch was accepted.
type Sender interface {
	Send(ctx context.Context, batch []Envelope) error
}

// ErrorHook receives internal pipeline failures (encode problems, dropped
// batches). It is never invoked on a producer's call path.
type ErrorHook func(err error)

// Config is the handler configuration. It is constructed once at startup
// and passed by value; the pipeline itself never reads the environment.
type Config struct {
	// Identity metadata stamped onto every envelope.
	Service     string
	Source      string
	Version     string
	Environment string
	Tags        string

	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	QueueSize     int

	// ShutdownTimeout bounds the final drain-and-send pass on Close.
	ShutdownTimeout time.Duration

	// OnError, when set, replaces the default log.Printf error reporter.
	OnError ErrorHook
}

const (
	DefaultBatchSize       = 100
	DefaultFlushInterval   = 5 * time.Second
	DefaultMaxRetries      = 3
	DefaultRetryDelay      = 500 * time.Millisecond
	DefaultQueueSize       = 10000
	DefaultShutdownTimeout = 10 * time.Second
	DefaultVersion         = "unknown"
	DefaultEnvironment     = "development"
)

// WithDefaults fills zero-valued tunables. Identity fields are left alone
// except version/environment, which get the documented fallbacks.
func (c Config) WithDefaults() Config {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	// MaxRetries is left alone: zero is a valid "no retries" setting.
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.Environment == "" {
		c.Environment = DefaultEnvironment
	}
	return c
}

// Validate reports the first configuration problem. A handler must refuse
// to start on a bad config rather than run in a broken state.
func (c Config) Validate() error {
	if c.Service == "" {
		return fmt.Errorf("logging: service name is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("logging: batch size must be positive, got %d", c.BatchSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("logging: flush interval must be positive, got %s", c.FlushInterval)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("logging: max retries must be non-negative, got %d", c.MaxRetries)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("logging: queue size must be positive, got %d", c.QueueSize)
	}
	return nil
}

// ReportError routes err through the configured hook, falling back to the
// process logger. Hook panics are swallowed: error reporting must never
// take down the pipeline.
func (c Config) ReportError(err error) {
	if err == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	if c.OnError != nil {
		c.OnError(err)
		return
	}
	log.Printf("ddshipper: %v", err)
}
