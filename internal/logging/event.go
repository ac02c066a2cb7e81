package logging

import (
	"fmt"
	"os"
	"runtime"
	"time"
)

// NewEvent builds a LogEvent captured now, with the current process id.
func NewEvent(level Level, logger, message string) LogEvent {
	return LogEvent{
		Time:    time.Now(),
		Level:   level,
		Logger:  logger,
		Message: message,
		PID:     os.Getpid(),
	}
}

// WithSource attaches the caller's file/line/function to the event.
// skip counts stack frames above WithSource itself, so 0 points at the
// immediate caller.
func (e LogEvent) WithSource(skip int) LogEvent {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return e
	}
	loc := &SourceLocation{File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		loc.Function = fn.Name()
	}
	e.Source = loc
	return e
}

// WithExtra returns a copy of the event with key set in its attribute bag.
func (e LogEvent) WithExtra(key string, value any) LogEvent {
	extra := make(map[string]any, len(e.Extra)+1)
	for k, v := range e.Extra {
		extra[k] = v
	}
	extra[key] = value
	e.Extra = extra
	return e
}

// WithError attaches err as the event's exception record, including a
// stack snapshot of the attach site.
func (e LogEvent) WithError(err error) LogEvent {
	if err == nil {
		return e
	}
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	e.Exception = &ExceptionInfo{
		Class:     fmt.Sprintf("%T", err),
		Message:   err.Error(),
		Traceback: string(buf[:n]),
	}
	return e
}
