// Package encode turns captured log events into canonical wire envelopes.
package encode

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/esobolev/ddshipper/internal/logging"
)

// timestampLayout renders UTC instants with an explicit +00:00 offset and
// fractional seconds only when non-zero, matching the backend schema
// (epoch 1609459200.0 -> "2021-01-01T00:00:00+00:00").
const timestampLayout = "2006-01-02T15:04:05.999999-07:00"

// unknownFunction is the sentinel for events whose source location carries
// no function name.
const unknownFunction = "unknown"

// reservedKeys are envelope field names a caller-supplied attribute may
// never shadow; they are silently excluded from extra.
var reservedKeys = map[string]struct{}{
	"timestamp":   {},
	"level":       {},
	"logger":      {},
	"message":     {},
	"service":     {},
	"version":     {},
	"env":         {},
	"process_id":  {},
	"source":      {},
	"exception":   {},
	"stack_trace": {},
	"extra":       {},
}

// Encoder stamps identity metadata onto every envelope it produces.
type Encoder struct {
	service string
	version string
	env     string
}

func New(cfg logging.Config) *Encoder {
	return &Encoder{
		service: cfg.Service,
		version: cfg.Version,
		env:     cfg.Environment,
	}
}

// Encode converts one event into its envelope. It never fails: values that
// cannot be represented degrade to their string form.
func (e *Encoder) Encode(ev *logging.LogEvent) logging.Envelope {
	env := logging.Envelope{
		"timestamp":  ev.Time.UTC().Format(timestampLayout),
		"level":      ev.Level.String(),
		"logger":     ev.Logger,
		"message":    ev.Message,
		"service":    e.service,
		"version":    e.version,
		"env":        e.env,
		"process_id": ev.PID,
	}

	if ev.Source != nil && ev.Source.File != "" {
		function := ev.Source.Function
		if function == "" {
			function = unknownFunction
		}
		env["source"] = map[string]any{
			"file":     ev.Source.File,
			"line":     ev.Source.Line,
			"function": function,
		}
	}

	// Flattened correlation keys first, then the nested object on top so
	// its values win for any key present in both.
	for key, value := range ev.Extra {
		if strings.HasPrefix(key, logging.CorrelationPrefix) {
			env[key] = coerceValue(value)
		}
	}
	for key, value := range ev.Correlation {
		env[logging.CorrelationPrefix+key] = coerceValue(value)
	}

	if ev.Exception != nil {
		env["exception"] = map[string]any{
			"class":     ev.Exception.Class,
			"message":   ev.Exception.Message,
			"traceback": ev.Exception.Traceback,
		}
	}
	if ev.StackTrace != "" {
		env["stack_trace"] = ev.StackTrace
	}

	extra := make(map[string]any)
	for key, value := range ev.Extra {
		if strings.HasPrefix(key, logging.CorrelationPrefix) {
			continue
		}
		if _, reserved := reservedKeys[key]; reserved {
			continue
		}
		extra[key] = coerceValue(value)
	}
	if len(extra) > 0 {
		env["extra"] = extra
	}

	return env
}

// maxCoerceDepth bounds how deep nested attribute collections are walked.
// Anything deeper degrades to a placeholder.
const maxCoerceDepth = 64

// coerceValue maps an arbitrary attribute value onto the closed JSON-safe
// set: nil, bool, numbers, string, map[string]any, []any. Anything outside
// that set is probed with json.Marshal and falls back to fmt.Sprint, so
// encoding can never fail.
func coerceValue(v any) any {
	return coerce(v, make(map[uintptr]struct{}), 0)
}

// coerce walks collections with cycle and depth guards: seen holds the
// identities of maps/slices on the current path, so a self-referential
// bag degrades to a placeholder instead of recursing forever. A cyclic
// value cannot be handed to fmt.Sprint either — fmt has no cycle
// detection — hence the fixed marker.
func coerce(v any, seen map[uintptr]struct{}, depth int) any {
	if depth >= maxCoerceDepth {
		return fmt.Sprintf("<max depth exceeded: %T>", v)
	}
	switch val := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return val
	case time.Time:
		return val.UTC().Format(timestampLayout)
	case time.Duration:
		return val.String()
	case error:
		return val.Error()
	case map[string]any:
		ptr := reflect.ValueOf(val).Pointer()
		if _, onPath := seen[ptr]; onPath {
			return fmt.Sprintf("<cycle: %T>", val)
		}
		seen[ptr] = struct{}{}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = coerce(item, seen, depth+1)
		}
		delete(seen, ptr)
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = item
		}
		return out
	case []any:
		ptr := reflect.ValueOf(val).Pointer()
		if _, onPath := seen[ptr]; onPath {
			return fmt.Sprintf("<cycle: %T>", val)
		}
		seen[ptr] = struct{}{}
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = coerce(item, seen, depth+1)
		}
		delete(seen, ptr)
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	}
	if marshalable(v) {
		return v
	}
	return fmt.Sprint(v)
}

// marshalable reports whether json.Marshal accepts v, recovering the
// panics Marshal itself can raise on exotic values.
func marshalable(v any) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	_, err := json.Marshal(v)
	return err == nil
}
