// Package audit emits structured audit records for security relevant
// actions and feeds the live audit stream.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"aidcore.org/internal/auth"
	"aidcore.org/internal/obs"
	"aidcore.org/internal/stream"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Recorder writes audit entries to the shared logger and, when a stream
// is attached, publishes them to live subscribers.
type Recorder struct {
	feed *stream.Stream
	now  func() time.Time
}

// NewRecorder builds a recorder. The stream may be nil, in which case
// entries only reach the log.
func NewRecorder(feed *stream.Stream) *Recorder {
	return &Recorder{feed: feed, now: time.Now}
}

// Log writes an audit entry enriched with request and principal context.
func (r *Recorder) Log(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	ts := r.now().UTC()
	entry := map[string]any{
		"ts":    ts.Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	evt := stream.Event{Timestamp: ts, Event: event}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
		evt.RequestID = rid
	}
	if principal, ok := auth.PrincipalFromContext(ctx); ok {
		entry["subject_id"] = principal.ID
		entry["role"] = string(principal.Role)
		evt.SubjectID = principal.ID
		evt.Role = string(principal.Role)
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
		evt.Fields = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	if r.feed != nil {
		r.feed.Publish(evt)
	}
	return nil
}
