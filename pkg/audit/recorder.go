package audit

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Recorder receives authorization events. Implementations must not block
// the request path for long.
type Recorder interface {
	Record(ctx context.Context, event *Event) error
}

// NopRecorder drops every event
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, *Event) error { return nil }

// LogRecorder writes events as structured log entries
type LogRecorder struct {
	log *logrus.Logger
	now func() time.Time
}

// NewLogRecorder creates a recorder on log
func NewLogRecorder(log *logrus.Logger) *LogRecorder {
	if log == nil {
		log = logrus.New()
	}
	return &LogRecorder{log: log, now: time.Now}
}

func (r *LogRecorder) Record(_ context.Context, event *Event) error {
	if event == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}

	fields := logrus.Fields{
		"audit":      true,
		"event_type": event.EventType,
		"status":     event.Status,
		"timestamp":  event.Timestamp,
	}
	for k, v := range map[string]string{
		"user_id":      event.UserID,
		"actor_id":     event.ActorID,
		"workspace_id": event.WorkspaceID,
		"action":       event.Action,
		"resource_id":  event.ResourceID,
		"source":       event.Source,
		"reason":       event.Reason,
		"request_id":   event.RequestID,
		"method":       event.Method,
		"path":         event.Path,
		"ip_address":   event.IPAddress,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := r.log.WithFields(fields)
	msg := event.Message
	if msg == "" {
		msg = string(event.EventType)
	}
	if event.Status == EventStatusDenied || event.Status == EventStatusFailure {
		entry.Warn(msg)
	} else {
		entry.Info(msg)
	}
	return nil
}

// MultiRecorder fans an event out to several recorders. Every recorder is
// called even when an earlier one fails.
type MultiRecorder struct {
	recorders []Recorder
}

// NewMultiRecorder creates a recorder that writes to all of recorders
func NewMultiRecorder(recorders ...Recorder) *MultiRecorder {
	return &MultiRecorder{recorders: recorders}
}

func (m *MultiRecorder) Record(ctx context.Context, event *Event) error {
	var errs []error
	for _, r := range m.recorders {
		if err := r.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
