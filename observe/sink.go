package observe

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is the audit record built from a hook callback.
type Event struct {
	Timestamp        time.Time         `json:"timestamp"`
	EventType        string            `json:"event_type"`
	RequestID        string            `json:"request_id,omitempty"`
	UserID           string            `json:"user_id,omitempty"`
	SessionID        string            `json:"session_id,omitempty"`
	Context          string            `json:"context,omitempty"`
	IP               string            `json:"ip,omitempty"`
	UserAgent        string            `json:"user_agent,omitempty"`
	Path             string            `json:"path,omitempty"`
	Success          bool              `json:"success"`
	Reason           string            `json:"reason,omitempty"`
	TokenFingerprint string            `json:"token_fp,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Sink receives audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink hands events to a consumer goroutine. Emit blocks until the
// event is taken or ctx ends.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes newline-delimited JSON. Writes are serialized.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
}

// LoggerSink logs each event as one structured zap entry. Failed decisions
// log at Warn, the rest at Info.
type LoggerSink struct {
	logger *zap.Logger
}

func NewLoggerSink(l *zap.Logger) *LoggerSink {
	if l == nil {
		l = zap.NewNop()
	}
	return &LoggerSink{logger: l}
}

func (s *LoggerSink) Emit(_ context.Context, event Event) {
	fields := []zap.Field{
		zap.String("event", event.EventType),
		zap.Bool("success", event.Success),
		zap.String("request_id", event.RequestID),
		zap.String("ip", event.IP),
		zap.String("path", event.Path),
	}
	if event.UserID != "" {
		fields = append(fields, zap.String("user_id", event.UserID))
	}
	if event.Context != "" {
		fields = append(fields, zap.String("context", event.Context))
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}
	if event.TokenFingerprint != "" {
		fields = append(fields, zap.String("token_fp", event.TokenFingerprint))
	}
	for k, v := range event.Metadata {
		fields = append(fields, zap.String("meta."+k, v))
	}

	if event.Success {
		s.logger.Info("auth event", fields...)
		return
	}
	s.logger.Warn("auth event", fields...)
}
