package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "finance-orchestrator/internal/common/errors"
	"finance-orchestrator/internal/common/logger"
	"finance-orchestrator/internal/security/pii"
)

// Sink persists audit events. Sinks only ever see masked events.
type Sink interface {
	Name() string
	Record(ctx context.Context, ev Event) error
}

// Recorder masks events and fans them out to every sink. A failing sink is
// logged and never fails the caller.
type Recorder struct {
	sinks  []Sink
	masker *pii.Masker
	logger logger.Logger
	now    func() time.Time
}

func NewRecorder(masker *pii.Masker, log logger.Logger, sinks ...Sink) *Recorder {
	if masker == nil {
		masker = pii.NewMasker()
	}
	return &Recorder{
		sinks:  sinks,
		masker: masker,
		logger: log.With(map[string]interface{}{"component": "audit"}),
		now:    time.Now,
	}
}

// Record masks ev and writes it to all sinks, returning the masked copy.
func (r *Recorder) Record(ctx context.Context, ev Event) Event {
	if r == nil {
		return ev
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now().UTC()
	}
	if ev.Severity == "" {
		ev.Severity = SeverityInfo
	}
	ev.Summary = r.masker.MaskString(ev.Summary)
	ev.UserID = r.masker.MaskString(ev.UserID)
	ev.Details = r.masker.RedactMap(ev.Details)

	for _, sink := range r.sinks {
		if err := sink.Record(ctx, ev); err != nil {
			stdErr := apperrors.NewAuditWriteFailedError(sink.Name(), err)
			r.logger.Error("audit write failed", map[string]interface{}{
				"sink":          sink.Name(),
				"eventType":     ev.Type,
				"correlationId": ev.CorrelationID,
				"errorCode":     stdErr.Code,
				"error":         r.masker.MaskString(err.Error()),
			})
		}
	}
	return ev
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: log.With(map[string]interface{}{"audit": true})}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Record(_ context.Context, ev Event) error {
	fields := map[string]interface{}{
		"eventId":       ev.ID,
		"eventType":     ev.Type,
		"severity":      ev.Severity,
		"correlationId": ev.CorrelationID,
		"userId":        ev.UserID,
		"intent":        ev.Intent,
		"status":        ev.Status,
		"summary":       ev.Summary,
		"details":       ev.Details,
	}
	switch ev.Severity {
	case SeverityCritical:
		s.logger.Error("audit event", fields)
	case SeverityWarning:
		s.logger.Warn("audit event", fields)
	default:
		s.logger.Info("audit event", fields)
	}
	return nil
}

// MemorySink keeps events in memory; used by tests and the CLI.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Name() string { return "memory" }

func (s *MemorySink) Record(_ context.Context, ev Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// OfType returns the recorded events of type t.
func (s *MemorySink) OfType(t EventType) []Event {
	var out []Event
	for _, ev := range s.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
