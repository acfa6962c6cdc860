// Package audit records masked, append-only events for every finance query.
package audit

import "time"

type EventType string

const (
	EventQueryReceived     EventType = "query_received"
	EventQueryBlocked      EventType = "query_blocked"
	EventQueryClassified   EventType = "query_classified"
	EventQueryCompleted    EventType = "query_completed"
	EventQueryFailed       EventType = "query_failed"
	EventApprovalRequested EventType = "approval_requested"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Event struct {
	ID            string                 `json:"event_id"`
	CorrelationID string                 `json:"correlation_id"`
	Type          EventType              `json:"event_type"`
	Severity      Severity               `json:"severity"`
	UserID        string                 `json:"user_id,omitempty"`
	Intent        string                 `json:"intent,omitempty"`
	Status        string                 `json:"status,omitempty"`
	Summary       string                 `json:"summary,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}
