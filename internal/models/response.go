// internal/models/response.go
package models

import "time"

type ResponseStatus string

const (
	StatusSuccess            ResponseStatus = "success"
	StatusPartial            ResponseStatus = "partial"
	StatusNeedsClarification ResponseStatus = "needs_clarification"
	StatusRejected           ResponseStatus = "rejected"
	StatusError              ResponseStatus = "error"
)

// AgentResponse is the unit returned to callers for one query.
type AgentResponse struct {
	RequestID        string                 `json:"request_id"`
	Status           ResponseStatus         `json:"status"`
	Agent            string                 `json:"agent,omitempty"`
	Classification   *ClassificationResult  `json:"classification,omitempty"`
	Calculation      *CalculationResult     `json:"calculation,omitempty"`
	Extracted        map[string]interface{} `json:"extracted,omitempty"`
	ValidationIssues []string               `json:"validation_issues,omitempty"`
	Notification     *Notification          `json:"notification,omitempty"`
	ErrorCode        string                 `json:"error_code,omitempty"`
	Message          string                 `json:"message,omitempty"`
	Model            string                 `json:"model,omitempty"`
	StartedAt        time.Time              `json:"started_at"`
	CompletedAt      time.Time              `json:"completed_at"`
	ProcessingTimeMs int64                  `json:"processing_time_ms"`
}

// Finish stamps the completion time and duration.
func (r *AgentResponse) Finish(now time.Time) {
	r.CompletedAt = now
	r.ProcessingTimeMs = now.Sub(r.StartedAt).Milliseconds()
}

// ApprovalLevel returns the invoice approval level, if the response carries one.
func (r *AgentResponse) ApprovalLevel() (ApprovalLevel, bool) {
	if r == nil || r.Calculation == nil || r.Calculation.Invoice == nil {
		return "", false
	}
	return r.Calculation.Invoice.ApprovalLevel, true
}
