// internal/models/notification.go
package models

type Notification struct {
	ID            string                 `json:"id"`
	CorrelationID string                 `json:"correlation_id"`
	Type          string                 `json:"type"`     // "approval_request"
	Channels      []string               `json:"channels"` // "sns", "email"
	Status        string                 `json:"status"`   // "sent", "failed", "disabled", "skipped"
	ApprovalLevel ApprovalLevel          `json:"approval_level"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	SentAt        string                 `json:"sent_at"`
}
