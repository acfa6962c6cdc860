package notifyapproval

import (
	"finance-orchestrator/internal/common/validation"
	"finance-orchestrator/internal/models"
)

type Input struct {
	CorrelationID     string               `json:"correlationId"`
	ApprovalLevel     models.ApprovalLevel `json:"approvalLevel"`
	Amount            float64              `json:"amount"`
	VendorName        string               `json:"vendorName,omitempty"`
	ProjectName       string               `json:"projectName,omitempty"`
	RequiredApprovers []string             `json:"requiredApprovers,omitempty"`
}

type Output struct {
	NotificationID     string   `json:"notificationId"`
	NotificationStatus string   `json:"notificationStatus"`
	Channels           []string `json:"notificationChannels"`
	SentAt             string   `json:"notificationSentAt,omitempty"`
}

func inputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type: "object",
		Properties: map[string]validation.Property{
			"correlationId": {Type: "string", MinLength: validation.Int(1)},
			"approvalLevel": {Type: "string", Enum: []string{
				string(models.ApprovalAuto),
				string(models.ApprovalProjectManager),
				string(models.ApprovalFinanceDirector),
				string(models.ApprovalCFO),
			}},
			"amount":            {Type: "number", Minimum: validation.Float(0)},
			"vendorName":        {Type: "string", Nullable: true},
			"projectName":       {Type: "string", Nullable: true},
			"requiredApprovers": {Type: "array", Nullable: true, Items: &validation.Property{Type: "string"}},
		},
		Required:             []string{"correlationId", "approvalLevel", "amount"},
		AdditionalProperties: true,
	}
}
