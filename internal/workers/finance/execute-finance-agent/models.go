package executefinanceagent

import (
	"finance-orchestrator/internal/common/validation"
	"finance-orchestrator/internal/models"
)

type Input struct {
	Query         string                 `json:"query"`
	Intent        models.Intent          `json:"intent"`
	Entities      map[string]interface{} `json:"entities,omitempty"`
	Context       map[string]string      `json:"context,omitempty"`
	CorrelationID string                 `json:"correlationId"`
	UserID        string                 `json:"userId,omitempty"`
}

// Output is flattened so gateways in the process model can route on
// requiresApproval and the notify task can map its inputs directly.
type Output struct {
	Status            models.ResponseStatus     `json:"status"`
	Agent             string                    `json:"agent"`
	Calculation       *models.CalculationResult `json:"calculation,omitempty"`
	Extracted         map[string]interface{}    `json:"extracted,omitempty"`
	ValidationIssues  []string                  `json:"validationIssues"`
	Message           string                    `json:"message,omitempty"`
	ApprovalLevel     models.ApprovalLevel      `json:"approvalLevel,omitempty"`
	RequiresApproval  bool                      `json:"requiresApproval"`
	Amount            float64                   `json:"amount,omitempty"`
	VendorName        string                    `json:"vendorName,omitempty"`
	ProjectName       string                    `json:"projectName,omitempty"`
	RequiredApprovers []string                  `json:"requiredApprovers,omitempty"`
	ProcessingTimeMs  int64                     `json:"processingTimeMs"`
}

func inputSchema() validation.JSONSchema {
	intents := make([]string, 0, len(models.RoutableIntents))
	for _, i := range models.RoutableIntents {
		intents = append(intents, string(i))
	}
	return validation.JSONSchema{
		Type: "object",
		Properties: map[string]validation.Property{
			"query":         {Type: "string", MinLength: validation.Int(1), MaxLength: validation.Int(5000)},
			"intent":        {Type: "string", Enum: intents},
			"entities":      {Type: "object", Nullable: true},
			"context":       {Type: "object", Nullable: true, Values: &validation.Property{Type: "string"}},
			"correlationId": {Type: "string", MinLength: validation.Int(1)},
			"userId":        {Type: "string", Nullable: true},
		},
		Required:             []string{"query", "intent", "correlationId"},
		AdditionalProperties: true,
	}
}
