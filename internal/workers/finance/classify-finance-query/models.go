package classifyfinancequery

import (
	"finance-orchestrator/internal/common/validation"
	"finance-orchestrator/internal/models"
)

type Input struct {
	Query         string            `json:"query"`
	Context       map[string]string `json:"context,omitempty"`
	CorrelationID string            `json:"correlationId"`
	UserID        string            `json:"userId,omitempty"`
}

type Output struct {
	Intent             models.Intent          `json:"intent"`
	Confidence         float64                `json:"confidence"`
	Entities           map[string]interface{} `json:"entities"`
	NeedsClarification bool                   `json:"needsClarification"`
	RawIntent          string                 `json:"rawIntent,omitempty"`
	Model              string                 `json:"classificationModel,omitempty"`
}

func inputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type: "object",
		Properties: map[string]validation.Property{
			"query":         {Type: "string", MinLength: validation.Int(1), MaxLength: validation.Int(5000)},
			"context":       {Type: "object", Nullable: true, Values: &validation.Property{Type: "string"}},
			"correlationId": {Type: "string", MinLength: validation.Int(1)},
			"userId":        {Type: "string", Nullable: true},
		},
		Required:             []string{"query", "correlationId"},
		AdditionalProperties: true,
	}
}
