package screenfinancequery

import "finance-orchestrator/internal/common/validation"

type Input struct {
	Query         string `json:"query"`
	CorrelationID string `json:"correlationId"`
}

type Output struct {
	IsSafe    bool    `json:"isSafe"`
	Severity  string  `json:"severity"`
	Category  string  `json:"category,omitempty"`
	RiskScore float64 `json:"riskScore"`
}

func inputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type: "object",
		Properties: map[string]validation.Property{
			"query":         {Type: "string", MinLength: validation.Int(1)},
			"correlationId": {Type: "string", Nullable: true},
		},
		Required:             []string{"query"},
		AdditionalProperties: true,
	}
}
