// internal/models/classification.go
package models

import "math"

// ClassificationResult is produced once per query by the orchestrator.
type ClassificationResult struct {
	Intent             Intent                 `json:"intent"`
	Confidence         float64                `json:"confidence"`
	Entities           map[string]interface{} `json:"entities,omitempty"`
	RawIntent          string                 `json:"raw_intent,omitempty"`
	NeedsClarification bool                   `json:"needs_clarification"`
	Model              string                 `json:"model,omitempty"`
}

// ClampConfidence bounds a model-reported confidence to [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
