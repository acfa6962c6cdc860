// internal/models/scan.go
package models

type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ScanResult is the verdict of the injection or PII scanner.
type ScanResult struct {
	IsSafe     bool     `json:"is_safe"`
	Severity   Severity `json:"severity"`
	Category   string   `json:"category,omitempty"`
	RiskScore  float64  `json:"risk_score"`
	MaskedText string   `json:"masked_text,omitempty"`
}
