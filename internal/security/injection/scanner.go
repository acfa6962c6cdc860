// Package injection screens user text for prompt-injection and financial
// fraud phrasings before any model sees it.
package injection

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"finance-orchestrator/internal/common/logger"
	"finance-orchestrator/internal/models"
)

// Sensitivity thresholds. A match blocks when its weight reaches the threshold.
const (
	SensitivityLow    = "low"
	SensitivityMedium = "medium"
	SensitivityHigh   = "high"

	DefaultMaxInputLength = 5000
	specialCharRatioLimit = 0.3
	specialCharWeight     = 0.6
	excessiveLengthWeight = 0.5
	defaultSnippetLength  = 50
)

var sensitivityThresholds = map[string]float64{
	SensitivityLow:    0.9,
	SensitivityMedium: 0.7,
	SensitivityHigh:   0.5,
}

var (
	ErrOperationNotPermitted = errors.New("OPERATION_NOT_PERMITTED")
	ErrUnknownRole           = errors.New("UNKNOWN_ROLE")
)

// Scanner evaluates text against an ordered pattern list.
type Scanner struct {
	patterns    []Pattern
	threshold   float64
	maxInputLen int
	snippetLen  int
	log         logger.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithPatterns replaces the built-in pattern list.
func WithPatterns(patterns []Pattern) Option {
	return func(s *Scanner) {
		s.patterns = patterns
	}
}

// WithSensitivity sets the blocking threshold by name. Unknown names keep high.
func WithSensitivity(level string) Option {
	return func(s *Scanner) {
		if t, ok := sensitivityThresholds[strings.ToLower(level)]; ok {
			s.threshold = t
		}
	}
}

// WithMaxInputLength sets the length above which input is treated as suspicious.
func WithMaxInputLength(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.maxInputLen = n
		}
	}
}

// WithLogger attaches a logger for blocked inputs.
func WithLogger(log logger.Logger) Option {
	return func(s *Scanner) {
		s.log = log
	}
}

// NewScanner builds a scanner with the default patterns at high sensitivity.
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		patterns:    DefaultPatterns(),
		threshold:   sensitivityThresholds[SensitivityHigh],
		maxInputLen: DefaultMaxInputLength,
		snippetLen:  defaultSnippetLength,
		log:         logger.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan classifies text. Any blocking pattern or heuristic makes the result
// unsafe; a scanner failure is reported as unsafe too.
func (s *Scanner) Scan(text string) (result models.ScanResult) {
	defer func() {
		if r := recover(); r != nil {
			result = models.ScanResult{
				IsSafe:    false,
				Severity:  models.SeverityCritical,
				Category:  "scanner_failure",
				RiskScore: 1,
			}
			s.log.Error("injection scan failed", map[string]interface{}{"panic": fmt.Sprint(r)})
		}
	}()

	if !utf8.ValidString(text) {
		return s.block(text, "invalid_encoding", 1)
	}

	var highest float64
	for _, pattern := range s.patterns {
		if pattern.Regex == nil || !pattern.Regex.MatchString(text) {
			continue
		}
		if pattern.Weight >= s.threshold {
			return s.block(text, pattern.Category, pattern.Weight)
		}
		if pattern.Weight > highest {
			highest = pattern.Weight
		}
	}

	if ratio := specialCharRatio(text); ratio > specialCharRatioLimit && specialCharWeight >= s.threshold {
		return s.block(text, CategoryExcessiveSpecial, specialCharWeight)
	}
	if utf8.RuneCountInString(text) > s.maxInputLen && excessiveLengthWeight >= s.threshold {
		return s.block(text, CategoryExcessiveLength, excessiveLengthWeight)
	}

	return models.ScanResult{
		IsSafe:    true,
		Severity:  models.SeverityNone,
		RiskScore: highest,
	}
}

func (s *Scanner) block(text, category string, weight float64) models.ScanResult {
	s.log.Warn("input blocked by injection scanner", map[string]interface{}{
		"category": category,
		"weight":   weight,
		"snippet":  sanitizeForLog(text, s.snippetLen),
	})
	return models.ScanResult{
		IsSafe:    false,
		Severity:  SeverityForWeight(weight),
		Category:  category,
		RiskScore: weight,
	}
}

// SeverityForWeight buckets a pattern weight into a severity.
func SeverityForWeight(w float64) models.Severity {
	switch {
	case w >= 0.95:
		return models.SeverityCritical
	case w >= 0.85:
		return models.SeverityHigh
	case w >= 0.7:
		return models.SeverityMedium
	case w > 0:
		return models.SeverityLow
	default:
		return models.SeverityNone
	}
}

func specialCharRatio(text string) float64 {
	total, special := 0, 0
	for _, r := range text {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '_' {
			continue
		}
		special++
	}
	if total == 0 {
		return 0
	}
	return float64(special) / float64(total)
}

var (
	systemTagRe   = regexp.MustCompile(`(?i)<\|?/?system\|?>`)
	instTagRe     = regexp.MustCompile(`(?i)\[/?INST\]`)
	controlCharRe = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// Sanitize strips delimiter tokens and control characters from text.
func Sanitize(text string) string {
	out := systemTagRe.ReplaceAllString(text, "")
	out = instTagRe.ReplaceAllString(out, "")
	out = strings.ReplaceAll(out, "```", "` ` `")
	out = controlCharRe.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

func sanitizeForLog(text string, max int) string {
	out := controlCharRe.ReplaceAllString(text, "")
	if utf8.RuneCountInString(out) > max {
		runes := []rune(out)
		out = string(runes[:max]) + "..."
	}
	return out
}

// roleLimits caps the amount each role may move in a single operation.
// A negative limit means unlimited.
var roleLimits = map[string]float64{
	"viewer":   0,
	"analyst":  50_000,
	"manager":  500_000,
	"director": 2_000_000,
	"admin":    -1,
}

// ValidateFinancialOperation checks that role may act on amount (AED).
func ValidateFinancialOperation(role string, amount float64) error {
	limit, ok := roleLimits[strings.ToLower(strings.TrimSpace(role))]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if limit < 0 {
		return nil
	}
	if amount > limit {
		return fmt.Errorf("%w: role %s limited to AED %.2f", ErrOperationNotPermitted, role, limit)
	}
	return nil
}
