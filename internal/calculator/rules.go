// Package calculator applies the fixed UAE finance rule table to validated amounts.
// Every function is pure: no I/O, no shared mutable state.
package calculator

import (
	"errors"
	"fmt"
	"math"
)

const (
	VATRate       = 0.05
	RetentionRate = 0.05
	DLDFeeRate    = 0.04

	AdminFeeAED          = 4200.0
	OqoodFeePerSqftAED   = 40.0
	BookingPercent       = 10.0
	ConstructionPhases   = 5
	MonthlyPlanStepPct   = 1.0
	HighValueThreshold   = 1_000_000.0
	RiskWeightPerFlag    = 0.2
	DefaultCommissionPct = 5.0
	DefaultExternalPct   = 60.0
	maxPercent           = 100.0
)

// Approval band upper bounds, inclusive.
const (
	AutoApprovalLimit            = 50_000.0
	ProjectManagerApprovalLimit  = 500_000.0
	FinanceDirectorApprovalLimit = 2_000_000.0
)

var (
	ErrInvalidAmount = errors.New("INVALID_AMOUNT")
	ErrInvalidRate   = errors.New("INVALID_RATE")
	ErrUnknownPlan   = errors.New("UNKNOWN_PAYMENT_PLAN")
)

// Round2 rounds to fils (two decimal places).
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func validateAmount(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s is not a finite number", ErrInvalidAmount, field)
	}
	if v < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidAmount, field)
	}
	return nil
}

func validatePercent(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > maxPercent {
		return fmt.Errorf("%w: %s must be between 0 and 100", ErrInvalidRate, field)
	}
	return nil
}
