package calculator

import (
	"fmt"
	"sort"
	"strings"

	"finance-orchestrator/internal/models"
)

type PaymentPlan struct {
	Name                string
	ConstructionPercent float64
	HandoverPercent     float64
	Monthly             bool
	Description         string
}

const (
	Plan60_40    = "60/40"
	Plan80_20    = "80/20"
	Plan75_25    = "75/25"
	Plan50_50    = "50/50"
	PlanMonthly1 = "1% Monthly"

	DefaultPlan = Plan60_40
)

var paymentPlans = map[string]PaymentPlan{
	Plan60_40:    {Name: Plan60_40, ConstructionPercent: 60, HandoverPercent: 40, Description: "60% during construction (milestone-based), 40% on handover"},
	Plan80_20:    {Name: Plan80_20, ConstructionPercent: 80, HandoverPercent: 20, Description: "80% during construction, 20% on handover"},
	Plan75_25:    {Name: Plan75_25, ConstructionPercent: 75, HandoverPercent: 25, Description: "75% during construction, 25% on handover"},
	Plan50_50:    {Name: Plan50_50, ConstructionPercent: 50, HandoverPercent: 50, Description: "50% during construction, 50% on handover"},
	PlanMonthly1: {Name: PlanMonthly1, ConstructionPercent: 60, HandoverPercent: 40, Monthly: true, Description: "1% per month during construction, 40% on handover"},
}

var constructionMilestones = [ConstructionPhases]string{
	"Foundation Complete",
	"Structure Complete (50%)",
	"Structure Complete (100%)",
	"MEP Rough-in",
	"Interior Finishing",
}

// PlanNames returns the supported plan names in stable order.
func PlanNames() []string {
	names := make([]string, 0, len(paymentPlans))
	for name := range paymentPlans {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupPlan resolves loose spellings such as "60-40", "60 / 40" or "1% monthly".
func LookupPlan(name string) (PaymentPlan, bool) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.NewReplacer(" ", "", "-", "/", ":", "/").Replace(normalized)

	if strings.Contains(normalized, "monthly") {
		return paymentPlans[PlanMonthly1], true
	}
	for key, plan := range paymentPlans {
		if strings.ToLower(key) == normalized {
			return plan, true
		}
	}
	return PaymentPlan{}, false
}

// CalculatePaymentPlan splits a property value into construction and handover portions
// and lays out the milestone schedule.
func CalculatePaymentPlan(propertyValue float64, planName string) (*models.PaymentPlanCalculation, error) {
	if err := validateAmount("property_value", propertyValue); err != nil {
		return nil, err
	}

	if strings.TrimSpace(planName) == "" {
		planName = DefaultPlan
	}
	plan, ok := LookupPlan(planName)
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownPlan, planName, strings.Join(PlanNames(), ", "))
	}

	construction := Round2(propertyValue * plan.ConstructionPercent / 100)
	handover := Round2(propertyValue - construction)

	return &models.PaymentPlanCalculation{
		PlanName:            plan.Name,
		PropertyValue:       propertyValue,
		ConstructionPercent: plan.ConstructionPercent,
		HandoverPercent:     plan.HandoverPercent,
		ConstructionAmount:  construction,
		HandoverAmount:      handover,
		Milestones:          milestoneSchedule(propertyValue, plan),
	}, nil
}

func milestoneSchedule(value float64, plan PaymentPlan) []models.Milestone {
	milestones := []models.Milestone{{
		Number:      1,
		Description: "Booking Amount",
		Percentage:  BookingPercent,
		Amount:      Round2(value * BookingPercent / 100),
		Timing:      "On booking",
	}}

	remaining := plan.ConstructionPercent - BookingPercent
	if plan.Monthly {
		months := int(remaining / MonthlyPlanStepPct)
		for i := 0; i < months; i++ {
			milestones = append(milestones, models.Milestone{
				Number:      len(milestones) + 1,
				Description: fmt.Sprintf("Monthly Installment %d", i+1),
				Percentage:  MonthlyPlanStepPct,
				Amount:      Round2(value * MonthlyPlanStepPct / 100),
				Timing:      fmt.Sprintf("Month %d after SPA", i+1),
			})
		}
	} else {
		per := remaining / ConstructionPhases
		for i, name := range constructionMilestones {
			milestones = append(milestones, models.Milestone{
				Number:      len(milestones) + 1,
				Description: name,
				Percentage:  per,
				Amount:      Round2(value * per / 100),
				Timing:      fmt.Sprintf("Construction Phase %d", i+1),
			})
		}
	}

	return append(milestones, models.Milestone{
		Number:      len(milestones) + 1,
		Description: "Handover Payment",
		Percentage:  plan.HandoverPercent,
		Amount:      Round2(value * plan.HandoverPercent / 100),
		Timing:      "On handover",
	})
}

// CalculateFees computes the Dubai Land Department transfer costs for a purchase.
func CalculateFees(propertyValue, areaSqft float64, offPlan bool) (*models.FeeCalculation, error) {
	if err := validateAmount("property_value", propertyValue); err != nil {
		return nil, err
	}
	if err := validateAmount("area_sqft", areaSqft); err != nil {
		return nil, err
	}

	dld := Round2(propertyValue * DLDFeeRate)
	oqood := 0.0
	if offPlan {
		oqood = Round2(areaSqft * OqoodFeePerSqftAED)
	}

	return &models.FeeCalculation{
		PropertyValue: propertyValue,
		DLDRate:       DLDFeeRate,
		DLDFee:        dld,
		AdminFee:      AdminFeeAED,
		OqoodFee:      oqood,
		OffPlan:       offPlan,
		TotalFees:     Round2(dld + oqood + AdminFeeAED),
	}, nil
}
