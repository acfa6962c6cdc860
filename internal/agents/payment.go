package agents

import (
	"strings"

	"finance-orchestrator/internal/calculator"
	"finance-orchestrator/internal/common/logger"
	"finance-orchestrator/internal/gateway"
	"finance-orchestrator/internal/models"
)

var paymentPrompt = `You are the Payment Plan Agent for a Dubai real estate developer.
Extract the property and payment plan details from the query. Do not calculate amounts.

Available plans: ` + strings.Join(calculator.PlanNames(), ", ") + `.

Respond with a JSON object:
{
  "property_value": number (AED) or null,
  "plan_type": "one of the available plans or null",
  "area_sqft": number or null,
  "off_plan": true | false | null,
  "project_name": "string or null",
  "unit_reference": "string or null"
}`

// PaymentDomain extracts property sales and lays out the plan and fees.
func PaymentDomain() Domain {
	return Domain{
		Intent:       models.IntentPayment,
		Name:         "payment",
		SystemPrompt: paymentPrompt,
		MaxTokens:    4000,
		Required:     []string{"property_value"},
		Schema: objectSchema(map[string]interface{}{
			"property_value": amountType,
			"plan_type":      stringType,
			"area_sqft":      amountType,
		}),
		Calculate: calculatePayment,
	}
}

func NewPaymentAgent(gw gateway.Gateway, cfg Config, log logger.Logger) Agent {
	return newDomainAgent(gw, cfg, PaymentDomain(), log)
}

func calculatePayment(f Fields) (*models.CalculationResult, []string, error) {
	var issues []string

	value, ok := f.Amount("property_value")
	if !ok {
		return nil, []string{"property_value is not a number"}, nil
	}

	plan := f.String("plan_type")
	if plan == "" {
		plan = calculator.DefaultPlan
	}
	schedule, err := calculator.CalculatePaymentPlan(value, plan)
	if err != nil {
		return nil, issues, err
	}

	area := 0.0
	if f.Has("area_sqft") {
		if a, ok := f.Amount("area_sqft"); ok && a >= 0 {
			area = a
		} else {
			issues = append(issues, "area_sqft is not a valid number; Oqood fee omitted")
		}
	}
	fees, err := calculator.CalculateFees(value, area, f.Bool("off_plan", true))
	if err != nil {
		return nil, issues, err
	}

	return &models.CalculationResult{
		Kind:        models.CalculationPaymentPlan,
		PaymentPlan: schedule,
		Fees:        fees,
	}, issues, nil
}
