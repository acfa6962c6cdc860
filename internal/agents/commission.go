package agents

import (
	"fmt"

	"finance-orchestrator/internal/calculator"
	"finance-orchestrator/internal/common/logger"
	"finance-orchestrator/internal/gateway"
	"finance-orchestrator/internal/models"
)

// maxCommissionRate bounds negotiated rates.
const maxCommissionRate = 10.0

const commissionPrompt = `You are the Commission Agent for a Dubai real estate developer.
Extract the sale and broker details from the query. Do not calculate the commission.

Standard rate is 5% of the sale price; negotiated rates run up to 10%.
RERA broker registration numbers look like BRN-12345.

Respond with a JSON object:
{
  "sale_price": number (AED) or null,
  "commission_rate": number (percent, e.g. 6 for 6%) or null,
  "broker_name": "string or null",
  "brn": "string or null",
  "external_broker": true | false | null,
  "project_name": "string or null",
  "unit_reference": "string or null"
}`

// CommissionDomain extracts broker commissions and computes the split.
func CommissionDomain() Domain {
	return Domain{
		Intent:       models.IntentCommission,
		Name:         "commission",
		SystemPrompt: commissionPrompt,
		MaxTokens:    3000,
		Required:     []string{"sale_price"},
		Schema: objectSchema(map[string]interface{}{
			"sale_price":      amountType,
			"commission_rate": amountType,
			"broker_name":     stringType,
			"brn":             stringType,
		}),
		Calculate: calculateCommission,
	}
}

func NewCommissionAgent(gw gateway.Gateway, cfg Config, log logger.Logger) Agent {
	return newDomainAgent(gw, cfg, CommissionDomain(), log)
}

func calculateCommission(f Fields) (*models.CalculationResult, []string, error) {
	var issues []string

	price, ok := f.Amount("sale_price")
	if !ok {
		return nil, []string{"sale_price is not a number"}, nil
	}

	opts := calculator.CommissionOptions{
		BrokerName:       f.String("broker_name"),
		NoExternalBroker: !f.Bool("external_broker", true),
	}
	if f.Has("commission_rate") {
		rate, ok := f.Percent("commission_rate")
		switch {
		case !ok:
			issues = append(issues, "commission_rate is not a number; using the standard rate")
		case rate > maxCommissionRate:
			return nil, append(issues, fmt.Sprintf("commission_rate %.2f%% exceeds the %.0f%% maximum", rate, maxCommissionRate)), nil
		default:
			opts.RatePercent = rate
			opts.RateSet = true
		}
	}

	if brn := f.String("brn"); brn != "" && !calculator.ValidateBRN(brn) {
		issues = append(issues, "broker BRN must match BRN-XXXXX")
	}

	comm, err := calculator.CalculateCommission(price, opts)
	if err != nil {
		return nil, issues, err
	}
	return &models.CalculationResult{Kind: models.CalculationCommission, Commission: comm}, issues, nil
}
