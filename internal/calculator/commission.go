package calculator

import "finance-orchestrator/internal/models"

type CommissionOptions struct {
	// RatePercent of the sale price; zero means DefaultCommissionPct unless
	// RateSet, which makes an explicit 0 a waived commission.
	RatePercent float64
	RateSet     bool
	// ExternalSplitPercent of the gross commission; zero means DefaultExternalPct.
	ExternalSplitPercent float64
	NoExternalBroker     bool
	VATExempt            bool
	BrokerName           string
}

// CalculateCommission computes the gross commission, its VAT and the external/internal split.
// The internal share is derived by subtraction so the two shares always sum to the gross.
func CalculateCommission(salePrice float64, opts CommissionOptions) (*models.CommissionCalculation, error) {
	if err := validateAmount("sale_price", salePrice); err != nil {
		return nil, err
	}

	rate := opts.RatePercent
	if rate == 0 && !opts.RateSet {
		rate = DefaultCommissionPct
	}
	if err := validatePercent("commission_rate", rate); err != nil {
		return nil, err
	}

	externalPct := opts.ExternalSplitPercent
	if externalPct == 0 {
		externalPct = DefaultExternalPct
	}
	if err := validatePercent("external_split", externalPct); err != nil {
		return nil, err
	}
	if opts.NoExternalBroker {
		externalPct = 0
	}

	vatRate := VATRate
	if opts.VATExempt {
		vatRate = 0
	}

	gross := Round2(salePrice * rate / 100)
	vat := Round2(gross * vatRate)

	externalAmount := Round2(gross * externalPct / 100)
	internalAmount := Round2(gross - externalAmount)
	externalVAT := Round2(externalAmount * vatRate)
	internalVAT := Round2(vat - externalVAT)

	return &models.CommissionCalculation{
		SalePrice:       salePrice,
		CommissionRate:  rate,
		CommissionTotal: gross,
		VATRate:         vatRate,
		VATAmount:       vat,
		TotalWithVAT:    Round2(gross + vat),
		External: models.CommissionShare{
			Name:       opts.BrokerName,
			Percentage: externalPct,
			Amount:     externalAmount,
			VAT:        externalVAT,
			Total:      Round2(externalAmount + externalVAT),
		},
		Internal: models.CommissionShare{
			Percentage: 100 - externalPct,
			Amount:     internalAmount,
			VAT:        internalVAT,
			Total:      Round2(internalAmount + internalVAT),
		},
	}, nil
}
