package calculator

import "finance-orchestrator/internal/models"

// RetentionConvention selects how retention affects the payable amount.
type RetentionConvention string

const (
	// RetentionDeducted: net payable = subtotal + VAT - retention.
	RetentionDeducted RetentionConvention = "deducted"
	// RetentionHeld: net payable = subtotal + VAT; retention is reported but not subtracted.
	RetentionHeld RetentionConvention = "held"
)

// ParseRetentionConvention falls back to RetentionDeducted for unknown values.
func ParseRetentionConvention(s string) RetentionConvention {
	if RetentionConvention(s) == RetentionHeld {
		return RetentionHeld
	}
	return RetentionDeducted
}

type InvoiceOptions struct {
	Convention RetentionConvention
	HasPO      bool
	NewVendor  bool
	// RequirePOForAuto escalates auto-approvable invoices lacking a PO, or from a new vendor.
	RequirePOForAuto bool
}

// CalculateInvoice derives VAT, retention, net payable and approval routing from a subtotal.
func CalculateInvoice(subtotal float64, opts InvoiceOptions) (*models.InvoiceCalculation, error) {
	if err := validateAmount("subtotal", subtotal); err != nil {
		return nil, err
	}

	convention := opts.Convention
	if convention == "" {
		convention = RetentionDeducted
	}

	vat := Round2(subtotal * VATRate)
	retention := Round2(subtotal * RetentionRate)
	total := Round2(subtotal + vat)

	net := total
	if convention == RetentionDeducted {
		net = Round2(total - retention)
	}

	level, err := ApprovalLevelFor(subtotal)
	if err != nil {
		return nil, err
	}

	var flags []string
	if opts.NewVendor {
		flags = append(flags, "NEW_VENDOR")
	}
	if subtotal > HighValueThreshold {
		flags = append(flags, "HIGH_VALUE")
	}
	if !opts.HasPO {
		flags = append(flags, "NO_PO")
	}

	if level == models.ApprovalAuto && opts.RequirePOForAuto && (!opts.HasPO || opts.NewVendor) {
		level = models.ApprovalProjectManager
	}

	risk := float64(len(flags)) * RiskWeightPerFlag
	if risk > 1 {
		risk = 1
	}

	return &models.InvoiceCalculation{
		Subtotal:            subtotal,
		VATRate:             VATRate,
		VATAmount:           vat,
		RetentionRate:       RetentionRate,
		RetentionAmount:     retention,
		Total:               total,
		NetPayable:          net,
		RetentionConvention: string(convention),
		ApprovalLevel:       level,
		RequiredApprovers:   RequiredApprovers(level),
		RiskFlags:           flags,
		RiskScore:           Round2(risk),
	}, nil
}
