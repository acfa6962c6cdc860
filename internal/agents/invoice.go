package agents

import (
	"finance-orchestrator/internal/calculator"
	"finance-orchestrator/internal/common/logger"
	"finance-orchestrator/internal/gateway"
	"finance-orchestrator/internal/models"
)

const invoicePrompt = `You are the Invoice Processing Agent for a Dubai real estate developer.
Extract the invoice details from the query. Do not calculate VAT, retention or approvals.

Respond with a JSON object:
{
  "vendor_name": "string or null",
  "vendor_trn": "15-digit TRN or null",
  "amount": number (invoice subtotal in AED, before VAT) or null,
  "currency": "AED",
  "project_name": "string or null",
  "po_number": "string or null",
  "new_vendor": true | false | null,
  "description": "string or null"
}`

// InvoiceDomain extracts vendor invoices and routes them for approval.
func InvoiceDomain(opts calculator.InvoiceOptions) Domain {
	return Domain{
		Intent:       models.IntentInvoice,
		Name:         "invoice",
		SystemPrompt: invoicePrompt,
		MaxTokens:    2000,
		Required:     []string{"amount"},
		Schema: objectSchema(map[string]interface{}{
			"amount":      amountType,
			"vendor_name": stringType,
			"vendor_trn":  stringType,
			"po_number":   stringType,
		}),
		Calculate: func(f Fields) (*models.CalculationResult, []string, error) {
			return calculateInvoice(f, opts)
		},
	}
}

func NewInvoiceAgent(gw gateway.Gateway, cfg Config, opts calculator.InvoiceOptions, log logger.Logger) Agent {
	return newDomainAgent(gw, cfg, InvoiceDomain(opts), log)
}

func calculateInvoice(f Fields, opts calculator.InvoiceOptions) (*models.CalculationResult, []string, error) {
	var issues []string

	subtotal, ok := f.Amount("amount")
	if !ok {
		return nil, []string{"amount is not a number"}, nil
	}

	if trn := f.String("vendor_trn"); trn != "" && !calculator.ValidateTRN(trn) {
		issues = append(issues, "vendor TRN must be 15 digits starting with 100")
	}

	opts.HasPO = f.Has("po_number")
	opts.NewVendor = f.Bool("new_vendor", false)

	inv, err := calculator.CalculateInvoice(subtotal, opts)
	if err != nil {
		return nil, issues, err
	}
	return &models.CalculationResult{Kind: models.CalculationInvoice, Invoice: inv}, issues, nil
}
