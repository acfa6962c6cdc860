package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finance-orchestrator/internal/calculator"
	"finance-orchestrator/internal/common/logger"
	"finance-orchestrator/internal/gateway"
	"finance-orchestrator/internal/models"
)

func testQuery(text string) models.Query {
	return models.NewQuery(text, nil, "corr-1")
}

// ==========================
// Coercion
// ==========================

func TestToAmount(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
		want  float64
		ok    bool
	}{
		{"float", 2450000.0, 2450000, true},
		{"int", 500, 500, true},
		{"currency string", "AED 2,450,000", 2450000, true},
		{"millions suffix", "8.5M", 8500000, true},
		{"currency and suffix", "AED 8.5M", 8500000, true},
		{"words", "4.99 million", 4990000, true},
		{"thousands", "120k", 120000, true},
		{"decimals", "1,250.75", 1250.75, true},
		{"value object", map[string]interface{}{"value": 2450000.0, "currency": "AED"}, 2450000, true},
		{"amount object", map[string]interface{}{"amount": "AED 50,000"}, 50000, true},
		{"garbage", "about two million", 0, false},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToAmount(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 0.001)
			}
		})
	}
}

func TestToPercent(t *testing.T) {
	tests := []struct {
		input interface{}
		want  float64
		ok    bool
	}{
		{"6%", 6, true},
		{" 5.5 % ", 5.5, true},
		{6.0, 6, true},
		{"0.5%", 0.5, true},
		{0.5, 0.5, true},
		{"0.05", 0.05, true},
		{1.0, 1, true},
		{0, 0, true},
		{"six", 0, false},
	}

	for _, tt := range tests {
		got, ok := ToPercent(tt.input)
		assert.Equal(t, tt.ok, ok, "%v", tt.input)
		assert.InDelta(t, tt.want, got, 0.0001, "%v", tt.input)
	}
}

func TestFields_LookupAliasesAndEmpties(t *testing.T) {
	f := Fields{
		"vendor":      "MBM Gulf",
		"vendor_trn":  "null",
		"trn":         "100123456789012",
		"po_number":   "",
		"new_vendor":  "yes",
		"external":    nil,
		"empty_obj":   map[string]interface{}{},
		"subtotal":    "AED 75,000",
		"plan_type":   "60/40",
		"ignored_key": 1.0,
	}

	assert.Equal(t, "MBM Gulf", f.String("vendor_name"))
	assert.Equal(t, "100123456789012", f.String("vendor_trn"))
	assert.False(t, f.Has("po_number"))
	assert.True(t, f.Bool("new_vendor", false))
	assert.True(t, f.Bool("external_broker", true))

	amount, ok := f.Amount("amount")
	require.True(t, ok)
	assert.Equal(t, 75000.0, amount)
}

func TestFields_MergeKeepsExisting(t *testing.T) {
	f := Fields{"amount": 100.0, "vendor_name": ""}
	f.merge(map[string]interface{}{"amount": 999.0, "vendor_name": "MBM Gulf", "project_name": nil})

	assert.Equal(t, 100.0, f["amount"])
	assert.Equal(t, "MBM Gulf", f["vendor_name"])
	_, ok := f["project_name"]
	assert.False(t, ok)
}

// ==========================
// Invoice agent
// ==========================

func TestInvoiceAgent_UsesOrchestratorEntities(t *testing.T) {
	stub := gateway.NewStub()
	agent := NewInvoiceAgent(stub, Config{Model: "agent-model"}, calculator.InvoiceOptions{}, logger.NewTestLogger(t))

	resp, err := agent.Process(context.Background(), testQuery("Process invoice from MBM Gulf for AED 2,450,000 for MEP works"), map[string]interface{}{
		"amount":      map[string]interface{}{"value": 2450000.0, "currency": "AED"},
		"vendor_name": "MBM Gulf",
	})
	require.NoError(t, err)

	assert.Empty(t, stub.Calls(), "no extraction call expected")
	assert.Equal(t, models.StatusSuccess, resp.Status)
	assert.Equal(t, "invoice", resp.Agent)
	assert.Equal(t, "corr-1", resp.RequestID)

	require.NotNil(t, resp.Calculation)
	inv := resp.Calculation.Invoice
	require.NotNil(t, inv)
	assert.Equal(t, 2450000.0, inv.Subtotal)
	assert.Equal(t, 122500.0, inv.VATAmount)
	assert.Equal(t, 122500.0, inv.RetentionAmount)
	assert.Equal(t, models.ApprovalCFO, inv.ApprovalLevel)
	assert.Contains(t, inv.RiskFlags, "NO_PO")
	assert.Contains(t, inv.RiskFlags, "HIGH_VALUE")
}

func TestInvoiceAgent_ExtractsWhenAmountMissing(t *testing.T) {
	stub := gateway.NewStub(gateway.StubRule{
		SystemContains: "Invoice Processing Agent",
		Response: map[string]interface{}{
			"amount":     "AED 120,000",
			"po_number":  "PO-7781",
			"vendor_trn": "100234567890123",
		},
	})
	agent := NewInvoiceAgent(stub, Config{Model: "agent-model", MaxTokens: 1500}, calculator.InvoiceOptions{}, logger.NewTestLogger(t))

	resp, err := agent.Process(context.Background(), testQuery("Invoice from Al Futtaim for the lobby works"), map[string]interface{}{
		"vendor_name": "Al Futtaim",
	})
	require.NoError(t, err)

	calls := stub.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "agent-model", calls[0].Model)
	assert.Equal(t, 1500, calls[0].MaxTokens)
	assert.True(t, calls[0].JSONOutput)
	assert.Equal(t, "extract_invoice", calls[0].Schema)
	assert.Contains(t, calls[0].Messages[1].Content, "Al Futtaim")

	assert.Equal(t, models.StatusSuccess, resp.Status)
	assert.Equal(t, "agent-model", resp.Model)
	assert.Equal(t, models.ApprovalProjectManager, resp.Calculation.Invoice.ApprovalLevel)
	assert.NotContains(t, resp.Calculation.Invoice.RiskFlags, "NO_PO")
}

func TestInvoiceAgent_PartialWhenStillMissing(t *testing.T) {
	stub := gateway.NewStub().Fallback(map[string]interface{}{"entities": map[string]interface{}{"vendor_name": "MBM Gulf"}})
	agent := NewInvoiceAgent(stub, Config{}, calculator.InvoiceOptions{}, logger.NewNoOpLogger())

	resp, err := agent.Process(context.Background(), testQuery("Please process the MBM Gulf invoice"), nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusPartial, resp.Status)
	assert.Nil(t, resp.Calculation)
	assert.Equal(t, []string{"missing required field: amount"}, resp.ValidationIssues)
	assert.Equal(t, "MBM Gulf", resp.Extracted["vendor_name"])
}

func TestInvoiceAgent_InvalidTRNIsAnIssue(t *testing.T) {
	agent := NewInvoiceAgent(gateway.NewStub(), Config{}, calculator.InvoiceOptions{}, logger.NewNoOpLogger())

	resp, err := agent.Process(context.Background(), testQuery("invoice"), map[string]interface{}{
		"amount":     40000.0,
		"vendor_trn": "12345",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPartial, resp.Status)
	require.NotNil(t, resp.Calculation)
	assert.Equal(t, models.ApprovalAuto, resp.Calculation.Invoice.ApprovalLevel)
	assert.Len(t, resp.ValidationIssues, 1)
	assert.Contains(t, resp.ValidationIssues[0], "TRN")
}

func TestInvoiceAgent_NegativeAmountIsAnIssue(t *testing.T) {
	agent := NewInvoiceAgent(gateway.NewStub(), Config{}, calculator.InvoiceOptions{}, logger.NewNoOpLogger())

	resp, err := agent.Process(context.Background(), testQuery("invoice"), map[string]interface{}{"amount": -10.0})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPartial, resp.Status)
	assert.Nil(t, resp.Calculation)
	require.Len(t, resp.ValidationIssues, 1)
	assert.Contains(t, resp.ValidationIssues[0], "INVALID_AMOUNT")
}

func TestInvoiceAgent_GatewayErrorPropagates(t *testing.T) {
	stub := gateway.NewStub(gateway.StubRule{Err: gateway.ErrGatewayTimeout})
	agent := NewInvoiceAgent(stub, Config{}, calculator.InvoiceOptions{}, logger.NewNoOpLogger())

	resp, err := agent.Process(context.Background(), testQuery("invoice from MBM"), nil)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, gateway.ErrGatewayTimeout)
}

func TestInvoiceAgent_RetentionHeld(t *testing.T) {
	agent := NewInvoiceAgent(gateway.NewStub(), Config{}, calculator.InvoiceOptions{Convention: calculator.RetentionHeld}, logger.NewNoOpLogger())

	resp, err := agent.Process(context.Background(), testQuery("invoice"), map[string]interface{}{"amount": 100000.0})
	require.NoError(t, err)
	assert.Equal(t, 105000.0, resp.Calculation.Invoice.NetPayable)
}

// ==========================
// Commission agent
// ==========================

func TestCommissionAgent_RateFromQuery(t *testing.T) {
	stub := gateway.NewStub()
	agent := NewCommissionAgent(stub, Config{}, logger.NewTestLogger(t))

	resp, err := agent.Process(context.Background(), testQuery("Calculate commission for AED 8.5M villa sale at 6% rate"), map[string]interface{}{
		"amount":          "AED 8.5M",
		"commission_rate": "6%",
	})
	require.NoError(t, err)
	assert.Empty(t, stub.Calls())

	assert.Equal(t, models.StatusSuccess, resp.Status)
	comm := resp.Calculation.Commission
	require.NotNil(t, comm)
	assert.Equal(t, 8500000.0, comm.SalePrice)
	assert.Equal(t, 510000.0, comm.CommissionTotal)
	assert.Equal(t, 306000.0, comm.External.Amount)
	assert.Equal(t, 204000.0, comm.Internal.Amount)
	assert.Equal(t, 25500.0, comm.VATAmount)
}

func TestCommissionAgent_Validation(t *testing.T) {
	tests := []struct {
		name        string
		entities    map[string]interface{}
		wantStatus  models.ResponseStatus
		wantCalc    bool
		wantIssue   string
		wantTotal   float64
		wantExtAmnt float64
	}{
		{
			name:        "default rate",
			entities:    map[string]interface{}{"sale_price": 1000000.0},
			wantStatus:  models.StatusSuccess,
			wantCalc:    true,
			wantTotal:   50000,
			wantExtAmnt: 30000,
		},
		{
			name:       "rate above maximum",
			entities:   map[string]interface{}{"sale_price": 1000000.0, "commission_rate": 12.0},
			wantStatus: models.StatusPartial,
			wantIssue:  "exceeds",
		},
		{
			name:        "bad BRN",
			entities:    map[string]interface{}{"sale_price": 1000000.0, "brn": "BRN-12"},
			wantStatus:  models.StatusPartial,
			wantCalc:    true,
			wantIssue:   "BRN",
			wantTotal:   50000,
			wantExtAmnt: 30000,
		},
		{
			name:        "half percent string",
			entities:    map[string]interface{}{"sale_price": 40000000.0, "commission_rate": "0.5%"},
			wantStatus:  models.StatusSuccess,
			wantCalc:    true,
			wantTotal:   200000,
			wantExtAmnt: 120000,
		},
		{
			name:        "half percent number",
			entities:    map[string]interface{}{"sale_price": 40000000.0, "commission_rate": 0.5},
			wantStatus:  models.StatusSuccess,
			wantCalc:    true,
			wantTotal:   200000,
			wantExtAmnt: 120000,
		},
		{
			name:        "waived commission",
			entities:    map[string]interface{}{"sale_price": 1000000.0, "commission_rate": 0.0},
			wantStatus:  models.StatusSuccess,
			wantCalc:    true,
			wantTotal:   0,
			wantExtAmnt: 0,
		},
		{
			name:        "direct sale",
			entities:    map[string]interface{}{"sale_price": 1000000.0, "external_broker": false, "brn": "BRN-12345"},
			wantStatus:  models.StatusSuccess,
			wantCalc:    true,
			wantTotal:   50000,
			wantExtAmnt: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := NewCommissionAgent(gateway.NewStub(), Config{}, logger.NewNoOpLogger())
			resp, err := agent.Process(context.Background(), testQuery("commission"), tt.entities)
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, resp.Status)
			if tt.wantIssue != "" {
				require.NotEmpty(t, resp.ValidationIssues)
				assert.Contains(t, resp.ValidationIssues[0], tt.wantIssue)
			}
			if !tt.wantCalc {
				assert.Nil(t, resp.Calculation)
				return
			}
			require.NotNil(t, resp.Calculation)
			assert.Equal(t, tt.wantTotal, resp.Calculation.Commission.CommissionTotal)
			assert.Equal(t, tt.wantExtAmnt, resp.Calculation.Commission.External.Amount)
		})
	}
}

// ==========================
// Payment agent
// ==========================

func TestPaymentAgent_PlanAndFees(t *testing.T) {
	agent := NewPaymentAgent(gateway.NewStub(), Config{}, logger.NewTestLogger(t))

	resp, err := agent.Process(context.Background(), testQuery("Payment plan for a 4,990,000 unit on 60/40"), map[string]interface{}{
		"amount":    "AED 4,990,000",
		"plan_type": "60/40",
		"area_sqft": 2500.0,
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusSuccess, resp.Status)
	plan := resp.Calculation.PaymentPlan
	require.NotNil(t, plan)
	assert.Equal(t, 2994000.0, plan.ConstructionAmount)
	assert.Equal(t, 1996000.0, plan.HandoverAmount)

	fees := resp.Calculation.Fees
	require.NotNil(t, fees)
	assert.Equal(t, 199600.0, fees.DLDFee)
	assert.Equal(t, 100000.0, fees.OqoodFee)
}

func TestPaymentAgent_UnknownPlan(t *testing.T) {
	agent := NewPaymentAgent(gateway.NewStub(), Config{}, logger.NewNoOpLogger())

	resp, err := agent.Process(context.Background(), testQuery("plan"), map[string]interface{}{
		"property_value": 3000000.0,
		"plan_type":      "90/10",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPartial, resp.Status)
	assert.Nil(t, resp.Calculation)
	require.Len(t, resp.ValidationIssues, 1)
	assert.Contains(t, resp.ValidationIssues[0], "UNKNOWN_PAYMENT_PLAN")
}

func TestPaymentAgent_DefaultsPlan(t *testing.T) {
	agent := NewPaymentAgent(gateway.NewStub(), Config{}, logger.NewNoOpLogger())

	resp, err := agent.Process(context.Background(), testQuery("plan"), map[string]interface{}{"property_value": 1000000.0})
	require.NoError(t, err)
	assert.Equal(t, calculator.DefaultPlan, resp.Calculation.PaymentPlan.PlanName)
}

// ==========================
// Registry and schemas
// ==========================

func TestNewRegistry(t *testing.T) {
	stub := gateway.NewStub()
	log := logger.NewNoOpLogger()

	reg, err := NewRegistry(
		NewInvoiceAgent(stub, Config{}, calculator.InvoiceOptions{}, log),
		NewPaymentAgent(stub, Config{}, log),
		NewCommissionAgent(stub, Config{}, log),
	)
	require.NoError(t, err)
	assert.Len(t, reg, 3)
	assert.Equal(t, "payment", reg[models.IntentPayment].Name())

	_, err = NewRegistry(NewPaymentAgent(stub, Config{}, log), NewPaymentAgent(stub, Config{}, log))
	assert.Error(t, err)
}

func TestRegisterSchemas(t *testing.T) {
	v := gateway.NewSchemaValidator()
	require.NoError(t, RegisterSchemas(v, InvoiceDomain(calculator.InvoiceOptions{}), PaymentDomain(), CommissionDomain()))

	assert.NoError(t, v.Validate("extract_invoice", map[string]interface{}{"amount": "AED 5,000", "vendor_name": nil}))
	assert.ErrorIs(t, v.Validate("extract_invoice", map[string]interface{}{"vendor_name": 42.0}), gateway.ErrMalformedOutput)
	assert.NoError(t, v.Validate("extract_payment", map[string]interface{}{"property_value": 1.0}))
	assert.NoError(t, v.Validate("extract_commission", map[string]interface{}{"sale_price": map[string]interface{}{"value": 1.0}}))
}
