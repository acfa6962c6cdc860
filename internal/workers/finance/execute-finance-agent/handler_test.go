package executefinanceagent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finance-orchestrator/internal/agents"
	"finance-orchestrator/internal/calculator"
	"finance-orchestrator/internal/common/errors"
	"finance-orchestrator/internal/common/logger"
	"finance-orchestrator/internal/gateway"
	"finance-orchestrator/internal/models"
)

func newTestHandler(t *testing.T, stub *gateway.Stub) *Handler {
	t.Helper()
	log := logger.NewTestLogger(t)
	reg, err := agents.NewRegistry(
		agents.NewInvoiceAgent(stub, agents.Config{Model: "agent-model"}, calculator.InvoiceOptions{}, log),
		agents.NewPaymentAgent(stub, agents.Config{Model: "agent-model"}, log),
		agents.NewCommissionAgent(stub, agents.Config{Model: "agent-model"}, log),
	)
	require.NoError(t, err)
	return NewHandler(&Config{Enabled: true, Timeout: 5 * time.Second}, reg, nil, nil, log)
}

// ==========================
// Invoice Approval Tests
// ==========================

func TestHandler_Execute_InvoiceApproval(t *testing.T) {
	tests := []struct {
		name             string
		amount           float64
		wantLevel        models.ApprovalLevel
		requiresApproval bool
	}{
		{"auto approved", 30000, models.ApprovalAuto, false},
		{"project manager", 400000, models.ApprovalProjectManager, false},
		{"finance director", 750000, models.ApprovalFinanceDirector, true},
		{"cfo", 2450000, models.ApprovalCFO, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := gateway.NewStub()
			h := newTestHandler(t, stub)

			output, err := h.Execute(context.Background(), &Input{
				Query:         "Process invoice from MBM Gulf",
				Intent:        models.IntentInvoice,
				CorrelationID: "c-1",
				Entities: map[string]interface{}{
					"amount":       tt.amount,
					"vendor_name":  "MBM Gulf",
					"project_name": "DAMAC Lagoons",
				},
			})
			require.NoError(t, err)

			assert.Empty(t, stub.Calls())
			assert.Equal(t, models.StatusSuccess, output.Status)
			assert.Equal(t, "invoice", output.Agent)
			assert.Equal(t, tt.wantLevel, output.ApprovalLevel)
			assert.Equal(t, tt.requiresApproval, output.RequiresApproval)
			assert.Equal(t, tt.amount, output.Amount)
			assert.Equal(t, "MBM Gulf", output.VendorName)
			assert.Equal(t, "DAMAC Lagoons", output.ProjectName)
			assert.Equal(t, calculator.RequiredApprovers(tt.wantLevel), output.RequiredApprovers)
		})
	}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_Commission(t *testing.T) {
	h := newTestHandler(t, gateway.NewStub())

	output, err := h.Execute(context.Background(), &Input{
		Query:         "Calculate commission for AED 8.5M villa sale at 6% rate",
		Intent:        models.IntentCommission,
		CorrelationID: "c-2",
		Entities:      map[string]interface{}{"sale_price": 8500000.0, "commission_rate": 6.0},
	})
	require.NoError(t, err)

	require.NotNil(t, output.Calculation)
	require.NotNil(t, output.Calculation.Commission)
	assert.InDelta(t, 510000, output.Calculation.Commission.CommissionTotal, 0.01)
	assert.False(t, output.RequiresApproval)
	assert.Empty(t, output.ApprovalLevel)
}

func TestHandler_Execute_PartialWhenExtractionIsIncomplete(t *testing.T) {
	stub := gateway.NewStub().Fallback(map[string]interface{}{})
	h := newTestHandler(t, stub)

	output, err := h.Execute(context.Background(), &Input{
		Query:         "Invoice from a vendor, amount to follow",
		Intent:        models.IntentInvoice,
		CorrelationID: "c-3",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPartial, output.Status)
	assert.Contains(t, output.ValidationIssues, "missing required field: amount")
	assert.Nil(t, output.Calculation)
	assert.Len(t, stub.Calls(), 1)
}

func TestHandler_Execute_MasksExtractedPII(t *testing.T) {
	h := newTestHandler(t, gateway.NewStub())

	output, err := h.Execute(context.Background(), &Input{
		Query:         "Invoice from MBM Gulf",
		Intent:        models.IntentInvoice,
		CorrelationID: "c-4",
		Entities: map[string]interface{}{
			"amount":        10000.0,
			"vendor_email":  "ap@mbmgulf.ae",
			"portal_secret": "hunter2",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "[EMAIL]", output.Extracted["vendor_email"])
	assert.Equal(t, "[REDACTED]", output.Extracted["portal_secret"])
}

func TestHandler_Execute_MasksApprovalVariables(t *testing.T) {
	h := newTestHandler(t, gateway.NewStub())

	output, err := h.Execute(context.Background(), &Input{
		Query:         "Invoice from MBM Gulf",
		Intent:        models.IntentInvoice,
		CorrelationID: "c-5",
		Entities: map[string]interface{}{
			"amount":       750000.0,
			"vendor_name":  "MBM Gulf ap@mbmgulf.ae",
			"project_name": "Marina Tower BRN-12345",
		},
	})
	require.NoError(t, err)

	assert.True(t, output.RequiresApproval)
	assert.Equal(t, "MBM Gulf [EMAIL]", output.VendorName)
	assert.Equal(t, "Marina Tower [BRN]", output.ProjectName)
}

// ==========================
// Error Handling Tests
// ==========================

func TestHandler_Execute_Errors(t *testing.T) {
	tests := []struct {
		name     string
		intent   models.Intent
		stubErr  error
		wantCode errors.ErrorCode
	}{
		{"unknown intent", models.IntentUnknown, nil, errors.ErrCodeUnroutableIntent},
		{"gateway timeout", models.IntentPayment, gateway.ErrGatewayTimeout, errors.ErrCodeGatewayTimeout},
		{"gateway unavailable", models.IntentPayment, gateway.ErrGatewayUnavailable, errors.ErrCodeGatewayUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := gateway.NewStub(gateway.StubRule{Err: tt.stubErr})
			if tt.stubErr == nil {
				stub = gateway.NewStub()
			}
			h := newTestHandler(t, stub)

			_, err := h.Execute(context.Background(), &Input{
				Query:         "Show me a payment plan",
				Intent:        tt.intent,
				CorrelationID: "c-5",
			})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.FromError(err).Code)
		})
	}
}

func TestParseInput(t *testing.T) {
	tests := []struct {
		name      string
		variables string
		wantErr   bool
	}{
		{"valid", `{"query":"q","intent":"invoice","correlationId":"c","entities":{"amount":1}}`, false},
		{"unknown intent rejected", `{"query":"q","intent":"general","correlationId":"c"}`, true},
		{"missing intent", `{"query":"q","correlationId":"c"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseInput(tt.variables)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
