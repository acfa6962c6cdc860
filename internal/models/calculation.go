// internal/models/calculation.go
package models

type ApprovalLevel string

const (
	ApprovalAuto            ApprovalLevel = "auto"
	ApprovalProjectManager  ApprovalLevel = "project_manager"
	ApprovalFinanceDirector ApprovalLevel = "finance_director"
	ApprovalCFO             ApprovalLevel = "cfo"
)

// RequiresNotification reports whether the level is escalated beyond line management.
func (l ApprovalLevel) RequiresNotification() bool {
	return l == ApprovalFinanceDirector || l == ApprovalCFO
}

type CalculationKind string

const (
	CalculationInvoice     CalculationKind = "invoice"
	CalculationCommission  CalculationKind = "commission"
	CalculationPaymentPlan CalculationKind = "payment_plan"
)

// CalculationResult wraps exactly one domain calculation.
type CalculationResult struct {
	Kind        CalculationKind         `json:"kind"`
	Invoice     *InvoiceCalculation     `json:"invoice,omitempty"`
	Commission  *CommissionCalculation  `json:"commission,omitempty"`
	PaymentPlan *PaymentPlanCalculation `json:"payment_plan,omitempty"`
	Fees        *FeeCalculation         `json:"fees,omitempty"`
}

type InvoiceCalculation struct {
	Subtotal            float64       `json:"subtotal"`
	VATRate             float64       `json:"vat_rate"`
	VATAmount           float64       `json:"vat_amount"`
	RetentionRate       float64       `json:"retention_rate"`
	RetentionAmount     float64       `json:"retention_amount"`
	Total               float64       `json:"total"`
	NetPayable          float64       `json:"net_payable"`
	RetentionConvention string        `json:"retention_convention"`
	ApprovalLevel       ApprovalLevel `json:"approval_level"`
	RequiredApprovers   []string      `json:"required_approvers"`
	RiskFlags           []string      `json:"risk_flags,omitempty"`
	RiskScore           float64       `json:"risk_score"`
}

type CommissionShare struct {
	Name       string  `json:"name,omitempty"`
	Percentage float64 `json:"percentage"`
	Amount     float64 `json:"amount"`
	VAT        float64 `json:"vat"`
	Total      float64 `json:"total"`
}

type CommissionCalculation struct {
	SalePrice       float64         `json:"sale_price"`
	CommissionRate  float64         `json:"commission_rate"`
	CommissionTotal float64         `json:"commission_amount"`
	VATRate         float64         `json:"vat_rate"`
	VATAmount       float64         `json:"vat_amount"`
	TotalWithVAT    float64         `json:"total_with_vat"`
	External        CommissionShare `json:"external_broker"`
	Internal        CommissionShare `json:"internal_sales"`
}

type Milestone struct {
	Number      int     `json:"milestone"`
	Description string  `json:"description"`
	Percentage  float64 `json:"percentage"`
	Amount      float64 `json:"amount"`
	Timing      string  `json:"timing"`
}

type PaymentPlanCalculation struct {
	PlanName            string      `json:"plan_type"`
	PropertyValue       float64     `json:"property_value"`
	ConstructionPercent float64     `json:"construction_percent"`
	HandoverPercent     float64     `json:"handover_percent"`
	ConstructionAmount  float64     `json:"construction_amount"`
	HandoverAmount      float64     `json:"handover_amount"`
	Milestones          []Milestone `json:"milestones"`
}

type FeeCalculation struct {
	PropertyValue float64 `json:"property_value"`
	DLDRate       float64 `json:"dld_fee_rate"`
	DLDFee        float64 `json:"dld_fee"`
	AdminFee      float64 `json:"admin_fee"`
	OqoodFee      float64 `json:"oqood_fee"`
	OffPlan       bool    `json:"is_offplan"`
	TotalFees     float64 `json:"total_fees"`
}
