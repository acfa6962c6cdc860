package api

import (
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	apperrors "finance-orchestrator/internal/common/errors"
	"finance-orchestrator/internal/models"
)

const (
	maxQueryLength        = 5000
	defaultCommissionRate = 5.0
	maxCommissionRate     = 10.0
)

type QueryRequest struct {
	Query   string            `json:"query"`
	Context map[string]string `json:"context,omitempty"`
}

func (r QueryRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Query, validation.Required, validation.RuneLength(1, maxQueryLength)),
	)
}

type InvoiceRequest struct {
	VendorName    string  `json:"vendor_name"`
	InvoiceNumber string  `json:"invoice_number,omitempty"`
	Amount        float64 `json:"amount"`
	ProjectName   string  `json:"project_name"`
	Description   string  `json:"description,omitempty"`
	PONumber      string  `json:"po_number,omitempty"`
	VendorTRN     string  `json:"vendor_trn,omitempty"`
}

func (r InvoiceRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.VendorName, validation.Required),
		validation.Field(&r.Amount, validation.Required, validation.Min(0.0).Exclusive()),
		validation.Field(&r.ProjectName, validation.Required),
	)
}

func (r InvoiceRequest) query() string {
	return fmt.Sprintf(`Process invoice:
- Vendor: %s
- Amount: AED %.2f
- Project: %s
- Description: %s
- PO Number: %s
- Vendor TRN: %s
- Invoice Number: %s`,
		r.VendorName, r.Amount, r.ProjectName,
		orNotProvided(r.Description), orNotProvided(r.PONumber),
		orNotProvided(r.VendorTRN), orNotProvided(r.InvoiceNumber))
}

func (r InvoiceRequest) entities() map[string]interface{} {
	out := map[string]interface{}{
		"vendor_name":  r.VendorName,
		"amount":       r.Amount,
		"project_name": r.ProjectName,
	}
	if r.VendorTRN != "" {
		out["vendor_trn"] = r.VendorTRN
	}
	if r.PONumber != "" {
		out["po_number"] = r.PONumber
	}
	if r.InvoiceNumber != "" {
		out["invoice_number"] = r.InvoiceNumber
	}
	return out
}

type PaymentRequest struct {
	Query         string  `json:"query"`
	PropertyValue float64 `json:"property_value,omitempty"`
	PlanType      string  `json:"plan_type,omitempty"`
	ProjectName   string  `json:"project_name,omitempty"`
	AreaSqft      float64 `json:"area_sqft,omitempty"`
}

func (r PaymentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Query, validation.Required, validation.RuneLength(1, maxQueryLength)),
		validation.Field(&r.PropertyValue, validation.Min(0.0)),
		validation.Field(&r.AreaSqft, validation.Min(0.0)),
	)
}

func (r PaymentRequest) entities() map[string]interface{} {
	out := map[string]interface{}{}
	if r.PropertyValue > 0 {
		out["property_value"] = r.PropertyValue
	}
	if r.PlanType != "" {
		out["plan_type"] = r.PlanType
	}
	if r.ProjectName != "" {
		out["project_name"] = r.ProjectName
	}
	if r.AreaSqft > 0 {
		out["area_sqft"] = r.AreaSqft
	}
	return out
}

type CommissionRequest struct {
	SalePrice      float64  `json:"sale_price"`
	BrokerName     string   `json:"broker_name"`
	BrokerBRN      string   `json:"broker_brn"`
	ProjectName    string   `json:"project_name"`
	UnitID         string   `json:"unit_id,omitempty"`
	CommissionRate *float64 `json:"commission_rate,omitempty"`
}

func (r CommissionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.SalePrice, validation.Required, validation.Min(0.0).Exclusive()),
		validation.Field(&r.BrokerName, validation.Required),
		validation.Field(&r.BrokerBRN, validation.Required),
		validation.Field(&r.ProjectName, validation.Required),
		validation.Field(&r.CommissionRate, validation.Min(0.0), validation.Max(maxCommissionRate)),
	)
}

func (r CommissionRequest) rate() float64 {
	if r.CommissionRate == nil {
		return defaultCommissionRate
	}
	return *r.CommissionRate
}

func (r CommissionRequest) query() string {
	unit := r.UnitID
	if unit == "" {
		unit = "Not specified"
	}
	return fmt.Sprintf(`Calculate commission:
- Sale Price: AED %.2f
- Project: %s
- Broker: %s
- Broker BRN: %s
- Commission Rate: %g%%
- Unit: %s`, r.SalePrice, r.ProjectName, r.BrokerName, r.BrokerBRN, r.rate(), unit)
}

func (r CommissionRequest) entities() map[string]interface{} {
	return map[string]interface{}{
		"sale_price":      r.SalePrice,
		"broker_name":     r.BrokerName,
		"brn":             r.BrokerBRN,
		"project_name":    r.ProjectName,
		"commission_rate": r.rate(),
	}
}

// QueryResponse is the envelope every pipeline endpoint answers with.
type QueryResponse struct {
	RequestID        string                    `json:"request_id"`
	Status           models.ResponseStatus     `json:"status"`
	Intent           models.Intent             `json:"intent,omitempty"`
	Confidence       *float64                  `json:"confidence,omitempty"`
	Agent            string                    `json:"agent,omitempty"`
	Result           *models.CalculationResult `json:"result,omitempty"`
	Entities         map[string]interface{}    `json:"entities,omitempty"`
	ValidationIssues []string                  `json:"validation_issues,omitempty"`
	Notification     *models.Notification      `json:"notification,omitempty"`
	ErrorCode        string                    `json:"error_code,omitempty"`
	Message          string                    `json:"message,omitempty"`
	ProcessingTimeMs int64                     `json:"processing_time_ms"`
	Model            string                    `json:"model,omitempty"`
}

func newQueryResponse(resp *models.AgentResponse) QueryResponse {
	out := QueryResponse{
		RequestID:        resp.RequestID,
		Status:           resp.Status,
		Agent:            resp.Agent,
		Result:           resp.Calculation,
		Entities:         resp.Extracted,
		ValidationIssues: resp.ValidationIssues,
		Notification:     resp.Notification,
		ErrorCode:        resp.ErrorCode,
		Message:          resp.Message,
		ProcessingTimeMs: resp.ProcessingTimeMs,
		Model:            resp.Model,
	}
	if c := resp.Classification; c != nil {
		out.Intent = c.Intent
		confidence := c.Confidence
		out.Confidence = &confidence
		if out.Entities == nil {
			out.Entities = c.Entities
		}
	}
	return out
}

type errorBody struct {
	Error     errorDetail `json:"error"`
	RequestID string      `json:"request_id"`
}

type errorDetail struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

// validationError turns ozzo field errors into an INVALID_INPUT error with a
// stable, sorted message.
func validationError(err error) *apperrors.StandardError {
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		return apperrors.NewInvalidInputError(strings.TrimSuffix(fieldErrs.Error(), "."))
	}
	return apperrors.NewInvalidInputError(err.Error())
}

func orNotProvided(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Not provided"
	}
	return s
}
