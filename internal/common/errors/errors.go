// Package errors provides standardized error codes for the query pipeline,
// the HTTP API and the Zeebe workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Pipeline errors
const (
	ErrCodeUnsafeInput            ErrorCode = "UNSAFE_INPUT"
	ErrCodeLowConfidence          ErrorCode = "LOW_CONFIDENCE_CLASSIFICATION"
	ErrCodeClassificationRejected ErrorCode = "CLASSIFICATION_REJECTED"
	ErrCodeUnroutableIntent       ErrorCode = "UNROUTABLE_INTENT"
	ErrCodeValidationIncomplete   ErrorCode = "VALIDATION_INCOMPLETE"

	ErrCodeGatewayTimeout     ErrorCode = "GATEWAY_TIMEOUT"
	ErrCodeGatewayUnavailable ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrCodeMalformedOutput    ErrorCode = "MALFORMED_MODEL_OUTPUT"

	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeRateLimited  ErrorCode = "RATE_LIMITED"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// Infrastructure errors
const (
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeAuditWriteFailed         ErrorCode = "AUDIT_WRITE_FAILED"
	ErrCodeNotificationSendFailed   ErrorCode = "NOTIFICATION_SEND_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is matches another StandardError with the same code.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	return ok && t.Code == e.Code
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnsafeInputError reports a query blocked by the injection scanner.
func NewUnsafeInputError(category, severity string) *StandardError {
	e := newError(ErrCodeUnsafeInput, "Query rejected by security screening", "category: "+category, false)
	e.Metadata = map[string]interface{}{"category": category, "severity": severity}
	return e
}

// NewLowConfidenceError reports a classification below the routing threshold.
func NewLowConfidenceError(confidence, threshold float64) *StandardError {
	e := newError(ErrCodeLowConfidence,
		"Could not determine what you are asking for; please rephrase with more detail",
		fmt.Sprintf("confidence %.2f below threshold %.2f", confidence, threshold), false)
	e.Metadata = map[string]interface{}{"confidence": confidence, "threshold": threshold}
	return e
}

// NewClassificationRejectedError reports a provider policy refusal.
func NewClassificationRejectedError(details string) *StandardError {
	return newError(ErrCodeClassificationRejected, "The model provider declined to process this query", details, false)
}

// NewUnroutableIntentError reports an intent with no registered agent.
func NewUnroutableIntentError(intent string) *StandardError {
	return newError(ErrCodeUnroutableIntent, "No agent handles this kind of request", "intent: "+intent, false)
}

// NewValidationIncompleteError lists required fields the query did not supply.
func NewValidationIncompleteError(missing []string) *StandardError {
	e := newError(ErrCodeValidationIncomplete, "Required information is missing",
		"missing: "+strings.Join(missing, ", "), false)
	e.Metadata = map[string]interface{}{"missing": missing}
	return e
}

// NewGatewayTimeoutError creates a retryable model gateway timeout.
func NewGatewayTimeoutError(err error) *StandardError {
	return newError(ErrCodeGatewayTimeout, "The language model did not respond in time", errDetails(err), true)
}

// NewGatewayUnavailableError creates a retryable model gateway outage.
func NewGatewayUnavailableError(err error) *StandardError {
	return newError(ErrCodeGatewayUnavailable, "The language model service is unavailable", errDetails(err), true)
}

// NewMalformedOutputError reports a model reply that was not valid structured output.
// The raw reply is never attached.
func NewMalformedOutputError() *StandardError {
	return newError(ErrCodeMalformedOutput, "The language model returned an unreadable response", "", true)
}

// NewInvalidInputError creates a non-retryable request validation error.
func NewInvalidInputError(details string) *StandardError {
	return newError(ErrCodeInvalidInput, "Invalid request", details, false)
}

// NewRateLimitedError reports a rejected request and when to retry.
func NewRateLimitedError(retryAfter time.Duration) *StandardError {
	e := newError(ErrCodeRateLimited, "Rate limit exceeded", fmt.Sprintf("retry after %s", retryAfter), true)
	e.Metadata = map[string]interface{}{"retryAfterSeconds": int(retryAfter.Seconds())}
	return e
}

// NewUnauthorizedError creates an authentication failure.
func NewUnauthorizedError(details string) *StandardError {
	return newError(ErrCodeUnauthorized, "Authentication required", details, false)
}

// NewForbiddenError reports an operation outside the caller's role limits.
func NewForbiddenError(details string) *StandardError {
	return newError(ErrCodeForbidden, "Operation not permitted", details, false)
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", errDetails(err), false)
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseConnectionFailed, "Database connection failed", errDetails(err), true)
}

// NewAuditWriteFailedError creates a retryable audit sink error.
func NewAuditWriteFailedError(sink string, err error) *StandardError {
	return newError(ErrCodeAuditWriteFailed, fmt.Sprintf("Audit sink '%s' write failed", sink), errDetails(err), true)
}

// NewNotificationSendFailedError creates a retryable notification send error.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return newError(ErrCodeNotificationSendFailed, fmt.Sprintf("Failed to send %s notification", channel), errDetails(err), true)
}

// Generic constructors

func NewBusinessRuleError(message, details string) *StandardError {
	return newError("BUSINESS_RULE_VIOLATION", message, details, false)
}

func NewExternalServiceError(service string, err error) *StandardError {
	return newError("EXTERNAL_SERVICE_ERROR", fmt.Sprintf("External service '%s' error", service), errDetails(err), true)
}

func NewTimeoutError(service string, err error) *StandardError {
	return newError("TIMEOUT_ERROR", fmt.Sprintf("Service '%s' timeout", service), errDetails(err), true)
}

func NewResourceNotFoundError(service, details string) *StandardError {
	return newError("RESOURCE_NOT_FOUND", fmt.Sprintf("Resource not found in %s", service), details, false)
}

func NewAuthenticationError(details string) *StandardError {
	return newError("AUTHENTICATION_ERROR", "Authentication failed", details, false)
}

func errDetails(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ==========================
// 4. Error Conversion
// ==========================

// sentinelCodes maps package sentinel messages to error codes.
var sentinelCodes = map[string]ErrorCode{
	string(ErrCodeUnsafeInput):            ErrCodeUnsafeInput,
	string(ErrCodeLowConfidence):          ErrCodeLowConfidence,
	string(ErrCodeClassificationRejected): ErrCodeClassificationRejected,
	string(ErrCodeUnroutableIntent):       ErrCodeUnroutableIntent,
	string(ErrCodeValidationIncomplete):   ErrCodeValidationIncomplete,
	string(ErrCodeGatewayTimeout):         ErrCodeGatewayTimeout,
	string(ErrCodeGatewayUnavailable):     ErrCodeGatewayUnavailable,
	string(ErrCodeMalformedOutput):        ErrCodeMalformedOutput,
	string(ErrCodeInvalidInput):           ErrCodeInvalidInput,
	string(ErrCodeRateLimited):            ErrCodeRateLimited,
	string(ErrCodeUnauthorized):           ErrCodeUnauthorized,
	"INVALID_AMOUNT":                      ErrCodeInvalidInput,
	"INVALID_RATE":                        ErrCodeInvalidInput,
	"UNKNOWN_PAYMENT_PLAN":                ErrCodeInvalidInput,
	"OPERATION_NOT_PERMITTED":             ErrCodeForbidden,
	"UNKNOWN_ROLE":                        ErrCodeForbidden,
	"context deadline exceeded":           ErrCodeGatewayTimeout,
}

// FromError converts any error into a StandardError. StandardErrors pass
// through; sentinel errors anywhere in the wrap chain are mapped by code;
// everything else becomes INTERNAL_ERROR.
func FromError(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	if code, ok := findSentinel(err); ok {
		return fromCode(code, err)
	}
	return NewInternalError(err)
}

func findSentinel(err error) (ErrorCode, bool) {
	for err != nil {
		if code, ok := sentinelCodes[err.Error()]; ok {
			return code, true
		}
		if multi, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range multi.Unwrap() {
				if code, ok := findSentinel(e); ok {
					return code, true
				}
			}
			return "", false
		}
		err = stderrors.Unwrap(err)
	}
	return "", false
}

func fromCode(code ErrorCode, err error) *StandardError {
	switch code {
	case ErrCodeGatewayTimeout:
		return NewGatewayTimeoutError(err)
	case ErrCodeGatewayUnavailable:
		return NewGatewayUnavailableError(err)
	case ErrCodeMalformedOutput:
		return NewMalformedOutputError()
	case ErrCodeClassificationRejected:
		return NewClassificationRejectedError(err.Error())
	case ErrCodeInvalidInput:
		return NewInvalidInputError(err.Error())
	case ErrCodeForbidden:
		return NewForbiddenError(err.Error())
	case ErrCodeUnauthorized:
		return NewUnauthorizedError(err.Error())
	default:
		return newError(code, humanMessage(code), err.Error(), IsRetryableErrorCode(code))
	}
}

func humanMessage(code ErrorCode) string {
	switch code {
	case ErrCodeUnsafeInput:
		return "Query rejected by security screening"
	case ErrCodeLowConfidence:
		return "Could not determine what you are asking for; please rephrase with more detail"
	case ErrCodeUnroutableIntent:
		return "No agent handles this kind of request"
	case ErrCodeValidationIncomplete:
		return "Required information is missing"
	case ErrCodeRateLimited:
		return "Rate limit exceeded"
	default:
		return "Request failed"
	}
}

// BPMNErrorMapping maps internal error codes to BPMN error codes declared in
// the finance process models.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeUnsafeInput:            "UNSAFE_INPUT",
	ErrCodeLowConfidence:          "LOW_CONFIDENCE_CLASSIFICATION",
	ErrCodeClassificationRejected: "CLASSIFICATION_REJECTED",
	ErrCodeUnroutableIntent:       "UNROUTABLE_INTENT",
	ErrCodeValidationIncomplete:   "VALIDATION_INCOMPLETE",
	ErrCodeGatewayTimeout:         "GATEWAY_TIMEOUT",
	ErrCodeGatewayUnavailable:     "GATEWAY_UNAVAILABLE",
	ErrCodeMalformedOutput:        "MALFORMED_MODEL_OUTPUT",
	ErrCodeInvalidInput:           "INVALID_INPUT",
	ErrCodeNotificationSendFailed: "NOTIFICATION_SEND_FAILED",
}

// GetRetryCount returns the recommended job retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeGatewayUnavailable,
		ErrCodeDatabaseConnectionFailed,
		ErrCodeAuditWriteFailed,
		ErrCodeNotificationSendFailed:
		return 3

	case ErrCodeGatewayTimeout,
		ErrCodeRateLimited:
		return 2

	case ErrCodeMalformedOutput:
		return 1

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// HTTPStatus maps an error code to the status the API answers with.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeUnsafeInput, ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeUnauthorized, "AUTHENTICATION_ERROR":
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeLowConfidence, ErrCodeValidationIncomplete, ErrCodeClassificationRejected,
		ErrCodeUnroutableIntent, "BUSINESS_RULE_VIOLATION":
		return http.StatusUnprocessableEntity
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeMalformedOutput:
		return http.StatusBadGateway
	case ErrCodeGatewayTimeout, ErrCodeGatewayUnavailable:
		return http.StatusServiceUnavailable
	case "RESOURCE_NOT_FOUND":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "UNSAFE") || strings.Contains(codeStr, "AUTH") ||
		strings.Contains(codeStr, "FORBIDDEN") || strings.Contains(codeStr, "RATE"):
		return "SECURITY"
	case strings.Contains(codeStr, "GATEWAY") || strings.Contains(codeStr, "MODEL") ||
		strings.Contains(codeStr, "CLASSIFICATION") || strings.Contains(codeStr, "INTENT"):
		return "AI"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "AUDIT"):
		return "DATABASE"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
