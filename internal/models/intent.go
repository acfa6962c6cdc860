// internal/models/intent.go
package models

import "strings"

type Intent string

const (
	IntentInvoice    Intent = "invoice"
	IntentPayment    Intent = "payment"
	IntentCommission Intent = "commission"
	IntentUnknown    Intent = "unknown"
)

// RoutableIntents lists the intents that map to an agent, in prompt order.
var RoutableIntents = []Intent{IntentInvoice, IntentPayment, IntentCommission}

// ParseIntent maps a model label onto the closed intent set.
// Anything outside the set, including the legacy "general" label, is unknown.
func ParseIntent(label string) Intent {
	switch Intent(strings.ToLower(strings.TrimSpace(label))) {
	case IntentInvoice:
		return IntentInvoice
	case IntentPayment:
		return IntentPayment
	case IntentCommission:
		return IntentCommission
	default:
		return IntentUnknown
	}
}

func (i Intent) IsRoutable() bool {
	return i == IntentInvoice || i == IntentPayment || i == IntentCommission
}

func (i Intent) String() string {
	return string(i)
}
