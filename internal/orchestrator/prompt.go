package orchestrator

import (
	"sort"
	"strings"

	"finance-orchestrator/internal/models"
)

// SchemaName is the registered name of the classification reply schema.
const SchemaName = "classification"

var intentDescriptions = map[models.Intent]string{
	models.IntentInvoice:    "vendor invoices, purchase orders, payments to vendors, construction costs",
	models.IntentPayment:    "customer payment plans, milestones, escrow, DLD and registration fees",
	models.IntentCommission: "broker commissions, sales agent payouts, commission splits",
}

func classificationPrompt() string {
	var b strings.Builder
	b.WriteString("You are the finance operations orchestrator for a Dubai real estate developer.\n")
	b.WriteString("Classify the user query into exactly one intent:\n")
	for _, intent := range models.RoutableIntents {
		b.WriteString("- \"" + string(intent) + "\": " + intentDescriptions[intent] + "\n")
	}
	b.WriteString("- \"" + string(models.IntentUnknown) + "\": anything else\n")
	b.WriteString(`
Respond with JSON only:
{
  "intent": "invoice|payment|commission|unknown",
  "confidence": 0.0-1.0,
  "entities": {
    "amount": {"value": number, "currency": "AED"},
    "vendor_name": "string or null",
    "vendor_trn": "string or null",
    "project_name": "string or null",
    "broker_name": "string or null",
    "brn": "string or null",
    "commission_rate": "number (percent) or null",
    "plan_type": "string or null"
  }
}

Extract every amount, name and identifier you see. Never compute derived figures.`)
	return b.String()
}

func userMessage(q models.Query) string {
	if len(q.Context) == 0 {
		return q.Text
	}
	keys := make([]string, 0, len(q.Context))
	for k := range q.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(q.Text)
	b.WriteString("\n\nContext:")
	for _, k := range keys {
		b.WriteString("\n- " + k + ": " + q.Context[k])
	}
	return b.String()
}

// ClassificationSchema is the JSON schema every classification reply must satisfy.
func ClassificationSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"intent", "confidence"},
		"properties": map[string]interface{}{
			"intent":     map[string]interface{}{"type": "string"},
			"confidence": map[string]interface{}{"type": "number"},
			"entities":   map[string]interface{}{"type": []interface{}{"object", "null"}},
		},
	}
}
