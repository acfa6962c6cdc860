package agents

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Fields is the merged entity map an agent works from.
type Fields map[string]interface{}

// fieldAliases lists the alternate keys models use for a canonical field.
var fieldAliases = map[string][]string{
	"amount":          {"invoice_amount", "subtotal", "total_amount", "value"},
	"vendor_name":     {"vendor", "supplier", "contractor"},
	"vendor_trn":      {"trn", "tax_registration_number"},
	"po_number":       {"po", "purchase_order", "po_reference"},
	"project_name":    {"project"},
	"sale_price":      {"amount", "property_value", "price", "sale_amount"},
	"commission_rate": {"rate", "commission_percentage", "commission_percent"},
	"broker_name":     {"broker", "agency", "agent_name"},
	"brn":             {"broker_brn", "rera_brn", "broker_registration_number"},
	"property_value":  {"amount", "sale_price", "price", "unit_price"},
	"plan_type":       {"payment_plan", "plan"},
	"area_sqft":       {"area", "sqft", "size_sqft"},
}

// Lookup returns the first non-empty value under name or one of its aliases.
func (f Fields) Lookup(name string) (interface{}, bool) {
	keys := append([]string{name}, fieldAliases[name]...)
	for _, k := range keys {
		if v, ok := f[k]; ok && !isEmpty(v) {
			return v, true
		}
	}
	return nil, false
}

func (f Fields) Has(name string) bool {
	_, ok := f.Lookup(name)
	return ok
}

// Amount coerces name into a monetary value.
func (f Fields) Amount(name string) (float64, bool) {
	v, ok := f.Lookup(name)
	if !ok {
		return 0, false
	}
	return ToAmount(v)
}

// Percent coerces name into a percentage in [0,100].
func (f Fields) Percent(name string) (float64, bool) {
	v, ok := f.Lookup(name)
	if !ok {
		return 0, false
	}
	return ToPercent(v)
}

func (f Fields) String(name string) string {
	v, ok := f.Lookup(name)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

// Bool reads name as a boolean, returning def when absent or unreadable.
func (f Fields) Bool(name string, def bool) bool {
	v, ok := f.Lookup(name)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "y", "1":
			return true
		case "false", "no", "n", "0":
			return false
		}
	}
	return def
}

// merge fills keys missing from f with values from extra.
func (f Fields) merge(extra map[string]interface{}) {
	for k, v := range extra {
		if isEmpty(v) {
			continue
		}
		if cur, ok := f[k]; ok && !isEmpty(cur) {
			continue
		}
		f[k] = v
	}
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s == "" || s == "null" || s == "none" || s == "n/a"
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}

var (
	currencyRe   = regexp.MustCompile(`(?i)\b(aed|dhs?|dirhams?|usd)\b|د\.إ`)
	amountRe     = regexp.MustCompile(`^(-?\d+(?:\.\d+)?)\s*(k|m|mn|b|bn|thousand|million|billion)?$`)
	scaleFactors = map[string]float64{
		"k": 1e3, "thousand": 1e3,
		"m": 1e6, "mn": 1e6, "million": 1e6,
		"b": 1e9, "bn": 1e9, "billion": 1e9,
	}
)

// ToAmount reads numbers, numeric strings such as "AED 2,450,000" or "8.5M",
// and {value, currency} objects.
func ToAmount(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, finite(n)
	case float32:
		return float64(n), finite(float64(n))
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil && finite(f)
	case string:
		return parseAmountString(n)
	case map[string]interface{}:
		for _, k := range []string{"value", "amount"} {
			if inner, ok := n[k]; ok {
				return ToAmount(inner)
			}
		}
	}
	return 0, false
}

func parseAmountString(s string) (float64, bool) {
	s = currencyRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ToLower(strings.TrimSpace(s))
	m := amountRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if scale, ok := scaleFactors[m[2]]; ok {
		f *= scale
	}
	return f, finite(f)
}

// ToPercent reads "6%" and 6 as six percent. Every value is already a
// percentage, so 0.5 and "0.5%" are half a percent.
func ToPercent(v interface{}) (float64, bool) {
	var (
		f  float64
		ok bool
	)
	if s, isStr := v.(string); isStr {
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
		var err error
		f, err = strconv.ParseFloat(s, 64)
		ok = err == nil && finite(f)
	} else {
		f, ok = ToAmount(v)
	}
	if !ok {
		return 0, false
	}
	return math.Round(f*10000) / 10000, true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
