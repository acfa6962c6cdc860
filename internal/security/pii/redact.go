package pii

import (
	"fmt"
	"strings"
)

const redactedToken = "[REDACTED]"

// Values under these keys are dropped entirely, whatever they contain.
var sensitiveKeys = []string{"password", "secret", "token", "api_key", "apikey", "authorization"}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// RedactValue masks strings found anywhere inside v. Maps and slices are
// copied; the input is not modified.
func (m *Masker) RedactValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return m.MaskString(val)
	case error:
		return m.MaskString(val.Error())
	case fmt.Stringer:
		return m.MaskString(val.String())
	case map[string]interface{}:
		return m.RedactMap(val)
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			if isSensitiveKey(k) {
				out[k] = redactedToken
				continue
			}
			out[k] = m.MaskString(s)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = m.RedactValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, s := range val {
			out[i] = m.MaskString(s)
		}
		return out
	default:
		return v
	}
}

// RedactMap returns a copy of fields with every string value masked and
// credential-like keys replaced by a fixed token.
func (m *Masker) RedactMap(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if isSensitiveKey(k) {
			out[k] = redactedToken
			continue
		}
		out[k] = m.RedactValue(v)
	}
	return out
}

// RedactMap redacts fields with the default rules.
func RedactMap(fields map[string]interface{}) map[string]interface{} {
	return defaultMasker.RedactMap(fields)
}
