// Package validation checks Zeebe job variables against a small declarative
// schema before a worker decodes them.
package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// JSONSchema describes the job variables a worker accepts.
type JSONSchema struct {
	Type                 string              `json:"type"`
	Properties           map[string]Property `json:"properties"`
	Required             []string            `json:"required,omitempty"`
	AdditionalProperties bool                `json:"additionalProperties,omitempty"`
}

type Property struct {
	Type      string    `json:"type"`
	Minimum   *float64  `json:"minimum,omitempty"`
	Maximum   *float64  `json:"maximum,omitempty"`
	Enum      []string  `json:"enum,omitempty"`
	Pattern   string    `json:"pattern,omitempty"`
	MinLength *int      `json:"minLength,omitempty"`
	MaxLength *int      `json:"maxLength,omitempty"`
	Nullable  bool      `json:"nullable,omitempty"`
	Items     *Property `json:"items,omitempty"`
	Values    *Property `json:"values,omitempty"` // every value of an object
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ValidateInput checks input against schema. Errors are sorted by field so
// messages are stable.
func ValidateInput(input map[string]interface{}, schema JSONSchema) *ValidationResult {
	var errs []ValidationError

	for _, field := range schema.Required {
		v, ok := input[field]
		if !ok || v == nil {
			errs = append(errs, ValidationError{Field: field, Message: "required field missing", Code: "REQUIRED_FIELD_MISSING"})
		}
	}

	for name, value := range input {
		prop, ok := schema.Properties[name]
		if !ok {
			if !schema.AdditionalProperties {
				errs = append(errs, ValidationError{Field: name, Message: "field not allowed in schema", Code: "EXTRA_FIELD"})
			}
			continue
		}
		errs = append(errs, validateField(name, value, prop)...)
	}

	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return &ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func validateField(name string, value interface{}, prop Property) []ValidationError {
	if value == nil {
		if prop.Nullable {
			return nil
		}
		return []ValidationError{{Field: name, Message: "expected " + prop.Type + ", got null", Code: "INVALID_TYPE"}}
	}
	if err := validateType(value, prop.Type); err != nil {
		return []ValidationError{{Field: name, Message: err.Error(), Code: "INVALID_TYPE"}}
	}

	var errs []ValidationError
	add := func(code, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: name, Message: fmt.Sprintf(format, args...), Code: code})
	}

	switch v := value.(type) {
	case string:
		n := utf8.RuneCountInString(v)
		if prop.MinLength != nil && n < *prop.MinLength {
			add("MIN_LENGTH_VIOLATION", "value must be at least %d characters", *prop.MinLength)
		}
		if prop.MaxLength != nil && n > *prop.MaxLength {
			add("MAX_LENGTH_VIOLATION", "value must be at most %d characters", *prop.MaxLength)
		}
		if prop.Pattern != "" {
			if matched, err := regexp.MatchString(prop.Pattern, v); err != nil || !matched {
				add("PATTERN_MISMATCH", "value must match pattern %s", prop.Pattern)
			}
		}
		if len(prop.Enum) > 0 && !contains(prop.Enum, v) {
			add("INVALID_ENUM_VALUE", "value must be one of %s", strings.Join(prop.Enum, ", "))
		}
	case []interface{}:
		if prop.Items != nil {
			for i, item := range v {
				errs = append(errs, validateField(fmt.Sprintf("%s[%d]", name, i), item, *prop.Items)...)
			}
		}
	case map[string]interface{}:
		if prop.Values != nil {
			for k, item := range v {
				errs = append(errs, validateField(name+"."+k, item, *prop.Values)...)
			}
		}
	}

	if num, ok := toFloat(value); ok {
		if prop.Minimum != nil && num < *prop.Minimum {
			add("MINIMUM_VIOLATION", "value must be >= %g", *prop.Minimum)
		}
		if prop.Maximum != nil && num > *prop.Maximum {
			add("MAXIMUM_VIOLATION", "value must be <= %g", *prop.Maximum)
		}
	}
	return errs
}

func validateType(value interface{}, expected string) error {
	ok := true
	switch expected {
	case "string":
		_, ok = value.(string)
	case "number":
		_, ok = toFloat(value)
	case "integer":
		var f float64
		f, ok = toFloat(value)
		ok = ok && f == float64(int64(f))
	case "boolean":
		_, ok = value.(bool)
	case "object":
		_, ok = value.(map[string]interface{})
	case "array":
		_, ok = value.([]interface{})
	}
	if !ok {
		return fmt.Errorf("expected %s, got %T", expected, value)
	}
	return nil
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// GetErrorMessages returns "field: message" per error.
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// HasErrors reports whether field (or anything nested under it) failed.
func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field || strings.HasPrefix(err.Field, field+".") || strings.HasPrefix(err.Field, field+"[") {
			return true
		}
	}
	return false
}

// Float and Int build the pointer bounds used in Property literals.
func Float(v float64) *float64 { return &v }

func Int(v int) *int { return &v }
