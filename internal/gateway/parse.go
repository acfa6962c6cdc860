package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSONContent decodes a model reply into a JSON object. Code fences and
// prose around the object are tolerated. On failure the raw text is dropped.
func ParseJSONContent(raw string) (map[string]interface{}, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrMalformedOutput)
	}

	text = stripFences(text)

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(text), &out); err == nil && out != nil {
		return out, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &out); err == nil && out != nil {
			return out, nil
		}
	}

	return nil, fmt.Errorf("%w: reply is not a JSON object (%d bytes)", ErrMalformedOutput, len(raw))
}

func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.Index(text, "\n"); nl >= 0 {
		text = text[nl+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
