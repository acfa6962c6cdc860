package agents

var (
	amountType = map[string]interface{}{"type": []interface{}{"number", "string", "object", "null"}}
	stringType = map[string]interface{}{"type": []interface{}{"string", "null"}}
)

func objectSchema(props map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
}
