package injection

import "regexp"

// Pattern is one adversarial phrasing with its risk weight in [0,1].
type Pattern struct {
	Name     string
	Category string
	Weight   float64
	Regex    *regexp.Regexp
}

const (
	CategoryInstructionOverride  = "instruction_override"
	CategoryRoleManipulation     = "role_manipulation"
	CategoryPromptExtraction     = "prompt_extraction"
	CategoryDataExfiltration     = "data_exfiltration"
	CategoryCodeExecution        = "code_execution"
	CategoryJailbreak            = "jailbreak"
	CategorySQLInjection         = "sql_injection"
	CategoryDelimiterInjection   = "delimiter_injection"
	CategoryUnauthorizedTransfer = "unauthorized_transfer"
	CategoryAccountTampering     = "account_tampering"
	CategoryWorkflowBypass       = "workflow_bypass"
	CategoryValidationBypass     = "validation_bypass"
	CategoryEmergencyBypass      = "emergency_bypass"
	CategoryExcessiveSpecial     = "excessive_special_chars"
	CategoryExcessiveLength      = "excessive_length"
)

func p(name, category string, weight float64, expr string) Pattern {
	return Pattern{
		Name:     name,
		Category: category,
		Weight:   weight,
		Regex:    regexp.MustCompile(`(?i)` + expr),
	}
}

// defaultPatterns is evaluated in order; the first blocking match wins.
var defaultPatterns = []Pattern{
	p("ignore_instructions", CategoryInstructionOverride, 0.9, `ignore\s+(previous|all|above|prior)\s+instructions?`),
	p("disregard_instructions", CategoryInstructionOverride, 0.9, `disregard\s+(previous|all|above|prior)\s+instructions?`),
	p("forget_instructions", CategoryInstructionOverride, 0.9, `forget\s+(everything|all|what)\s+.*(told|said|instructed)`),

	p("you_are_now", CategoryRoleManipulation, 0.8, `you\s+are\s+now\s+(a|an|the)\b`),
	p("pretend_to_be", CategoryRoleManipulation, 0.8, `pretend\s+(to\s+be|you\s+are)`),
	p("act_as", CategoryRoleManipulation, 0.7, `act\s+as\s+(a|an|if)\b`),
	p("new_persona", CategoryRoleManipulation, 0.9, `your\s+new\s+(role|persona|identity)`),

	p("reveal_system_prompt", CategoryPromptExtraction, 0.95, `(show|reveal|display|print|output)\s+(your|the)\s+(system|initial)\s+prompt`),
	p("ask_instructions", CategoryPromptExtraction, 0.7, `what\s+(is|are)\s+your\s+(instructions|rules|guidelines)`),
	p("repeat_system_prompt", CategoryPromptExtraction, 0.95, `repeat\s+(your|the)\s+(system|initial)\s+(prompt|instructions)`),

	p("send_data_out", CategoryDataExfiltration, 0.95, `send\s+(this|data|information)\s+to\s+(http|https|email|webhook)`),
	p("encode_and_send", CategoryDataExfiltration, 0.9, `(encode|encrypt|base64)\s+.*(send|transmit|post)`),
	p("http_tooling", CategoryDataExfiltration, 0.9, `curl\s+|wget\s+|fetch\s*\(`),

	p("execute_code", CategoryCodeExecution, 0.9, `(execute|run|eval)\s*(this|the|following)?\s*(code|script|command)`),
	p("python_imports", CategoryCodeExecution, 0.95, `import\s+os|subprocess|shutil`),
	p("dynamic_eval", CategoryCodeExecution, 0.95, `__import__|exec\(|eval\(`),

	p("special_modes", CategoryJailbreak, 0.95, `dan\s*mode|developer\s*mode|god\s*mode`),
	p("do_anything_now", CategoryJailbreak, 0.9, `do\s+anything\s+now`),
	p("bypass_safety", CategoryJailbreak, 0.95, `bypass\s+(safety|security|filters|restrictions)`),

	p("stacked_ddl", CategorySQLInjection, 0.95, `;\s*(drop|delete|truncate|alter|update)\s+`),
	p("tautology", CategorySQLInjection, 0.9, `'\s*(or|and)\s*'?\s*[0-9]*\s*=\s*`),
	p("union_select", CategorySQLInjection, 0.9, `union\s+(all\s+)?select`),

	p("system_delimiter", CategoryDelimiterInjection, 0.95, `<\|?/?system\|?>`),
	p("inst_delimiter", CategoryDelimiterInjection, 0.9, `\[INST\]|\[/INST\]`),
	p("fenced_system", CategoryDelimiterInjection, 0.85, "```system|```instruction"),

	p("transfer_all_funds", CategoryUnauthorizedTransfer, 0.95, `transfer\s+all\s+(funds|money|balance)`),
	p("change_bank_account", CategoryAccountTampering, 0.9, `change\s+(bank\s+)?account\s+(to|number)`),
	p("override_approval", CategoryWorkflowBypass, 0.9, `override\s+approval\s+(workflow|process)`),
	p("skip_checks", CategoryValidationBypass, 0.85, `skip\s+(verification|validation|approval)`),
	p("emergency_override", CategoryEmergencyBypass, 0.8, `emergency\s+(override|approval|access)`),
}

// DefaultPatterns returns a copy of the built-in ordered pattern list.
func DefaultPatterns() []Pattern {
	out := make([]Pattern, len(defaultPatterns))
	copy(out, defaultPatterns)
	return out
}
