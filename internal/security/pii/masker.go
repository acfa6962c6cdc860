// Package pii masks personal and financial identifiers in free text and
// structured log fields.
package pii

import (
	"regexp"
	"sort"
)

// Kind names a class of identifier.
type Kind string

const (
	KindEmiratesID Kind = "emirates_id"
	KindCard       Kind = "credit_card"
	KindIBAN       Kind = "iban"
	KindTRN        Kind = "trn"
	KindPhone      Kind = "uae_phone"
	KindEmail      Kind = "email"
	KindBRN        Kind = "rera_brn"
	KindPassport   Kind = "passport"
)

var highSensitivity = map[Kind]bool{
	KindEmiratesID: true,
	KindCard:       true,
	KindIBAN:       true,
	KindPassport:   true,
}

// Finding counts the occurrences of one kind in a masked text.
type Finding struct {
	Kind  Kind `json:"kind"`
	Count int  `json:"count"`
}

// MaskResult is the outcome of masking a single text.
type MaskResult struct {
	Text            string    `json:"text"`
	Findings        []Finding `json:"findings,omitempty"`
	HighSensitivity bool      `json:"high_sensitivity"`
}

type rule struct {
	kind  Kind
	re    *regexp.Regexp
	token string
}

// Order matters: longer numeric identifiers are consumed before the broader
// passport and IBAN shapes can claim their digits.
var defaultRules = []rule{
	{KindEmiratesID, regexp.MustCompile(`\b784[-\s]?\d{4}[-\s]?\d{7}[-\s]?\d\b`), "[EMIRATES_ID]"},
	{KindCard, regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`), "[CARD]"},
	{KindTRN, regexp.MustCompile(`\b100\d{12}\b`), "[TRN]"},
	{KindIBAN, regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{4,30}\b`), "[IBAN]"},
	{KindPhone, regexp.MustCompile(`\+?971[-\s]?(?:50|51|52|54|55|56|58)[-\s]?\d{3}[-\s]?\d{4}`), "[PHONE]"},
	{KindEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[EMAIL]"},
	{KindBRN, regexp.MustCompile(`\bBRN[-\s]?\d{5}\b`), "[BRN]"},
	{KindPassport, regexp.MustCompile(`\b[A-Z]{1,2}\d{6,9}\b`), "[PASSPORT]"},
}

// Masker replaces identifiers with category tokens. It is safe for
// concurrent use.
type Masker struct {
	rules []rule
}

// NewMasker returns a masker with the built-in identifier rules.
func NewMasker() *Masker {
	return &Masker{rules: defaultRules}
}

var defaultMasker = NewMasker()

// Mask replaces every recognised identifier with its category token.
// A replacement can open a word boundary for an earlier rule, so the rules
// are re-applied until the text is stable. Each replacement removes digits or
// an "@" and tokens carry neither, so the loop terminates. The result holds no
// identifier and masking it again returns it unchanged.
func (m *Masker) Mask(text string) MaskResult {
	if text == "" {
		return MaskResult{Text: text}
	}
	res := MaskResult{Text: text}
	counts := make(map[Kind]int)
	for changed := true; changed; {
		changed = false
		for _, r := range m.rules {
			matches := r.re.FindAllStringIndex(res.Text, -1)
			if len(matches) == 0 {
				continue
			}
			counts[r.kind] += len(matches)
			if highSensitivity[r.kind] {
				res.HighSensitivity = true
			}
			res.Text = r.re.ReplaceAllString(res.Text, r.token)
			changed = true
		}
	}
	for kind, n := range counts {
		res.Findings = append(res.Findings, Finding{Kind: kind, Count: n})
	}
	sort.Slice(res.Findings, func(i, j int) bool { return res.Findings[i].Kind < res.Findings[j].Kind })
	return res
}

// MaskString returns only the masked text.
func (m *Masker) MaskString(text string) string {
	return m.Mask(text).Text
}

// Contains reports whether text holds any recognised identifier.
func (m *Masker) Contains(text string) bool {
	for _, r := range m.rules {
		if r.re.MatchString(text) {
			return true
		}
	}
	return false
}

// MaskString masks text with the default rules.
func MaskString(text string) string {
	return defaultMasker.MaskString(text)
}
