package pii

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finance-orchestrator/internal/common/logger"
)

// ==========================
// Mask
// ==========================

func TestMask_Kinds(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		kind  Kind
	}{
		{"emirates id", "ID 784-1990-1234567-1 on file", "ID [EMIRATES_ID] on file", KindEmiratesID},
		{"card", "card 4111 1111 1111 1111", "card [CARD]", KindCard},
		{"trn", "vendor TRN 100123456789012", "vendor TRN [TRN]", KindTRN},
		{"iban", "pay to AE070331234567890123456", "pay to [IBAN]", KindIBAN},
		{"phone", "call +971 50 123 4567", "call [PHONE]", KindPhone},
		{"email", "mail ahmed@mbmgulf.ae today", "mail [EMAIL] today", KindEmail},
		{"brn", "broker BRN-12345", "broker [BRN]", KindBRN},
		{"passport", "passport N1234567", "passport [PASSPORT]", KindPassport},
	}

	m := NewMasker()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := m.Mask(tt.input)
			assert.Equal(t, tt.want, res.Text)
			assert.Equal(t, []Finding{{Kind: tt.kind, Count: 1}}, res.Findings)
		})
	}
}

func TestMask_HighSensitivity(t *testing.T) {
	m := NewMasker()
	assert.True(t, m.Mask("pay to AE070331234567890123456").HighSensitivity)
	assert.False(t, m.Mask("mail ahmed@mbmgulf.ae").HighSensitivity)
}

func TestMask_CountsRepeats(t *testing.T) {
	res := NewMasker().Mask("a@b.ae and c@d.ae")
	assert.Equal(t, "[EMAIL] and [EMAIL]", res.Text)
	assert.Equal(t, []Finding{{Kind: KindEmail, Count: 2}}, res.Findings)
}

func TestMask_LeavesFinanceTextAlone(t *testing.T) {
	inputs := []string{
		"Process invoice from MBM Gulf for AED 2,450,000 for MEP works",
		"Invoice INV-2024-001 with PO-7788",
		"Show me 60/40 payment plan for AED 4,990,000 apartment",
	}
	m := NewMasker()
	for _, in := range inputs {
		assert.Equal(t, in, m.MaskString(in))
		assert.False(t, m.Contains(in))
	}
}

func TestMask_Idempotent(t *testing.T) {
	in := "Broker BRN-12345 (ahmed@mbmgulf.ae, +971 55 987 6543) TRN 100123456789012 IBAN AE070331234567890123456"
	m := NewMasker()
	once := m.MaskString(in)
	again := m.Mask(once)
	assert.Equal(t, once, again.Text)
	assert.Empty(t, again.Findings)
	assert.False(t, m.Contains(once))
}

func TestMask_AdjacentIdentifiers(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "emirates id right after a phone",
			in:   "+971 50 123 4567784-1234-1234567-1",
			want: "[PHONE][EMIRATES_ID]",
		},
		{
			name: "phone digits run on from an iban",
			in:   "AE070331234567890123456971501234567BRN-12345.",
			want: "[IBAN][PHONE][BRN].",
		},
	}

	m := NewMasker()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := m.Mask(tt.in)
			assert.Equal(t, tt.want, res.Text)
			assert.False(t, m.Contains(res.Text))
			assert.Equal(t, res.Text, m.MaskString(res.Text))
		})
	}
}

func TestMask_IdempotentOnConcatenations(t *testing.T) {
	fragments := []string{
		"+971 50 123 4567", "971551234567", "784-1234-1234567-1", "784123412345671",
		"AE070331234567890123456", "GB82WEST12345698765432", "4111 1111 1111 1111",
		"100123456789012", "BRN-12345", "BRN 54321", "ahmed@mbmgulf.ae", "A1234567",
		"invoice", "AED", "2,450,000", " ", "-", ".", "(", ")", "/", ":", "0", "12",
	}
	rng := rand.New(rand.NewSource(42))
	m := NewMasker()

	for i := 0; i < 2000; i++ {
		var sb strings.Builder
		for n := 1 + rng.Intn(6); n > 0; n-- {
			sb.WriteString(fragments[rng.Intn(len(fragments))])
		}
		in := sb.String()

		once := m.MaskString(in)
		require.Equal(t, once, m.MaskString(once), "input %q", in)
		require.False(t, m.Contains(once), "input %q", in)
	}
}

func TestMask_Empty(t *testing.T) {
	res := NewMasker().Mask("")
	assert.Empty(t, res.Text)
	assert.Nil(t, res.Findings)
}

// ==========================
// RedactMap
// ==========================

func TestRedactMap_Nested(t *testing.T) {
	fields := map[string]interface{}{
		"vendor": "MBM Gulf",
		"email":  "ap@mbmgulf.ae",
		"amount": 2450000.0,
		"contact": map[string]interface{}{
			"phone": "+971501234567",
		},
		"refs":    []interface{}{"TRN 100123456789012", 42},
		"err":     errors.New("bounce from ap@mbmgulf.ae"),
		"api_key": "sk-live-123",
	}

	out := RedactMap(fields)
	assert.Equal(t, "MBM Gulf", out["vendor"])
	assert.Equal(t, "[EMAIL]", out["email"])
	assert.Equal(t, 2450000.0, out["amount"])
	assert.Equal(t, "[PHONE]", out["contact"].(map[string]interface{})["phone"])
	assert.Equal(t, []interface{}{"TRN [TRN]", 42}, out["refs"])
	assert.Equal(t, "bounce from [EMAIL]", out["err"])
	assert.Equal(t, "[REDACTED]", out["api_key"])

	// source untouched
	assert.Equal(t, "ap@mbmgulf.ae", fields["email"])
	assert.Nil(t, RedactMap(nil))
}

// ==========================
// MaskingLogger
// ==========================

type entry struct {
	level  string
	msg    string
	fields map[string]interface{}
}

type recordingLogger struct {
	entries *[]entry
	base    map[string]interface{}
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{entries: &[]entry{}, base: map[string]interface{}{}}
}

func (r *recordingLogger) record(level, msg string, fields map[string]interface{}) {
	merged := map[string]interface{}{}
	for k, v := range r.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	*r.entries = append(*r.entries, entry{level: level, msg: msg, fields: merged})
}

func (r *recordingLogger) Debug(msg string, f map[string]interface{}) { r.record("debug", msg, f) }
func (r *recordingLogger) Info(msg string, f map[string]interface{})  { r.record("info", msg, f) }
func (r *recordingLogger) Warn(msg string, f map[string]interface{})  { r.record("warn", msg, f) }
func (r *recordingLogger) Error(msg string, f map[string]interface{}) { r.record("error", msg, f) }

func (r *recordingLogger) WithFields(f map[string]interface{}) logger.Logger {
	base := map[string]interface{}{}
	for k, v := range r.base {
		base[k] = v
	}
	for k, v := range f {
		base[k] = v
	}
	return &recordingLogger{entries: r.entries, base: base}
}

func (r *recordingLogger) With(f map[string]interface{}) logger.Logger { return r.WithFields(f) }

func (r *recordingLogger) WithError(err error) logger.Logger {
	return r.WithFields(map[string]interface{}{"error": err.Error()})
}

func TestMaskingLogger(t *testing.T) {
	rec := newRecordingLogger()
	log := NewMaskingLogger(rec, nil)

	log.With(map[string]interface{}{"user": "ahmed@mbmgulf.ae"}).
		WithError(errors.New("card 4111-1111-1111-1111 declined")).
		Info("notify +971 50 123 4567", map[string]interface{}{"iban": "AE070331234567890123456"})

	require.Len(t, *rec.entries, 1)
	e := (*rec.entries)[0]
	assert.Equal(t, "info", e.level)
	assert.Equal(t, "notify [PHONE]", e.msg)
	assert.Equal(t, "[EMAIL]", e.fields["user"])
	assert.Equal(t, "card [CARD] declined", e.fields["error"])
	assert.Equal(t, "[IBAN]", e.fields["iban"])
}

func TestNewMaskingLogger_NoDoubleWrap(t *testing.T) {
	first := NewMaskingLogger(logger.NewNoOpLogger(), NewMasker())
	assert.Same(t, first, NewMaskingLogger(first, nil))
}
