package pii

import (
	"errors"

	"finance-orchestrator/internal/common/logger"
)

// MaskingLogger masks identifiers in messages and fields before they reach
// the wrapped logger.
type MaskingLogger struct {
	next   logger.Logger
	masker *Masker
}

// NewMaskingLogger wraps next. A nil masker uses the default rules.
func NewMaskingLogger(next logger.Logger, masker *Masker) logger.Logger {
	if ml, ok := next.(*MaskingLogger); ok {
		return ml
	}
	if masker == nil {
		masker = defaultMasker
	}
	return &MaskingLogger{next: next, masker: masker}
}

func (m *MaskingLogger) Debug(msg string, fields map[string]interface{}) {
	m.next.Debug(m.masker.MaskString(msg), m.masker.RedactMap(fields))
}

func (m *MaskingLogger) Info(msg string, fields map[string]interface{}) {
	m.next.Info(m.masker.MaskString(msg), m.masker.RedactMap(fields))
}

func (m *MaskingLogger) Warn(msg string, fields map[string]interface{}) {
	m.next.Warn(m.masker.MaskString(msg), m.masker.RedactMap(fields))
}

func (m *MaskingLogger) Error(msg string, fields map[string]interface{}) {
	m.next.Error(m.masker.MaskString(msg), m.masker.RedactMap(fields))
}

func (m *MaskingLogger) WithFields(fields map[string]interface{}) logger.Logger {
	return &MaskingLogger{next: m.next.WithFields(m.masker.RedactMap(fields)), masker: m.masker}
}

func (m *MaskingLogger) With(fields map[string]interface{}) logger.Logger {
	return &MaskingLogger{next: m.next.With(m.masker.RedactMap(fields)), masker: m.masker}
}

func (m *MaskingLogger) WithError(err error) logger.Logger {
	if err == nil {
		return m
	}
	return &MaskingLogger{next: m.next.WithError(errors.New(m.masker.MaskString(err.Error()))), masker: m.masker}
}
