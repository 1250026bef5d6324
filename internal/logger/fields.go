package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldProvider is the structured log field key for the chat provider name.
	FieldProvider = "chat_provider"
	// FieldModel is the structured log field key for the chat model identifier.
	FieldModel = "chat_model"
	// FieldEmail is the structured log field key for a masked email address.
	FieldEmail = "email"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields safely attaches the provided fields to the logger.
// A nil logger is replaced by a no-op logger.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// ChatFields returns fields describing the chat provider and model.
// Empty values are skipped.
func ChatFields(provider, model string) []zap.Field {
	return StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)
}

// WithChatFields attaches the chat provider and model to the logger.
func WithChatFields(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, ChatFields(provider, model)...)
}

// MaskEmail keeps the first rune of the local part and the domain: "jane@example.com" becomes "j***@example.com".
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}

	local := []rune(email[:at])
	return string(local[0]) + "***" + email[at:]
}

// Email returns a zap field carrying the masked address.
func Email(email string) zap.Field {
	return zap.String(FieldEmail, MaskEmail(email))
}
