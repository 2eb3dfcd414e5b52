package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldRequestID identifies one pricing attempt.
	FieldRequestID = "request_id"
	// FieldStage is the orchestrator stage a log entry belongs to.
	FieldStage = "stage"
	// FieldSourceID identifies a market-data source.
	FieldSourceID = "source_id"
	// FieldRoleID identifies a canonical role.
	FieldRoleID = "role_id"
	// FieldProvider is the structured log field key for the AI provider name.
	FieldProvider = "ai_provider"
	// FieldModel is the structured log field key for the AI model identifier.
	FieldModel = "ai_model"
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

// WithRequest attaches the request id and stage to the logger.
func WithRequest(logger *zap.Logger, requestID, stage string) *zap.Logger {
	return WithFields(logger, StringFields(
		StringField{Key: FieldRequestID, Value: requestID},
		StringField{Key: FieldStage, Value: stage},
	)...)
}

// WithSource attaches source and role ids to the logger.
func WithSource(logger *zap.Logger, sourceID, roleID string) *zap.Logger {
	return WithFields(logger, StringFields(
		StringField{Key: FieldSourceID, Value: sourceID},
		StringField{Key: FieldRoleID, Value: roleID},
	)...)
}

// WithProvider attaches the AI provider and model to the logger.
func WithProvider(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)...)
}
