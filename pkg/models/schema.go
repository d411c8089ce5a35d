package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"halia/pkg/message"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateBatchEnvelope(env *BatchEnvelope) error {
	if env == nil {
		return &ValidationError{
			Field:   "envelope",
			Message: "batch envelope cannot be nil",
		}
	}

	if env.ID == "" {
		return &ValidationError{
			Field:   "id",
			Message: "envelope ID is required",
		}
	}

	if env.Source == "" {
		return &ValidationError{
			Field:   "source",
			Message: "envelope source is required",
		}
	}

	if env.Timestamp.IsZero() {
		return &ValidationError{
			Field:   "timestamp",
			Message: "envelope timestamp is required",
		}
	}

	if len(env.Messages) == 0 {
		return &ValidationError{
			Field:   "messages",
			Message: "envelope messages cannot be empty",
		}
	}

	return nil
}

// Batch decodes the envelope's messages and restores the batch name.
func (env *BatchEnvelope) Batch() (*message.Batch, error) {
	b, err := message.ParseBatch(env.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to decode envelope messages: %w", err)
	}
	b.SetName(env.Name)
	return b, nil
}

// DecodeBatch reads a payload that is either a BatchEnvelope or plain JSON:
// one object or an array of objects.
func DecodeBatch(data []byte) (*message.Batch, *BatchEnvelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var probe struct {
			ID       string          `json:"id"`
			Messages json.RawMessage `json:"messages"`
		}
		if err := json.Unmarshal(trimmed, &probe); err == nil && probe.ID != "" && len(probe.Messages) > 0 {
			var env BatchEnvelope
			if err := json.Unmarshal(trimmed, &env); err != nil {
				return nil, nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
			}
			b, err := env.Batch()
			if err != nil {
				return nil, nil, err
			}
			return b, &env, nil
		}
	}

	b, err := message.ParseBatch(trimmed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return b, nil, nil
}
