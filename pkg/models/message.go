package models

import (
	"encoding/json"
	"time"
)

// BatchEnvelope is the wire form of a message batch on brokers and Redis.
type BatchEnvelope struct {
	ID        string          `json:"id"`
	Source    string          `json:"source"`
	Name      string          `json:"name,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Messages  json.RawMessage `json:"messages"` // JSON array of message objects
	Metadata  Metadata        `json:"metadata"`
}

type Metadata struct {
	TraceID string `json:"trace_id,omitempty"`
	RuleID  string `json:"rule_id,omitempty"`
	SinkID  string `json:"sink_id,omitempty"`
}
