package models

import "time"

// RuleEvent announces a rule lifecycle change on the events topic.
type RuleEvent struct {
	EventType string                 `json:"event_type"`
	RuleID    string                 `json:"rule_id"`
	RuleName  string                 `json:"rule_name,omitempty"`
	Action    string                 `json:"action"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

const (
	EventTypeRuleChanged = "rule_changed"
	EventTypeRuleState   = "rule_state"
)

const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
)
