package rule

import (
	"time"

	"halia/internal/graph"
)

// Status is the runtime state of a rule on this process.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	// StatusFailed marks a rule whose stages ended with an error. It can be
	// started again.
	StatusFailed Status = "failed"
)

// Rule is a stored rule definition. On records whether the rule should be
// running and survives restarts.
type Rule struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Graph       graph.Conf `json:"graph"`
	On          bool       `json:"on"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// RuleView is a rule together with its runtime state.
type RuleView struct {
	Rule
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

type CreateRuleRequest struct {
	Name        string     `json:"name" binding:"required"`
	Description string     `json:"description"`
	Graph       graph.Conf `json:"graph"`
}

type UpdateRuleRequest struct {
	Name        *string     `json:"name"`
	Description *string     `json:"description"`
	Graph       *graph.Conf `json:"graph"`
}

type SearchQuery struct {
	Name string `form:"name"`
	On   *bool  `form:"on"`
	Page int    `form:"page"`
	Size int    `form:"size"`
}

type SearchResult struct {
	Total int        `json:"total"`
	Items []RuleView `json:"items"`
}

type Summary struct {
	Total int `json:"total"`
	On    int `json:"on"`
	Off   int `json:"off"`
}

// LogEntry is one batch handled by one stage of a running rule.
type LogEntry struct {
	Time      time.Time `json:"time"`
	NodeIndex int       `json:"node_index"`
	NodeType  string    `json:"node_type"`
	In        int       `json:"in"`
	Out       int       `json:"out"`
	ElapsedMs float64   `json:"elapsed_ms"`
}
