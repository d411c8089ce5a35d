package rule

import (
	"context"

	"halia/internal/connector"
)

type Service interface {
	Create(ctx context.Context, req CreateRuleRequest) (*RuleView, error)
	Get(ctx context.Context, id string) (*RuleView, error)
	Update(ctx context.Context, id string, req UpdateRuleRequest) (*RuleView, error)
	Delete(ctx context.Context, id string) error
	Start(ctx context.Context, id string) (*RuleView, error)
	Stop(ctx context.Context, id string) (*RuleView, error)
	Search(ctx context.Context, q SearchQuery) (*SearchResult, error)
	Summary(ctx context.Context) (*Summary, error)
	Logs(ctx context.Context, id string, limit int) ([]LogEntry, error)
	SetLogEnabled(ctx context.Context, id string, enabled bool) error
}

var _ Service = (*Manager)(nil)

// Connectors is the view of the collaborator registry the HTTP API exposes.
type Connectors interface {
	List() []connector.Info
	MemorySource(id string) (*connector.MemorySource, error)
	MemorySink(id string) (*connector.MemoryWriter, error)
}

var _ Connectors = (*connector.Hub)(nil)
