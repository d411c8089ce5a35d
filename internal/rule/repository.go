package rule

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository persists rule definitions. Get, Update, SetOn and Delete return
// a NOT_FOUND error for unknown ids; Create and Update return CONFLICT when
// the name is taken by another rule.
type Repository interface {
	Create(ctx context.Context, rule *Rule) error
	Get(ctx context.Context, id string) (*Rule, error)
	Update(ctx context.Context, rule *Rule) error
	SetOn(ctx context.Context, id string, on bool) error
	Delete(ctx context.Context, id string) error
	// Search returns one page of rules, newest first, and the total number
	// of matches.
	Search(ctx context.Context, q SearchQuery) ([]Rule, int, error)
	// ListOn returns every rule marked on.
	ListOn(ctx context.Context) ([]Rule, error)
	Count(ctx context.Context) (total, on int, err error)
}

func prepareNew(rule *Rule) {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
}

// MemoryRepository keeps rules in process memory. Definitions are lost on
// restart.
type MemoryRepository struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rules: make(map[string]Rule)}
}

func (r *MemoryRepository) nameTaken(name, exceptID string) bool {
	for id, rule := range r.rules {
		if id != exceptID && rule.Name == name {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) Create(_ context.Context, rule *Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nameTaken(rule.Name, "") {
		return nameConflict(rule.Name, nil)
	}
	prepareNew(rule)
	r.rules[rule.ID] = *rule
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, notFound(id)
	}
	return &rule, nil
}

func (r *MemoryRepository) Update(_ context.Context, rule *Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.rules[rule.ID]
	if !ok {
		return notFound(rule.ID)
	}
	if r.nameTaken(rule.Name, rule.ID) {
		return nameConflict(rule.Name, nil)
	}
	rule.CreatedAt = old.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	r.rules[rule.ID] = *rule
	return nil
}

func (r *MemoryRepository) SetOn(_ context.Context, id string, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return notFound(id)
	}
	rule.On = on
	r.rules[id] = rule
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[id]; !ok {
		return notFound(id)
	}
	delete(r.rules, id)
	return nil
}

func (r *MemoryRepository) sorted(keep func(Rule) bool) []Rule {
	out := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		if keep(rule) {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *MemoryRepository) Search(_ context.Context, q SearchQuery) ([]Rule, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	needle := strings.ToLower(q.Name)
	matches := r.sorted(func(rule Rule) bool {
		if needle != "" && !strings.Contains(strings.ToLower(rule.Name), needle) {
			return false
		}
		return q.On == nil || rule.On == *q.On
	})

	total := len(matches)
	start := min(offset(q), total)
	end := total
	if q.Size > 0 {
		end = min(start+q.Size, total)
	}
	return matches[start:end], total, nil
}

func (r *MemoryRepository) ListOn(_ context.Context) ([]Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted(func(rule Rule) bool { return rule.On }), nil
}

func (r *MemoryRepository) Count(_ context.Context) (int, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	on := 0
	for _, rule := range r.rules {
		if rule.On {
			on++
		}
	}
	return len(r.rules), on, nil
}
