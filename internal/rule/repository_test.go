package rule

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halia/internal/graph"
	"halia/pkg/errors"
)

// testRepository runs the behavior every Repository implementation shares.
// newRepo must return an empty store.
func testRepository(t *testing.T, newRepo func(t *testing.T) Repository) {
	ctx := context.Background()
	var g graph.Conf
	require.NoError(t, json.Unmarshal([]byte(passThrough), &g))

	t.Run("create and get", func(t *testing.T) {
		repo := newRepo(t)
		rule := &Rule{Name: "first", Description: "d", Graph: g}
		require.NoError(t, repo.Create(ctx, rule))
		assert.NotEmpty(t, rule.ID)
		assert.False(t, rule.CreatedAt.IsZero())

		got, err := repo.Get(ctx, rule.ID)
		require.NoError(t, err)
		assert.Equal(t, "first", got.Name)
		assert.Equal(t, "d", got.Description)
		assert.True(t, got.Graph.Equal(g))
		assert.False(t, got.On)

		_, err = repo.Get(ctx, "00000000-0000-0000-0000-000000000000")
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("names are unique", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Create(ctx, &Rule{Name: "dup", Graph: g}))
		err := repo.Create(ctx, &Rule{Name: "dup", Graph: g})
		assert.True(t, errors.IsConflict(err))

		other := &Rule{Name: "other", Graph: g}
		require.NoError(t, repo.Create(ctx, other))
		other.Name = "dup"
		assert.True(t, errors.IsConflict(repo.Update(ctx, other)))
	})

	t.Run("update set on and delete", func(t *testing.T) {
		repo := newRepo(t)
		rule := &Rule{Name: "r", Graph: g}
		require.NoError(t, repo.Create(ctx, rule))

		rule.Description = "changed"
		require.NoError(t, repo.Update(ctx, rule))
		require.NoError(t, repo.SetOn(ctx, rule.ID, true))

		got, err := repo.Get(ctx, rule.ID)
		require.NoError(t, err)
		assert.Equal(t, "changed", got.Description)
		assert.True(t, got.On)

		on, err := repo.ListOn(ctx)
		require.NoError(t, err)
		require.Len(t, on, 1)
		assert.Equal(t, rule.ID, on[0].ID)

		require.NoError(t, repo.Delete(ctx, rule.ID))
		assert.True(t, errors.IsNotFound(repo.Delete(ctx, rule.ID)))
		assert.True(t, errors.IsNotFound(repo.SetOn(ctx, rule.ID, false)))
		assert.True(t, errors.IsNotFound(repo.Update(ctx, rule)))
	})

	t.Run("search and count", func(t *testing.T) {
		repo := newRepo(t)
		for _, name := range []string{"pump-a", "pump-b", "Valve", "PUMP-c"} {
			require.NoError(t, repo.Create(ctx, &Rule{Name: name, Graph: g}))
		}
		valves, total, err := repo.Search(ctx, SearchQuery{Name: "valve", Page: 1, Size: 10})
		require.NoError(t, err)
		require.Equal(t, 1, total)
		require.NoError(t, repo.SetOn(ctx, valves[0].ID, true))

		tests := []struct {
			name      string
			q         SearchQuery
			wantTotal int
			wantItems int
		}{
			{name: "all", q: SearchQuery{Page: 1, Size: 10}, wantTotal: 4, wantItems: 4},
			{name: "case-insensitive name", q: SearchQuery{Name: "pump", Page: 1, Size: 10}, wantTotal: 3, wantItems: 3},
			{name: "on only", q: SearchQuery{On: boolPtr(true), Page: 1, Size: 10}, wantTotal: 1, wantItems: 1},
			{name: "off only", q: SearchQuery{On: boolPtr(false), Page: 1, Size: 10}, wantTotal: 3, wantItems: 3},
			{name: "second page", q: SearchQuery{Page: 2, Size: 3}, wantTotal: 4, wantItems: 1},
			{name: "past the end", q: SearchQuery{Page: 5, Size: 3}, wantTotal: 4, wantItems: 0},
			{name: "no match", q: SearchQuery{Name: "zzz", Page: 1, Size: 10}, wantTotal: 0, wantItems: 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				items, total, err := repo.Search(ctx, tt.q)
				require.NoError(t, err)
				assert.Equal(t, tt.wantTotal, total)
				assert.Len(t, items, tt.wantItems)
			})
		}

		total, on, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		assert.Equal(t, 1, on)
	})
}

func boolPtr(b bool) *bool { return &b }

func TestMemoryRepository(t *testing.T) {
	testRepository(t, func(*testing.T) Repository { return NewMemoryRepository() })
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	rule := &Rule{Name: "r"}
	require.NoError(t, repo.Create(ctx, rule))

	got, err := repo.Get(ctx, rule.ID)
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := repo.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "r", again.Name)
}
