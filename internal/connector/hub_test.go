package connector

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halia/internal/config"
	"halia/internal/constants"
	"halia/pkg/errors"
	"halia/pkg/message"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{IOChannelCapacity: 8},
		Connectors: []config.ConnectorConfig{
			{ID: "in", Kind: constants.ConnectorMemory, Role: constants.RoleSource},
			{ID: "out", Kind: constants.ConnectorMemory, Role: constants.RoleSink},
		},
	}
}

func TestNewHub_Errors(t *testing.T) {
	tests := []struct {
		name      string
		connector config.ConnectorConfig
	}{
		{"unknown role", config.ConnectorConfig{ID: "x", Kind: constants.ConnectorMemory, Role: "both"}},
		{"unknown kind", config.ConnectorConfig{ID: "x", Kind: "mqtt", Role: constants.RoleSource}},
		{"kafka sink without producer", config.ConnectorConfig{ID: "x", Kind: constants.ConnectorKafka, Role: constants.RoleSink, Topic: "t"}},
		{"redis source without client", config.ConnectorConfig{ID: "x", Kind: constants.ConnectorRedis, Role: constants.RoleSource, Topic: "t"}},
		{"redis sink without client", config.ConnectorConfig{ID: "x", Kind: constants.ConnectorRedis, Role: constants.RoleSink, Topic: "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Connectors: []config.ConnectorConfig{tt.connector}}
			_, err := NewHub(cfg, Deps{})
			require.Error(t, err)
			assert.True(t, errors.IsConfig(err))
		})
	}
}

func TestNewHub_DuplicateID(t *testing.T) {
	cfg := memoryConfig()
	cfg.Connectors = append(cfg.Connectors, cfg.Connectors[0])
	_, err := NewHub(cfg, Deps{})
	assert.True(t, errors.IsConfig(err))
}

func TestHub_Lookup(t *testing.T) {
	h, err := NewHub(memoryConfig(), Deps{Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	defer h.Close(context.Background())

	_, err = h.Source("in")
	assert.NoError(t, err)
	_, err = h.Sink("out")
	assert.NoError(t, err)

	_, err = h.Source("out")
	assert.True(t, errors.IsReference(err))
	_, err = h.Sink("missing")
	assert.True(t, errors.IsReference(err))

	_, err = h.MemorySource("out")
	assert.True(t, errors.IsNotFound(err))
	_, err = h.MemorySink("in")
	assert.True(t, errors.IsNotFound(err))

	assert.Equal(t, []Info{
		{ID: "in", Kind: constants.ConnectorMemory, Role: constants.RoleSource},
		{ID: "out", Kind: constants.ConnectorMemory, Role: constants.RoleSink},
	}, h.List())
}

func TestHub_MemoryRoundTrip(t *testing.T) {
	h, err := NewHub(memoryConfig(), Deps{Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	src, err := h.MemorySource("in")
	require.NoError(t, err)
	ch, release, err := src.Subscribe(context.Background())
	require.NoError(t, err)
	defer release()

	n, err := src.Publish(context.Background(), batchOf("", 1, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got := recv(t, ch)
	assert.Equal(t, "in", got.Name(), "unnamed batches take the source id")

	sink, err := h.Sink("out")
	require.NoError(t, err)
	tx, err := sink.GetTx("rule-1")
	require.NoError(t, err)
	tx <- got
	sink.DelTx("rule-1")

	writer, err := h.MemorySink("out")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(writer.Batches()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, writer.Batches()[0].Len())

	require.NoError(t, h.Close(context.Background()))
	_, ok := <-ch
	assert.False(t, ok)
}

func TestMemorySource_RejectsEmptyBatch(t *testing.T) {
	src := NewMemorySource("in", 1)
	defer src.Close()

	_, err := src.Publish(context.Background(), message.NewBatch())
	assert.True(t, errors.IsValidation(err))
	_, err = src.Publish(context.Background(), nil)
	assert.True(t, errors.IsValidation(err))

	n, err := src.Publish(context.Background(), batchOf("x", 1))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMemoryWriter_KeepsLatest(t *testing.T) {
	w := NewMemoryWriter(2, nil)
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, w.Write(context.Background(), batchOf(name, 1)))
	}
	got := w.Batches()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Name())
	assert.Equal(t, "c", got[1].Name())
}
