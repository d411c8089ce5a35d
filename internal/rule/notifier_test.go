package rule

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halia/internal/constants"
	"halia/pkg/models"
)

type published struct {
	topic   string
	key     string
	value   []byte
	headers []kafka.Header
}

type fakeProducer struct {
	mu   sync.Mutex
	sent []published
}

func (p *fakeProducer) Publish(_ context.Context, topic, key string, value []byte, headers ...kafka.Header) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{topic: topic, key: key, value: value, headers: headers})
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func (p *fakeProducer) events(t *testing.T) []models.RuleEvent {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.RuleEvent, 0, len(p.sent))
	for _, s := range p.sent {
		var e models.RuleEvent
		require.NoError(t, json.Unmarshal(s.value, &e))
		out = append(out, e)
	}
	return out
}

func header(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestEventProducer_Notify(t *testing.T) {
	producer := &fakeProducer{}
	n := NewEventProducer(producer, "rule-events")

	rule := &Rule{ID: "r-1", Name: "pump", On: true}
	require.NoError(t, n.Notify(context.Background(), models.EventTypeRuleState, models.ActionStart, rule))

	require.Len(t, producer.sent, 1)
	sent := producer.sent[0]
	assert.Equal(t, "rule-events", sent.topic)
	assert.Equal(t, "r-1", sent.key)
	assert.NotEmpty(t, header(sent.headers, constants.HeaderMessageID))
	assert.Equal(t, models.EventTypeRuleState, header(sent.headers, "event_type"))

	events := producer.events(t)
	assert.Equal(t, "r-1", events[0].RuleID)
	assert.Equal(t, "pump", events[0].RuleName)
	assert.Equal(t, models.ActionStart, events[0].Action)
	assert.Equal(t, true, events[0].Metadata["on"])
}

func TestEventProducer_Disabled(t *testing.T) {
	rule := &Rule{ID: "r-1"}
	assert.NoError(t, NewEventProducer(nil, "topic").Notify(context.Background(), "x", "y", rule))

	producer := &fakeProducer{}
	assert.NoError(t, NewEventProducer(producer, "").Notify(context.Background(), "x", "y", rule))
	assert.Empty(t, producer.sent)
}

func TestManager_NotifiesLifecycle(t *testing.T) {
	f := newFixture(t)
	producer := &fakeProducer{}
	f.manager.notifier = NewEventProducer(producer, "rule-events")
	ctx := context.Background()

	v := f.create(t, "r", passThrough)
	_, err := f.manager.Start(ctx, v.ID)
	require.NoError(t, err)
	_, err = f.manager.Stop(ctx, v.ID)
	require.NoError(t, err)
	require.NoError(t, f.manager.Delete(ctx, v.ID))

	var actions []string
	for _, e := range producer.events(t) {
		assert.Equal(t, v.ID, e.RuleID)
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{
		models.ActionCreate, models.ActionStart, models.ActionStop, models.ActionDelete,
	}, actions)
}
