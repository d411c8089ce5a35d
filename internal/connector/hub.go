package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"halia/internal/broker"
	"halia/internal/config"
	"halia/internal/constants"
	"halia/internal/logger"
	"halia/pkg/errors"
)

// Deps are the shared clients connectors are built on. Producer and Redis
// may be nil when no connector of that kind is declared.
type Deps struct {
	Producer broker.Producer
	Redis    *redis.Client
	Logger   logger.Logger
	Clock    clockwork.Clock
}

type closableSource interface {
	Source
	Close() error
}

// Info describes one registered connector.
type Info struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Role        string `json:"role"`
	Subscribers int    `json:"subscribers,omitempty"`
	Holders     int    `json:"holders,omitempty"`
	Retained    int    `json:"retained,omitempty"`
}

// Hub is the Registry built from the connectors section of the config.
type Hub struct {
	cfg    *config.Config
	deps   Deps
	logger logger.Logger

	mu         sync.RWMutex
	kinds      map[string]string
	sources    map[string]closableSource
	sinks      map[string]*ChannelSink
	memWriters map[string]*MemoryWriter
}

var _ Registry = (*Hub)(nil)

func NewHub(cfg *config.Config, deps Deps) (*Hub, error) {
	if deps.Logger == nil {
		deps.Logger = logger.NopLogger()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	h := &Hub{
		cfg:        cfg,
		deps:       deps,
		logger:     deps.Logger,
		kinds:      make(map[string]string),
		sources:    make(map[string]closableSource),
		sinks:      make(map[string]*ChannelSink),
		memWriters: make(map[string]*MemoryWriter),
	}

	for _, c := range cfg.Connectors {
		var err error
		switch c.Role {
		case constants.RoleSource:
			err = h.addSource(c)
		case constants.RoleSink:
			err = h.addSink(c)
		default:
			err = errors.ErrConfig.WithMessage("connector %s has unknown role %q", c.ID, c.Role)
		}
		if err != nil {
			_ = h.Close(context.Background())
			return nil, err
		}
		h.kinds[c.ID] = c.Kind
		h.logger.Infow("Registered connector", "connector_id", c.ID, "kind", c.Kind, "role", c.Role)
	}
	return h, nil
}

func (h *Hub) capacity() int {
	if h.cfg.Engine.IOChannelCapacity > 0 {
		return h.cfg.Engine.IOChannelCapacity
	}
	return constants.DefaultIOChannelCapacity
}

func (h *Hub) addSource(c config.ConnectorConfig) error {
	if _, dup := h.sources[c.ID]; dup {
		return errors.ErrConfig.WithMessage("duplicate source connector %s", c.ID)
	}
	log := h.logger.With("connector_id", c.ID)

	var src closableSource
	switch c.Kind {
	case constants.ConnectorMemory:
		src = NewMemorySource(c.ID, h.capacity())
	case constants.ConnectorKafka:
		consumer, err := broker.NewConsumer(h.cfg.Broker.Kafka, c.Topic, c.GroupID, c.ID, log)
		if err != nil {
			return errors.ErrConfig.WithCause(fmt.Errorf("connector %s: %w", c.ID, err))
		}
		src = NewKafkaSource(c.ID, c.Topic, consumer, h.capacity(), log)
	case constants.ConnectorRedis:
		if h.deps.Redis == nil {
			return errors.ErrConfig.WithMessage("connector %s needs a redis client", c.ID)
		}
		src = NewRedisSource(c.ID, c.Topic, h.deps.Redis, h.capacity(), log)
	default:
		return errors.ErrConfig.WithMessage("connector %s has unknown kind %q", c.ID, c.Kind)
	}
	h.sources[c.ID] = src
	return nil
}

func (h *Hub) addSink(c config.ConnectorConfig) error {
	if _, dup := h.sinks[c.ID]; dup {
		return errors.ErrConfig.WithMessage("duplicate sink connector %s", c.ID)
	}
	log := h.logger.With("connector_id", c.ID)

	var writer Writer
	switch c.Kind {
	case constants.ConnectorMemory:
		mw := NewMemoryWriter(constants.DefaultMemorySinkKeep, log)
		h.memWriters[c.ID] = mw
		writer = mw
	case constants.ConnectorKafka:
		if h.deps.Producer == nil {
			return errors.ErrConfig.WithMessage("connector %s needs a kafka producer", c.ID)
		}
		writer = NewResilientWriter(c.ID, NewKafkaWriter(c.ID, c.Topic, h.deps.Producer),
			h.cfg.Sink.Retry, h.cfg.CircuitBreaker, log)
	case constants.ConnectorRedis:
		if h.deps.Redis == nil {
			return errors.ErrConfig.WithMessage("connector %s needs a redis client", c.ID)
		}
		writer = NewResilientWriter(c.ID, NewRedisWriter(c.ID, c.Topic, c.Mode, h.deps.Redis),
			h.cfg.Sink.Retry, h.cfg.CircuitBreaker, log)
	default:
		return errors.ErrConfig.WithMessage("connector %s has unknown kind %q", c.ID, c.Kind)
	}

	h.sinks[c.ID] = NewChannelSink(c.ID, writer, SinkOptions{
		Capacity:  h.capacity(),
		Retention: NewRetention(h.cfg.Sink.Retention, h.deps.Clock),
		Clock:     h.deps.Clock,
		Logger:    log,
	})
	return nil
}

func (h *Hub) Source(id string) (Source, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sources[id]
	if !ok {
		return nil, errors.ErrReference.WithMessage("source %s is not registered", id)
	}
	return s, nil
}

func (h *Hub) Sink(id string) (Sink, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sinks[id]
	if !ok {
		return nil, errors.ErrReference.WithMessage("sink %s is not registered", id)
	}
	return s, nil
}

// MemorySource returns the in-process source with the given id.
func (h *Hub) MemorySource(id string) (*MemorySource, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sources[id].(*MemorySource)
	if !ok {
		return nil, errors.ErrNotFound.WithMessage("memory source %s not found", id)
	}
	return s, nil
}

// MemorySink returns the writer behind the in-process sink with the given id.
func (h *Hub) MemorySink(id string) (*MemoryWriter, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	w, ok := h.memWriters[id]
	if !ok {
		return nil, errors.ErrNotFound.WithMessage("memory sink %s not found", id)
	}
	return w, nil
}

// List describes every connector, sorted by id.
func (h *Hub) List() []Info {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Info, 0, len(h.sources)+len(h.sinks))
	for id, s := range h.sources {
		info := Info{ID: id, Kind: h.kinds[id], Role: constants.RoleSource}
		if c, ok := s.(interface{ Subscribers() int }); ok {
			info.Subscribers = c.Subscribers()
		}
		out = append(out, info)
	}
	for id, s := range h.sinks {
		out = append(out, Info{
			ID:       id,
			Kind:     h.kinds[id],
			Role:     constants.RoleSink,
			Holders:  s.Holders(),
			Retained: s.Retained(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID == out[j].ID {
			return out[i].Role < out[j].Role
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Close shuts every connector down. Rules must be stopped first. The shared
// producer belongs to the caller.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for id, s := range h.sources {
		if err := s.Close(); err != nil {
			h.logger.Warnw("Failed to close source", "connector_id", id, "error", err)
			keep(err)
		}
	}
	for id, s := range h.sinks {
		if err := s.Close(ctx); err != nil {
			h.logger.Warnw("Failed to close sink", "connector_id", id, "error", err)
			keep(err)
		}
	}
	h.sources = make(map[string]closableSource)
	h.sinks = make(map[string]*ChannelSink)
	return firstErr
}

func defaultRetentionConfig() config.RetentionConfig {
	return config.RetentionConfig{
		Policy: constants.RetentionLatestCount,
		Count:  constants.DefaultRetentionCount,
	}
}
