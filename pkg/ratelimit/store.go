package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"halia/internal/config"
)

type Config struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() Config {
	return Config{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// FromConfig maps the management.rate_limit section, keeping defaults for
// unset fields.
func FromConfig(c config.RateLimitConfig) Config {
	cfg := DefaultConfig()
	if c.RPS > 0 {
		cfg.RPS = c.RPS
	}
	if c.Burst > 0 {
		cfg.Burst = c.Burst
	}
	if c.CleanupInterval > 0 {
		cfg.CleanupInterval = time.Duration(c.CleanupInterval) * time.Second
	}
	if c.MaxAge > 0 {
		cfg.MaxAge = time.Duration(c.MaxAge) * time.Second
	}
	return cfg
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Store holds one token bucket per client key.
type Store struct {
	cfg   Config
	clock clockwork.Clock

	mu      sync.Mutex
	clients map[string]*client
}

func NewStore(cfg Config, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{cfg: cfg, clock: clock, clients: make(map[string]*client)}
}

// Allow takes a token for key and reports the tokens left afterwards.
func (s *Store) Allow(key string) (bool, int) {
	now := s.clock.Now()

	s.mu.Lock()
	c, ok := s.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(s.cfg.RPS), s.cfg.Burst)}
		s.clients[key] = c
	}
	c.lastSeen = now
	allowed := c.limiter.AllowN(now, 1)
	remaining := int(c.limiter.TokensAt(now))
	s.mu.Unlock()

	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining
}

// Sweep forgets clients idle for longer than MaxAge and returns how many
// were dropped.
func (s *Store) Sweep() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for key, c := range s.clients {
		if now.Sub(c.lastSeen) > s.cfg.MaxAge {
			delete(s.clients, key)
			dropped++
		}
	}
	return dropped
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Run sweeps every CleanupInterval until ctx is done.
func (s *Store) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Sweep()
		}
	}
}
