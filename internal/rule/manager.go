// Package rule owns rule definitions and their lifecycle: validation,
// persistence, starting and stopping the stages of a rule graph, and the
// per-rule execution logs.
package rule

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"halia/internal/config"
	"halia/internal/connector"
	"halia/internal/constants"
	"halia/internal/executor"
	"halia/internal/graph"
	"halia/internal/logger"
	"halia/pkg/errors"
	"halia/pkg/logging"
	"halia/pkg/message"
	"halia/pkg/metrics"
	"halia/pkg/models"
)

// instance is one running rule. err is set before done is closed.
type instance struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

type Manager struct {
	repo     Repository
	registry connector.Registry
	engine   config.EngineConfig
	notifier Notifier
	clock    clockwork.Clock
	logger   logger.Logger

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	running map[string]*instance
	failed  map[string]string
	logs    map[string]*logRing
}

type Option func(*Manager)

func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func NewManager(repo Repository, registry connector.Registry, engine config.EngineConfig, opts ...Option) *Manager {
	if engine.StopTimeout <= 0 {
		engine.StopTimeout = constants.DefaultStopTimeout
	}
	if engine.LogBufferSize <= 0 {
		engine.LogBufferSize = constants.DefaultLogBufferSize
	}
	m := &Manager{
		repo:     repo,
		registry: registry,
		engine:   engine,
		clock:    clockwork.NewRealClock(),
		logger:   logger.NopLogger(),
		locks:    make(map[string]*sync.Mutex),
		running:  make(map[string]*instance),
		failed:   make(map[string]string),
		logs:     make(map[string]*logRing),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lock serializes lifecycle operations on one rule.
func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (m *Manager) logRing(id string) *logRing {
	m.mu.Lock()
	defer m.mu.Unlock()
	ring, ok := m.logs[id]
	if !ok {
		ring = newLogRing(m.engine.LogBufferSize, m.clock)
		m.logs[id] = ring
	}
	return ring
}

func (m *Manager) instance(id string) *instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[id]
}

func (m *Manager) view(rule *Rule) RuleView {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := RuleView{Rule: *rule, Status: StatusStopped}
	if _, ok := m.running[rule.ID]; ok {
		v.Status = StatusRunning
	} else if msg, ok := m.failed[rule.ID]; ok {
		v.Status = StatusFailed
		v.Error = msg
	}
	return v
}

func (m *Manager) notify(ctx context.Context, eventType, action string, rule *Rule) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, eventType, action, rule); err != nil {
		m.logger.WarnwCtx(ctx, "Failed to publish rule event", "rule_id", rule.ID, "action", action, "error", err)
	}
}

func transition(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.IncRuleTransition(op, status)
}

// Create validates the definition and stores it stopped. Nothing is
// subscribed until Start.
func (m *Manager) Create(ctx context.Context, req CreateRuleRequest) (_ *RuleView, err error) {
	defer func() { transition("create", err) }()
	if err := ValidateCreateRequest(req); err != nil {
		return nil, err
	}

	rule := &Rule{
		Name:        req.Name,
		Description: req.Description,
		Graph:       req.Graph,
	}
	if err := m.repo.Create(ctx, rule); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}

	m.logger.InfowCtx(ctx, "Rule created", "rule_id", rule.ID, "name", rule.Name)
	m.notify(ctx, models.EventTypeRuleChanged, models.ActionCreate, rule)
	v := m.view(rule)
	return &v, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*RuleView, error) {
	rule, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}
	v := m.view(rule)
	return &v, nil
}

// Update stores the new definition. A running rule whose graph changed is
// restarted on the new graph; other changes leave it running.
func (m *Manager) Update(ctx context.Context, id string, req UpdateRuleRequest) (_ *RuleView, err error) {
	defer func() { transition("update", err) }()
	if err := ValidateUpdateRequest(req); err != nil {
		return nil, err
	}

	unlock := m.lock(id)
	defer unlock()

	rule, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}

	graphChanged := req.Graph != nil && !req.Graph.Equal(rule.Graph)
	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.Graph != nil {
		rule.Graph = *req.Graph
	}

	if err := m.repo.Update(ctx, rule); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}
	m.notify(ctx, models.EventTypeRuleChanged, models.ActionUpdate, rule)

	if graphChanged && m.instance(id) != nil {
		m.logger.InfowCtx(ctx, "Restarting rule on new graph", "rule_id", id)
		if err := m.halt(id); err != nil {
			return nil, err
		}
		if err := m.launch(rule); err != nil {
			return nil, err
		}
		m.notify(ctx, models.EventTypeRuleState, models.ActionRestart, rule)
	}

	v := m.view(rule)
	return &v, nil
}

// Start subscribes the rule's sources, takes senders on its sinks and runs
// one goroutine per stage. Starting a running rule is a conflict.
func (m *Manager) Start(ctx context.Context, id string) (_ *RuleView, err error) {
	defer func() { transition("start", err) }()
	unlock := m.lock(id)
	defer unlock()

	rule, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}
	if m.instance(id) != nil {
		return nil, errors.ErrConflict.WithMessage("rule %s is already running", id)
	}

	if err := m.launch(rule); err != nil {
		return nil, err
	}
	if !rule.On {
		if err := m.repo.SetOn(ctx, id, true); err != nil {
			_ = m.halt(id)
			return nil, errors.Wrap(err, errors.ErrInternal)
		}
		rule.On = true
	}

	m.logger.InfowCtx(ctx, "Rule started", "rule_id", id)
	m.notify(ctx, models.EventTypeRuleState, models.ActionStart, rule)
	v := m.view(rule)
	return &v, nil
}

// Stop signals every stage, waits for them and releases the rule's
// collaborator handles. Stopping a stopped rule only clears its on flag and
// any failure it recorded.
func (m *Manager) Stop(ctx context.Context, id string) (_ *RuleView, err error) {
	defer func() { transition("stop", err) }()
	unlock := m.lock(id)
	defer unlock()

	rule, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}
	if err := m.halt(id); err != nil {
		return nil, err
	}
	m.mu.Lock()
	delete(m.failed, id)
	m.mu.Unlock()
	if rule.On {
		if err := m.repo.SetOn(ctx, id, false); err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal)
		}
		rule.On = false
	}

	m.logger.InfowCtx(ctx, "Rule stopped", "rule_id", id)
	m.notify(ctx, models.EventTypeRuleState, models.ActionStop, rule)
	v := m.view(rule)
	return &v, nil
}

// Delete removes a stopped rule.
func (m *Manager) Delete(ctx context.Context, id string) (err error) {
	defer func() { transition("delete", err) }()
	unlock := m.lock(id)
	defer unlock()

	rule, err := m.repo.Get(ctx, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal)
	}
	if m.instance(id) != nil {
		return errors.ErrConflict.WithMessage("rule %s is running; stop it before deleting", id)
	}
	if err := m.repo.Delete(ctx, id); err != nil {
		return errors.Wrap(err, errors.ErrInternal)
	}

	m.mu.Lock()
	delete(m.failed, id)
	delete(m.logs, id)
	m.mu.Unlock()

	m.logger.InfowCtx(ctx, "Rule deleted", "rule_id", id)
	m.notify(ctx, models.EventTypeRuleChanged, models.ActionDelete, rule)
	return nil
}

func (m *Manager) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	q = normalizeQuery(q, constants.DefaultRuleSearchSize, constants.MaxRuleSearchSize)
	rules, total, err := m.repo.Search(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}
	out := &SearchResult{Total: total, Items: make([]RuleView, 0, len(rules))}
	for i := range rules {
		out.Items = append(out.Items, m.view(&rules[i]))
	}
	return out, nil
}

func (m *Manager) Summary(ctx context.Context) (*Summary, error) {
	total, on, err := m.repo.Count(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}
	return &Summary{Total: total, On: on, Off: total - on}, nil
}

// Logs returns up to limit of the rule's newest execution entries.
func (m *Manager) Logs(ctx context.Context, id string, limit int) ([]LogEntry, error) {
	if _, err := m.repo.Get(ctx, id); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}
	return m.logRing(id).tail(limit), nil
}

// SetLogEnabled turns execution logging on or off. It takes effect on a
// running rule immediately.
func (m *Manager) SetLogEnabled(ctx context.Context, id string, enabled bool) error {
	if _, err := m.repo.Get(ctx, id); err != nil {
		return errors.Wrap(err, errors.ErrInternal)
	}
	m.logRing(id).setEnabled(enabled)
	return nil
}

// Restore starts every stored rule marked on. A rule that fails to start is
// logged and left failed; the others still start.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	rules, err := m.repo.ListOn(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrInternal)
	}

	started := 0
	for i := range rules {
		rule := &rules[i]
		unlock := m.lock(rule.ID)
		if m.instance(rule.ID) == nil {
			if err := m.launch(rule); err != nil {
				m.logger.ErrorwCtx(ctx, "Failed to restore rule", "rule_id", rule.ID, "error", err)
				m.mu.Lock()
				m.failed[rule.ID] = err.Error()
				m.mu.Unlock()
			} else {
				started++
			}
		}
		unlock()
	}
	m.logger.InfowCtx(ctx, "Restored rules", "started", started, "stored_on", len(rules))
	return started, nil
}

// Shutdown stops every running rule without touching their on flags, so
// Restore brings them back on the next start.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	running := make(map[string]*instance, len(m.running))
	for id, inst := range m.running {
		running[id] = inst
	}
	m.mu.Unlock()

	for _, inst := range running {
		inst.cancel()
	}
	for id, inst := range running {
		select {
		case <-inst.done:
		case <-ctx.Done():
			return errors.ErrTimeout.WithMessage("rule %s did not stop before shutdown deadline", id)
		}
	}
	return nil
}

// Running reports how many rules are running.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// Failed reports how many rules ended with an error and were not restarted.
func (m *Manager) Failed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.failed)
}

// launch builds the graph, acquires collaborator handles and starts the
// stages. The caller holds the rule lock.
func (m *Manager) launch(rule *Rule) error {
	g, err := graph.Build(rule.Graph)
	if err != nil {
		return errors.Wrap(err, errors.ErrConfig)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	runCtx = logging.WithRuleID(runCtx, rule.ID)

	env := &executor.Env{
		RuleID:   rule.ID,
		Sources:  make(map[int]<-chan *message.Batch, len(g.Sources)),
		Sinks:    make(map[int]chan<- *message.Batch, len(g.Sinks)),
		Clock:    m.clock,
		Logger:   m.logger,
		Recorder: m.logRing(rule.ID),
	}

	var releases []func()
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, s := range g.Sources {
		src, err := m.registry.Source(s.SourceID)
		if err != nil {
			releaseAll()
			cancel()
			return err
		}
		rx, release, err := src.Subscribe(runCtx)
		if err != nil {
			releaseAll()
			cancel()
			return errors.Wrap(err, errors.ErrInternal)
		}
		env.Sources[s.Node.Index] = rx
		releases = append(releases, release)
	}
	for _, s := range g.Sinks {
		sink, err := m.registry.Sink(s.SinkID)
		if err != nil {
			releaseAll()
			cancel()
			return err
		}
		tx, err := sink.GetTx(rule.ID)
		if err != nil {
			releaseAll()
			cancel()
			return errors.Wrap(err, errors.ErrInternal)
		}
		env.Sinks[s.Node.Index] = tx
		releases = append(releases, func() { sink.DelTx(rule.ID) })
	}

	inst := &instance{cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.running[rule.ID] = inst
	delete(m.failed, rule.ID)
	m.mu.Unlock()
	metrics.RulesRunning.Inc()

	go func() {
		err := executor.RunGraph(runCtx, g, env)
		// Stages no longer touch their channels, so handles can go.
		releaseAll()
		cancel()

		m.mu.Lock()
		if m.running[rule.ID] == inst {
			delete(m.running, rule.ID)
		}
		if err != nil {
			m.failed[rule.ID] = err.Error()
		}
		m.mu.Unlock()
		metrics.RulesRunning.Dec()

		if err != nil {
			m.logger.ErrorwCtx(runCtx, "Rule stopped with error", "error", err)
		} else {
			m.logger.DebugwCtx(runCtx, "Rule stages finished")
		}
		inst.err = err
		close(inst.done)
	}()
	return nil
}

// halt cancels a running rule and waits up to the stop timeout for its
// stages. A rule that is not running is left alone.
func (m *Manager) halt(id string) error {
	inst := m.instance(id)
	if inst == nil {
		return nil
	}
	inst.cancel()

	timer := time.NewTimer(m.engine.StopTimeout)
	defer timer.Stop()
	select {
	case <-inst.done:
		return nil
	case <-timer.C:
		return errors.ErrTimeout.WithMessage("rule %s did not stop within %s", id, m.engine.StopTimeout)
	}
}
