package coordinator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/flitsinc/go-swarm/internal/idgen"
)

// Coordinator arbitrates turns across personas. Multiple personas may
// independently decide to act on the same trigger; the coordinator
// gathers their intents for a bounded window, then grants permission to
// a ranked subset so a trigger never draws duplicate simultaneous
// responses.
//
// Each trigger moves through gathering -> deciding -> decided exactly
// once. Decisions are immutable once made and stay cached for a
// retention window so late arrivals get the same answer without
// re-negotiation. Distinct triggers are fully independent: each has its
// own lock, never a coordinator-wide one.
type Coordinator struct {
	cfg Config

	mu       sync.Mutex
	triggers map[string]*trigger
	ewma     time.Duration

	decided *gocache.Cache
	recent  *gocache.Cache

	nowFn      func() time.Time
	onDecision func(Decision)
}

type Config struct {
	// FanOut is the maximum number of personas granted one trigger.
	FanOut int
	// MinWindow and MaxWindow bound the adaptive gather window.
	MinWindow time.Duration
	MaxWindow time.Duration
	// BaseWindow is used before any latency has been observed.
	BaseWindow time.Duration
	// Retention is how long a decided trigger's decision stays cached.
	Retention time.Duration
	// RecencyWindow is how long after a grant a persona is demoted in
	// the same context.
	RecencyWindow time.Duration
	// EarlyConfidence closes the gather window as soon as an intent at
	// or above it arrives alongside at least one other intent.
	EarlyConfidence float64
}

const (
	DefaultFanOut          = 1
	DefaultMinWindow       = 2 * time.Second
	DefaultMaxWindow       = 20 * time.Second
	DefaultBaseWindow      = 5 * time.Second
	DefaultRetention       = 5 * time.Minute
	DefaultRecencyWindow   = 30 * time.Second
	DefaultEarlyConfidence = 0.9
	DefaultTurnTimeout     = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.FanOut <= 0 {
		c.FanOut = DefaultFanOut
	}
	if c.MinWindow <= 0 {
		c.MinWindow = DefaultMinWindow
	}
	if c.MaxWindow < c.MinWindow {
		c.MaxWindow = DefaultMaxWindow
	}
	if c.BaseWindow <= 0 {
		c.BaseWindow = DefaultBaseWindow
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.RecencyWindow <= 0 {
		c.RecencyWindow = DefaultRecencyWindow
	}
	if c.EarlyConfidence <= 0 {
		c.EarlyConfidence = DefaultEarlyConfidence
	}
	return c
}

// Intent is one persona's declared wish to act on a trigger.
type Intent struct {
	TriggerID    string    `json:"trigger_id"`
	ContextID    string    `json:"context_id"`
	AgentID      string    `json:"agent_id"`
	Confidence   float64   `json:"confidence"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Decision is the immutable outcome of one trigger's arbitration.
type Decision struct {
	ID        string        `json:"id"`
	TriggerID string        `json:"trigger_id"`
	ContextID string        `json:"context_id"`
	Granted   []string      `json:"granted"`
	Intents   int           `json:"intents"`
	Window    time.Duration `json:"window"`
	DecidedAt time.Time     `json:"decided_at"`
}

// GrantedTo reports whether the decision grants a turn to agentID.
func (d Decision) GrantedTo(agentID string) bool {
	for _, id := range d.Granted {
		if id == agentID {
			return true
		}
	}
	return false
}

var ErrTurnTimeout = errors.New("turn timeout")

func IsTurnTimeout(err error) bool {
	return errors.Is(err, ErrTurnTimeout)
}

type phase int

const (
	phaseGathering phase = iota
	phaseDeciding
	phaseDecided
)

type trigger struct {
	mu sync.Mutex

	id        string
	contextID string
	phase     phase
	intents   []Intent
	window    time.Duration
	openedAt  time.Time
	timer     *time.Timer
	done      chan struct{}
	decision  Decision
}

type Option func(*Coordinator)

func WithClock(nowFn func() time.Time) Option {
	return func(c *Coordinator) {
		if nowFn != nil {
			c.nowFn = nowFn
		}
	}
}

// WithDecisionHook installs a callback invoked once per decision, after
// it becomes visible to waiters. Used for journaling.
func WithDecisionHook(fn func(Decision)) Option {
	return func(c *Coordinator) {
		c.onDecision = fn
	}
}

func New(cfg Config, opts ...Option) *Coordinator {
	cfg = cfg.withDefaults()
	c := &Coordinator{
		cfg:      cfg,
		triggers: map[string]*trigger{},
		decided:  gocache.New(cfg.Retention, cfg.Retention),
		recent:   gocache.New(cfg.RecencyWindow, cfg.RecencyWindow),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// RegisterIntent records an intent without waiting for the outcome.
func (c *Coordinator) RegisterIntent(in Intent) {
	_, _, _ = c.register(in)
}

// RequestTurn registers the intent and blocks until the trigger is
// decided, the timeout elapses, or ctx is cancelled. A timeout means
// "not granted": the caller proceeds as if refused.
func (c *Coordinator) RequestTurn(ctx context.Context, in Intent, timeout time.Duration) (Decision, bool, error) {
	if timeout <= 0 {
		timeout = DefaultTurnTimeout
	}
	t, decision, decidedAlready := c.register(in)
	if decidedAlready {
		return decision, decision.GrantedTo(in.AgentID), nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Decision{}, false, ctx.Err()
	case <-timer.C:
		return Decision{}, false, ErrTurnTimeout
	case <-t.done:
		d := t.decision
		return d, d.GrantedTo(in.AgentID), nil
	}
}

// Lookup returns the cached decision for a trigger, if one exists within
// the retention window.
func (c *Coordinator) Lookup(triggerID string) (Decision, bool) {
	if v, ok := c.decided.Get(triggerID); ok {
		return v.(Decision), true
	}
	return Decision{}, false
}

// ObserveLatency feeds an observed action latency into the moving
// average that sizes future gather windows.
func (c *Coordinator) ObserveLatency(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ewma == 0 {
		c.ewma = d
		return
	}
	// EWMA with alpha 0.3.
	c.ewma = time.Duration(0.7*float64(c.ewma) + 0.3*float64(d))
}

// GatherWindow returns the window a trigger opened now would use.
func (c *Coordinator) GatherWindow() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.windowLocked()
}

// Pending returns the number of triggers still gathering or deciding.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.triggers)
}

// DecidedCount returns the number of decisions inside the retention window.
func (c *Coordinator) DecidedCount() int {
	return c.decided.ItemCount()
}

func (c *Coordinator) register(in Intent) (*trigger, Decision, bool) {
	if in.Confidence < 0 {
		in.Confidence = 0
	}
	if in.Confidence > 1 {
		in.Confidence = 1
	}
	if in.RegisteredAt.IsZero() {
		in.RegisteredAt = c.nowFn()
	}

	c.mu.Lock()
	if v, ok := c.decided.Get(in.TriggerID); ok {
		c.mu.Unlock()
		return nil, v.(Decision), true
	}
	t, ok := c.triggers[in.TriggerID]
	if !ok {
		t = &trigger{
			id:        in.TriggerID,
			contextID: in.ContextID,
			phase:     phaseGathering,
			window:    c.windowLocked(),
			openedAt:  c.nowFn(),
			done:      make(chan struct{}),
		}
		t.timer = time.AfterFunc(t.window, func() { c.decide(t) })
		c.triggers[in.TriggerID] = t
	}
	c.mu.Unlock()

	t.mu.Lock()
	if t.phase == phaseDecided {
		d := t.decision
		t.mu.Unlock()
		return t, d, true
	}
	merged := false
	for i := range t.intents {
		if t.intents[i].AgentID == in.AgentID {
			if in.Confidence > t.intents[i].Confidence {
				t.intents[i].Confidence = in.Confidence
			}
			merged = true
			break
		}
	}
	if !merged {
		t.intents = append(t.intents, in)
	}
	early := len(t.intents) >= 2 && c.hasEarlyConsensus(t.intents)
	t.mu.Unlock()

	if early {
		c.decide(t)
	}
	return t, Decision{}, false
}

func (c *Coordinator) hasEarlyConsensus(intents []Intent) bool {
	for _, in := range intents {
		if in.Confidence >= c.cfg.EarlyConfidence {
			return true
		}
	}
	return false
}

// decide closes the trigger's gather window and publishes the decision.
// Safe to call more than once; only the first call decides.
func (c *Coordinator) decide(t *trigger) {
	t.mu.Lock()
	if t.phase != phaseGathering {
		t.mu.Unlock()
		return
	}
	t.phase = phaseDeciding
	if t.timer != nil {
		t.timer.Stop()
	}

	now := c.nowFn()
	granted := c.rank(t.contextID, t.intents)
	if len(granted) > c.cfg.FanOut {
		granted = granted[:c.cfg.FanOut]
	}
	decision := Decision{
		ID:        idgen.New(),
		TriggerID: t.id,
		ContextID: t.contextID,
		Granted:   granted,
		Intents:   len(t.intents),
		Window:    t.window,
		DecidedAt: now,
	}
	t.decision = decision
	t.phase = phaseDecided
	close(t.done)
	t.mu.Unlock()

	c.mu.Lock()
	c.decided.Set(t.id, decision, gocache.DefaultExpiration)
	for _, agentID := range granted {
		c.recent.Set(recencyKey(t.contextID, agentID), now, gocache.DefaultExpiration)
	}
	delete(c.triggers, t.id)
	c.mu.Unlock()

	if c.onDecision != nil {
		c.onDecision(decision)
	}
}

// rank orders intents by confidence descending with ties broken by
// earliest registration, demoting personas that were granted a turn in
// this context within the recency window. Demotion, not exclusion: a
// lone recent responder still wins rather than leaving the trigger
// unanswered.
func (c *Coordinator) rank(contextID string, intents []Intent) []string {
	ranked := make([]Intent, len(intents))
	copy(ranked, intents)

	demoted := func(in Intent) bool {
		_, ok := c.recent.Get(recencyKey(contextID, in.AgentID))
		return ok
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		di, dj := demoted(ranked[i]), demoted(ranked[j])
		if di != dj {
			return !di
		}
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		return ranked[i].RegisteredAt.Before(ranked[j].RegisteredAt)
	})

	out := make([]string, 0, len(ranked))
	for _, in := range ranked {
		out = append(out, in.AgentID)
	}
	return out
}

// windowLocked sizes the gather window from the latency average, clamped
// to the configured bounds. Caller holds c.mu.
func (c *Coordinator) windowLocked() time.Duration {
	window := c.cfg.BaseWindow
	if c.ewma > 0 {
		window = 2 * c.ewma
	}
	if window < c.cfg.MinWindow {
		window = c.cfg.MinWindow
	}
	if window > c.cfg.MaxWindow {
		window = c.cfg.MaxWindow
	}
	return window
}

func recencyKey(contextID, agentID string) string {
	return contextID + "\x00" + agentID
}
