package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flitsinc/go-swarm/internal/coordinator"
	"github.com/flitsinc/go-swarm/internal/inbox"
	"github.com/flitsinc/go-swarm/internal/journal"
	"github.com/flitsinc/go-swarm/internal/persona"
	"github.com/flitsinc/go-swarm/internal/state"
)

// PersonaSpec is one roster entry. All values are fixed at construction;
// reconfiguring a persona means recreating the swarm.
type PersonaSpec struct {
	ID                     string
	Name                   string
	InboxCapacity          int
	MinResponseInterval    time.Duration
	MaxResponsesPerSession int
	ComputeBudget          float64
	Cadence                persona.CadenceTable
	PeekDepth              int
	TurnTimeout            time.Duration
}

// Agent bundles one persona's components. Inbox, State and Limits are
// exposed read-only through snapshots; only the agent's own loop writes.
type Agent struct {
	ID     string
	Name   string
	Inbox  *inbox.Inbox
	State  *persona.State
	Limits *persona.RateLimiter

	loop *Loop
}

// Swarm owns a set of persona loops and runs each on its own goroutine.
type Swarm struct {
	agents map[string]*Agent
	order  []string

	turns   *coordinator.Coordinator
	journal *journal.Journal
	store   *state.Store

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

func NewSwarm(specs []PersonaSpec, turns *coordinator.Coordinator, executor ActionExecutor, jrnl *journal.Journal, store *state.Store) (*Swarm, error) {
	if turns == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if executor == nil {
		executor = NoopExecutor{}
	}

	s := &Swarm{
		agents:  map[string]*Agent{},
		turns:   turns,
		journal: jrnl,
		store:   store,
	}
	for _, spec := range specs {
		if spec.ID == "" {
			return nil, fmt.Errorf("persona id is required")
		}
		if _, exists := s.agents[spec.ID]; exists {
			return nil, fmt.Errorf("duplicate persona id %q", spec.ID)
		}
		agent := &Agent{
			ID:     spec.ID,
			Name:   spec.Name,
			Inbox:  inbox.New(spec.InboxCapacity),
			State:  persona.NewState(spec.ID, spec.Cadence),
			Limits: persona.NewRateLimiter(spec.MinResponseInterval, spec.MaxResponsesPerSession),
		}
		agent.State.SetComputeBudget(budgetOrDefault(spec.ComputeBudget))
		agent.loop = &Loop{
			AgentID:     spec.ID,
			Inbox:       agent.Inbox,
			State:       agent.State,
			Limits:      agent.Limits,
			Turns:       turns,
			Executor:    executor,
			Journal:     jrnl,
			PeekDepth:   spec.PeekDepth,
			TurnTimeout: spec.TurnTimeout,
		}
		s.agents[spec.ID] = agent
		s.order = append(s.order, spec.ID)
	}
	return s, nil
}

// Start launches every persona loop. Loops run until Stop.
func (s *Swarm) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("swarm already started")
	}
	s.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, id := range s.order {
		agent := s.agents[id]
		if s.store != nil {
			if _, err := s.store.UpsertPersona(ctx, agent.ID, agent.Name, state.PersonaRunning); err != nil {
				cancel()
				return err
			}
		}
		s.wg.Add(1)
		go func(a *Agent) {
			defer s.wg.Done()
			_ = a.loop.Run(loopCtx)
		}(agent)
	}
	return nil
}

// Stop cancels every loop, waits for them to exit, and closes out each
// persona's session state.
func (s *Swarm) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()

	for _, id := range s.order {
		agent := s.agents[id]
		agent.Limits.ResetAll()
		if s.store != nil {
			_ = s.store.SetPersonaStatus(ctx, agent.ID, state.PersonaStopped)
		}
	}
}

// Deliver enqueues an event into one persona's inbox. Returns false if
// the persona is unknown or the inbox dropped the event.
func (s *Swarm) Deliver(agentID string, evt inbox.Event) bool {
	agent, ok := s.agents[agentID]
	if !ok {
		return false
	}
	return agent.Inbox.Enqueue(evt)
}

// Agent returns one persona's components for inspection.
func (s *Swarm) Agent(agentID string) (*Agent, bool) {
	agent, ok := s.agents[agentID]
	return agent, ok
}

// Agents returns all personas in roster order.
func (s *Swarm) Agents() []*Agent {
	out := make([]*Agent, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.agents[id])
	}
	return out
}

func (s *Swarm) Size() int {
	return len(s.agents)
}

func budgetOrDefault(v float64) float64 {
	if v <= 0 {
		return 1
	}
	return v
}
