package persona

import (
	"sync"
	"time"

	"github.com/flitsinc/go-swarm/internal/schema"
)

// Mood is derived from the other state fields, never set directly.
type Mood string

const (
	MoodActive      Mood = "active"
	MoodTired       Mood = "tired"
	MoodOverwhelmed Mood = "overwhelmed"
	MoodIdle        Mood = "idle"
)

// CadenceTable maps mood to the base rest interval between scheduling
// cycles. The interval doubles while the compute budget is low.
type CadenceTable map[Mood]time.Duration

func DefaultCadence() CadenceTable {
	return CadenceTable{
		MoodOverwhelmed: 10 * time.Second,
		MoodTired:       7 * time.Second,
		MoodActive:      5 * time.Second,
		MoodIdle:        3 * time.Second,
	}
}

// State is one persona's internal rhythm model. Only the persona's own
// scheduler loop mutates it; other goroutines read through Snapshot.
type State struct {
	mu sync.Mutex

	agentID       string
	energy        float64
	attention     float64
	mood          Mood
	inboxLoad     int
	computeBudget float64
	lastActivity  time.Time
	responseCount int
	cadence       CadenceTable
}

// Snapshot is a read-only copy of the state at one instant.
type Snapshot struct {
	AgentID       string    `json:"agent_id"`
	Energy        float64   `json:"energy"`
	Attention     float64   `json:"attention"`
	Mood          Mood      `json:"mood"`
	InboxLoad     int       `json:"inbox_load"`
	ComputeBudget float64   `json:"compute_budget"`
	LastActivity  time.Time `json:"last_activity,omitempty"`
	ResponseCount int       `json:"response_count"`
}

func NewState(agentID string, cadence CadenceTable) *State {
	if len(cadence) == 0 {
		cadence = DefaultCadence()
	}
	return &State{
		agentID:       agentID,
		energy:        1,
		attention:     1,
		mood:          MoodIdle,
		computeBudget: 1,
		cadence:       cadence,
	}
}

// RecordActivity depletes energy proportionally to the work done and
// compounds attention fatigue when energy runs low.
func (s *State) RecordActivity(duration time.Duration, complexity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.energy -= duration.Seconds() / 10 * complexity
	s.energy = clamp01(s.energy)
	if s.energy < 0.3 {
		s.attention = clamp01(s.attention * 0.9)
	}
	s.responseCount++
	s.lastActivity = time.Now().UTC()
	s.refreshMood()
}

// Rest recovers energy at half the depletion rate and attention at twice
// the energy recovery rate. Effort costs more than rest repays, so
// sustained load eventually throttles the persona.
func (s *State) Rest(duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := duration.Seconds() / 20
	s.energy = clamp01(s.energy + delta)
	s.attention = clamp01(s.attention + 2*delta)
	s.refreshMood()
}

// ShouldEngage applies the engagement policy: urgent priorities always
// engage, everything else clears a mood-dependent threshold that rises
// as load and fatigue rise.
func (s *State) ShouldEngage(priority schema.Priority) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if priority.Urgent() {
		return true
	}
	switch s.mood {
	case MoodOverwhelmed:
		return priority > 0.9
	case MoodTired:
		return priority > 0.5 && s.energy > 0.2
	case MoodActive:
		return priority > 0.3
	default:
		return priority > 0.1
	}
}

// Cadence returns the rest interval for the current mood, doubled while
// the compute budget is below half.
func (s *State) Cadence() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	interval, ok := s.cadence[s.mood]
	if !ok {
		interval = DefaultCadence()[s.mood]
	}
	if s.computeBudget < 0.5 {
		interval *= 2
	}
	return interval
}

func (s *State) UpdateInboxLoad(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inboxLoad = n
	s.refreshMood()
}

// SetComputeBudget records an external throttle signal in [0,1], e.g. a
// provider rate limit.
func (s *State) SetComputeBudget(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.computeBudget = clamp01(v)
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		AgentID:       s.agentID,
		Energy:        s.energy,
		Attention:     s.attention,
		Mood:          s.mood,
		InboxLoad:     s.inboxLoad,
		ComputeBudget: s.computeBudget,
		LastActivity:  s.lastActivity,
		ResponseCount: s.responseCount,
	}
}

// refreshMood recomputes mood from the other fields. Caller holds s.mu.
// Evaluation order matters: overload outranks fatigue outranks activity.
func (s *State) refreshMood() {
	switch {
	case s.inboxLoad > 50:
		s.mood = MoodOverwhelmed
	case s.energy < 0.3:
		s.mood = MoodTired
	case s.responseCount > 0 && s.energy > 0.5:
		s.mood = MoodActive
	default:
		s.mood = MoodIdle
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
