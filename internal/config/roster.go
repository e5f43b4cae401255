package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flitsinc/go-swarm/internal/coordinator"
	"github.com/flitsinc/go-swarm/internal/persona"
	"github.com/flitsinc/go-swarm/internal/scheduler"
)

// Roster is the YAML configuration surface: the personas to run and the
// coordinator tuning. Loaded once at startup, immutable thereafter.
type Roster struct {
	Personas    []PersonaConfig   `yaml:"personas"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
}

type PersonaConfig struct {
	ID                         string            `yaml:"id"`
	Name                       string            `yaml:"name"`
	InboxCapacity              int               `yaml:"inbox_capacity"`
	MinSecondsBetweenResponses int               `yaml:"min_seconds_between_responses"`
	MaxResponsesPerSession     int               `yaml:"max_responses_per_session"`
	ComputeBudget              float64           `yaml:"compute_budget"`
	Cadence                    map[string]string `yaml:"cadence"`
	PeekDepth                  int               `yaml:"peek_depth"`
	TurnTimeout                string            `yaml:"turn_timeout"`
}

type CoordinatorConfig struct {
	FanOut          int     `yaml:"fan_out"`
	MinGatherWindow string  `yaml:"min_gather_window"`
	MaxGatherWindow string  `yaml:"max_gather_window"`
	BaseWindow      string  `yaml:"base_window"`
	Retention       string  `yaml:"retention"`
	RecencyWindow   string  `yaml:"recency_window"`
	EarlyConfidence float64 `yaml:"early_confidence"`
}

// LoadRoster reads and validates a roster file.
func LoadRoster(path string) (Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Roster{}, fmt.Errorf("read roster: %w", err)
	}
	var roster Roster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return Roster{}, fmt.Errorf("parse roster: %w", err)
	}
	if len(roster.Personas) == 0 {
		return Roster{}, fmt.Errorf("roster has no personas")
	}
	seen := map[string]struct{}{}
	for _, p := range roster.Personas {
		if p.ID == "" {
			return Roster{}, fmt.Errorf("roster persona without id")
		}
		if _, dup := seen[p.ID]; dup {
			return Roster{}, fmt.Errorf("duplicate persona id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return roster, nil
}

// DefaultRoster is used when no roster file exists: a single persona
// with library defaults.
func DefaultRoster() Roster {
	return Roster{
		Personas: []PersonaConfig{{ID: "operator", Name: "Operator"}},
	}
}

// PersonaSpecs converts the roster into scheduler specs.
func (r Roster) PersonaSpecs() ([]scheduler.PersonaSpec, error) {
	out := make([]scheduler.PersonaSpec, 0, len(r.Personas))
	for _, p := range r.Personas {
		cadence, err := parseCadence(p.Cadence)
		if err != nil {
			return nil, fmt.Errorf("persona %q: %w", p.ID, err)
		}
		turnTimeout, err := parseDuration(p.TurnTimeout, 0)
		if err != nil {
			return nil, fmt.Errorf("persona %q: turn_timeout: %w", p.ID, err)
		}
		name := p.Name
		if name == "" {
			name = p.ID
		}
		out = append(out, scheduler.PersonaSpec{
			ID:                     p.ID,
			Name:                   name,
			InboxCapacity:          p.InboxCapacity,
			MinResponseInterval:    time.Duration(p.MinSecondsBetweenResponses) * time.Second,
			MaxResponsesPerSession: p.MaxResponsesPerSession,
			ComputeBudget:          p.ComputeBudget,
			Cadence:                cadence,
			PeekDepth:              p.PeekDepth,
			TurnTimeout:            turnTimeout,
		})
	}
	return out, nil
}

// CoordinatorConfig converts the roster's coordinator block.
func (r Roster) CoordinatorSettings() (coordinator.Config, error) {
	c := r.Coordinator
	minWindow, err := parseDuration(c.MinGatherWindow, 0)
	if err != nil {
		return coordinator.Config{}, fmt.Errorf("min_gather_window: %w", err)
	}
	maxWindow, err := parseDuration(c.MaxGatherWindow, 0)
	if err != nil {
		return coordinator.Config{}, fmt.Errorf("max_gather_window: %w", err)
	}
	baseWindow, err := parseDuration(c.BaseWindow, 0)
	if err != nil {
		return coordinator.Config{}, fmt.Errorf("base_window: %w", err)
	}
	retention, err := parseDuration(c.Retention, 0)
	if err != nil {
		return coordinator.Config{}, fmt.Errorf("retention: %w", err)
	}
	recency, err := parseDuration(c.RecencyWindow, 0)
	if err != nil {
		return coordinator.Config{}, fmt.Errorf("recency_window: %w", err)
	}
	return coordinator.Config{
		FanOut:          c.FanOut,
		MinWindow:       minWindow,
		MaxWindow:       maxWindow,
		BaseWindow:      baseWindow,
		Retention:       retention,
		RecencyWindow:   recency,
		EarlyConfidence: c.EarlyConfidence,
	}, nil
}

func parseCadence(raw map[string]string) (persona.CadenceTable, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	table := persona.CadenceTable{}
	for mood, value := range raw {
		switch persona.Mood(mood) {
		case persona.MoodActive, persona.MoodTired, persona.MoodOverwhelmed, persona.MoodIdle:
		default:
			return nil, fmt.Errorf("unknown mood %q in cadence table", mood)
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("cadence for %q: %w", mood, err)
		}
		table[persona.Mood(mood)] = d
	}
	return table, nil
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}
