package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flitsinc/go-swarm/internal/persona"
)

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRoster(t *testing.T) {
	path := writeRoster(t, `
personas:
  - id: ada
    name: Ada
    inbox_capacity: 200
    min_seconds_between_responses: 15
    max_responses_per_session: 30
    compute_budget: 0.4
    peek_depth: 3
    turn_timeout: 45s
    cadence:
      idle: 2s
      active: 4s
      tired: 6s
      overwhelmed: 8s
  - id: bob
coordinator:
  fan_out: 2
  min_gather_window: 1s
  max_gather_window: 30s
  base_window: 4s
  retention: 10m
  recency_window: 1m
  early_confidence: 0.85
`)

	roster, err := LoadRoster(path)
	require.NoError(t, err)

	specs, err := roster.PersonaSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 2)

	ada := specs[0]
	assert.Equal(t, "ada", ada.ID)
	assert.Equal(t, "Ada", ada.Name)
	assert.Equal(t, 200, ada.InboxCapacity)
	assert.Equal(t, 15*time.Second, ada.MinResponseInterval)
	assert.Equal(t, 30, ada.MaxResponsesPerSession)
	assert.Equal(t, 0.4, ada.ComputeBudget)
	assert.Equal(t, 3, ada.PeekDepth)
	assert.Equal(t, 45*time.Second, ada.TurnTimeout)
	assert.Equal(t, 2*time.Second, ada.Cadence[persona.MoodIdle])
	assert.Equal(t, 8*time.Second, ada.Cadence[persona.MoodOverwhelmed])

	// Name falls back to the id, cadence to the library table.
	bob := specs[1]
	assert.Equal(t, "bob", bob.Name)
	assert.Nil(t, bob.Cadence)

	coord, err := roster.CoordinatorSettings()
	require.NoError(t, err)
	assert.Equal(t, 2, coord.FanOut)
	assert.Equal(t, time.Second, coord.MinWindow)
	assert.Equal(t, 30*time.Second, coord.MaxWindow)
	assert.Equal(t, 4*time.Second, coord.BaseWindow)
	assert.Equal(t, 10*time.Minute, coord.Retention)
	assert.Equal(t, time.Minute, coord.RecencyWindow)
	assert.Equal(t, 0.85, coord.EarlyConfidence)
}

func TestLoadRosterMissingFile(t *testing.T) {
	_, err := LoadRoster(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadRosterRejectsEmptyPersonas(t *testing.T) {
	path := writeRoster(t, "personas: []\n")
	_, err := LoadRoster(path)
	assert.Error(t, err)
}

func TestLoadRosterRejectsMissingID(t *testing.T) {
	path := writeRoster(t, "personas:\n  - name: Nameless\n")
	_, err := LoadRoster(path)
	assert.Error(t, err)
}

func TestLoadRosterRejectsDuplicateIDs(t *testing.T) {
	path := writeRoster(t, "personas:\n  - id: ada\n  - id: ada\n")
	_, err := LoadRoster(path)
	assert.Error(t, err)
}

func TestPersonaSpecsRejectsUnknownMood(t *testing.T) {
	path := writeRoster(t, `
personas:
  - id: ada
    cadence:
      grumpy: 5s
`)
	roster, err := LoadRoster(path)
	require.NoError(t, err)
	_, err = roster.PersonaSpecs()
	assert.ErrorContains(t, err, "grumpy")
}

func TestPersonaSpecsRejectsBadDuration(t *testing.T) {
	path := writeRoster(t, `
personas:
  - id: ada
    turn_timeout: soon
`)
	roster, err := LoadRoster(path)
	require.NoError(t, err)
	_, err = roster.PersonaSpecs()
	assert.Error(t, err)
}

func TestCoordinatorSettingsRejectsBadDuration(t *testing.T) {
	path := writeRoster(t, `
personas:
  - id: ada
coordinator:
  retention: forever
`)
	roster, err := LoadRoster(path)
	require.NoError(t, err)
	_, err = roster.CoordinatorSettings()
	assert.Error(t, err)
}

func TestDefaultRoster(t *testing.T) {
	roster := DefaultRoster()
	specs, err := roster.PersonaSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "operator", specs[0].ID)
}
