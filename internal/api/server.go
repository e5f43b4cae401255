package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/flitsinc/go-swarm/internal/coordinator"
	"github.com/flitsinc/go-swarm/internal/ingest"
	"github.com/flitsinc/go-swarm/internal/journal"
	"github.com/flitsinc/go-swarm/internal/persona"
	"github.com/flitsinc/go-swarm/internal/scheduler"
	"github.com/flitsinc/go-swarm/internal/state"
)

// Server exposes the inspection boundary and the event-injection entry
// point. Everything except POST /api/events is read-only: handlers hand
// out snapshots, never references into persona internals.
type Server struct {
	Swarm     *scheduler.Swarm
	Ingest    *ingest.Ingestor
	Turns     *coordinator.Coordinator
	Journal   *journal.Journal
	Store     *state.Store
	StartedAt time.Time
	Info      DiagnosticsInfo
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/personas", s.handlePersonas)
	mux.HandleFunc("/api/personas/", s.handlePersonaItem)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/journal/", s.handleJournal)
	mux.HandleFunc("/api/decisions/", s.handleDecisionItem)
	mux.HandleFunc("/api/streams/ws", s.handleStreamWS)
	mux.HandleFunc("/api/diagnostics", s.handleDiagnostics)

	return mux
}

// PersonaView is the read-only snapshot served per persona.
type PersonaView struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	State         persona.Snapshot        `json:"state"`
	InboxDepth    int                     `json:"inbox_depth"`
	InboxCapacity int                     `json:"inbox_capacity"`
	InboxDropped  uint64                  `json:"inbox_dropped"`
	RateLimits    []persona.RateLimitInfo `json:"rate_limits,omitempty"`
}

func viewOf(agent *scheduler.Agent, withLimits bool) PersonaView {
	view := PersonaView{
		ID:            agent.ID,
		Name:          agent.Name,
		State:         agent.State.Snapshot(),
		InboxDepth:    agent.Inbox.Size(),
		InboxCapacity: agent.Inbox.Capacity(),
		InboxDropped:  agent.Inbox.Dropped(),
	}
	if withLimits {
		view.RateLimits = agent.Limits.Info()
	}
	return view
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handlePersonas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	agents := s.Swarm.Agents()
	out := make([]PersonaView, 0, len(agents))
	for _, agent := range agents {
		out = append(out, viewOf(agent, false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePersonaItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/personas/"), "/")
	if id == "" {
		writeError(w, http.StatusNotFound, errNotFound("persona"))
		return
	}
	agent, ok := s.Swarm.Agent(id)
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound("persona"))
		return
	}
	writeJSON(w, http.StatusOK, viewOf(agent, true))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var occ ingest.Occurrence
	if err := decodeJSON(r.Body, &occ); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	delivery, err := s.Ingest.Broadcast(r.Context(), occ)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, delivery)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	stream := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/journal/"), "/")
	if stream == "" {
		writeError(w, http.StatusNotFound, errNotFound("stream"))
		return
	}
	items, err := s.Journal.List(r.Context(), stream, journal.ListOptions{
		AgentID:   r.URL.Query().Get("agent"),
		ContextID: r.URL.Query().Get("context"),
		Limit:     parseInt(r.URL.Query().Get("limit"), 50),
		Order:     r.URL.Query().Get("order"),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleDecisionItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	triggerID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/decisions/"), "/")
	if triggerID == "" {
		writeError(w, http.StatusNotFound, errNotFound("decision"))
		return
	}
	decision, ok := s.Turns.Lookup(triggerID)
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound("decision"))
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func decodeJSON(body io.Reader, dest any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitComma(value string) []string {
	parts := strings.Split(value, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

type notFoundError struct {
	msg string
}

func (e notFoundError) Error() string { return e.msg }

func errNotFound(target string) error {
	return notFoundError{msg: target + " not found"}
}
