package api

import (
	"net/http"
	"runtime"
	"time"
)

type DiagnosticsInfo struct {
	HTTPAddr   string `json:"http_addr"`
	DataDir    string `json:"data_dir"`
	DBPath     string `json:"db_path"`
	RosterPath string `json:"roster_path"`
}

type DiagnosticsResponse struct {
	Time          time.Time       `json:"time"`
	StartedAt     time.Time       `json:"started_at"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	GoVersion     string          `json:"go_version"`
	Info          DiagnosticsInfo `json:"info"`
	Swarm         map[string]any  `json:"swarm"`
	Coordinator   map[string]any  `json:"coordinator"`
	Journal       map[string]any  `json:"journal"`
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	now := time.Now().UTC()
	started := s.StartedAt
	if started.IsZero() {
		started = now
	}
	resp := DiagnosticsResponse{
		Time:          now,
		StartedAt:     started,
		UptimeSeconds: int64(now.Sub(started).Seconds()),
		GoVersion:     runtime.Version(),
		Info:          s.Info,
		Swarm:         map[string]any{},
		Coordinator:   map[string]any{},
		Journal:       map[string]any{},
	}
	if s.Swarm != nil {
		resp.Swarm["personas"] = s.Swarm.Size()
	}
	if s.Turns != nil {
		resp.Coordinator["pending"] = s.Turns.Pending()
		resp.Coordinator["decided"] = s.Turns.DecidedCount()
		resp.Coordinator["gather_window_ms"] = s.Turns.GatherWindow().Milliseconds()
	}
	if s.Journal != nil {
		resp.Journal["subscribers"] = s.Journal.SubscriberCount()
	}
	writeJSON(w, http.StatusOK, resp)
}
