package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/flitsinc/go-swarm/internal/api"
	"github.com/flitsinc/go-swarm/internal/config"
	"github.com/flitsinc/go-swarm/internal/coordinator"
	"github.com/flitsinc/go-swarm/internal/ingest"
	"github.com/flitsinc/go-swarm/internal/journal"
	"github.com/flitsinc/go-swarm/internal/schema"
	"github.com/flitsinc/go-swarm/internal/scheduler"
	"github.com/flitsinc/go-swarm/internal/state"
)

func main() {
	cfg := config.Load()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	db, err := state.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := state.NewStore(db)
	jrnl := journal.New(db)

	roster, err := loadRoster(cfg.RosterPath)
	if err != nil {
		log.Fatalf("load roster: %v", err)
	}
	specs, err := roster.PersonaSpecs()
	if err != nil {
		log.Fatalf("roster personas: %v", err)
	}
	coordCfg, err := roster.CoordinatorSettings()
	if err != nil {
		log.Fatalf("roster coordinator: %v", err)
	}

	turns := coordinator.New(coordCfg, coordinator.WithDecisionHook(func(d coordinator.Decision) {
		body := "no turn granted"
		if len(d.Granted) > 0 {
			body = "granted to " + strings.Join(d.Granted, ", ")
		}
		_, _ = jrnl.Append(context.Background(), journal.RecordInput{
			Stream:    schema.StreamDecisions,
			ContextID: d.ContextID,
			Subject:   fmt.Sprintf("Decision for trigger %s", d.TriggerID),
			Body:      body,
			Metadata: map[string]any{
				schema.MetaTriggerID:  d.TriggerID,
				schema.MetaDecisionID: d.ID,
				"intents":             d.Intents,
				"window_ms":           d.Window.Milliseconds(),
			},
		})
	}))

	swarm, err := scheduler.NewSwarm(specs, turns, scheduler.NoopExecutor{}, jrnl, store)
	if err != nil {
		log.Fatalf("build swarm: %v", err)
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	if err := swarm.Start(runCtx); err != nil {
		log.Fatalf("start swarm: %v", err)
	}
	log.Printf("swarm running with %d personas", swarm.Size())

	apiServer := &api.Server{
		Swarm:     swarm,
		Ingest:    &ingest.Ingestor{Swarm: swarm, Journal: jrnl},
		Turns:     turns,
		Journal:   jrnl,
		Store:     store,
		StartedAt: time.Now().UTC(),
		Info: api.DiagnosticsInfo{
			HTTPAddr:   cfg.HTTPAddr,
			DataDir:    cfg.DataDir,
			DBPath:     cfg.DBPath,
			RosterPath: cfg.RosterPath,
		},
	}

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	httpServer := &http.Server{
		Handler:           loggingMiddleware(apiServer.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("swarmd listening on %s", listener.Addr())
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	swarm.Stop(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	_ = httpServer.Close()
}

func loadRoster(path string) (config.Roster, error) {
	roster, err := config.LoadRoster(path)
	if err == nil {
		return roster, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("no roster at %s, using default roster", path)
		return config.DefaultRoster(), nil
	}
	return config.Roster{}, err
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
