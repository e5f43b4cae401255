package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/flitsinc/go-swarm/internal/coordinator"
	"github.com/flitsinc/go-swarm/internal/inbox"
	"github.com/flitsinc/go-swarm/internal/journal"
	"github.com/flitsinc/go-swarm/internal/persona"
	"github.com/flitsinc/go-swarm/internal/schema"
)

// Loop is one persona's autonomous scheduling loop: rest per cadence,
// peek the inbox, filter candidates through the engagement policy and
// rate limiter, request a turn for the best candidate, and dispatch on
// grant. Each loop runs on its own goroutine; the only shared mutable
// state it touches is the coordinator.
type Loop struct {
	AgentID  string
	Inbox    *inbox.Inbox
	State    *persona.State
	Limits   *persona.RateLimiter
	Turns    *coordinator.Coordinator
	Executor ActionExecutor
	Journal  *journal.Journal

	// PeekDepth is how many inbox entries each cycle considers.
	PeekDepth int
	// TurnTimeout bounds the wait on the coordinator.
	TurnTimeout time.Duration
}

const (
	DefaultPeekDepth   = 5
	DefaultTurnTimeout = 30 * time.Second
)

// Run drives the loop until ctx is cancelled. A failed action or a
// panicking cycle never stops the loop; only cancellation does.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.cycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			log.Printf("agent %s: cycle error, backing off: %v", l.AgentID, err)
			l.journalError(ctx, err)
			if !sleepCtx(ctx, 2*l.State.Cadence()) {
				return ctx.Err()
			}
		}
	}
}

func (l *Loop) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()

	cadence := l.State.Cadence()
	if !sleepCtx(ctx, cadence) {
		return ctx.Err()
	}
	l.State.Rest(cadence)
	l.State.UpdateInboxLoad(l.Inbox.Size())

	for _, entry := range l.Inbox.Peek(l.peekDepth()) {
		evt := entry.Event
		if l.Limits.IsLimited(evt.ContextID) {
			continue
		}
		if !l.State.ShouldEngage(evt.Priority) {
			continue
		}

		decision, granted, turnErr := l.Turns.RequestTurn(ctx, coordinator.Intent{
			TriggerID:  evt.ID,
			ContextID:  evt.ContextID,
			AgentID:    l.AgentID,
			Confidence: float64(evt.Priority),
		}, l.turnTimeout())
		if turnErr != nil {
			if coordinator.IsTurnTimeout(turnErr) {
				// Treated as refused; try again next cycle.
				break
			}
			return turnErr
		}
		if granted {
			l.act(ctx, entry, decision)
		} else {
			// Another persona took this trigger; drop our copy so it
			// never re-arbitrates after the decision expires.
			_, _ = l.Inbox.Take(evt.ID)
		}
		// One turn request per cycle, win or lose.
		break
	}

	l.State.UpdateInboxLoad(l.Inbox.Size())
	return nil
}

// act dispatches exactly the entry that was arbitrated. If it has been
// evicted since the peek, the grant is forfeited.
func (l *Loop) act(ctx context.Context, entry inbox.Entry, decision coordinator.Decision) {
	taken, ok := l.Inbox.Take(entry.Event.ID)
	if !ok {
		return
	}
	evt := taken.Event

	start := time.Now()
	result, err := l.Executor.Execute(ctx, l.AgentID, evt)
	elapsed := time.Since(start)

	complexity := result.Complexity
	if complexity <= 0 {
		complexity = 1
	}
	// Activity is recorded even on failure so fatigue reflects the attempt.
	l.State.RecordActivity(elapsed, complexity)
	l.Turns.ObserveLatency(elapsed)

	if err != nil {
		log.Printf("agent %s: action failed for event %s: %v", l.AgentID, evt.ID, err)
		l.journalDispatch(ctx, evt, decision, "failed", err.Error())
		return
	}
	l.Limits.RecordResponse(evt.ContextID)
	l.journalDispatch(ctx, evt, decision, "ok", result.Output)
}

func (l *Loop) journalDispatch(ctx context.Context, evt inbox.Event, decision coordinator.Decision, outcome, body string) {
	if l.Journal == nil {
		return
	}
	if body == "" {
		body = outcome
	}
	_, _ = l.Journal.Append(ctx, journal.RecordInput{
		Stream:    schema.StreamDispatches,
		AgentID:   l.AgentID,
		ContextID: evt.ContextID,
		Subject:   fmt.Sprintf("Dispatch %s", evt.ID),
		Body:      body,
		Metadata: map[string]any{
			schema.MetaEventID:    evt.ID,
			schema.MetaDecisionID: decision.ID,
			schema.MetaPriority:   evt.Priority.Band(),
			schema.MetaOutcome:    outcome,
		},
	})
}

func (l *Loop) journalError(ctx context.Context, err error) {
	if l.Journal == nil {
		return
	}
	_, _ = l.Journal.Append(ctx, journal.RecordInput{
		Stream:  schema.StreamErrors,
		AgentID: l.AgentID,
		Subject: "Scheduler cycle error",
		Body:    err.Error(),
	})
}

func (l *Loop) peekDepth() int {
	if l.PeekDepth > 0 {
		return l.PeekDepth
	}
	return DefaultPeekDepth
}

func (l *Loop) turnTimeout() time.Duration {
	if l.TurnTimeout > 0 {
		return l.TurnTimeout
	}
	return DefaultTurnTimeout
}

// sleepCtx sleeps for d, returning false if ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
