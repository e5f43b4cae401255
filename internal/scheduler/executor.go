package scheduler

import (
	"context"
	"fmt"

	"github.com/flitsinc/go-swarm/internal/inbox"
)

// ActionResult describes what an executed action cost. Complexity scales
// energy depletion; 1 is a typical action.
type ActionResult struct {
	Output     string
	Complexity float64
}

// ActionExecutor is the host-supplied boundary that performs whatever a
// granted turn means (an LLM call, a message send). The scheduling core
// never inspects the action's content.
type ActionExecutor interface {
	Execute(ctx context.Context, agentID string, evt inbox.Event) (ActionResult, error)
}

// ExecutorFunc adapts a function to the ActionExecutor interface.
type ExecutorFunc func(ctx context.Context, agentID string, evt inbox.Event) (ActionResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, agentID string, evt inbox.Event) (ActionResult, error) {
	return f(ctx, agentID, evt)
}

// NoopExecutor acknowledges the event and does nothing else. Default for
// swarmd until a host embeds the library with a real executor.
type NoopExecutor struct{}

func (NoopExecutor) Execute(_ context.Context, agentID string, evt inbox.Event) (ActionResult, error) {
	return ActionResult{
		Output:     fmt.Sprintf("agent %s acknowledged event %s", agentID, evt.ID),
		Complexity: 0.1,
	}, nil
}
