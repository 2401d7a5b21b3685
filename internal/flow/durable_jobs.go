package flow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/FlowDeckHQ/FlowDeck/internal/store"
)

// RegisterJobHandlers wires the engine's durable job handlers into the
// runner. Handlers are idempotent: a retried or replayed job that no longer
// applies is a no-op.
func RegisterJobHandlers(runner *store.JobRunner, engine *Engine) {
	runner.RegisterHandler(JobKindSessionTimeout, func(ctx context.Context, payload string) error {
		var p timeoutPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return fmt.Errorf("failed to decode session timeout payload: %w", err)
		}
		return engine.ExpireSession(ctx, p.SessionID, p.StepIndex)
	})
}
