package flow

import (
	"context"

	"github.com/FlowDeckHQ/FlowDeck/internal/models"
)

// TextHandler renders a text step against the variable context and
// advances immediately.
type TextHandler struct{}

// Resolve renders the step body.
func (h *TextHandler) Resolve(ctx context.Context, step models.Step, vars *VariableContext) (Outcome, error) {
	body := vars.Render(step.Body)
	return Outcome{
		Update: models.StepUpdate{Kind: step.Kind, Body: body},
		Value:  body,
	}, nil
}

// Resume is never reached for text steps.
func (h *TextHandler) Resume(step models.Step, vars *VariableContext, event models.FlowEventRequest) (string, error) {
	return "", models.ErrStepNotInteractive
}
