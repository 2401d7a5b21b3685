package flow

import (
	"context"

	"github.com/FlowDeckHQ/FlowDeck/internal/models"
)

// InputHandler presents a free-input step and records the submitted value
// on resume.
type InputHandler struct{}

// Resolve renders the prompt and placeholder, then suspends for a submit
// event.
func (h *InputHandler) Resolve(ctx context.Context, step models.Step, vars *VariableContext) (Outcome, error) {
	return Outcome{
		Suspended: true,
		Update: models.StepUpdate{
			Kind:        step.Kind,
			Suspended:   true,
			Body:        vars.Render(step.Body),
			Placeholder: vars.Render(step.Placeholder),
			InputType:   step.InputType,
		},
	}, nil
}

// Resume records the submitted value.
func (h *InputHandler) Resume(step models.Step, vars *VariableContext, event models.FlowEventRequest) (string, error) {
	return event.Payload, nil
}
