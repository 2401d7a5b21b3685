package flow

import (
	"context"

	"github.com/FlowDeckHQ/FlowDeck/internal/models"
)

// ChoiceHandler presents button or option steps and records the selected
// value on resume.
type ChoiceHandler struct{}

// Resolve renders the prompt and choice labels, then suspends for a
// selection event.
func (h *ChoiceHandler) Resolve(ctx context.Context, step models.Step, vars *VariableContext) (Outcome, error) {
	choices := make([]models.Choice, len(step.Choices))
	for i, c := range step.Choices {
		choices[i] = models.Choice{Label: vars.Render(c.Label), Value: c.Value}
	}
	return Outcome{
		Suspended: true,
		Update: models.StepUpdate{
			Kind:      step.Kind,
			Suspended: true,
			Body:      vars.Render(step.Body),
			Choices:   choices,
		},
	}, nil
}

// Resume records the selected value. Values outside the declared choice
// list are accepted as-is; clients may send free-form answers to choice
// prompts and the flow stays lenient.
func (h *ChoiceHandler) Resume(step models.Step, vars *VariableContext, event models.FlowEventRequest) (string, error) {
	return event.Payload, nil
}
