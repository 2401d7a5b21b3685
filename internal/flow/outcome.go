package flow

import (
	"context"

	"github.com/FlowDeckHQ/FlowDeck/internal/models"
)

// Outcome is the result of resolving one step. A step either advances
// immediately or suspends waiting for an external event bounded by the
// step's timeout.
type Outcome struct {
	// Suspended reports that the step waits for a user event; the engine
	// persists the cursor and yields until Resume or timeout.
	Suspended bool

	// Update is the rendered step emitted to the client.
	Update models.StepUpdate

	// Value is the resolved step result recorded under the positional
	// context key when the step advances without user input.
	Value string
}

// Handler resolves one step kind. Resolve is called when the cursor reaches
// the step; Resume is called when a user event arrives for a suspended step
// and returns the value to record.
type Handler interface {
	Resolve(ctx context.Context, step models.Step, vars *VariableContext) (Outcome, error)
	Resume(step models.Step, vars *VariableContext, event models.FlowEventRequest) (string, error)
}

// handlerFor selects the handler for a step kind. The variant set is
// closed: adding a kind means adding a handler and a case here.
func (e *Engine) handlerFor(kind models.StepKind) (Handler, error) {
	switch kind {
	case models.StepKindText:
		return e.textHandler, nil
	case models.StepKindButtons, models.StepKindOptions:
		return e.choiceHandler, nil
	case models.StepKindInput:
		return e.inputHandler, nil
	case models.StepKindAI:
		return e.aiHandler, nil
	case models.StepKindAudio:
		return e.audioHandler, nil
	case models.StepKindDesignList, models.StepKindDesignSelect:
		return e.designHandler, nil
	default:
		return nil, models.ErrInvalidStepKind
	}
}

// positionalSuffix maps a step kind to its synthesized context key suffix.
// Kinds without a positional key return "".
func positionalSuffix(kind models.StepKind) string {
	switch kind {
	case models.StepKindText:
		return "text"
	case models.StepKindButtons:
		return "button"
	case models.StepKindOptions:
		return "option"
	case models.StepKindInput:
		return "input"
	case models.StepKindAI:
		return "ai"
	default:
		return ""
	}
}
