package flow

import (
	"context"
	"log/slog"

	"github.com/FlowDeckHQ/FlowDeck/internal/genai"
	"github.com/FlowDeckHQ/FlowDeck/internal/models"
)

// AIHandler drives ai-generated steps through the AI provider. Provider
// failures fall back to fixed typed content instead of aborting the flow;
// an output type mismatch is logged and the returned type wins.
type AIHandler struct {
	provider genai.Provider
}

// Resolve renders the prompt template, calls the provider, and maps the
// tagged result onto an advance or suspend outcome.
func (h *AIHandler) Resolve(ctx context.Context, step models.Step, vars *VariableContext) (Outcome, error) {
	prompt := vars.Render(step.AIPrompt)

	result, err := h.provider.Generate(ctx, genai.Request{
		Prompt:      prompt,
		Model:       step.AIModel,
		Temperature: step.AITemperature,
		OutputType:  step.AIOutputType,
		Variables:   vars.Snapshot(),
	})
	if err != nil {
		slog.Warn("AIHandler.Resolve: provider failed, using typed fallback", "outputType", step.AIOutputType, "error", err)
		result = FallbackResult(step.AIOutputType)
	} else if result.Type != step.AIOutputType {
		// Lenient on purpose: the provider's returned tag wins.
		slog.Warn("AIHandler.Resolve: output type mismatch", "declared", step.AIOutputType, "returned", result.Type)
	}

	update := models.StepUpdate{
		Kind:   step.Kind,
		Output: result.Type,
		Body:   result.Content,
	}

	switch result.Type {
	case models.AIOutputButtons:
		update.Suspended = true
		update.Choices = result.Buttons
		return Outcome{Suspended: true, Update: update}, nil
	case models.AIOutputInput:
		update.Suspended = true
		update.Placeholder = result.Placeholder
		update.InputType = result.InputType
		return Outcome{Suspended: true, Update: update}, nil
	case models.AIOutputOptions:
		update.Suspended = true
		update.Choices = optionChoices(result.Options)
		return Outcome{Suspended: true, Update: update}, nil
	default:
		return Outcome{Update: update, Value: result.Content}, nil
	}
}

// Resume records the answer a user gave to an interactive AI result.
func (h *AIHandler) Resume(step models.Step, vars *VariableContext, event models.FlowEventRequest) (string, error) {
	return event.Payload, nil
}

// FallbackResult returns the fixed fallback content for a declared output
// type. The exact values are load-bearing for reliability.
func FallbackResult(outputType models.AIOutputType) *models.AIResult {
	switch outputType {
	case models.AIOutputButtons:
		return &models.AIResult{
			Type:    models.AIOutputButtons,
			Buttons: []models.Choice{{Label: models.FallbackButtonLabel, Value: models.FallbackButtonValue}},
		}
	case models.AIOutputInput:
		return &models.AIResult{
			Type:        models.AIOutputInput,
			Placeholder: models.FallbackInputPlaceholder,
			InputType:   models.FallbackInputType,
		}
	case models.AIOutputOptions:
		return &models.AIResult{Type: models.AIOutputOptions, Options: models.FallbackOptions}
	default:
		return &models.AIResult{Type: models.AIOutputText, Content: models.FallbackText}
	}
}

// optionChoices converts plain option strings into label/value pairs.
func optionChoices(options []string) []models.Choice {
	choices := make([]models.Choice, len(options))
	for i, o := range options {
		choices[i] = models.Choice{Label: o, Value: o}
	}
	return choices
}
