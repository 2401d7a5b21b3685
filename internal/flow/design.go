package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/FlowDeckHQ/FlowDeck/internal/design"
	"github.com/FlowDeckHQ/FlowDeck/internal/genai"
	"github.com/FlowDeckHQ/FlowDeck/internal/models"
)

// DesignHandler resolves the two external-design step kinds. Listing
// fetches designs from the provider; ai-select asks the AI provider to
// pick one template among the curated candidates and optionally runs an
// autofill job on it. Provider failures mark the step update and the
// flow advances regardless.
type DesignHandler struct {
	provider design.Provider
	ai       genai.Provider
}

// Resolve dispatches on the design step kind.
func (h *DesignHandler) Resolve(ctx context.Context, step models.Step, vars *VariableContext) (Outcome, error) {
	if h.provider == nil {
		slog.Warn("DesignHandler.Resolve: no design provider configured", "kind", step.Kind)
		return Outcome{Update: models.StepUpdate{Kind: step.Kind, Error: "design provider unavailable"}}, nil
	}

	switch step.Kind {
	case models.StepKindDesignList:
		return h.resolveList(ctx, step)
	case models.StepKindDesignSelect:
		return h.resolveSelect(ctx, step, vars)
	default:
		return Outcome{}, models.ErrInvalidStepKind
	}
}

// Resume is never reached for design steps.
func (h *DesignHandler) Resume(step models.Step, vars *VariableContext, event models.FlowEventRequest) (string, error) {
	return "", models.ErrStepNotInteractive
}

func (h *DesignHandler) resolveList(ctx context.Context, step models.Step) (Outcome, error) {
	update := models.StepUpdate{Kind: step.Kind}

	if step.DesignID != "" {
		d, err := h.provider.GetDesign(ctx, step.DesignID)
		if err != nil {
			slog.Warn("DesignHandler.resolveList: fetch failed, continuing", "designID", step.DesignID, "error", err)
			update.Error = "design unavailable"
			return Outcome{Update: update}, nil
		}
		if d == nil {
			update.Error = fmt.Sprintf("design %s not found", step.DesignID)
			return Outcome{Update: update}, nil
		}
		update.Design = &models.DesignResult{Design: d}
		return Outcome{Update: update, Value: d.ID}, nil
	}

	page, err := h.provider.ListDesigns(ctx, "")
	if err != nil {
		slog.Warn("DesignHandler.resolveList: listing failed, continuing", "error", err)
		update.Error = "design listing unavailable"
		return Outcome{Update: update}, nil
	}
	update.Design = &models.DesignResult{Designs: page.Designs}
	return Outcome{Update: update}, nil
}

func (h *DesignHandler) resolveSelect(ctx context.Context, step models.Step, vars *VariableContext) (Outcome, error) {
	update := models.StepUpdate{Kind: step.Kind}

	chosen, err := h.pickCandidate(ctx, step, vars)
	if err != nil {
		slog.Warn("DesignHandler.resolveSelect: AI pick failed, using first candidate", "error", err)
		chosen = step.DesignCandidates[0]
	}

	if len(step.DesignFields) > 0 {
		fields := make(map[string]string, len(step.DesignFields))
		for k, v := range step.DesignFields {
			fields[k] = vars.Render(v)
		}
		created, err := h.provider.AutofillCreate(ctx, chosen, fields)
		if err != nil {
			slog.Warn("DesignHandler.resolveSelect: autofill failed, continuing", "templateID", chosen, "error", err)
			update.Error = "design creation failed"
			return Outcome{Update: update, Value: chosen}, nil
		}
		update.Design = &models.DesignResult{Design: created}
		return Outcome{Update: update, Value: created.ID}, nil
	}

	d, err := h.provider.GetDesign(ctx, chosen)
	if err != nil || d == nil {
		if err != nil {
			slog.Warn("DesignHandler.resolveSelect: fetch failed, continuing", "designID", chosen, "error", err)
		}
		update.Error = "design unavailable"
		return Outcome{Update: update, Value: chosen}, nil
	}
	update.Design = &models.DesignResult{Design: d}
	return Outcome{Update: update, Value: d.ID}, nil
}

// pickCandidate asks the AI provider to choose one candidate ID given
// the rendered prompt and the current variable state. Anything that is
// not an exact candidate ID falls back to the first candidate.
func (h *DesignHandler) pickCandidate(ctx context.Context, step models.Step, vars *VariableContext) (string, error) {
	if h.ai == nil {
		return "", fmt.Errorf("no AI provider configured")
	}

	prompt := vars.Render(step.AIPrompt)
	if prompt == "" {
		prompt = "Choose the design template that best matches the user's answers."
	}
	prompt = fmt.Sprintf("%s\n\nCandidate template IDs:\n%s\n\nReply with exactly one candidate ID and nothing else.",
		prompt, strings.Join(step.DesignCandidates, "\n"))

	result, err := h.ai.Generate(ctx, genai.Request{
		Prompt:     prompt,
		Model:      step.AIModel,
		OutputType: models.AIOutputText,
		Variables:  vars.Snapshot(),
	})
	if err != nil {
		return "", err
	}

	answer := strings.TrimSpace(result.Content)
	for _, candidate := range step.DesignCandidates {
		if answer == candidate || strings.Contains(answer, candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("AI answer %q matched no candidate", answer)
}
