package flow

import (
	"context"
	"log/slog"

	"github.com/FlowDeckHQ/FlowDeck/internal/models"
	"github.com/FlowDeckHQ/FlowDeck/internal/tts"
)

// AudioHandler resolves audio steps. Static steps carry their stored
// payload unchanged; dynamic steps render a template and synthesize
// speech. Synthesis failure is a non-fatal error marker on the step
// output and the flow continues without audio.
type AudioHandler struct {
	synthesizer tts.Synthesizer
}

// Resolve produces the audio step update and advances.
func (h *AudioHandler) Resolve(ctx context.Context, step models.Step, vars *VariableContext) (Outcome, error) {
	update := models.StepUpdate{Kind: step.Kind}

	if step.AudioMode == models.AudioModeStatic {
		mime := step.AudioMimeType
		if mime == "" {
			mime = "audio/mpeg"
		}
		update.Audio = &models.AudioPayload{Data: step.AudioPayload, MimeType: mime}
		return Outcome{Update: update}, nil
	}

	text := vars.Render(step.AudioTemplate)
	update.Body = text

	if h.synthesizer == nil {
		slog.Warn("AudioHandler.Resolve: no synthesizer configured, continuing without audio")
		update.Error = "speech synthesis unavailable"
		return Outcome{Update: update, Value: text}, nil
	}

	audio, err := h.synthesizer.Synthesize(ctx, text)
	if err != nil {
		slog.Warn("AudioHandler.Resolve: synthesis failed, continuing without audio", "error", err)
		update.Error = "speech synthesis unavailable"
		return Outcome{Update: update, Value: text}, nil
	}
	update.Audio = audio
	return Outcome{Update: update, Value: text}, nil
}

// Resume is never reached for audio steps.
func (h *AudioHandler) Resume(step models.Step, vars *VariableContext, event models.FlowEventRequest) (string, error) {
	return "", models.ErrStepNotInteractive
}
