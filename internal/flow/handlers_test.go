package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/FlowDeckHQ/FlowDeck/internal/models"
)

// fakeSynthesizer returns canned audio or an error.
type fakeSynthesizer struct {
	audio *models.AudioPayload
	err   error
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text string) (*models.AudioPayload, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.audio, nil
}

// fakeDesignProvider serves fixed designs.
type fakeDesignProvider struct {
	designs    []models.Design
	autofilled *models.Design
	listErr    error
}

func (f *fakeDesignProvider) ListDesigns(ctx context.Context, continuation string) (*models.DesignPage, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &models.DesignPage{Designs: f.designs}, nil
}

func (f *fakeDesignProvider) GetDesign(ctx context.Context, id string) (*models.Design, error) {
	for i := range f.designs {
		if f.designs[i].ID == id {
			return &f.designs[i], nil
		}
	}
	return nil, nil
}

func (f *fakeDesignProvider) AutofillCreate(ctx context.Context, templateID string, fields map[string]string) (*models.Design, error) {
	if f.autofilled == nil {
		return nil, errors.New("autofill unavailable")
	}
	return f.autofilled, nil
}

func TestTextHandlerRendersBody(t *testing.T) {
	vars := NewVariableContext()
	vars.Set("name", "Ana")
	h := &TextHandler{}

	outcome, err := h.Resolve(context.Background(), models.Step{Kind: models.StepKindText, Body: "Olá {name}"}, vars)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if outcome.Suspended {
		t.Error("text step must not suspend")
	}
	if outcome.Value != "Olá Ana" || outcome.Update.Body != "Olá Ana" {
		t.Errorf("rendered body = %q / %q", outcome.Value, outcome.Update.Body)
	}

	if _, err := h.Resume(models.Step{}, vars, models.FlowEventRequest{}); !errors.Is(err, models.ErrStepNotInteractive) {
		t.Errorf("Resume on text step: got %v, want ErrStepNotInteractive", err)
	}
}

func TestChoiceHandlerRendersLabelsAndSuspends(t *testing.T) {
	vars := NewVariableContext()
	vars.Set("city", "Porto")
	h := &ChoiceHandler{}

	step := models.Step{
		Kind: models.StepKindButtons,
		Body: "Mora em {city}?",
		Choices: []models.Choice{
			{Label: "Sim, em {city}", Value: "yes"},
			{Label: "Não", Value: "no"},
		},
	}
	outcome, err := h.Resolve(context.Background(), step, vars)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !outcome.Suspended {
		t.Error("choice step must suspend")
	}
	if outcome.Update.Choices[0].Label != "Sim, em Porto" {
		t.Errorf("label not rendered: %q", outcome.Update.Choices[0].Label)
	}
	if outcome.Update.Choices[0].Value != "yes" {
		t.Errorf("value rewritten: %q", outcome.Update.Choices[0].Value)
	}

	// Free-form answers to choice prompts are accepted.
	value, err := h.Resume(step, vars, models.FlowEventRequest{Payload: "talvez"})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if value != "talvez" {
		t.Errorf("Resume value = %q, want talvez", value)
	}
}

func TestInputHandler(t *testing.T) {
	vars := NewVariableContext()
	h := &InputHandler{}

	outcome, err := h.Resolve(context.Background(), models.Step{
		Kind: models.StepKindInput, Body: "Seu nome?", Placeholder: "Digite aqui", InputType: "text",
	}, vars)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !outcome.Suspended {
		t.Error("input step must suspend")
	}
	if outcome.Update.Placeholder != "Digite aqui" || outcome.Update.InputType != "text" {
		t.Errorf("update = %+v", outcome.Update)
	}

	value, err := h.Resume(models.Step{}, vars, models.FlowEventRequest{Payload: "Ana"})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if value != "Ana" {
		t.Errorf("Resume value = %q, want Ana", value)
	}
}

func TestAudioHandlerStatic(t *testing.T) {
	h := &AudioHandler{}
	outcome, err := h.Resolve(context.Background(), models.Step{
		Kind: models.StepKindAudio, AudioMode: models.AudioModeStatic, AudioPayload: "aGVsbG8=",
	}, NewVariableContext())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if outcome.Update.Audio == nil || outcome.Update.Audio.Data != "aGVsbG8=" {
		t.Errorf("static audio payload lost: %+v", outcome.Update.Audio)
	}
	if outcome.Update.Audio.MimeType != "audio/mpeg" {
		t.Errorf("default mime type = %q", outcome.Update.Audio.MimeType)
	}
}

func TestAudioHandlerDynamic(t *testing.T) {
	vars := NewVariableContext()
	vars.Set("name", "Ana")
	h := &AudioHandler{synthesizer: &fakeSynthesizer{
		audio: &models.AudioPayload{Data: "YXVkaW8=", MimeType: "audio/mpeg"},
	}}

	outcome, err := h.Resolve(context.Background(), models.Step{
		Kind: models.StepKindAudio, AudioMode: models.AudioModeDynamic, AudioTemplate: "Olá {name}",
	}, vars)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if outcome.Update.Audio == nil || outcome.Update.Audio.Data != "YXVkaW8=" {
		t.Errorf("synthesized audio missing: %+v", outcome.Update.Audio)
	}
	if outcome.Value != "Olá Ana" {
		t.Errorf("rendered text = %q", outcome.Value)
	}
}

func TestAudioHandlerSynthesisFailureContinues(t *testing.T) {
	h := &AudioHandler{synthesizer: &fakeSynthesizer{err: errors.New("tts down")}}

	outcome, err := h.Resolve(context.Background(), models.Step{
		Kind: models.StepKindAudio, AudioMode: models.AudioModeDynamic, AudioTemplate: "Olá",
	}, NewVariableContext())
	if err != nil {
		t.Fatalf("Resolve must not fail on synthesis error: %v", err)
	}
	if outcome.Suspended {
		t.Error("audio step must not suspend")
	}
	if outcome.Update.Error == "" {
		t.Error("failure must mark the update")
	}
	if outcome.Update.Audio != nil {
		t.Error("no audio expected on synthesis failure")
	}
}

func TestDesignHandlerList(t *testing.T) {
	provider := &fakeDesignProvider{designs: []models.Design{{ID: "d1", Title: "Card"}, {ID: "d2"}}}
	h := &DesignHandler{provider: provider}

	outcome, err := h.Resolve(context.Background(), models.Step{Kind: models.StepKindDesignList}, NewVariableContext())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if outcome.Update.Design == nil || len(outcome.Update.Design.Designs) != 2 {
		t.Errorf("listing missing: %+v", outcome.Update.Design)
	}
}

func TestDesignHandlerListByID(t *testing.T) {
	provider := &fakeDesignProvider{designs: []models.Design{{ID: "d1", Title: "Card"}}}
	h := &DesignHandler{provider: provider}

	outcome, err := h.Resolve(context.Background(), models.Step{
		Kind: models.StepKindDesignList, DesignID: "d1",
	}, NewVariableContext())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if outcome.Update.Design == nil || outcome.Update.Design.Design == nil || outcome.Update.Design.Design.ID != "d1" {
		t.Errorf("design fetch missing: %+v", outcome.Update.Design)
	}
	if outcome.Value != "d1" {
		t.Errorf("value = %q, want d1", outcome.Value)
	}
}

func TestDesignHandlerListFailureContinues(t *testing.T) {
	h := &DesignHandler{provider: &fakeDesignProvider{listErr: errors.New("api down")}}

	outcome, err := h.Resolve(context.Background(), models.Step{Kind: models.StepKindDesignList}, NewVariableContext())
	if err != nil {
		t.Fatalf("Resolve must not fail on provider error: %v", err)
	}
	if outcome.Update.Error == "" {
		t.Error("failure must mark the update")
	}
	if outcome.Suspended {
		t.Error("design step must not suspend")
	}
}

func TestDesignHandlerSelectWithAutofill(t *testing.T) {
	provider := &fakeDesignProvider{
		designs:    []models.Design{{ID: "tpl-1"}, {ID: "tpl-2"}},
		autofilled: &models.Design{ID: "generated-1", EditURL: "https://example.com/edit"},
	}
	ai := &fakeAIProvider{result: &models.AIResult{Type: models.AIOutputText, Content: "tpl-2"}}
	h := &DesignHandler{provider: provider, ai: ai}

	outcome, err := h.Resolve(context.Background(), models.Step{
		Kind:             models.StepKindDesignSelect,
		DesignCandidates: []string{"tpl-1", "tpl-2"},
		DesignFields:     map[string]string{"headline": "Olá {name}"},
	}, NewVariableContext())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if outcome.Update.Design == nil || outcome.Update.Design.Design == nil || outcome.Update.Design.Design.ID != "generated-1" {
		t.Errorf("autofilled design missing: %+v", outcome.Update.Design)
	}
	if outcome.Value != "generated-1" {
		t.Errorf("value = %q, want generated-1", outcome.Value)
	}
}

func TestDesignHandlerSelectAIFailureFallsBackToFirst(t *testing.T) {
	provider := &fakeDesignProvider{designs: []models.Design{{ID: "tpl-1"}, {ID: "tpl-2"}}}
	ai := &fakeAIProvider{err: errors.New("rate limited")}
	h := &DesignHandler{provider: provider, ai: ai}

	outcome, err := h.Resolve(context.Background(), models.Step{
		Kind:             models.StepKindDesignSelect,
		DesignCandidates: []string{"tpl-1", "tpl-2"},
	}, NewVariableContext())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if outcome.Value != "tpl-1" {
		t.Errorf("value = %q, want first candidate tpl-1", outcome.Value)
	}
}

func TestFallbackResultShapes(t *testing.T) {
	text := FallbackResult(models.AIOutputText)
	if text.Content != models.FallbackText {
		t.Errorf("text fallback = %q", text.Content)
	}

	buttons := FallbackResult(models.AIOutputButtons)
	if len(buttons.Buttons) != 1 || buttons.Buttons[0].Value != models.FallbackButtonValue {
		t.Errorf("buttons fallback = %+v", buttons.Buttons)
	}

	input := FallbackResult(models.AIOutputInput)
	if input.Placeholder != models.FallbackInputPlaceholder {
		t.Errorf("input fallback = %+v", input)
	}

	options := FallbackResult(models.AIOutputOptions)
	if len(options.Options) != 2 || options.Options[0] != "Sim" || options.Options[1] != "Não" {
		t.Errorf("options fallback = %+v", options.Options)
	}
}
