package models

import (
	"errors"
	"strings"
	"testing"
)

func TestStepValidatePerKind(t *testing.T) {
	cases := []struct {
		name string
		step Step
		want error
	}{
		{"valid text", Step{Kind: StepKindText, Body: "Olá"}, nil},
		{"text without body", Step{Kind: StepKindText}, ErrEmptyStepBody},
		{"text too long", Step{Kind: StepKindText, Body: strings.Repeat("a", MaxStepBodyLength+1)}, ErrStepBodyTooLong},
		{"unknown kind", Step{Kind: "carousel"}, ErrInvalidStepKind},
		{"buttons without choices", Step{Kind: StepKindButtons, Body: "?"}, ErrMissingChoices},
		{"buttons with empty label", Step{Kind: StepKindButtons, Choices: []Choice{{Value: "x"}}}, ErrEmptyChoiceLabel},
		{"valid buttons", Step{Kind: StepKindButtons, Choices: []Choice{{Label: "Sim", Value: "yes"}}}, nil},
		{"ai without prompt", Step{Kind: StepKindAI, AIOutputType: AIOutputText}, ErrMissingAIPrompt},
		{"ai bad output type", Step{Kind: StepKindAI, AIPrompt: "oi", AIOutputType: "carousel"}, ErrInvalidAIOutputType},
		{"valid ai", Step{Kind: StepKindAI, AIPrompt: "oi", AIOutputType: AIOutputButtons}, nil},
		{"audio bad mode", Step{Kind: StepKindAudio}, ErrInvalidAudioMode},
		{"static audio without payload", Step{Kind: StepKindAudio, AudioMode: AudioModeStatic}, ErrMissingAudioPayload},
		{"dynamic audio without template", Step{Kind: StepKindAudio, AudioMode: AudioModeDynamic}, ErrMissingAudioTemplate},
		{"valid dynamic audio", Step{Kind: StepKindAudio, AudioMode: AudioModeDynamic, AudioTemplate: "Olá {name}"}, nil},
		{"design select without candidates", Step{Kind: StepKindDesignSelect}, ErrMissingDesignSource},
		{"design list needs nothing", Step{Kind: StepKindDesignList}, nil},
		{"valid input", Step{Kind: StepKindInput}, nil},
	}

	for _, tc := range cases {
		err := tc.step.Validate()
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: Validate() = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestTooManyChoices(t *testing.T) {
	choices := make([]Choice, MaxChoicesCount+1)
	for i := range choices {
		choices[i] = Choice{Label: "x", Value: "x"}
	}
	step := Step{Kind: StepKindOptions, Choices: choices}
	if err := step.Validate(); !errors.Is(err, ErrTooManyChoices) {
		t.Errorf("Validate() = %v, want ErrTooManyChoices", err)
	}
}

func TestStepInteractive(t *testing.T) {
	interactive := []StepKind{StepKindButtons, StepKindOptions, StepKindInput}
	for _, k := range interactive {
		if !(&Step{Kind: k}).Interactive() {
			t.Errorf("%s must be interactive", k)
		}
	}
	passive := []StepKind{StepKindText, StepKindAudio, StepKindDesignList, StepKindDesignSelect, StepKindAI}
	for _, k := range passive {
		if (&Step{Kind: k}).Interactive() {
			t.Errorf("%s must not be statically interactive", k)
		}
	}
}

func TestFlowStartRequestValidate(t *testing.T) {
	if err := (&FlowStartRequest{FlowID: "f1", SessionID: "s1"}).Validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}
	if err := (&FlowStartRequest{SessionID: "s1"}).Validate(); err == nil {
		t.Error("missing flow_id accepted")
	}
	if err := (&FlowStartRequest{FlowID: "f1"}).Validate(); err == nil {
		t.Error("missing session_id accepted")
	}
}

func TestFlowEventRequestValidate(t *testing.T) {
	valid := FlowEventRequest{SessionID: "s1", StepIndex: 0, Kind: EventKindButton, Payload: "yes"}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	bad := valid
	bad.StepIndex = -1
	if err := bad.Validate(); err == nil {
		t.Error("negative step_index accepted")
	}

	bad = valid
	bad.Kind = "swipe"
	if err := bad.Validate(); err == nil {
		t.Error("unknown event kind accepted")
	}
}

func TestFallbackConstants(t *testing.T) {
	if FallbackButtonLabel != "Continuar" || FallbackButtonValue != "continue" {
		t.Error("fallback button changed")
	}
	if len(FallbackOptions) != 2 || FallbackOptions[0] != "Sim" || FallbackOptions[1] != "Não" {
		t.Errorf("fallback options = %+v", FallbackOptions)
	}
}
