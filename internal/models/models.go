// Package models defines the core data structures for FlowDeck.
//
// It includes flow and step definitions, session and interaction records,
// and AI result types shared across modules.
package models

import (
	"errors"
	"time"
)

// StepKind identifies how a step is resolved by the engine.
type StepKind string

const (
	// StepKindText shows a rendered text message and advances.
	StepKindText StepKind = "text"
	// StepKindButtons presents clickable buttons and waits for a selection.
	StepKindButtons StepKind = "choice-buttons"
	// StepKindInput collects free-form user input.
	StepKindInput StepKind = "free-input"
	// StepKindOptions presents a selectable option list and waits for a pick.
	StepKindOptions StepKind = "choice-options"
	// StepKindAI generates step content through the AI provider.
	StepKindAI StepKind = "ai-generated"
	// StepKindAudio plays pre-recorded or synthesized audio.
	StepKindAudio StepKind = "audio"
	// StepKindDesignList lists or fetches third-party designs.
	StepKindDesignList StepKind = "external-design-list"
	// StepKindDesignSelect runs an AI-assisted pick among curated designs.
	StepKindDesignSelect StepKind = "external-design-ai-select"
)

// IsValidStepKind checks if the given step kind is supported.
func IsValidStepKind(k StepKind) bool {
	switch k {
	case StepKindText, StepKindButtons, StepKindInput, StepKindOptions,
		StepKindAI, StepKindAudio, StepKindDesignList, StepKindDesignSelect:
		return true
	default:
		return false
	}
}

// AudioMode selects between pre-recorded and synthesized audio steps.
type AudioMode string

const (
	// AudioModeStatic carries a stored audio payload unchanged.
	AudioModeStatic AudioMode = "static"
	// AudioModeDynamic renders a template and synthesizes speech from it.
	AudioModeDynamic AudioMode = "dynamic"
)

// AIOutputType declares the shape an ai-generated step expects back.
type AIOutputType string

const (
	AIOutputText    AIOutputType = "text"
	AIOutputButtons AIOutputType = "buttons"
	AIOutputInput   AIOutputType = "input"
	AIOutputOptions AIOutputType = "options"
)

// IsValidAIOutputType checks if the given AI output type is supported.
func IsValidAIOutputType(t AIOutputType) bool {
	switch t {
	case AIOutputText, AIOutputButtons, AIOutputInput, AIOutputOptions:
		return true
	default:
		return false
	}
}

// Fallback content used when the AI provider fails. The fixed values are
// load-bearing for reliability and must not change per deployment.
const (
	FallbackText             = "Desculpe, tive um problema para gerar essa mensagem. Vamos continuar!"
	FallbackButtonLabel      = "Continuar"
	FallbackButtonValue      = "continue"
	FallbackInputPlaceholder = "Digite sua resposta..."
	FallbackInputType        = "text"
)

// FallbackOptions is the fixed option list used when the AI provider fails
// on an options-typed step.
var FallbackOptions = []string{"Sim", "Não"}

// Validation constants for step definitions.
const (
	MaxStepBodyLength    = 4096
	MaxChoiceLabelLength = 100
	MaxChoicesCount      = 10
)

// Error variables for better error handling and testability.
var (
	ErrInvalidStepKind      = errors.New("invalid step kind")
	ErrEmptyStepBody        = errors.New("body is required for text steps")
	ErrStepBodyTooLong      = errors.New("step body exceeds maximum length")
	ErrMissingChoices       = errors.New("choices are required for button and option steps")
	ErrTooManyChoices       = errors.New("too many choices")
	ErrEmptyChoiceLabel     = errors.New("choice label cannot be empty")
	ErrChoiceLabelTooLong   = errors.New("choice label exceeds maximum length")
	ErrMissingAIPrompt      = errors.New("prompt template is required for ai-generated steps")
	ErrInvalidAIOutputType  = errors.New("invalid ai output type")
	ErrInvalidAudioMode     = errors.New("invalid audio mode")
	ErrMissingAudioPayload  = errors.New("audio payload is required for static audio steps")
	ErrMissingAudioTemplate = errors.New("audio template is required for dynamic audio steps")
	ErrMissingDesignSource  = errors.New("design candidates are required for ai-select design steps")
	ErrFlowNotFound         = errors.New("flow not found")
	ErrFlowInactive         = errors.New("flow is not active")
	ErrSessionNotFound      = errors.New("session not found")
	ErrStepNotInteractive   = errors.New("step does not accept events")
)

// Choice is a selectable label/value pair for button and option steps.
type Choice struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// WebhookSpec describes an outbound call fired when an interactive step
// completes. Delivery is best-effort and never blocks the flow.
type WebhookSpec struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Flow is an ordered definition of steps forming one conversational script.
type Flow struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Step is one unit of a flow, tagged by kind with kind-specific fields.
// The engine treats steps as read-only input per run.
type Step struct {
	FlowID string   `json:"flow_id"`
	Order  int      `json:"order"`
	Kind   StepKind `json:"kind"`

	// DelayMs paces the client presentation of the step. It is forwarded to
	// the client and never slept on server-side.
	DelayMs int `json:"delay_ms,omitempty"`
	// TimeoutSeconds overrides the flow-wide suspension timeout when > 0.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	// Text steps and choice prompts.
	Body    string       `json:"body,omitempty"`
	Choices []Choice     `json:"choices,omitempty"`
	Webhook *WebhookSpec `json:"webhook,omitempty"`

	// Free-input steps.
	Placeholder   string `json:"placeholder,omitempty"`
	InputType     string `json:"input_type,omitempty"`
	VariableName  string `json:"variable_name,omitempty"`
	IsContactData bool   `json:"is_contact_data,omitempty"`

	// AI-generated steps.
	AIModel       string       `json:"ai_model,omitempty"`
	AIPrompt      string       `json:"ai_prompt,omitempty"`
	AIOutputType  AIOutputType `json:"ai_output_type,omitempty"`
	AITemperature float64      `json:"ai_temperature,omitempty"`

	// Audio steps.
	AudioMode     AudioMode `json:"audio_mode,omitempty"`
	AudioPayload  string    `json:"audio_payload,omitempty"`
	AudioMimeType string    `json:"audio_mime_type,omitempty"`
	AudioTemplate string    `json:"audio_template,omitempty"`

	// Design steps.
	DesignID         string            `json:"design_id,omitempty"`
	DesignCandidates []string          `json:"design_candidates,omitempty"`
	DesignFields     map[string]string `json:"design_fields,omitempty"`
}

// Validate performs kind-specific validation on a step definition.
// The engine trusts stored steps; this is enforced by the authoring layer.
func (s *Step) Validate() error {
	if !IsValidStepKind(s.Kind) {
		return ErrInvalidStepKind
	}

	switch s.Kind {
	case StepKindText:
		if s.Body == "" {
			return ErrEmptyStepBody
		}
		if len(s.Body) > MaxStepBodyLength {
			return ErrStepBodyTooLong
		}
	case StepKindButtons, StepKindOptions:
		if len(s.Choices) == 0 {
			return ErrMissingChoices
		}
		if len(s.Choices) > MaxChoicesCount {
			return ErrTooManyChoices
		}
		for _, c := range s.Choices {
			if c.Label == "" {
				return ErrEmptyChoiceLabel
			}
			if len(c.Label) > MaxChoiceLabelLength {
				return ErrChoiceLabelTooLong
			}
		}
	case StepKindAI:
		if s.AIPrompt == "" {
			return ErrMissingAIPrompt
		}
		if !IsValidAIOutputType(s.AIOutputType) {
			return ErrInvalidAIOutputType
		}
	case StepKindAudio:
		switch s.AudioMode {
		case AudioModeStatic:
			if s.AudioPayload == "" {
				return ErrMissingAudioPayload
			}
		case AudioModeDynamic:
			if s.AudioTemplate == "" {
				return ErrMissingAudioTemplate
			}
		default:
			return ErrInvalidAudioMode
		}
	case StepKindDesignSelect:
		if len(s.DesignCandidates) == 0 {
			return ErrMissingDesignSource
		}
	case StepKindDesignList:
		// Listing needs no extra fields; DesignID narrows to a single fetch.
	}

	return nil
}

// Interactive reports whether the step waits for an external event.
// AI steps may or may not suspend depending on the generated output type.
func (s *Step) Interactive() bool {
	switch s.Kind {
	case StepKindButtons, StepKindOptions, StepKindInput:
		return true
	default:
		return false
	}
}

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	// SessionStatusRunning indicates the session is in progress.
	SessionStatusRunning SessionStatus = "running"
	// SessionStatusCompleted indicates the session reached the end of its flow.
	SessionStatusCompleted SessionStatus = "completed"
	// SessionStatusAbandoned indicates the session timed out waiting for input.
	SessionStatusAbandoned SessionStatus = "abandoned"
)

// Session is one user's run through a flow, with its own cursor and
// variable state. The cursor is monotonically non-decreasing.
type Session struct {
	ID                string            `json:"id"`
	FlowID            string            `json:"flow_id"`
	UserID            string            `json:"user_id,omitempty"`
	Status            SessionStatus     `json:"status"`
	Cursor            int               `json:"cursor"`
	Context           map[string]string `json:"context,omitempty"`
	ContactData       map[string]string `json:"contact_data,omitempty"`
	TimeoutJobID      string            `json:"timeout_job_id,omitempty"`
	StartedAt         time.Time         `json:"started_at"`
	LastInteractionAt time.Time         `json:"last_interaction_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

// Interaction is an immutable record of one completed step within a session.
type Interaction struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	StepIndex int       `json:"step_index"`
	StepKind  StepKind  `json:"step_kind"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// AIResult is the tagged result returned by the AI provider. Its Type may
// differ from the step's declared output type; callers log the mismatch and
// proceed with whatever the provider actually returned.
type AIResult struct {
	Type        AIOutputType `json:"type"`
	Content     string       `json:"content,omitempty"`
	Buttons     []Choice     `json:"buttons,omitempty"`
	Placeholder string       `json:"placeholder,omitempty"`
	InputType   string       `json:"input_type,omitempty"`
	Options     []string     `json:"options,omitempty"`
}

// AudioPayload carries synthesized or stored audio for a step update.
type AudioPayload struct {
	Data     string `json:"data"` // base64-encoded audio bytes
	MimeType string `json:"mime_type"`
}

// Design is a third-party design summary returned by the design provider.
type Design struct {
	ID           string `json:"id"`
	Title        string `json:"title,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	EditURL      string `json:"edit_url,omitempty"`
}

// DesignPage is one page of a design listing with an opaque continuation.
type DesignPage struct {
	Designs      []Design `json:"designs"`
	Continuation string   `json:"continuation,omitempty"`
}

// DesignResult is the design portion of a step update.
type DesignResult struct {
	Design  *Design  `json:"design,omitempty"`
	Designs []Design `json:"designs,omitempty"`
}

// StepUpdate is the rendered step emitted to the client for every
// advance or suspend transition (flow.step.update).
type StepUpdate struct {
	SessionID   string        `json:"session_id"`
	StepIndex   int           `json:"step_index"`
	Kind        StepKind      `json:"kind"`
	Suspended   bool          `json:"suspended"`
	Body        string        `json:"body,omitempty"`
	Choices     []Choice      `json:"choices,omitempty"`
	Placeholder string        `json:"placeholder,omitempty"`
	InputType   string        `json:"input_type,omitempty"`
	Output      AIOutputType  `json:"output,omitempty"`
	Audio       *AudioPayload `json:"audio,omitempty"`
	Design      *DesignResult `json:"design,omitempty"`
	DelayMs     int           `json:"delay_ms,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// EventKind identifies the interactive event a client delivers to the engine.
type EventKind string

const (
	EventKindButton EventKind = "button"
	EventKindInput  EventKind = "input"
	EventKindOption EventKind = "option"
)

// IsValidEventKind checks if the given event kind is supported.
func IsValidEventKind(k EventKind) bool {
	switch k {
	case EventKindButton, EventKindInput, EventKindOption:
		return true
	default:
		return false
	}
}

// FlowStartRequest is the payload for starting (or idempotently re-starting)
// a session (flow.start).
type FlowStartRequest struct {
	FlowID    string `json:"flow_id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
}

// Validate checks that a start request is well formed.
func (r *FlowStartRequest) Validate() error {
	if r.FlowID == "" {
		return errors.New("flow_id is required")
	}
	if r.SessionID == "" {
		return errors.New("session_id is required")
	}
	return nil
}

// FlowEventRequest is the payload delivering a user event to a suspended
// step (flow.event).
type FlowEventRequest struct {
	SessionID string    `json:"session_id"`
	StepIndex int       `json:"step_index"`
	Kind      EventKind `json:"kind"`
	Payload   string    `json:"payload"`
}

// Validate checks that an event request is well formed.
func (r *FlowEventRequest) Validate() error {
	if r.SessionID == "" {
		return errors.New("session_id is required")
	}
	if r.StepIndex < 0 {
		return errors.New("step_index must be zero or positive")
	}
	if !IsValidEventKind(r.Kind) {
		return errors.New("invalid event kind")
	}
	return nil
}
