package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/FlowDeckHQ/FlowDeck/internal/design"
	"github.com/FlowDeckHQ/FlowDeck/internal/genai"
	"github.com/FlowDeckHQ/FlowDeck/internal/models"
	"github.com/FlowDeckHQ/FlowDeck/internal/store"
	"github.com/FlowDeckHQ/FlowDeck/internal/tts"
	"github.com/FlowDeckHQ/FlowDeck/internal/webhook"
)

// DefaultSuspendTimeout bounds a suspension when the step declares no
// timeout of its own.
const DefaultSuspendTimeout = 5 * time.Minute

// Opts holds configuration options for the engine.
type Opts struct {
	AIProvider     genai.Provider
	Synthesizer    tts.Synthesizer
	DesignProvider design.Provider
	Dispatcher     *webhook.Dispatcher
	DefaultTimeout time.Duration
}

// Option configures the engine.
type Option func(*Opts)

// WithAIProvider sets the AI provider for ai-generated and design-select steps.
func WithAIProvider(p genai.Provider) Option {
	return func(o *Opts) { o.AIProvider = p }
}

// WithSynthesizer sets the speech synthesizer for dynamic audio steps.
func WithSynthesizer(s tts.Synthesizer) Option {
	return func(o *Opts) { o.Synthesizer = s }
}

// WithDesignProvider sets the design provider for external-design steps.
func WithDesignProvider(p design.Provider) Option {
	return func(o *Opts) { o.DesignProvider = p }
}

// WithDispatcher sets the webhook dispatcher.
func WithDispatcher(d *webhook.Dispatcher) Option {
	return func(o *Opts) { o.Dispatcher = d }
}

// WithDefaultTimeout overrides the flow-wide suspension timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *Opts) { o.DefaultTimeout = d }
}

// Engine walks sessions through their flows: it resolves consecutive steps
// until one suspends or the flow ends, applies user events to suspended
// steps, and bounds every suspension with a durable timeout job.
type Engine struct {
	store          store.Store
	gateway        *SessionGateway
	dispatcher     *webhook.Dispatcher
	defaultTimeout time.Duration

	textHandler   *TextHandler
	choiceHandler *ChoiceHandler
	inputHandler  *InputHandler
	aiHandler     *AIHandler
	audioHandler  *AudioHandler
	designHandler *DesignHandler
}

// NewEngine creates a flow engine over the given store.
func NewEngine(st store.Store, opts ...Option) *Engine {
	cfg := Opts{DefaultTimeout: DefaultSuspendTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = webhook.NewDispatcher(webhook.DefaultTimeout)
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultSuspendTimeout
	}

	return &Engine{
		store:          st,
		gateway:        NewSessionGateway(st),
		dispatcher:     cfg.Dispatcher,
		defaultTimeout: cfg.DefaultTimeout,
		textHandler:    &TextHandler{},
		choiceHandler:  &ChoiceHandler{},
		inputHandler:   &InputHandler{},
		aiHandler:      &AIHandler{provider: cfg.AIProvider},
		audioHandler:   &AudioHandler{synthesizer: cfg.Synthesizer},
		designHandler:  &DesignHandler{provider: cfg.DesignProvider, ai: cfg.AIProvider},
	}
}

// Result is the outcome of one engine operation: the session after the
// transition and the step updates produced by it, in order.
type Result struct {
	Session *models.Session     `json:"session"`
	Updates []models.StepUpdate `json:"updates"`
}

// Start creates a session for the given flow and runs it from the first
// step. Starting an existing session ID is idempotent: the stored session
// is returned unchanged with no updates, regardless of its state.
func (e *Engine) Start(ctx context.Context, req models.FlowStartRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	f, err := e.store.GetFlow(req.FlowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load flow %s: %w", req.FlowID, err)
	}
	if f == nil {
		return nil, models.ErrFlowNotFound
	}
	if !f.Active {
		// The active gate only guards new sessions; a duplicate start for an
		// existing session stays idempotent after deactivation.
		existing, err := e.store.GetSession(req.SessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to get session %s: %w", req.SessionID, err)
		}
		if existing != nil {
			return &Result{Session: existing}, nil
		}
		return nil, models.ErrFlowInactive
	}

	sess, created, err := e.gateway.CreateSession(req.FlowID, req.SessionID, req.UserID)
	if err != nil {
		return nil, err
	}
	if !created {
		slog.Info("Engine.Start: duplicate start ignored", "sessionID", req.SessionID, "status", sess.Status)
		return &Result{Session: sess}, nil
	}

	slog.Info("Engine.Start: session started", "sessionID", sess.ID, "flowID", req.FlowID)
	return e.runFrom(ctx, sess)
}

// HandleEvent applies a user event to a suspended step. Events for a
// non-running session or a step index other than the current cursor are
// stale and discarded without error or side effects.
func (e *Engine) HandleEvent(ctx context.Context, req models.FlowEventRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sess, err := e.gateway.GetSession(req.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionStatusRunning || req.StepIndex != sess.Cursor {
		slog.Info("Engine.HandleEvent: stale event discarded",
			"sessionID", req.SessionID, "stepIndex", req.StepIndex, "cursor", sess.Cursor, "status", sess.Status)
		return &Result{Session: sess}, nil
	}

	steps, err := e.store.GetSteps(sess.FlowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps for flow %s: %w", sess.FlowID, err)
	}
	if sess.Cursor >= len(steps) {
		return &Result{Session: sess}, nil
	}
	step := steps[sess.Cursor]

	handler, err := e.handlerFor(step.Kind)
	if err != nil {
		return nil, err
	}

	vars := ContextFromMap(sess.Context)
	value, err := handler.Resume(step, vars, req)
	if err != nil {
		return nil, err
	}

	// The interaction lands before the cursor moves, so a crash in between
	// replays the step instead of losing the answer.
	if err := e.gateway.RecordInteraction(sess.ID, sess.Cursor, step.Kind, value); err != nil {
		return nil, err
	}

	e.recordValue(sess, step, sess.Cursor, value, vars)
	e.fireWebhook(step, sess, value)

	if err := e.gateway.CancelTimeout(sess); err != nil {
		slog.Warn("Engine.HandleEvent: timeout cancel failed", "sessionID", sess.ID, "error", err)
	}

	sess.Cursor++
	sess.Context = vars.Snapshot()
	if err := e.gateway.SaveProgress(sess); err != nil {
		return nil, err
	}

	slog.Debug("Engine.HandleEvent: event applied", "sessionID", sess.ID, "stepIndex", req.StepIndex, "kind", req.Kind)
	return e.runFrom(ctx, sess)
}

// ExpireSession abandons a session whose suspension timeout elapsed. It is
// idempotent: a session that already moved past the step, or is no longer
// running, is left untouched.
func (e *Engine) ExpireSession(ctx context.Context, sessionID string, stepIndex int) error {
	sess, err := e.store.GetSession(sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if sess == nil {
		return nil
	}
	if sess.Status != models.SessionStatusRunning || sess.Cursor != stepIndex {
		slog.Debug("Engine.ExpireSession: timeout no longer applies",
			"sessionID", sessionID, "stepIndex", stepIndex, "cursor", sess.Cursor, "status", sess.Status)
		return nil
	}
	return e.gateway.Abandon(sess)
}

// runFrom resolves steps from the session cursor until one suspends or the
// flow ends. Consecutive auto-advancing steps coalesce into one update batch.
func (e *Engine) runFrom(ctx context.Context, sess *models.Session) (*Result, error) {
	steps, err := e.store.GetSteps(sess.FlowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps for flow %s: %w", sess.FlowID, err)
	}

	vars := ContextFromMap(sess.Context)
	var updates []models.StepUpdate

	for sess.Cursor < len(steps) {
		step := steps[sess.Cursor]
		handler, err := e.handlerFor(step.Kind)
		if err != nil {
			return nil, err
		}

		outcome, err := handler.Resolve(ctx, step, vars)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve step %d of flow %s: %w", sess.Cursor, sess.FlowID, err)
		}

		update := outcome.Update
		update.SessionID = sess.ID
		update.StepIndex = sess.Cursor
		update.DelayMs = step.DelayMs
		updates = append(updates, update)

		if outcome.Suspended {
			timeout := e.defaultTimeout
			if step.TimeoutSeconds > 0 {
				timeout = time.Duration(step.TimeoutSeconds) * time.Second
			}
			if err := e.gateway.ScheduleTimeout(sess, sess.Cursor, timeout); err != nil {
				return nil, err
			}
			sess.Context = vars.Snapshot()
			if err := e.gateway.SaveProgress(sess); err != nil {
				return nil, err
			}
			slog.Debug("Engine.runFrom: suspended", "sessionID", sess.ID, "stepIndex", sess.Cursor, "kind", step.Kind)
			return &Result{Session: sess, Updates: updates}, nil
		}

		// The interaction for this step lands before the next step runs, so
		// replay after a crash picks up at the last durably recorded cursor.
		if err := e.gateway.RecordInteraction(sess.ID, sess.Cursor, step.Kind, outcome.Value); err != nil {
			return nil, err
		}
		e.recordValue(sess, step, sess.Cursor, outcome.Value, vars)
		sess.Cursor++
		sess.Context = vars.Snapshot()
		if err := e.gateway.SaveProgress(sess); err != nil {
			return nil, err
		}
	}

	sess.Context = vars.Snapshot()
	if err := e.gateway.Complete(sess); err != nil {
		return nil, err
	}
	return &Result{Session: sess, Updates: updates}, nil
}

// recordValue stores a completed step's value under its positional key and
// the step's declared variable name, and mirrors contact data.
func (e *Engine) recordValue(sess *models.Session, step models.Step, index int, value string, vars *VariableContext) {
	if value == "" {
		return
	}
	if suffix := positionalSuffix(step.Kind); suffix != "" {
		vars.Set(PositionalKey(index, suffix), value)
	}
	if step.VariableName != "" {
		vars.Set(step.VariableName, value)
		if step.IsContactData {
			if sess.ContactData == nil {
				sess.ContactData = make(map[string]string)
			}
			sess.ContactData[step.VariableName] = value
		}
	}
}

// fireWebhook dispatches the step's webhook, if declared. Delivery is
// best-effort and never blocks cursor advancement.
func (e *Engine) fireWebhook(step models.Step, sess *models.Session, value string) {
	if step.Webhook == nil || step.Webhook.URL == "" {
		return
	}
	e.dispatcher.Dispatch(webhook.Spec{
		URL:     step.Webhook.URL,
		Method:  step.Webhook.Method,
		Headers: step.Webhook.Headers,
	}, map[string]interface{}{
		"session_id": sess.ID,
		"flow_id":    sess.FlowID,
		"user_id":    sess.UserID,
		"step_index": sess.Cursor,
		"step_kind":  step.Kind,
		"value":      value,
	})
}
