package flow

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/FlowDeckHQ/FlowDeck/internal/models"
	"github.com/FlowDeckHQ/FlowDeck/internal/store"
)

// JobKindSessionTimeout is the durable job kind for suspension timeouts.
const JobKindSessionTimeout = "session_timeout"

// timeoutPayload is the JSON payload of a session_timeout job.
type timeoutPayload struct {
	SessionID string `json:"session_id"`
	StepIndex int    `json:"step_index"`
}

// SessionGateway mediates all session persistence for the engine: creation,
// progress, interaction records, lifecycle transitions, and the durable
// timeout jobs bounding each suspension.
type SessionGateway struct {
	store store.Store
}

// NewSessionGateway creates a session gateway over the given store.
func NewSessionGateway(st store.Store) *SessionGateway {
	return &SessionGateway{store: st}
}

// CreateSession creates a session idempotently on its ID. The returned flag
// reports whether this call created the row.
func (g *SessionGateway) CreateSession(flowID, sessionID, userID string) (*models.Session, bool, error) {
	now := time.Now()
	sess, created, err := g.store.CreateSession(models.Session{
		ID:                sessionID,
		FlowID:            flowID,
		UserID:            userID,
		Status:            models.SessionStatusRunning,
		Cursor:            0,
		Context:           map[string]string{},
		ContactData:       map[string]string{},
		StartedAt:         now,
		LastInteractionAt: now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create session %s: %w", sessionID, err)
	}
	return sess, created, nil
}

// GetSession retrieves a session. Returns models.ErrSessionNotFound when
// no such session exists.
func (g *SessionGateway) GetSession(sessionID string) (*models.Session, error) {
	sess, err := g.store.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	if sess == nil {
		return nil, models.ErrSessionNotFound
	}
	return sess, nil
}

// SaveProgress persists the session's cursor and variable state after a
// step transition.
func (g *SessionGateway) SaveProgress(sess *models.Session) error {
	sess.LastInteractionAt = time.Now()
	if err := g.store.SaveSession(*sess); err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	return nil
}

// RecordInteraction appends an immutable interaction record. It is written
// before the cursor advances so a crash between the two replays the step
// rather than losing the answer.
func (g *SessionGateway) RecordInteraction(sessionID string, stepIndex int, kind models.StepKind, payload string) error {
	err := g.store.AddInteraction(models.Interaction{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		StepIndex: stepIndex,
		StepKind:  kind,
		Payload:   payload,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to record interaction for session %s step %d: %w", sessionID, stepIndex, err)
	}
	return nil
}

// Complete marks a session completed and stamps the completion time.
func (g *SessionGateway) Complete(sess *models.Session) error {
	now := time.Now()
	sess.Status = models.SessionStatusCompleted
	sess.CompletedAt = &now
	sess.LastInteractionAt = now
	if err := g.store.SaveSession(*sess); err != nil {
		return fmt.Errorf("failed to complete session %s: %w", sess.ID, err)
	}
	slog.Info("SessionGateway.Complete: session completed", "sessionID", sess.ID, "flowID", sess.FlowID)
	return nil
}

// Abandon marks a session abandoned after a suspension timeout elapsed.
func (g *SessionGateway) Abandon(sess *models.Session) error {
	now := time.Now()
	sess.Status = models.SessionStatusAbandoned
	sess.CompletedAt = &now
	if err := g.store.SaveSession(*sess); err != nil {
		return fmt.Errorf("failed to abandon session %s: %w", sess.ID, err)
	}
	slog.Info("SessionGateway.Abandon: session abandoned", "sessionID", sess.ID, "cursor", sess.Cursor)
	return nil
}

// ScheduleTimeout enqueues the durable timeout job bounding a suspension.
// The dedupe key guarantees at most one live job per session and step.
func (g *SessionGateway) ScheduleTimeout(sess *models.Session, stepIndex int, after time.Duration) error {
	payload, err := json.Marshal(timeoutPayload{SessionID: sess.ID, StepIndex: stepIndex})
	if err != nil {
		return fmt.Errorf("failed to marshal timeout payload: %w", err)
	}

	dedupeKey := fmt.Sprintf("timeout:%s:%d", sess.ID, stepIndex)
	jobID, err := g.store.EnqueueJob(JobKindSessionTimeout, time.Now().Add(after), string(payload), dedupeKey)
	if err != nil {
		return fmt.Errorf("failed to schedule timeout for session %s: %w", sess.ID, err)
	}
	sess.TimeoutJobID = jobID
	slog.Debug("SessionGateway.ScheduleTimeout: timeout scheduled", "sessionID", sess.ID, "stepIndex", stepIndex, "after", after)
	return nil
}

// CancelTimeout cancels the session's pending timeout job, if any.
func (g *SessionGateway) CancelTimeout(sess *models.Session) error {
	if sess.TimeoutJobID == "" {
		return nil
	}
	if err := g.store.CancelJob(sess.TimeoutJobID); err != nil {
		return fmt.Errorf("failed to cancel timeout job %s: %w", sess.TimeoutJobID, err)
	}
	sess.TimeoutJobID = ""
	return nil
}
