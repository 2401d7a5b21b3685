package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/FlowDeckHQ/FlowDeck/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner abstracts over sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// marshalSessionMaps serializes the session context and contact maps to JSON.
func marshalSessionMaps(sess models.Session) (contextJSON, contactJSON string, err error) {
	if len(sess.Context) > 0 {
		b, err := json.Marshal(sess.Context)
		if err != nil {
			return "", "", fmt.Errorf("failed to marshal session context: %w", err)
		}
		contextJSON = string(b)
	}
	if len(sess.ContactData) > 0 {
		b, err := json.Marshal(sess.ContactData)
		if err != nil {
			return "", "", fmt.Errorf("failed to marshal session contact data: %w", err)
		}
		contactJSON = string(b)
	}
	return contextJSON, contactJSON, nil
}

// scanSession scans a Session row. Callers check for sql.ErrNoRows.
func scanSession(rs rowScanner) (*models.Session, error) {
	var sess models.Session
	var userID, contextJSON, contactJSON, timeoutJobID sql.NullString
	var completedAt sql.NullTime

	err := rs.Scan(
		&sess.ID, &sess.FlowID, &userID, &sess.Status, &sess.Cursor,
		&contextJSON, &contactJSON, &timeoutJobID,
		&sess.StartedAt, &sess.LastInteractionAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.UserID = userID.String
	sess.TimeoutJobID = timeoutJobID.String
	if completedAt.Valid {
		sess.CompletedAt = &completedAt.Time
	}
	if contextJSON.String != "" {
		sess.Context = make(map[string]string)
		if err := json.Unmarshal([]byte(contextJSON.String), &sess.Context); err != nil {
			// Continue with an empty map rather than failing the read.
			sess.Context = make(map[string]string)
		}
	}
	if contactJSON.String != "" {
		sess.ContactData = make(map[string]string)
		if err := json.Unmarshal([]byte(contactJSON.String), &sess.ContactData); err != nil {
			sess.ContactData = make(map[string]string)
		}
	}
	return &sess, nil
}

// scanInteraction scans an Interaction from sql.Rows.
func scanInteraction(rows *sql.Rows) (models.Interaction, error) {
	var i models.Interaction
	var payload sql.NullString
	err := rows.Scan(&i.ID, &i.SessionID, &i.StepIndex, &i.StepKind, &payload, &i.CreatedAt)
	if err != nil {
		return i, fmt.Errorf("scan interaction failed: %w", err)
	}
	i.Payload = payload.String
	return i, nil
}

// scanJob scans a Job from sql.Rows.
func scanJob(rows *sql.Rows) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := rows.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, fmt.Errorf("scan job failed: %w", err)
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}

// scanJobRow scans a Job from a single sql.Row.
func scanJobRow(row *sql.Row) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, err
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}
