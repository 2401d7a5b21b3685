// Package store provides storage backends for FlowDeck.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/FlowDeckHQ/FlowDeck/internal/models"
	"github.com/FlowDeckHQ/FlowDeck/internal/util"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// Close closes the PostgreSQL connection pool.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres connection pool")
	return s.db.Close()
}

// SaveFlow inserts or updates a flow definition.
func (s *PostgresStore) SaveFlow(f models.Flow) error {
	_, err := s.db.Exec(
		`INSERT INTO flows (id, name, active, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET name = $2, active = $3, updated_at = $5`,
		f.ID, f.Name, f.Active, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.SaveFlow failed", "error", err, "flowID", f.ID)
		return fmt.Errorf("failed to save flow %s: %w", f.ID, err)
	}
	return nil
}

// GetFlow retrieves a flow by ID. Returns nil when not found.
func (s *PostgresStore) GetFlow(id string) (*models.Flow, error) {
	var f models.Flow
	err := s.db.QueryRow(
		`SELECT id, name, active, created_at, updated_at FROM flows WHERE id = $1`, id,
	).Scan(&f.ID, &f.Name, &f.Active, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetFlow failed", "error", err, "flowID", id)
		return nil, fmt.Errorf("failed to get flow %s: %w", id, err)
	}
	return &f, nil
}

// SaveSteps replaces the step list of a flow.
func (s *PostgresStore) SaveSteps(flowID string, steps []models.Step) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin steps transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM steps WHERE flow_id = $1`, flowID); err != nil {
		return fmt.Errorf("failed to clear steps for flow %s: %w", flowID, err)
	}
	for _, st := range steps {
		cfg, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("failed to marshal step %d: %w", st.Order, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO steps (flow_id, step_order, kind, config_json) VALUES ($1, $2, $3, $4)`,
			flowID, st.Order, st.Kind, string(cfg),
		); err != nil {
			return fmt.Errorf("failed to insert step %d: %w", st.Order, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit steps: %w", err)
	}
	slog.Debug("PostgresStore.SaveSteps succeeded", "flowID", flowID, "count", len(steps))
	return nil
}

// GetSteps retrieves the steps of a flow ordered by step order.
func (s *PostgresStore) GetSteps(flowID string) ([]models.Step, error) {
	rows, err := s.db.Query(
		`SELECT config_json FROM steps WHERE flow_id = $1 ORDER BY step_order ASC`, flowID,
	)
	if err != nil {
		slog.Error("PostgresStore.GetSteps query failed", "error", err, "flowID", flowID)
		return nil, fmt.Errorf("failed to query steps for flow %s: %w", flowID, err)
	}
	defer rows.Close()

	var steps []models.Step
	for rows.Next() {
		var cfg string
		if err := rows.Scan(&cfg); err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}
		var st models.Step
		if err := json.Unmarshal([]byte(cfg), &st); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step config: %w", err)
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate step rows: %w", err)
	}
	return steps, nil
}

// CreateSession inserts a session if absent. ON CONFLICT DO NOTHING plus a
// read-back resolves duplicate concurrent creates without an error.
func (s *PostgresStore) CreateSession(sess models.Session) (*models.Session, bool, error) {
	contextJSON, contactJSON, err := marshalSessionMaps(sess)
	if err != nil {
		return nil, false, err
	}

	res, err := s.db.Exec(
		`INSERT INTO sessions
		 (id, flow_id, user_id, status, current_step, context_json, contact_json, timeout_job_id, started_at, last_interaction_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO NOTHING`,
		sess.ID, sess.FlowID, nilIfEmpty(sess.UserID), sess.Status, sess.Cursor,
		nilIfEmpty(contextJSON), nilIfEmpty(contactJSON), nilIfEmpty(sess.TimeoutJobID),
		sess.StartedAt, sess.LastInteractionAt, sess.CompletedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.CreateSession failed", "error", err, "sessionID", sess.ID)
		return nil, false, fmt.Errorf("failed to create session %s: %w", sess.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read create session result: %w", err)
	}

	stored, err := s.GetSession(sess.ID)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, fmt.Errorf("session %s missing after create", sess.ID)
	}
	created := affected > 0
	slog.Debug("PostgresStore.CreateSession", "sessionID", sess.ID, "created", created)
	return stored, created, nil
}

// GetSession retrieves a session by ID. Returns nil when not found.
func (s *PostgresStore) GetSession(id string) (*models.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, flow_id, user_id, status, current_step, context_json, contact_json, timeout_job_id, started_at, last_interaction_at, completed_at
		 FROM sessions WHERE id = $1`, id,
	)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetSession failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return sess, nil
}

// SaveSession updates an existing session row.
func (s *PostgresStore) SaveSession(sess models.Session) error {
	contextJSON, contactJSON, err := marshalSessionMaps(sess)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE sessions SET status = $1, current_step = $2, context_json = $3, contact_json = $4, timeout_job_id = $5, last_interaction_at = $6, completed_at = $7
		 WHERE id = $8`,
		sess.Status, sess.Cursor, nilIfEmpty(contextJSON), nilIfEmpty(contactJSON),
		nilIfEmpty(sess.TimeoutJobID), sess.LastInteractionAt, sess.CompletedAt, sess.ID,
	)
	if err != nil {
		slog.Error("PostgresStore.SaveSession failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	return nil
}

// AddInteraction appends an immutable interaction record.
func (s *PostgresStore) AddInteraction(i models.Interaction) error {
	_, err := s.db.Exec(
		`INSERT INTO interactions (id, session_id, step_index, step_kind, payload, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		i.ID, i.SessionID, i.StepIndex, i.StepKind, nilIfEmpty(i.Payload), i.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.AddInteraction failed", "error", err, "sessionID", i.SessionID, "stepIndex", i.StepIndex)
		return fmt.Errorf("failed to insert interaction for session %s: %w", i.SessionID, err)
	}
	return nil
}

// GetInteractions retrieves the interactions of a session in step order.
func (s *PostgresStore) GetInteractions(sessionID string) ([]models.Interaction, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, step_index, step_kind, payload, created_at
		 FROM interactions WHERE session_id = $1 ORDER BY step_index ASC, created_at ASC`, sessionID,
	)
	if err != nil {
		slog.Error("PostgresStore.GetInteractions query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query interactions for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []models.Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate interaction rows: %w", err)
	}
	return out, nil
}

// EnqueueJob inserts a new job, honoring the dedupe key.
func (s *PostgresStore) EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	id := util.GenerateRandomID("job_", 32)
	now := time.Now()

	if dedupeKey != "" {
		var existingID string
		err := s.db.QueryRow(
			`SELECT id FROM jobs WHERE dedupe_key = $1 AND status NOT IN ('done', 'canceled')`,
			dedupeKey,
		).Scan(&existingID)
		if err == nil {
			slog.Debug("PostgresStore.EnqueueJob: dedupe hit", "dedupeKey", dedupeKey, "existingID", existingID)
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("dedupe check failed: %w", err)
		}
	}

	_, err := s.db.Exec(
		`INSERT INTO jobs (id, kind, run_at, payload_json, status, attempt, max_attempts, dedupe_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'queued', 0, 3, $5, $6, $7)`,
		id, kind, runAt, payloadJSON, nilIfEmpty(dedupeKey), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue job failed: %w", err)
	}
	slog.Debug("PostgresStore.EnqueueJob", "id", id, "kind", kind, "runAt", runAt)
	return id, nil
}

// ClaimDueJobs atomically claims due jobs using SKIP LOCKED so concurrent
// runners never double-claim.
func (s *PostgresStore) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	rows, err := s.db.Query(
		`UPDATE jobs SET status = 'running', locked_at = $1, updated_at = $1
		 WHERE id IN (
		   SELECT id FROM jobs WHERE status = 'queued' AND run_at <= $1
		   ORDER BY run_at ASC LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, kind, run_at, payload_json, status, attempt, max_attempts, last_error, locked_at, dedupe_key, created_at, updated_at`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs failed: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim due jobs iteration failed: %w", err)
	}
	return jobs, nil
}

// CompleteJob marks a job as done.
func (s *PostgresStore) CompleteJob(id string) error {
	_, err := s.db.Exec(`UPDATE jobs SET status = 'done', updated_at = $1 WHERE id = $2`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("complete job failed: %w", err)
	}
	return nil
}

// FailJob records a failure and requeues the job until attempts run out.
func (s *PostgresStore) FailJob(id string, errMsg string, nextRunAt time.Time) error {
	now := time.Now()

	var attempt, maxAttempts int
	err := s.db.QueryRow(`SELECT attempt, max_attempts FROM jobs WHERE id = $1`, id).Scan(&attempt, &maxAttempts)
	if err != nil {
		return fmt.Errorf("fail job lookup failed: %w", err)
	}

	attempt++
	if attempt >= maxAttempts {
		_, err = s.db.Exec(
			`UPDATE jobs SET status = 'failed', attempt = $1, last_error = $2, locked_at = NULL, updated_at = $3 WHERE id = $4`,
			attempt, errMsg, now, id,
		)
	} else {
		_, err = s.db.Exec(
			`UPDATE jobs SET status = 'queued', attempt = $1, last_error = $2, run_at = $3, locked_at = NULL, updated_at = $4 WHERE id = $5`,
			attempt, errMsg, nextRunAt, now, id,
		)
	}
	if err != nil {
		return fmt.Errorf("fail job update failed: %w", err)
	}
	return nil
}

// CancelJob marks a job as canceled.
func (s *PostgresStore) CancelJob(id string) error {
	_, err := s.db.Exec(
		`UPDATE jobs SET status = 'canceled', updated_at = $1 WHERE id = $2 AND status NOT IN ('done')`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("cancel job failed: %w", err)
	}
	return nil
}

// RequeueStaleRunningJobs resets long-running jobs back to queued.
func (s *PostgresStore) RequeueStaleRunningJobs(staleBefore time.Time) (int, error) {
	res, err := s.db.Exec(
		`UPDATE jobs SET status = 'queued', locked_at = NULL, updated_at = $1 WHERE status = 'running' AND locked_at < $2`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs count failed: %w", err)
	}
	return int(n), nil
}

// GetJob retrieves a single job by ID. Returns nil when not found.
func (s *PostgresStore) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(
		`SELECT id, kind, run_at, payload_json, status, attempt, max_attempts, last_error, locked_at, dedupe_key, created_at, updated_at
		 FROM jobs WHERE id = $1`, id,
	)
	j, err := scanJobRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job failed: %w", err)
	}
	return &j, nil
}
