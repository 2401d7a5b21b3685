// Package store provides storage backends for FlowDeck.
//
// It defines the Store interface consumed by the flow engine (flow and step
// definitions, sessions, interactions, durable jobs) and includes SQLite,
// PostgreSQL and in-memory implementations.
package store

import (
	"strings"

	"github.com/FlowDeckHQ/FlowDeck/internal/models"
)

// DetectDSNType classifies a DSN as "postgres" or "sqlite". PostgreSQL DSNs
// use the URL scheme or key=value form; anything else is treated as a
// SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Opts holds configuration options for store backends.
type Opts struct {
	// DSN is the database connection string (file path for SQLite).
	DSN string
}

// Option configures store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// Store is the persistence contract required by the flow engine.
//
// Flow and step definitions are written by the authoring layer and treated
// as read-only per run by the engine. Sessions are created idempotently on
// the session ID. Interactions are append-only.
type Store interface {
	// SaveFlow inserts or updates a flow definition.
	SaveFlow(f models.Flow) error

	// GetFlow retrieves a flow by ID. Returns nil when not found.
	GetFlow(id string) (*models.Flow, error)

	// SaveSteps replaces the step list of a flow.
	SaveSteps(flowID string, steps []models.Step) error

	// GetSteps retrieves the steps of a flow ordered by step order.
	GetSteps(flowID string) ([]models.Step, error)

	// CreateSession inserts a session if no session with the same ID exists.
	// It returns the stored session and whether this call created it. A
	// duplicate create returns the existing row, never an error.
	CreateSession(s models.Session) (*models.Session, bool, error)

	// GetSession retrieves a session by ID. Returns nil when not found.
	GetSession(id string) (*models.Session, error)

	// SaveSession updates an existing session row.
	SaveSession(s models.Session) error

	// AddInteraction appends an immutable interaction record.
	AddInteraction(i models.Interaction) error

	// GetInteractions retrieves the interactions of a session in step order.
	GetInteractions(sessionID string) ([]models.Interaction, error)

	JobRepo

	// Close releases the underlying resources.
	Close() error
}
