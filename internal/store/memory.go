// Package store provides storage backends for FlowDeck.
//
// This file implements an in-memory store used by tests and local runs
// without a database.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/FlowDeckHQ/FlowDeck/internal/models"
	"github.com/FlowDeckHQ/FlowDeck/internal/util"
)

// InMemoryStore is a mutex-guarded Store implementation without persistence.
type InMemoryStore struct {
	mu           sync.Mutex
	flows        map[string]models.Flow
	steps        map[string][]models.Step
	sessions     map[string]models.Session
	interactions map[string][]models.Interaction
	jobs         map[string]Job
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		flows:        make(map[string]models.Flow),
		steps:        make(map[string][]models.Step),
		sessions:     make(map[string]models.Session),
		interactions: make(map[string][]models.Interaction),
		jobs:         make(map[string]Job),
	}
}

// SaveFlow inserts or updates a flow definition.
func (s *InMemoryStore) SaveFlow(f models.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[f.ID] = f
	return nil
}

// GetFlow retrieves a flow by ID.
func (s *InMemoryStore) GetFlow(id string) (*models.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

// SaveSteps replaces the step list of a flow.
func (s *InMemoryStore) SaveSteps(flowID string, steps []models.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]models.Step, len(steps))
	copy(copied, steps)
	sort.SliceStable(copied, func(i, j int) bool { return copied[i].Order < copied[j].Order })
	s.steps[flowID] = copied
	return nil
}

// GetSteps retrieves the steps of a flow ordered by step order.
func (s *InMemoryStore) GetSteps(flowID string) ([]models.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := s.steps[flowID]
	out := make([]models.Step, len(steps))
	copy(out, steps)
	return out, nil
}

// CreateSession inserts a session if absent, returning the stored session
// and whether this call created it.
func (s *InMemoryStore) CreateSession(sess models.Session) (*models.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[sess.ID]; ok {
		out := cloneSession(existing)
		return &out, false, nil
	}
	s.sessions[sess.ID] = cloneSession(sess)
	out := cloneSession(sess)
	return &out, true, nil
}

// GetSession retrieves a session by ID.
func (s *InMemoryStore) GetSession(id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	out := cloneSession(sess)
	return &out, nil
}

// SaveSession updates an existing session row.
func (s *InMemoryStore) SaveSession(sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

// AddInteraction appends an immutable interaction record.
func (s *InMemoryStore) AddInteraction(i models.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions[i.SessionID] = append(s.interactions[i.SessionID], i)
	return nil
}

// GetInteractions retrieves the interactions of a session in step order.
func (s *InMemoryStore) GetInteractions(sessionID string) ([]models.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.interactions[sessionID]
	out := make([]models.Interaction, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StepIndex < out[j].StepIndex })
	return out, nil
}

// EnqueueJob inserts a new job, honoring the dedupe key.
func (s *InMemoryStore) EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dedupeKey != "" {
		for _, j := range s.jobs {
			if j.DedupeKey == dedupeKey && j.Status != JobStatusDone && j.Status != JobStatusCanceled {
				return j.ID, nil
			}
		}
	}

	now := time.Now()
	id := util.GenerateRandomID("job_", 32)
	s.jobs[id] = Job{
		ID:          id,
		Kind:        kind,
		RunAt:       runAt,
		PayloadJSON: payloadJSON,
		Status:      JobStatusQueued,
		MaxAttempts: 3,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return id, nil
}

// ClaimDueJobs marks up to limit due queued jobs as running and returns them.
func (s *InMemoryStore) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Job
	for _, j := range s.jobs {
		if j.Status == JobStatusQueued && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		j := due[i]
		locked := now
		j.Status = JobStatusRunning
		j.LockedAt = &locked
		j.UpdatedAt = now
		s.jobs[j.ID] = j
		due[i] = j
	}
	return due, nil
}

// CompleteJob marks a job as done.
func (s *InMemoryStore) CompleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = JobStatusDone
		j.UpdatedAt = time.Now()
		s.jobs[id] = j
	}
	return nil
}

// FailJob records a failure and requeues the job until attempts run out.
func (s *InMemoryStore) FailJob(id string, errMsg string, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	j.Attempt++
	j.LastError = errMsg
	j.LockedAt = nil
	j.UpdatedAt = time.Now()
	if j.Attempt >= j.MaxAttempts {
		j.Status = JobStatusFailed
	} else {
		j.Status = JobStatusQueued
		j.RunAt = nextRunAt
	}
	s.jobs[id] = j
	return nil
}

// CancelJob marks a job as canceled.
func (s *InMemoryStore) CancelJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && j.Status != JobStatusDone {
		j.Status = JobStatusCanceled
		j.UpdatedAt = time.Now()
		s.jobs[id] = j
	}
	return nil
}

// RequeueStaleRunningJobs resets long-running jobs back to queued.
func (s *InMemoryStore) RequeueStaleRunningJobs(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, j := range s.jobs {
		if j.Status == JobStatusRunning && j.LockedAt != nil && j.LockedAt.Before(staleBefore) {
			j.Status = JobStatusQueued
			j.LockedAt = nil
			j.UpdatedAt = time.Now()
			s.jobs[id] = j
			count++
		}
	}
	return count, nil
}

// GetJob retrieves a single job by ID.
func (s *InMemoryStore) GetJob(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return &j, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

func cloneSession(sess models.Session) models.Session {
	out := sess
	if sess.Context != nil {
		out.Context = make(map[string]string, len(sess.Context))
		for k, v := range sess.Context {
			out.Context[k] = v
		}
	}
	if sess.ContactData != nil {
		out.ContactData = make(map[string]string, len(sess.ContactData))
		for k, v := range sess.ContactData {
			out.ContactData[k] = v
		}
	}
	return out
}
