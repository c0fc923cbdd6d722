package funnel

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Macxim/secondself/internal/models"
	"github.com/Macxim/secondself/internal/store"
)

// Manager is the flow lifecycle manager. All flow mutations go through it:
// it serializes read-modify-write cycles per user so a scheduler sweep and a
// live message cannot race on the same record.
type Manager struct {
	store *store.FlowStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// NewManager creates a Manager backed by the given flow store.
func NewManager(st *store.FlowStore) *Manager {
	return &Manager{
		store: st,
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
	}
}

// userLock returns the mutex serializing mutations for one user.
func (m *Manager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// Initialize constructs a new flow record in the initial stage and persists
// it. Calling this for a user that already has a record overwrites it:
// re-entry restarts the funnel from scratch.
func (m *Manager) Initialize(userID string, entryType models.EntryType, displayName string, metadata map[string]string) (models.FlowRecord, error) {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	now := m.now()
	merged := map[string]string{MetadataKeyTopic: DefaultTopic}
	for k, v := range metadata {
		merged[k] = v
	}

	rec := models.FlowRecord{
		UserID:      userID,
		DisplayName: displayName,
		EntryType:   entryType,
		Stage:       models.StageInitialDM,
		Metadata:    merged,
		History: []models.HistoryEntry{
			{Stage: models.StageInitialDM, Timestamp: now, Notes: "Flow initialized"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.store.Put(userID, rec); err != nil {
		slog.Error("Manager Initialize persistence failed", "error", err, "userID", userID)
		return rec, err
	}
	slog.Info("Manager initialized flow", "userID", userID, "displayName", displayName, "entryType", entryType)
	return rec, nil
}

// Transition moves a flow to the next stage, refreshes updatedAt, appends a
// history entry, and persists. When resetFollowUp is true the follow-up
// counter is zeroed; follow-up transitions keep it and set it explicitly via
// RecordFollowUp. A nil record with nil error means no flow exists for the
// user; nothing is written in that case.
func (m *Manager) Transition(userID string, nextStage models.Stage, notes string, resetFollowUp bool) (*models.FlowRecord, error) {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	return m.transitionLocked(userID, nextStage, notes, resetFollowUp, -1)
}

// RecordFollowUp applies a follow-up transition: the counter is set to the
// given value instead of being reset, and the stage may stay put. The write
// only happens if the record still matches prev in stage, counter and
// updatedAt; a live reply landing between the sweep's read and this call
// changes those fields, and its transition must win over the stale nudge.
// A nil record with nil error means the flow is gone or has moved on.
func (m *Manager) RecordFollowUp(userID string, prev models.FlowRecord, nextStage models.Stage, count int, notes string) (*models.FlowRecord, error) {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	rec, ok := m.store.Get(userID)
	if !ok {
		return nil, nil
	}
	if rec.Stage != prev.Stage || rec.FollowUpCount != prev.FollowUpCount || !rec.UpdatedAt.Equal(prev.UpdatedAt) {
		slog.Debug("Manager RecordFollowUp skipped, record changed since sweep read",
			"userID", userID, "stage", rec.Stage, "followUpCount", rec.FollowUpCount)
		return nil, nil
	}

	return m.transitionLocked(userID, nextStage, notes, false, count)
}

// transitionLocked performs the shared transition body. followUpCount < 0
// leaves the counter alone (subject to resetFollowUp).
func (m *Manager) transitionLocked(userID string, nextStage models.Stage, notes string, resetFollowUp bool, followUpCount int) (*models.FlowRecord, error) {
	rec, ok := m.store.Get(userID)
	if !ok {
		slog.Debug("Manager Transition no flow found", "userID", userID, "nextStage", nextStage)
		return nil, nil
	}

	now := m.now()
	rec.Stage = nextStage
	rec.UpdatedAt = now
	if followUpCount >= 0 {
		rec.FollowUpCount = followUpCount
	} else if resetFollowUp {
		rec.FollowUpCount = 0
	}
	rec.History = append(rec.History, models.HistoryEntry{Stage: nextStage, Timestamp: now, Notes: notes})

	if err := m.store.Put(userID, rec); err != nil {
		slog.Error("Manager Transition persistence failed", "error", err, "userID", userID, "nextStage", nextStage)
		return nil, err
	}
	slog.Info("Manager transitioned flow", "userID", userID, "stage", nextStage, "followUpCount", rec.FollowUpCount)
	return &rec, nil
}

// Get returns the flow record for a user, if one exists.
func (m *Manager) Get(userID string) (models.FlowRecord, bool) {
	return m.store.Get(userID)
}

// All returns a snapshot of every flow record.
func (m *Manager) All() []models.FlowRecord {
	return m.store.All()
}
