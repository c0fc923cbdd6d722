package funnel

import (
	"testing"
	"time"

	"github.com/Macxim/secondself/internal/models"
	"github.com/Macxim/secondself/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.FlowStore) {
	t.Helper()
	st, err := store.NewFlowStore(store.NewMemorySnapshotter())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return NewManager(st), st
}

func TestInitializeCreatesRecord(t *testing.T) {
	m, _ := newTestManager(t)

	rec, err := m.Initialize("u1", models.EntryGroupMember, "Amy", nil)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if rec.Stage != models.StageInitialDM {
		t.Errorf("expected initial_dm, got %s", rec.Stage)
	}
	if rec.Metadata[MetadataKeyTopic] != DefaultTopic {
		t.Errorf("expected default topic, got %q", rec.Metadata[MetadataKeyTopic])
	}
	if len(rec.History) != 1 || rec.History[0].Stage != models.StageInitialDM {
		t.Errorf("expected creation history entry, got %+v", rec.History)
	}
	if !rec.CreatedAt.Equal(rec.UpdatedAt) {
		t.Error("createdAt and updatedAt should be identical at creation")
	}
}

func TestInitializeMetadataOverride(t *testing.T) {
	m, _ := newTestManager(t)

	rec, err := m.Initialize("u1", models.EntryProfileEngager, "Amy", map[string]string{
		"topic":  "peaceful launches",
		"source": "post-123",
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if rec.Metadata["topic"] != "peaceful launches" {
		t.Errorf("caller topic should override default, got %q", rec.Metadata["topic"])
	}
	if rec.Metadata["source"] != "post-123" {
		t.Errorf("extra metadata lost: %+v", rec.Metadata)
	}
}

func TestInitializeOverwritesExistingFlow(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.Initialize("u1", models.EntryGroupMember, "Amy", nil); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if _, err := m.Transition("u1", models.StageWaitingPayment, "advanced", true); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	rec, err := m.Initialize("u1", models.EntryEventAttendee, "Amy", nil)
	if err != nil {
		t.Fatalf("re-Initialize failed: %v", err)
	}
	if rec.Stage != models.StageInitialDM {
		t.Errorf("re-entry should restart the funnel, got stage %s", rec.Stage)
	}
	if rec.EntryType != models.EntryEventAttendee {
		t.Errorf("re-entry should replace entry type, got %s", rec.EntryType)
	}
	if len(rec.History) != 1 {
		t.Errorf("re-entry should reset history, got %d entries", len(rec.History))
	}
}

func TestTransitionUnknownUserNoWrite(t *testing.T) {
	m, st := newTestManager(t)

	rec, err := m.Transition("ghost", models.StageClosed, "nope", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Errorf("expected absent result, got %+v", rec)
	}
	if st.Count() != 0 {
		t.Error("transition for unknown user must not write to the store")
	}
}

func TestTransitionAppendsHistoryAndResetsCounter(t *testing.T) {
	m, _ := newTestManager(t)
	m.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	created, err := m.Initialize("u1", models.EntryGroupMember, "Amy", nil)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// Simulate accumulated follow-ups, then a real reply transition.
	if _, err := m.RecordFollowUp("u1", created, models.StageWaitingInitialReply, 2, "nudged"); err != nil {
		t.Fatalf("RecordFollowUp failed: %v", err)
	}

	later := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return later }

	rec, err := m.Transition("u1", models.StageWaitingDocReply, "Sent doc", true)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if rec.FollowUpCount != 0 {
		t.Errorf("non-follow-up transition must reset counter, got %d", rec.FollowUpCount)
	}
	if !rec.UpdatedAt.Equal(later) {
		t.Errorf("updatedAt not refreshed: %v", rec.UpdatedAt)
	}
	last := rec.History[len(rec.History)-1]
	if last.Stage != models.StageWaitingDocReply || last.Notes != "Sent doc" {
		t.Errorf("unexpected history tail: %+v", last)
	}
	if len(rec.History) != 3 {
		t.Errorf("expected 3 history entries (create, follow-up, transition), got %d", len(rec.History))
	}
}

func TestRecordFollowUpKeepsExplicitCount(t *testing.T) {
	m, _ := newTestManager(t)

	created, err := m.Initialize("u1", models.EntryGroupMember, "Amy", nil)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	rec, err := m.RecordFollowUp("u1", created, models.StageWaitingInitialReply, 1, "nudge #1")
	if err != nil {
		t.Fatalf("RecordFollowUp failed: %v", err)
	}
	if rec.FollowUpCount != 1 {
		t.Errorf("expected explicit count 1, got %d", rec.FollowUpCount)
	}
	if rec.Stage != models.StageWaitingInitialReply {
		t.Errorf("stage should be unchanged, got %s", rec.Stage)
	}
}
