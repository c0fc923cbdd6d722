package funnel

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Macxim/secondself/internal/models"
)

// mockSender records sent messages and can fail for selected recipients.
type mockSender struct {
	sent    []sentMessage
	failFor map[string]bool
}

type sentMessage struct {
	to   string
	body string
}

func (m *mockSender) SendMessage(ctx context.Context, to string, body string) error {
	if m.failFor[to] {
		return errors.New("delivery failed")
	}
	m.sent = append(m.sent, sentMessage{to: to, body: body})
	return nil
}

func newTestSweeper(t *testing.T) (*Sweeper, *Manager, *mockSender) {
	t.Helper()
	m, _ := newTestManager(t)
	sender := &mockSender{failFor: make(map[string]bool)}
	return NewSweeper(m, sender), m, sender
}

// parkFlow initializes a flow and moves it to the given stage at the given time.
func parkFlow(t *testing.T, m *Manager, userID string, stage models.Stage, at time.Time) {
	t.Helper()
	m.now = func() time.Time { return at }
	if _, err := m.Initialize(userID, models.EntryGroupMember, "Amy", nil); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if _, err := m.Transition(userID, stage, "parked", true); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
}

func TestSweepMonotonicCounterLaw(t *testing.T) {
	sweeper, m, sender := newTestSweeper(t)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	parkFlow(t, m, "u1", models.StageWaitingPayment, start)

	ctx := context.Background()
	wantCounts := []int{1, 2, 3}
	now := start
	for i, want := range wantCounts {
		now = now.Add(25 * time.Hour)
		sweeper.now = func() time.Time { return now }
		m.now = sweeper.now

		if got := sweeper.Sweep(ctx); got != 1 {
			t.Fatalf("sweep %d: expected 1 attempted follow-up, got %d", i+1, got)
		}
		rec, _ := m.Get("u1")
		if rec.FollowUpCount != want {
			t.Errorf("sweep %d: expected followUpCount %d, got %d", i+1, want, rec.FollowUpCount)
		}
		if want < 3 && rec.Stage != models.StageWaitingPayment {
			t.Errorf("sweep %d: stage should stay waiting_payment, got %s", i+1, rec.Stage)
		}
		if want == 3 && rec.Stage != models.StageClosed {
			t.Errorf("final sweep: expected closed, got %s", rec.Stage)
		}
	}
	if len(sender.sent) != 3 {
		t.Errorf("expected 3 delivered follow-ups, got %d", len(sender.sent))
	}
}

func TestSweepIdempotentWithinSameInstant(t *testing.T) {
	sweeper, m, sender := newTestSweeper(t)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	parkFlow(t, m, "u1", models.StageWaitingPayment, start)

	now := start.Add(25 * time.Hour)
	sweeper.now = func() time.Time { return now }
	m.now = sweeper.now

	ctx := context.Background()
	if got := sweeper.Sweep(ctx); got != 1 {
		t.Fatalf("first sweep: expected 1, got %d", got)
	}
	// Second sweep at the same instant: the transition refreshed updatedAt,
	// so no threshold is met again.
	if got := sweeper.Sweep(ctx); got != 0 {
		t.Errorf("second sweep at same instant: expected 0, got %d", got)
	}
	if len(sender.sent) != 1 {
		t.Errorf("expected exactly 1 message, got %d", len(sender.sent))
	}
}

func TestSweepInitialReplyFiftyHoursIdle(t *testing.T) {
	sweeper, m, sender := newTestSweeper(t)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	parkFlow(t, m, "u1", models.StageWaitingInitialReply, start)

	now := start.Add(50 * time.Hour)
	sweeper.now = func() time.Time { return now }
	m.now = sweeper.now

	if got := sweeper.Sweep(context.Background()); got != 1 {
		t.Fatalf("expected exactly 1 follow-up, got %d", got)
	}
	rec, _ := m.Get("u1")
	if rec.FollowUpCount != 1 {
		t.Errorf("expected followUpCount 1, got %d", rec.FollowUpCount)
	}
	if rec.Stage != models.StageWaitingInitialReply {
		t.Errorf("stage should be unchanged, got %s", rec.Stage)
	}
	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0].body, "Amy") {
		t.Errorf("expected personalized nudge, got %+v", sender.sent)
	}
}

func TestSweepBelowThresholdNoAction(t *testing.T) {
	sweeper, m, _ := newTestSweeper(t)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	parkFlow(t, m, "u1", models.StageWaitingInitialReply, start)

	now := start.Add(47 * time.Hour)
	sweeper.now = func() time.Time { return now }
	m.now = sweeper.now

	if got := sweeper.Sweep(context.Background()); got != 0 {
		t.Errorf("47h idle is below the 48h threshold, got %d follow-ups", got)
	}
}

func TestSweepDeliveryFailureIsolatedAndTransitionApplied(t *testing.T) {
	sweeper, m, sender := newTestSweeper(t)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	parkFlow(t, m, "u1", models.StageWaitingPayment, start)
	parkFlow(t, m, "u2", models.StageWaitingPayment, start)
	sender.failFor["u1"] = true

	now := start.Add(25 * time.Hour)
	sweeper.now = func() time.Time { return now }
	m.now = sweeper.now

	if got := sweeper.Sweep(context.Background()); got != 2 {
		t.Fatalf("expected 2 attempted follow-ups, got %d", got)
	}
	// u2 still got its message.
	if len(sender.sent) != 1 || sender.sent[0].to != "u2" {
		t.Errorf("expected delivery to u2 only, got %+v", sender.sent)
	}
	// The transition is applied for u1 even though delivery failed, so the
	// same stale follow-up is not re-sent forever.
	rec, _ := m.Get("u1")
	if rec.FollowUpCount != 1 {
		t.Errorf("expected u1 counter advanced despite delivery failure, got %d", rec.FollowUpCount)
	}
}

func TestSweepBookingReminderOnce(t *testing.T) {
	sweeper, m, sender := newTestSweeper(t)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	parkFlow(t, m, "u1", models.StageWaitingBooking, start)

	ctx := context.Background()

	now := start.Add(25 * time.Hour)
	sweeper.now = func() time.Time { return now }
	m.now = sweeper.now
	if got := sweeper.Sweep(ctx); got != 1 {
		t.Fatalf("expected booking reminder, got %d", got)
	}
	rec, _ := m.Get("u1")
	if rec.Stage != models.StageWaitingBooking || rec.FollowUpCount != 1 {
		t.Errorf("expected stage unchanged with count 1, got %s/%d", rec.Stage, rec.FollowUpCount)
	}
	if !strings.Contains(sender.sent[0].body, "calendly.com") {
		t.Errorf("expected booking link in reminder, got %q", sender.sent[0].body)
	}

	// No second reminder is defined for waiting_booking.
	now = now.Add(100 * time.Hour)
	if got := sweeper.Sweep(ctx); got != 0 {
		t.Errorf("expected no further booking reminders, got %d", got)
	}
}

func TestSweepIgnoresClosedFlows(t *testing.T) {
	sweeper, m, _ := newTestSweeper(t)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	parkFlow(t, m, "u1", models.StageClosed, start)

	now := start.Add(1000 * time.Hour)
	sweeper.now = func() time.Time { return now }
	m.now = sweeper.now

	if got := sweeper.Sweep(context.Background()); got != 0 {
		t.Errorf("closed flows must never be nudged, got %d", got)
	}
}

// replyDuringDeliverySender simulates a user reply landing while the nudge is
// in flight: delivery itself triggers the live payment transition.
type replyDuringDeliverySender struct {
	m *Manager
}

func (s *replyDuringDeliverySender) SendMessage(ctx context.Context, to string, body string) error {
	_, err := s.m.Transition(to, models.StageWaitingBooking, "Payment confirmed", true)
	return err
}

func TestSweepYieldsToLiveTransitionDuringDelivery(t *testing.T) {
	m, _ := newTestManager(t)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	parkFlow(t, m, "u1", models.StageWaitingPayment, start)

	sweeper := NewSweeper(m, &replyDuringDeliverySender{m: m})
	now := start.Add(25 * time.Hour)
	sweeper.now = func() time.Time { return now }
	m.now = sweeper.now

	if got := sweeper.Sweep(context.Background()); got != 1 {
		t.Fatalf("expected 1 attempted follow-up, got %d", got)
	}

	rec, _ := m.Get("u1")
	if rec.Stage != models.StageWaitingBooking {
		t.Errorf("live transition must win over the stale nudge, got stage %s", rec.Stage)
	}
	if rec.FollowUpCount != 0 {
		t.Errorf("live transition resets the counter, got %d", rec.FollowUpCount)
	}
	last := rec.History[len(rec.History)-1]
	if last.Notes != "Payment confirmed" {
		t.Errorf("stale follow-up must not be recorded, history tail: %+v", last)
	}
}
