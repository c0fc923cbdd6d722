package funnel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Macxim/secondself/internal/models"
)

// Sender is the narrow delivery contract the sweep needs. The full messaging
// service satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// followUpRule describes one entry of the follow-up state machine, keyed by
// (stage, followUpCount): the idle threshold that triggers it, the message to
// send, and the resulting stage and counter.
type followUpRule struct {
	threshold time.Duration
	nextStage models.Stage
	nextCount int
	message   func(rec models.FlowRecord) string
	notes     string
}

// followUpRules is the sweep table. Thresholds are cumulative from the last
// transition (idle time = now - updatedAt), not from flow creation.
var followUpRules = map[models.Stage]map[int]followUpRule{
	models.StageWaitingInitialReply: {
		0: {48 * time.Hour, models.StageWaitingInitialReply, 1, initialNudge1, "Follow-up #1 (initial reply)"},
		1: {48 * time.Hour, models.StageWaitingInitialReply, 2, initialNudge2, "Follow-up #2 (initial reply)"},
		2: {48 * time.Hour, models.StageClosed, 3, closeOutMessage, "Closed out after follow-ups (initial reply)"},
	},
	models.StageWaitingDocReply: {
		0: {24 * time.Hour, models.StageWaitingDocReply, 1, docNudge1, "Follow-up #1 (doc reply)"},
		1: {24 * time.Hour, models.StageWaitingDocReply, 2, docNudge2, "Follow-up #2 (doc reply)"},
		2: {24 * time.Hour, models.StageClosed, 3, closeOutMessage, "Closed out after follow-ups (doc reply)"},
	},
	models.StageWaitingPayment: {
		0: {24 * time.Hour, models.StageWaitingPayment, 1, paymentNudge1, "Follow-up #1 (payment)"},
		1: {24 * time.Hour, models.StageWaitingPayment, 2, paymentNudge2, "Follow-up #2 (payment)"},
		2: {24 * time.Hour, models.StageClosed, 3, closeOutMessage, "Closed out after follow-ups (payment)"},
	},
	models.StageWaitingBooking: {
		0: {24 * time.Hour, models.StageWaitingBooking, 1, bookingReminder, "Booking reminder"},
	},
}

func initialNudge1(rec models.FlowRecord) string {
	return fmt.Sprintf("Hey %s, just floating this back up - should I send over the details?", rec.DisplayName)
}

func initialNudge2(rec models.FlowRecord) string {
	return fmt.Sprintf("Hey %s, last check before I close the list for this month's Gameplan. Want me to send the details?", rec.DisplayName)
}

func docNudge1(rec models.FlowRecord) string {
	return fmt.Sprintf("Hey %s, did you get a chance to look at the doc? If it looks like a fit, reply GAMEPLAN and I'll send the link.", rec.DisplayName)
}

func docNudge2(rec models.FlowRecord) string {
	return fmt.Sprintf("Hey %s, spots are filling up for this month - any questions about the doc I sent over?", rec.DisplayName)
}

func paymentNudge1(rec models.FlowRecord) string {
	return fmt.Sprintf("Hey %s, I'm saving your spot - did the payment link work okay?", rec.DisplayName)
}

func paymentNudge2(rec models.FlowRecord) string {
	return fmt.Sprintf("Hey %s, quick heads up - I can only hold your spot a little longer. Let me know once you've checked out.", rec.DisplayName)
}

func closeOutMessage(rec models.FlowRecord) string {
	return fmt.Sprintf("No stress %s - I'll stop nudging you. If you want the details later, just message me GAMEPLAN.", rec.DisplayName)
}

func bookingReminder(rec models.FlowRecord) string {
	return fmt.Sprintf("Hey %s, don't forget to book your call here: https://calendly.com/marketingwithamanda/the-profit-accelerator-call\nAnd complete the intake form: [INTAKE LINK] (at least 24h before your call).", rec.DisplayName)
}

// Sweeper drives the time-based follow-up pass over all flows.
type Sweeper struct {
	manager *Manager
	sender  Sender
	now     func() time.Time
}

// NewSweeper creates a Sweeper using the given lifecycle manager and sender.
func NewSweeper(manager *Manager, sender Sender) *Sweeper {
	return &Sweeper{manager: manager, sender: sender, now: time.Now}
}

// Sweep scans all flows and, for each one idle past its stage's threshold,
// delivers the escalating follow-up message and applies the transition with
// the table's explicit follow-up count. The transition is applied even when
// delivery fails so a stale follow-up is never re-sent forever; the failure
// is logged and isolated to that user. A record that changed between the
// sweep's read and the write (a reply landing mid-delivery) is left alone.
// Returns the number of follow-ups attempted.
func (s *Sweeper) Sweep(ctx context.Context) int {
	now := s.now()
	attempted := 0

	for _, rec := range s.manager.All() {
		rules, ok := followUpRules[rec.Stage]
		if !ok {
			continue
		}
		rule, ok := rules[rec.FollowUpCount]
		if !ok {
			continue
		}
		idle := now.Sub(rec.UpdatedAt)
		if idle < rule.threshold {
			continue
		}

		attempted++
		slog.Info("Sweeper follow-up due", "userID", rec.UserID, "stage", rec.Stage, "followUpCount", rec.FollowUpCount, "idle", idle)

		if err := s.sender.SendMessage(ctx, rec.UserID, rule.message(rec)); err != nil {
			slog.Error("Sweeper delivery failed", "error", err, "userID", rec.UserID, "stage", rec.Stage)
		}
		if _, err := s.manager.RecordFollowUp(rec.UserID, rec, rule.nextStage, rule.nextCount, rule.notes); err != nil {
			slog.Error("Sweeper transition failed", "error", err, "userID", rec.UserID, "stage", rec.Stage)
		}
	}

	slog.Debug("Sweeper sweep complete", "attempted", attempted)
	return attempted
}
