package funnel

import (
	"strings"
	"testing"

	"github.com/Macxim/secondself/internal/models"
)

func flowAt(stage models.Stage) models.FlowRecord {
	return models.FlowRecord{
		UserID:      "u1",
		DisplayName: "Amy",
		EntryType:   models.EntryGroupMember,
		Stage:       stage,
	}
}

func TestEvaluatePriceQuestionAnyStage(t *testing.T) {
	stages := []models.Stage{
		models.StageWaitingInitialReply,
		models.StageWaitingDocReply,
		models.StageWaitingPayment,
		models.StageWaitingBooking,
		models.StageClosed,
	}
	for _, stage := range stages {
		action := Evaluate(flowAt(stage), "How much is the price?")
		if action == nil {
			t.Fatalf("stage %s: expected pricing action", stage)
		}
		if action.NextStage != stage {
			t.Errorf("stage %s: pricing reply must not change stage, got %s", stage, action.NextStage)
		}
		if !strings.Contains(action.ReplyText, "$250") {
			t.Errorf("stage %s: expected fixed price line, got %q", stage, action.ReplyText)
		}
	}
}

func TestEvaluateScopeQuestion(t *testing.T) {
	action := Evaluate(flowAt(models.StageWaitingPayment), "what does it include exactly?")
	if action == nil {
		t.Fatal("expected scope action")
	}
	if action.NextStage != models.StageWaitingPayment {
		t.Errorf("scope reply must not change stage, got %s", action.NextStage)
	}
	if !strings.Contains(action.ReplyText, "7-day sprint") {
		t.Errorf("expected fixed scope line, got %q", action.ReplyText)
	}
}

func TestEvaluateDeclineClosesFlow(t *testing.T) {
	for _, text := range []string{"not now", "I'm not interested", "No thanks!"} {
		action := Evaluate(flowAt(models.StageWaitingDocReply), text)
		if action == nil {
			t.Fatalf("%q: expected soft-close action", text)
		}
		if action.NextStage != models.StageClosed {
			t.Errorf("%q: expected transition to closed, got %s", text, action.NextStage)
		}
		if action.ReplyText == "" {
			t.Errorf("%q: expected soft-close reply text", text)
		}
	}
}

func TestEvaluateGlobalIntentBeatsStageRule(t *testing.T) {
	// "cost" wins over the positive-response vocabulary even though "sure"
	// would otherwise trigger the doc offer.
	action := Evaluate(flowAt(models.StageWaitingInitialReply), "sure, but what does it cost?")
	if action == nil {
		t.Fatal("expected action")
	}
	if action.NextStage != models.StageWaitingInitialReply {
		t.Errorf("expected stage unchanged, got %s", action.NextStage)
	}
	if !strings.Contains(action.ReplyText, "$250") {
		t.Errorf("expected price line to win, got %q", action.ReplyText)
	}
}

func TestEvaluatePositiveReplySendsDocOffer(t *testing.T) {
	action := Evaluate(flowAt(models.StageWaitingInitialReply), "yes please")
	if action == nil {
		t.Fatal("expected doc-offer action")
	}
	if action.NextStage != models.StageWaitingDocReply {
		t.Errorf("expected waiting_doc_reply, got %s", action.NextStage)
	}
	if !strings.Contains(action.ReplyText, "[OFFER DOC LINK]") {
		t.Errorf("expected doc-offer marker in reply, got %q", action.ReplyText)
	}
}

func TestEvaluateNonTriggerTextNoAction(t *testing.T) {
	for _, text := range []string{"hmm let me think", "who is this?", "🙂"} {
		if action := Evaluate(flowAt(models.StageWaitingInitialReply), text); action != nil {
			t.Errorf("%q: expected no action, got %+v", text, action)
		}
	}
}

func TestEvaluateGameplanKeyword(t *testing.T) {
	action := Evaluate(flowAt(models.StageWaitingDocReply), "GAMEPLAN")
	if action == nil {
		t.Fatal("expected payment-link action")
	}
	if action.NextStage != models.StageWaitingPayment {
		t.Errorf("expected waiting_payment, got %s", action.NextStage)
	}
	if !strings.Contains(action.ReplyText, "fastpaydirect.com") {
		t.Errorf("expected payment-link marker in reply, got %q", action.ReplyText)
	}
}

func TestEvaluatePaymentConfirmation(t *testing.T) {
	action := Evaluate(flowAt(models.StageWaitingPayment), "just paid!")
	if action == nil {
		t.Fatal("expected booking action")
	}
	if action.NextStage != models.StageWaitingBooking {
		t.Errorf("expected waiting_booking, got %s", action.NextStage)
	}
	if !strings.Contains(action.ReplyText, "calendly.com") {
		t.Errorf("expected booking-link marker, got %q", action.ReplyText)
	}
	if !strings.Contains(action.ReplyText, "[INTAKE LINK]") {
		t.Errorf("expected intake-link marker, got %q", action.ReplyText)
	}
}

func TestEvaluateLegacySilentStages(t *testing.T) {
	action := Evaluate(flowAt(models.StageSentDoc), "anything at all")
	if action == nil || !action.Silent {
		t.Fatalf("expected silent action for sent_doc, got %+v", action)
	}
	if action.NextStage != models.StageWaitingDocReply || action.ReplyText != "" {
		t.Errorf("unexpected silent action: %+v", action)
	}

	action = Evaluate(flowAt(models.StageSentLink), "anything")
	if action == nil || !action.Silent || action.NextStage != models.StageWaitingPayment {
		t.Fatalf("expected silent advance to waiting_payment, got %+v", action)
	}
}

func TestEvaluateTerminalStageNoAction(t *testing.T) {
	if action := Evaluate(flowAt(models.StageClosed), "yes please"); action != nil {
		t.Errorf("closed flow should produce no stage action, got %+v", action)
	}
}

func TestInitialMessageTemplates(t *testing.T) {
	msg := InitialMessage(models.EntryProfileEngager, "Amy", map[string]string{"topic": "peaceful launches"})
	if !strings.Contains(msg, "Amy") || !strings.Contains(msg, "peaceful launches") {
		t.Errorf("profile engager template not personalized: %q", msg)
	}

	msg = InitialMessage(models.EntryEventAttendee, "Jo", nil)
	if !strings.Contains(msg, "Peaceful Launch") {
		t.Errorf("event attendee template missing event mention: %q", msg)
	}

	// Unknown entry types fall back to the group-member template.
	fallback := InitialMessage("unknown", "Kim", nil)
	group := InitialMessage(models.EntryGroupMember, "Kim", nil)
	if fallback != group {
		t.Errorf("expected fallback to group-member template, got %q", fallback)
	}
	if !strings.Contains(group, "7-Day Gameplan") {
		t.Errorf("group template missing gameplan mention: %q", group)
	}
}
