package funnel

import (
	"strings"

	"github.com/Macxim/secondself/internal/models"
)

// Intent phrase lists for the global overrides. Matching is case-insensitive
// substring containment against the normalized inbound text.
var (
	pricePhrases = []string{"how much", "price", "cost"}

	scopePhrases = []string{"what do i get", "what is it", "what does it include"}

	declinePhrases = []string{"not now", "not interested", "no thanks"}

	paymentConfirmPhrases = []string{"paid", "done", "completed", "purchased"}

	// positiveWords is the fixed positive-response vocabulary shared by the
	// waiting stages.
	positiveWords = []string{
		"yes", "yeah", "yep", "yup", "sure", "ok", "okay", "alright",
		"sounds good", "interested", "please", "send", "share",
		"i want", "id like", "i would", "tell me", "show me",
		"lets do it", "go ahead", "absolutely", "definitely",
	}
)

// Evaluate is the pure stage rule engine: it maps the flow's current stage
// and the inbound text to an optional scripted action. A nil result signals
// the caller to fall back to a generative reply.
//
// Global intents are checked before any stage-specific rule so a pricing
// question gets the same answer regardless of funnel position.
func Evaluate(flow models.FlowRecord, inboundText string) *models.ScriptAction {
	text := strings.ToLower(strings.TrimSpace(inboundText))

	if containsAny(text, pricePhrases) {
		return &models.ScriptAction{ReplyText: scriptPriceLine, NextStage: flow.Stage}
	}
	if containsAny(text, scopePhrases) {
		return &models.ScriptAction{ReplyText: scriptScopeLine, NextStage: flow.Stage}
	}
	if containsAny(text, declinePhrases) {
		return &models.ScriptAction{ReplyText: scriptSoftClose, NextStage: models.StageClosed}
	}

	switch flow.Stage {
	case models.StageWaitingInitialReply:
		if isPositiveResponse(text) {
			return &models.ScriptAction{ReplyText: scriptDocOffer, NextStage: models.StageWaitingDocReply}
		}

	case models.StageSentDoc:
		// Legacy intermediate stage: stage-only advance, nothing sent.
		return &models.ScriptAction{NextStage: models.StageWaitingDocReply, Silent: true}

	case models.StageWaitingDocReply:
		if strings.Contains(text, "gameplan") || isPositiveResponse(text) {
			return &models.ScriptAction{ReplyText: scriptPaymentLink, NextStage: models.StageWaitingPayment}
		}

	case models.StageSentLink:
		return &models.ScriptAction{NextStage: models.StageWaitingPayment, Silent: true}

	case models.StageWaitingPayment:
		if containsAny(text, paymentConfirmPhrases) {
			return &models.ScriptAction{ReplyText: scriptBooking, NextStage: models.StageWaitingBooking}
		}
	}

	return nil
}

// isPositiveResponse checks the text against the positive-response vocabulary.
func isPositiveResponse(text string) bool {
	return containsAny(text, positiveWords)
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
