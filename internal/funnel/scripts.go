// Package funnel implements the outreach conversation stage machine: the
// rule engine mapping inbound text to scripted actions, the lifecycle manager
// owning flow mutations, and the follow-up sweep for stalled flows.
package funnel

import (
	"fmt"

	"github.com/Macxim/secondself/internal/models"
)

// DefaultTopic is used for message personalization when the caller supplies
// no topic metadata.
const DefaultTopic = "getting clients"

// MetadataKeyTopic is the metadata key holding the personalization topic.
const MetadataKeyTopic = "topic"

// Fixed outbound script lines. All numeric and link values are literals by
// design; nothing here is computed.
const (
	scriptPriceLine = "It's just $250. Want me to send the details?"

	scriptScopeLine = "It's a 7-day sprint, a custom 1-1 plan + simple weekly client path + support while you set it up. Want the details?"

	scriptSoftClose = "No worries, that's cool. Want me to tag you for the next event?"

	scriptDocOffer = "Perfect, here you go\n\n[OFFER DOC LINK]\n\nIf it looks like a fit, reply GAMEPLAN, and I'll send the link to grab a spot."

	scriptPaymentLink = "Awesome, here you go\nhttps://link.fastpaydirect.com/payment-link/67890327cd7a105351d622d1\nAfter you check out, book your 1:1 on the confirmation page.\nOnce it's done, let me know and I'll send your intake form + next steps."

	scriptBooking = "You're in, congratulations! ✅\n\nNext step: book your call here: https://calendly.com/marketingwithamanda/the-profit-accelerator-call\n\nThen complete the intake form here: [INTAKE LINK] (at least 24h before your call)."
)

// InitialMessage returns the opening DM for a new flow, keyed by entry type.
// Unrecognized entry types fall back to the group-member template.
func InitialMessage(entryType models.EntryType, displayName string, metadata map[string]string) string {
	topic := DefaultTopic
	if t, ok := metadata[MetadataKeyTopic]; ok && t != "" {
		topic = t
	}

	switch entryType {
	case models.EntryProfileEngager:
		return fmt.Sprintf("Hey %s, saw you on my post about %s.\nThere's a new way coaches are using Facebook to get clients consistently.\nShould I send you a quick overview?", displayName, topic)
	case models.EntryEventAttendee:
		return fmt.Sprintf("Hey %s, thanks for joining Peaceful Launch.\nIf you want a quick custom plan for your business (and support while you set it up)\nI am doing a $250 Peaceful Clients 7 day Gameplan for 12 coaches this month\nShould I share the details?", displayName)
	default:
		return fmt.Sprintf("Hey %s, I thought of you.\nI am doing a 7-Day Gameplan for 12 coaches this month to help them get consistent clients from Facebook (without ads or complicated tech).\nShould I share the details?", displayName)
	}
}
