// Package models defines the core data structures for secondself.
//
// It includes the flow record tracked per user, the enumerated funnel stages
// and entry types, and the API response types shared across modules.
package models

import (
	"errors"
	"time"
)

// Stage identifies a position in the outreach funnel.
type Stage string

const (
	// StageInitialDM is the stage of a freshly initialized flow, before the
	// opening message has been delivered.
	StageInitialDM Stage = "initial_dm"
	// StageWaitingInitialReply means the opening message went out and we are
	// waiting for the user's first response.
	StageWaitingInitialReply Stage = "waiting_initial_reply"
	// StageSentDoc is a legacy intermediate stage; it silently advances to
	// StageWaitingDocReply on the next evaluation.
	StageSentDoc Stage = "sent_doc"
	// StageWaitingDocReply means the offer document was sent and we are
	// waiting for the user to respond to it.
	StageWaitingDocReply Stage = "waiting_doc_reply"
	// StageSentLink is a legacy intermediate stage; it silently advances to
	// StageWaitingPayment on the next evaluation.
	StageSentLink Stage = "sent_link"
	// StageWaitingPayment means the payment link was sent.
	StageWaitingPayment Stage = "waiting_payment"
	// StageWaitingBooking means payment was confirmed and the user still has
	// to book their call.
	StageWaitingBooking Stage = "waiting_booking"
	// StagePaid is a legacy stage kept for snapshots written by the earlier
	// variant of the funnel.
	StagePaid Stage = "paid"
	// StageBooked means the user booked their call.
	StageBooked Stage = "booked"
	// StageCompleted means the engagement finished.
	StageCompleted Stage = "completed"
	// StageClosed is the terminal stage for declined or stalled flows.
	StageClosed Stage = "closed"
)

// IsValidStage checks if the given stage is one of the enumerated values.
func IsValidStage(s Stage) bool {
	switch s {
	case StageInitialDM, StageWaitingInitialReply, StageSentDoc, StageWaitingDocReply,
		StageSentLink, StageWaitingPayment, StageWaitingBooking, StagePaid,
		StageBooked, StageCompleted, StageClosed:
		return true
	default:
		return false
	}
}

// EntryType identifies the acquisition channel a user entered the funnel through.
type EntryType string

const (
	// EntryProfileEngager is a user who engaged with a profile post.
	EntryProfileEngager EntryType = "profile_engager"
	// EntryGroupMember is a user from the community group.
	EntryGroupMember EntryType = "group_member"
	// EntryEventAttendee is a user who attended an event.
	EntryEventAttendee EntryType = "event_attendee"
)

// IsValidEntryType checks if the given entry type is supported.
func IsValidEntryType(et EntryType) bool {
	switch et {
	case EntryProfileEngager, EntryGroupMember, EntryEventAttendee:
		return true
	default:
		return false
	}
}

// Error variables for better error handling and testability
var (
	ErrEmptyUserID      = errors.New("user id cannot be empty")
	ErrEmptyDisplayName = errors.New("display name cannot be empty")
	ErrInvalidEntryType = errors.New("invalid entry type")
	ErrInvalidStage     = errors.New("invalid stage")
)

// HistoryEntry records one stage transition of a flow, oldest first.
type HistoryEntry struct {
	Stage     Stage     `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	Notes     string    `json:"notes,omitempty"`
}

// FlowRecord tracks one user's progress through the outreach funnel.
// Records are owned exclusively by the flow store and mutated only through
// the lifecycle manager.
type FlowRecord struct {
	UserID        string            `json:"user_id"`
	DisplayName   string            `json:"display_name"`
	EntryType     EntryType         `json:"entry_type"`
	Stage         Stage             `json:"stage"`
	FollowUpCount int               `json:"follow_up_count"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	History       []HistoryEntry    `json:"history"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of the record so callers can hand out snapshots
// without exposing the store's internal maps and slices.
func (r FlowRecord) Clone() FlowRecord {
	c := r
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	if r.History != nil {
		c.History = make([]HistoryEntry, len(r.History))
		copy(c.History, r.History)
	}
	return c
}

// ScriptAction is the result of a rule engine match: an optional scripted
// reply plus the stage the flow should move to. Silent actions carry no reply
// text and exist purely to drive an automatic stage advance.
type ScriptAction struct {
	ReplyText string `json:"reply_text,omitempty"`
	NextStage Stage  `json:"next_stage"`
	Silent    bool   `json:"silent,omitempty"`
}

// SnapshotVersion is the implicit version marker written into persisted
// snapshots for forward compatibility.
const SnapshotVersion = 1

// Snapshot is the durable form of the flow store: a single document mapping
// user id to flow record.
type Snapshot struct {
	Version int                   `json:"version"`
	Flows   map[string]FlowRecord `json:"flows"`
}

// InboundMessage represents an incoming message from a user on the channel.
type InboundMessage struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// ChatMessage is one turn of a conversation history, role "user" or
// "assistant".
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FlowStartRequest represents the payload for starting a new flow.
type FlowStartRequest struct {
	UserID      string            `json:"user_id"`
	DisplayName string            `json:"display_name"`
	EntryType   EntryType         `json:"entry_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Validate validates a FlowStartRequest.
func (r *FlowStartRequest) Validate() error {
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	if r.DisplayName == "" {
		return ErrEmptyDisplayName
	}
	if !IsValidEntryType(r.EntryType) {
		return ErrInvalidEntryType
	}
	return nil
}

// StageUpdateRequest represents the payload for manually updating a flow stage.
type StageUpdateRequest struct {
	Stage Stage  `json:"stage"`
	Notes string `json:"notes,omitempty"`
}

// Validate validates a StageUpdateRequest.
func (r *StageUpdateRequest) Validate() error {
	if !IsValidStage(r.Stage) {
		return ErrInvalidStage
	}
	return nil
}
