package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type CallID string

func NewCallID() CallID {
	return CallID(uuid.NewString())
}

type CallKind string

const (
	CallAudio CallKind = "audio"
	CallVideo CallKind = "video"
)

func ParseCallKind(s string) (CallKind, error) {
	switch CallKind(s) {
	case CallAudio, CallVideo:
		return CallKind(s), nil
	}
	return "", ErrBadCallKind
}

type CallStatus string

const (
	CallRinging CallStatus = "ringing"
	CallActive  CallStatus = "active"
	CallEnded   CallStatus = "ended"
	CallFailed  CallStatus = "failed"
)

// EndReason explains why a call left the registry. NotFound and Busy are
// also the failure reasons for calls that never got a record.
type EndReason string

const (
	ReasonHangup       EndReason = "hangup"
	ReasonDeclined     EndReason = "declined"
	ReasonDisconnected EndReason = "disconnected"
	ReasonTimeout      EndReason = "timeout"
	ReasonNotFound     EndReason = "not-found"
	ReasonBusy         EndReason = "busy"
)

var (
	ErrBadCallKind = errors.New("unknown call kind")
	ErrBusy        = errors.New("user busy")
	ErrNoCall      = errors.New("no such call")
)

// Call is a single two-party call record. The registry stores the same
// *Call under both caller and receiver keys, so status mutations are
// visible to both sides at once.
type Call struct {
	ID         CallID
	CallerID   UserID
	ReceiverID UserID
	Kind       CallKind
	Status     CallStatus
	StartedAt  time.Time
	AnsweredAt time.Time
	EndedAt    time.Time
}

func NewCall(caller, receiver UserID, kind CallKind) *Call {
	return &Call{
		ID:         NewCallID(),
		CallerID:   caller,
		ReceiverID: receiver,
		Kind:       kind,
		Status:     CallRinging,
		StartedAt:  time.Now(),
	}
}

// Live reports whether the record still occupies its users in the registry.
func (c *Call) Live() bool {
	return c.Status == CallRinging || c.Status == CallActive
}

// Other returns the counterpart of uid in this call.
func (c *Call) Other(uid UserID) UserID {
	if uid == c.CallerID {
		return c.ReceiverID
	}
	return c.CallerID
}

// Involves reports whether uid is one of the two parties.
func (c *Call) Involves(uid UserID) bool {
	return uid == c.CallerID || uid == c.ReceiverID
}

// Duration is the talk time: zero unless the call was answered.
func (c *Call) Duration() time.Duration {
	if c.AnsweredAt.IsZero() || c.EndedAt.IsZero() {
		return 0
	}
	return c.EndedAt.Sub(c.AnsweredAt)
}

// Outcome is what the external call-history collaborator receives when a
// call terminates. The core never persists these itself.
type Outcome struct {
	CallID     CallID        `json:"call_id"`
	CallerID   UserID        `json:"caller_id"`
	ReceiverID UserID        `json:"receiver_id"`
	Kind       CallKind      `json:"kind"`
	Reason     EndReason     `json:"reason"`
	Answered   bool          `json:"answered"`
	Duration   time.Duration `json:"duration"`
}
