// Package protocol defines the JSON messages exchanged over the signaling
// websocket. Both the server adapter and the client orchestrator speak
// these; every message carries a "type" discriminator.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/dkeye/Dial/internal/domain"
)

const (
	TypeAddUser       = "add_user"
	TypeUsers         = "users"
	TypeUserAdded     = "user_added"
	TypeInitiateCall  = "initiate_call"
	TypeIncomingCall  = "incoming_call"
	TypeAcceptCall    = "accept_call"
	TypeCallAccepted  = "call_accepted"
	TypeCallConnected = "call_connected"
	TypeDeclineCall   = "decline_call"
	TypeCallDeclined  = "call_declined"
	TypeEndCall       = "end_call"
	TypeCallEnded     = "call_ended"
	TypeCallFailed    = "call_failed"
	TypeOffer         = "offer"
	TypeAnswer        = "answer"
	TypeCandidate     = "candidate"
	TypeError         = "error"
)

// Envelope is the minimal shape used to pick a handler before the full
// payload is decoded.
type Envelope struct {
	Type string `json:"type"`
}

type AddUser struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

type Users struct {
	Type  string        `json:"type"`
	Users []domain.User `json:"users"`
}

type UserAdded struct {
	Type string      `json:"type"`
	User domain.User `json:"user"`
}

type InitiateCall struct {
	Type       string `json:"type"`
	ReceiverID string `json:"receiver_id"`
	Kind       string `json:"kind"`
}

type IncomingCall struct {
	Type         string `json:"type"`
	CallID       string `json:"call_id"`
	CallerID     string `json:"caller_id"`
	CallerName   string `json:"caller_name"`
	CallerAvatar string `json:"caller_avatar,omitempty"`
	Kind         string `json:"kind"`
}

type AcceptCall struct {
	Type     string `json:"type"`
	CallerID string `json:"caller_id"`
}

type CallAccepted struct {
	Type       string `json:"type"`
	CallID     string `json:"call_id"`
	ReceiverID string `json:"receiver_id"`
}

type CallConnected struct {
	Type     string `json:"type"`
	CallID   string `json:"call_id"`
	CallerID string `json:"caller_id"`
}

type DeclineCall struct {
	Type     string `json:"type"`
	CallerID string `json:"caller_id"`
}

type CallDeclined struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
}

type EndCall struct {
	Type   string `json:"type"`
	PeerID string `json:"peer_id"`
}

type CallEnded struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Reason string `json:"reason"`
}

type CallFailed struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// SDP carries an offer or answer. SenderID and SentAt are stamped by the
// relay from the sending connection; the client-supplied values are ignored.
type SDP struct {
	Type       string    `json:"type"`
	ReceiverID string    `json:"receiver_id"`
	SenderID   string    `json:"sender_id,omitempty"`
	SDP        string    `json:"sdp"`
	SentAt     time.Time `json:"sent_at,omitzero"`
}

// Candidate carries one trickled ICE candidate, best-effort.
type Candidate struct {
	Type          string    `json:"type"`
	ReceiverID    string    `json:"receiver_id"`
	SenderID      string    `json:"sender_id,omitempty"`
	Candidate     string    `json:"candidate"`
	SDPMid        string    `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16   `json:"sdpMLineIndex,omitempty"`
	SentAt        time.Time `json:"sent_at,omitzero"`
}

type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Marshal is json.Marshal with the error swallowed: every message type in
// this package marshals without error, so callers skip the dead branch.
func Marshal(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
