package app

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/protocol"
)

// Relay is the store-and-forward half of signaling: offers, answers and
// ICE candidates pass through unchanged except for the sender stamp and
// a server timestamp. It keeps no state of its own.
type Relay struct {
	Presence *Presence
}

func NewRelay(p *Presence) *Relay {
	return &Relay{Presence: p}
}

// ForwardSDP relays an offer or answer. The sender identity comes from
// the sending connection, never from the payload. Negotiation cannot
// survive a lost description, so an unresolvable receiver bounces a
// call_failed back to the sender.
func (r *Relay) ForwardSDP(sender domain.UserID, senderConn core.SignalConnection, msg protocol.SDP) {
	msg.SenderID = string(sender)
	msg.SentAt = time.Now()

	conn, ok := r.Presence.Resolve(domain.UserID(msg.ReceiverID))
	if !ok {
		log.Warn().Str("module", "app.relay").Str("sender", string(sender)).
			Str("receiver", msg.ReceiverID).Str("kind", msg.Type).Msg("sdp receiver offline")
		r.sendFailed(senderConn)
		return
	}
	if err := conn.TrySend(protocol.Marshal(msg)); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Str("receiver", msg.ReceiverID).Msg("sdp undeliverable")
		r.sendFailed(senderConn)
	}
}

// ForwardCandidate relays one ICE candidate, best-effort. ICE tolerates
// candidate loss, so an unresolvable receiver is just logged.
func (r *Relay) ForwardCandidate(sender domain.UserID, msg protocol.Candidate) {
	msg.SenderID = string(sender)
	msg.SentAt = time.Now()

	conn, ok := r.Presence.Resolve(domain.UserID(msg.ReceiverID))
	if !ok {
		log.Debug().Str("module", "app.relay").Str("receiver", msg.ReceiverID).Msg("candidate dropped, receiver offline")
		return
	}
	if err := conn.TrySend(protocol.Marshal(msg)); err != nil {
		log.Debug().Err(err).Str("module", "app.relay").Str("receiver", msg.ReceiverID).Msg("candidate dropped")
	}
}

func (r *Relay) sendFailed(conn core.SignalConnection) {
	f := protocol.CallFailed{Type: protocol.TypeCallFailed, Reason: string(domain.ReasonNotFound)}
	if err := conn.TrySend(protocol.Marshal(f)); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Msg("call_failed undeliverable")
	}
}
