package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/protocol"
)

// handleSDP forwards an offer or answer to its receiver. The relay stamps
// the sender from this connection's bound identity, so a forged sender_id
// in the payload never survives the hop.
func (ctl *SignalWSController) handleSDP(uid domain.UserID, c *wsSignalConn, data []byte) {
	var p protocol.SDP
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad sdp payload")
		return
	}
	if p.SDP == "" || p.ReceiverID == "" {
		ctl.sendJSON(c, protocol.Error{Type: protocol.TypeError, Error: "bad_payload"})
		return
	}
	ctl.Relay.ForwardSDP(uid, c, p)
}

func (ctl *SignalWSController) handleCandidate(uid domain.UserID, _ *wsSignalConn, data []byte) {
	var p protocol.Candidate
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		return
	}
	if p.ReceiverID == "" {
		return
	}
	ctl.Relay.ForwardCandidate(uid, p)
}
