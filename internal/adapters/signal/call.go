package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/protocol"
)

func (ctl *SignalWSController) handleInitiate(uid domain.UserID, c *wsSignalConn, data []byte) {
	var p protocol.InitiateCall
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad initiate_call payload")
		ctl.sendJSON(c, protocol.Error{Type: protocol.TypeError, Error: "bad_payload"})
		return
	}
	kind, err := domain.ParseCallKind(p.Kind)
	if err != nil {
		ctl.sendJSON(c, protocol.Error{Type: protocol.TypeError, Error: "bad_call_kind"})
		return
	}
	if p.ReceiverID == "" || domain.UserID(p.ReceiverID) == uid {
		ctl.sendJSON(c, protocol.Error{Type: protocol.TypeError, Error: "bad_receiver"})
		return
	}
	if !ctl.limiter.Allow(uid) {
		ctl.sendJSON(c, protocol.Error{Type: protocol.TypeError, Error: "rate_limited"})
		return
	}
	ctl.Ctrl.Initiate(uid, c, domain.UserID(p.ReceiverID), kind)
}

func (ctl *SignalWSController) handleAccept(uid domain.UserID, c *wsSignalConn, data []byte) {
	var p protocol.AcceptCall
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad accept_call payload")
		return
	}
	ctl.Ctrl.Accept(uid, c, domain.UserID(p.CallerID))
}

func (ctl *SignalWSController) handleDecline(uid domain.UserID, c *wsSignalConn, data []byte) {
	var p protocol.DeclineCall
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad decline_call payload")
		return
	}
	ctl.Ctrl.Decline(uid, domain.UserID(p.CallerID))
}

func (ctl *SignalWSController) handleEnd(uid domain.UserID, c *wsSignalConn, data []byte) {
	var p protocol.EndCall
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad end_call payload")
		return
	}
	ctl.Ctrl.End(uid, domain.UserID(p.PeerID))
}
