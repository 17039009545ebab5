package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dial/internal/protocol"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *wsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump drives the whole connection lifecycle: when the read loop
// exits for any reason the connection is unregistered, which also tears
// down any call the user was in.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *wsSignalConn) {
	defer func() {
		ev := log.Info().Str("module", "signal").Str("conn", string(c.id))
		if uid, ok := ctl.Ctrl.Presence.UserOfConn(c.id); ok {
			ev = ev.Str("user", string(uid))
		}
		ev.Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Ctrl.Disconnect(c.id)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("readPump read error")
				}
				return
			}
			ctl.handleFrame(c, data)
		}
	}
}

func (ctl *SignalWSController) handleFrame(c *wsSignalConn, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	if env.Type == protocol.TypeAddUser {
		ctl.handleAddUser(c, data)
		return
	}

	// Everything below needs a bound identity.
	uid, ok := c.boundUser()
	if !ok {
		ctl.sendJSON(c, protocol.Error{Type: protocol.TypeError, Error: "add_user first"})
		return
	}

	switch env.Type {
	case protocol.TypeInitiateCall:
		ctl.handleInitiate(uid, c, data)
	case protocol.TypeAcceptCall:
		ctl.handleAccept(uid, c, data)
	case protocol.TypeDeclineCall:
		ctl.handleDecline(uid, c, data)
	case protocol.TypeEndCall:
		ctl.handleEnd(uid, c, data)
	case protocol.TypeOffer, protocol.TypeAnswer:
		ctl.handleSDP(uid, c, data)
	case protocol.TypeCandidate:
		ctl.handleCandidate(uid, c, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) sendJSON(c *wsSignalConn, v any) {
	_ = c.TrySend(protocol.Marshal(v))
}
