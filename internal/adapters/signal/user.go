package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/protocol"
)

// handleAddUser attaches an already-authenticated identity to this
// connection. Re-adding from a new connection replaces the old one, which
// is how reconnects work.
func (ctl *SignalWSController) handleAddUser(c *wsSignalConn, data []byte) {
	var p protocol.AddUser
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad add_user payload")
		ctl.sendJSON(c, protocol.Error{Type: protocol.TypeError, Error: "bad_payload"})
		return
	}
	if p.ID == "" || len(p.ID) > domain.MaxUserIDLen {
		ctl.sendJSON(c, protocol.Error{Type: protocol.TypeError, Error: "invalid_user_id"})
		return
	}

	user := &domain.User{ID: domain.UserID(p.ID), Avatar: p.Avatar}
	if err := user.SetUsername(p.Username); err != nil {
		ctl.sendJSON(c, protocol.Error{Type: protocol.TypeError, Error: "invalid_username"})
		return
	}
	c.bindUser(user.ID)
	ctl.Ctrl.AddUser(user, c.id, c)
	log.Info().Str("module", "signal").Str("conn", string(c.id)).Str("user", p.ID).Msg("user added")
}
