package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/protocol"
)

// WSClient is the signaling channel: one websocket to the relay. It
// implements Signaler for the orchestrator and dispatches relayed events
// back into it.
type WSClient struct {
	conn *websocket.Conn
	orch *Orchestrator

	writeMu sync.Mutex

	// OnUsers receives every presence-list broadcast, if set.
	OnUsers func([]domain.User)
}

// Dial connects to the relay at url (ws://host/api/ws/signal) and
// announces the given identity with add_user.
func Dial(ctx context.Context, url string, user domain.User) (*WSClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling server: %w", err)
	}
	c := &WSClient{conn: conn}
	if err := c.writeJSON(protocol.AddUser{
		Type:     protocol.TypeAddUser,
		ID:       string(user.ID),
		Username: user.Username,
		Avatar:   user.Avatar,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("announce user: %w", err)
	}
	return c, nil
}

// Bind attaches the orchestrator and starts the read loop. The loop ends
// when the connection drops or ctx is canceled; either way the
// orchestrator is torn down so no call outlives its signaling channel.
func (c *WSClient) Bind(ctx context.Context, orch *Orchestrator) {
	c.orch = orch
	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()
	go c.readLoop()
}

func (c *WSClient) Close() error {
	return c.conn.Close()
}

func (c *WSClient) readLoop() {
	defer func() {
		log.Info().Str("module", "client.ws").Msg("signaling channel closed")
		if _, ok := c.orch.teardown(); ok {
			c.orch.events.Failed("signaling-lost")
		}
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "client.ws").Msg("read error")
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *WSClient) dispatch(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "client.ws").Msg("bad json")
		return
	}

	switch env.Type {
	case protocol.TypeUsers:
		var p protocol.Users
		if json.Unmarshal(data, &p) == nil && c.OnUsers != nil {
			c.OnUsers(p.Users)
		}
	case protocol.TypeUserAdded:
		// Confirmation only; nothing to drive.
	case protocol.TypeIncomingCall:
		var p protocol.IncomingCall
		if json.Unmarshal(data, &p) == nil {
			c.orch.HandleIncomingCall(p)
		}
	case protocol.TypeCallAccepted:
		var p protocol.CallAccepted
		if json.Unmarshal(data, &p) == nil {
			c.orch.HandleCallAccepted(p)
		}
	case protocol.TypeCallConnected:
		var p protocol.CallConnected
		if json.Unmarshal(data, &p) == nil {
			c.orch.HandleCallConnected(p)
		}
	case protocol.TypeCallDeclined:
		var p protocol.CallDeclined
		if json.Unmarshal(data, &p) == nil {
			c.orch.HandleCallDeclined(p)
		}
	case protocol.TypeCallEnded:
		var p protocol.CallEnded
		if json.Unmarshal(data, &p) == nil {
			c.orch.HandleCallEnded(p)
		}
	case protocol.TypeCallFailed:
		var p protocol.CallFailed
		if json.Unmarshal(data, &p) == nil {
			c.orch.HandleCallFailed(p)
		}
	case protocol.TypeOffer:
		var p protocol.SDP
		if json.Unmarshal(data, &p) == nil {
			c.orch.HandleOffer(p)
		}
	case protocol.TypeAnswer:
		var p protocol.SDP
		if json.Unmarshal(data, &p) == nil {
			c.orch.HandleAnswer(p)
		}
	case protocol.TypeCandidate:
		var p protocol.Candidate
		if json.Unmarshal(data, &p) == nil {
			c.orch.HandleCandidate(p)
		}
	case protocol.TypeError:
		var p protocol.Error
		if json.Unmarshal(data, &p) == nil {
			log.Warn().Str("module", "client.ws").Str("error", p.Error).Msg("server error")
		}
	default:
		log.Warn().Str("module", "client.ws").Str("type", env.Type).Msg("unknown message")
	}
}

func (c *WSClient) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, protocol.Marshal(v))
}

func (c *WSClient) SendInitiate(receiverID string, kind domain.CallKind) error {
	return c.writeJSON(protocol.InitiateCall{Type: protocol.TypeInitiateCall, ReceiverID: receiverID, Kind: string(kind)})
}

func (c *WSClient) SendAccept(callerID string) error {
	return c.writeJSON(protocol.AcceptCall{Type: protocol.TypeAcceptCall, CallerID: callerID})
}

func (c *WSClient) SendDecline(callerID string) error {
	return c.writeJSON(protocol.DeclineCall{Type: protocol.TypeDeclineCall, CallerID: callerID})
}

func (c *WSClient) SendEnd(peerID string) error {
	return c.writeJSON(protocol.EndCall{Type: protocol.TypeEndCall, PeerID: peerID})
}

func (c *WSClient) SendSDP(p protocol.SDP) error {
	return c.writeJSON(p)
}

func (c *WSClient) SendCandidate(p protocol.Candidate) error {
	return c.writeJSON(p)
}
