package app

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/protocol"
)

// Controller owns the call lifecycle: it is the only writer of the call
// registry and the only component that emits lifecycle messages. The
// signal adapter parses frames and calls in; the controller resolves
// peers through presence and pushes frames out.
type Controller struct {
	Presence *Presence
	Calls    *CallRegistry
	Recorder OutcomeRecorder

	// RingTimeout bounds how long a call may stay ringing. Zero disables
	// the timer and a call rings until answered, declined or disconnected.
	RingTimeout time.Duration

	timerMu sync.Mutex
	timers  map[domain.CallID]*time.Timer
}

func NewController(p *Presence, calls *CallRegistry, rec OutcomeRecorder, ringTimeout time.Duration) *Controller {
	if rec == nil {
		rec = LogRecorder{}
	}
	return &Controller{
		Presence:    p,
		Calls:       calls,
		Recorder:    rec,
		RingTimeout: ringTimeout,
		timers:      make(map[domain.CallID]*time.Timer),
	}
}

func (c *Controller) send(conn core.SignalConnection, v any) {
	if err := conn.TrySend(protocol.Marshal(v)); err != nil {
		log.Warn().Err(err).Str("module", "app.controller").Msg("send dropped")
	}
}

// BroadcastUsers pushes the full presence list to every live connection.
func (c *Controller) BroadcastUsers() {
	frame := protocol.Marshal(protocol.Users{Type: protocol.TypeUsers, Users: c.Presence.Snapshot()})
	c.Presence.Each(func(uid domain.UserID, conn core.SignalConnection) {
		if err := conn.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.controller").Str("user", string(uid)).Msg("users broadcast dropped")
		}
	})
}

// AddUser attaches the user to its new connection, closes a replaced one,
// confirms to the connection and broadcasts the updated presence list.
func (c *Controller) AddUser(user *domain.User, cid core.ConnID, conn core.SignalConnection) {
	if replaced := c.Presence.Register(user, cid, conn); replaced != nil {
		replaced.Close()
	}
	c.send(conn, protocol.UserAdded{Type: protocol.TypeUserAdded, User: *user})
	c.BroadcastUsers()
}

// Initiate handles initiate_call from the caller's connection. Failures
// go back to the caller only; success rings the receiver.
func (c *Controller) Initiate(caller domain.UserID, callerConn core.SignalConnection, receiverID domain.UserID, kind domain.CallKind) {
	receiverConn, ok := c.Presence.Resolve(receiverID)
	if !ok {
		c.send(callerConn, protocol.CallFailed{Type: protocol.TypeCallFailed, Reason: string(domain.ReasonNotFound)})
		return
	}

	call, err := c.Calls.Start(caller, receiverID, kind)
	if err != nil {
		if errors.Is(err, domain.ErrBusy) {
			c.send(callerConn, protocol.CallFailed{Type: protocol.TypeCallFailed, Reason: string(domain.ReasonBusy)})
			return
		}
		c.send(callerConn, protocol.CallFailed{Type: protocol.TypeCallFailed, Reason: "internal"})
		return
	}

	callerUser := domain.User{ID: caller}
	if u, ok := c.Presence.lookupUser(caller); ok {
		callerUser = u
	}

	c.send(receiverConn, protocol.IncomingCall{
		Type:         protocol.TypeIncomingCall,
		CallID:       string(call.ID),
		CallerID:     string(caller),
		CallerName:   callerUser.Username,
		CallerAvatar: callerUser.Avatar,
		Kind:         string(kind),
	})
	c.armRingTimer(call)
}

// Accept handles accept_call from the receiver. A duplicate accept for an
// already-active call is absorbed without re-emitting call_accepted,
// which would make the caller renegotiate against a live session.
func (c *Controller) Accept(receiver domain.UserID, receiverConn core.SignalConnection, callerID domain.UserID) {
	call, flipped, err := c.Calls.Accept(callerID, receiver)
	if err != nil {
		c.send(receiverConn, protocol.CallFailed{Type: protocol.TypeCallFailed, Reason: string(domain.ReasonNotFound)})
		return
	}
	if !flipped {
		log.Debug().Str("module", "app.controller").Str("call", string(call.ID)).Msg("duplicate accept absorbed")
		return
	}
	c.cancelRingTimer(call.ID)

	if callerConn, ok := c.Presence.Resolve(callerID); ok {
		c.send(callerConn, protocol.CallAccepted{
			Type:       protocol.TypeCallAccepted,
			CallID:     string(call.ID),
			ReceiverID: string(receiver),
		})
	}
	c.send(receiverConn, protocol.CallConnected{
		Type:     protocol.TypeCallConnected,
		CallID:   string(call.ID),
		CallerID: string(callerID),
	})
}

// Decline handles decline_call from the receiver of a ringing call.
func (c *Controller) Decline(receiver domain.UserID, callerID domain.UserID) {
	call, ok := c.Calls.ForPair(receiver, callerID)
	if !ok {
		return
	}
	if !c.Calls.Remove(call, domain.CallEnded) {
		return
	}
	c.cancelRingTimer(call.ID)
	if callerConn, ok := c.Presence.Resolve(callerID); ok {
		c.send(callerConn, protocol.CallDeclined{Type: protocol.TypeCallDeclined, CallID: string(call.ID)})
	}
	c.recordOutcome(call, domain.ReasonDeclined)
}

// End handles end_call from either party; the other party is notified.
func (c *Controller) End(by domain.UserID, peerID domain.UserID) {
	call, ok := c.Calls.ForPair(by, peerID)
	if !ok {
		return
	}
	if !c.Calls.Remove(call, domain.CallEnded) {
		return
	}
	c.cancelRingTimer(call.ID)
	if otherConn, ok := c.Presence.Resolve(call.Other(by)); ok {
		c.send(otherConn, protocol.CallEnded{
			Type:   protocol.TypeCallEnded,
			CallID: string(call.ID),
			Reason: string(domain.ReasonHangup),
		})
	}
	c.recordOutcome(call, domain.ReasonHangup)
}

// Disconnect handles transport loss. A stale connection id (the user
// already reconnected) touches nothing. Otherwise any live call is torn
// down as an implicit end_call and presence is re-broadcast.
func (c *Controller) Disconnect(cid core.ConnID) {
	uid, ok := c.Presence.Unregister(cid)
	if !ok {
		return
	}
	if call, ok := c.Calls.ForUser(uid); ok {
		if c.Calls.Remove(call, domain.CallEnded) {
			c.cancelRingTimer(call.ID)
			if otherConn, ok := c.Presence.Resolve(call.Other(uid)); ok {
				c.send(otherConn, protocol.CallEnded{
					Type:   protocol.TypeCallEnded,
					CallID: string(call.ID),
					Reason: string(domain.ReasonDisconnected),
				})
			}
			c.recordOutcome(call, domain.ReasonDisconnected)
		}
	}
	c.BroadcastUsers()
}

func (c *Controller) armRingTimer(call *domain.Call) {
	if c.RingTimeout <= 0 {
		return
	}
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	c.timers[call.ID] = time.AfterFunc(c.RingTimeout, func() { c.timeoutCall(call) })
}

func (c *Controller) cancelRingTimer(id domain.CallID) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
}

// timeoutCall fires when a call rang for longer than RingTimeout. The
// timer function can already be in flight when an accept cancels it, so
// the removal is conditional on the record still ringing; an active
// call is never torn down here.
func (c *Controller) timeoutCall(call *domain.Call) {
	if !c.Calls.RemoveIfRinging(call) {
		return
	}
	c.cancelRingTimer(call.ID)
	ended := protocol.CallEnded{
		Type:   protocol.TypeCallEnded,
		CallID: string(call.ID),
		Reason: string(domain.ReasonTimeout),
	}
	if conn, ok := c.Presence.Resolve(call.CallerID); ok {
		c.send(conn, ended)
	}
	if conn, ok := c.Presence.Resolve(call.ReceiverID); ok {
		c.send(conn, ended)
	}
	c.recordOutcome(call, domain.ReasonTimeout)
}

func (c *Controller) recordOutcome(call *domain.Call, reason domain.EndReason) {
	c.Recorder.RecordOutcome(domain.Outcome{
		CallID:     call.ID,
		CallerID:   call.CallerID,
		ReceiverID: call.ReceiverID,
		Kind:       call.Kind,
		Reason:     reason,
		Answered:   !call.AnsweredAt.IsZero(),
		Duration:   call.Duration(),
	})
}
