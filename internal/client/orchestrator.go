// Package client implements the per-participant call orchestrator: it
// owns local media, one peer connection and the local call state, reacts
// to relayed signaling events and exposes a small observer surface to
// the UI.
package client

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/protocol"
)

type State int

const (
	StateIdle State = iota
	StateDialing
	StateRinging
	StateConnecting
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDialing:
		return "dialing"
	case StateRinging:
		return "ringing"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	}
	return "unknown"
}

// CallInfo is the orchestrator's view of the current call.
type CallInfo struct {
	CallID   string
	PeerID   string
	PeerName string
	Kind     domain.CallKind
}

// Events is the only integration surface the UI gets. One observer per
// orchestrator instance; concurrent UI surfaces each get their own
// orchestrator instead of overwriting shared callbacks.
type Events interface {
	IncomingCall(info CallInfo)
	Connected(info CallInfo)
	RemoteTrack(track *webrtc.TrackRemote)
	Ended(reason string)
	Failed(reason string)
}

// PeerConn is the negotiation surface of one peer connection. Implemented
// by rtc.WebRTCConnection; faked in tests.
type PeerConn interface {
	CreateOfferAndSet() (webrtc.SessionDescription, error)
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) error
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnected(func())
	OnClosed(func())
	Close()
}

// Signaler sends this side's messages to the relay.
type Signaler interface {
	SendInitiate(receiverID string, kind domain.CallKind) error
	SendAccept(callerID string) error
	SendDecline(callerID string) error
	SendEnd(peerID string) error
	SendSDP(p protocol.SDP) error
	SendCandidate(p protocol.Candidate) error
}

type Orchestrator struct {
	signaler Signaler
	media    MediaSource
	events   Events
	newPeer  func() (PeerConn, error)

	mu        sync.Mutex
	state     State
	call      CallInfo
	pc        PeerConn
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func NewOrchestrator(sig Signaler, media MediaSource, events Events, newPeer func() (PeerConn, error)) *Orchestrator {
	return &Orchestrator{
		signaler: sig,
		media:    media,
		events:   events,
		newPeer:  newPeer,
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Call() CallInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.call
}

// InitiateCall starts dialing peerID. It reports false instead of
// returning an error across the UI boundary: media denial and transport
// failures both surface through Events.Failed. Any previous call is torn
// down first; only one peer connection exists per orchestrator.
func (o *Orchestrator) InitiateCall(peerID string, kind domain.CallKind) bool {
	if o.State() != StateIdle {
		o.EndCall()
	}

	pc, ok := o.setupPeer(kind)
	if !ok {
		return false
	}

	o.mu.Lock()
	o.state = StateDialing
	o.call = CallInfo{PeerID: peerID, Kind: kind}
	o.pc = pc
	o.mu.Unlock()

	if err := o.signaler.SendInitiate(peerID, kind); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("send initiate")
		o.fail("signaling")
		return false
	}
	return true
}

// Accept answers the ringing call. It mirrors the caller's setup: local
// media plus a fresh peer connection, then accept_call over the relay.
func (o *Orchestrator) Accept() bool {
	o.mu.Lock()
	if o.state != StateRinging {
		o.mu.Unlock()
		return false
	}
	callerID := o.call.PeerID
	kind := o.call.Kind
	o.mu.Unlock()

	pc, ok := o.setupPeer(kind)
	if !ok {
		// The caller should not ring forever against a dead receiver.
		_ = o.signaler.SendDecline(callerID)
		o.reset()
		return false
	}

	o.mu.Lock()
	o.state = StateConnecting
	o.pc = pc
	o.mu.Unlock()

	if err := o.signaler.SendAccept(callerID); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("send accept")
		o.fail("signaling")
		return false
	}
	return true
}

// Decline refuses the ringing call without ever opening media.
func (o *Orchestrator) Decline() {
	o.mu.Lock()
	if o.state != StateRinging {
		o.mu.Unlock()
		return
	}
	callerID := o.call.PeerID
	o.call = CallInfo{}
	o.state = StateIdle
	o.mu.Unlock()

	if err := o.signaler.SendDecline(callerID); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("send decline")
	}
}

// EndCall hangs up. Safe to call from any trigger and any state; only
// the first effective teardown notifies the peer and emits Ended.
func (o *Orchestrator) EndCall() {
	info, ok := o.teardown()
	if !ok {
		return
	}
	if err := o.signaler.SendEnd(info.PeerID); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("send end")
	}
	o.events.Ended(string(domain.ReasonHangup))
}

// setupPeer acquires media, builds a peer connection and attaches the
// local tracks. All the suspension points live here, before any state is
// published.
func (o *Orchestrator) setupPeer(kind domain.CallKind) (PeerConn, bool) {
	tracks, err := o.media.Acquire(kind)
	if err != nil {
		log.Error().Err(err).Str("module", "client").Msg("media acquire")
		o.events.Failed("media")
		return nil, false
	}

	pc, err := o.newPeer()
	if err != nil {
		log.Error().Err(err).Str("module", "client").Msg("new peer connection")
		o.media.Release()
		o.events.Failed("webrtc")
		return nil, false
	}

	for _, t := range tracks {
		if err := pc.AddTrack(t); err != nil {
			log.Error().Err(err).Str("module", "client").Msg("add track")
			pc.Close()
			o.media.Release()
			o.events.Failed("webrtc")
			return nil, false
		}
	}

	pc.OnICECandidate(o.sendLocalCandidate)
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		o.events.RemoteTrack(track)
	})
	pc.OnConnected(o.onICEConnected)
	pc.OnClosed(o.onPeerClosed)
	return pc, true
}

func (o *Orchestrator) sendLocalCandidate(ci webrtc.ICECandidateInit) {
	o.mu.Lock()
	peer := o.call.PeerID
	o.mu.Unlock()
	if peer == "" {
		return
	}
	p := protocol.Candidate{
		Type:       protocol.TypeCandidate,
		ReceiverID: peer,
		Candidate:  ci.Candidate,
	}
	if ci.SDPMid != nil {
		p.SDPMid = *ci.SDPMid
	}
	p.SDPMLineIndex = ci.SDPMLineIndex
	if err := o.signaler.SendCandidate(p); err != nil {
		// Candidate loss is tolerable; ICE will work with what arrives.
		log.Debug().Err(err).Str("module", "client").Msg("send candidate")
	}
}

// onICEConnected flips the call active. Signaling only sets up the
// possibility of connecting; the UI hears "connected" when media is live.
func (o *Orchestrator) onICEConnected() {
	o.mu.Lock()
	if o.state != StateConnecting {
		o.mu.Unlock()
		return
	}
	o.state = StateActive
	info := o.call
	o.mu.Unlock()
	o.events.Connected(info)
}

func (o *Orchestrator) onPeerClosed() {
	o.mu.Lock()
	active := o.state == StateConnecting || o.state == StateActive
	o.mu.Unlock()
	if !active {
		return
	}
	info, ok := o.teardown()
	if !ok {
		return
	}
	_ = o.signaler.SendEnd(info.PeerID)
	o.events.Failed("connection-lost")
}

// HandleIncomingCall surfaces ring state for a relayed incoming_call.
func (o *Orchestrator) HandleIncomingCall(p protocol.IncomingCall) {
	kind, err := domain.ParseCallKind(p.Kind)
	if err != nil {
		kind = domain.CallAudio
	}
	o.mu.Lock()
	if o.state != StateIdle {
		// The server's busy guard makes this unreachable in practice.
		o.mu.Unlock()
		log.Warn().Str("module", "client").Str("call", p.CallID).Msg("incoming call while not idle, ignored")
		return
	}
	o.state = StateRinging
	o.call = CallInfo{CallID: p.CallID, PeerID: p.CallerID, PeerName: p.CallerName, Kind: kind}
	info := o.call
	o.mu.Unlock()
	o.events.IncomingCall(info)
}

// HandleCallAccepted runs on the caller: the receiver picked up, so the
// caller transitions to connecting and opens negotiation with an offer.
func (o *Orchestrator) HandleCallAccepted(p protocol.CallAccepted) {
	o.mu.Lock()
	if o.state != StateDialing || o.pc == nil {
		o.mu.Unlock()
		return
	}
	o.state = StateConnecting
	o.call.CallID = p.CallID
	pc := o.pc
	peer := o.call.PeerID
	o.mu.Unlock()

	offer, err := pc.CreateOfferAndSet()
	if err != nil {
		log.Error().Err(err).Str("module", "client").Msg("create offer")
		o.fail("negotiation")
		return
	}
	if err := o.signaler.SendSDP(protocol.SDP{
		Type:       protocol.TypeOffer,
		ReceiverID: peer,
		SDP:        offer.SDP,
	}); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("send offer")
		o.fail("signaling")
	}
}

// HandleCallConnected runs on the receiver once the server flipped the
// record active. The state machine stays in connecting until ICE is up.
func (o *Orchestrator) HandleCallConnected(p protocol.CallConnected) {
	o.mu.Lock()
	if o.state == StateConnecting {
		o.call.CallID = p.CallID
	}
	o.mu.Unlock()
}

// HandleOffer runs on the receiver: apply the remote description, flush
// any queued candidates, answer back.
func (o *Orchestrator) HandleOffer(p protocol.SDP) {
	o.mu.Lock()
	pc := o.pc
	o.mu.Unlock()
	if pc == nil {
		log.Warn().Str("module", "client").Msg("offer without peer connection, dropped")
		return
	}

	answer, err := pc.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  p.SDP,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "client").Msg("apply offer")
		o.fail("negotiation")
		return
	}
	o.flushPending(pc)

	if err := o.signaler.SendSDP(protocol.SDP{
		Type:       protocol.TypeAnswer,
		ReceiverID: p.SenderID,
		SDP:        answer.SDP,
	}); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("send answer")
		o.fail("signaling")
	}
}

// HandleAnswer runs on the caller: apply the remote description and
// flush queued candidates.
func (o *Orchestrator) HandleAnswer(p protocol.SDP) {
	o.mu.Lock()
	pc := o.pc
	o.mu.Unlock()
	if pc == nil {
		log.Warn().Str("module", "client").Msg("answer without peer connection, dropped")
		return
	}
	if err := pc.ApplyAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  p.SDP,
	}); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("apply answer")
		o.fail("negotiation")
		return
	}
	o.flushPending(pc)
}

// HandleCandidate applies a relayed candidate, or queues it when the
// remote description is not in place yet. Applying early is an error in
// the underlying stack and must never be attempted.
func (o *Orchestrator) HandleCandidate(p protocol.Candidate) {
	ci := webrtc.ICECandidateInit{Candidate: p.Candidate}
	if p.SDPMid != "" {
		mid := p.SDPMid
		ci.SDPMid = &mid
	}
	// An absent sdpMLineIndex stays nil; forcing index 0 would mislead
	// the underlying stack about which media section the candidate is for.
	if p.SDPMLineIndex != nil {
		idx := *p.SDPMLineIndex
		ci.SDPMLineIndex = &idx
	}

	o.mu.Lock()
	if o.pc == nil {
		o.mu.Unlock()
		return
	}
	if !o.remoteSet {
		o.pending = append(o.pending, ci)
		o.mu.Unlock()
		return
	}
	pc := o.pc
	o.mu.Unlock()

	if err := pc.AddICECandidate(ci); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("add candidate")
	}
}

// flushPending marks the remote description applied and replays queued
// candidates in arrival order.
func (o *Orchestrator) flushPending(pc PeerConn) {
	o.mu.Lock()
	o.remoteSet = true
	queued := o.pending
	o.pending = nil
	o.mu.Unlock()

	for _, ci := range queued {
		if err := pc.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("flush candidate")
		}
	}
}

// HandleCallDeclined runs on the caller when the receiver refused.
func (o *Orchestrator) HandleCallDeclined(p protocol.CallDeclined) {
	if _, ok := o.teardown(); ok {
		o.events.Ended(string(domain.ReasonDeclined))
	}
}

// HandleCallEnded tears down for a remote hangup, disconnect or timeout.
func (o *Orchestrator) HandleCallEnded(p protocol.CallEnded) {
	if _, ok := o.teardown(); ok {
		o.events.Ended(p.Reason)
	}
}

// HandleCallFailed surfaces a relay-reported failure (busy, not-found,
// undeliverable description).
func (o *Orchestrator) HandleCallFailed(p protocol.CallFailed) {
	o.teardown()
	o.events.Failed(p.Reason)
}

func (o *Orchestrator) fail(reason string) {
	if _, ok := o.teardown(); ok {
		o.events.Failed(reason)
	}
}

// teardown releases media, closes the peer connection and resets all
// call state. Idempotent: only the first caller since the last call
// gets ok=true, so no path double-emits or touches a closed connection.
func (o *Orchestrator) teardown() (CallInfo, bool) {
	o.mu.Lock()
	if o.state == StateIdle {
		o.mu.Unlock()
		return CallInfo{}, false
	}
	info := o.call
	pc := o.pc
	o.pc = nil
	o.remoteSet = false
	o.pending = nil
	o.call = CallInfo{}
	o.state = StateIdle
	o.mu.Unlock()

	if pc != nil {
		pc.Close()
	}
	o.media.Release()
	return info, true
}

// reset clears ringing state without media teardown (nothing was opened).
func (o *Orchestrator) reset() {
	o.mu.Lock()
	o.call = CallInfo{}
	o.state = StateIdle
	o.mu.Unlock()
}
