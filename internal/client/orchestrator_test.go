package client

import (
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/protocol"
)

type fakeSignaler struct {
	mu         sync.Mutex
	initiates  []string
	accepts    []string
	declines   []string
	ends       []string
	sdps       []protocol.SDP
	candidates []protocol.Candidate
}

func (s *fakeSignaler) SendInitiate(receiverID string, kind domain.CallKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initiates = append(s.initiates, receiverID)
	return nil
}
func (s *fakeSignaler) SendAccept(callerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepts = append(s.accepts, callerID)
	return nil
}
func (s *fakeSignaler) SendDecline(callerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.declines = append(s.declines, callerID)
	return nil
}
func (s *fakeSignaler) SendEnd(peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends = append(s.ends, peerID)
	return nil
}
func (s *fakeSignaler) SendSDP(p protocol.SDP) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sdps = append(s.sdps, p)
	return nil
}
func (s *fakeSignaler) SendCandidate(p protocol.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, p)
	return nil
}

type fakeMedia struct {
	failAcquire bool
	acquired    int
	released    int
}

func (m *fakeMedia) Acquire(kind domain.CallKind) ([]webrtc.TrackLocal, error) {
	if m.failAcquire {
		return nil, errors.New("device denied")
	}
	m.acquired++
	return nil, nil
}

func (m *fakeMedia) Release() { m.released++ }

type fakeEvents struct {
	mu        sync.Mutex
	incoming  []CallInfo
	connected []CallInfo
	ended     []string
	failed    []string
}

func (e *fakeEvents) IncomingCall(info CallInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.incoming = append(e.incoming, info)
}
func (e *fakeEvents) Connected(info CallInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = append(e.connected, info)
}
func (e *fakeEvents) RemoteTrack(track *webrtc.TrackRemote) {}
func (e *fakeEvents) Ended(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ended = append(e.ended, reason)
}
func (e *fakeEvents) Failed(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed = append(e.failed, reason)
}

type fakePeer struct {
	mu          sync.Mutex
	applied     []string // order of AddICECandidate calls
	inits       []webrtc.ICECandidateInit
	remoteDesc  string
	closed      int
	onConnected func()
	onClosed    func()
}

func (p *fakePeer) CreateOfferAndSet() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}
func (p *fakePeer) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteDesc = offer.SDP
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}
func (p *fakePeer) ApplyAnswer(answer webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteDesc = answer.SDP
	return nil
}
func (p *fakePeer) AddICECandidate(ci webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteDesc == "" {
		return errors.New("remote description not set")
	}
	p.applied = append(p.applied, ci.Candidate)
	p.inits = append(p.inits, ci)
	return nil
}
func (p *fakePeer) AddTrack(track webrtc.TrackLocal) error { return nil }

func (p *fakePeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {}

func (p *fakePeer) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (p *fakePeer) OnConnected(fn func()) { p.onConnected = fn }

func (p *fakePeer) OnClosed(fn func()) { p.onClosed = fn }
func (p *fakePeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
}

type rig struct {
	orch   *Orchestrator
	sig    *fakeSignaler
	media  *fakeMedia
	events *fakeEvents
	peer   *fakePeer
}

func newRig() *rig {
	r := &rig{
		sig:    &fakeSignaler{},
		media:  &fakeMedia{},
		events: &fakeEvents{},
		peer:   &fakePeer{},
	}
	r.orch = NewOrchestrator(r.sig, r.media, r.events, func() (PeerConn, error) {
		return r.peer, nil
	})
	return r
}

func TestInitiateCallHappyPath(t *testing.T) {
	r := newRig()

	ok := r.orch.InitiateCall("bob", domain.CallAudio)
	require.True(t, ok)
	assert.Equal(t, StateDialing, r.orch.State())
	assert.Equal(t, []string{"bob"}, r.sig.initiates)
	assert.Equal(t, 1, r.media.acquired)
}

func TestInitiateCallMediaDenied(t *testing.T) {
	r := newRig()
	r.media.failAcquire = true

	ok := r.orch.InitiateCall("bob", domain.CallVideo)
	assert.False(t, ok)
	assert.Equal(t, StateIdle, r.orch.State())
	assert.Empty(t, r.sig.initiates)
	assert.Equal(t, []string{"media"}, r.events.failed)
}

func TestCallerNegotiationFlow(t *testing.T) {
	r := newRig()
	require.True(t, r.orch.InitiateCall("bob", domain.CallAudio))

	r.orch.HandleCallAccepted(protocol.CallAccepted{Type: protocol.TypeCallAccepted, CallID: "c1", ReceiverID: "bob"})

	assert.Equal(t, StateConnecting, r.orch.State())
	require.Len(t, r.sig.sdps, 1)
	assert.Equal(t, protocol.TypeOffer, r.sig.sdps[0].Type)
	assert.Equal(t, "bob", r.sig.sdps[0].ReceiverID)

	r.orch.HandleAnswer(protocol.SDP{Type: protocol.TypeAnswer, SenderID: "bob", SDP: "answer-sdp"})
	assert.Equal(t, "answer-sdp", r.peer.remoteDesc)

	// Connecting flips to active only when ICE reports connected.
	assert.Equal(t, StateConnecting, r.orch.State())
	r.peer.onConnected()
	assert.Equal(t, StateActive, r.orch.State())
	require.Len(t, r.events.connected, 1)
	assert.Equal(t, "c1", r.events.connected[0].CallID)
}

func TestReceiverAcceptFlow(t *testing.T) {
	r := newRig()

	r.orch.HandleIncomingCall(protocol.IncomingCall{
		Type: protocol.TypeIncomingCall, CallID: "c1", CallerID: "alice", CallerName: "Alice", Kind: "video",
	})
	assert.Equal(t, StateRinging, r.orch.State())
	require.Len(t, r.events.incoming, 1)
	assert.Equal(t, "alice", r.events.incoming[0].PeerID)

	require.True(t, r.orch.Accept())
	assert.Equal(t, StateConnecting, r.orch.State())
	assert.Equal(t, []string{"alice"}, r.sig.accepts)

	r.orch.HandleOffer(protocol.SDP{Type: protocol.TypeOffer, SenderID: "alice", SDP: "offer-sdp"})
	require.Len(t, r.sig.sdps, 1)
	assert.Equal(t, protocol.TypeAnswer, r.sig.sdps[0].Type)
	assert.Equal(t, "alice", r.sig.sdps[0].ReceiverID)
}

func TestDeclineNeverOpensMedia(t *testing.T) {
	r := newRig()
	r.orch.HandleIncomingCall(protocol.IncomingCall{Type: protocol.TypeIncomingCall, CallID: "c1", CallerID: "alice", Kind: "audio"})

	r.orch.Decline()

	assert.Equal(t, StateIdle, r.orch.State())
	assert.Equal(t, []string{"alice"}, r.sig.declines)
	assert.Zero(t, r.media.acquired)
}

// TestCandidateQueueFlushOrder is the ordering round-trip: candidates
// arriving before the remote description queue up and are applied in
// original arrival order right after the description lands.
func TestCandidateQueueFlushOrder(t *testing.T) {
	r := newRig()
	require.True(t, r.orch.InitiateCall("bob", domain.CallAudio))
	r.orch.HandleCallAccepted(protocol.CallAccepted{Type: protocol.TypeCallAccepted, CallID: "c1"})

	for _, c := range []string{"C1", "C2", "C3"} {
		r.orch.HandleCandidate(protocol.Candidate{Type: protocol.TypeCandidate, SenderID: "bob", Candidate: c})
	}
	assert.Empty(t, r.peer.applied, "no candidate may be applied before the remote description")

	r.orch.HandleAnswer(protocol.SDP{Type: protocol.TypeAnswer, SenderID: "bob", SDP: "answer-sdp"})
	assert.Equal(t, []string{"C1", "C2", "C3"}, r.peer.applied)

	// Late candidates now apply directly.
	r.orch.HandleCandidate(protocol.Candidate{Type: protocol.TypeCandidate, SenderID: "bob", Candidate: "C4"})
	assert.Equal(t, []string{"C1", "C2", "C3", "C4"}, r.peer.applied)
}

func TestCandidateLineIndexPassthrough(t *testing.T) {
	r := newRig()
	require.True(t, r.orch.InitiateCall("bob", domain.CallAudio))
	r.orch.HandleCallAccepted(protocol.CallAccepted{Type: protocol.TypeCallAccepted, CallID: "c1"})
	r.orch.HandleAnswer(protocol.SDP{Type: protocol.TypeAnswer, SenderID: "bob", SDP: "answer-sdp"})

	idx := uint16(1)
	r.orch.HandleCandidate(protocol.Candidate{Type: protocol.TypeCandidate, SenderID: "bob", Candidate: "C-indexed", SDPMLineIndex: &idx})
	r.orch.HandleCandidate(protocol.Candidate{Type: protocol.TypeCandidate, SenderID: "bob", Candidate: "C-bare"})

	require.Len(t, r.peer.inits, 2)
	require.NotNil(t, r.peer.inits[0].SDPMLineIndex)
	assert.Equal(t, uint16(1), *r.peer.inits[0].SDPMLineIndex)
	assert.Nil(t, r.peer.inits[1].SDPMLineIndex, "omitted sdpMLineIndex must stay unspecified")
}

func TestTeardownIsIdempotent(t *testing.T) {
	r := newRig()
	require.True(t, r.orch.InitiateCall("bob", domain.CallAudio))
	r.orch.HandleCallAccepted(protocol.CallAccepted{Type: protocol.TypeCallAccepted, CallID: "c1"})

	r.orch.EndCall()
	r.orch.EndCall()
	r.orch.HandleCallEnded(protocol.CallEnded{Type: protocol.TypeCallEnded, Reason: "hangup"})

	assert.Equal(t, 1, r.peer.closed, "peer connection closed exactly once")
	assert.Equal(t, []string{"bob"}, r.sig.ends, "end_call emitted exactly once")
	assert.Equal(t, []string{"hangup"}, r.events.ended, "Ended emitted exactly once")
	assert.Equal(t, 1, r.media.released)
	assert.Equal(t, StateIdle, r.orch.State())
}

func TestRemoteHangupTearsDown(t *testing.T) {
	r := newRig()
	require.True(t, r.orch.InitiateCall("bob", domain.CallAudio))

	r.orch.HandleCallEnded(protocol.CallEnded{Type: protocol.TypeCallEnded, CallID: "c1", Reason: "disconnected"})

	assert.Equal(t, StateIdle, r.orch.State())
	assert.Equal(t, []string{"disconnected"}, r.events.ended)
	assert.Equal(t, 1, r.peer.closed)
	// A remote-triggered teardown must not echo end_call back.
	assert.Empty(t, r.sig.ends)
}

func TestCallFailedBusy(t *testing.T) {
	r := newRig()
	require.True(t, r.orch.InitiateCall("bob", domain.CallAudio))

	r.orch.HandleCallFailed(protocol.CallFailed{Type: protocol.TypeCallFailed, Reason: "busy"})

	assert.Equal(t, StateIdle, r.orch.State())
	assert.Equal(t, []string{"busy"}, r.events.failed)
}

func TestNewCallTearsDownPrevious(t *testing.T) {
	r := newRig()
	require.True(t, r.orch.InitiateCall("bob", domain.CallAudio))
	first := r.peer

	r.peer = &fakePeer{}
	require.True(t, r.orch.InitiateCall("carol", domain.CallAudio))

	assert.Equal(t, 1, first.closed, "previous peer connection torn down")
	assert.Equal(t, []string{"bob", "carol"}, r.sig.initiates)
	assert.Equal(t, "carol", r.orch.Call().PeerID)
}

func TestIncomingWhileBusyIgnored(t *testing.T) {
	r := newRig()
	require.True(t, r.orch.InitiateCall("bob", domain.CallAudio))

	r.orch.HandleIncomingCall(protocol.IncomingCall{Type: protocol.TypeIncomingCall, CallID: "c2", CallerID: "carol", Kind: "audio"})

	assert.Equal(t, StateDialing, r.orch.State())
	assert.Equal(t, "bob", r.orch.Call().PeerID)
	assert.Empty(t, r.events.incoming)
}

func TestAcceptWithDeniedMediaDeclines(t *testing.T) {
	r := newRig()
	r.orch.HandleIncomingCall(protocol.IncomingCall{Type: protocol.TypeIncomingCall, CallID: "c1", CallerID: "alice", Kind: "audio"})
	r.media.failAcquire = true

	assert.False(t, r.orch.Accept())
	assert.Equal(t, StateIdle, r.orch.State())
	assert.Equal(t, []string{"alice"}, r.sig.declines, "caller must not ring forever")
	assert.Equal(t, []string{"media"}, r.events.failed)
}
