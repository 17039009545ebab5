package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dial/internal/domain"
)

// CallRegistry holds every live call, keyed by both parties. Both keys
// point at the same *domain.Call, and both are always inserted and removed
// together. All check-then-act sequences happen under one lock so the
// busy guard cannot race with record creation.
type CallRegistry struct {
	mu     sync.Mutex
	byUser map[domain.UserID]*domain.Call
}

func NewCallRegistry() *CallRegistry {
	return &CallRegistry{byUser: make(map[domain.UserID]*domain.Call)}
}

// Start creates a ringing record for the pair. It fails with ErrBusy if
// either party already has a live record; the busy check and the insert
// are one critical section.
func (r *CallRegistry) Start(caller, receiver domain.UserID, kind domain.CallKind) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.byUser[receiver]; busy {
		return nil, domain.ErrBusy
	}
	if _, busy := r.byUser[caller]; busy {
		return nil, domain.ErrBusy
	}
	call := domain.NewCall(caller, receiver, kind)
	r.byUser[caller] = call
	r.byUser[receiver] = call
	log.Info().Str("module", "app.calls").Str("call", string(call.ID)).
		Str("caller", string(caller)).Str("receiver", string(receiver)).Str("kind", string(kind)).
		Msg("call ringing")
	return call, nil
}

// ForUser returns the live record the user is party to, if any.
func (r *CallRegistry) ForUser(uid domain.UserID) (*domain.Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byUser[uid]
	return c, ok
}

// ForPair returns the record if the two users are in a call together.
func (r *CallRegistry) ForPair(a, b domain.UserID) (*domain.Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byUser[a]
	if !ok || !c.Involves(b) {
		return nil, false
	}
	return c, true
}

// Accept flips the pair's record from ringing to active. The returned
// bool is false when the record is already active, which lets the caller
// absorb a duplicate accept without re-emitting notifications.
func (r *CallRegistry) Accept(caller, receiver domain.UserID) (*domain.Call, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byUser[caller]
	if !ok || !c.Involves(receiver) {
		return nil, false, domain.ErrNoCall
	}
	if c.Status != domain.CallRinging {
		return c, false, nil
	}
	c.Status = domain.CallActive
	c.AnsweredAt = time.Now()
	log.Info().Str("module", "app.calls").Str("call", string(c.ID)).Msg("call active")
	return c, true, nil
}

// Remove terminates the record and drops it from both keys. It returns
// false if the record was already gone, keeping teardown idempotent
// across hangup, decline, timeout and disconnect triggers.
func (r *CallRegistry) Remove(c *domain.Call, status domain.CallStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byUser[c.CallerID]
	if !ok || cur != c {
		return false
	}
	c.Status = status
	c.EndedAt = time.Now()
	delete(r.byUser, c.CallerID)
	delete(r.byUser, c.ReceiverID)
	log.Info().Str("module", "app.calls").Str("call", string(c.ID)).Str("status", string(status)).Msg("call removed")
	return true
}

// RemoveIfRinging terminates the record only while it still rings. The
// status check shares the critical section with the delete, so a ring
// timer that lost the race to an accept finds the record active and
// leaves it alone.
func (r *CallRegistry) RemoveIfRinging(c *domain.Call) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byUser[c.CallerID]
	if !ok || cur != c || c.Status != domain.CallRinging {
		return false
	}
	c.Status = domain.CallFailed
	c.EndedAt = time.Now()
	delete(r.byUser, c.CallerID)
	delete(r.byUser, c.ReceiverID)
	log.Info().Str("module", "app.calls").Str("call", string(c.ID)).Msg("ringing call removed")
	return true
}

// Len reports the number of users with a live record (two per call).
func (r *CallRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}
