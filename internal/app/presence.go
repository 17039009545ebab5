package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
)

type presenceEntry struct {
	User       *domain.User
	ConnID     core.ConnID
	Conn       core.SignalConnection
	AttachedAt time.Time
}

// Presence maps a stable user identity to its current live connection.
// A user holds at most one connection; registering again replaces the old
// one, which covers reconnects.
type Presence struct {
	mu     sync.RWMutex
	byUser map[domain.UserID]*presenceEntry
	byConn map[core.ConnID]domain.UserID
}

func NewPresence() *Presence {
	return &Presence{
		byUser: make(map[domain.UserID]*presenceEntry),
		byConn: make(map[core.ConnID]domain.UserID),
	}
}

// Register upserts the user's live connection. The previous connection, if
// any, is returned so the adapter can close it.
func (p *Presence) Register(user *domain.User, cid core.ConnID, conn core.SignalConnection) (replaced core.SignalConnection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.byUser[user.ID]; ok {
		delete(p.byConn, old.ConnID)
		replaced = old.Conn
	}
	p.byUser[user.ID] = &presenceEntry{
		User:       user,
		ConnID:     cid,
		Conn:       conn,
		AttachedAt: time.Now(),
	}
	p.byConn[cid] = user.ID
	log.Info().Str("module", "app.presence").Str("user", string(user.ID)).Str("conn", string(cid)).Msg("registered")
	return replaced
}

// Resolve returns the live connection for a user. Absence is the normal
// "peer offline" signal, not an error.
func (p *Presence) Resolve(uid domain.UserID) (core.SignalConnection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.byUser[uid]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

// UserOfConn maps a connection back to its user, if still current.
func (p *Presence) UserOfConn(cid core.ConnID) (domain.UserID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	uid, ok := p.byConn[cid]
	return uid, ok
}

// Unregister removes the entry whose current connection is cid. A stale
// cid (already replaced by a reconnect) is a no-op, so a late disconnect
// never deletes the fresh entry.
func (p *Presence) Unregister(cid core.ConnID) (domain.UserID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	uid, ok := p.byConn[cid]
	if !ok {
		return "", false
	}
	e := p.byUser[uid]
	if e == nil || e.ConnID != cid {
		delete(p.byConn, cid)
		return "", false
	}
	delete(p.byConn, cid)
	delete(p.byUser, uid)
	log.Info().Str("module", "app.presence").Str("user", string(uid)).Str("conn", string(cid)).Msg("unregistered")
	return uid, true
}

// lookupUser returns a copy of the registered user's metadata.
func (p *Presence) lookupUser(uid domain.UserID) (domain.User, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.byUser[uid]
	if !ok {
		return domain.User{}, false
	}
	return *e.User, true
}

// Snapshot returns the current user list for presence broadcasts.
func (p *Presence) Snapshot() []domain.User {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.User, 0, len(p.byUser))
	for _, e := range p.byUser {
		out = append(out, *e.User)
	}
	return out
}

// Each calls fn for every live connection. Used for the cheap full-list
// presence broadcast; the population is assumed small.
func (p *Presence) Each(fn func(domain.UserID, core.SignalConnection)) {
	p.mu.RLock()
	snap := make(map[domain.UserID]core.SignalConnection, len(p.byUser))
	for uid, e := range p.byUser {
		snap[uid] = e.Conn
	}
	p.mu.RUnlock()
	for uid, conn := range snap {
		fn(uid, conn)
	}
}
