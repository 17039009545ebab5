package core

// Frame is a raw signaling payload, already marshaled.
type Frame []byte

// ConnID identifies one live transport connection. It changes on every
// reconnect, unlike domain.UserID which is stable.
type ConnID string

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
