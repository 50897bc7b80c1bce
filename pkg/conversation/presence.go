package conversation

import (
	"sync"
	"time"

	"marketchat/pkg/protocol"
)

// DefaultTypingTTL bounds how long a typing indicator survives without a
// refresh. A "stopped typing" signal that never arrives would otherwise
// leave the indicator stuck forever.
const DefaultTypingTTL = 5 * time.Second

// PresenceTracker holds the online-user set, wholesale-replaced on each
// presence broadcast, and a per-user typing map with deadline eviction.
// Presence state is independent of message state.
type PresenceTracker struct {
	mu        sync.Mutex
	online    map[string]struct{}
	typing    map[string]time.Time // user id -> deadline
	typingTTL time.Duration
	now       func() time.Time
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		online:    make(map[string]struct{}),
		typing:    make(map[string]time.Time),
		typingTTL: DefaultTypingTTL,
		now:       time.Now,
	}
}

// SetOnline replaces the whole online set.
func (p *PresenceTracker) SetOnline(userIDs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.online = make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		p.online[id] = struct{}{}
	}
}

// IsOnline reports whether the user was in the latest presence broadcast.
func (p *PresenceTracker) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.online[userID]
	return ok
}

// Online returns the current online set.
func (p *PresenceTracker) Online() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	return out
}

// SetTyping records the latest typing signal for its user. A start refreshes
// the eviction deadline; a stop clears the entry immediately.
func (p *PresenceTracker) SetTyping(sig protocol.TypingSignal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !sig.IsTyping {
		delete(p.typing, sig.UserID)
		return
	}
	p.typing[sig.UserID] = p.now().Add(p.typingTTL)
}

// IsTyping reports whether the user has an unexpired typing signal.
func (p *PresenceTracker) IsTyping(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	deadline, ok := p.typing[userID]
	if !ok {
		return false
	}
	if p.now().After(deadline) {
		delete(p.typing, userID)
		return false
	}
	return true
}

// TypingUsers returns all users with unexpired typing signals.
func (p *PresenceTracker) TypingUsers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]string, 0, len(p.typing))
	for id, deadline := range p.typing {
		if now.After(deadline) {
			delete(p.typing, id)
			continue
		}
		out = append(out, id)
	}
	return out
}
