package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketchat/pkg/protocol"
)

// TestPresenceTracker_OnlineWholesaleReplace verifies each broadcast replaces
// the previous online set instead of merging into it.
func TestPresenceTracker_OnlineWholesaleReplace(t *testing.T) {
	p := NewPresenceTracker()

	p.SetOnline([]string{"u1", "u2"})
	require.True(t, p.IsOnline("u1"))
	require.True(t, p.IsOnline("u2"))

	p.SetOnline([]string{"u2"})
	require.False(t, p.IsOnline("u1"))
	require.True(t, p.IsOnline("u2"))
	require.Equal(t, []string{"u2"}, p.Online())
}

// TestPresenceTracker_TypingStopClears covers the explicit stop signal.
func TestPresenceTracker_TypingStopClears(t *testing.T) {
	p := NewPresenceTracker()

	p.SetTyping(protocol.TypingSignal{UserID: "u1", IsTyping: true})
	require.True(t, p.IsTyping("u1"))

	p.SetTyping(protocol.TypingSignal{UserID: "u1", IsTyping: false})
	require.False(t, p.IsTyping("u1"))
}

// TestPresenceTracker_TypingExpires covers eviction when the stop signal
// never arrives. The clock is injected so no sleeping is needed.
func TestPresenceTracker_TypingExpires(t *testing.T) {
	now := time.Unix(1700000000, 0)
	p := NewPresenceTracker()
	p.now = func() time.Time { return now }

	p.SetTyping(protocol.TypingSignal{UserID: "u1", IsTyping: true})
	require.True(t, p.IsTyping("u1"))

	now = now.Add(DefaultTypingTTL - time.Second)
	require.True(t, p.IsTyping("u1"), "still inside the TTL")

	now = now.Add(2 * time.Second)
	require.False(t, p.IsTyping("u1"), "expired without a stop signal")
	require.Empty(t, p.TypingUsers())
}

// TestPresenceTracker_TypingRefresh ensures a repeated start pushes the
// deadline out.
func TestPresenceTracker_TypingRefresh(t *testing.T) {
	now := time.Unix(1700000000, 0)
	p := NewPresenceTracker()
	p.now = func() time.Time { return now }

	p.SetTyping(protocol.TypingSignal{UserID: "u1", IsTyping: true})

	now = now.Add(4 * time.Second)
	p.SetTyping(protocol.TypingSignal{UserID: "u1", IsTyping: true})

	now = now.Add(4 * time.Second)
	require.True(t, p.IsTyping("u1"), "deadline was refreshed by the second start")
}

// TestPresenceTracker_TypingIndependentPerUser keeps signals isolated per
// sender.
func TestPresenceTracker_TypingIndependentPerUser(t *testing.T) {
	p := NewPresenceTracker()

	p.SetTyping(protocol.TypingSignal{UserID: "u1", IsTyping: true})
	p.SetTyping(protocol.TypingSignal{UserID: "u2", IsTyping: true})
	p.SetTyping(protocol.TypingSignal{UserID: "u2", IsTyping: false})

	require.True(t, p.IsTyping("u1"))
	require.False(t, p.IsTyping("u2"))
}
