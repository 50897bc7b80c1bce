package hub

import (
	"testing"

	"github.com/stretchr/testify/require"

	"marketchat/pkg/protocol"
)

func TestConnectionManager_AddAndRemove(t *testing.T) {
	cm := NewConnectionManager()

	client := cm.AddClient(protocol.User{ID: "u1", Name: "One"}, nil)
	require.True(t, cm.IsOnline("u1"))
	require.Equal(t, []string{"u1"}, cm.GetOnlineUsers())

	cm.RemoveClient(client)
	require.False(t, cm.IsOnline("u1"))
}

// TestConnectionManager_ReconnectReplacesConnection: a second connect for the
// same user supersedes the first, and removing the stale client afterwards
// must not evict the new one.
func TestConnectionManager_ReconnectReplacesConnection(t *testing.T) {
	cm := NewConnectionManager()

	first := cm.AddClient(protocol.User{ID: "u1"}, nil)
	second := cm.AddClient(protocol.User{ID: "u1"}, nil)

	select {
	case <-first.Done:
	default:
		t.Fatal("replaced connection must be signalled done")
	}

	cm.RemoveClient(first)
	require.True(t, cm.IsOnline("u1"), "stale removal must not evict the new connection")

	cm.RemoveClient(second)
	require.False(t, cm.IsOnline("u1"))
}

func TestConnectionManager_JoinRoomTracking(t *testing.T) {
	cm := NewConnectionManager()
	cm.AddClient(protocol.User{ID: "u1"}, nil)

	require.False(t, cm.InRoom("u1", "room-1"))
	cm.JoinRoom("u1", "room-1")
	require.True(t, cm.InRoom("u1", "room-1"))

	// A reconnect starts with no joined rooms.
	client := cm.AddClient(protocol.User{ID: "u1"}, nil)
	require.False(t, cm.InRoom("u1", "room-1"))

	cm.RemoveClient(client)
	require.False(t, cm.InRoom("u1", "room-1"))
}

func TestConnectionManager_SendToUser(t *testing.T) {
	cm := NewConnectionManager()
	client := cm.AddClient(protocol.User{ID: "u1"}, nil)

	env := protocol.Envelope{Event: protocol.EventUserTyping}
	require.NoError(t, cm.SendToUser("u1", env))
	require.Error(t, cm.SendToUser("ghost", env))

	got := <-client.Send
	require.Equal(t, protocol.EventUserTyping, got.Event)
}

func TestConnectionManager_Broadcast(t *testing.T) {
	cm := NewConnectionManager()
	a := cm.AddClient(protocol.User{ID: "u1"}, nil)
	b := cm.AddClient(protocol.User{ID: "u2"}, nil)

	cm.Broadcast(protocol.Envelope{Event: protocol.EventOnlineUsers})

	require.Equal(t, protocol.EventOnlineUsers, (<-a.Send).Event)
	require.Equal(t, protocol.EventOnlineUsers, (<-b.Send).Event)
}
