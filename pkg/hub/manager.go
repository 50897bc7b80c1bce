package hub

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"marketchat/pkg/protocol"
)

// Client represents one connected user.
type Client struct {
	UserID  string
	Profile protocol.User
	Conn    *websocket.Conn
	Send    chan protocol.Envelope
	Done    chan struct{}
}

// ConnectionManager tracks the active websocket connection per user and the
// set of rooms each connection has joined. A user gets at most one live
// connection; a second connect replaces the first.
type ConnectionManager struct {
	mu      sync.RWMutex
	clients map[string]*Client             // user uuid -> client
	rooms   map[string]map[string]struct{} // user uuid -> joined room uuids
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]struct{}),
	}
}

// AddClient registers a new client connection, disconnecting any previous
// connection for the same user.
func (cm *ConnectionManager) AddClient(profile protocol.User, conn *websocket.Conn) *Client {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if existing, ok := cm.clients[profile.ID]; ok {
		close(existing.Done)
		if existing.Conn != nil {
			existing.Conn.Close()
		}
	}

	client := &Client{
		UserID:  profile.ID,
		Profile: profile,
		Conn:    conn,
		Send:    make(chan protocol.Envelope, 32),
		Done:    make(chan struct{}),
	}

	cm.clients[profile.ID] = client
	cm.rooms[profile.ID] = make(map[string]struct{})
	return client
}

// RemoveClient unregisters a client connection. The joined-room set goes
// with it; a reconnect starts from a clean slate.
func (cm *ConnectionManager) RemoveClient(client *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	current, ok := cm.clients[client.UserID]
	if !ok || current != client {
		return // already replaced by a newer connection
	}
	close(client.Done)
	delete(cm.clients, client.UserID)
	delete(cm.rooms, client.UserID)
}

// JoinRoom records that the user's connection is subscribed to a room.
func (cm *ConnectionManager) JoinRoom(userID, roomID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if joined, ok := cm.rooms[userID]; ok {
		joined[roomID] = struct{}{}
	}
}

// InRoom reports whether the user's connection has joined the room.
func (cm *ConnectionManager) InRoom(userID, roomID string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	joined, ok := cm.rooms[userID]
	if !ok {
		return false
	}
	_, ok = joined[roomID]
	return ok
}

// IsOnline checks if a user is currently connected.
func (cm *ConnectionManager) IsOnline(userID string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	_, exists := cm.clients[userID]
	return exists
}

// GetOnlineUsers returns all connected user ids.
func (cm *ConnectionManager) GetOnlineUsers() []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	users := make([]string, 0, len(cm.clients))
	for userID := range cm.clients {
		users = append(users, userID)
	}
	return users
}

// SendToUser queues an envelope for a specific user. Returns an error if the
// user is not online or their queue is saturated.
func (cm *ConnectionManager) SendToUser(userID string, env protocol.Envelope) error {
	cm.mu.RLock()
	client, ok := cm.clients[userID]
	cm.mu.RUnlock()

	if !ok {
		return fmt.Errorf("user %s is not online", userID)
	}

	select {
	case client.Send <- env:
		return nil
	case <-client.Done:
		return fmt.Errorf("user %s disconnected", userID)
	default:
		return fmt.Errorf("user %s message queue full", userID)
	}
}

// Broadcast queues an envelope for every connected user.
func (cm *ConnectionManager) Broadcast(env protocol.Envelope) {
	cm.mu.RLock()
	clients := make([]*Client, 0, len(cm.clients))
	for _, c := range cm.clients {
		clients = append(clients, c)
	}
	cm.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.Send <- env:
		case <-client.Done:
		default:
		}
	}
}
