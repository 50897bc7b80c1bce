package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"marketchat/pkg/config"
	"marketchat/pkg/protocol"
	"marketchat/pkg/rooms"
	"marketchat/pkg/users"
)

const (
	senderUUID   = "11111111-1111-1111-1111-111111111111"
	receiverUUID = "22222222-2222-2222-2222-222222222222"
	roomUUID     = "33333333-3333-3333-3333-333333333333"
)

// fakeRoomRepo is a lightweight RoomRepository double recording what the
// handler asked for.
type fakeRoomRepo struct {
	mu        sync.Mutex
	room      protocol.ChatRoom
	roomErr   error
	saveErr   error
	saved     []protocol.Message
	delivered []string
	updates   int
	deletes   int
	reads     int
	updateErr error
	deleteErr error
}

func (f *fakeRoomRepo) GetOrCreateRoom(ctx context.Context, roomUUID, userUUID, otherUUID string) (protocol.ChatRoom, error) {
	return f.room, f.roomErr
}

func (f *fakeRoomRepo) GetRoomByUUID(ctx context.Context, roomUUID string) (protocol.ChatRoom, error) {
	if f.roomErr != nil {
		return protocol.ChatRoom{}, f.roomErr
	}
	return f.room, nil
}

func (f *fakeRoomRepo) ListRoomsForUser(ctx context.Context, userUUID string) ([]protocol.RoomSummary, error) {
	return nil, nil
}

func (f *fakeRoomRepo) GetRoomMessages(ctx context.Context, roomUUID string) ([]protocol.Message, error) {
	return nil, nil
}

func (f *fakeRoomRepo) SaveMessage(ctx context.Context, roomUUID string, msg protocol.Message) (protocol.Message, error) {
	if f.saveErr != nil {
		return protocol.Message{}, f.saveErr
	}
	msg.ChatRoomID = roomUUID
	msg.CreatedAt = time.Now()
	f.mu.Lock()
	f.saved = append(f.saved, msg)
	f.mu.Unlock()
	return msg, nil
}

func (f *fakeRoomRepo) UpdateMessage(ctx context.Context, roomUUID, messageUUID, editorUUID, content string) error {
	f.mu.Lock()
	f.updates++
	f.mu.Unlock()
	return f.updateErr
}

func (f *fakeRoomRepo) DeleteMessage(ctx context.Context, roomUUID, messageUUID, requesterUUID string) error {
	f.mu.Lock()
	f.deletes++
	f.mu.Unlock()
	return f.deleteErr
}

func (f *fakeRoomRepo) MarkDelivered(ctx context.Context, messageUUID string, deliveredAt int64) error {
	f.mu.Lock()
	f.delivered = append(f.delivered, messageUUID)
	f.mu.Unlock()
	return nil
}

func (f *fakeRoomRepo) MarkRoomRead(ctx context.Context, roomUUID, readerUUID string) error {
	f.mu.Lock()
	f.reads++
	f.mu.Unlock()
	return nil
}

func (f *fakeRoomRepo) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakeUserRepo struct {
	missing bool
}

func (f *fakeUserRepo) CreateUser(ctx context.Context, input users.User) (users.User, error) {
	return input, nil
}

func (f *fakeUserRepo) GetUserByUUID(ctx context.Context, uuid string) (users.User, error) {
	if f.missing {
		return users.User{}, users.ErrUserNotFound
	}
	return users.User{UUID: uuid, Name: "Test User"}, nil
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 65536,
	}
}

func testPairRoom() protocol.ChatRoom {
	return protocol.ChatRoom{
		ChatRoomID: roomUUID,
		User1:      protocol.User{ID: senderUUID, Name: "Sender"},
		User2:      protocol.User{ID: receiverUUID, Name: "Receiver"},
	}
}

func newTestHandler(repo *fakeRoomRepo) (*Handler, *ConnectionManager) {
	manager := NewConnectionManager()
	h := NewHandler(manager, repo, &fakeUserRepo{}, nil, testWSConfig())
	return h, manager
}

func recv(t *testing.T, client *Client) protocol.Envelope {
	t.Helper()
	select {
	case env := <-client.Send:
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return protocol.Envelope{}
	}
}

func requireNoEnvelope(t *testing.T, client *Client) {
	t.Helper()
	select {
	case env := <-client.Send:
		t.Fatalf("unexpected envelope %q", env.Event)
	default:
	}
}

func mustRaw(t *testing.T, payload any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return raw
}

// TestValidateSend covers the send_message payload rules.
func TestValidateSend(t *testing.T) {
	tests := []struct {
		name    string
		payload protocol.SendMessagePayload
		wantErr error
	}{
		{"missing receiver", protocol.SendMessagePayload{Message: "hi"}, errReceiverRequired},
		{"self message", protocol.SendMessagePayload{ReceiverID: senderUUID, Message: "hi"}, errSelfMessage},
		{"no content", protocol.SendMessagePayload{ReceiverID: receiverUUID}, errEmptyMessage},
		{"text only", protocol.SendMessagePayload{ReceiverID: receiverUUID, Message: "hi"}, nil},
		{"images only", protocol.SendMessagePayload{ReceiverID: receiverUUID, Images: []string{"a.jpg"}}, nil},
		{"location only", protocol.SendMessagePayload{ReceiverID: receiverUUID, Location: &protocol.Location{}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSend(tt.payload, senderUUID)
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

// TestHandleSendMessage_OnlineReceiver: the sender gets the echo plus a
// delivery receipt, the receiver gets the room update and the message.
func TestHandleSendMessage_OnlineReceiver(t *testing.T) {
	repo := &fakeRoomRepo{room: testPairRoom()}
	h, manager := newTestHandler(repo)

	sender := manager.AddClient(protocol.User{ID: senderUUID, Name: "Sender"}, nil)
	receiver := manager.AddClient(protocol.User{ID: receiverUUID, Name: "Receiver"}, nil)

	h.handleSendMessage(sender, mustRaw(t, protocol.SendMessagePayload{
		SenderID:   senderUUID,
		ReceiverID: receiverUUID,
		Message:    "hi there",
	}))

	echo := recv(t, sender)
	require.Equal(t, protocol.EventMessageSent, echo.Event)
	var sent protocol.Message
	require.NoError(t, json.Unmarshal(echo.Data, &sent))
	require.Equal(t, "hi there", sent.Message)
	require.Equal(t, roomUUID, sent.ChatRoomID)
	require.Equal(t, senderUUID, sent.User.ID)

	receipt := recv(t, sender)
	require.Equal(t, protocol.EventMessageDelivered, receipt.Event)
	var delivered protocol.DeliveredPayload
	require.NoError(t, json.Unmarshal(receipt.Data, &delivered))
	require.Equal(t, sent.ID, delivered.MessageID)

	require.Equal(t, protocol.EventChatRoomUpdated, recv(t, receiver).Event)
	incoming := recv(t, receiver)
	require.Equal(t, protocol.EventNewMessage, incoming.Event)

	require.Equal(t, 1, repo.savedCount())
	require.Equal(t, []string{sent.ID}, repo.delivered)
}

// TestHandleSendMessage_OfflineReceiver: no delivery receipt and no forward,
// the message is still persisted.
func TestHandleSendMessage_OfflineReceiver(t *testing.T) {
	repo := &fakeRoomRepo{room: testPairRoom()}
	h, manager := newTestHandler(repo)

	sender := manager.AddClient(protocol.User{ID: senderUUID}, nil)

	h.handleSendMessage(sender, mustRaw(t, protocol.SendMessagePayload{
		SenderID:   senderUUID,
		ReceiverID: receiverUUID,
		Message:    "are you there?",
	}))

	require.Equal(t, protocol.EventMessageSent, recv(t, sender).Event)
	requireNoEnvelope(t, sender)
	require.Equal(t, 1, repo.savedCount())
	require.Empty(t, repo.delivered)
}

// TestHandleSendMessage_SelfRejected: nothing persists, the sender gets an
// error envelope.
func TestHandleSendMessage_SelfRejected(t *testing.T) {
	repo := &fakeRoomRepo{room: testPairRoom()}
	h, manager := newTestHandler(repo)

	sender := manager.AddClient(protocol.User{ID: senderUUID}, nil)

	h.handleSendMessage(sender, mustRaw(t, protocol.SendMessagePayload{
		SenderID:   senderUUID,
		ReceiverID: senderUUID,
		Message:    "self",
	}))

	env := recv(t, sender)
	require.Equal(t, protocol.EventError, env.Event)
	require.Zero(t, repo.savedCount())
}

// TestHandleSendMessage_SaveError: a failed insert produces an error envelope
// and no forward to the receiver.
func TestHandleSendMessage_SaveError(t *testing.T) {
	repo := &fakeRoomRepo{room: testPairRoom(), saveErr: errors.New("db down")}
	h, manager := newTestHandler(repo)

	sender := manager.AddClient(protocol.User{ID: senderUUID}, nil)
	receiver := manager.AddClient(protocol.User{ID: receiverUUID}, nil)

	h.handleSendMessage(sender, mustRaw(t, protocol.SendMessagePayload{
		SenderID:   senderUUID,
		ReceiverID: receiverUUID,
		Message:    "hi",
	}))

	require.Equal(t, protocol.EventError, recv(t, sender).Event)
	requireNoEnvelope(t, receiver)
}

// TestHandleJoinRoom verifies membership is recorded for participants and
// rejected for outsiders.
func TestHandleJoinRoom(t *testing.T) {
	repo := &fakeRoomRepo{room: testPairRoom()}
	h, manager := newTestHandler(repo)

	member := manager.AddClient(protocol.User{ID: senderUUID}, nil)
	h.handleJoinRoom(member, mustRaw(t, protocol.JoinRoomPayload{ChatRoomID: roomUUID}))
	require.True(t, manager.InRoom(senderUUID, roomUUID))
	requireNoEnvelope(t, member)

	outsider := manager.AddClient(protocol.User{ID: "99999999-9999-9999-9999-999999999999"}, nil)
	h.handleJoinRoom(outsider, mustRaw(t, protocol.JoinRoomPayload{ChatRoomID: roomUUID}))
	require.False(t, manager.InRoom(outsider.UserID, roomUUID))
	require.Equal(t, protocol.EventError, recv(t, outsider).Event)
}

// TestHandleEditMessage fans the edit receipt out to both participants.
func TestHandleEditMessage(t *testing.T) {
	repo := &fakeRoomRepo{room: testPairRoom()}
	h, manager := newTestHandler(repo)

	sender := manager.AddClient(protocol.User{ID: senderUUID}, nil)
	receiver := manager.AddClient(protocol.User{ID: receiverUUID}, nil)

	h.handleEditMessage(sender, mustRaw(t, protocol.EditMessagePayload{
		ChatRoomID: roomUUID,
		MessageID:  "m1",
		Message:    "fixed",
	}))

	for _, c := range []*Client{sender, receiver} {
		env := recv(t, c)
		require.Equal(t, protocol.EventMessageEdited, env.Event)
		var p protocol.EditedPayload
		require.NoError(t, json.Unmarshal(env.Data, &p))
		require.Equal(t, "m1", p.MessageID)
		require.Equal(t, "fixed", p.Message)
	}
	require.Equal(t, 1, repo.updates)
}

// TestHandleDeleteMessage fans the delete receipt out to both participants.
func TestHandleDeleteMessage(t *testing.T) {
	repo := &fakeRoomRepo{room: testPairRoom()}
	h, manager := newTestHandler(repo)

	sender := manager.AddClient(protocol.User{ID: senderUUID}, nil)
	receiver := manager.AddClient(protocol.User{ID: receiverUUID}, nil)

	h.handleDeleteMessage(sender, mustRaw(t, protocol.DeleteMessagePayload{
		ChatRoomID: roomUUID,
		MessageID:  "m1",
	}))

	for _, c := range []*Client{sender, receiver} {
		env := recv(t, c)
		require.Equal(t, protocol.EventMessageDeleted, env.Event)
	}
	require.Equal(t, 1, repo.deletes)
}

// TestHandleDeleteMessage_NotAuthor: the repo refuses and only an error comes
// back.
func TestHandleDeleteMessage_NotAuthor(t *testing.T) {
	repo := &fakeRoomRepo{room: testPairRoom(), deleteErr: rooms.ErrMessageNotFound}
	h, manager := newTestHandler(repo)

	sender := manager.AddClient(protocol.User{ID: senderUUID}, nil)
	receiver := manager.AddClient(protocol.User{ID: receiverUUID}, nil)

	h.handleDeleteMessage(sender, mustRaw(t, protocol.DeleteMessagePayload{
		ChatRoomID: roomUUID,
		MessageID:  "m1",
	}))

	require.Equal(t, protocol.EventError, recv(t, sender).Event)
	requireNoEnvelope(t, receiver)
}

// TestHandleMarkRead relays messages_read to both sides of the room.
func TestHandleMarkRead(t *testing.T) {
	repo := &fakeRoomRepo{room: testPairRoom()}
	h, manager := newTestHandler(repo)

	reader := manager.AddClient(protocol.User{ID: senderUUID}, nil)
	counterpart := manager.AddClient(protocol.User{ID: receiverUUID}, nil)

	h.handleMarkRead(reader, mustRaw(t, protocol.MarkReadPayload{ChatRoomID: roomUUID}))

	for _, c := range []*Client{reader, counterpart} {
		env := recv(t, c)
		require.Equal(t, protocol.EventMessagesRead, env.Event)
		var p protocol.MessagesReadPayload
		require.NoError(t, json.Unmarshal(env.Data, &p))
		require.Equal(t, senderUUID, p.ReadBy)
	}
	require.Equal(t, 1, repo.reads)
}

// TestHandleTyping relays the signal to the counterpart only.
func TestHandleTyping(t *testing.T) {
	repo := &fakeRoomRepo{room: testPairRoom()}
	h, manager := newTestHandler(repo)

	typist := manager.AddClient(protocol.User{ID: senderUUID}, nil)
	counterpart := manager.AddClient(protocol.User{ID: receiverUUID}, nil)

	h.handleTyping(typist, mustRaw(t, protocol.TypingPayload{
		ChatRoomID: roomUUID,
		IsTyping:   true,
	}))

	env := recv(t, counterpart)
	require.Equal(t, protocol.EventUserTyping, env.Event)
	var sig protocol.TypingSignal
	require.NoError(t, json.Unmarshal(env.Data, &sig))
	require.True(t, sig.IsTyping)
	require.Equal(t, senderUUID, sig.UserID)

	requireNoEnvelope(t, typist)
}

// TestRoute_UnknownEvent answers with an error envelope.
func TestRoute_UnknownEvent(t *testing.T) {
	repo := &fakeRoomRepo{room: testPairRoom()}
	h, manager := newTestHandler(repo)

	client := manager.AddClient(protocol.User{ID: senderUUID}, nil)
	h.route(client, protocol.Envelope{Event: "leave_room"})

	require.Equal(t, protocol.EventError, recv(t, client).Event)
}

// mockUpgrader lets tests assert the handler used the injected upgrader.
type mockUpgrader struct{ called bool }

func (m *mockUpgrader) Upgrade(w http.ResponseWriter, r *http.Request, _ http.Header) (*websocket.Conn, error) {
	m.called = true
	return nil, errors.New("upgrade failed (test)")
}

func setupWSRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws/chat", h.HandleWebSocketGin)
	return r
}

func TestHandleWebSocketGin_InvalidUserID(t *testing.T) {
	h, manager := newTestHandler(&fakeRoomRepo{})
	r := setupWSRouter(h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws/chat?user_id=nope", nil))

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, manager.GetOnlineUsers())
}

func TestHandleWebSocketGin_UnknownUser(t *testing.T) {
	manager := NewConnectionManager()
	h := NewHandler(manager, &fakeRoomRepo{}, &fakeUserRepo{missing: true}, nil, testWSConfig())
	r := setupWSRouter(h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws/chat?user_id="+senderUUID, nil))

	require.Equal(t, http.StatusNotFound, w.Code)
	require.Empty(t, manager.GetOnlineUsers())
}

func TestHandleWebSocketGin_UsesInjectedUpgrader(t *testing.T) {
	h, manager := newTestHandler(&fakeRoomRepo{})
	mu := &mockUpgrader{}
	h.SetUpgrader(mu)
	r := setupWSRouter(h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws/chat?user_id="+senderUUID, nil))

	require.True(t, mu.called, "expected upgrader to be called")
	require.False(t, manager.IsOnline(senderUUID), "user should not be online after failed upgrade")
}
