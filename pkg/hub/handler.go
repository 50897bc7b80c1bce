package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"marketchat/pkg/config"
	"marketchat/pkg/logging"
	"marketchat/pkg/protocol"
	"marketchat/pkg/rooms"
	"marketchat/pkg/users"
)

const maxMessageLen = 10000

// Upgrader abstracts the websocket upgrade so tests can inject a failing or
// recording double.
type Upgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (*websocket.Conn, error)
}

// Handler owns the websocket endpoint and routes inbound protocol events.
type Handler struct {
	manager  *ConnectionManager
	rooms    rooms.RoomRepository
	users    users.UserRepository
	unread   *rooms.UnreadCounter
	cfg      config.WebSocketConfig
	logger   zerolog.Logger
	upgrader Upgrader
}

func NewHandler(manager *ConnectionManager, roomRepo rooms.RoomRepository, userRepo users.UserRepository, unread *rooms.UnreadCounter, cfg config.WebSocketConfig) *Handler {
	return &Handler{
		manager: manager,
		rooms:   roomRepo,
		users:   userRepo,
		unread:  unread,
		cfg:     cfg,
		logger:  logging.L(),
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin policy is enforced by the CORS layer in front.
				return true
			},
		},
	}
}

// SetUpgrader injects a websocket upgrader, used by tests.
func (h *Handler) SetUpgrader(u Upgrader) {
	h.upgrader = u
}

// HandleWebSocketGin validates user_id from the query, resolves the profile
// and upgrades to a websocket session.
func (h *Handler) HandleWebSocketGin(c *gin.Context) {
	uid := c.Query("user_id")
	if _, err := uuid.Parse(uid); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id, must be UUID"})
		return
	}

	profile, err := h.users.GetUserByUUID(c.Request.Context(), uid)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := h.manager.AddClient(protocol.User{ID: profile.UUID, Name: profile.Name, AvatarURL: profile.AvatarURL}, conn)
	h.logger.Info().Str("user_id", client.UserID).Msg("user connected")

	go h.readLoop(client)
	go h.writeLoop(client)

	// Session ack first, then the presence broadcast everyone gets.
	h.send(client, protocol.EventConnected, protocol.ConnectedPayload{UserID: client.UserID})
	h.broadcastOnlineUsers()
}

func (h *Handler) readLoop(client *Client) {
	defer func() {
		h.manager.RemoveClient(client)
		client.Conn.Close()
		h.logger.Info().Str("user_id", client.UserID).Msg("user disconnected")
		h.broadcastOnlineUsers()
	}()

	client.Conn.SetReadLimit(h.cfg.MaxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		return nil
	})

	for {
		select {
		case <-client.Done:
			return
		default:
		}

		var env protocol.Envelope
		if err := client.Conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("user_id", client.UserID).Msg("websocket read failed")
			}
			return
		}
		h.route(client, env)
	}
}

func (h *Handler) writeLoop(client *Client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-client.Done:
			return

		case env, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteJSON(env); err != nil {
				h.logger.Warn().Err(err).Str("user_id", client.UserID).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) route(client *Client, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventJoinRoom:
		h.handleJoinRoom(client, env.Data)
	case protocol.EventSendMessage:
		h.handleSendMessage(client, env.Data)
	case protocol.EventEditMessage:
		h.handleEditMessage(client, env.Data)
	case protocol.EventDeleteMessage:
		h.handleDeleteMessage(client, env.Data)
	case protocol.EventMarkRead:
		h.handleMarkRead(client, env.Data)
	case protocol.EventTyping:
		h.handleTyping(client, env.Data)
	default:
		h.sendError(client, "unknown event: "+env.Event)
	}
}

func (h *Handler) handleJoinRoom(client *Client, data json.RawMessage) {
	var p protocol.JoinRoomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChatRoomID == "" {
		h.sendError(client, "invalid join_room payload")
		return
	}

	ctx, cancel := h.opCtx()
	defer cancel()

	room, err := h.rooms.GetRoomByUUID(ctx, p.ChatRoomID)
	if err != nil {
		h.sendError(client, "chat room not found")
		return
	}
	if _, ok := room.Counterpart(client.UserID); !ok {
		h.sendError(client, "not a participant of this room")
		return
	}

	h.manager.JoinRoom(client.UserID, room.ChatRoomID)
}

func (h *Handler) handleSendMessage(client *Client, data json.RawMessage) {
	var p protocol.SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(client, "invalid send_message payload")
		return
	}
	if err := validateSend(p, client.UserID); err != nil {
		h.sendError(client, err.Error())
		return
	}

	ctx, cancel := h.opCtx()
	defer cancel()

	room, err := h.rooms.GetOrCreateRoom(ctx, uuid.New().String(), client.UserID, p.ReceiverID)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", client.UserID).Msg("room resolution failed")
		h.sendError(client, "failed to resolve chat room")
		return
	}

	msg := protocol.Message{
		ID:       uuid.New().String(),
		User:     client.Profile,
		Message:  p.Message,
		Images:   p.Images,
		Location: p.Location,
		ReplyTo:  p.ReplyTo,
		Product:  p.Product,
	}

	saved, err := h.rooms.SaveMessage(ctx, room.ChatRoomID, msg)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", client.UserID).Msg("message insert failed")
		h.sendError(client, "failed to persist message")
		return
	}

	// The sender only sees the message via this echo; the client never
	// inserts optimistically.
	h.send(client, protocol.EventMessageSent, saved)
	h.sendToUser(room.ChatRoomID, p.ReceiverID, protocol.EventChatRoomUpdated, room)

	if h.manager.IsOnline(p.ReceiverID) {
		h.sendToUser(room.ChatRoomID, p.ReceiverID, protocol.EventNewMessage, saved)

		deliveredAt := time.Now().Unix()
		if err := h.rooms.MarkDelivered(ctx, saved.ID, deliveredAt); err != nil {
			h.logger.Warn().Err(err).Str("message_id", saved.ID).Msg("delivery stamp failed")
		} else {
			receipt := protocol.DeliveredPayload{MessageID: saved.ID, DeliveredAt: deliveredAt}
			h.send(client, protocol.EventMessageDelivered, receipt)
		}
	}

	// Badge the receiver unless they are looking at this room right now.
	if !h.manager.InRoom(p.ReceiverID, room.ChatRoomID) {
		if err := h.unread.Incr(ctx, room.ChatRoomID, p.ReceiverID); err != nil {
			h.logger.Warn().Err(err).Str("chat_room_id", room.ChatRoomID).Msg("unread increment failed")
		}
	}
}

func (h *Handler) handleEditMessage(client *Client, data json.RawMessage) {
	var p protocol.EditMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChatRoomID == "" || p.MessageID == "" {
		h.sendError(client, "invalid edit_message payload")
		return
	}
	if p.Message == "" {
		h.sendError(client, "message content cannot be empty")
		return
	}

	ctx, cancel := h.opCtx()
	defer cancel()

	if err := h.rooms.UpdateMessage(ctx, p.ChatRoomID, p.MessageID, client.UserID, p.Message); err != nil {
		h.sendError(client, "failed to edit message")
		return
	}

	receipt := protocol.EditedPayload{MessageID: p.MessageID, Message: p.Message}
	h.sendToRoom(ctx, p.ChatRoomID, protocol.EventMessageEdited, receipt)
}

func (h *Handler) handleDeleteMessage(client *Client, data json.RawMessage) {
	var p protocol.DeleteMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChatRoomID == "" || p.MessageID == "" {
		h.sendError(client, "invalid delete_message payload")
		return
	}

	ctx, cancel := h.opCtx()
	defer cancel()

	if err := h.rooms.DeleteMessage(ctx, p.ChatRoomID, p.MessageID, client.UserID); err != nil {
		h.sendError(client, "failed to delete message")
		return
	}

	h.sendToRoom(ctx, p.ChatRoomID, protocol.EventMessageDeleted, protocol.DeletedPayload{MessageID: p.MessageID})
}

func (h *Handler) handleMarkRead(client *Client, data json.RawMessage) {
	var p protocol.MarkReadPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChatRoomID == "" {
		h.sendError(client, "invalid mark_read payload")
		return
	}

	ctx, cancel := h.opCtx()
	defer cancel()

	if err := h.rooms.MarkRoomRead(ctx, p.ChatRoomID, client.UserID); err != nil {
		h.sendError(client, "failed to mark messages read")
		return
	}
	if err := h.unread.Reset(ctx, p.ChatRoomID, client.UserID); err != nil {
		h.logger.Warn().Err(err).Str("chat_room_id", p.ChatRoomID).Msg("unread reset failed")
	}

	h.sendToRoom(ctx, p.ChatRoomID, protocol.EventMessagesRead, protocol.MessagesReadPayload{
		ChatRoomID: p.ChatRoomID,
		ReadBy:     client.UserID,
	})
}

func (h *Handler) handleTyping(client *Client, data json.RawMessage) {
	var p protocol.TypingPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChatRoomID == "" {
		h.sendError(client, "invalid typing payload")
		return
	}

	ctx, cancel := h.opCtx()
	defer cancel()

	room, err := h.rooms.GetRoomByUUID(ctx, p.ChatRoomID)
	if err != nil {
		return
	}
	other, ok := room.Counterpart(client.UserID)
	if !ok {
		return
	}

	h.sendToUser(p.ChatRoomID, other.ID, protocol.EventUserTyping, protocol.TypingSignal{
		IsTyping: p.IsTyping,
		UserID:   client.UserID,
	})
}

func validateSend(p protocol.SendMessagePayload, senderID string) error {
	if p.ReceiverID == "" {
		return errReceiverRequired
	}
	if p.ReceiverID == senderID {
		return errSelfMessage
	}
	if p.Message == "" && len(p.Images) == 0 && p.Location == nil {
		return errEmptyMessage
	}
	if len(p.Message) > maxMessageLen {
		return errMessageTooLong
	}
	return nil
}

// sendToRoom fans an event out to both participants of a room.
func (h *Handler) sendToRoom(ctx context.Context, roomUUID, event string, payload any) {
	room, err := h.rooms.GetRoomByUUID(ctx, roomUUID)
	if err != nil {
		return
	}
	for _, user := range []protocol.User{room.User1, room.User2} {
		h.sendToUser(roomUUID, user.ID, event, payload)
	}
}

func (h *Handler) sendToUser(roomUUID, userID, event string, payload any) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("encode envelope")
		return
	}
	if err := h.manager.SendToUser(userID, env); err != nil {
		h.logger.Debug().Err(err).Str("event", event).Str("chat_room_id", roomUUID).Msg("not delivered")
	}
}

func (h *Handler) send(client *Client, event string, payload any) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("encode envelope")
		return
	}
	select {
	case client.Send <- env:
	case <-client.Done:
	}
}

func (h *Handler) sendError(client *Client, msg string) {
	h.send(client, protocol.EventError, protocol.ErrorPayload{Message: msg})
}

func (h *Handler) broadcastOnlineUsers() {
	env, err := protocol.NewEnvelope(protocol.EventOnlineUsers, protocol.OnlineUsersPayload{
		UserIDs: h.manager.GetOnlineUsers(),
	})
	if err != nil {
		return
	}
	h.manager.Broadcast(env)
}

func (h *Handler) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
