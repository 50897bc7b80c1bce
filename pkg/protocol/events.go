package protocol

import "encoding/json"

// Client -> server events.
const (
	EventJoinRoom      = "join_room"
	EventSendMessage   = "send_message"
	EventEditMessage   = "edit_message"
	EventDeleteMessage = "delete_message"
	EventMarkRead      = "mark_read"
	EventTyping        = "typing"
)

// Server -> client events.
const (
	EventConnected        = "connected"
	EventNewMessage       = "new_message"
	EventMessageSent      = "message_sent"
	EventMessageDelivered = "message_delivered"
	EventMessageEdited    = "message_edited"
	EventMessageDeleted   = "message_deleted"
	EventChatRoomUpdated  = "chat_room_updated"
	EventOnlineUsers      = "online_users"
	EventUserTyping       = "user_typing"
	EventMessagesRead     = "messages_read"
	EventError            = "error"
)

// Envelope is the frame every websocket message travels in.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an Envelope for the given event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// Client -> server payloads.

type JoinRoomPayload struct {
	ChatRoomID string `json:"chat_room_id"`
}

type SendMessagePayload struct {
	SenderID   string      `json:"sender_id"`
	ReceiverID string      `json:"receiver_id"`
	Message    string      `json:"message,omitempty"`
	Images     []string    `json:"images,omitempty"`
	Location   *Location   `json:"location,omitempty"`
	ReplyTo    string      `json:"reply_to,omitempty"`
	Product    *ProductRef `json:"product,omitempty"`
}

type EditMessagePayload struct {
	ChatRoomID string `json:"chat_room_id"`
	MessageID  string `json:"message_id"`
	Message    string `json:"message"`
}

type DeleteMessagePayload struct {
	ChatRoomID string `json:"chat_room_id"`
	MessageID  string `json:"message_id"`
}

type MarkReadPayload struct {
	ChatRoomID string `json:"chat_room_id"`
	UserID     string `json:"user_id"`
}

type TypingPayload struct {
	ChatRoomID string `json:"chat_room_id"`
	UserID     string `json:"user_id"`
	IsTyping   bool   `json:"is_typing"`
}

// Server -> client payloads.

type ConnectedPayload struct {
	UserID string `json:"user_id"`
}

type DeliveredPayload struct {
	MessageID   string `json:"message_id"`
	DeliveredAt int64  `json:"delivered_at"` // epoch seconds
}

type EditedPayload struct {
	MessageID string `json:"message_id"`
	Message   string `json:"message"`
}

type DeletedPayload struct {
	MessageID string `json:"message_id"`
}

type OnlineUsersPayload struct {
	UserIDs []string `json:"user_ids"`
}

type MessagesReadPayload struct {
	ChatRoomID string `json:"chat_room_id"`
	ReadBy     string `json:"read_by"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
