package protocol

import "time"

// User carries the identity and display fields attached to messages and rooms.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// ChatRoom is a two-party conversation. Participant roles are not stable
// across callers (the creator may be user1 or user2), so the other side is
// always derived by comparing against the current user.
type ChatRoom struct {
	ChatRoomID string `json:"chat_room_id"`
	User1      User   `json:"user1"`
	User2      User   `json:"user2"`
}

// Counterpart returns the participant that is not currentUserID.
// ok is false when neither participant matches or the room would be a
// conversation with oneself.
func (r ChatRoom) Counterpart(currentUserID string) (User, bool) {
	if r.User1.ID == r.User2.ID {
		return User{}, false
	}
	switch currentUserID {
	case r.User1.ID:
		return r.User2, true
	case r.User2.ID:
		return r.User1, true
	}
	return User{}, false
}

// Location is an optional coordinate attachment.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ProductRef links a message or room to the ad it originated from.
type ProductRef struct {
	AdID     string `json:"ad_id"`
	Title    string `json:"title,omitempty"`
	Price    int64  `json:"price,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Message is the unit the reconciler manages. ID is globally unique; the
// local message list never holds two entries with the same ID.
type Message struct {
	ID          string      `json:"id"`
	ChatRoomID  string      `json:"chat_room_id"`
	User        User        `json:"user"`
	Message     string      `json:"message,omitempty"`
	Images      []string    `json:"images,omitempty"`
	Location    *Location   `json:"location,omitempty"`
	ReplyTo     string      `json:"reply_to,omitempty"`
	Product     *ProductRef `json:"product,omitempty"`
	DeliveredAt *time.Time  `json:"delivered_at,omitempty"`
	IsEdited    bool        `json:"is_edited,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// TypingSignal is the latest typing state reported for a user.
type TypingSignal struct {
	IsTyping bool   `json:"is_typing"`
	UserID   string `json:"user_id"`
}

// RoomSummary is a sidebar entry: the room plus enough context to render it.
type RoomSummary struct {
	ChatRoom
	LastMessage string `json:"last_message,omitempty"`
	LastAt      int64  `json:"last_at,omitempty"` // epoch seconds
	Unread      int64  `json:"unread,omitempty"`
}

// AdDetail is what the ad collaborator returns for an ad-initiated chat.
type AdDetail struct {
	Seller  User       `json:"seller"`
	Product ProductRef `json:"product"`
}
