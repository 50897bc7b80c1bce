package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketchat/pkg/api"
	"marketchat/pkg/logging"
	"marketchat/pkg/protocol"
	"marketchat/pkg/realtime"
)

var (
	ErrSelfChat     = errors.New("conversation: cannot chat with yourself")
	ErrNoActiveChat = errors.New("conversation: no chat selected")
	ErrEmptyMessage = errors.New("conversation: message has no content")
)

// Emitter is the slice of the realtime client the session needs. Handlers
// registered through On persist across redials of the underlying channel.
type Emitter interface {
	Emit(event string, payload any) error
	On(event string, fn realtime.Handler)
	OnStatusChange(fn func(realtime.Status))
	Status() realtime.Status
}

// Notifier receives the user-facing side effects: toast-style notices and
// incoming-message summaries for rooms other than the active one.
type Notifier interface {
	Toast(message string)
	IncomingMessage(sender protocol.User, preview string)
}

type nopNotifier struct{}

func (nopNotifier) Toast(string)                          {}
func (nopNotifier) IncomingMessage(protocol.User, string) {}

// SelectedChat is the active room context.
type SelectedChat struct {
	ChatRoomID  string
	Counterpart protocol.User
	Ad          *protocol.ProductRef
	ShowBanner  bool
}

// SendInput is the user-supplied part of an outgoing message. Reply target
// and product reference are taken from session state, not from the caller.
type SendInput struct {
	Text     string
	Images   []string
	Location *protocol.Location
}

// Session drives one user's conversations: it resolves rooms, reconciles
// inbound events into the message list, and turns user intents into outbound
// protocol events. Messages are never inserted locally on send; they appear
// only once the server echo comes back through the reconciler.
type Session struct {
	userID string
	rt     Emitter
	api    api.Collaborator
	notify Notifier
	// confirm gates destructive actions. Delete emits nothing unless
	// confirm returns true.
	confirm func(prompt string) bool
	logger  zerolog.Logger

	Messages *MessageList
	Presence *PresenceTracker
	scroll   *ScrollController

	mu        sync.Mutex
	selected  *SelectedChat
	replyTo   string
	gen       uint64
	pendingAd string
}

// SessionOption configures a Session.
type SessionOption func(*Session)

func WithNotifier(n Notifier) SessionOption {
	return func(s *Session) { s.notify = n }
}

func WithConfirm(fn func(prompt string) bool) SessionOption {
	return func(s *Session) { s.confirm = fn }
}

func WithViewport(v Viewport) SessionOption {
	return func(s *Session) { s.scroll = NewScrollController(v) }
}

func WithSessionLogger(l zerolog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// NewSession wires a session to the realtime channel and the REST
// collaborator. All protocol listeners are registered here, once; the
// realtime client replays them onto every (re)created socket.
func NewSession(userID string, rt Emitter, collab api.Collaborator, opts ...SessionOption) *Session {
	s := &Session{
		userID:   userID,
		rt:       rt,
		api:      collab,
		notify:   nopNotifier{},
		logger:   logging.L(),
		Messages: NewMessageList(),
		Presence: NewPresenceTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}

	rt.On(protocol.EventNewMessage, s.onNewMessage)
	rt.On(protocol.EventMessageSent, s.onMessageSent)
	rt.On(protocol.EventMessageDelivered, s.onDelivered)
	rt.On(protocol.EventMessageEdited, s.onEdited)
	rt.On(protocol.EventMessageDeleted, s.onDeleted)
	rt.On(protocol.EventChatRoomUpdated, s.onRoomUpdated)
	rt.On(protocol.EventOnlineUsers, s.onOnlineUsers)
	rt.On(protocol.EventUserTyping, s.onTyping)
	rt.On(protocol.EventMessagesRead, s.onMessagesRead)
	rt.On(protocol.EventError, s.onProtocolError)
	rt.OnStatusChange(s.onStatusChange)

	return s
}

// Selected returns a copy of the active chat context, or nil.
func (s *Session) Selected() *SelectedChat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedLocked()
}

// selectedLocked copies the active chat so callers can read it after the
// lock is released. Fields of s.selected mutate in place under s.mu, so the
// pointer itself must never escape the critical section.
func (s *Session) selectedLocked() *SelectedChat {
	if s.selected == nil {
		return nil
	}
	sel := *s.selected
	return &sel
}

// ReplyTarget returns the id of the message currently being replied to.
func (s *Session) ReplyTarget() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replyTo
}

// OpenFromAd resolves a conversation from an ad: ad detail -> seller ->
// get-or-create room -> history -> join -> mark read. While disconnected the
// ad id is remembered and the resolution re-attempted on the next connect.
func (s *Session) OpenFromAd(ctx context.Context, adID string) error {
	if s.rt.Status() != realtime.StatusConnected {
		s.mu.Lock()
		s.pendingAd = adID
		s.mu.Unlock()
		s.notify.Toast("not connected, chat will open once the connection is back")
		return realtime.ErrNotConnected
	}

	s.mu.Lock()
	s.pendingAd = ""
	gen := s.nextGenLocked()
	s.mu.Unlock()

	ad, err := s.api.GetAdDetail(ctx, adID)
	if err != nil {
		s.notify.Toast("could not load the ad")
		return err
	}
	if ad.Seller.ID == s.userID {
		s.notify.Toast("you cannot chat about your own ad")
		return ErrSelfChat
	}

	room, err := s.api.GetOrCreateRoom(ctx, ad.Seller.ID)
	if err != nil {
		s.notify.Toast("could not open the conversation")
		return err
	}

	// The counterpart comes from the room's own participant pair, not from
	// the seller field, so role ambiguity on the server side is tolerated.
	counterpart, ok := room.Counterpart(s.userID)
	if !ok {
		s.notify.Toast("you cannot chat with yourself")
		return ErrSelfChat
	}

	product := ad.Product
	return s.finishOpen(ctx, gen, room, counterpart, &product, true)
}

// Open resolves a conversation picked from the sidebar. The purchase-intent
// banner is hidden and any pending reply cleared.
func (s *Session) Open(ctx context.Context, room protocol.ChatRoom) error {
	counterpart, ok := room.Counterpart(s.userID)
	if !ok {
		s.notify.Toast("you cannot chat with yourself")
		return ErrSelfChat
	}
	if s.rt.Status() != realtime.StatusConnected {
		s.notify.Toast("not connected")
		return realtime.ErrNotConnected
	}

	s.mu.Lock()
	gen := s.nextGenLocked()
	s.replyTo = ""
	s.mu.Unlock()

	return s.finishOpen(ctx, gen, room, counterpart, nil, false)
}

// finishOpen runs the shared tail of both resolution paths: history load,
// selection, join, mark-read. Every step after an await re-checks the
// generation so a stale resolution cannot touch a newer room's state.
func (s *Session) finishOpen(ctx context.Context, gen uint64, room protocol.ChatRoom, counterpart protocol.User, product *protocol.ProductRef, banner bool) error {
	history, err := s.api.GetRoomMessages(ctx, room.ChatRoomID)
	if err != nil {
		// The room stays selectable with an empty list; re-selecting it
		// retries the load. Join and mark-read are skipped so live events
		// are not trusted ahead of history.
		if s.selectRoom(gen, room.ChatRoomID, counterpart, product, banner, nil) {
			s.notify.Toast("could not load messages")
		}
		return err
	}

	if !s.selectRoom(gen, room.ChatRoomID, counterpart, product, banner, history) {
		return nil // superseded by a newer resolution
	}

	if err := s.rt.Emit(protocol.EventJoinRoom, protocol.JoinRoomPayload{ChatRoomID: room.ChatRoomID}); err != nil {
		s.notify.Toast("not connected")
		return err
	}

	if err := s.markRead(ctx, room.ChatRoomID); err != nil {
		s.logger.Warn().Err(err).Str("chat_room_id", room.ChatRoomID).Msg("mark read failed")
	}

	if s.scroll != nil {
		s.scroll.ContentChanged()
	}
	return nil
}

// selectRoom installs the room as the active chat if gen is still current.
func (s *Session) selectRoom(gen uint64, roomID string, counterpart protocol.User, product *protocol.ProductRef, banner bool, history []protocol.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return false
	}
	s.selected = &SelectedChat{
		ChatRoomID:  roomID,
		Counterpart: counterpart,
		Ad:          product,
		ShowBanner:  banner && product != nil,
	}
	s.Messages.ReplaceAll(history)
	return true
}

// CloseChat leaves the conversation view: active room, messages and pending
// reply are cleared. No leave event goes on the wire; inbound events for the
// abandoned room are filtered by the active-room check instead.
func (s *Session) CloseChat() {
	s.mu.Lock()
	s.nextGenLocked()
	s.selected = nil
	s.replyTo = ""
	s.mu.Unlock()
	s.Messages.Clear()
}

// Send emits the message over the channel. No placeholder is inserted
// locally; the message shows up when the server echoes it back. A pending
// reply is consumed and the banner hides once its product reference is sent.
func (s *Session) Send(ctx context.Context, input SendInput) error {
	if input.Text == "" && len(input.Images) == 0 && input.Location == nil {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	sel := s.selectedLocked()
	replyTo := s.replyTo
	s.mu.Unlock()

	if sel == nil {
		return ErrNoActiveChat
	}
	if sel.Counterpart.ID == s.userID {
		s.notify.Toast("you cannot message yourself")
		return ErrSelfChat
	}
	if s.rt.Status() != realtime.StatusConnected {
		s.notify.Toast("not connected")
		return realtime.ErrNotConnected
	}

	payload := protocol.SendMessagePayload{
		SenderID:   s.userID,
		ReceiverID: sel.Counterpart.ID,
		Message:    input.Text,
		Images:     input.Images,
		Location:   input.Location,
		ReplyTo:    replyTo,
	}
	if sel.ShowBanner && sel.Ad != nil {
		payload.Product = sel.Ad
	}

	if err := s.rt.Emit(protocol.EventSendMessage, payload); err != nil {
		s.notify.Toast("not connected")
		return err
	}

	s.mu.Lock()
	s.replyTo = ""
	if payload.Product != nil && s.selected != nil && s.selected.ChatRoomID == sel.ChatRoomID {
		s.selected.ShowBanner = false
	}
	s.mu.Unlock()
	return nil
}

// Reply points the next send at an existing message.
func (s *Session) Reply(messageID string) error {
	if _, ok := s.Messages.Get(messageID); !ok {
		return errors.New("conversation: reply target not found")
	}
	s.mu.Lock()
	s.replyTo = messageID
	s.mu.Unlock()
	return nil
}

// CancelReply clears the pending reply.
func (s *Session) CancelReply() {
	s.mu.Lock()
	s.replyTo = ""
	s.mu.Unlock()
}

// Edit emits an edit for an existing message. Unchanged text is a no-op.
// The local entry is updated by the edit receipt, not here.
func (s *Session) Edit(ctx context.Context, messageID, text string) error {
	sel := s.Selected()

	if sel == nil {
		return ErrNoActiveChat
	}
	current, ok := s.Messages.Get(messageID)
	if !ok {
		return errors.New("conversation: message not found")
	}
	if current.Message == text {
		return nil
	}
	if s.rt.Status() != realtime.StatusConnected {
		s.notify.Toast("not connected")
		return realtime.ErrNotConnected
	}

	return s.rt.Emit(protocol.EventEditMessage, protocol.EditMessagePayload{
		ChatRoomID: sel.ChatRoomID,
		MessageID:  messageID,
		Message:    text,
	})
}

// Delete asks for confirmation, then emits the delete. Declined or missing
// confirmation aborts silently with no event. Local removal happens via the
// delete receipt.
func (s *Session) Delete(ctx context.Context, messageID string) error {
	sel := s.Selected()
	confirm := s.confirm

	if sel == nil {
		return ErrNoActiveChat
	}
	if confirm == nil || !confirm("Delete this message?") {
		return nil
	}
	if s.rt.Status() != realtime.StatusConnected {
		s.notify.Toast("not connected")
		return realtime.ErrNotConnected
	}

	return s.rt.Emit(protocol.EventDeleteMessage, protocol.DeleteMessagePayload{
		ChatRoomID: sel.ChatRoomID,
		MessageID:  messageID,
	})
}

// MarkRead persists the read state and broadcasts it so other viewers of the
// room (other tabs, the counterpart) can drop their unread badges.
func (s *Session) MarkRead(ctx context.Context) error {
	sel := s.Selected()
	if sel == nil {
		return ErrNoActiveChat
	}
	return s.markRead(ctx, sel.ChatRoomID)
}

func (s *Session) markRead(ctx context.Context, roomID string) error {
	if err := s.api.MarkAsRead(ctx, roomID); err != nil {
		return err
	}
	return s.rt.Emit(protocol.EventMarkRead, protocol.MarkReadPayload{
		ChatRoomID: roomID,
		UserID:     s.userID,
	})
}

// Typing reports the local typing state to the room.
func (s *Session) Typing(isTyping bool) error {
	sel := s.Selected()
	if sel == nil {
		return ErrNoActiveChat
	}
	return s.rt.Emit(protocol.EventTyping, protocol.TypingPayload{
		ChatRoomID: sel.ChatRoomID,
		UserID:     s.userID,
		IsTyping:   isTyping,
	})
}

// Inbound event handlers. These run on the realtime dispatch goroutine,
// one event at a time.

func (s *Session) onNewMessage(data json.RawMessage) {
	var m protocol.Message
	if err := json.Unmarshal(data, &m); err != nil {
		s.logger.Warn().Err(err).Msg("bad new_message payload")
		return
	}

	s.mu.Lock()
	active := s.selected != nil && s.selected.ChatRoomID == m.ChatRoomID
	s.mu.Unlock()

	if !active {
		// Message for another room: badge it, never append it.
		s.notify.IncomingMessage(m.User, m.Message)
		return
	}
	if s.Messages.Append(m) && s.scroll != nil {
		s.scroll.ContentChanged()
	}
}

func (s *Session) onMessageSent(data json.RawMessage) {
	var m protocol.Message
	if err := json.Unmarshal(data, &m); err != nil {
		s.logger.Warn().Err(err).Msg("bad message_sent payload")
		return
	}

	s.mu.Lock()
	active := s.selected != nil && s.selected.ChatRoomID == m.ChatRoomID
	s.mu.Unlock()
	if !active {
		return
	}
	if s.Messages.Append(m) && s.scroll != nil {
		s.scroll.ContentChanged()
	}
}

func (s *Session) onDelivered(data json.RawMessage) {
	var p protocol.DeliveredPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	at := time.Unix(p.DeliveredAt, 0)
	if p.DeliveredAt == 0 {
		at = time.Now()
	}
	s.Messages.MarkDelivered(p.MessageID, at)
}

func (s *Session) onEdited(data json.RawMessage) {
	var p protocol.EditedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	s.Messages.ApplyEdit(p.MessageID, p.Message)
}

func (s *Session) onDeleted(data json.RawMessage) {
	var p protocol.DeletedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	s.Messages.Remove(p.MessageID)
}

func (s *Session) onRoomUpdated(data json.RawMessage) {
	var room protocol.ChatRoom
	if err := json.Unmarshal(data, &room); err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil || s.selected.ChatRoomID != room.ChatRoomID {
		return
	}
	if counterpart, ok := room.Counterpart(s.userID); ok {
		s.selected.Counterpart = counterpart
	}
}

func (s *Session) onOnlineUsers(data json.RawMessage) {
	var p protocol.OnlineUsersPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	s.Presence.SetOnline(p.UserIDs)
}

func (s *Session) onTyping(data json.RawMessage) {
	var sig protocol.TypingSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		return
	}
	s.Presence.SetTyping(sig)
	if s.scroll != nil {
		s.scroll.ContentChanged()
	}
}

func (s *Session) onMessagesRead(data json.RawMessage) {
	var p protocol.MessagesReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	s.logger.Debug().Str("chat_room_id", p.ChatRoomID).Str("read_by", p.ReadBy).Msg("messages read")
}

func (s *Session) onProtocolError(data json.RawMessage) {
	var p protocol.ErrorPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Message == "" {
		s.notify.Toast("chat error")
		return
	}
	s.notify.Toast("chat error: " + p.Message)
}

func (s *Session) onStatusChange(status realtime.Status) {
	if status == realtime.StatusDisconnected {
		s.notify.Toast("connection lost")
		return
	}

	// A deferred ad resolution runs as soon as connectivity is back.
	s.mu.Lock()
	adID := s.pendingAd
	s.pendingAd = ""
	s.mu.Unlock()
	if adID != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.OpenFromAd(ctx, adID); err != nil {
				s.logger.Warn().Err(err).Str("ad_id", adID).Msg("deferred ad resolution failed")
			}
		}()
	}
}

func (s *Session) nextGenLocked() uint64 {
	s.gen++
	return s.gen
}
