package conversation

import (
	"sync"
	"time"

	"marketchat/pkg/protocol"
)

// MessageList is the ordered, deduplicated view of one conversation. The
// list is append-order: history comes back chronological from the API and
// live events land in arrival order, with no client-side re-sorting.
//
// Every entry point keeps the one invariant that matters: at most one entry
// per message id, no matter how many events reference that id or in which
// order they arrive.
type MessageList struct {
	mu       sync.Mutex
	messages []protocol.Message
	index    map[string]int // id -> position in messages
}

func NewMessageList() *MessageList {
	return &MessageList{index: make(map[string]int)}
}

// ReplaceAll primes the list from loaded history, discarding prior state.
// Duplicate ids within the input keep the first occurrence.
func (l *MessageList) ReplaceAll(msgs []protocol.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = l.messages[:0]
	l.index = make(map[string]int, len(msgs))
	for _, m := range msgs {
		if _, ok := l.index[m.ID]; ok {
			continue
		}
		l.index[m.ID] = len(l.messages)
		l.messages = append(l.messages, m)
	}
}

// Append inserts the message if its id is absent and reports whether it was
// inserted. A duplicate id is a guaranteed no-op: both new_message and
// message_sent can echo the same message when the current user is the
// sender, and only the first arrival wins.
func (l *MessageList) Append(m protocol.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.index[m.ID]; ok {
		return false
	}
	l.index[m.ID] = len(l.messages)
	l.messages = append(l.messages, m)
	return true
}

// MarkDelivered stamps delivered-at on an existing entry. An unknown id is
// silently dropped; receipts never synthesize messages.
func (l *MessageList) MarkDelivered(id string, at time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[id]
	if !ok {
		return false
	}
	l.messages[i].DeliveredAt = &at
	return true
}

// ApplyEdit replaces the text of an existing entry and flags it edited.
// An unknown id is silently dropped.
func (l *MessageList) ApplyEdit(id, text string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[id]
	if !ok {
		return false
	}
	l.messages[i].Message = text
	l.messages[i].IsEdited = true
	return true
}

// Remove filters the id out of the list. Idempotent when already absent.
func (l *MessageList) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[id]
	if !ok {
		return false
	}
	l.messages = append(l.messages[:i], l.messages[i+1:]...)
	delete(l.index, id)
	for j := i; j < len(l.messages); j++ {
		l.index[l.messages[j].ID] = j
	}
	return true
}

// Clear empties the list, used when the user backs out of a conversation.
func (l *MessageList) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = l.messages[:0]
	l.index = make(map[string]int)
}

// Get returns the message with the given id.
func (l *MessageList) Get(id string) (protocol.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[id]
	if !ok {
		return protocol.Message{}, false
	}
	return l.messages[i], true
}

// Len reports the number of messages.
func (l *MessageList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// Snapshot returns a copy of the current ordered list.
func (l *MessageList) Snapshot() []protocol.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]protocol.Message, len(l.messages))
	copy(out, l.messages)
	return out
}
