package conversation

import (
	"sync"
	"time"
)

// HighlightDuration is how long a reply-jump target stays highlighted.
const HighlightDuration = 3 * time.Second

// Viewport is whatever renders the message container. Scrolling always
// targets the container, never the page around it.
type Viewport interface {
	ScrollToBottom()
	ScrollTo(messageID string)
	SetHighlight(messageID string)
	ClearHighlight(messageID string)
}

// ScrollController reacts to message-list and typing changes. It carries no
// protocol state of its own.
type ScrollController struct {
	viewport Viewport

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewScrollController(viewport Viewport) *ScrollController {
	return &ScrollController{
		viewport: viewport,
		timers:   make(map[string]*time.Timer),
	}
}

// ContentChanged pins the view to the newest message. Called whenever the
// list or the typing indicator changes.
func (s *ScrollController) ContentChanged() {
	if s.viewport == nil {
		return
	}
	s.viewport.ScrollToBottom()
}

// JumpToMessage scrolls the reply target into view and highlights it for
// HighlightDuration. A repeat jump to the same target restarts the timer.
func (s *ScrollController) JumpToMessage(messageID string) {
	if s.viewport == nil || messageID == "" {
		return
	}

	s.viewport.ScrollTo(messageID)
	s.viewport.SetHighlight(messageID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[messageID]; ok {
		t.Stop()
	}
	s.timers[messageID] = time.AfterFunc(HighlightDuration, func() {
		s.viewport.ClearHighlight(messageID)
		s.mu.Lock()
		delete(s.timers, messageID)
		s.mu.Unlock()
	})
}

// Stop cancels any pending highlight timers.
func (s *ScrollController) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
