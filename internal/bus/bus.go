// Package bus provides a typed, session-scoped event bus connecting the chat
// engine to whichever transport is rendering the session.
package bus

import (
	"sync"

	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/content"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/chat"
)

// EventType identifies different event types
type EventType string

const (
	// Chat events
	EventMessageAppended EventType = "chat.message"
	EventReplyLoading    EventType = "chat.loading"

	// Avatar video events
	EventVideoGenerating EventType = "avatar.generating"
	EventVideoReady      EventType = "avatar.video"
	EventVideoClosed     EventType = "avatar.closed"

	// Recording events
	EventRecordingStarted    EventType = "recording.started"
	EventRecordingTick       EventType = "recording.tick"
	EventRecordingCancelHint EventType = "recording.cancel_hint"
	EventRecordingSent       EventType = "recording.sent"
	EventRecordingCancelled  EventType = "recording.cancelled"

	// Session events
	EventPersonaSwitched EventType = "session.persona"
)

// MessagePayload carries an appended message and its rendered segments.
type MessagePayload struct {
	Message  chat.ChatMessage  `json:"message"`
	Segments []content.Segment `json:"segments"`
}

// FlagPayload carries on/off indicators (loading, generating, cancel hint).
type FlagPayload struct {
	Active bool `json:"active"`
}

// VideoPayload carries a talking-head video URL.
type VideoPayload struct {
	URL string `json:"url"`
}

// TickPayload carries elapsed recording seconds.
type TickPayload struct {
	Elapsed int `json:"elapsed"`
}

// PersonaPayload carries the persona a session switched to.
type PersonaPayload struct {
	PersonaID string `json:"personaId"`
}

// Event is a single notification for one session.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Data      any       `json:"data,omitempty"`
}

// Handler is a function that handles events
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus routes events to the subscribers of the event's session.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscription
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Subscribe registers handler for events of sessionID and returns a function
// that removes the subscription.
func (b *Bus) Subscribe(sessionID string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[sessionID] = append(b.subs[sessionID], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sessionID, id) })
	}
}

func (b *Bus) remove(sessionID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sessionID]
	for i, s := range subs {
		if s.id == id {
			b.subs[sessionID] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[sessionID]) == 0 {
		delete(b.subs, sessionID)
	}
}

// Publish delivers event synchronously, in subscription order, so a
// session's events reach every transport in the order they happened.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[event.SessionID]))
	for _, s := range b.subs[event.SessionID] {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Emitter binds a session id so components can publish without knowing it.
type Emitter struct {
	bus       *Bus
	sessionID string
}

// Emitter returns an emitter for sessionID. A nil bus yields a no-op emitter.
func (b *Bus) Emitter(sessionID string) Emitter {
	return Emitter{bus: b, sessionID: sessionID}
}

// Emit publishes an event of type t with data.
func (e Emitter) Emit(t EventType, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(Event{Type: t, SessionID: e.sessionID, Data: data})
}
