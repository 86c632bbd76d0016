package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishRoutesBySession(t *testing.T) {
	b := New()

	var a, other []EventType
	b.Subscribe("a", func(e Event) { a = append(a, e.Type) })
	b.Subscribe("b", func(e Event) { other = append(other, e.Type) })

	b.Emitter("a").Emit(EventReplyLoading, FlagPayload{Active: true})
	b.Emitter("a").Emit(EventMessageAppended, nil)

	assert.Equal(t, []EventType{EventReplyLoading, EventMessageAppended}, a)
	assert.Empty(t, other)
}

func TestUnsubscribe(t *testing.T) {
	b := New()

	calls := 0
	unsubscribe := b.Subscribe("s", func(Event) { calls++ })
	b.Publish(Event{Type: EventVideoClosed, SessionID: "s"})
	unsubscribe()
	unsubscribe()
	b.Publish(Event{Type: EventVideoClosed, SessionID: "s"})

	assert.Equal(t, 1, calls)
}

func TestNilBusEmitterIsNoop(t *testing.T) {
	var b *Bus
	assert.NotPanics(t, func() {
		b.Emitter("x").Emit(EventRecordingTick, TickPayload{Elapsed: 1})
	})
}
