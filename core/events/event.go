package events

import (
	"sync"

	"counterchain/core/types"
	"counterchain/observability"
)

// Event represents a structured state change emitted by the host.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

// Wrap converts a raw event payload into the emitter-friendly envelope.
func Wrap(evt *types.Event) Event { return eventEnvelope{evt: evt} }

// Payload extracts the typed payload from an envelope produced by Wrap.
func Payload(evt Event) (*types.Event, bool) {
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		payload := carrier.Event()
		return payload, payload != nil
	}
	return nil, false
}

// Buffer collects events for a single sub-invocation. Nothing reaches the
// downstream emitter until Flush, so an aborted sub-invocation emits nothing.
type Buffer struct {
	pending []*types.Event
}

// Add queues a copy of evt.
func (b *Buffer) Add(evt *types.Event) {
	if b == nil || evt == nil {
		return
	}
	b.pending = append(b.pending, evt.Clone())
}

// Events returns the queued payloads in emission order.
func (b *Buffer) Events() []*types.Event {
	if b == nil {
		return nil
	}
	out := make([]*types.Event, len(b.pending))
	copy(out, b.pending)
	return out
}

// Flush forwards every queued event to emitter and empties the buffer.
func (b *Buffer) Flush(emitter Emitter) {
	if b == nil {
		return
	}
	if emitter != nil {
		for _, evt := range b.pending {
			emitter.Emit(Wrap(evt))
		}
	}
	b.pending = nil
}

// Discard empties the buffer without emitting.
func (b *Buffer) Discard() {
	if b == nil {
		return
	}
	b.pending = nil
}

// Broadcaster fans events out to any number of subscribers. Slow subscribers
// drop events instead of blocking the host.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Emit implements Emitter.
func (b *Broadcaster) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			observability.Events().RecordDropped()
		}
	}
}

// Subscribe registers a buffered channel. The returned cancel function
// unregisters and closes it.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// MultiEmitter forwards each event to every wrapped emitter.
type MultiEmitter []Emitter

// Emit implements Emitter.
func (m MultiEmitter) Emit(evt Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
