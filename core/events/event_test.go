package events

import (
	"testing"

	"counterchain/core/types"
)

type recordingEmitter struct {
	events []Event
}

func (r *recordingEmitter) Emit(evt Event) { r.events = append(r.events, evt) }

func TestBufferFlushesOnlyOnCommit(t *testing.T) {
	var buf Buffer
	rec := &recordingEmitter{}

	evt := &types.Event{Type: "counter.perform_action", Attributes: map[string]string{"value": "1"}}
	buf.Add(evt)
	evt.Attributes["value"] = "mutated"

	buf.Discard()
	buf.Flush(rec)
	if len(rec.events) != 0 {
		t.Fatalf("discarded events were flushed: %d", len(rec.events))
	}

	buf.Add(evt)
	buf.Flush(rec)
	if len(rec.events) != 1 {
		t.Fatalf("expected one event, got %d", len(rec.events))
	}
	payload, ok := Payload(rec.events[0])
	if !ok {
		t.Fatalf("expected a typed payload")
	}
	if payload.Type != "counter.perform_action" {
		t.Fatalf("unexpected type %s", payload.Type)
	}
	if payload.Attributes["value"] != "mutated" {
		t.Fatalf("unexpected value %s", payload.Attributes["value"])
	}
	if len(buf.Events()) != 0 {
		t.Fatalf("buffer not cleared after flush")
	}
}

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster()
	first, cancelFirst := b.Subscribe(4)
	second, cancelSecond := b.Subscribe(4)
	defer cancelSecond()

	b.Emit(Wrap(&types.Event{Type: "a"}))
	if got := (<-first).EventType(); got != "a" {
		t.Fatalf("first subscriber got %s", got)
	}
	if got := (<-second).EventType(); got != "a" {
		t.Fatalf("second subscriber got %s", got)
	}

	cancelFirst()
	cancelFirst()
	if _, open := <-first; open {
		t.Fatalf("cancelled subscription still open")
	}

	b.Emit(Wrap(&types.Event{Type: "b"}))
	if got := (<-second).EventType(); got != "b" {
		t.Fatalf("second subscriber got %s", got)
	}
}

func TestBroadcasterDropsForSlowSubscribers(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Emit(Wrap(&types.Event{Type: "first"}))
	b.Emit(Wrap(&types.Event{Type: "second"}))
	if got := (<-ch).EventType(); got != "first" {
		t.Fatalf("unexpected event %s", got)
	}
	select {
	case evt := <-ch:
		t.Fatalf("unexpected buffered event %s", evt.EventType())
	default:
	}
}

func TestMultiEmitter(t *testing.T) {
	a, b := &recordingEmitter{}, &recordingEmitter{}
	MultiEmitter{a, nil, b}.Emit(Wrap(&types.Event{Type: "x"}))
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected fan out to both emitters, got %d and %d", len(a.events), len(b.events))
	}
}
