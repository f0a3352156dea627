package web

import (
	"strings"
	"testing"
)

func TestLogBufferJoinsPartialWrites(t *testing.T) {
	b := NewLogBuffer(10)
	_, _ = b.Write([]byte("gps: first"))
	if lines, _ := b.Tail(0); len(lines) != 0 {
		t.Fatalf("partial line visible: %v", lines)
	}
	_, _ = b.Write([]byte(" line\r\nsecond\n\nthird"))
	lines, dropped := b.Tail(0)
	if strings.Join(lines, "|") != "gps: first line|second" || dropped != 0 {
		t.Fatalf("lines=%q dropped=%d", lines, dropped)
	}
	_, _ = b.Write([]byte("\n"))
	if lines, _ := b.Tail(1); len(lines) != 1 || lines[0] != "third" {
		t.Fatalf("lines=%q", lines)
	}
}

func TestLogBufferEvictsOldest(t *testing.T) {
	b := NewLogBuffer(2)
	_, _ = b.Write([]byte("a\nb\nc\n"))
	lines, dropped := b.Tail(10)
	if strings.Join(lines, "|") != "b|c" || dropped != 1 {
		t.Fatalf("lines=%q dropped=%d", lines, dropped)
	}
}

func TestEventBroadcasterReplaysLastAndDropsWhenFull(t *testing.T) {
	eb := NewEventBroadcaster()
	eb.Publish(Event{Type: "state", State: "idle"})

	id, ch := eb.Subscribe(1)
	ev := <-ch
	if ev.State != "idle" || ev.At == "" {
		t.Fatalf("replayed=%+v", ev)
	}

	eb.Publish(Event{Type: "state", State: "acquiring"})
	eb.Publish(Event{Type: "state", State: "no_fix"})
	if ev := <-ch; ev.State != "acquiring" {
		t.Fatalf("ev=%+v want acquiring (no_fix dropped)", ev)
	}

	eb.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatalf("channel not closed")
	}
	eb.Unsubscribe(id)
	if eb.Subscribers() != 0 {
		t.Fatalf("subscribers=%d", eb.Subscribers())
	}
}

func TestNilBroadcasterIsInert(t *testing.T) {
	var eb *EventBroadcaster
	eb.Publish(Event{Type: "state"})
	if _, ch := eb.Subscribe(1); ch != nil {
		t.Fatalf("expected nil channel")
	}
	eb.Unsubscribe(0)
}
