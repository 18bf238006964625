package hub

import (
	"testing"
)

func drain(conn *Conn) []Event {
	var out []Event
	for {
		select {
		case ev := <-conn.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPublishReachesRoomMembers(t *testing.T) {
	h := New()
	a := h.Register("user-a")
	b := h.Register("user-b")
	c := h.Register("user-c")

	h.Join(a, "chat:a:b")
	h.Join(b, "chat:a:b")

	h.Publish("chat:a:b", Event{Name: EventMessageNew, Payload: "hello"})

	if got := drain(a); len(got) != 1 || got[0].Name != EventMessageNew {
		t.Fatalf("member a expected one message_new, got %v", got)
	}
	if got := drain(b); len(got) != 1 {
		t.Fatalf("member b expected one event, got %v", got)
	}
	if got := drain(c); len(got) != 0 {
		t.Fatalf("non-member expected no events, got %v", got)
	}
}

func TestPublishEmptyRoomIsNoop(t *testing.T) {
	h := New()
	h.Publish("chat:nobody", Event{Name: EventMessageNew})
}

func TestPublishUserReachesAllUserConnections(t *testing.T) {
	h := New()
	first := h.Register("user-a")
	second := h.Register("user-a")
	other := h.Register("user-b")

	h.PublishUser("user-a", Event{Name: EventNotification})

	if got := drain(first); len(got) != 1 {
		t.Fatalf("first connection expected event, got %v", got)
	}
	if got := drain(second); len(got) != 1 {
		t.Fatalf("second connection expected event, got %v", got)
	}
	if got := drain(other); len(got) != 0 {
		t.Fatalf("other user expected no events, got %v", got)
	}
}

func TestPublishOrderIsFIFOPerRoom(t *testing.T) {
	h := New()
	conn := h.Register("user-a")
	h.Join(conn, "room")

	for i := 0; i < 5; i++ {
		h.Publish("room", Event{Name: EventMessageNew, Payload: i})
	}

	events := drain(conn)
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Payload.(int) != i {
			t.Fatalf("event %d out of order: %v", i, ev.Payload)
		}
	}
}

func TestFullBufferDropsInsteadOfBlocking(t *testing.T) {
	h := New()
	conn := h.Register("user-a")
	h.Join(conn, "room")

	for i := 0; i < sendBuffer+10; i++ {
		h.Publish("room", Event{Name: EventMessageNew, Payload: i})
	}

	if got := len(drain(conn)); got != sendBuffer {
		t.Fatalf("expected buffer-capped delivery of %d, got %d", sendBuffer, got)
	}
}

func TestJoinUserAttachesLiveConnections(t *testing.T) {
	h := New()
	first := h.Register("user-a")
	second := h.Register("user-a")
	other := h.Register("user-b")

	// The room did not exist when these connections registered.
	h.JoinUser("user-a", "chat:a:b")
	h.Publish("chat:a:b", Event{Name: EventMessageNew})

	if got := drain(first); len(got) != 1 {
		t.Fatalf("first connection expected event after JoinUser, got %v", got)
	}
	if got := drain(second); len(got) != 1 {
		t.Fatalf("second connection expected event after JoinUser, got %v", got)
	}
	if got := drain(other); len(got) != 0 {
		t.Fatalf("other user expected no events, got %v", got)
	}

	// No connections for the user is a no-op, and joining twice does not
	// duplicate delivery.
	h.JoinUser("ghost", "chat:a:b")
	h.JoinUser("user-a", "chat:a:b")
	h.Publish("chat:a:b", Event{Name: EventMessageNew})
	if got := drain(first); len(got) != 1 {
		t.Fatalf("expected single delivery after repeat JoinUser, got %v", got)
	}
}

func TestUnregisterLeavesAllRoomsAndClosesStream(t *testing.T) {
	h := New()
	conn := h.Register("user-a")
	h.Join(conn, "room")

	h.Unregister(conn)
	h.Unregister(conn) // second call is a no-op

	if _, ok := <-conn.Events(); ok {
		t.Fatalf("expected closed event stream")
	}
	// Publishing after unregister must not panic or deliver.
	h.Publish("room", Event{Name: EventMessageNew})
	h.PublishUser("user-a", Event{Name: EventNotification})
}

func TestDeliverSkipsClosedConnection(t *testing.T) {
	h := New()
	conn := h.Register("user-a")
	h.Unregister(conn)
	h.Deliver(conn, Event{Name: EventPong})
}
