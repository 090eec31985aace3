package api

import "testing"

func TestHub_PublishCoalesces(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe("u1")
	defer unsubscribe()

	h.Publish("u1")
	h.Publish("u1")
	h.Publish("u2")

	if _, ok := <-ch; !ok {
		t.Fatal("channel closed")
	}
	select {
	case <-ch:
		t.Fatal("second publish was not coalesced")
	default:
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe("u1")
	unsubscribe()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Fatal("channel open after unsubscribe")
	}
	if n := h.Subscribers("u1"); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}
	h.Publish("u1")
}

func TestHub_Close(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe("u1")
	h.Close()

	if _, ok := <-ch; ok {
		t.Fatal("channel open after Close")
	}
	unsubscribe()

	late, _ := h.Subscribe("u1")
	if _, ok := <-late; ok {
		t.Fatal("subscription after Close is open")
	}
}
