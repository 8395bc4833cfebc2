package session

import (
	"testing"
	"time"

	"github.com/northcloud/jobforge/internal/domain"
)

func TestHub_BroadcastDeliversToAllSubscribers(t *testing.T) {
	h := newHub()
	ch1, cleanup1 := h.subscribe()
	defer cleanup1()
	ch2, cleanup2 := h.subscribe()
	defer cleanup2()

	ev := domain.Event{ID: "1-0", SessionID: "s1", EventType: domain.EventProgress}
	h.broadcast(ev)

	for _, ch := range []<-chan domain.Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.ID != ev.ID {
				t.Fatalf("expected event id %q, got %q", ev.ID, got.ID)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast event")
		}
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := newHub()
	ch, cleanup := h.subscribe()
	cleanup()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after cleanup")
	}
}

func TestHub_CloseAllClosesEverySubscriber(t *testing.T) {
	h := newHub()
	ch1, _ := h.subscribe()
	ch2, _ := h.subscribe()

	h.closeAll()

	if _, ok := <-ch1; ok {
		t.Fatal("expected ch1 closed")
	}
	if _, ok := <-ch2; ok {
		t.Fatal("expected ch2 closed")
	}
}

func TestRequest_IsNotification(t *testing.T) {
	withID := &Request{JSONRPC: "2.0", ID: float64(1), Method: "ping"}
	withoutID := &Request{JSONRPC: "2.0", Method: "ping"}

	if withID.IsNotification() {
		t.Fatal("request with id should not be a notification")
	}
	if !withoutID.IsNotification() {
		t.Fatal("request without id should be a notification")
	}
}
