package bus

import (
	"context"
	"testing"
	"time"

	"gokernel/pkg/protocol"
)

func statusMessage(state string) *protocol.Message {
	return protocol.Session{ID: "s"}.Message(&protocol.Status{ExecutionState: state})
}

func TestIOPubRoundTrip(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	in := statusMessage(protocol.StateBusy)
	if ok := mb.PublishIOPub(context.Background(), in); !ok {
		t.Fatal("expected iopub publish to succeed")
	}

	out, ok := mb.ConsumeIOPub(context.Background())
	if !ok {
		t.Fatal("expected iopub consume to succeed")
	}
	if out != in {
		t.Fatalf("message = %p, want %p", out, in)
	}
}

func TestIOPubPreservesOrder(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	states := []string{protocol.StateBusy, "mid", protocol.StateIdle}
	for _, state := range states {
		mb.PublishIOPub(context.Background(), statusMessage(state))
	}

	for _, want := range states {
		msg, ok := mb.ConsumeIOPub(context.Background())
		if !ok {
			t.Fatal("expected message")
		}
		if got := msg.Content.(*protocol.Status).ExecutionState; got != want {
			t.Fatalf("state = %q, want %q", got, want)
		}
	}
}

func TestCloseRejectsPublishButDrainsQueue(t *testing.T) {
	mb := NewMessageBus()

	if ok := mb.PublishIOPub(context.Background(), statusMessage(protocol.StateIdle)); !ok {
		t.Fatal("expected publish before close to succeed")
	}
	mb.Close()

	if ok := mb.PublishIOPub(context.Background(), statusMessage(protocol.StateBusy)); ok {
		t.Fatal("expected publish to fail after close")
	}

	msg, ok := mb.ConsumeIOPub(context.Background())
	if !ok || msg.Content.(*protocol.Status).ExecutionState != protocol.StateIdle {
		t.Fatal("expected queued message to drain after close")
	}
	if _, ok := mb.ConsumeIOPub(context.Background()); ok {
		t.Fatal("expected consume to stop once drained")
	}
}

func TestContextCancellation(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ok := mb.PublishIOPub(ctx, statusMessage(protocol.StateBusy)); ok {
		t.Fatal("expected publish to fail on canceled context")
	}
	if _, ok := mb.ConsumeIOPub(ctx); ok {
		t.Fatal("expected consume to fail on canceled context")
	}
}

func TestConsumeUnblocksOnClose(t *testing.T) {
	mb := NewMessageBus()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = mb.ConsumeIOPub(context.Background())
	}()

	mb.Close()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("consume did not unblock after close")
	}
}

func TestEventFanout(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	eventsA, unsubA := mb.SubscribeEvents(ctx, 1)
	defer unsubA()
	eventsB, unsubB := mb.SubscribeEvents(ctx, 1)
	defer unsubB()

	event := Event{Type: EventMessageReceived, MsgID: "1"}
	if ok := mb.PublishEvent(ctx, event); !ok {
		t.Fatal("expected event publish to succeed")
	}

	for name, events := range map[string]<-chan Event{"A": eventsA, "B": eventsB} {
		select {
		case got := <-events:
			if got.Type != EventMessageReceived {
				t.Fatalf("subscriber %s event type = %q, want %q", name, got.Type, EventMessageReceived)
			}
			if got.At.IsZero() {
				t.Fatalf("subscriber %s event has no timestamp", name)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("subscriber %s did not receive event", name)
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublishEvent(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	events, unsubscribe := mb.SubscribeEvents(ctx, 1)
	defer unsubscribe()

	if ok := mb.PublishEvent(ctx, Event{Type: EventExecuteStarted}); !ok {
		t.Fatal("expected first event publish to succeed")
	}

	start := time.Now()
	if ok := mb.PublishEvent(ctx, Event{Type: EventExecuteCompleted}); !ok {
		t.Fatal("expected second event publish to succeed")
	}

	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("publish event blocked on slow subscriber")
	}

	select {
	case <-events:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected at least one event")
	}
}

func TestUnsubscribeStopsEvents(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	events, unsubscribe := mb.SubscribeEvents(ctx, 1)
	unsubscribe()

	if ok := mb.PublishEvent(ctx, Event{Type: EventMessageReceived}); !ok {
		t.Fatal("expected event publish to succeed")
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed event channel")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event channel close after unsubscribe")
	}
}

func TestSubscribeEventsUnblocksOnClose(t *testing.T) {
	mb := NewMessageBus()

	events, _ := mb.SubscribeEvents(context.Background(), 1)
	mb.Close()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected event channel to be closed")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("event subscription did not unblock after close")
	}
}
