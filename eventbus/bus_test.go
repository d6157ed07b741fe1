package eventbus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/safe-coder/safe-coder/eventbus"
)

func TestBus_BroadcastDeliversToAllSubscribers(t *testing.T) {
	b := eventbus.New()
	s1 := b.Subscribe(eventbus.Broadcast, 4)
	s2 := b.Subscribe(eventbus.Broadcast, 4)
	defer s1.Close()
	defer s2.Close()

	b.Publish(eventbus.Output{TaskID: "t1", Line: "hello"})

	require.Equal(t, eventbus.Output{TaskID: "t1", Line: "hello"}, <-s1.Events())
	require.Equal(t, eventbus.Output{TaskID: "t1", Line: "hello"}, <-s2.Events())
}

func TestBus_BroadcastDropsWhenFull(t *testing.T) {
	b := eventbus.New()
	s := b.Subscribe(eventbus.Broadcast, 1)
	defer s.Close()

	b.Publish(eventbus.Output{Line: "first"})
	b.Publish(eventbus.Output{Line: "second"}) // buffer full, dropped

	got := <-s.Events()
	require.Equal(t, "first", got.(eventbus.Output).Line)

	select {
	case <-s.Events():
		t.Fatal("expected no second event, buffer full delivery should have been dropped")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_ClosedSubscriptionStopsReceivingNewEvents(t *testing.T) {
	b := eventbus.New()
	s := b.Subscribe(eventbus.Broadcast, 4)
	s.Close()
	require.Equal(t, 0, b.Subscribers())

	b.Publish(eventbus.Output{Line: "after close"})

	select {
	case <-s.Events():
		t.Fatal("closed subscription should not receive further events")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_ReliableDeliversInOrder(t *testing.T) {
	b := eventbus.New()
	s := b.Subscribe(eventbus.Reliable, 2)
	defer s.Close()

	b.Publish(eventbus.Output{Line: "a"})
	b.Publish(eventbus.Output{Line: "b"})

	require.Equal(t, "a", (<-s.Events()).(eventbus.Output).Line)
	require.Equal(t, "b", (<-s.Events()).(eventbus.Output).Line)
}

func TestBus_ReliablePublishUnblocksOnClose(t *testing.T) {
	b := eventbus.New()
	s := b.Subscribe(eventbus.Reliable, 1)
	b.Publish(eventbus.Output{Line: "fills buffer"})

	done := make(chan struct{})
	go func() {
		b.Publish(eventbus.Output{Line: "blocked"}) // buffer full, no reader
		close(done)
	}()

	// Give the publish goroutine time to block, then close the
	// subscription: it must unblock rather than deadlock.
	time.Sleep(10 * time.Millisecond)
	s.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish did not unblock after subscription Close")
	}
}
