package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus()

	ch1, cancel1 := bus.Subscribe(8)
	ch2, cancel2 := bus.Subscribe(8)
	defer cancel1()
	defer cancel2()

	bus.Publish(EventPlansChanged, FolderRef{FolderPath: "/tmp/p"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, EventPlansChanged, ev.Name)
			assert.Equal(t, FolderRef{FolderPath: "/tmp/p"}, ev.Payload)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus()

	// Subscriber with a tiny buffer that nobody drains
	_, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish("claude_code-output", Output{ProcessID: "p", Data: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()

	ch, cancel := bus.Subscribe(4)
	require.Equal(t, 1, bus.SubscriberCount())

	cancel()
	cancel() // safe to call twice
	assert.Equal(t, 0, bus.SubscriberCount())

	// Channel is closed after unsubscribe
	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after unsubscribe must not panic
	bus.Publish(EventPRDChanged, FolderRef{FolderPath: "/tmp/p"})
}

func TestBusConcurrentPublishSubscribe(t *testing.T) {
	bus := NewBus()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ch, cancel := bus.Subscribe(16)
			for j := 0; j < 50; j++ {
				bus.Publish("amp-output", Output{ProcessID: fmt.Sprintf("p%d", n), Data: "d"})
			}
			// Drain whatever arrived, then leave
			cancel()
			for range ch {
			}
		}(i)
	}
	wg.Wait()
}

func TestEventNames(t *testing.T) {
	assert.Equal(t, "claude_code-output", OutputEvent("claude_code"))
	assert.Equal(t, "amp-exit", ExitEvent("amp"))
	assert.Equal(t, "amp-error", ErrorEvent("amp"))
}
