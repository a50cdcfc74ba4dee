// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryEventBus_PublishAssignsFields(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	var got []Event
	_, err := bus.Subscribe("*", func(ctx context.Context, e Event) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventSessionOpened, Conversation: "a"}))
	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventSessionClosed, Conversation: "a"}))

	require.Len(t, got, 2)
	assert.NotEmpty(t, got[0].ID)
	assert.NotEqual(t, got[0].ID, got[1].ID)
	assert.Equal(t, "1.0", got[0].Version)
	assert.False(t, got[0].Timestamp.IsZero())
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, uint64(2), got[1].Seq)
}

func TestMemoryEventBus_SubscribePattern(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	var types []string
	_, err := bus.Subscribe("permission.*", func(ctx context.Context, e Event) error {
		types = append(types, e.Type)
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	bus.Publish(ctx, Event{Type: StreamType("result")})
	bus.Publish(ctx, Event{Type: EventPermissionRequested})
	bus.Publish(ctx, Event{Type: EventPermissionResolved})

	assert.Equal(t, []string{EventPermissionRequested, EventPermissionResolved}, types)
}

func TestMemoryEventBus_SubscribeInvalidPattern(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	_, err := bus.Subscribe("", func(context.Context, Event) error { return nil })
	assert.Error(t, err)
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	var count atomic.Int32
	id, err := bus.Subscribe("*", func(context.Context, Event) error {
		count.Add(1)
		return nil
	})
	require.NoError(t, err)

	bus.Publish(context.Background(), Event{Type: "x"})
	require.NoError(t, bus.Unsubscribe(id))
	bus.Publish(context.Background(), Event{Type: "x"})

	assert.Equal(t, int32(1), count.Load())
	assert.ErrorIs(t, bus.Unsubscribe(id), ErrSubscriptionNotFound)
}

func TestMemoryEventBus_SubscribeAsync(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	received := make(chan Event, 4)
	_, err := bus.SubscribeAsync("stream.*", func(ctx context.Context, e Event) error {
		received <- e
		return nil
	}, 4)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), Event{Type: StreamType("message"), Conversation: "a"}))

	select {
	case e := <-received:
		assert.Equal(t, "stream.message", e.Type)
		assert.Equal(t, "a", e.Conversation)
	case <-time.After(time.Second):
		t.Fatal("async event not delivered")
	}
}

func TestMemoryEventBus_SubscribeAsyncBufferFull(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	block := make(chan struct{})
	var handled atomic.Int32
	_, err := bus.SubscribeAsync("*", func(context.Context, Event) error {
		<-block
		handled.Add(1)
		return nil
	}, 1)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(context.Background(), Event{Type: "x"}))
	}
	close(block)

	assert.Eventually(t, func() bool { return handled.Load() >= 1 }, time.Second, 5*time.Millisecond)
	assert.Less(t, handled.Load(), int32(10))
}

func TestMemoryEventBus_HandlerErrorAndPanic(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	var reached atomic.Bool
	bus.Subscribe("*", func(context.Context, Event) error { return errors.New("boom") })
	bus.Subscribe("*", func(context.Context, Event) error { panic("bad handler") })
	bus.Subscribe("*", func(context.Context, Event) error {
		reached.Store(true)
		return nil
	})

	assert.NoError(t, bus.Publish(context.Background(), Event{Type: "x"}))
	assert.True(t, reached.Load())
}

func TestMemoryEventBus_HistoryReplay(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{HistoryMaxEvents: 100})
	defer bus.Close()

	ctx := context.Background()
	bus.Publish(ctx, Event{Type: StreamType("text_delta"), Conversation: "a"})
	bus.Publish(ctx, Event{Type: StreamType("text_delta"), Conversation: "b"})
	bus.Publish(ctx, Event{Type: EventPermissionRequested, Conversation: "a"})

	events, err := bus.History(EventFilter{Conversation: "a"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Less(t, events[0].Seq, events[1].Seq)

	bus.Forget("a")
	events, err = bus.History(EventFilter{Conversation: "a"})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryEventBus_Close(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	_, err := bus.SubscribeAsync("*", func(context.Context, Event) error { return nil }, 1)
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(context.Background(), Event{Type: "x"}), ErrBusClosed)
	_, err = bus.Subscribe("*", func(context.Context, Event) error { return nil })
	assert.ErrorIs(t, err, ErrBusClosed)
	_, err = bus.History(EventFilter{})
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestMemoryEventBus_ConcurrentPublishKeepsOrder(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{HistoryMaxEvents: 10000})
	defer bus.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(context.Background(), Event{Type: "stream.text_delta"})
			}
		}()
	}
	wg.Wait()

	events, err := bus.History(EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 800)
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].Seq+1, events[i].Seq)
	}
}
