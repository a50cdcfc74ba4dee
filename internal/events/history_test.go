// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func seqEvents(h *History, conv string, types ...string) {
	base := uint64(h.Len())
	for i, typ := range types {
		h.Add(Event{Seq: base + uint64(i) + 1, Type: typ, Conversation: conv, Timestamp: time.Now()})
	}
}

func TestHistory_MaxEvents(t *testing.T) {
	h := NewHistory(HistoryConfig{MaxEvents: 3})
	for i := 1; i <= 5; i++ {
		h.Add(Event{Seq: uint64(i), Type: "stream.text_delta", Timestamp: time.Now()})
	}

	got := h.Query(EventFilter{})
	assert.Len(t, got, 3)
	assert.Equal(t, uint64(3), got[0].Seq)
	assert.Equal(t, uint64(5), got[2].Seq)
}

func TestHistory_QueryFilters(t *testing.T) {
	h := NewHistory(HistoryConfig{})
	seqEvents(h, "a", "stream.text_delta", "permission.requested", "stream.result")
	seqEvents(h, "b", "stream.text_delta", "session.closed")

	assert.Len(t, h.Query(EventFilter{Conversation: "a"}), 3)
	assert.Len(t, h.Query(EventFilter{Types: []string{"stream.*"}}), 3)
	assert.Len(t, h.Query(EventFilter{Types: []string{"stream.*", "permission.*"}, Conversation: "a"}), 3)
	assert.Len(t, h.Query(EventFilter{Types: []string{"session.*"}, Conversation: "a"}), 0)
	assert.Len(t, h.Query(EventFilter{Types: []string{"bad*"}}), 0)

	after := h.Query(EventFilter{AfterSeq: 3})
	assert.Len(t, after, 2)
	assert.Equal(t, "b", after[0].Conversation)

	limited := h.Query(EventFilter{Conversation: "a", Limit: 1})
	assert.Equal(t, "stream.result", limited[0].Type)
}

func TestHistory_TimeRange(t *testing.T) {
	h := NewHistory(HistoryConfig{})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		h.Add(Event{Seq: uint64(i + 1), Type: "x", Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}

	got := h.Query(EventFilter{Since: base.Add(time.Minute), Until: base.Add(3 * time.Minute)})
	assert.Len(t, got, 3)
}

func TestHistory_PruneAndForget(t *testing.T) {
	h := NewHistory(HistoryConfig{MaxAge: time.Minute})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	h.Add(Event{Seq: 1, Type: "x", Conversation: "a", Timestamp: now.Add(-2 * time.Minute)})
	h.Add(Event{Seq: 2, Type: "x", Conversation: "a", Timestamp: now.Add(-10 * time.Second)})
	h.Add(Event{Seq: 3, Type: "x", Conversation: "b", Timestamp: now})

	h.Prune()
	assert.Equal(t, 2, h.Len())

	h.Forget("a")
	got := h.Query(EventFilter{})
	assert.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Conversation)
}

func TestHistory_Concurrency(t *testing.T) {
	h := NewHistory(HistoryConfig{MaxEvents: 500})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Add(Event{Type: "stream.text_delta", Conversation: fmt.Sprint(i), Timestamp: time.Now()})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				h.Query(EventFilter{Types: []string{"stream.*"}})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 500, h.Len())
}
