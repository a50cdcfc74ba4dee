// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"sync"
	"time"
)

// HistoryConfig bounds event retention.
type HistoryConfig struct {
	MaxEvents int
	MaxAge    time.Duration
}

// History keeps recent events in publish order so reconnecting clients can
// replay a conversation.
type History struct {
	mu        sync.RWMutex
	events    []Event
	maxEvents int
	maxAge    time.Duration
	now       func() time.Time
}

// NewHistory creates an empty history. Zero limits default to 10000 events
// and one hour.
func NewHistory(cfg HistoryConfig) *History {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 10000
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Hour
	}
	return &History{
		maxEvents: cfg.MaxEvents,
		maxAge:    cfg.MaxAge,
		now:       time.Now,
	}
}

// Add appends an event, dropping the oldest beyond the count limit.
func (h *History) Add(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	if over := len(h.events) - h.maxEvents; over > 0 {
		h.events = append([]Event(nil), h.events[over:]...)
	}
}

// Query returns matching events oldest first.
func (h *History) Query(filter EventFilter) []Event {
	var patterns []Pattern
	for _, t := range filter.Types {
		if p, err := CompilePattern(t); err == nil {
			patterns = append(patterns, p)
		}
	}
	if len(filter.Types) > 0 && len(patterns) == 0 {
		return []Event{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]Event, 0)
	for _, event := range h.events {
		if matches(event, filter, patterns) {
			result = append(result, event)
		}
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[len(result)-filter.Limit:]
	}
	return result
}

func matches(event Event, filter EventFilter, patterns []Pattern) bool {
	if len(patterns) > 0 {
		ok := false
		for _, p := range patterns {
			if p.Match(event.Type) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if filter.Conversation != "" && event.Conversation != filter.Conversation {
		return false
	}
	if filter.AfterSeq > 0 && event.Seq <= filter.AfterSeq {
		return false
	}
	if !filter.Since.IsZero() && event.Timestamp.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && event.Timestamp.After(filter.Until) {
		return false
	}
	return true
}

// Forget drops every event of a conversation.
func (h *History) Forget(conversation string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.events[:0]
	for _, e := range h.events {
		if e.Conversation != conversation {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(h.events); i++ {
		h.events[i] = Event{}
	}
	h.events = kept
}

// Prune drops events older than the age limit.
func (h *History) Prune() {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.now().Add(-h.maxAge)
	i := 0
	for i < len(h.events) && h.events[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		h.events = append([]Event(nil), h.events[i:]...)
	}
}

// Len returns the number of retained events.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.events)
}

// Close releases retained events.
func (h *History) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = nil
}
