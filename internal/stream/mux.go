// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"errors"
	"log"
	"sort"
	"sync"
)

// ErrSessionNotFound is returned for conversations the multiplexer has no
// state for.
var ErrSessionNotFound = errors.New("session not found")

// Options configures a Mux.
type Options struct {
	// ContextWindow is the fallback model context window in tokens.
	ContextWindow int64

	// OnParseError is called for every malformed line, after it is logged.
	OnParseError func(conversationID string, err *ParseError)

	// Debug logs every classified event.
	Debug bool
}

// Mux routes raw subprocess output to per-conversation parser state and
// delivers the resulting events to a handler.
type Mux struct {
	handler Handler
	opts    Options

	mu       sync.RWMutex
	sessions map[string]*Session
	def      *Session
}

// NewMux creates a multiplexer delivering events to h.
func NewMux(h Handler, opts Options) *Mux {
	if h == nil {
		h = HandlerFuncs{}
	}
	return &Mux{
		handler:  h,
		opts:     opts,
		sessions: make(map[string]*Session),
		def:      NewSession("", opts.ContextWindow),
	}
}

// Feed processes a chunk of output from conversationID. Events are delivered
// to the handler before Feed returns, in stream order. The empty id addresses
// the default session. Handlers must not feed the same conversation
// re-entrantly.
func (m *Mux) Feed(conversationID string, chunk []byte) {
	s := m.session(conversationID, true)

	s.mu.Lock()
	defer s.mu.Unlock()

	events, errs := s.Feed(chunk)
	for _, err := range errs {
		var perr *ParseError
		if !errors.As(err, &perr) {
			continue
		}
		log.Printf("mux [%s]: discarding malformed line: %v", conversationID, perr)
		if m.opts.OnParseError != nil {
			m.opts.OnParseError(conversationID, perr)
		}
	}
	for _, ev := range events {
		if m.opts.Debug {
			log.Printf("mux [%s]: %s", conversationID, ev.Kind())
		}
		Dispatch(m.handler, ev)
	}
}

// FeedString is Feed for string chunks.
func (m *Mux) FeedString(conversationID, chunk string) {
	m.Feed(conversationID, []byte(chunk))
}

// Reset clears one conversation's state. Other conversations are untouched.
func (m *Mux) Reset(conversationID string) {
	s := m.session(conversationID, false)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.reset()
	s.mu.Unlock()
}

// Dispose removes a conversation's state. It reports whether state existed.
// Disposing the default session resets it.
func (m *Mux) Dispose(conversationID string) bool {
	if conversationID == "" {
		m.Reset("")
		return true
	}
	m.mu.Lock()
	_, ok := m.sessions[conversationID]
	delete(m.sessions, conversationID)
	m.mu.Unlock()
	return ok
}

// ResetAll discards every conversation's state.
func (m *Mux) ResetAll() {
	m.mu.Lock()
	m.sessions = make(map[string]*Session)
	m.def = NewSession("", m.opts.ContextWindow)
	m.mu.Unlock()
}

// Snapshot returns a copy of a conversation's observable state.
func (m *Mux) Snapshot(conversationID string) (Snapshot, error) {
	s := m.session(conversationID, false)
	if s == nil {
		return Snapshot{}, ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

// Conversations lists the named conversations with state, sorted.
func (m *Mux) Conversations() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of named conversations with state.
func (m *Mux) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Mux) session(conversationID string, create bool) *Session {
	if conversationID == "" {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.def
	}

	m.mu.RLock()
	s := m.sessions[conversationID]
	m.mu.RUnlock()
	if s != nil || !create {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s = m.sessions[conversationID]; s == nil {
		s = NewSession(conversationID, m.opts.ContextWindow)
		m.sessions[conversationID] = s
	}
	return s
}
