// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"strings"
	"sync"
	"time"

	"github.com/wingedpig/sessionmux/internal/usage"
)

// UnknownTool is the name reported for tool results whose id was never seen.
const UnknownTool = "Unknown"

// Session is the parser state of one conversation. All fields are owned by
// the session; nothing is shared with other conversations.
type Session struct {
	mu sync.Mutex

	conversationID string
	contextWindow  int64

	lines       LineAssembler
	accumulated strings.Builder
	candidate   string
	sawDelta    bool
	flushed     bool

	toolNames     map[string]string
	turn          Turn
	turnCompleted bool
	sessionID     string
	totals        usage.Totals
	lastActivity  time.Time
}

// NewSession creates empty parser state for a conversation. contextWindow is
// the fallback window used when payloads do not advertise one.
func NewSession(conversationID string, contextWindow int64) *Session {
	return &Session{
		conversationID: conversationID,
		contextWindow:  contextWindow,
		toolNames:      make(map[string]string),
	}
}

// ConversationID returns the conversation this state belongs to.
func (s *Session) ConversationID() string { return s.conversationID }

// ToolName looks up the name recorded for a tool invocation id.
func (s *Session) ToolName(id string) (string, bool) {
	name, ok := s.toolNames[id]
	return name, ok
}

// AccumulatedText returns streamed text not yet flushed as a Message.
func (s *Session) AccumulatedText() string { return s.accumulated.String() }

// SessionID returns the subprocess session id, once announced.
func (s *Session) SessionID() string { return s.sessionID }

// TurnState returns the current turn lifecycle state.
func (s *Session) TurnState() TurnState { return s.turn.State() }

// StreamingID returns the id of the turn in progress.
func (s *Session) StreamingID() string { return s.turn.ID() }

// TurnCompleted reports whether the most recent result ended the turn and no
// new output has arrived since.
func (s *Session) TurnCompleted() bool { return s.turnCompleted }

// Usage returns the accumulated usage totals.
func (s *Session) Usage() usage.Totals { return s.totals }

// Feed assembles chunk into lines and classifies each one. Events are
// returned in stream order. Malformed lines are reported in errs and skipped.
// The caller must hold exclusive access to the session.
func (s *Session) Feed(chunk []byte) (events []Event, errs []error) {
	s.lastActivity = time.Now()
	for _, line := range s.lines.Feed(chunk) {
		evs, err := Classify(line, s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, evs...)
	}
	return events, errs
}

// snapshot copies observable state. The caller must hold s.mu.
func (s *Session) snapshot() Snapshot {
	return Snapshot{
		ConversationID: s.conversationID,
		SessionID:      s.sessionID,
		Turn:           s.turn.State(),
		StreamingID:    s.turn.ID(),
		TurnCompleted:  s.turnCompleted,
		KnownTools:     len(s.toolNames),
		PendingBytes:   len(s.lines.Pending()),
		Usage:          s.totals,
		LastActivity:   s.lastActivity,
	}
}

func (s *Session) reset() {
	s.lines.Reset()
	s.accumulated.Reset()
	s.candidate = ""
	s.sawDelta = false
	s.flushed = false
	s.toolNames = make(map[string]string)
	s.turn.Reset()
	s.turnCompleted = false
	s.sessionID = ""
	s.totals = usage.Totals{}
	s.lastActivity = time.Time{}
}

// Snapshot is a point-in-time copy of a session's observable state.
type Snapshot struct {
	ConversationID string       `json:"conversation_id"`
	SessionID      string       `json:"session_id,omitempty"`
	Turn           TurnState    `json:"turn"`
	StreamingID    string       `json:"streaming_id,omitempty"`
	TurnCompleted  bool         `json:"turn_completed"`
	KnownTools     int          `json:"known_tools"`
	PendingBytes   int          `json:"pending_bytes"`
	Usage          usage.Totals `json:"usage"`
	LastActivity   time.Time    `json:"last_activity"`
}
