// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package stream reassembles newline-delimited JSON events from agent
// subprocess output and keeps per-conversation parser state isolated.
package stream

import (
	"encoding/json"

	"github.com/wingedpig/sessionmux/internal/usage"
)

// Kind names an event variant. Kinds are stable and used as event bus types
// and metric labels.
type Kind string

const (
	KindSessionStart    Kind = "session_start"
	KindToolUse         Kind = "tool_use"
	KindToolResult      Kind = "tool_result"
	KindTextDelta       Kind = "text_delta"
	KindMessage         Kind = "message"
	KindResult          Kind = "result"
	KindError           Kind = "error"
	KindAccountInfo     Kind = "account_info"
	KindControlRequest  Kind = "control_request"
	KindControlResponse Kind = "control_response"
)

// Event is one classified stream event. The set of implementations is closed.
type Event interface {
	Kind() Kind
	isEvent()
}

// Origin identifies the conversation an event was read from.
type Origin struct {
	ConversationID string `json:"conversation_id"`
}

// SessionStart reports the subprocess session id the first time it is seen.
type SessionStart struct {
	Origin
	SessionID string `json:"session_id"`
}

// ToolUse is a tool invocation by the assistant.
type ToolUse struct {
	Origin
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	RawInput json.RawMessage `json:"input,omitempty"`
}

// ToolResult is the outcome of a tool invocation. ToolName is resolved from
// the session's tool table and is "Unknown" for ids it has never seen.
type ToolResult struct {
	Origin
	ToolUseID string `json:"tool_use_id"`
	ToolName  string `json:"tool_name"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextDelta is an incremental piece of assistant text.
type TextDelta struct {
	Origin
	Text string `json:"text"`
}

// Message is a fully flushed assistant message.
type Message struct {
	Origin
	Content string `json:"content"`
}

// Result summarises a turn. EndOfTurn is the outcome of EndOfTurn applied to
// this result.
type Result struct {
	Origin
	Subtype    string          `json:"subtype,omitempty"`
	IsDone     *bool           `json:"is_done,omitempty"`
	StopReason string          `json:"stop_reason,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	Usage      *usage.Snapshot `json:"usage,omitempty"`
	Cost       float64         `json:"cost,omitempty"`
	EndOfTurn  bool            `json:"end_of_turn"`
}

// Error is an error reported by the subprocess.
type Error struct {
	Origin
	Message string `json:"message"`
}

// AccountInfo carries account details announced by the subprocess.
type AccountInfo struct {
	Origin
	SubscriptionType string `json:"subscription_type,omitempty"`
}

// ControlRequest asks for a permission decision on a tool invocation.
type ControlRequest struct {
	Origin
	RequestID   string            `json:"request_id"`
	Subtype     string            `json:"subtype,omitempty"`
	ToolName    string            `json:"tool_name"`
	ToolUseID   string            `json:"tool_use_id,omitempty"`
	Input       json.RawMessage   `json:"input,omitempty"`
	Suggestions []json.RawMessage `json:"suggestions,omitempty"`
}

// ControlResponse is an echoed control response. It is informational only
// and carries no conversation.
type ControlResponse struct {
	RequestID string          `json:"request_id,omitempty"`
	Subtype   string          `json:"subtype,omitempty"`
	Raw       json.RawMessage `json:"raw"`
}

func (SessionStart) Kind() Kind    { return KindSessionStart }
func (ToolUse) Kind() Kind         { return KindToolUse }
func (ToolResult) Kind() Kind      { return KindToolResult }
func (TextDelta) Kind() Kind       { return KindTextDelta }
func (Message) Kind() Kind         { return KindMessage }
func (Result) Kind() Kind          { return KindResult }
func (Error) Kind() Kind           { return KindError }
func (AccountInfo) Kind() Kind     { return KindAccountInfo }
func (ControlRequest) Kind() Kind  { return KindControlRequest }
func (ControlResponse) Kind() Kind { return KindControlResponse }

func (SessionStart) isEvent()    {}
func (ToolUse) isEvent()         {}
func (ToolResult) isEvent()      {}
func (TextDelta) isEvent()       {}
func (Message) isEvent()         {}
func (Result) isEvent()          {}
func (Error) isEvent()           {}
func (AccountInfo) isEvent()     {}
func (ControlRequest) isEvent()  {}
func (ControlResponse) isEvent() {}

// ConversationOf returns the conversation an event belongs to. ControlResponse
// events report false.
func ConversationOf(ev Event) (string, bool) {
	switch e := ev.(type) {
	case SessionStart:
		return e.ConversationID, true
	case ToolUse:
		return e.ConversationID, true
	case ToolResult:
		return e.ConversationID, true
	case TextDelta:
		return e.ConversationID, true
	case Message:
		return e.ConversationID, true
	case Result:
		return e.ConversationID, true
	case Error:
		return e.ConversationID, true
	case AccountInfo:
		return e.ConversationID, true
	case ControlRequest:
		return e.ConversationID, true
	}
	return "", false
}
