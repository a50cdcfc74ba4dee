// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package stream

import "github.com/google/uuid"

// TurnState is the lifecycle position of a conversation's current turn.
type TurnState int

const (
	TurnIdle TurnState = iota
	TurnStreaming
	TurnFinalizing
)

func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnStreaming:
		return "streaming"
	case TurnFinalizing:
		return "finalizing"
	}
	return "unknown"
}

// MarshalText renders the state by name.
func (s TurnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StopReasonToolUse is the stop reason reported when the model paused to run
// a tool and will continue once results are in.
const StopReasonToolUse = "tool_use"

// EndOfTurn decides whether a result ends the turn. Precedence:
//
//  1. an explicit is_done flag is trusted as-is;
//  2. otherwise stop_reason "tool_use" means more output follows;
//  3. otherwise a result ends the turn.
func EndOfTurn(r Result) bool {
	if r.IsDone != nil {
		return *r.IsDone
	}
	if r.StopReason == StopReasonToolUse {
		return false
	}
	return true
}

// Turn tracks Idle → Streaming → Finalizing → Idle for one conversation.
type Turn struct {
	state TurnState
	id    string
}

// State returns the current lifecycle state.
func (t *Turn) State() TurnState { return t.state }

// ID returns the streaming id of the active turn, or "" when idle.
func (t *Turn) ID() string { return t.id }

// Begin records turn output (a text delta, tool use or message). It reports
// whether this output started a new turn.
func (t *Turn) Begin() bool {
	if t.state != TurnIdle {
		t.state = TurnStreaming
		return false
	}
	t.state = TurnStreaming
	t.id = uuid.NewString()
	return true
}

// Finish applies a result and reports whether the turn ended.
func (t *Turn) Finish(r Result) bool {
	t.state = TurnFinalizing
	if !EndOfTurn(r) {
		t.state = TurnStreaming
		if t.id == "" {
			t.id = uuid.NewString()
		}
		return false
	}
	t.state = TurnIdle
	t.id = ""
	return true
}

// Reset returns the turn to idle.
func (t *Turn) Reset() {
	t.state = TurnIdle
	t.id = ""
}
