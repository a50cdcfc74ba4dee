// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classifyAll(t *testing.T, s *Session, lines ...string) []Event {
	t.Helper()
	var out []Event
	for _, l := range lines {
		evs, err := Classify(l, s)
		require.NoError(t, err, l)
		out = append(out, evs...)
	}
	return out
}

func kinds(events []Event) []Kind {
	out := make([]Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind()
	}
	return out
}

func messages(events []Event) []string {
	var out []string
	for _, ev := range events {
		if m, ok := ev.(Message); ok {
			out = append(out, m.Content)
		}
	}
	return out
}

func TestClassify_ToolResultResolvesName(t *testing.T) {
	s := NewSession("conv", 0)
	events := classifyAll(t, s,
		`{"type":"tool_use","id":"t1","name":"Read","input":{"file_path":"a.py"}}`,
		`{"type":"tool_result","tool_use_id":"t1","content":"ok"}`,
	)

	require.Len(t, events, 2)
	use := events[0].(ToolUse)
	assert.Equal(t, "t1", use.ID)
	assert.Equal(t, "Read", use.Name)
	assert.JSONEq(t, `{"file_path":"a.py"}`, string(use.RawInput))

	res := events[1].(ToolResult)
	assert.Equal(t, "Read", res.ToolName)
	assert.Equal(t, "ok", res.Content)
	assert.Equal(t, "conv", res.ConversationID)
}

func TestClassify_ToolResultUnknownID(t *testing.T) {
	s := NewSession("conv", 0)
	events := classifyAll(t, s, `{"type":"tool_result","tool_use_id":"nope","content":[{"type":"text","text":"a"},{"type":"text","text":"b"}],"is_error":true}`)

	require.Len(t, events, 1)
	res := events[0].(ToolResult)
	assert.Equal(t, UnknownTool, res.ToolName)
	assert.Equal(t, "a\nb", res.Content)
	assert.True(t, res.IsError)
}

func TestClassify_ToolNamesOutliveTurns(t *testing.T) {
	s := NewSession("conv", 0)
	classifyAll(t, s,
		`{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}`,
		`{"type":"result","subtype":"success"}`,
	)
	events := classifyAll(t, s, `{"type":"tool_result","tool_use_id":"t1","content":"x"}`)
	assert.Equal(t, "Bash", events[0].(ToolResult).ToolName)
}

func TestClassify_MalformedLine(t *testing.T) {
	s := NewSession("conv", 0)
	_, err := Classify(`{"type":"text_delta",`, s)
	require.Error(t, err)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, `{"type":"text_delta",`, perr.Line)
	assert.NotNil(t, errors.Unwrap(err))

	events := classifyAll(t, s, `{"type":"text_delta","text":"still alive"}`)
	assert.Equal(t, []Kind{KindTextDelta}, kinds(events))
}

func TestClassify_IgnoresUnknownAndBlank(t *testing.T) {
	s := NewSession("conv", 0)
	events := classifyAll(t, s,
		``,
		`   `,
		`{"type":"future_thing","x":1}`,
		`{"no_type":true}`,
		`{"type":"system","subtype":"init"}`,
	)
	assert.Empty(t, events)
}

func TestClassify_UnknownTypesWithOddFields(t *testing.T) {
	s := NewSession("conv", 0)
	for _, l := range []string{
		`{"type":"future_kind","id":7}`,
		`{"type":"future_kind","name":{"first":"x"}}`,
		`{"type":"future_kind","text":["a","b"],"is_error":"yes"}`,
		`{"type":3,"request":"nope"}`,
	} {
		evs, err := Classify(l, s)
		require.NoError(t, err, l)
		assert.Empty(t, evs, l)
	}

	// A session id on an unknown line still starts the session.
	evs, err := Classify(`{"type":"future_kind","id":7,"session_id":"sess-9"}`, s)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "sess-9", evs[0].(SessionStart).SessionID)
}

func TestClassify_NonObjectLine(t *testing.T) {
	_, err := Classify(`[1,2,3]`, NewSession("conv", 0))
	var perr *ParseError
	assert.True(t, errors.As(err, &perr))
}

func TestClassify_SessionStartOnce(t *testing.T) {
	s := NewSession("conv", 0)
	events := classifyAll(t, s,
		`{"type":"system","subtype":"init","session_id":"abc"}`,
		`{"type":"text_delta","text":"hi","session_id":"abc"}`,
		`{"type":"result","session_id":"abc"}`,
	)

	assert.Equal(t, []Kind{KindSessionStart, KindTextDelta, KindMessage, KindResult}, kinds(events))
	assert.Equal(t, "abc", events[0].(SessionStart).SessionID)
	assert.Equal(t, "abc", s.SessionID())
}

func TestClassify_StreamedTextFlushedOnce(t *testing.T) {
	s := NewSession("conv", 0)
	events := classifyAll(t, s,
		`{"type":"text_delta","text":"Hel"}`,
		`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Hello"}]}}`,
		`{"type":"result","subtype":"success","result":"Hello","total_cost_usd":0.01}`,
	)

	assert.Equal(t, []string{"Hello"}, messages(events))
	assert.Equal(t, []Kind{KindTextDelta, KindTextDelta, KindMessage, KindResult}, kinds(events))
	assert.Empty(t, s.AccumulatedText())
}

func TestClassify_ResultTextFallback(t *testing.T) {
	s := NewSession("conv", 0)
	events := classifyAll(t, s, `{"type":"result","result":"only here"}`)

	assert.Equal(t, []string{"only here"}, messages(events))
	assert.True(t, events[len(events)-1].(Result).EndOfTurn)
}

func TestClassify_AssistantTextCandidate(t *testing.T) {
	s := NewSession("conv", 0)
	events := classifyAll(t, s,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Let me look."},{"type":"tool_use","id":"t9","name":"Grep","input":{"pattern":"x"}}]}}`,
	)

	require.Equal(t, []Kind{KindMessage, KindToolUse}, kinds(events))
	assert.Equal(t, "Let me look.", events[0].(Message).Content)
	assert.Equal(t, "Grep", events[1].(ToolUse).Name)
}

func TestClassify_CandidateIgnoredAfterDeltas(t *testing.T) {
	s := NewSession("conv", 0)
	events := classifyAll(t, s,
		`{"type":"text_delta","text":"streamed"}`,
		`{"type":"message"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"streamed"}]}}`,
		`{"type":"message"}`,
	)
	assert.Equal(t, []string{"streamed"}, messages(events))
}

func TestClassify_ToolUseFlushesPendingText(t *testing.T) {
	s := NewSession("conv", 0)
	events := classifyAll(t, s,
		`{"type":"text_delta","text":"Running tests"}`,
		`{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"go test"}}`,
	)
	assert.Equal(t, []Kind{KindTextDelta, KindMessage, KindToolUse}, kinds(events))
}

func TestClassify_ResultContinuesOnToolUse(t *testing.T) {
	s := NewSession("conv", 0)
	events := classifyAll(t, s,
		`{"type":"text_delta","text":"step one"}`,
		`{"type":"result","stop_reason":"tool_use"}`,
	)
	res := events[len(events)-1].(Result)
	assert.False(t, res.EndOfTurn)
	assert.Equal(t, TurnStreaming, s.TurnState())
	assert.False(t, s.TurnCompleted())
	id := s.StreamingID()
	assert.NotEmpty(t, id)

	events = classifyAll(t, s,
		`{"type":"text_delta","text":"step two"}`,
		`{"type":"result","is_done":true,"result":"step two"}`,
	)
	assert.Equal(t, []string{"step two"}, messages(events))
	assert.True(t, events[len(events)-1].(Result).EndOfTurn)
	assert.Equal(t, TurnIdle, s.TurnState())
	assert.True(t, s.TurnCompleted())
	assert.Empty(t, s.StreamingID())
}

func TestClassify_ResultUsage(t *testing.T) {
	s := NewSession("conv", 0)
	events := classifyAll(t, s,
		`{"type":"result","usage":{"input_tokens":100,"output_tokens":20,"cache_read_input_tokens":5},"total_cost_usd":0.25}`,
	)

	res := events[0].(Result)
	assert.Equal(t, 0.25, res.Cost)
	require.NotNil(t, res.Usage)
	assert.Equal(t, int64(100), res.Usage.InputTokens)
	assert.Equal(t, int64(20), res.Usage.OutputTokens)

	totals := s.Usage()
	assert.Equal(t, 1, totals.Turns)
	assert.Equal(t, int64(125), totals.Context.Used)
	assert.Equal(t, int64(200000), totals.Context.Window)
}

func TestClassify_ErrorResult(t *testing.T) {
	s := NewSession("conv", 0)
	events := classifyAll(t, s,
		`{"type":"result","subtype":"error_during_execution","is_error":true,"errors":["boom","bang"]}`,
	)

	require.Equal(t, []Kind{KindError, KindResult}, kinds(events))
	assert.Equal(t, "boom; bang", events[0].(Error).Message)
	assert.True(t, events[1].(Result).IsError)
}

func TestClassify_ErrorMessage(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{`{"type":"error","message":"rate limited"}`, "rate limited"},
		{`{"type":"error","error":{"type":"overloaded","message":"overloaded"}}`, "overloaded"},
		{`{"type":"error","error":"plain"}`, "plain"},
		{`{"type":"error"}`, "unknown error"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			events := classifyAll(t, NewSession("conv", 0), tt.line)
			require.Len(t, events, 1)
			assert.Equal(t, tt.want, events[0].(Error).Message)
		})
	}
}

func TestClassify_ContextFromMessageStart(t *testing.T) {
	s := NewSession("conv", 1000)
	classifyAll(t, s,
		`{"type":"stream_event","event":{"type":"message_start","message":{"usage":{"input_tokens":300,"cache_read_input_tokens":200}}}}`,
	)

	totals := s.Usage()
	assert.Equal(t, 0, totals.Turns)
	assert.Equal(t, int64(500), totals.Context.Used)
	assert.Equal(t, int64(1000), totals.Context.Window)
	assert.Equal(t, 50.0, totals.Context.Percent())
}

func TestClassify_UserToolResults(t *testing.T) {
	s := NewSession("conv", 0)
	events := classifyAll(t, s,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t1","name":"Edit","input":{"file_path":"x.go"}}]}}`,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"done"}]}}`,
	)

	require.Equal(t, []Kind{KindToolUse, KindToolResult}, kinds(events))
	assert.Equal(t, "Edit", events[1].(ToolResult).ToolName)
}

func TestClassify_ControlRequest(t *testing.T) {
	s := NewSession("conv-A", 0)
	events := classifyAll(t, s,
		`{"type":"control_request","request_id":"r1","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"npm i"},"tool_use_id":"tu1","permission_suggestions":[{"type":"addRules"}]}}`,
	)

	require.Len(t, events, 1)
	req := events[0].(ControlRequest)
	assert.Equal(t, "conv-A", req.ConversationID)
	assert.Equal(t, "r1", req.RequestID)
	assert.Equal(t, "can_use_tool", req.Subtype)
	assert.Equal(t, "Bash", req.ToolName)
	assert.Equal(t, "tu1", req.ToolUseID)
	assert.JSONEq(t, `{"command":"npm i"}`, string(req.Input))
	assert.Len(t, req.Suggestions, 1)
	assert.Equal(t, TurnIdle, s.TurnState())
}

func TestClassify_ControlRequestUnreadableBody(t *testing.T) {
	s := NewSession("conv-A", 0)
	events := classifyAll(t, s, `{"type":"control_request","request_id":"r1","request":"can_use_tool"}`)

	require.Len(t, events, 1)
	e, ok := events[0].(Error)
	require.True(t, ok)
	assert.Equal(t, "conv-A", e.ConversationID)
	assert.Contains(t, e.Message, `"r1"`)
}

func TestClassify_ControlResponseUnreadableBody(t *testing.T) {
	line := `{"type":"control_response","response":["x"]}`
	events := classifyAll(t, NewSession("conv", 0), line)

	require.Len(t, events, 1)
	resp := events[0].(ControlResponse)
	assert.Empty(t, resp.RequestID)
	assert.JSONEq(t, line, string(resp.Raw))
}

func TestClassify_ControlResponse(t *testing.T) {
	line := `{"type":"control_response","response":{"subtype":"success","request_id":"r2"}}`
	events := classifyAll(t, NewSession("conv", 0), line)

	require.Len(t, events, 1)
	resp := events[0].(ControlResponse)
	assert.Equal(t, "r2", resp.RequestID)
	assert.Equal(t, "success", resp.Subtype)
	assert.JSONEq(t, line, string(resp.Raw))

	_, ok := ConversationOf(resp)
	assert.False(t, ok)
}

func TestClassify_AccountInfo(t *testing.T) {
	events := classifyAll(t, NewSession("conv", 0), `{"type":"account_info","subscription_type":"max"}`)
	require.Len(t, events, 1)
	assert.Equal(t, "max", events[0].(AccountInfo).SubscriptionType)
}

func TestEvent_JSON(t *testing.T) {
	b, err := json.Marshal(ToolResult{Origin: Origin{ConversationID: "c"}, ToolUseID: "t1", ToolName: "Read", Content: "ok"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"conversation_id":"c","tool_use_id":"t1","tool_name":"Read","content":"ok"}`, string(b))
}
