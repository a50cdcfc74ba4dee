// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/wingedpig/sessionmux/internal/usage"
)

// ParseError reports a line that was not a JSON object. The line is dropped
// and the session continues.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed stream line: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// header holds the fields read from every line. Both are raw so that lines of
// unknown types never fail to decode.
type header struct {
	Type      json.RawMessage `json:"type"`
	SessionID json.RawMessage `json:"session_id"`
}

// knownTypes are the line types decoded in full. Anything else is skipped.
var knownTypes = map[string]bool{
	"tool_use":         true,
	"tool_result":      true,
	"text_delta":       true,
	"stream_event":     true,
	"assistant":        true,
	"user":             true,
	"message":          true,
	"result":           true,
	"error":            true,
	"account_info":     true,
	"control_request":  true,
	"control_response": true,
}

// stringField returns raw as a string, or "" when it is not a JSON string.
func stringField(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// line is the union of top-level fields used by the event vocabulary.
type line struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`

	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
	Text      string          `json:"text"`

	Event   json.RawMessage `json:"event"`
	Message json.RawMessage `json:"message"`

	IsDone     *bool           `json:"is_done"`
	StopReason string          `json:"stop_reason"`
	Result     json.RawMessage `json:"result"`
	Errors     json.RawMessage `json:"errors"`
	Error      json.RawMessage `json:"error"`

	RequestID string          `json:"request_id"`
	Request   json.RawMessage `json:"request"`
	Response  json.RawMessage `json:"response"`

	SubscriptionType string `json:"subscription_type"`
}

type messageBody struct {
	Content json.RawMessage `json:"content"`
	Usage   json.RawMessage `json:"usage"`
}

type contentItem struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	Text      string          `json:"text"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

type innerEvent struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Message struct {
		Usage json.RawMessage `json:"usage"`
	} `json:"message"`
}

type controlBody struct {
	Subtype               string            `json:"subtype"`
	ToolName              string            `json:"tool_name"`
	ToolUseID             string            `json:"tool_use_id"`
	Input                 json.RawMessage   `json:"input"`
	Suggestions           []json.RawMessage `json:"suggestions"`
	PermissionSuggestions []json.RawMessage `json:"permission_suggestions"`
}

// Classify decodes one line against the session's state and returns the
// events it produces in order. Blank lines and unknown types produce nothing.
// The caller must hold exclusive access to s.
func Classify(raw string, s *Session) ([]Event, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	data := []byte(trimmed)

	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, &ParseError{Line: raw, Err: err}
	}
	typ := stringField(h.Type)

	var l line
	if knownTypes[typ] {
		if err := json.Unmarshal(data, &l); err != nil {
			return nil, &ParseError{Line: raw, Err: err}
		}
	}

	c := &classification{s: s, origin: Origin{ConversationID: s.conversationID}}
	if sid := stringField(h.SessionID); sid != "" && s.sessionID == "" {
		s.sessionID = sid
		c.events = append(c.events, SessionStart{Origin: c.origin, SessionID: sid})
	}

	switch typ {
	case "tool_use":
		c.flush()
		c.toolUse(l.ID, l.Name, l.Input)
	case "tool_result":
		c.toolResult(l.ToolUseID, l.Content, l.IsError)
	case "text_delta":
		c.delta(l.Text)
	case "stream_event":
		c.streamEvent(l.Event)
	case "assistant":
		c.assistant(l.Message)
	case "user":
		c.user(l.Message)
	case "message":
		c.flush()
	case "result":
		c.result(&l, data)
	case "error":
		c.add(Error{Origin: c.origin, Message: errorMessage(&l)})
	case "account_info":
		c.add(AccountInfo{Origin: c.origin, SubscriptionType: l.SubscriptionType})
	case "control_request":
		c.controlRequest(&l)
	case "control_response":
		c.controlResponse(&l, data)
	}
	return c.events, nil
}

type classification struct {
	s      *Session
	origin Origin
	events []Event
}

func (c *classification) add(ev Event) {
	switch ev.(type) {
	case TextDelta, ToolUse, Message:
		if c.s.turn.Begin() {
			c.s.turnCompleted = false
		}
	}
	c.events = append(c.events, ev)
}

// flush emits pending text as a Message. Streamed deltas win; the assistant
// text candidate is only used when nothing was streamed this turn.
func (c *classification) flush() {
	s := c.s
	text := s.accumulated.String()
	if text == "" && !s.sawDelta {
		text = s.candidate
	}
	s.accumulated.Reset()
	s.candidate = ""
	if text == "" {
		return
	}
	s.flushed = true
	c.add(Message{Origin: c.origin, Content: text})
}

func (c *classification) delta(text string) {
	if text == "" {
		return
	}
	c.s.sawDelta = true
	c.s.accumulated.WriteString(text)
	c.add(TextDelta{Origin: c.origin, Text: text})
}

func (c *classification) toolUse(id, name string, input json.RawMessage) {
	if id != "" {
		c.s.toolNames[id] = name
	}
	c.add(ToolUse{Origin: c.origin, ID: id, Name: name, RawInput: input})
}

func (c *classification) toolResult(id string, content json.RawMessage, isError bool) {
	name, ok := c.s.toolNames[id]
	if !ok {
		name = UnknownTool
	}
	c.add(ToolResult{
		Origin:    c.origin,
		ToolUseID: id,
		ToolName:  name,
		Content:   contentText(content),
		IsError:   isError,
	})
}

func (c *classification) streamEvent(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var ev innerEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	switch ev.Type {
	case "message_start":
		c.s.totals.ObserveContext(usage.ExtractMessageUsage(ev.Message.Usage), c.s.contextWindow)
	case "content_block_delta":
		if ev.Delta.Type == "" || ev.Delta.Type == "text_delta" {
			c.delta(ev.Delta.Text)
		}
	case "":
		if ev.Delta.Text != "" {
			c.delta(ev.Delta.Text)
		} else {
			c.delta(ev.Text)
		}
	}
}

func (c *classification) assistant(raw json.RawMessage) {
	var msg messageBody
	if len(raw) == 0 || json.Unmarshal(raw, &msg) != nil {
		return
	}
	if len(msg.Usage) > 0 {
		c.s.totals.ObserveContext(usage.ExtractMessageUsage(msg.Usage), c.s.contextWindow)
	}
	for _, item := range contentItems(msg.Content) {
		switch item.Type {
		case "tool_use":
			c.flush()
			c.toolUse(item.ID, item.Name, item.Input)
		case "text":
			c.s.candidate += item.Text
		}
	}
}

func (c *classification) user(raw json.RawMessage) {
	var msg messageBody
	if len(raw) == 0 || json.Unmarshal(raw, &msg) != nil {
		return
	}
	for _, item := range contentItems(msg.Content) {
		if item.Type == "tool_result" {
			c.toolResult(item.ToolUseID, item.Content, item.IsError)
		}
	}
}

func (c *classification) result(l *line, data []byte) {
	s := c.s
	c.flush()

	text := resultText(l.Result)
	if !s.flushed && !l.IsError && text != "" {
		s.flushed = true
		c.add(Message{Origin: c.origin, Content: text})
	}
	if l.IsError {
		c.add(Error{Origin: c.origin, Message: resultError(l, text)})
	}

	snap := usage.Extract(data)
	s.totals.Fold(snap, s.contextWindow)

	res := Result{
		Origin:     c.origin,
		Subtype:    l.Subtype,
		IsDone:     l.IsDone,
		StopReason: l.StopReason,
		IsError:    l.IsError,
		Cost:       snap.CostUSD,
	}
	if !snap.IsZero() {
		res.Usage = &snap
	}
	res.EndOfTurn = s.turn.Finish(res)
	c.events = append(c.events, res)

	s.accumulated.Reset()
	s.candidate = ""
	if res.EndOfTurn {
		s.turnCompleted = true
		s.sawDelta = false
		s.flushed = false
	}
}

func (c *classification) controlRequest(l *line) {
	var body controlBody
	if len(l.Request) > 0 {
		if err := json.Unmarshal(l.Request, &body); err != nil {
			log.Printf("mux [%s]: control request %s has an unreadable body: %v", c.origin.ConversationID, l.RequestID, err)
			c.add(Error{Origin: c.origin, Message: fmt.Sprintf("unreadable control request %q: %v", l.RequestID, err)})
			return
		}
	}
	suggestions := body.Suggestions
	if len(suggestions) == 0 {
		suggestions = body.PermissionSuggestions
	}
	c.add(ControlRequest{
		Origin:      c.origin,
		RequestID:   l.RequestID,
		Subtype:     body.Subtype,
		ToolName:    body.ToolName,
		ToolUseID:   body.ToolUseID,
		Input:       body.Input,
		Suggestions: suggestions,
	})
}

func (c *classification) controlResponse(l *line, data []byte) {
	var body struct {
		Subtype   string `json:"subtype"`
		RequestID string `json:"request_id"`
	}
	if len(l.Response) > 0 {
		if err := json.Unmarshal(l.Response, &body); err != nil {
			log.Printf("mux [%s]: control response has an unreadable body: %v", c.origin.ConversationID, err)
		}
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	c.add(ControlResponse{RequestID: body.RequestID, Subtype: body.Subtype, Raw: raw})
}

// contentItems accepts either an array of content blocks or a bare string,
// which becomes a single text block.
func contentItems(raw json.RawMessage) []contentItem {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	if raw[0] == '"' {
		var text string
		if json.Unmarshal(raw, &text) != nil || text == "" {
			return nil
		}
		return []contentItem{{Type: "text", Text: text}}
	}
	var items []contentItem
	if json.Unmarshal(raw, &items) != nil {
		return nil
	}
	return items
}

// contentText flattens tool result content: a string is used as-is, text
// blocks are joined by newlines, anything else is passed through as JSON.
func contentText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var text string
	if json.Unmarshal(raw, &text) == nil {
		return text
	}
	var items []contentItem
	if json.Unmarshal(raw, &items) == nil {
		parts := make([]string, 0, len(items))
		for _, item := range items {
			if item.Text != "" {
				parts = append(parts, item.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}

func resultText(raw json.RawMessage) string {
	var text string
	if len(raw) == 0 || json.Unmarshal(raw, &text) != nil {
		return ""
	}
	return text
}

func resultError(l *line, text string) string {
	var errs []string
	if len(l.Errors) > 0 && json.Unmarshal(l.Errors, &errs) == nil && len(errs) > 0 {
		return strings.Join(errs, "; ")
	}
	if text != "" {
		return text
	}
	if l.Subtype != "" {
		return l.Subtype
	}
	return "turn failed"
}

func errorMessage(l *line) string {
	var text string
	if len(l.Message) > 0 && json.Unmarshal(l.Message, &text) == nil && text != "" {
		return text
	}
	if len(l.Error) > 0 {
		if json.Unmarshal(l.Error, &text) == nil && text != "" {
			return text
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(l.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
	}
	return "unknown error"
}
