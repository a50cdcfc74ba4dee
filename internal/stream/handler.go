// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package stream

// Handler receives classified events, one method per variant. Calls for a
// single conversation arrive in stream order from one goroutine at a time;
// calls for different conversations may be concurrent.
type Handler interface {
	OnSessionStart(SessionStart)
	OnToolUse(ToolUse)
	OnToolResult(ToolResult)
	OnTextDelta(TextDelta)
	OnMessage(Message)
	OnResult(Result)
	OnError(Error)
	OnAccountInfo(AccountInfo)
	OnControlRequest(ControlRequest)
	OnControlResponse(ControlResponse)
}

// Dispatch delivers ev to the matching method of h.
func Dispatch(h Handler, ev Event) {
	switch e := ev.(type) {
	case SessionStart:
		h.OnSessionStart(e)
	case ToolUse:
		h.OnToolUse(e)
	case ToolResult:
		h.OnToolResult(e)
	case TextDelta:
		h.OnTextDelta(e)
	case Message:
		h.OnMessage(e)
	case Result:
		h.OnResult(e)
	case Error:
		h.OnError(e)
	case AccountInfo:
		h.OnAccountInfo(e)
	case ControlRequest:
		h.OnControlRequest(e)
	case ControlResponse:
		h.OnControlResponse(e)
	}
}

// HandlerFuncs adapts optional functions to a Handler. Nil fields are skipped.
type HandlerFuncs struct {
	SessionStart    func(SessionStart)
	ToolUse         func(ToolUse)
	ToolResult      func(ToolResult)
	TextDelta       func(TextDelta)
	Message         func(Message)
	Result          func(Result)
	Error           func(Error)
	AccountInfo     func(AccountInfo)
	ControlRequest  func(ControlRequest)
	ControlResponse func(ControlResponse)
}

func (f HandlerFuncs) OnSessionStart(e SessionStart) {
	if f.SessionStart != nil {
		f.SessionStart(e)
	}
}

func (f HandlerFuncs) OnToolUse(e ToolUse) {
	if f.ToolUse != nil {
		f.ToolUse(e)
	}
}

func (f HandlerFuncs) OnToolResult(e ToolResult) {
	if f.ToolResult != nil {
		f.ToolResult(e)
	}
}

func (f HandlerFuncs) OnTextDelta(e TextDelta) {
	if f.TextDelta != nil {
		f.TextDelta(e)
	}
}

func (f HandlerFuncs) OnMessage(e Message) {
	if f.Message != nil {
		f.Message(e)
	}
}

func (f HandlerFuncs) OnResult(e Result) {
	if f.Result != nil {
		f.Result(e)
	}
}

func (f HandlerFuncs) OnError(e Error) {
	if f.Error != nil {
		f.Error(e)
	}
}

func (f HandlerFuncs) OnAccountInfo(e AccountInfo) {
	if f.AccountInfo != nil {
		f.AccountInfo(e)
	}
}

func (f HandlerFuncs) OnControlRequest(e ControlRequest) {
	if f.ControlRequest != nil {
		f.ControlRequest(e)
	}
}

func (f HandlerFuncs) OnControlResponse(e ControlResponse) {
	if f.ControlResponse != nil {
		f.ControlResponse(e)
	}
}

// Multi fans every event out to each handler in order.
type Multi []Handler

func (m Multi) OnSessionStart(e SessionStart) {
	for _, h := range m {
		h.OnSessionStart(e)
	}
}

func (m Multi) OnToolUse(e ToolUse) {
	for _, h := range m {
		h.OnToolUse(e)
	}
}

func (m Multi) OnToolResult(e ToolResult) {
	for _, h := range m {
		h.OnToolResult(e)
	}
}

func (m Multi) OnTextDelta(e TextDelta) {
	for _, h := range m {
		h.OnTextDelta(e)
	}
}

func (m Multi) OnMessage(e Message) {
	for _, h := range m {
		h.OnMessage(e)
	}
}

func (m Multi) OnResult(e Result) {
	for _, h := range m {
		h.OnResult(e)
	}
}

func (m Multi) OnError(e Error) {
	for _, h := range m {
		h.OnError(e)
	}
}

func (m Multi) OnAccountInfo(e AccountInfo) {
	for _, h := range m {
		h.OnAccountInfo(e)
	}
}

func (m Multi) OnControlRequest(e ControlRequest) {
	for _, h := range m {
		h.OnControlRequest(e)
	}
}

func (m Multi) OnControlResponse(e ControlResponse) {
	for _, h := range m {
		h.OnControlResponse(e)
	}
}
