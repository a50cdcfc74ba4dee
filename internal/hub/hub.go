// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package hub connects the stream multiplexer, the permission manager and
// the event bus.
package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/wingedpig/sessionmux/internal/control"
	"github.com/wingedpig/sessionmux/internal/events"
	"github.com/wingedpig/sessionmux/internal/metrics"
	"github.com/wingedpig/sessionmux/internal/stream"
)

// Control request subtypes routed to the permission manager.
const subtypeCanUseTool = "can_use_tool"

// DefaultClosedRetention is how long a closed conversation's events are kept
// for replay unless SetClosedRetention says otherwise.
const DefaultClosedRetention = 5 * time.Minute

// Bus is the part of the event bus the hub publishes to.
type Bus interface {
	Publish(ctx context.Context, event events.Event) error
	Forget(conversation string)
}

// PermissionPayload is the payload of permission.* events.
type PermissionPayload struct {
	Request    control.PendingRequest `json:"request"`
	Resolution *control.Resolution    `json:"resolution,omitempty"`
	Result     string                 `json:"result,omitempty"`
	AgeSeconds float64                `json:"age_seconds,omitempty"`
}

// SessionPayload is the payload of session.* events.
type SessionPayload struct {
	Reason  string   `json:"reason,omitempty"`
	Expired []string `json:"expired_requests,omitempty"`
}

// Hub implements stream.Handler and control.Notifier.
type Hub struct {
	bus     Bus
	metrics *metrics.Metrics

	mu      sync.RWMutex
	mux     *stream.Mux
	control *control.Manager

	retention time.Duration
	forget    map[string]*time.Timer
}

var (
	_ stream.Handler   = (*Hub)(nil)
	_ control.Notifier = (*Hub)(nil)
)

// New creates a hub. Bind must be called before events flow.
func New(bus Bus, m *metrics.Metrics) *Hub {
	return &Hub{
		bus:       bus,
		metrics:   m,
		retention: DefaultClosedRetention,
		forget:    make(map[string]*time.Timer),
	}
}

// SetClosedRetention sets how long a closed conversation stays in event
// history. Zero or less drops it as soon as session.closed is published.
func (h *Hub) SetClosedRetention(d time.Duration) {
	h.mu.Lock()
	h.retention = d
	h.mu.Unlock()
}

// Bind attaches the multiplexer and permission manager, which are built
// with the hub as their handler and notifier.
func (h *Hub) Bind(mux *stream.Mux, mgr *control.Manager) {
	h.mu.Lock()
	h.mux = mux
	h.control = mgr
	h.mu.Unlock()
}

func (h *Hub) manager() *control.Manager {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.control
}

func (h *Hub) multiplexer() *stream.Mux {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.mux
}

// Open announces a new conversation.
func (h *Hub) Open(conversationID string) {
	h.mu.Lock()
	if t, ok := h.forget[conversationID]; ok {
		t.Stop()
		delete(h.forget, conversationID)
	}
	h.mu.Unlock()
	h.publish(events.EventSessionOpened, conversationID, SessionPayload{})
}

// Close ends a conversation: its pending permission requests are expired,
// its parser state is disposed and session.closed is published.
func (h *Hub) Close(conversationID, reason string) {
	var expired []string
	if mgr := h.manager(); mgr != nil {
		for _, r := range mgr.Expire(conversationID) {
			expired = append(expired, r.RequestID)
		}
	}
	if mux := h.multiplexer(); mux != nil {
		mux.Dispose(conversationID)
	}
	h.publish(events.EventSessionClosed, conversationID, SessionPayload{Reason: reason, Expired: expired})
	h.scheduleForget(conversationID)
}

// scheduleForget drops a closed conversation's history once the retention
// period has passed. Reopening the conversation cancels it.
func (h *Hub) scheduleForget(conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if t, ok := h.forget[conversationID]; ok {
		t.Stop()
		delete(h.forget, conversationID)
	}
	if h.retention <= 0 {
		h.bus.Forget(conversationID)
		return
	}
	var t *time.Timer
	t = time.AfterFunc(h.retention, func() {
		h.mu.Lock()
		current := h.forget[conversationID] == t
		if current {
			delete(h.forget, conversationID)
		}
		h.mu.Unlock()
		if current {
			h.bus.Forget(conversationID)
		}
	})
	h.forget[conversationID] = t
}

func (h *Hub) publish(typ, conversationID string, payload any) {
	err := h.bus.Publish(context.Background(), events.Event{
		Type:         typ,
		Conversation: conversationID,
		Payload:      payload,
	})
	if err != nil {
		log.Printf("hub [%s]: publishing %s: %v", conversationID, typ, err)
	}
}

func (h *Hub) forward(ev stream.Event) {
	h.metrics.Event(string(ev.Kind()))
	conv, _ := stream.ConversationOf(ev)
	h.publish(events.StreamType(string(ev.Kind())), conv, ev)
}

func (h *Hub) OnSessionStart(e stream.SessionStart) {
	log.Printf("hub [%s]: subprocess session %s", e.ConversationID, e.SessionID)
	h.forward(e)
}

func (h *Hub) OnToolUse(e stream.ToolUse)                 { h.forward(e) }
func (h *Hub) OnToolResult(e stream.ToolResult)           { h.forward(e) }
func (h *Hub) OnTextDelta(e stream.TextDelta)             { h.forward(e) }
func (h *Hub) OnMessage(e stream.Message)                 { h.forward(e) }
func (h *Hub) OnAccountInfo(e stream.AccountInfo)         { h.forward(e) }
func (h *Hub) OnControlResponse(e stream.ControlResponse) { h.forward(e) }

func (h *Hub) OnError(e stream.Error) {
	log.Printf("hub [%s]: agent error: %s", e.ConversationID, e.Message)
	h.forward(e)
}

func (h *Hub) OnResult(e stream.Result) {
	if e.Usage != nil {
		u := e.Usage
		h.metrics.Usage(u.InputTokens, u.OutputTokens, u.CacheReadTokens, u.CacheCreationTokens, u.CostUSD)
	}
	h.forward(e)
}

// OnControlRequest publishes the request and hands permission prompts to the
// manager.
func (h *Hub) OnControlRequest(e stream.ControlRequest) {
	h.forward(e)

	if e.Subtype != "" && e.Subtype != subtypeCanUseTool {
		log.Printf("hub [%s]: ignoring control request %s with subtype %q", e.ConversationID, e.RequestID, e.Subtype)
		return
	}
	mgr := h.manager()
	if mgr == nil {
		log.Printf("hub [%s]: no permission manager for request %s", e.ConversationID, e.RequestID)
		return
	}
	mgr.Submit(control.PendingRequest{
		RequestID:      e.RequestID,
		ConversationID: e.ConversationID,
		ToolName:       e.ToolName,
		ToolUseID:      e.ToolUseID,
		Input:          e.Input,
		Suggestions:    e.Suggestions,
	})
}

func (h *Hub) PermissionRequested(req control.PendingRequest) {
	h.metrics.Permission("pending")
	h.updatePending()
	log.Printf("hub [%s]: permission requested for %s (%s)", req.ConversationID, req.ToolName, req.RequestID)
	h.publish(events.EventPermissionRequested, req.ConversationID, PermissionPayload{Request: req})
}

func (h *Hub) PermissionResolved(req control.PendingRequest, res control.Resolution) {
	h.metrics.Permission(outcome(res))
	h.updatePending()
	h.publish(events.EventPermissionResolved, req.ConversationID, PermissionPayload{
		Request:    req,
		Resolution: &res,
		Result:     res.Result.String(),
	})
}

func (h *Hub) PermissionExpired(req control.PendingRequest) {
	h.metrics.Permission("expired")
	h.updatePending()
	h.publish(events.EventPermissionExpired, req.ConversationID, PermissionPayload{Request: req})
}

func (h *Hub) PermissionStale(req control.PendingRequest, age time.Duration) {
	h.metrics.StalePermission()
	h.publish(events.EventPermissionStale, req.ConversationID, PermissionPayload{
		Request:    req,
		AgeSeconds: age.Seconds(),
	})
}

func (h *Hub) updatePending() {
	if mgr := h.manager(); mgr != nil {
		h.metrics.SetPendingPermissions(mgr.Len())
	}
}

func outcome(res control.Resolution) string {
	switch {
	case res.Result == control.DeliveryFailed:
		return "delivery_failed"
	case res.Auto:
		return "auto_allow"
	case res.Interrupt:
		return "interrupt"
	case res.AlwaysAllow:
		return "always_allow"
	case res.Approved:
		return "allow"
	}
	return "deny"
}
