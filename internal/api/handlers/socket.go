// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/wingedpig/sessionmux/internal/control"
	"github.com/wingedpig/sessionmux/internal/events"
)

// clientMessage is a message from the client.
type clientMessage struct {
	Type        string `json:"type"`
	Content     string `json:"content,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	Approved    bool   `json:"approved,omitempty"`
	AlwaysAllow bool   `json:"always_allow,omitempty"`
}

// serverMessage is a message to the client.
type serverMessage struct {
	Type      string                   `json:"type"`
	Events    []events.Event           `json:"events,omitempty"`
	Event     *events.Event            `json:"event,omitempty"`
	Pending   []control.PendingRequest `json:"pending,omitempty"`
	RequestID string                   `json:"request_id,omitempty"`
	Result    string                   `json:"result,omitempty"`
	Message   string                   `json:"message,omitempty"`
	// Seq is set on resync: every event after it may have been missed and
	// can be replayed with after_seq. Already-seen events should be skipped
	// by their seq.
	Seq uint64 `json:"seq,omitempty"`
}

// forwarder copies one conversation's bus events to a socket's queue. When
// the queue is full the event is dropped and a resync is signalled.
type forwarder struct {
	conversation string
	queue        chan events.Event
	resync       chan struct{}
	done         <-chan struct{}

	mu         sync.Mutex
	missedFrom uint64 // Lowest dropped seq since the last resync
}

func newForwarder(conversation string, done <-chan struct{}) *forwarder {
	return &forwarder{
		conversation: conversation,
		queue:        make(chan events.Event, eventBuffer),
		resync:       make(chan struct{}, 1),
		done:         done,
	}
}

func (f *forwarder) handle(_ context.Context, event events.Event) error {
	if event.Conversation != f.conversation {
		return nil
	}
	select {
	case f.queue <- event:
	case <-f.done:
	default:
		log.Printf("api [%s]: websocket client too slow, dropping %s", f.conversation, event.Type)
		f.mu.Lock()
		if f.missedFrom == 0 || event.Seq < f.missedFrom {
			f.missedFrom = event.Seq
		}
		f.mu.Unlock()
		select {
		case f.resync <- struct{}{}:
		default:
		}
	}
	return nil
}

// takeResync returns the seq after which events were missed and clears the
// gap.
func (f *forwarder) takeResync() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	from := f.missedFrom
	f.missedFrom = 0
	if from == 0 {
		return 0
	}
	return from - 1
}

// SocketHandler serves one conversation over a WebSocket: past events are
// replayed, live events follow, and the client can send messages and answer
// permission prompts.
type SocketHandler struct {
	bus         events.EventBus
	procs       Processes
	permissions Permissions
}

// NewSocketHandler creates a new conversation socket handler.
func NewSocketHandler(bus events.EventBus, procs Processes, permissions Permissions) *SocketHandler {
	return &SocketHandler{bus: bus, procs: procs, permissions: permissions}
}

// WebSocket handles GET /sessions/{id}/ws[?after_seq=N].
func (h *SocketHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var afterSeq uint64
	if s := r.URL.Query().Get("after_seq"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid after_seq")
			return
		}
		afterSeq = n
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	writeJSON := func(msg serverMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(msg)
	}

	// Subscribe before reading history so nothing published in between is
	// lost. Events already replayed are skipped by sequence number.
	done := make(chan struct{})
	fwd := newForwarder(id, done)
	subID, err := h.bus.SubscribeAsync("*", fwd.handle, eventBuffer)
	if err != nil {
		writeJSON(serverMessage{Type: "error", Message: err.Error()})
		return
	}
	defer h.bus.Unsubscribe(subID)

	history, err := h.bus.History(events.EventFilter{Conversation: id, AfterSeq: afterSeq})
	if err != nil {
		writeJSON(serverMessage{Type: "error", Message: err.Error()})
		return
	}
	lastSeq := afterSeq
	if n := len(history); n > 0 {
		lastSeq = history[n-1].Seq
	}
	if err := writeJSON(serverMessage{Type: "history", Events: history}); err != nil {
		return
	}
	if pending := h.permissions.Pending(id); len(pending) > 0 {
		writeJSON(serverMessage{Type: "pending", Pending: pending})
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	readCh := make(chan clientMessage, 10)
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				writeJSON(serverMessage{Type: "error", Message: "invalid message"})
				continue
			}
			select {
			case readCh <- msg:
			case <-done:
				return
			}
		}
	}()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case event := <-fwd.queue:
			if event.Seq <= lastSeq {
				continue
			}
			lastSeq = event.Seq
			if err := writeJSON(serverMessage{Type: "event", Event: &event}); err != nil {
				return
			}

		case <-fwd.resync:
			if err := writeJSON(serverMessage{Type: "resync", Seq: fwd.takeResync()}); err != nil {
				return
			}

		case msg := <-readCh:
			if reply, ok := h.handle(id, msg); ok {
				if err := writeJSON(reply); err != nil {
					return
				}
			}

		case <-pingTicker.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}

		case <-done:
			return
		}
	}
}

// handle applies one client message and returns the reply, if any.
func (h *SocketHandler) handle(id string, msg clientMessage) (serverMessage, bool) {
	switch msg.Type {
	case "message":
		if msg.Content == "" {
			return serverMessage{Type: "error", Message: "content is required"}, true
		}
		if err := h.procs.SendUserMessage(id, msg.Content); err != nil {
			return serverMessage{Type: "error", Message: err.Error()}, true
		}
		return serverMessage{}, false

	case "permission_response":
		req, ok := h.permissions.Get(msg.RequestID)
		if !ok || req.ConversationID != id {
			return serverMessage{Type: "error", RequestID: msg.RequestID, Message: "permission request not pending"}, true
		}
		result := h.permissions.Resolve(msg.RequestID, msg.Approved, msg.AlwaysAllow)
		return serverMessage{Type: "permission_result", RequestID: msg.RequestID, Result: result.String()}, true

	case "cancel":
		for _, req := range h.permissions.Pending(id) {
			h.permissions.Interrupt(req.RequestID)
		}
		if err := h.procs.Interrupt(id); err != nil {
			return serverMessage{Type: "error", Message: err.Error()}, true
		}
		return serverMessage{}, false
	}
	return serverMessage{Type: "error", Message: "unknown message type " + strconv.Quote(msg.Type)}, true
}
