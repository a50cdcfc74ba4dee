// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/wingedpig/sessionmux/internal/proc"
	"github.com/wingedpig/sessionmux/internal/stream"
)

// Processes runs one agent subprocess per conversation.
type Processes interface {
	Start(conversationID string) error
	Stop(conversationID string) error
	Running(conversationID string) bool
	List() []proc.Info
	SendUserMessage(conversationID, text string) error
	Interrupt(conversationID string) error
}

// Sessions exposes per-conversation parser state.
type Sessions interface {
	Snapshot(conversationID string) (stream.Snapshot, error)
	Conversations() []string
}

// Lifecycle announces and closes conversations.
type Lifecycle interface {
	Open(conversationID string)
	Close(conversationID, reason string)
}

// SessionView describes one conversation.
type SessionView struct {
	ID        string           `json:"id"`
	Running   bool             `json:"running"`
	PID       int              `json:"pid,omitempty"`
	StartedAt *time.Time       `json:"started_at,omitempty"`
	State     *stream.Snapshot `json:"state,omitempty"`
}

// SessionHandler handles conversation API requests.
type SessionHandler struct {
	procs     Processes
	sessions  Sessions
	lifecycle Lifecycle
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(procs Processes, sessions Sessions, lifecycle Lifecycle) *SessionHandler {
	return &SessionHandler{procs: procs, sessions: sessions, lifecycle: lifecycle}
}

// List returns every conversation that has a process or parser state.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	infos := make(map[string]proc.Info)
	var ids []string
	for _, info := range h.procs.List() {
		infos[info.ConversationID] = info
		ids = append(ids, info.ConversationID)
	}
	for _, id := range h.sessions.Conversations() {
		if _, ok := infos[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	views := make([]SessionView, 0, len(ids))
	for _, id := range ids {
		view, _ := h.view(id, infos)
		views = append(views, view)
	}
	WriteJSON(w, http.StatusOK, views)
}

// CreateRequest is the optional body of POST /sessions.
type CreateRequest struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

// Create starts a new conversation. Without an id a random one is assigned.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "Invalid request body")
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}

	if h.procs.Running(id) {
		WriteError(w, http.StatusConflict, ErrConflict, "Session already running")
		return
	}
	h.lifecycle.Open(id)
	if err := h.procs.Start(id); err != nil {
		// Another request started the same conversation first; it owns it.
		if errors.Is(err, proc.ErrAlreadyRunning) {
			WriteError(w, http.StatusConflict, ErrConflict, err.Error())
			return
		}
		log.Printf("api [%s]: start failed: %v", id, err)
		h.lifecycle.Close(id, "start_failed")
		WriteError(w, http.StatusInternalServerError, ErrSessionError, err.Error())
		return
	}

	if req.Message != "" {
		if err := h.procs.SendUserMessage(id, req.Message); err != nil {
			WriteError(w, http.StatusInternalServerError, ErrSessionError, err.Error())
			return
		}
	}

	view, _ := h.view(id, nil)
	WriteJSON(w, http.StatusCreated, view)
}

// Get returns one conversation.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, ok := h.view(id, nil)
	if !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "Session not found")
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// Delete closes a conversation. A running process is stopped, which closes
// the conversation from its exit callback.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := h.view(id, nil); !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "Session not found")
		return
	}

	err := h.procs.Stop(id)
	switch {
	case errors.Is(err, proc.ErrNotRunning):
		h.lifecycle.Close(id, "closed")
	case err != nil:
		WriteError(w, http.StatusInternalServerError, ErrSessionError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"id": id, "closed": true})
}

// MessageRequest is the body of POST /sessions/{id}/messages.
type MessageRequest struct {
	Content string `json:"content"`
}

// SendMessage writes a user turn to the conversation's process.
func (h *SessionHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req MessageRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "content is required")
		return
	}

	if err := h.procs.SendUserMessage(id, req.Content); err != nil {
		if errors.Is(err, proc.ErrNotRunning) {
			WriteError(w, http.StatusNotFound, ErrNotFound, "Session not running")
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrSessionError, err.Error())
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]interface{}{"id": id, "sent": true})
}

// Interrupt asks the agent to stop the current turn.
func (h *SessionHandler) Interrupt(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.procs.Interrupt(id); err != nil {
		if errors.Is(err, proc.ErrNotRunning) {
			WriteError(w, http.StatusNotFound, ErrNotFound, "Session not running")
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrSessionError, err.Error())
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]interface{}{"id": id, "interrupted": true})
}

// view describes a conversation. It reports false when the conversation has
// neither a process nor parser state.
func (h *SessionHandler) view(id string, infos map[string]proc.Info) (SessionView, bool) {
	if infos == nil {
		infos = make(map[string]proc.Info)
		for _, info := range h.procs.List() {
			infos[info.ConversationID] = info
		}
	}

	v := SessionView{ID: id}
	if info, ok := infos[id]; ok {
		v.Running = true
		v.PID = info.PID
		started := info.StartedAt
		v.StartedAt = &started
	}
	if id != "" {
		if snap, err := h.sessions.Snapshot(id); err == nil {
			v.State = &snap
		}
	}
	return v, v.Running || v.State != nil
}
