// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/wingedpig/sessionmux/internal/control"
	"github.com/wingedpig/sessionmux/internal/policy"
)

// Permissions answers pending tool approval requests.
type Permissions interface {
	Pending(conversationID string) []control.PendingRequest
	Get(requestID string) (control.PendingRequest, bool)
	Resolve(requestID string, approved, alwaysAllow bool) control.WriteResult
	Interrupt(requestID string) control.WriteResult
}

// Rules lists and edits the active allow rules.
type Rules interface {
	Rules() []policy.Rule
	Forget(rule policy.Rule) error
}

// PermissionHandler handles permission API requests.
type PermissionHandler struct {
	permissions Permissions
	rules       Rules
}

// NewPermissionHandler creates a new permission handler. rules may be nil.
func NewPermissionHandler(permissions Permissions, rules Rules) *PermissionHandler {
	return &PermissionHandler{permissions: permissions, rules: rules}
}

// List returns pending requests, optionally for one conversation.
func (h *PermissionHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.permissions.Pending(r.URL.Query().Get("conversation")))
}

// Get returns one pending request.
func (h *PermissionHandler) Get(w http.ResponseWriter, r *http.Request) {
	req, ok := h.permissions.Get(mux.Vars(r)["requestID"])
	if !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "Permission request not pending")
		return
	}
	WriteJSON(w, http.StatusOK, req)
}

// DecisionRequest is the body of POST /permissions/{requestID}.
type DecisionRequest struct {
	Approved    bool `json:"approved"`
	AlwaysAllow bool `json:"always_allow,omitempty"`
	Interrupt   bool `json:"interrupt,omitempty"`
}

// Resolve answers a pending request.
func (h *PermissionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["requestID"]

	var req DecisionRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "Invalid request body")
		return
	}

	var result control.WriteResult
	if req.Interrupt {
		result = h.permissions.Interrupt(requestID)
	} else {
		result = h.permissions.Resolve(requestID, req.Approved, req.AlwaysAllow)
	}
	writeDecision(w, requestID, result)
}

func writeDecision(w http.ResponseWriter, requestID string, result control.WriteResult) {
	switch result {
	case control.NotPending:
		WriteError(w, http.StatusNotFound, ErrNotFound, "Permission request not pending")
	case control.DeliveryFailed:
		WriteErrorWithDetails(w, http.StatusBadGateway, ErrDeliveryFailed,
			"Decision could not be delivered to the session",
			map[string]interface{}{"request_id": requestID})
	default:
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"request_id": requestID,
			"result":     result.String(),
		})
	}
}

// ListRules returns the static and remembered allow rules.
func (h *PermissionHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.rules == nil {
		WriteJSON(w, http.StatusOK, []string{})
		return
	}
	rules := h.rules.Rules()
	out := make([]string, 0, len(rules))
	for _, rule := range rules {
		out = append(out, rule.String())
	}
	WriteJSON(w, http.StatusOK, out)
}

// ForgetRuleRequest is the body of DELETE /permissions/rules.
type ForgetRuleRequest struct {
	Rule string `json:"rule"`
}

// ForgetRule removes a remembered rule.
func (h *PermissionHandler) ForgetRule(w http.ResponseWriter, r *http.Request) {
	if h.rules == nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, "No rule store configured")
		return
	}
	var req ForgetRuleRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "Invalid request body")
		return
	}
	rule, err := policy.ParseRule(req.Rule)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	if err := h.rules.Forget(rule); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrPermissionError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"rule": rule.String(), "forgotten": true})
}
