// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package control correlates permission requests from agent sessions with
// user decisions and writes the answers back to the session that asked.
package control

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/wingedpig/sessionmux/internal/policy"
)

// PendingRequest is a permission request awaiting a decision.
type PendingRequest struct {
	RequestID      string            `json:"request_id"`
	ConversationID string            `json:"conversation_id"`
	ToolName       string            `json:"tool_name"`
	ToolUseID      string            `json:"tool_use_id,omitempty"`
	Input          json.RawMessage   `json:"input,omitempty"`
	Suggestions    []json.RawMessage `json:"suggestions,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	Stale          bool              `json:"stale,omitempty"`
}

// Decision is the outcome of Submit.
type Decision int

const (
	// DecisionPending means the request waits for the user.
	DecisionPending Decision = iota
	// DecisionAllow means the policy approved it and the answer was sent.
	DecisionAllow
	// DecisionDuplicate means a request with the same id is already pending.
	DecisionDuplicate
)

func (d Decision) String() string {
	switch d {
	case DecisionPending:
		return "pending"
	case DecisionAllow:
		return "allow"
	case DecisionDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// WriteResult is the outcome of Resolve.
type WriteResult int

const (
	// NotPending means the id was unknown or already resolved. Nothing was
	// written.
	NotPending WriteResult = iota
	Delivered
	DeliveryFailed
)

func (r WriteResult) String() string {
	switch r {
	case NotPending:
		return "not_pending"
	case Delivered:
		return "delivered"
	case DeliveryFailed:
		return "delivery_failed"
	}
	return "unknown"
}

// Writer delivers a payload to a conversation's subprocess. It reports false
// when the subprocess cannot be written to.
type Writer interface {
	WriteToSession(conversationID string, payload []byte) bool
}

// Policy decides whether a request is approved without asking.
type Policy interface {
	Allows(toolName string, input json.RawMessage) bool
}

// Rememberer is implemented by policies that can learn from "always allow".
type Rememberer interface {
	Remember(toolName string, input json.RawMessage) (policy.Rule, error)
}

// Resolution describes how a request left the pending set.
type Resolution struct {
	Approved    bool         `json:"approved"`
	AlwaysAllow bool         `json:"always_allow,omitempty"`
	Auto        bool         `json:"auto,omitempty"`
	Interrupt   bool         `json:"interrupt,omitempty"`
	Rule        *policy.Rule `json:"rule,omitempty"`
	Result      WriteResult  `json:"-"`
}

// Notifier observes the request lifecycle.
type Notifier interface {
	PermissionRequested(req PendingRequest)
	PermissionResolved(req PendingRequest, res Resolution)
	PermissionExpired(req PendingRequest)
	PermissionStale(req PendingRequest, age time.Duration)
}

// NopNotifier ignores every notification.
type NopNotifier struct{}

func (NopNotifier) PermissionRequested(PendingRequest)            {}
func (NopNotifier) PermissionResolved(PendingRequest, Resolution) {}
func (NopNotifier) PermissionExpired(PendingRequest)              {}
func (NopNotifier) PermissionStale(PendingRequest, time.Duration) {}

// Manager holds the pending requests of every conversation. A request is
// resolved at most once.
type Manager struct {
	writer   Writer
	policy   Policy
	notifier Notifier
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]*PendingRequest
}

// NewManager creates a manager. policy and notifier may be nil.
func NewManager(w Writer, p Policy, n Notifier) *Manager {
	if n == nil {
		n = NopNotifier{}
	}
	return &Manager{
		writer:   w,
		policy:   p,
		notifier: n,
		now:      time.Now,
		pending:  make(map[string]*PendingRequest),
	}
}

// Submit registers a request. If the policy approves it, the allow answer is
// written immediately and nothing is stored.
func (m *Manager) Submit(req PendingRequest) Decision {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = m.now()
	}
	req.Stale = false

	m.mu.Lock()
	_, dup := m.pending[req.RequestID]
	m.mu.Unlock()
	if dup {
		log.Printf("control [%s]: ignoring duplicate request %s", req.ConversationID, req.RequestID)
		return DecisionDuplicate
	}

	if m.policy != nil && m.policy.Allows(req.ToolName, req.Input) {
		result := m.write(req, NewAllow(req, nil))
		if result == DeliveryFailed {
			log.Printf("control [%s]: auto-approval of %s (%s) not delivered", req.ConversationID, req.RequestID, req.ToolName)
		}
		m.notifier.PermissionResolved(req, Resolution{Approved: true, Auto: true, Result: result})
		return DecisionAllow
	}

	m.mu.Lock()
	if _, dup := m.pending[req.RequestID]; dup {
		m.mu.Unlock()
		return DecisionDuplicate
	}
	stored := req
	m.pending[req.RequestID] = &stored
	m.mu.Unlock()

	m.notifier.PermissionRequested(req)
	return DecisionPending
}

// Resolve answers a pending request on behalf of the user. With alwaysAllow
// the answer also carries a rule so the subprocess stops asking, and the
// policy remembers it when it can.
func (m *Manager) Resolve(requestID string, approved, alwaysAllow bool) WriteResult {
	req, ok := m.take(requestID)
	if !ok {
		return NotPending
	}

	res := Resolution{Approved: approved, AlwaysAllow: approved && alwaysAllow}
	var resp Response
	if approved {
		if res.AlwaysAllow {
			rule := m.remember(req)
			res.Rule = &rule
		}
		resp = NewAllow(req, res.Rule)
	} else {
		resp = NewDeny(req, "", false)
	}

	res.Result = m.write(req, resp)
	m.notifier.PermissionResolved(req, res)
	return res.Result
}

// Interrupt denies a pending request and asks the subprocess to stop the
// turn.
func (m *Manager) Interrupt(requestID string) WriteResult {
	req, ok := m.take(requestID)
	if !ok {
		return NotPending
	}
	res := Resolution{Interrupt: true}
	res.Result = m.write(req, NewDeny(req, "User interrupted the turn", true))
	m.notifier.PermissionResolved(req, res)
	return res.Result
}

// Expire drops every request of a conversation without answering it. The
// removed requests are returned.
func (m *Manager) Expire(conversationID string) []PendingRequest {
	return m.expire(func(r *PendingRequest) bool { return r.ConversationID == conversationID })
}

// ExpireAll drops every pending request.
func (m *Manager) ExpireAll() []PendingRequest {
	return m.expire(func(*PendingRequest) bool { return true })
}

// Pending lists outstanding requests for a conversation, oldest first. The
// empty id lists every conversation's requests.
func (m *Manager) Pending(conversationID string) []PendingRequest {
	m.mu.Lock()
	out := make([]PendingRequest, 0, len(m.pending))
	for _, r := range m.pending {
		if conversationID == "" || r.ConversationID == conversationID {
			out = append(out, *r)
		}
	}
	m.mu.Unlock()
	sortRequests(out)
	return out
}

// Get returns one pending request.
func (m *Manager) Get(requestID string) (PendingRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.pending[requestID]
	if !ok {
		return PendingRequest{}, false
	}
	return *r, true
}

// Len returns the number of pending requests.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Monitor reports requests outstanding longer than staleAfter, once each,
// until ctx is cancelled. It never resolves them.
func (m *Manager) Monitor(ctx context.Context, staleAfter, interval time.Duration) error {
	if staleAfter <= 0 {
		<-ctx.Done()
		return nil
	}
	if interval <= 0 {
		interval = staleAfter / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep(staleAfter)
		}
	}
}

// Sweep flags requests older than staleAfter that were not flagged before
// and returns them.
func (m *Manager) Sweep(staleAfter time.Duration) []PendingRequest {
	now := m.now()

	m.mu.Lock()
	var stale []PendingRequest
	for _, r := range m.pending {
		if r.Stale || now.Sub(r.CreatedAt) < staleAfter {
			continue
		}
		r.Stale = true
		stale = append(stale, *r)
	}
	m.mu.Unlock()

	sortRequests(stale)
	for _, r := range stale {
		age := now.Sub(r.CreatedAt)
		log.Printf("control [%s]: request %s (%s) waiting for %s", r.ConversationID, r.RequestID, r.ToolName, age.Round(time.Second))
		m.notifier.PermissionStale(r, age)
	}
	return stale
}

func (m *Manager) take(requestID string) (PendingRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.pending[requestID]
	if !ok {
		return PendingRequest{}, false
	}
	delete(m.pending, requestID)
	return *r, true
}

func (m *Manager) expire(match func(*PendingRequest) bool) []PendingRequest {
	m.mu.Lock()
	var removed []PendingRequest
	for id, r := range m.pending {
		if match(r) {
			removed = append(removed, *r)
			delete(m.pending, id)
		}
	}
	m.mu.Unlock()

	sortRequests(removed)
	for _, r := range removed {
		m.notifier.PermissionExpired(r)
	}
	return removed
}

func (m *Manager) remember(req PendingRequest) policy.Rule {
	if r, ok := m.policy.(Rememberer); ok {
		rule, err := r.Remember(req.ToolName, req.Input)
		if err != nil {
			log.Printf("control [%s]: %v", req.ConversationID, err)
		}
		return rule
	}
	return policy.RuleFor(req.ToolName, req.Input)
}

func (m *Manager) write(req PendingRequest, resp Response) WriteResult {
	if m.writer == nil {
		return DeliveryFailed
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		log.Printf("control [%s]: encoding response for %s: %v", req.ConversationID, req.RequestID, err)
		return DeliveryFailed
	}
	if !m.writer.WriteToSession(req.ConversationID, payload) {
		return DeliveryFailed
	}
	return Delivered
}

func sortRequests(reqs []PendingRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].RequestID < reqs[j].RequestID
		}
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}
