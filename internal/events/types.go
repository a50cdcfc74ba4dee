// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events is the in-process pub/sub bus that carries stream, permission
// and session events to front-end connections.
package events

import (
	"context"
	"time"
)

// Event is an immutable event record.
type Event struct {
	ID           string    `json:"id"`
	Seq          uint64    `json:"seq"`
	Version      string    `json:"version"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	Conversation string    `json:"conversation,omitempty"`
	Payload      any       `json:"payload,omitempty"`
}

// EventHandler processes received events.
type EventHandler func(ctx context.Context, event Event) error

// SubscriptionID identifies a subscription.
type SubscriptionID string

// EventFilter selects events from history.
type EventFilter struct {
	Types        []string  // Type patterns, wildcards allowed
	Conversation string    // Only this conversation
	AfterSeq     uint64    // Only events published after this sequence number
	Since        time.Time // Events after this time
	Until        time.Time // Events before this time
	Limit        int       // Keep at most the newest Limit events
}

// EventBus is the pub/sub contract.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(pattern string, handler EventHandler) (SubscriptionID, error)
	SubscribeAsync(pattern string, handler EventHandler, bufferSize int) (SubscriptionID, error)
	Unsubscribe(id SubscriptionID) error
	History(filter EventFilter) ([]Event, error)
	Close() error
}

// Stream event types are "stream." followed by the event kind.
const StreamPrefix = "stream."

const (
	EventPermissionRequested = "permission.requested"
	EventPermissionResolved  = "permission.resolved"
	EventPermissionExpired   = "permission.expired"
	EventPermissionStale     = "permission.stale"

	EventSessionOpened = "session.opened"
	EventSessionClosed = "session.closed"

	EventConfigReloaded = "config.reloaded"
)

// StreamType returns the bus type for a stream event kind.
func StreamType(kind string) string {
	return StreamPrefix + kind
}
