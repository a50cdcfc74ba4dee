// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package usage extracts token and cost figures from turn summaries and folds
// them into per-session totals.
package usage

import (
	"github.com/tidwall/gjson"
)

// DefaultContextWindow is used when neither the payload nor configuration
// advertises a model context window.
const DefaultContextWindow int64 = 200000

// Lookup order for token counts. The first non-zero value wins per field.
var tokenPrefixes = []string{"", "usage.", "result.usage."}

// Snapshot is the usage reported by a single payload.
type Snapshot struct {
	InputTokens         int64   `json:"input_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	CacheReadTokens     int64   `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens int64   `json:"cache_creation_tokens,omitempty"`
	CostUSD             float64 `json:"cost_usd"`
	ContextWindow       int64   `json:"context_window,omitempty"`
}

// IsZero reports whether the snapshot carries no usage at all.
func (s Snapshot) IsZero() bool {
	return s.InputTokens == 0 && s.OutputTokens == 0 &&
		s.CacheReadTokens == 0 && s.CacheCreationTokens == 0 &&
		s.CostUSD == 0
}

// ContextUsed is the number of tokens occupying the context window for the
// turn this snapshot describes.
func (s Snapshot) ContextUsed() int64 {
	return nonNegative(s.InputTokens) + nonNegative(s.CacheReadTokens) +
		nonNegative(s.CacheCreationTokens) + nonNegative(s.OutputTokens)
}

// Extract reads usage from a result payload. Token counts may sit at the top
// level, under "usage", or under "result.usage".
func Extract(payload []byte) Snapshot {
	if !gjson.ValidBytes(payload) {
		return Snapshot{}
	}
	s := Snapshot{
		InputTokens:         firstNonZero(payload, "input_tokens"),
		OutputTokens:        firstNonZero(payload, "output_tokens"),
		CacheReadTokens:     firstNonZero(payload, "cache_read_input_tokens"),
		CacheCreationTokens: firstNonZero(payload, "cache_creation_input_tokens"),
		CostUSD:             gjson.GetBytes(payload, "total_cost_usd").Float(),
	}
	if w := gjson.GetBytes(payload, "modelUsage.*.contextWindow").Int(); w > 0 {
		s.ContextWindow = w
	} else if w := gjson.GetBytes(payload, "context_window").Int(); w > 0 {
		s.ContextWindow = w
	}
	return s
}

// ExtractMessageUsage reads the usage block of an assistant message or a
// message_start stream event. It never carries cost.
func ExtractMessageUsage(usage []byte) Snapshot {
	if !gjson.ValidBytes(usage) {
		return Snapshot{}
	}
	return Snapshot{
		InputTokens:         gjson.GetBytes(usage, "input_tokens").Int(),
		OutputTokens:        gjson.GetBytes(usage, "output_tokens").Int(),
		CacheReadTokens:     gjson.GetBytes(usage, "cache_read_input_tokens").Int(),
		CacheCreationTokens: gjson.GetBytes(usage, "cache_creation_input_tokens").Int(),
	}
}

func firstNonZero(payload []byte, field string) int64 {
	for _, prefix := range tokenPrefixes {
		if v := gjson.GetBytes(payload, prefix+field).Int(); v != 0 {
			return v
		}
	}
	return 0
}

// Context is the context-window utilisation of the most recent turn.
type Context struct {
	Used   int64 `json:"used"`
	Window int64 `json:"window"`
}

// Percent returns utilisation in the range [0, 100].
func (c Context) Percent() float64 {
	if c.Window <= 0 {
		return 0
	}
	p := float64(c.Used) / float64(c.Window) * 100
	if p > 100 {
		return 100
	}
	return p
}

// Totals accumulates usage for one session. Token and cost totals only grow;
// the context figure is replaced on every turn.
type Totals struct {
	InputTokens         int64   `json:"input_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	CacheReadTokens     int64   `json:"cache_read_tokens"`
	CacheCreationTokens int64   `json:"cache_creation_tokens"`
	CostUSD             float64 `json:"cost_usd"`
	Turns               int     `json:"turns"`
	Context             Context `json:"context"`
}

// Fold adds a turn summary to the totals. defaultWindow applies when the
// snapshot does not advertise a context window; zero means DefaultContextWindow.
func (t *Totals) Fold(s Snapshot, defaultWindow int64) {
	t.InputTokens += nonNegative(s.InputTokens)
	t.OutputTokens += nonNegative(s.OutputTokens)
	t.CacheReadTokens += nonNegative(s.CacheReadTokens)
	t.CacheCreationTokens += nonNegative(s.CacheCreationTokens)
	if s.CostUSD > 0 {
		t.CostUSD += s.CostUSD
	}
	t.Turns++
	t.ObserveContext(s, defaultWindow)
}

// ObserveContext replaces the context snapshot without touching the totals.
// Used for mid-turn reports such as message_start.
func (t *Totals) ObserveContext(s Snapshot, defaultWindow int64) {
	used := s.ContextUsed()
	if used == 0 {
		return
	}
	window := s.ContextWindow
	if window <= 0 {
		window = t.Context.Window
	}
	if window <= 0 {
		window = defaultWindow
	}
	if window <= 0 {
		window = DefaultContextWindow
	}
	t.Context = Context{Used: used, Window: window}
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
