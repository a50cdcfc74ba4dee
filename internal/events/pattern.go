// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"errors"
	"strings"
)

// Pattern matches event types. Supported forms:
//
//	"*"                 everything
//	"stream.*"          every type under a prefix
//	"*.resolved"        every type with a suffix
//	"permission.stale"  exactly one type
type Pattern struct {
	raw    string
	all    bool
	prefix string
	suffix string
}

// CompilePattern validates and compiles a pattern.
func CompilePattern(pattern string) (Pattern, error) {
	switch {
	case pattern == "":
		return Pattern{}, errors.New("empty pattern")
	case pattern == "*":
		return Pattern{raw: pattern, all: true}, nil
	case strings.HasSuffix(pattern, ".*"):
		return Pattern{raw: pattern, prefix: strings.TrimSuffix(pattern, "*")}, nil
	case strings.HasPrefix(pattern, "*."):
		return Pattern{raw: pattern, suffix: strings.TrimPrefix(pattern, "*")}, nil
	case strings.Contains(pattern, "*"):
		return Pattern{}, errors.New("wildcard must be a whole leading or trailing segment: " + pattern)
	}
	return Pattern{raw: pattern}, nil
}

// Match reports whether eventType matches.
func (p Pattern) Match(eventType string) bool {
	switch {
	case eventType == "":
		return false
	case p.all:
		return true
	case p.prefix != "":
		return strings.HasPrefix(eventType, p.prefix)
	case p.suffix != "":
		return strings.HasSuffix(eventType, p.suffix)
	}
	return p.raw != "" && eventType == p.raw
}

func (p Pattern) String() string { return p.raw }

// MatchType matches one type against a pattern string. Invalid patterns
// match nothing.
func MatchType(eventType, pattern string) bool {
	p, err := CompilePattern(pattern)
	return err == nil && p.Match(eventType)
}
