// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package policy decides which tool invocations are approved without asking
// the user.
package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tidwall/gjson"
)

// ShellTool runs shell commands; its rules match the command line.
const ShellTool = "Bash"

// fileTools take a path argument; their rules are globs.
var fileTools = map[string]bool{
	"Read":         true,
	"Write":        true,
	"Edit":         true,
	"MultiEdit":    true,
	"NotebookEdit": true,
	"Glob":         true,
	"Grep":         true,
}

var pathFields = []string{"file_path", "path", "notebook_path"}

// Rule is "Tool" or "Tool(pattern)".
type Rule struct {
	Tool    string `json:"tool"`
	Pattern string `json:"pattern,omitempty"`
}

// ParseRule parses the textual rule form.
func ParseRule(s string) (Rule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Rule{}, fmt.Errorf("empty rule")
	}
	open := strings.IndexByte(s, '(')
	if open < 0 {
		if strings.ContainsAny(s, ")") {
			return Rule{}, fmt.Errorf("rule %q: unbalanced parenthesis", s)
		}
		return Rule{Tool: s}, nil
	}
	if !strings.HasSuffix(s, ")") {
		return Rule{}, fmt.Errorf("rule %q: missing closing parenthesis", s)
	}
	r := Rule{
		Tool:    strings.TrimSpace(s[:open]),
		Pattern: s[open+1 : len(s)-1],
	}
	if r.Tool == "" {
		return Rule{}, fmt.Errorf("rule %q: missing tool name", s)
	}
	if fileTools[r.Tool] && r.Pattern != "" && !doublestar.ValidatePattern(r.Pattern) {
		return Rule{}, fmt.Errorf("rule %q: invalid glob pattern", s)
	}
	return r, nil
}

// ParseRules parses a list of rules, failing on the first invalid one.
func ParseRules(list []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(list))
	for _, s := range list {
		r, err := ParseRule(s)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func (r Rule) String() string {
	if r.Pattern == "" {
		return r.Tool
	}
	return r.Tool + "(" + r.Pattern + ")"
}

// Matches reports whether the rule allows this invocation.
func (r Rule) Matches(tool string, input json.RawMessage) bool {
	if r.Tool != tool {
		return false
	}
	if r.Pattern == "" {
		return true
	}

	switch {
	case tool == ShellTool:
		command := strings.TrimSpace(gjson.GetBytes(input, "command").String())
		if prefix, ok := strings.CutSuffix(r.Pattern, " *"); ok {
			if command == prefix {
				return true
			}
			return strings.HasPrefix(command, prefix+" ") && !chainsCommands(command)
		}
		return command == r.Pattern
	case fileTools[tool]:
		path := inputPath(input)
		if path == "" {
			return false
		}
		ok, err := doublestar.Match(filepath.ToSlash(r.Pattern), filepath.ToSlash(path))
		return err == nil && ok
	default:
		want, err := Canonical(json.RawMessage(r.Pattern))
		if err != nil {
			return false
		}
		got, err := Canonical(input)
		return err == nil && bytes.Equal(want, got)
	}
}

// shellOperators let one command line run more than one command.
var shellOperators = []string{"&", "|", ";", "$(", "`", "\n", "\r", "<(", ">("}

// chainsCommands reports whether command could run something besides the
// program it starts with. A prefix rule never approves such a line.
func chainsCommands(command string) bool {
	for _, op := range shellOperators {
		if strings.Contains(command, op) {
			return true
		}
	}
	return false
}

// RuleFor derives the narrowest rule that would allow this exact invocation.
// It is what an "always allow" decision records.
func RuleFor(tool string, input json.RawMessage) Rule {
	switch {
	case tool == ShellTool:
		if command := strings.TrimSpace(gjson.GetBytes(input, "command").String()); command != "" {
			return Rule{Tool: tool, Pattern: command}
		}
	case fileTools[tool]:
		if path := inputPath(input); path != "" {
			return Rule{Tool: tool, Pattern: path}
		}
	default:
		if c, err := Canonical(input); err == nil && len(c) > 0 && !bytes.Equal(c, []byte("{}")) {
			return Rule{Tool: tool, Pattern: string(c)}
		}
	}
	return Rule{Tool: tool}
}

// Canonical re-encodes JSON with sorted object keys and no insignificant
// whitespace.
func Canonical(raw json.RawMessage) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func inputPath(input json.RawMessage) string {
	for _, field := range pathFields {
		if p := gjson.GetBytes(input, field).String(); p != "" {
			return p
		}
	}
	return ""
}
