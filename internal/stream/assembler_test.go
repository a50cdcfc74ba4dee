// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineAssembler_Feed(t *testing.T) {
	tests := []struct {
		name    string
		chunks  []string
		lines   []string
		pending string
	}{
		{"single line", []string{"abc\n"}, []string{"abc"}, ""},
		{"no newline", []string{"abc"}, nil, "abc"},
		{"split line", []string{"ab", "c\n"}, []string{"abc"}, ""},
		{"two lines one chunk", []string{"a\nb\n"}, []string{"a", "b"}, ""},
		{"trailing fragment", []string{"a\nb"}, []string{"a"}, "b"},
		{"empty lines kept", []string{"\n\na\n"}, []string{"", "", "a"}, ""},
		{"carriage return kept", []string{"a\r\n"}, []string{"a\r"}, ""},
		{"empty chunk", []string{"a", "", "\n"}, []string{"a"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a LineAssembler
			var got []string
			for _, c := range tt.chunks {
				got = append(got, a.FeedString(c)...)
			}
			assert.Equal(t, tt.lines, got)
			assert.Equal(t, tt.pending, a.Pending())
		})
	}
}

func TestLineAssembler_Reset(t *testing.T) {
	var a LineAssembler
	a.FeedString(`{"type":"resu`)
	assert.NotEmpty(t, a.Pending())

	a.Reset()
	assert.Empty(t, a.Pending())
	assert.Equal(t, []string{"x"}, a.FeedString("x\n"))
}

func TestLineAssembler_LongLine(t *testing.T) {
	var a LineAssembler
	long := strings.Repeat("x", 1<<20)
	for i := 0; i < len(long); i += 4096 {
		assert.Empty(t, a.FeedString(long[i:i+4096]))
	}
	lines := a.FeedString("\n")
	assert.Equal(t, []string{long}, lines)
}

// Every byte fed is either still buffered or part of an emitted line.
func TestLineAssembler_BufferCompleteness(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"tool_use","id":"t1","name":"Read","input":{}}`,
		``,
		`{"type":"text_delta","text":"hi"}`,
		`not json`,
		`{"type":"result","total_cost_usd":0.02}`,
	}, "\n") + "\n" + `{"type":"tail`

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		var a LineAssembler
		var fed, emitted strings.Builder
		rest := input
		for len(rest) > 0 {
			n := 1 + rng.Intn(12)
			if n > len(rest) {
				n = len(rest)
			}
			chunk := rest[:n]
			rest = rest[n:]

			fed.WriteString(chunk)
			for _, l := range a.FeedString(chunk) {
				emitted.WriteString(l)
				emitted.WriteString("\n")
			}
			assert.Equal(t, fed.String(), emitted.String()+a.Pending())
		}
	}
}
