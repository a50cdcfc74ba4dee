// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package stream

import "bytes"

// LineAssembler turns arbitrarily chunked output into complete lines. It holds
// at most one incomplete trailing line. No length limit is imposed.
type LineAssembler struct {
	buf []byte
}

// Feed appends chunk and returns every line it completed, without the
// trailing newline. Empty lines are returned too; callers skip them.
func (a *LineAssembler) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	a.buf = append(a.buf, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(a.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(a.buf[:i]))
		a.buf = a.buf[i+1:]
	}

	// Release consumed capacity.
	if len(a.buf) == 0 {
		a.buf = nil
	} else if cap(a.buf) > 2*len(a.buf)+4096 {
		a.buf = append([]byte(nil), a.buf...)
	}
	return lines
}

// FeedString is Feed for string chunks.
func (a *LineAssembler) FeedString(chunk string) []string {
	return a.Feed([]byte(chunk))
}

// Pending returns the incomplete trailing line currently buffered.
func (a *LineAssembler) Pending() string {
	return string(a.buf)
}

// Reset discards any buffered partial line.
func (a *LineAssembler) Reset() {
	a.buf = nil
}
