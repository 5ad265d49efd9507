// Package sse reassembles Server-Sent-Events lines from arbitrarily fragmented
// transport chunks and classifies them as chat-completion stream events.
package sse

import "iter"

// DefaultLineCapacity is the line buffer size used when none is configured.
const DefaultLineCapacity = 2048

// LineAssembler accumulates bytes until a '\n' completes a line.
// It holds at most one in-progress line. One byte of capacity is reserved, so
// at most capacity-1 bytes are buffered; bytes beyond that are dropped and
// counted.
type LineAssembler struct {
	buf     []byte
	limit   int
	dropped int
}

// NewLineAssembler returns an assembler with the given capacity.
// A capacity below 2 falls back to DefaultLineCapacity.
func NewLineAssembler(capacity int) *LineAssembler {
	if capacity < 2 {
		capacity = DefaultLineCapacity
	}
	return &LineAssembler{
		buf:   make([]byte, 0, capacity-1),
		limit: capacity - 1,
	}
}

// Lines feeds chunk into the assembler and yields every line it completes, without
// the terminating '\n'. Stopping the iteration stops byte processing at once:
// bytes after the yielded line's terminator are not consumed.
func (a *LineAssembler) Lines(chunk []byte) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, c := range chunk {
			if c != '\n' {
				if len(a.buf) < a.limit {
					a.buf = append(a.buf, c)
				} else {
					a.dropped++
				}
				continue
			}
			line := string(a.buf)
			a.buf = a.buf[:0]
			if !yield(line) {
				return
			}
		}
	}
}

// Reset discards any partial line and the drop counter.
func (a *LineAssembler) Reset() {
	a.buf = a.buf[:0]
	a.dropped = 0
}

// Len reports how many bytes of the in-progress line are buffered.
func (a *LineAssembler) Len() int { return len(a.buf) }

// Dropped reports how many bytes were discarded for overflow since the last Reset.
func (a *LineAssembler) Dropped() int { return a.dropped }
