package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"

	apierrors "github.com/zhengjr9/pocketchat/internal/errors"
)

const (
	DefaultFlushThreshold = 15
	DefaultBufferCapacity = 512
)

// Coalescer batches small fragments into fewer sink deliveries. It flushes once
// the buffered length exceeds the threshold, or as soon as a pushed fragment
// contains a newline. At most capacity-1 bytes are held; a fragment that does
// not fit is truncated on a rune boundary.
type Coalescer struct {
	buf       []byte
	threshold int
	limit     int
	flush     func(string)
	truncated int
}

// NewCoalescer requires capacity > threshold+1 so that at least one more byte
// fits after the threshold is reached.
func NewCoalescer(threshold, capacity int, flush func(string)) (*Coalescer, error) {
	if threshold < 0 || capacity <= threshold+1 {
		return nil, fmt.Errorf("coalescer: %w: capacity %d must exceed threshold %d by more than one",
			apierrors.ErrInvalidArgument, capacity, threshold)
	}
	if flush == nil {
		return nil, fmt.Errorf("coalescer: %w: nil flush func", apierrors.ErrInvalidArgument)
	}
	return &Coalescer{
		buf:       make([]byte, 0, capacity-1),
		threshold: threshold,
		limit:     capacity - 1,
		flush:     flush,
	}, nil
}

// Push appends fragment and flushes if the threshold or a newline says so.
func (c *Coalescer) Push(fragment string) {
	text := fragment
	if room := c.limit - len(c.buf); len(text) > room {
		text = truncateRunes(text, room)
		c.truncated += len(fragment) - len(text)
	}
	c.buf = append(c.buf, text...)

	if len(c.buf) > c.threshold || strings.Contains(fragment, "\n") {
		c.Flush()
	}
}

// Flush delivers whatever is buffered, if anything, and clears the buffer.
func (c *Coalescer) Flush() {
	if len(c.buf) == 0 {
		return
	}
	text := string(c.buf)
	c.buf = c.buf[:0]
	c.flush(text)
}

// Reset clears the buffer and the truncation counter without delivering.
func (c *Coalescer) Reset() {
	c.buf = c.buf[:0]
	c.truncated = 0
}

// Len reports the number of buffered bytes.
func (c *Coalescer) Len() int { return len(c.buf) }

// Truncated reports how many bytes were cut from fragments since the last Reset.
func (c *Coalescer) Truncated() int { return c.truncated }

// truncateRunes returns the longest prefix of s no longer than n bytes that
// does not split a UTF-8 sequence.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
