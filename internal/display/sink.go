package display

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zhengjr9/pocketchat/internal/metrics"
)

// DefaultWait bounds how long a fragment delivery waits for the UI lock.
const DefaultWait = 250 * time.Millisecond

// doneWaitFactor stretches the wait for the final delivery.
const doneWaitFactor = 20

// Sink appends streamed answer text to a Screen. It implements chat.Sink.
//
// A fragment that cannot take the lock within the wait is kept and delivered
// in front of the next one, so text is never lost or reordered.
type Sink struct {
	screen *Screen
	wait   time.Duration

	mu      sync.Mutex
	pending strings.Builder
}

// NewSink returns a Sink for screen; wait <= 0 selects DefaultWait.
func NewSink(screen *Screen, wait time.Duration) *Sink {
	if wait <= 0 {
		wait = DefaultWait
	}
	return &Sink{screen: screen, wait: wait}
}

func (s *Sink) Fragment(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.WriteString(text)

	text = s.pending.String()
	if s.screen.TryEdit(s.wait, func(e *Editor) { e.AppendAnswer(text) }) {
		s.pending.Reset()
		return
	}
	metrics.SinkLockTimeouts.Inc()
	slog.Warn("UI lock busy, fragment deferred", "component", "display", "pending_bytes", s.pending.Len())
}

func (s *Sink) Done(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := StatusDone
	if err != nil {
		status = "error: " + err.Error()
	}
	rest := s.pending.String()

	ctx, cancel := context.WithTimeout(context.Background(), s.wait*doneWaitFactor)
	defer cancel()
	editErr := s.screen.Edit(ctx, func(e *Editor) {
		e.AppendAnswer(rest)
		e.SetStatus(status)
	})
	if editErr != nil {
		metrics.SinkLockTimeouts.Inc()
		slog.Error("UI lock busy, final update dropped", "component", "display", "pending_bytes", len(rest), "status", status)
		return
	}
	s.pending.Reset()
}
