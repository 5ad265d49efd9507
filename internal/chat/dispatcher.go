package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/zhengjr9/pocketchat/internal/errors"
	"github.com/zhengjr9/pocketchat/internal/metrics"
	"github.com/zhengjr9/pocketchat/internal/provider"
)

// Streamer is the part of Client the Dispatcher drives.
type Streamer interface {
	Stream(ctx context.Context, cfg provider.Config, prompt string, sink Sink) error
}

// ConfigSource yields the provider to use for the next request.
type ConfigSource interface {
	Snapshot() provider.Config
}

// Dispatcher runs at most one chat request at a time. A dispatch while another
// request is in flight is rejected with ErrBusy rather than queued.
type Dispatcher struct {
	streamer Streamer
	configs  ConfigSource

	busy atomic.Bool
	wg   sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewDispatcher wires a Dispatcher to a streamer and its provider source.
func NewDispatcher(streamer Streamer, configs ConfigSource) *Dispatcher {
	return &Dispatcher{streamer: streamer, configs: configs}
}

// Dispatch starts a request in the background and returns its ID. prompt is
// copied, so the caller may reuse its buffer immediately. sink.Done is called
// exactly once when the request ends, whatever the outcome.
func (d *Dispatcher) Dispatch(prompt string, sink Sink) (string, error) {
	ctx, id, err := d.begin(context.Background(), prompt)
	if err != nil {
		return "", err
	}
	owned := strings.Clone(prompt)
	cfg := d.configs.Snapshot()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.execute(ctx, id, cfg, owned, sink)
	}()
	return id, nil
}

// Run is the synchronous form of Dispatch: it blocks until the request ends,
// calls sink.Done, and returns the same error Done received.
func (d *Dispatcher) Run(ctx context.Context, prompt string, sink Sink) error {
	ctx, id, err := d.begin(ctx, prompt)
	if err != nil {
		return err
	}
	d.wg.Add(1)
	defer d.wg.Done()
	return d.execute(ctx, id, d.configs.Snapshot(), prompt, sink)
}

// Cancel aborts the in-flight request, if any, and reports whether there was one.
func (d *Dispatcher) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel == nil {
		return false
	}
	d.cancel()
	return true
}

// Busy reports whether a request is in flight.
func (d *Dispatcher) Busy() bool { return d.busy.Load() }

// Wait blocks until the in-flight request, if any, has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) begin(parent context.Context, prompt string) (context.Context, string, error) {
	if strings.TrimSpace(prompt) == "" {
		slog.Warn("prompt is empty, ignored", "component", "dispatcher")
		metrics.Requests.WithLabelValues("invalid").Inc()
		return nil, "", apierrors.InvalidArgument("dispatch", "prompt must not be empty")
	}
	if !d.busy.CompareAndSwap(false, true) {
		slog.Warn("chat request rejected, another is in flight", "component", "dispatcher")
		metrics.Requests.WithLabelValues("busy").Inc()
		return nil, "", apierrors.ErrBusy
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(WithRequestID(parent, id))
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	return ctx, id, nil
}

func (d *Dispatcher) execute(ctx context.Context, id string, cfg provider.Config, prompt string, sink Sink) (err error) {
	start := time.Now()
	log := slog.With("component", "dispatcher", "request_id", id, "provider", cfg.Name)
	log.Info("chat request started", "prompt_len", len(prompt))

	// The slot stays taken until Done returns, so the next request cannot
	// reach the sink while this one is still finishing.
	defer func() {
		if err != nil {
			log.Error("chat request failed", "error", err, "duration", time.Since(start).String())
		} else {
			log.Info("chat request finished", "duration", time.Since(start).String())
		}
		sink.Done(err)

		d.mu.Lock()
		d.cancel()
		d.cancel = nil
		d.mu.Unlock()
		d.busy.Store(false)

		metrics.RequestDuration.Observe(time.Since(start).Seconds())
		metrics.Requests.WithLabelValues(resultLabel(err)).Inc()
	}()

	return d.streamer.Stream(ctx, cfg, prompt, sink)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, apierrors.ErrIncompleteStream):
		return "incomplete"
	case errors.Is(err, apierrors.ErrSerialization):
		return "serialization"
	case errors.Is(err, apierrors.ErrTransport):
		return "transport"
	}
	return "error"
}
