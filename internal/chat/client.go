// Package chat drives streaming chat-completion requests against
// OpenAI-compatible endpoints and delivers coalesced answer text to a Sink.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	apierrors "github.com/zhengjr9/pocketchat/internal/errors"
	"github.com/zhengjr9/pocketchat/internal/metrics"
	"github.com/zhengjr9/pocketchat/internal/provider"
	"github.com/zhengjr9/pocketchat/internal/sse"
)

const (
	DefaultTimeout   = 30 * time.Second
	defaultReadChunk = 1024
	maxErrorBody     = 512
)

// ClientOptions configures a Client. Zero values take the defaults.
type ClientOptions struct {
	// Timeout bounds how long the exchange may go without progress: connecting,
	// waiting for headers, and every gap between body chunks.
	Timeout time.Duration
	// ProxyURL routes requests through an HTTP(S) proxy; empty uses the
	// environment's proxy settings.
	ProxyURL string
	// LineBufferSize is the SSE line buffer capacity in bytes.
	LineBufferSize int
	// FlushThreshold and BufferCapacity size the per-request Coalescer.
	FlushThreshold int
	BufferCapacity int
	// ReadChunkSize is how many body bytes are read per transport chunk.
	ReadChunkSize int
	// Transport overrides the HTTP transport. Tests use it.
	Transport http.RoundTripper
}

// Client sends chat-completion requests. It holds no per-request state, so a
// single Client can serve any number of sequential requests; every call builds
// its own line buffer and coalescer.
type Client struct {
	opts       ClientOptions
	httpClient *http.Client
}

// NewClient constructs a Client, filling defaults for zero options.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.LineBufferSize <= 0 {
		opts.LineBufferSize = sse.DefaultLineCapacity
	}
	if opts.FlushThreshold <= 0 {
		opts.FlushThreshold = DefaultFlushThreshold
	}
	if opts.BufferCapacity <= 0 {
		opts.BufferCapacity = DefaultBufferCapacity
	}
	if opts.ReadChunkSize <= 0 {
		opts.ReadChunkSize = defaultReadChunk
	}

	transport := opts.Transport
	if transport == nil {
		t := &http.Transport{}
		if opts.ProxyURL != "" {
			parsed, err := url.Parse(opts.ProxyURL)
			if err == nil {
				t.Proxy = http.ProxyURL(parsed)
			}
		} else {
			t.Proxy = http.ProxyFromEnvironment
		}
		transport = t
	}

	// No client-level timeout; Stream enforces Timeout between chunks.
	return &Client{
		opts:       opts,
		httpClient: &http.Client{Transport: transport},
	}
}

// Stream POSTs prompt to cfg's endpoint with stream=true and pushes the answer
// to sink.Fragment as it arrives. cfg is used by value for the whole call.
// Stream returns nil once [DONE] has been seen; sink.Done is left to the caller.
func (c *Client) Stream(ctx context.Context, cfg provider.Config, prompt string, sink Sink) error {
	log := requestLogger(ctx, cfg)
	state := StateIdle
	moveTo := func(next State) {
		log.Debug("chat state", "from", state, "to", next)
		state = next
	}
	defer moveTo(StateCompleted)

	moveTo(StateBuilding)
	body, err := json.Marshal(userRequest(cfg.Model, prompt, true))
	if err != nil {
		return apierrors.Serialization("build request", err)
	}
	lines := sse.NewLineAssembler(c.opts.LineBufferSize)
	coalescer, err := NewCoalescer(c.opts.FlushThreshold, c.opts.BufferCapacity, func(text string) {
		metrics.Flushes.Inc()
		sink.Fragment(text)
	})
	if err != nil {
		return err
	}

	moveTo(StateSending)
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	idle := time.AfterFunc(c.opts.Timeout, func() { cancel(c.timeoutErr()) })
	defer idle.Stop()

	sent := time.Now()
	resp, err := c.post(ctx, cfg, body, "text/event-stream")
	if err != nil {
		return c.transportErr(ctx, "post", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}

	moveTo(StateStreaming)
	defer func() {
		if n := lines.Dropped(); n > 0 {
			metrics.DroppedBytes.WithLabelValues("line").Add(float64(n))
			log.Debug("line buffer overflow", "dropped_bytes", n)
		}
		if n := coalescer.Truncated(); n > 0 {
			metrics.DroppedBytes.WithLabelValues("coalesce").Add(float64(n))
			log.Debug("coalesce buffer overflow", "truncated_bytes", n)
		}
	}()

	firstFragment := true
	chunk := make([]byte, c.opts.ReadChunkSize)
	for {
		if ctx.Err() != nil {
			coalescer.Flush()
			return c.transportErr(ctx, "stream", ctx.Err())
		}

		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			idle.Reset(c.opts.Timeout)
			terminated := false
			for line := range lines.Lines(chunk[:n]) {
				ev := sse.Classify(line)
				switch ev.Kind {
				case sse.Fragment:
					if ev.Text == "" {
						continue
					}
					if firstFragment {
						firstFragment = false
						metrics.FirstFragment.Observe(time.Since(sent).Seconds())
					}
					metrics.Fragments.Inc()
					coalescer.Push(ev.Text)
				case sse.Terminated:
					terminated = true
				case sse.Noise:
					metrics.NoiseLines.Inc()
					if line != "" {
						log.Debug("ignoring stream line", "line", line)
					}
				}
				if terminated {
					break
				}
			}
			if terminated {
				coalescer.Push("\n")
				return nil
			}
		}

		if readErr != nil {
			coalescer.Flush()
			if errors.Is(readErr, io.EOF) {
				return incompleteStream()
			}
			return c.transportErr(ctx, "read stream", readErr)
		}
	}
}

// Complete sends prompt with stream=false and returns choices[0].message.content.
func (c *Client) Complete(ctx context.Context, cfg provider.Config, prompt string) (string, error) {
	body, err := json.Marshal(userRequest(cfg.Model, prompt, false))
	if err != nil {
		return "", apierrors.Serialization("build request", err)
	}

	ctx, cancel := context.WithTimeoutCause(ctx, c.opts.Timeout, c.timeoutErr())
	defer cancel()

	resp, err := c.post(ctx, cfg, body, "application/json")
	if err != nil {
		return "", c.transportErr(ctx, "post", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var result CompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", c.transportErr(ctx, "decode response", err)
	}
	if len(result.Choices) == 0 {
		return "", apierrors.Transport("decode response", errors.New("response has no choices"))
	}
	return result.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, cfg provider.Config, body []byte, accept string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	if cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	// single-shot exchange, no keep-alive
	httpReq.Header.Set("Connection", "close")
	httpReq.Close = true

	return c.httpClient.Do(httpReq)
}

func (c *Client) timeoutErr() error {
	return fmt.Errorf("no response progress within %s: %w", c.opts.Timeout, context.DeadlineExceeded)
}

// transportErr prefers the context's cause, so an idle timeout or an explicit
// cancel is reported instead of the generic error it produced.
func (c *Client) transportErr(ctx context.Context, op string, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		err = cause
	}
	return apierrors.Transport(op, err)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return apierrors.Transport("post", fmt.Errorf("%w: %d: %s", apierrors.ErrUpstreamStatus, resp.StatusCode, bytes.TrimSpace(raw)))
}

// incompleteStream reports a body that ended before [DONE].
func incompleteStream() error {
	return apierrors.Transport("read stream", apierrors.ErrIncompleteStream)
}

func requestLogger(ctx context.Context, cfg provider.Config) *slog.Logger {
	log := slog.With("component", "chat", "provider", cfg.Name, "model", cfg.Model)
	if id, ok := RequestIDFrom(ctx); ok {
		log = log.With("request_id", id)
	}
	return log
}

type requestIDKey struct{}

// WithRequestID tags ctx with a request ID used in log lines.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request ID set by WithRequestID.
func RequestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}
