package panel

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhengjr9/pocketchat/internal/chat"
	"github.com/zhengjr9/pocketchat/internal/display"
	apierrors "github.com/zhengjr9/pocketchat/internal/errors"
	"github.com/zhengjr9/pocketchat/internal/prompt"
	"github.com/zhengjr9/pocketchat/internal/provider"
)

// gatedStreamer answers every prompt with "ok\n" once released.
type gatedStreamer struct {
	started chan string
	release chan struct{}
}

func newGatedStreamer() *gatedStreamer {
	return &gatedStreamer{started: make(chan string, 8), release: make(chan struct{})}
}

func (g *gatedStreamer) Stream(ctx context.Context, _ provider.Config, p string, sink chat.Sink) error {
	g.started <- p
	select {
	case <-g.release:
	case <-ctx.Done():
		return apierrors.Transport("stream", ctx.Err())
	}
	sink.Fragment("ok\n")
	return nil
}

type staticCompleter string

func (s staticCompleter) Complete(context.Context, provider.Config, string) (string, error) {
	return string(s), nil
}

type fixture struct {
	srv        *httptest.Server
	streamer   *gatedStreamer
	dispatcher *chat.Dispatcher
	screen     *display.Screen
	store      *provider.Store
}

func newFixture(t *testing.T, mod func(*Config)) *fixture {
	t.Helper()
	store, err := provider.NewStore([]provider.Config{
		{Name: "a", Endpoint: "https://a.test/v1/chat/completions", Model: "model-a", Greeting: "Hi from A"},
	}, "a")
	require.NoError(t, err)
	st := newGatedStreamer()
	d := chat.NewDispatcher(st, store)
	screen := display.NewScreen(nil)
	cfg := Config{
		SinkWait:   20 * time.Millisecond,
		AskRate:    100,
		AskBurst:   100,
		Dispatcher: d,
		Completer:  staticCompleter("blocking answer"),
		Store:      store,
		Screen:     screen,
		Bank:       prompt.NewBank([]string{"first?", "second?"}, " (short)"),
	}
	if mod != nil {
		mod(&cfg)
	}
	ts := httptest.NewServer(New(cfg).Handler())
	t.Cleanup(func() {
		d.Cancel()
		d.Wait()
		ts.Close()
	})
	return &fixture{srv: ts, streamer: st, dispatcher: d, screen: screen, store: store}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAskComposesAndShowsThinking(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/v1/ask", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "first? (short)", <-f.streamer.started)

	st, err := f.screen.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first?", st.Ask)
	assert.Equal(t, display.StatusThinking, st.Status)

	close(f.streamer.release)
	f.dispatcher.Wait()
	assert.Eventually(t, func() bool {
		st, _ := f.screen.Snapshot(context.Background())
		return st.Status == display.StatusDone && st.Answer == "ok\n"
	}, time.Second, 10*time.Millisecond)
}

func TestAskWhileBusy(t *testing.T) {
	f := newFixture(t, nil)

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/v1/ask", `{"prompt":"one"}`).StatusCode)
	<-f.streamer.started

	resp := f.do(t, http.MethodPost, "/v1/ask", `{"prompt":"two"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	st, err := f.screen.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "one", st.Ask, "a rejected ask leaves the screen alone")
}

func TestAskRateLimited(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.AskRate = 0.001
		c.AskBurst = 1
	})

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/v1/ask", "").StatusCode)
	resp := f.do(t, http.MethodPost, "/v1/ask", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestAskMalformedBody(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodPost, "/v1/ask", `{"prompt":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelInFlight(t *testing.T) {
	f := newFixture(t, nil)

	var body map[string]bool
	require.NoError(t, json.NewDecoder(f.do(t, http.MethodPost, "/v1/ask/cancel", "").Body).Decode(&body))
	assert.False(t, body["canceled"])

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/v1/ask", "").StatusCode)
	<-f.streamer.started
	require.NoError(t, json.NewDecoder(f.do(t, http.MethodPost, "/v1/ask/cancel", "").Body).Decode(&body))
	assert.True(t, body["canceled"])

	f.dispatcher.Wait()
	assert.Eventually(t, func() bool {
		st, _ := f.screen.Snapshot(context.Background())
		return strings.HasPrefix(st.Status, "error: ")
	}, time.Second, 10*time.Millisecond)
}

func TestQuestions(t *testing.T) {
	f := newFixture(t, nil)

	var next map[string]any
	require.NoError(t, json.NewDecoder(f.do(t, http.MethodPost, "/v1/questions/next", "").Body).Decode(&next))
	assert.Equal(t, "second?", next["question"])

	var list questionsResponse
	require.NoError(t, json.NewDecoder(f.do(t, http.MethodGet, "/v1/questions", "").Body).Decode(&list))
	assert.Equal(t, []string{"first?", "second?"}, list.Questions)
	assert.Equal(t, 1, list.Current)

	st, err := f.screen.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second?", st.Ask)
}

func TestPutProviderUpsertsAndKeepsKey(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPut, "/v1/providers/b", `{"endpoint":"https://b.test/chat","model":"model-b","api_key":"kb","greeting":"Hi from B"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "kb", f.store.Snapshot().APIKey)

	resp = f.do(t, http.MethodPut, "/v1/providers/b", `{"endpoint":"https://b.test/chat","model":"model-b2"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "kb", f.store.Snapshot().APIKey, "empty api_key keeps the stored one")
	assert.Equal(t, "model-b2", f.store.Snapshot().Model)

	var list providersResponse
	require.NoError(t, json.NewDecoder(f.do(t, http.MethodGet, "/v1/providers", "").Body).Decode(&list))
	assert.Equal(t, "b", list.Active)
	require.Len(t, list.Providers, 2)
	assert.True(t, list.Providers[1].HasKey)

	resp = f.do(t, http.MethodPut, "/v1/providers/c", `{"endpoint":"ftp://nope","model":"m"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScreenEventsStreamsUpdates(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/v1/screen/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if rest, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
				lines <- rest
			}
		}
	}()

	var snap display.State
	require.NoError(t, json.Unmarshal([]byte(<-lines), &snap))
	assert.Equal(t, display.StatusIdle, snap.Status)

	require.NoError(t, f.screen.Edit(context.Background(), func(e *display.Editor) { e.SetAsk("live") }))
	var u display.Update
	require.NoError(t, json.Unmarshal([]byte(<-lines), &u))
	assert.Equal(t, display.Update{Kind: display.UpdateAsk, Text: "live"}, u)
}

func TestRelayBlockingUsesCompleter(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out chatCompletionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "blocking answer", out.Choices[0].Message.Content)
	assert.Equal(t, "model-a", out.Model)
}

func TestRelayStreamBusy(t *testing.T) {
	f := newFixture(t, nil)

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/v1/ask", "").StatusCode)
	<-f.streamer.started

	resp := f.do(t, http.MethodPost, "/v1/chat/completions", `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRelayStreamDropsCompletionMarker(t *testing.T) {
	f := newFixture(t, nil)
	close(f.streamer.release)

	resp := f.do(t, http.MethodPost, "/v1/chat/completions", `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var content strings.Builder
	done := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		rest, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		if rest == "[DONE]" {
			done = true
			break
		}
		var chunk streamChunk
		require.NoError(t, json.Unmarshal([]byte(rest), &chunk))
		content.WriteString(chunk.Choices[0].Delta.Content)
	}
	assert.True(t, done)
	assert.Equal(t, "ok", content.String())
}

func TestChunkWriterKeepsInnerNewlines(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := &chunkWriter{w: rec, id: "x", model: "m"}
	cw.fragment("line one\n")
	cw.fragment("line two")
	cw.fragment("\n")
	cw.finish()

	var content strings.Builder
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		rest, ok := strings.CutPrefix(line, "data: ")
		if !ok || rest == "[DONE]" {
			continue
		}
		var chunk streamChunk
		require.NoError(t, json.Unmarshal([]byte(rest), &chunk))
		content.WriteString(chunk.Choices[0].Delta.Content)
	}
	assert.Equal(t, "line one\nline two", content.String())
}

func TestFlattenMessages(t *testing.T) {
	assert.Equal(t, "only", flattenMessages([]chatMessage{{Role: "user", Content: "only"}}))
	assert.Equal(t, "system: be brief\nuser: hi\nagain", flattenMessages([]chatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
		{Role: "user", Content: "again"},
	}))
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
