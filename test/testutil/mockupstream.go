package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockUpstream is an httptest.Server that simulates an OpenAI-compatible
// /chat/completions endpoint.
type MockUpstream struct {
	Server *httptest.Server

	// Answer is streamed word by word, or returned whole for stream=false.
	Answer string
	// Status, when non-zero and not 200, is returned with an error body.
	Status int
	// OmitDone ends the stream without the [DONE] terminator.
	OmitDone bool

	mu          sync.Mutex
	lastRequest map[string]any
	lastAuth    string
	requests    int
}

// NewMockUpstream creates and starts a mock upstream.
func NewMockUpstream(answer string) *MockUpstream {
	m := &MockUpstream{Answer: answer}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.Server.Close()
}

// URL returns the full chat completions endpoint of the mock server.
func (m *MockUpstream) URL() string {
	return m.Server.URL + "/v1/chat/completions"
}

// LastRequest returns the most recent request body and Authorization header.
func (m *MockUpstream) LastRequest() (map[string]any, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequest, m.lastAuth
}

// Requests returns how many requests were served.
func (m *MockUpstream) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

func (m *MockUpstream) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/chat/completions" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	m.lastRequest = body
	m.lastAuth = r.Header.Get("Authorization")
	m.requests++
	m.mu.Unlock()

	if m.Status != 0 && m.Status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(m.Status)
		fmt.Fprintf(w, `{"error":{"message":"mock failure %d"}}`, m.Status)
		return
	}

	if stream, _ := body["stream"].(bool); stream {
		m.writeStreaming(w)
		return
	}
	m.writeBlocking(w)
}

func (m *MockUpstream) writeBlocking(w http.ResponseWriter) {
	resp := map[string]any{
		"id":      "chatcmpl-mock",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"choices": []any{map[string]any{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": m.Answer},
			"finish_reason": "stop",
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (m *MockUpstream) writeStreaming(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, hasFlusher := w.(http.Flusher)

	// a role-only chunk first, as real providers send
	fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
	for i, word := range strings.Fields(m.Answer) {
		if i > 0 {
			word = " " + word
		}
		data, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"delta": map[string]any{"content": word}}},
		})
		fmt.Fprintf(w, "data: %s\n\n", data)
		if hasFlusher {
			flusher.Flush()
		}
	}
	if !m.OmitDone {
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
	if hasFlusher {
		flusher.Flush()
	}
}
