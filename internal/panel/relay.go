package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhengjr9/pocketchat/internal/chat"
	apierrors "github.com/zhengjr9/pocketchat/internal/errors"
	"github.com/zhengjr9/pocketchat/internal/httputil"
)

// relay handles POST /v1/chat/completions. The conversation is flattened into
// one prompt and answered by the active provider; streaming requests share the
// device's single in-flight slot.
func (s *Server) relay(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
		return
	}
	if len(req.Messages) == 0 {
		apierrors.WriteJSONError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}
	prompt := flattenMessages(req.Messages)
	if strings.TrimSpace(prompt) == "" {
		apierrors.WriteJSONError(w, http.StatusBadRequest, "prompt must not be empty")
		return
	}
	model := s.cfg.Store.Snapshot().Model
	id := "chatcmpl-" + uuid.NewString()

	if req.Stream {
		s.relayStream(w, r, prompt, id, model)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()
	answer, err := s.cfg.Completer.Complete(ctx, s.cfg.Store.Snapshot(), prompt)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: answer}, FinishReason: "stop"}},
	})
}

func (s *Server) relayStream(w http.ResponseWriter, r *http.Request, prompt, id, model string) {
	cw := &chunkWriter{w: w, id: id, model: model}
	err := s.cfg.Dispatcher.Run(r.Context(), prompt, chat.SinkFuncs{OnFragment: cw.fragment})
	if err != nil {
		if !cw.started {
			writeUpstreamError(w, err)
			return
		}
		slog.Error("relay stream aborted", "component", "panel", "id", id, "error", err)
		return
	}
	cw.finish()
}

// chunkWriter re-encodes fragments as OpenAI stream chunks. Headers are sent
// with the first fragment so that an early failure can still be answered with
// a proper status.
//
// A trailing newline is held back until more text follows, so the pipeline's
// completion marker never reaches the client.
type chunkWriter struct {
	w       http.ResponseWriter
	id      string
	model   string
	started bool
	failed  bool
	held    bool
}

func (c *chunkWriter) fragment(text string) {
	if c.failed {
		return
	}
	if !c.started {
		httputil.SetSSEHeaders(c.w)
		c.started = true
		c.write(streamChoice{Delta: delta{Role: "assistant"}})
	}
	if c.held {
		text = "\n" + text
		c.held = false
	}
	if trimmed, ok := strings.CutSuffix(text, "\n"); ok {
		text, c.held = trimmed, true
	}
	if text != "" {
		c.write(streamChoice{Delta: delta{Content: text}})
	}
}

func (c *chunkWriter) finish() {
	if !c.started {
		httputil.SetSSEHeaders(c.w)
		c.started = true
	}
	stop := "stop"
	c.write(streamChoice{FinishReason: &stop})
	if !c.failed {
		_, _ = fmt.Fprint(c.w, "data: [DONE]\n\n")
		httputil.Flush(c.w)
	}
}

func (c *chunkWriter) write(choice streamChoice) {
	if c.failed {
		return
	}
	data, err := json.Marshal(streamChunk{
		ID:      c.id,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   c.model,
		Choices: []streamChoice{choice},
	})
	if err == nil {
		_, err = fmt.Fprintf(c.w, "data: %s\n\n", data)
	}
	if err != nil {
		c.failed = true
		slog.Debug("relay client write failed", "component", "panel", "id", c.id, "error", err)
		return
	}
	httputil.Flush(c.w)
}

// flattenMessages converts chat messages into a single prompt. The last message
// is the question; earlier ones are prepended as "role: content" context lines.
func flattenMessages(msgs []chatMessage) string {
	if len(msgs) == 1 {
		return msgs[0].Content
	}
	var sb strings.Builder
	for _, m := range msgs[:len(msgs)-1] {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	sb.WriteString(msgs[len(msgs)-1].Content)
	return sb.String()
}

func writeUpstreamError(w http.ResponseWriter, err error) {
	status := apierrors.StatusFor(err)
	switch status {
	case http.StatusGatewayTimeout:
		apierrors.WriteJSONError(w, status, "upstream timeout")
	case http.StatusBadGateway:
		apierrors.WriteJSONError(w, status, "upstream error: "+err.Error())
	default:
		apierrors.WriteJSONError(w, status, err.Error())
	}
}
