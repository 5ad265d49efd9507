package panel

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/zhengjr9/pocketchat/internal/display"
	apierrors "github.com/zhengjr9/pocketchat/internal/errors"
	"github.com/zhengjr9/pocketchat/internal/httputil"
	"github.com/zhengjr9/pocketchat/internal/provider"
)

type askRequest struct {
	Prompt *string `json:"prompt"`
}

type askResponse struct {
	RequestID string `json:"request_id"`
	Question  string `json:"question"`
}

// ask is the short press: it sends the given prompt, or the question on the
// screen, and streams the answer into the screen.
func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeOptional(r, &req); err != nil {
		apierrors.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	var question string
	if req.Prompt != nil {
		question = strings.TrimSpace(*req.Prompt)
		if question == "" {
			apierrors.WriteJSONError(w, http.StatusBadRequest, "prompt must not be empty")
			return
		}
	}

	var (
		id          string
		dispatchErr error
	)
	err := s.cfg.Screen.Edit(r.Context(), func(e *display.Editor) {
		if question == "" {
			question = e.Ask()
		}
		if question == "" {
			question = s.cfg.Bank.Current()
		}
		sink := display.NewSink(s.cfg.Screen, s.cfg.SinkWait)
		id, dispatchErr = s.cfg.Dispatcher.Dispatch(s.cfg.Bank.Compose(question), sink)
		if dispatchErr != nil {
			return
		}
		e.SetAsk(question)
		e.ClearAnswer()
		e.SetStatus(display.StatusThinking)
	})
	if err != nil {
		apierrors.WriteJSONError(w, http.StatusServiceUnavailable, "screen is busy")
		return
	}
	if dispatchErr != nil {
		apierrors.WriteJSONError(w, apierrors.StatusFor(dispatchErr), dispatchErr.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, askResponse{RequestID: id, Question: question})
}

func (s *Server) cancel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"canceled": s.cfg.Dispatcher.Cancel()})
}

type questionsResponse struct {
	Questions []string `json:"questions"`
	Current   int      `json:"current"`
}

func (s *Server) listQuestions(w http.ResponseWriter, _ *http.Request) {
	qs, cur := s.cfg.Bank.List()
	writeJSON(w, http.StatusOK, questionsResponse{Questions: qs, Current: cur})
}

// nextQuestion is the switch press: it advances the bank and shows the question.
func (s *Server) nextQuestion(w http.ResponseWriter, r *http.Request) {
	q := s.cfg.Bank.Next()
	if err := s.cfg.Screen.Edit(r.Context(), func(e *display.Editor) { e.SetAsk(q) }); err != nil {
		apierrors.WriteJSONError(w, http.StatusServiceUnavailable, "screen is busy")
		return
	}
	_, cur := s.cfg.Bank.List()
	writeJSON(w, http.StatusOK, map[string]any{"question": q, "current": cur})
}

type providerView struct {
	provider.Config
	HasKey bool `json:"has_key"`
}

type providersResponse struct {
	Providers []providerView `json:"providers"`
	Active    string         `json:"active"`
}

func (s *Server) listProviders(w http.ResponseWriter, _ *http.Request) {
	list, active := s.cfg.Store.List()
	out := providersResponse{Providers: make([]providerView, 0, len(list)), Active: list[active].Name}
	for _, p := range list {
		out.Providers = append(out.Providers, providerView{Config: p, HasKey: p.APIKey != ""})
	}
	writeJSON(w, http.StatusOK, out)
}

type selectRequest struct {
	Name string `json:"name"`
}

func (s *Server) selectProvider(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
		return
	}
	cfg, err := s.cfg.Store.Select(req.Name)
	if err != nil {
		apierrors.WriteJSONError(w, apierrors.StatusFor(err), err.Error())
		return
	}
	s.showProvider(r, cfg)
	writeJSON(w, http.StatusOK, providerView{Config: cfg, HasKey: cfg.APIKey != ""})
}

type putProviderRequest struct {
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	Greeting string `json:"greeting"`
}

// putProvider inserts or replaces a provider and activates it. An empty
// api_key keeps the key the provider already had.
func (s *Server) putProvider(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req putProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
		return
	}
	cfg := provider.Config{Name: name, Endpoint: req.Endpoint, APIKey: req.APIKey, Model: req.Model, Greeting: req.Greeting}
	if cfg.APIKey == "" {
		list, _ := s.cfg.Store.List()
		for _, p := range list {
			if p.Name == name {
				cfg.APIKey = p.APIKey
			}
		}
	}
	if err := s.cfg.Store.Set(cfg); err != nil {
		apierrors.WriteJSONError(w, apierrors.StatusFor(err), err.Error())
		return
	}
	slog.Info("provider updated", "component", "panel", "provider", name, "model", cfg.Model)
	s.showProvider(r, cfg)
	writeJSON(w, http.StatusOK, providerView{Config: cfg, HasKey: cfg.APIKey != ""})
}

// showProvider puts the provider name on the screen and, unless an answer is
// streaming, its greeting.
func (s *Server) showProvider(r *http.Request, cfg provider.Config) {
	err := s.cfg.Screen.Edit(r.Context(), func(e *display.Editor) {
		e.SetProvider(cfg.Name)
		if !s.cfg.Dispatcher.Busy() {
			e.SetAnswer(cfg.Greeting)
		}
	})
	if err != nil {
		slog.Warn("screen busy, provider not shown", "component", "panel", "provider", cfg.Name, "error", err)
	}
}

func (s *Server) screen(w http.ResponseWriter, r *http.Request) {
	st, err := s.cfg.Screen.Snapshot(r.Context())
	if err != nil {
		apierrors.WriteJSONError(w, http.StatusServiceUnavailable, "screen is busy")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// screenEvents streams screen updates as SSE, starting with a full snapshot.
func (s *Server) screenEvents(w http.ResponseWriter, r *http.Request) {
	updates, unsubscribe := s.cfg.Screen.Subscribe()
	defer unsubscribe()

	st, err := s.cfg.Screen.Snapshot(r.Context())
	if err != nil {
		apierrors.WriteJSONError(w, http.StatusServiceUnavailable, "screen is busy")
		return
	}
	httputil.SetSSEHeaders(w)
	if err := writeEvent(w, "snapshot", st); err != nil {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := writeEvent(w, "update", u); err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	httputil.Flush(w)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeOptional decodes a JSON body into v, accepting an empty body.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("decode body: %w", err)
}
