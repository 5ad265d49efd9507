// Package panel serves the HTTP control surface: the buttons of the device
// (ask, next question, switch provider), a view of the chat screen, and an
// OpenAI-compatible relay onto the same serialized chat pipeline.
package panel

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/zhengjr9/pocketchat/internal/chat"
	"github.com/zhengjr9/pocketchat/internal/display"
	"github.com/zhengjr9/pocketchat/internal/prompt"
	"github.com/zhengjr9/pocketchat/internal/provider"
)

// Completer answers a prompt without streaming.
type Completer interface {
	Complete(ctx context.Context, cfg provider.Config, prompt string) (string, error)
}

// Config carries the panel's settings and collaborators.
type Config struct {
	ListenAddr     string
	RequestTimeout time.Duration
	SinkWait       time.Duration
	AskRate        float64
	AskBurst       int
	RelayToken     string

	Dispatcher *chat.Dispatcher
	Completer  Completer
	Store      *provider.Store
	Screen     *display.Screen
	Bank       *prompt.Bank
}

// Server is the control panel HTTP server.
type Server struct {
	cfg        Config
	httpServer *http.Server
}

// New builds the router and the underlying http.Server.
func New(cfg Config) *Server {
	if cfg.AskRate <= 0 {
		cfg.AskRate = 1
	}
	if cfg.AskBurst <= 0 {
		cfg.AskBurst = 3
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{cfg: cfg}

	limiter := rate.NewLimiter(rate.Limit(cfg.AskRate), cfg.AskBurst)

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/ask", rateLimit(limiter, s.ask)).Methods(http.MethodPost)
	v1.HandleFunc("/ask/cancel", s.cancel).Methods(http.MethodPost)
	v1.HandleFunc("/questions", s.listQuestions).Methods(http.MethodGet)
	v1.HandleFunc("/questions/next", s.nextQuestion).Methods(http.MethodPost)
	v1.HandleFunc("/providers", s.listProviders).Methods(http.MethodGet)
	v1.HandleFunc("/providers/active", s.selectProvider).Methods(http.MethodPut)
	v1.HandleFunc("/providers/{name}", s.putProvider).Methods(http.MethodPut)
	v1.HandleFunc("/screen", s.screen).Methods(http.MethodGet)
	v1.HandleFunc("/screen/events", s.screenEvents).Methods(http.MethodGet)
	v1.Handle("/chat/completions", requireToken(cfg.RelayToken, http.HandlerFunc(s.relay))).Methods(http.MethodPost)

	var handler http.Handler = router
	handler = loggingMiddleware(handler)
	handler = recoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Start begins listening and blocks until the server is stopped.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Handler returns the underlying http.Handler (for use in tests with httptest.NewServer).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "busy": s.cfg.Dispatcher.Busy()})
}
