package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/volcengine/veadk-go/apps"
	"github.com/volcengine/veadk-go/apps/a2a_app"
	"golang.org/x/sync/errgroup"
	"google.golang.org/adk/agent"

	"github.com/zhengjr9/pocketchat/internal/a2a"
	"github.com/zhengjr9/pocketchat/internal/chat"
	"github.com/zhengjr9/pocketchat/internal/config"
	"github.com/zhengjr9/pocketchat/internal/display"
	apierrors "github.com/zhengjr9/pocketchat/internal/errors"
	"github.com/zhengjr9/pocketchat/internal/httputil"
	"github.com/zhengjr9/pocketchat/internal/panel"
	"github.com/zhengjr9/pocketchat/internal/prompt"
	"github.com/zhengjr9/pocketchat/internal/provider"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to parse configuration", "error", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	setupLogging(cfg)

	slog.Info("starting pocketchat",
		"listen", cfg.ListenAddr,
		"provider", cfg.Provider,
		"providers_file", cfg.ProvidersFile,
		"a2a_enabled", cfg.A2AEnabled,
	)

	store, err := newStore(cfg)
	if err != nil {
		slog.Error("failed to load providers", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := chat.NewClient(chat.ClientOptions{
		Timeout:        cfg.RequestTimeout,
		ProxyURL:       cfg.ProxyURL,
		LineBufferSize: cfg.LineBufferSize,
		FlushThreshold: cfg.FlushThreshold,
		BufferCapacity: cfg.BufferCapacity,
	})
	dispatcher := chat.NewDispatcher(client, store)
	screen := display.NewScreen(nil)
	bank := prompt.NewBank(prompt.DefaultQuestions(), cfg.PromptSuffix)

	active := store.Snapshot()
	_ = screen.Edit(ctx, func(e *display.Editor) {
		e.SetAsk(bank.Current())
		e.SetProvider(active.Name)
		e.SetAnswer(active.Greeting)
	})

	srv := panel.New(panel.Config{
		ListenAddr:     cfg.ListenAddr,
		RequestTimeout: cfg.RequestTimeout,
		SinkWait:       cfg.UILockTimeout,
		AskRate:        cfg.AskRate,
		AskBurst:       cfg.AskBurst,
		RelayToken:     cfg.RelayToken,
		Dispatcher:     dispatcher,
		Completer:      client,
		Store:          store,
		Screen:         screen,
		Bank:           bank,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.ProvidersFile != "" {
		g.Go(func() error {
			return provider.Watch(gctx, cfg.ProvidersFile, store, nil)
		})
	}

	if cfg.A2AEnabled {
		chatAgent, err := a2a.New(a2a.AgentConfig{
			Name:        cfg.AgentName,
			Description: cfg.AgentDesc,
			Dispatcher:  dispatcher,
		})
		if err != nil {
			slog.Error("failed to create A2A agent", "error", err)
			os.Exit(1)
		}

		slog.Info("starting A2A server", "port", cfg.A2APort, "agent_name", cfg.AgentName)

		inner := a2a_app.NewAgentkitA2AServerApp(
			apps.DefaultApiConfig().SetPort(cfg.A2APort),
		)
		wrapped := &tokenGateApp{BasicApp: inner, token: cfg.A2AToken}

		g.Go(func() error {
			return wrapped.Run(gctx, &apps.RunConfig{
				AgentLoader: agent.NewSingleLoader(chatAgent),
			})
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")
		if dispatcher.Cancel() {
			slog.Info("in-flight chat request canceled")
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Error("panel shutdown error", "error", err)
		}
		dispatcher.Wait()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func setupLogging(cfg *config.Config) {
	level, _ := cfg.Level()
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// newStore builds the provider store from the providers file when one is set,
// otherwise from the built-in presets. --api-key goes to the active provider.
func newStore(cfg *config.Config) (*provider.Store, error) {
	providers, active := provider.Presets(), cfg.Provider
	if cfg.ProvidersFile != "" {
		f, err := provider.LoadFile(cfg.ProvidersFile)
		if err != nil {
			return nil, err
		}
		providers = f.Providers
		if f.Active != "" {
			active = f.Active
		}
	}
	store, err := provider.NewStore(providers, active)
	if err != nil {
		return nil, err
	}
	if cfg.APIKey != "" {
		store.SetAPIKey(cfg.APIKey)
	}
	if store.Snapshot().APIKey == "" {
		slog.Warn("active provider has no API key, requests will be sent unauthenticated", "provider", store.Snapshot().Name)
	}
	return store, nil
}

// tokenGateApp wraps a BasicApp and, when token is set, installs a Gorilla mux
// middleware that rejects requests without "Authorization: Bearer <token>".
type tokenGateApp struct {
	apps.BasicApp
	token string
}

// Run overrides the embedded Run so that apps.Run receives the wrapper as the
// app and calls its SetupRouters, not the inner app's.
func (w *tokenGateApp) Run(ctx context.Context, config *apps.RunConfig) error {
	return apps.Run(ctx, config, w)
}

func (w *tokenGateApp) SetupRouters(router *mux.Router, config *apps.RunConfig) error {
	if err := w.BasicApp.SetupRouters(router, config); err != nil {
		return err
	}
	if w.token != "" {
		router.Use(w.gate)
	}
	return nil
}

// gate leaves the AgentCard public so clients can discover the agent.
func (w *tokenGateApp) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/agent-card.json" && !httputil.Authorized(r, w.token) {
			apierrors.WriteJSONError(rw, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(rw, r)
	})
}
