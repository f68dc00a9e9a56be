// ABOUTME: Gateway orchestrator wiring store, correlator, socket server, and per-bot bridges.
// ABOUTME: Manages the HTTP server lifecycle and graceful shutdown.

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/dialogmesh/botbridge/internal/api"
	"github.com/dialogmesh/botbridge/internal/auth"
	"github.com/dialogmesh/botbridge/internal/bridge"
	"github.com/dialogmesh/botbridge/internal/config"
	"github.com/dialogmesh/botbridge/internal/correlate"
	"github.com/dialogmesh/botbridge/internal/socket"
	"github.com/dialogmesh/botbridge/internal/store"
	"github.com/dialogmesh/botbridge/internal/webhook"
)

// Gateway orchestrates the botbridge server components: the bot registration
// store, the socket channel for inbound clients, the response correlator, and
// one bridge per registered bot.
type Gateway struct {
	config     *config.Config
	store      store.Store
	sockets    *socket.Registry
	correlator *correlate.Registry
	httpServer *http.Server
	logger     *slog.Logger

	// tokens is nil when no token secret is configured; socket clients then
	// authenticate with the plain X-API-Key header only.
	tokens *auth.Tokens

	mu      sync.RWMutex
	bridges map[string]*bridge.Bridge
}

// initStore creates the store from config, honoring the BOTBRIDGE_DB_PATH
// override.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("BOTBRIDGE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway from the given configuration, restoring registered
// bots and their last known client configurations from the store.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	var tokens *auth.Tokens
	if cfg.Auth.TokenSecret != "" {
		tokens, err = auth.NewTokens([]byte(cfg.Auth.TokenSecret))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating token verifier: %w", err)
		}
		logger.Info("socket bearer auth enabled")
	} else {
		logger.Warn("socket bearer auth disabled - no token_secret configured")
	}

	g := &Gateway{
		config:  cfg,
		store:   s,
		sockets: socket.NewRegistry(logger),
		correlator: correlate.NewRegistry(correlate.Options{
			WaitTimeout: cfg.Client.WaitTimeout,
			ExpiryGrace: cfg.Client.ExpiryGrace,
			Logger:      logger,
		}),
		logger:  logger.With("component", "gateway"),
		tokens:  tokens,
		bridges: make(map[string]*bridge.Bridge),
	}

	if err := g.restoreBots(context.Background()); err != nil {
		g.correlator.Close()
		s.Close()
		return nil, err
	}

	var verifier socket.TokenVerifier
	if tokens != nil {
		verifier = tokens
	}
	socketServer := socket.NewServer(g.sockets, verifier, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	mux.Handle("/ws", socketServer)
	mux.HandleFunc("/api/talk", g.handleTalk)
	mux.HandleFunc("/api/configuration", g.handleConfiguration)
	mux.HandleFunc("/api/bots", g.handleBots)
	mux.HandleFunc("/api/bots/", g.handleBotByKey)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// restoreBots loads all registered bots and builds their bridges.
func (g *Gateway) restoreBots(ctx context.Context) error {
	bots, err := g.store.ListBots(ctx)
	if err != nil {
		return fmt.Errorf("loading bots: %w", err)
	}
	for _, bot := range bots {
		g.installBridge(ctx, bot)
	}
	g.logger.Info("restored registered bots", "count", len(bots))
	return nil
}

// installBridge creates (or replaces) the bridge for one bot and authorizes
// its API key on the socket channel. Replacing is idempotent; the receive
// handler of the newest bridge wins.
func (g *Gateway) installBridge(ctx context.Context, bot *store.Bot) *bridge.Bridge {
	var wh *webhook.Gateway
	if bot.WebhookURL != "" {
		wh = webhook.New(webhook.Options{
			BaseURL:        bot.WebhookURL,
			ConnectTimeout: g.config.Client.ConnectTimeout,
			CallTimeout:    g.config.Client.CallTimeout,
			ProbeInterval:  g.config.Client.ProbeInterval,
			CheckDisabled:  g.config.Client.DisableReachabilityCheck,
			Correlator:     g.correlator,
			Logger:         g.logger,
		})
	}

	apiKey := bot.APIKey
	g.sockets.RegisterAuthorizedKey(apiKey)

	b := bridge.New(bridge.Options{
		APIKey:     apiKey,
		Webhook:    wh,
		Sockets:    g.sockets,
		Correlator: g.correlator,
		Logger:     g.logger,
		OnConfigurationChanged: func(cfg *api.ClientConfiguration) {
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := g.store.SaveClientConfiguration(saveCtx, apiKey, cfg); err != nil {
				g.logger.Warn("persisting client configuration failed",
					"api_key", socket.Redact(apiKey),
					"error", err,
				)
			}
		},
		OnUnmatchedResponse: func(resp *api.ResponseData) {
			g.logger.Warn("unmatched client response",
				"api_key", socket.Redact(apiKey),
				"request_id", resp.RequestID,
			)
		},
	})

	if cfg, err := g.store.GetClientConfiguration(ctx, apiKey); err != nil {
		g.logger.Warn("loading stored configuration failed",
			"api_key", socket.Redact(apiKey),
			"error", err,
		)
	} else {
		b.PrimeConfiguration(cfg)
	}

	g.mu.Lock()
	g.bridges[apiKey] = b
	g.mu.Unlock()
	return b
}

// bridgeFor returns the bridge for apiKey, nil when the key is unknown.
func (g *Gateway) bridgeFor(apiKey string) *bridge.Bridge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.bridges[apiKey]
}

// connectedCount reports how many registered bots have a live socket channel.
func (g *Gateway) connectedCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for apiKey := range g.bridges {
		if g.sockets.PushHandler(apiKey) != nil {
			n++
		}
	}
	return n
}

// Run starts the HTTP server and blocks until the context is canceled or the
// server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	g.correlator.Close()
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
