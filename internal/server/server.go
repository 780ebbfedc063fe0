// Package server exposes a loaded model over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/arguana-embed/internal/config"
	"github.com/raaihank/arguana-embed/internal/embeddings"
	"github.com/raaihank/arguana-embed/internal/logger"
	"github.com/raaihank/arguana-embed/internal/store"
	"github.com/raaihank/arguana-embed/internal/web"
	"github.com/raaihank/arguana-embed/internal/websocket"
)

// Searcher finds stored embeddings near a query vector
type Searcher interface {
	FindSimilar(ctx context.Context, embedding []float32, options *store.SearchOptions) ([]*store.SimilarityResult, error)
}

// Deps are the optional collaborators of a Server
type Deps struct {
	Cache embeddings.VectorCache
	Store Searcher
	Hub   *websocket.Hub
}

// Server serves embeddings for one loaded model
type Server struct {
	config  config.ServerConfig
	options embeddings.EmbedOptions
	logger  *logger.Logger
	model   *embeddings.Model
	store   Searcher
	wsHub   *websocket.Hub
	limiter *rateLimiter
	proxies []*net.IPNet
	router  *mux.Router
	server  *http.Server
	started time.Time

	// serializes inference on the shared model
	inferMu sync.Mutex
}

// New creates a new server instance around a loaded model
func New(cfg *config.Config, log *logger.Logger, model *embeddings.Model, deps Deps) (*Server, error) {
	if model == nil {
		return nil, embeddings.ErrModelNotLoaded
	}

	devices, err := embeddings.ParseDevices(cfg.Model.Devices)
	if err != nil {
		return nil, err
	}

	proxies, err := parseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config: cfg.Server,
		options: embeddings.EmbedOptions{
			Devices:   devices,
			BatchSize: cfg.Model.BatchSize,
			AutoBatch: cfg.Model.AutoBatch,
			Cache:     deps.Cache,
		},
		logger:  log.WithComponent("server"),
		model:   model,
		store:   deps.Store,
		wsHub:   deps.Hub,
		limiter: newRateLimiter(cfg.Server.RateLimit, cfg.Server.Burst),
		proxies: proxies,
		router:  mux.NewRouter(),
		started: time.Now(),
	}

	s.setupRoutes(cfg.WebSocket.Path)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(wsPath string) {
	s.router.Use(s.requestIDMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	if s.wsHub != nil {
		if wsPath == "" {
			wsPath = "/ws"
		}
		s.router.HandleFunc(wsPath, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
		s.router.HandleFunc("/dashboard", web.DashboardHandler(s.model.CacheKey(), wsPath)).Methods(http.MethodGet)
	}

	api := s.router.NewRoute().Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/models", s.handleModels).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/embed", s.handleEmbed).Methods(http.MethodPost)
	if s.store != nil {
		api.HandleFunc("/search", s.handleSearch).Methods(http.MethodPost)
	}
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetRateLimit changes the request rate allowed per client
func (s *Server) SetRateLimit(perSecond float64, burst int) {
	s.limiter.update(perSecond, burst)
	s.logger.Info("Rate limit updated", zap.Float64("rate_limit", perSecond), zap.Int("burst", burst))
}

// Start serves HTTP until Stop is called. The WebSocket hub runs until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting embedding server",
		zap.String("addr", s.server.Addr),
		zap.String("model", s.model.CacheKey()),
		zap.String("devices", s.options.Devices.String()),
		zap.Bool("cache", s.options.Cache != nil),
		zap.Bool("store", s.store != nil),
	)

	if s.wsHub != nil {
		go s.wsHub.Run(ctx)
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping embedding server")
	return s.server.Shutdown(ctx)
}
