// Package api exposes terminals, discovery and the transaction monitor over
// HTTP for the point-of-sale front end.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/tillpoint/internal/common"
	"github.com/Veraticus/tillpoint/internal/discovery"
	"github.com/Veraticus/tillpoint/internal/model"
	"github.com/Veraticus/tillpoint/internal/monitor"
	"github.com/Veraticus/tillpoint/internal/service"
	"github.com/Veraticus/tillpoint/internal/terminal"
)

// TerminalStore is the configuration store the API serves from.
type TerminalStore interface {
	service.TerminalStore
	ClientConfig(ctx context.Context, id string) (terminal.Config, error)
	RecordHealth(ctx context.Context, id string, status model.ConnectionStatus, seen time.Time) error
}

// Config wires the server's collaborators.
type Config struct {
	Store         TerminalStore
	Scanner       *discovery.Scanner
	HTTPClient    *http.Client
	Logger        *slog.Logger
	RetryPolicy   *common.RetryPolicy
	LocalRange    func() (string, bool)
	TLS           *tls.Config
	Timeout       time.Duration
	HealthTimeout time.Duration
	PollInterval  time.Duration
}

// Server is the HTTP API.
type Server struct {
	router        *gin.Engine
	store         TerminalStore
	scanner       *discovery.Scanner
	httpClient    *http.Client
	logger        *slog.Logger
	retryPolicy   *common.RetryPolicy
	localRange    func() (string, bool)
	tlsConfig     *tls.Config
	current       *monitor.Monitor
	terminalID    string
	timeout       time.Duration
	healthTimeout time.Duration
	pollInterval  time.Duration
	mu            sync.Mutex
	starting      bool
}

// NewServer creates the API server and registers its routes.
func NewServer(cfg Config) *Server {
	s := &Server{
		router:        gin.New(),
		store:         cfg.Store,
		scanner:       cfg.Scanner,
		httpClient:    cfg.HTTPClient,
		logger:        cfg.Logger,
		retryPolicy:   cfg.RetryPolicy,
		localRange:    cfg.LocalRange,
		tlsConfig:     cfg.TLS,
		timeout:       cfg.Timeout,
		healthTimeout: cfg.HealthTimeout,
		pollInterval:  cfg.PollInterval,
	}
	if s.logger == nil {
		s.logger = common.ComponentLogger("api")
	}
	if s.scanner == nil {
		s.scanner = discovery.NewScanner()
	}
	if s.localRange == nil {
		s.localRange = discovery.LocalNetworkRange
	}
	if s.healthTimeout <= 0 {
		s.healthTimeout = discovery.DefaultProbeTimeout
	}

	s.router.Use(gin.Recovery(), s.requestLogger())

	api := s.router.Group("/api")
	{
		api.GET("/terminals", s.handleListTerminals)
		api.POST("/terminals", s.handleSaveTerminal)
		api.DELETE("/terminals/:id", s.handleDeleteTerminal)
		api.GET("/terminals/:id/health", s.handleHealth)
		api.POST("/terminals/:id/sale", s.handleSale)
		api.POST("/terminals/:id/refund", s.handleRefund)

		api.POST("/discovery/scan", s.handleScan)

		api.GET("/transaction", s.handleTransactionStatus)
		api.POST("/transaction/cancel", s.handleCancel)
		api.POST("/transaction/reset", s.handleReset)
	}

	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, over HTTPS when a TLS config
// was given.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         s.tlsConfig,
	}

	errCh := make(chan error, 1)
	go func() {
		if s.tlsConfig != nil {
			s.logger.Info("API listening", "addr", addr, "tls", true)
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		s.logger.Info("API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	s.mu.Lock()
	if s.current != nil {
		s.current.Reset()
	}
	s.mu.Unlock()
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Request handled",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// newClient builds a transport client for a stored terminal.
func (s *Server) newClient(ctx context.Context, terminalID string) (*terminal.Client, error) {
	cfg, err := s.store.ClientConfig(ctx, terminalID)
	if err != nil {
		return nil, err
	}
	cfg.HTTPClient = s.httpClient
	cfg.Logger = s.logger
	cfg.Timeout = s.timeout
	cfg.RetryPolicy = s.retryPolicy
	return terminal.NewClient(cfg)
}
