package simulator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/walletsim/internal/aggregator"
	"github.com/MarkoPoloResearchLab/walletsim/internal/store/filestore"
	"github.com/MarkoPoloResearchLab/walletsim/pkg/wallet"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	now         func() time.Time
	newTraceID  func() string
	httpClient  *http.Client
	walletHooks []wallet.ServiceOption
}

// WithClock replaces the wall clock used for ledger timestamps.
func WithClock(now func() time.Time) ServerOption {
	return func(options *serverOptions) {
		if now != nil {
			options.now = now
		}
	}
}

// WithTraceIDGenerator replaces the generator for launch trace ids.
func WithTraceIDGenerator(generate func() string) ServerOption {
	return func(options *serverOptions) {
		if generate != nil {
			options.newTraceID = generate
		}
	}
}

// WithAggregatorHTTPClient replaces the HTTP client used for aggregator calls.
func WithAggregatorHTTPClient(httpClient *http.Client) ServerOption {
	return func(options *serverOptions) {
		options.httpClient = httpClient
	}
}

// WithServiceOptions forwards options to the wallet service.
func WithServiceOptions(serviceOptions ...wallet.ServiceOption) ServerOption {
	return func(options *serverOptions) {
		options.walletHooks = append(options.walletHooks, serviceOptions...)
	}
}

// Server wires the wallet service, the aggregator client and the HTTP router.
type Server struct {
	cfg        Config
	logger     *zap.Logger
	service    *wallet.Service
	aggregator *aggregator.Client
	metrics    *Metrics
	newTraceID func() string
	router     *gin.Engine
}

// NewServer validates cfg and builds a ready-to-serve Server.
func NewServer(cfg Config, logger *zap.Logger, options ...ServerOption) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	resolved := serverOptions{
		now:        time.Now,
		newTraceID: newCompactTraceID,
	}
	for _, option := range options {
		if option != nil {
			option(&resolved)
		}
	}

	metrics := NewMetrics()
	serviceOptions := append([]wallet.ServiceOption{wallet.WithOperationLogger(newOperationRecorder(logger, metrics))}, resolved.walletHooks...)
	service, err := NewWalletService(cfg, logger, resolved.now, serviceOptions...)
	if err != nil {
		return nil, err
	}
	clientOptions := []aggregator.ClientOption{aggregator.WithLogger(logger)}
	if resolved.httpClient != nil {
		clientOptions = append(clientOptions, aggregator.WithHTTPClient(resolved.httpClient))
	}
	client, err := aggregator.NewClient(cfg.AggregatorBaseURL, aggregator.NewSigner(cfg.AgentKey), cfg.AggregatorTimeout, clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	server := &Server{
		cfg:        cfg,
		logger:     logger,
		service:    service,
		aggregator: client,
		metrics:    metrics,
		newTraceID: resolved.newTraceID,
	}
	server.router = server.setupRouter()
	return server, nil
}

// NewWalletService builds the file-backed wallet service described by cfg.
func NewWalletService(cfg Config, logger *zap.Logger, now func() time.Time, options ...wallet.ServiceOption) (*wallet.Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	journalOptions := []filestore.JournalOption{filestore.WithSkippedLineLogger(logger)}
	return wallet.NewService(
		filestore.NewAccountStore(cfg.PlayersDir, now),
		filestore.NewJournal[wallet.HybridEntry](cfg.HybridDir, journalOptions...),
		filestore.NewJournal[wallet.CallbackEntry](cfg.CallbacksDir, journalOptions...),
		now,
		options...,
	)
}

// Handler returns the HTTP handler of the server.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	server, err := NewServer(cfg, logger)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              server.cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("walletsim listening",
			zap.String("addr", server.cfg.ListenAddr),
			zap.String("players_dir", server.cfg.PlayersDir),
			zap.String("aggregator", server.cfg.AggregatorBaseURL),
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (server *Server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: server.cfg.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Origin", "Accept"},
		MaxAge:       12 * time.Hour,
	}))
	router.NoMethod(func(ctx *gin.Context) {
		ctx.JSON(http.StatusMethodNotAllowed, errorResponse(errorCodeMethodNotAllowed, "method not allowed"))
	})
	router.NoRoute(func(ctx *gin.Context) {
		ctx.JSON(http.StatusNotFound, errorResponse(errorCodeNotFound, "not found"))
	})

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(server.metrics.Handler()))

	api := router.Group("/api")
	api.POST("/launch", server.handleLaunch)
	api.POST("/credit/topup", server.handleTopUp)
	api.POST("/credit/balance", server.handleBalance)

	hybrid := api.Group("/hybrid")
	hybrid.POST("/transaction", server.handleHybridTransaction)
	hybrid.POST("/transaction/status", server.handleTransactionStatus)
	hybrid.POST("/transactions", server.handleListTransactions(wallet.StreamHybrid))
	hybrid.POST("/transactions/reset", server.handleResetTransactions(wallet.StreamHybrid))

	callback := api.Group("/callback")
	callback.POST("/transactions", server.handleListTransactions(wallet.StreamCallback))
	callback.POST("/transactions/reset", server.handleResetTransactions(wallet.StreamCallback))
	callback.POST("/:action", server.handleCallback)

	return router
}

func newCompactTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
