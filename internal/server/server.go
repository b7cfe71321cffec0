// Package server wires the settlement core together and runs the HTTP API.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/joseairosa/codesalvage/internal/auth"
	"github.com/joseairosa/codesalvage/internal/config"
	"github.com/joseairosa/codesalvage/internal/health"
	"github.com/joseairosa/codesalvage/internal/idgen"
	"github.com/joseairosa/codesalvage/internal/logging"
	"github.com/joseairosa/codesalvage/internal/metrics"
	"github.com/joseairosa/codesalvage/internal/notify"
	"github.com/joseairosa/codesalvage/internal/offer"
	"github.com/joseairosa/codesalvage/internal/payments"
	"github.com/joseairosa/codesalvage/internal/pricing"
	"github.com/joseairosa/codesalvage/internal/project"
	"github.com/joseairosa/codesalvage/internal/ratelimit"
	"github.com/joseairosa/codesalvage/internal/security"
	"github.com/joseairosa/codesalvage/internal/sweep"
	"github.com/joseairosa/codesalvage/internal/transaction"
	"github.com/joseairosa/codesalvage/internal/validation"
	"github.com/joseairosa/codesalvage/internal/webhook"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	processor    payments.Processor
	projects     *project.Service
	offers       *offer.Service
	transactions *transaction.Service
	webhooks     *webhook.Handler
	sweeper      *sweep.Sweeper
	sweepTimer   *sweep.Timer
	rateLimiter  *ratelimit.Limiter
	checks       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithProcessor sets a custom payment processor (for testing)
func WithProcessor(p payments.Processor) Option {
	return func(s *Server) {
		s.processor = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	// Apply options first (may set processor/logger)
	for _, opt := range opts {
		opt(s)
	}

	if s.processor == nil {
		s.processor = payments.NewStripeProcessor(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	}

	policy := pricing.Policy{
		CommissionBps: cfg.CommissionBps,
		EscrowHold:    cfg.EscrowHold,
		MinPriceCents: cfg.MinOfferCents,
	}

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory.
	var (
		projectStore project.Store
		offerStore   offer.Store
		txnStore     transaction.Store
		dedupStore   notify.DedupStore
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		projectStore = project.NewPostgresStore(db)
		offerStore = offer.NewPostgresStore(db)
		txnStore = transaction.NewPostgresStore(db)
		dedupStore = notify.NewPostgresDedupStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.checks.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		projectStore = project.NewMemoryStore()
		offerStore = offer.NewMemoryStore()
		txnStore = transaction.NewMemoryStore()
		dedupStore = notify.NewMemoryDedupStore()
		s.logger.Warn("using in-memory storage (data is lost on restart)")
	}

	var mailer notify.Mailer
	if cfg.MailProviderURL != "" {
		if err := security.ValidateEndpointURL(cfg.MailProviderURL); err != nil {
			return nil, fmt.Errorf("invalid MAIL_PROVIDER_URL: %w", err)
		}
		mailer = notify.NewHTTPMailer(cfg.MailProviderURL, cfg.MailSecret)
	} else {
		mailer = &notify.LogMailer{Logger: s.logger}
	}
	notifier := notify.NewService(mailer, dedupStore, s.logger)

	s.projects = project.NewService(projectStore)
	s.offers = offer.NewService(offerStore, projectStore, policy, cfg.OfferTTL, notifier, s.logger)
	s.transactions = transaction.NewService(txnStore, projectStore, s.offers, s.processor, policy, notifier, s.logger)
	s.webhooks = webhook.NewHandler(s.processor, s.transactions, cfg.WebhookAttempts, s.logger)
	s.sweeper = sweep.NewSweeper(s.transactions, s.offers, cfg.ReleaseWarning, cfg.CheckoutTTL, s.logger)
	if cfg.SweepInterval > 0 {
		s.sweepTimer = sweep.NewTimer(s.sweeper, cfg.SweepInterval)
	}

	// Setup router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// maskDSN hides the password in a database URL for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())

	// Actor identity forwarded by the auth gateway
	s.router.Use(auth.Middleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(8)
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := s.logger.With(
			"request_id", logging.RequestID(c.Request.Context()),
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
		)

		switch {
		case status >= 500:
			logger.Error("request completed", "client_ip", c.ClientIP())
		case status >= 400:
			logger.Warn("request completed")
		default:
			logger.Info("request completed")
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health and metrics
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/livez", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")

	// Public project reads
	project.NewHandler(s.projects).RegisterRoutes(v1)

	// Processor webhooks authenticate by signature, not session
	s.webhooks.RegisterRoutes(v1)

	// Authenticated marketplace surface
	authed := v1.Group("")
	authed.Use(auth.RequireActor())
	project.NewHandler(s.projects).RegisterProtectedRoutes(authed)
	offer.NewHandler(s.offers).RegisterRoutes(authed)
	txnHandler := transaction.NewHandler(s.transactions)
	txnHandler.RegisterRoutes(authed)

	// Operator overrides
	admin := v1.Group("")
	admin.Use(auth.RequireActor(), auth.RequireAdmin())
	txnHandler.RegisterAdminRoutes(admin)

	// Internal scheduler surface
	internal := s.router.Group("/internal")
	sweep.NewHandler(s.sweeper, s.cfg.SweepSecret).RegisterRoutes(internal)
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.sweepTimer != nil {
		go s.sweepTimer.Start(runCtx)
		s.logger.Info("in-process sweep timer started", "interval", s.cfg.SweepInterval)
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.sweepTimer != nil {
		s.sweepTimer.Stop()
		s.logger.Info("sweep timer stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
