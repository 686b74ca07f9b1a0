package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/internal/config"
	"github.com/pawtrait/storefront/internal/database"
	"github.com/pawtrait/storefront/internal/handlers"
	"github.com/pawtrait/storefront/internal/mail"
	"github.com/pawtrait/storefront/internal/messaging"
	"github.com/pawtrait/storefront/internal/middleware"
	"github.com/pawtrait/storefront/internal/payments"
	"github.com/pawtrait/storefront/internal/provider"
	"github.com/pawtrait/storefront/internal/services"
	"github.com/pawtrait/storefront/internal/validation"
)

type App struct {
	config     *config.Config
	logger     *logrus.Logger
	db         *database.Database
	services   *services.Services
	bus        *messaging.MessageBus
	handlers   *handlers.Handlers
	dispatcher *services.Dispatcher
	router     *gin.Engine
	stop       chan struct{}
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: setupLogger(cfg),
		stop:   make(chan struct{}),
	}

	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	svc, err := services.New(cfg, app.logger, db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = svc

	bus, err := messaging.NewMessageBus(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize message bus: %w", err)
	}
	app.bus = bus

	schemas, err := validation.NewSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to compile event schemas: %w", err)
	}

	var mailer mail.Mailer = mail.NopMailer{}
	if cfg.Mail.Host != "" {
		mailer = mail.NewSMTPMailer(&cfg.Mail, app.logger)
	}

	paymentsClient := payments.NewHTTPClient(&cfg.Payments, app.logger)

	app.handlers = handlers.New(cfg, app.logger, svc, bus, paymentsClient, mailer, schemas)

	providerClient := provider.NewHTTPClient(&cfg.Provider, app.logger)
	app.dispatcher = services.NewDispatcher(bus, svc.Generations, svc.Uploads, providerClient, app.logger)

	app.setupRouter()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// Start launches the background workers: the dispatch consumer and the
// admission window sweeper.
func (a *App) Start() {
	a.dispatcher.Start()
	a.services.Admission.StartSweeper(a.stop)
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	close(a.stop)
	a.dispatcher.Stop()

	if err := a.bus.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing message bus")
	}

	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		return err
	}

	return nil
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config))
	router.Use(middleware.Security())
	router.Use(middleware.CompressionMiddleware())
	router.Use(middleware.Identity(&a.config.Auth, a.services.Auth, a.services.GuestCredits, a.logger))

	// Health and metrics endpoints (no auth required)
	router.GET("/health", a.handlers.Health.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Session and guest identity routes
	auth := router.Group("/auth")
	{
		auth.POST("/login", a.handlers.Auth.Login)
		auth.POST("/logout", middleware.RequireSession(a.logger), a.handlers.Auth.Logout)
		auth.POST("/link-guest", a.handlers.Auth.LinkGuest)
		auth.POST("/clear-guest-cookies", a.handlers.Auth.ClearGuestCookies)
	}

	// Status polling and metadata edits are not admission gated
	router.GET("/generation/:id/status", a.handlers.Generation.GetStatus)
	router.PATCH("/generation/:id", a.handlers.Generation.UpdateMetadata)

	// Expensive surfaces behind admission control
	api := router.Group("/api")
	{
		api.Use(middleware.RateLimit(a.services.Admission, a.logger))

		api.POST("/upload", a.handlers.Upload.Create)
		api.POST("/generate", a.handlers.Generation.Create)
		api.POST("/checkout", middleware.RequireSession(a.logger), a.handlers.Checkout.Create)
		api.POST("/orders/lookup", a.handlers.Order.Lookup)
	}

	// Provider callbacks authenticate by signature, not session
	router.POST("/webhooks/payments", a.handlers.Webhook.HandlePaymentEvent)

	a.router = router
}
