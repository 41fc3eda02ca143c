// The MiddleMan - escrow for digital goods
//
//	@title			The MiddleMan API
//	@version		1.0
//	@description	Escrow for digital goods: list a file, take payment, hold funds for 24 hours.
//	@BasePath		/api
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/resend/resend-go/v2"
	"gorm.io/gorm"

	_ "middleman/docs"
	"middleman/internal/apperr"
	"middleman/internal/config"
	"middleman/internal/database"
	"middleman/internal/escrow"
	"middleman/internal/handlers"
	"middleman/internal/logging"
	"middleman/internal/metrics"
	"middleman/internal/middleware"
	"middleman/internal/routes"
	"middleman/internal/services"
	"middleman/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	log.Info("configuration loaded",
		"env", cfg.Env,
		"port", cfg.Port,
		"stripe_secret_key", logging.Mask(cfg.StripeSecretKey),
		"stripe_webhook_secret", logging.Mask(cfg.StripeWebhookSecret),
		"deepseek_api_key", logging.Mask(cfg.DeepSeekAPIKey),
		"cloudinary_cloud_name", cfg.CloudinaryCloudName,
		"resend_api_key", logging.Mask(cfg.ResendAPIKey),
		"identity_enforced", cfg.AuthJWTSecret != "",
	)

	if err := run(cfg, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	txStore, userStore, db, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer func() {
			if err := database.Close(db); err != nil {
				log.Warn("failed to close database", "error", err)
			}
		}()
	}

	h := &handlers.Handler{
		Users:    users.NewService(userStore, log),
		Advisor:  services.NewAdvisor(cfg, log),
		Currency: cfg.PaymentCurrency,
		Logger:   log,
	}

	if cfg.StripeEnabled() {
		h.Payments = services.NewPaymentService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, nil, log)
		log.Info("stripe payments enabled", "currency", cfg.PaymentCurrency)
	} else {
		log.Warn("STRIPE_SECRET_KEY not set, payment intents and webhooks are disabled")
	}

	uploads, err := services.NewCloudinaryService(cfg, log)
	switch {
	case err == nil:
		h.Uploads = uploads
	case errors.Is(err, apperr.ErrUnavailable):
		log.Warn("cloudinary not configured, file uploads are disabled")
	default:
		return fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	var notifier escrow.Notifier = services.NopNotifier{}
	if cfg.ResendAPIKey != "" {
		notifier = services.NewEmailService(resend.NewClient(cfg.ResendAPIKey), cfg.FromEmail, cfg.AppBaseURL, log)
	} else {
		log.Warn("RESEND_API_KEY not set, seller emails are disabled")
	}
	h.Escrow = escrow.NewService(txStore, log).WithNotifier(notifier)

	timer := escrow.NewTimer(h.Escrow, cfg.ReleaseSweepInterval, log)
	go timer.Start(ctx)

	app := fiber.New(fiber.Config{
		AppName:      "The MiddleMan API v1.0",
		BodyLimit:    cfg.BodyLimitMB * 1024 * 1024,
		ErrorHandler: handlers.ErrorHandler(log),
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${locals:requestid} ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSAllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Stripe-Signature",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(middleware.Metrics())

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Welcome to The MiddleMan API",
			"status":  "running",
			"version": "1.0",
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	app.Get("/swagger/*", swagger.HandlerDefault)

	routes.SetupRoutes(app, h, middleware.Identity(cfg.AuthJWTSecret))

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", ":"+cfg.Port)
		errCh <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		timer.Stop()
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	timer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// openStores connects to postgres when a DSN is configured and falls back
// to the in-memory stores otherwise.
func openStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (escrow.Store, users.Store, *gorm.DB, error) {
	dsn := cfg.DSN()
	if dsn == "" {
		log.Warn("no database configured, using in-memory stores; data is lost on restart")
		return escrow.NewMemoryStore(), users.NewMemoryStore(), nil, nil
	}

	db, err := database.Connect(dsn, cfg.IsDevelopment(), log)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := database.Migrate(ctx, db, log); err != nil {
		_ = database.Close(db)
		return nil, nil, nil, err
	}
	return database.NewTransactionStore(db), database.NewUserStore(db), db, nil
}
