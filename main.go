package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yugalbansal1/eticket1/internal/di"
	"github.com/yugalbansal1/eticket1/internal/domain"
	"github.com/yugalbansal1/eticket1/internal/metrics"
	"github.com/yugalbansal1/eticket1/pkg/config"
	"github.com/yugalbansal1/eticket1/pkg/logger"
	"github.com/yugalbansal1/eticket1/pkg/middleware"
	"github.com/yugalbansal1/eticket1/pkg/telemetry"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	if err := logger.Init(&logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting settlement service...", zap.String("version", cfg.App.Version))

	ctx := context.Background()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("Tracing disabled", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg)
	if err != nil {
		appLog.Fatal("Failed to build container", zap.Error(err))
	}
	defer container.Close()

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	if cfg.Settlement.SweepEnabled {
		if err := container.ExpiryWorker.Start(workerCtx); err != nil {
			appLog.Fatal("Failed to start expiry worker", zap.Error(err))
		}
	}

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Logger(appLog),
		telemetry.TracingMiddleware(),
		metrics.Middleware(),
	)

	// Health check endpoints
	router.GET("/health", container.HealthHandler.Health)
	router.GET("/ready", container.HealthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authCfg := &middleware.AuthConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer}
	optionalAuth := middleware.Auth(&middleware.AuthConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer, Optional: true})
	auth := middleware.Auth(authCfg)

	// Purchases and cancels replay the first response for a repeated key
	var idempotent gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if container.Redis != nil {
		idempotent = middleware.Idempotency(middleware.DefaultIdempotencyConfig(container.Redis.Client()))
	} else {
		appLog.Warn("Redis disabled, idempotency keys are not enforced")
	}

	organizerOrAdmin := middleware.RequireRole(string(domain.RoleOrganizer), string(domain.RoleAdmin))
	adminOnly := middleware.RequireRole(string(domain.RoleAdmin))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "ok",
				"version": cfg.App.Version,
				"service": cfg.App.Name,
			})
		})

		events := v1.Group("/events")
		{
			events.GET("", optionalAuth, container.EventHandler.List)
			events.GET("/:id", optionalAuth, container.EventHandler.Get)
			events.POST("", auth, organizerOrAdmin, container.EventHandler.Create)
			events.PUT("/:id", auth, organizerOrAdmin, container.EventHandler.Update)
			events.DELETE("/:id", auth, organizerOrAdmin, container.EventHandler.Delete)
			events.GET("/:id/tickets", auth, organizerOrAdmin, container.TicketHandler.ListByEvent)
		}

		purchases := v1.Group("/purchases", auth)
		{
			purchases.POST("", idempotent, container.PurchaseHandler.Create)
			purchases.GET("/:id", container.PurchaseHandler.Get)
			purchases.POST("/:id/cancel", idempotent, container.PurchaseHandler.Cancel)
		}

		tickets := v1.Group("/tickets", auth)
		{
			tickets.GET("", container.TicketHandler.ListMine)
			tickets.GET("/:id", container.TicketHandler.Get)
			tickets.POST("/:id/check-in", organizerOrAdmin, container.TicketHandler.CheckIn)
			tickets.POST("/:id/cancel", organizerOrAdmin, container.TicketHandler.Cancel)
			tickets.POST("/:id/refund", adminOnly, container.TicketHandler.Refund)
		}

		v1.POST("/payments/onchain/callback", auth, container.PurchaseHandler.WalletCallback)
		v1.POST("/webhooks/stripe", container.WebhookHandler.Stripe)

		v1.GET("/organizer/dashboard", auth, organizerOrAdmin, container.AdminHandler.OrganizerDashboard)

		admin := v1.Group("/admin", auth, adminOnly)
		{
			admin.GET("/dashboard", container.AdminHandler.AdminDashboard)
			admin.GET("/reconciliation", container.AdminHandler.ListAlerts)
			admin.POST("/reconciliation/:id/resolve", container.AdminHandler.ResolveAlert)
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	// Start server in goroutine
	go func() {
		appLog.Info("Settlement service listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Server forced to shutdown", zap.Error(err))
	}

	// In-flight settlements finish before the ledger goes away
	container.SettlementService.Wait()
	container.ExpiryWorker.Stop()
	stopWorkers()

	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("Failed to flush traces", zap.Error(err))
	}

	appLog.Info("Server exited gracefully")
}
