package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/realty-crm/internal/config"
	"github.com/jwalitptl/realty-crm/internal/email"
	"github.com/jwalitptl/realty-crm/internal/repository/postgres"
	notificationService "github.com/jwalitptl/realty-crm/internal/service/notification"
	"github.com/jwalitptl/realty-crm/pkg/logger"
	"github.com/jwalitptl/realty-crm/pkg/messaging/redis"
	"github.com/jwalitptl/realty-crm/pkg/metrics"
	"github.com/jwalitptl/realty-crm/pkg/worker"
)

// The escalation worker runs separately from the API so a slow notification
// sweep never competes with request traffic.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)
	appMetrics := metrics.New("realtycrm_worker")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	deadlineRepo := postgres.NewDeadlineRepository(db)
	deliveryRepo := postgres.NewDeliveryRepository(db)
	preferenceRepo := postgres.NewPreferenceRepository(db)

	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
		PoolSize:     10,
		MinIdleConns: 2,
	}, &appLogger.ZL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer broker.Close()

	emailSvc := email.NewService(email.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})

	notificationSvc := notificationService.NewService(preferenceRepo, emailSvc,
		notificationService.NewLogSMSProvider(appLogger), broker, appLogger)

	scheduler := worker.NewEscalationScheduler(
		deadlineRepo,
		deliveryRepo,
		notificationSvc,
		notificationSvc,
		worker.EscalationConfig{
			TickInterval:  cfg.Escalation.TickInterval(),
			Concurrency:   cfg.Escalation.Concurrency,
			RetryAttempts: cfg.Escalation.RetryAttempts,
			RetryDelay:    cfg.Escalation.RetryDelay(),
		},
		appLogger,
		appMetrics,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scheduler.Start(ctx)
		close(done)
	}()

	healthSrv := newHealthServer(cfg.Escalation.HealthPort, db)
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start health server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down escalation worker...")

	cancel()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("escalation worker did not drain in time")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("escalation worker exited properly")
}

func newHealthServer(port int, db interface{ Ping() error }) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
	engine.GET("/health/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN", "reason": "Database connection failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: engine,
	}
}
