package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/realty-crm/internal/calendar"
	"github.com/jwalitptl/realty-crm/internal/config"
	appointmentHandler "github.com/jwalitptl/realty-crm/internal/handler/appointment"
	calendarHandler "github.com/jwalitptl/realty-crm/internal/handler/calendar"
	clientHandler "github.com/jwalitptl/realty-crm/internal/handler/client"
	healthHandler "github.com/jwalitptl/realty-crm/internal/handler/health"
	preferenceHandler "github.com/jwalitptl/realty-crm/internal/handler/preference"
	"github.com/jwalitptl/realty-crm/internal/email"
	"github.com/jwalitptl/realty-crm/internal/middleware"
	"github.com/jwalitptl/realty-crm/internal/repository/postgres"
	"github.com/jwalitptl/realty-crm/internal/router"
	"github.com/jwalitptl/realty-crm/internal/schedule"
	appointmentService "github.com/jwalitptl/realty-crm/internal/service/appointment"
	calendarService "github.com/jwalitptl/realty-crm/internal/service/calendar"
	notificationService "github.com/jwalitptl/realty-crm/internal/service/notification"
	pipelineService "github.com/jwalitptl/realty-crm/internal/service/pipeline"
	"github.com/jwalitptl/realty-crm/pkg/logger"
	"github.com/jwalitptl/realty-crm/pkg/messaging/redis"
	"github.com/jwalitptl/realty-crm/pkg/metrics"
	"github.com/jwalitptl/realty-crm/pkg/validator"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)
	appMetrics := metrics.New("realtycrm_api")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	appointmentRepo := postgres.NewAppointmentRepository(db)
	deadlineRepo := postgres.NewDeadlineRepository(db)
	clientRepo := postgres.NewClientRepository(db)
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

	conflictIndex := schedule.NewConflictIndex()

	notificationSvc := notificationService.NewService(preferenceRepo, emailSvc,
		notificationService.NewLogSMSProvider(appLogger), broker, appLogger)
	appointmentSvc := appointmentService.NewService(appointmentRepo, deadlineRepo, conflictIndex, appLogger, appMetrics)
	calendarSvc := calendarService.NewService(appointmentRepo, calendar.Grid{}, appMetrics)
	pipelineSvc := pipelineService.NewService(clientRepo, deadlineRepo, appLogger)

	// The index must reflect every scheduled appointment before the first
	// conflict decision.
	warmCtx, cancelWarm := context.WithTimeout(context.Background(), 30*time.Second)
	if err := appointmentSvc.WarmIndex(warmCtx); err != nil {
		cancelWarm()
		log.Fatal().Err(err).Msg("failed to warm conflict index")
	}
	cancelWarm()

	v := validator.New()

	r := router.NewRouter(
		healthHandler.NewHandler(db),
		appointmentHandler.NewHandler(appointmentSvc, v),
		calendarHandler.NewHandler(calendarSvc),
		clientHandler.NewHandler(pipelineSvc, v),
		preferenceHandler.NewHandler(preferenceRepo, notificationSvc),
		router.Config{
			RateLimitRPS:   cfg.Server.RateLimitRPS,
			RateLimitBurst: cfg.Server.RateLimitBurst,
			RequestTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
			CORS:           middleware.DefaultCORSConfig(),
			MetricsPrefix:  "realtycrm",
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	go func() {
		appLogger.Info("starting API server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
