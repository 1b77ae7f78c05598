package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/ikhtibar/assessment-api/internal/config"
	"github.com/ikhtibar/assessment-api/internal/database"
	"github.com/ikhtibar/assessment-api/internal/handler"
	"github.com/ikhtibar/assessment-api/internal/middleware"
	"github.com/ikhtibar/assessment-api/internal/models"
	"github.com/ikhtibar/assessment-api/internal/repository"
	"github.com/ikhtibar/assessment-api/internal/router"
	"github.com/ikhtibar/assessment-api/internal/service"
	"github.com/ikhtibar/assessment-api/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Exam{}, &models.ExamSection{}, &models.Question{}, &models.QuestionOption{}, &models.AnswerKey{},
		&models.Attempt{}, &models.AttemptQuestion{}, &models.AttemptAnswer{}, &models.AttemptEvent{},
		&models.GradingSession{}, &models.GradedAnswer{}, &models.ActivityLog{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	examRepo := repository.NewExamRepository(db)
	attemptRepo := repository.NewAttemptRepository(db)
	sessionRepo := repository.NewGradingSessionRepository(db)
	activityRepo := repository.NewActivityLogRepository(db)

	events := service.NewNATSPublisher(natsConn, logger)
	activityService := service.NewActivityService(activityRepo, validate, logger)
	attemptService := service.NewAttemptService(examRepo, attemptRepo, redisClient, cfg.ExamCacheTTL, activityService, events, validate, logger)
	gradingService := service.NewGradingService(attemptRepo, sessionRepo, redisClient, activityService, events, logger)
	manualService := service.NewManualGradingService(attemptRepo, sessionRepo, buildSuggester(cfg, logger), activityService, events, validate, logger)

	sweeper := service.NewExpirySweeper(attemptService, redisClient, cfg.SweepInterval, logger)
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go sweeper.Start(sweepCtx)

	attemptHandler := handler.NewAttemptHandler(attemptService, logger)
	gradingHandler := handler.NewGradingHandler(gradingService, manualService, attemptService, logger)
	activityHandler := handler.NewActivityHandler(activityService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		AttemptHandler:  attemptHandler,
		GradingHandler:  gradingHandler,
		ActivityHandler: activityHandler,
		JWTMiddleware:   middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, stopSweeper)
}

func buildSuggester(cfg config.Config, logger zerolog.Logger) ai.Suggester {
	switch cfg.AIProvider {
	case "openai":
		suggester, err := ai.NewOpenAISuggester(ai.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Logger: logger,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("openai suggester unavailable, manual grading continues without suggestions")
			return nil
		}
		return suggester
	case "anthropic":
		suggester, err := ai.NewAnthropicSuggester(ai.AnthropicConfig{APIKey: cfg.AnthropicAPIKey})
		if err != nil {
			logger.Warn().Err(err).Msg("anthropic suggester unavailable, manual grading continues without suggestions")
			return nil
		}
		return suggester
	default:
		return nil
	}
}

func waitForShutdown(app *fiber.App, stopSweeper context.CancelFunc) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()
	stopSweeper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
