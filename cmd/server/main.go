package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Proctor")

	validator.Setup()
	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL, Redis and NATS ─────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	nc, err := database.NewNATSConn(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer nc.Drain()

	// ─── Initialize Repositories ───────────────────────────────────────
	studentRepo := repository.NewStudentRepository(pool)
	adminRepo := repository.NewAdminRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	targetRepo := repository.NewExamTargetRuleRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	answerRepo := repository.NewAnswerRepository(pool)
	unlockRepo := repository.NewUnlockRepository(pool)
	violationRepo := repository.NewViolationRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	events := service.NewEventPublisher(rdb, log)
	authService := service.NewAuthService(cfg, rdb, studentRepo, adminRepo)
	examService := service.NewExamService(examRepo, questionRepo, targetRepo, rdb, log)
	attemptService := service.NewAttemptService(attemptRepo, answerRepo, unlockRepo, examService, events, rdb, log)
	unlockService := service.NewUnlockService(attemptRepo, unlockRepo, events, log)
	executionService := service.NewExecutionService(nc, cfg.ExecSubject, cfg.ExecTimeout, cfg.ExecTimeLimit, attemptService, examService, log)
	scoringService := service.NewScoringService(attemptService, examService, executionService, log)
	monitorService := service.NewMonitorService(monitorRepo)

	hub := ws.NewStatusHub(rdb, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(authService, log),
		Attempt: handler.NewAttemptHandler(examService, attemptService, unlockService, executionService, log),
		Unlock:  handler.NewUnlockHandler(unlockService, log),
		Monitor: handler.NewMonitorHandler(rdb, examService, monitorService, log),
		WS:      handler.NewWSHandler(attemptService, hub, log, cfg.AllowedOrigins),
		System:  handler.NewSystemHandler(pool, rdb, nc, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	start := func(run func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			run(workerCtx)
		}()
	}

	answerQueue := worker.NewRedisQueue(rdb, config.WorkerKey.PersistAnswersQueue)
	violationQueue := worker.NewRedisQueue(rdb, config.WorkerKey.PersistViolationsQueue)
	scoreQueue := worker.NewRedisQueue(rdb, config.WorkerKey.ScoreAttemptsQueue)

	start(worker.NewAutosaveWorker(answerRepo, attemptService, answerQueue, log).Start)
	start(worker.NewViolationWorker(violationRepo, violationQueue, log).Start)
	start(worker.NewScoringWorker(scoringService, attemptRepo, attemptService, scoreQueue, log).Start)
	start(worker.NewDeadlineWorker(attemptService, cfg.DeadlineSweepInterval, log).Start)
	start(hub.Run)

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all published exams into Redis before accepting traffic.
	if err := examService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	r := router.SetupRouter(authService, rdb, handlers, cfg, log)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for queues to drain.
	workerCancel()
	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Workers did not stop in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
