package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pdfconvert/convertd/internal/api/v1/handlers"
	routes "github.com/pdfconvert/convertd/internal/api/v1/routes"
	"github.com/pdfconvert/convertd/internal/config"
	"github.com/pdfconvert/convertd/internal/db"
	"github.com/pdfconvert/convertd/internal/db/repos"
	"github.com/pdfconvert/convertd/internal/dispatch"
	"github.com/pdfconvert/convertd/internal/llm"
	"github.com/pdfconvert/convertd/internal/logger"
	"github.com/pdfconvert/convertd/internal/notify"
	"github.com/pdfconvert/convertd/internal/pipeline"
	"github.com/pdfconvert/convertd/internal/services"
	"github.com/pdfconvert/convertd/internal/storage"
)

func main() {
	logger.Initialize()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}

	database, err := db.New(db.Options{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}

	store, err := storage.NewManager(cfg.StoragePath, cfg.ResultsPath)
	if err != nil {
		logger.Fatalf("failed to initialize storage: %v", err)
	}

	jobRepo := repos.NewJobRepository(database)
	userRepo := repos.NewUserRepository(database)
	auditRepo := repos.NewAuditRepository(database)

	hub := notify.NewHub()
	jobRepo.SetPublisher(hub)

	router := llm.NewRouter(llm.NewProviders(cfg.Providers), cfg.LLMFallbackEnabled)

	stages := []pipeline.Stage{
		pipeline.NewRasterizeStage(store, cfg.PdftoppmPath, cfg.RasterDPI),
		pipeline.NewOCRStage(cfg.OCRLanguage),
		pipeline.NewStructureStage(),
		pipeline.NewPostprocessStage(router),
		pipeline.NewPersistStage(store, router, cfg.LLMModel),
	}
	runner := pipeline.NewRunner(jobRepo, stages, pipeline.Options{
		StageRetries: cfg.StageRetries,
		StageTimeout: cfg.StageTimeout,
		JobTimeout:   cfg.JobTimeout,
		RetryBackoff: cfg.RetryBackoff,
	})
	dispatcher := dispatch.New(jobRepo, runner, dispatch.Options{
		Workers:      cfg.Workers,
		StallTimeout: cfg.StallTimeout,
		MaxAttempts:  cfg.MaxAttempts,
	})

	jobService := services.NewJobService(jobRepo, auditRepo, store, dispatcher)
	userService := services.NewUserService(userRepo, auditRepo)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    64 * 1024 * 1024,
	})

	routes.Register(app, userService, &routes.Handlers{
		Jobs:  handlers.NewJobHandler(jobService),
		Users: handlers.NewUserHandler(userService),
		Admin: handlers.NewAdminHandler(cfg, router, dispatcher),
		WS:    handlers.NewWSHandler(jobService, hub),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := dispatcher.Run(ctx); err != nil {
			logger.Errorf("dispatcher stopped: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Errorf("shutdown error: %v", err)
		}
	}()

	logger.Infof("listening on %s", cfg.ListenAddr)
	if err := app.Listen(cfg.ListenAddr); err != nil {
		logger.Fatalf("server error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
