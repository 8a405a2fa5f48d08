package main

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sueda-gl/bookspire-backend-public/internal/clients/openai"
	"github.com/sueda-gl/bookspire-backend-public/internal/data/db"
	"github.com/sueda-gl/bookspire-backend-public/internal/data/repos/practice"
	"github.com/sueda-gl/bookspire-backend-public/internal/handlers"
	"github.com/sueda-gl/bookspire-backend-public/internal/middleware"
	"github.com/sueda-gl/bookspire-backend-public/internal/observability"
	"github.com/sueda-gl/bookspire-backend-public/internal/platform/envutil"
	"github.com/sueda-gl/bookspire-backend-public/internal/platform/logger"
	"github.com/sueda-gl/bookspire-backend-public/internal/realtime"
	"github.com/sueda-gl/bookspire-backend-public/internal/realtime/bus"
	"github.com/sueda-gl/bookspire-backend-public/internal/server"
	"github.com/sueda-gl/bookspire-backend-public/internal/services"
	"github.com/sueda-gl/bookspire-backend-public/internal/tasks"
)

func main() {
	appLog, err := logger.New(envutil.Get("APP_ENV", "development"))
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer appLog.Sync()

	if stop := observability.Init(context.Background(), appLog, observability.Config{
		ServiceName: envutil.Get("OTEL_SERVICE_NAME", "bookspire-backend"),
		Environment: envutil.Get("APP_ENV", "development"),
	}); stop != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = stop(ctx)
		}()
	}

	dbService, err := db.New(appLog)
	if err != nil {
		appLog.Fatal("Failed to open database", "error", err)
	}
	if err := dbService.AutoMigrateAll(); err != nil {
		appLog.Fatal("Failed to migrate database", "error", err)
	}
	gdb := dbService.DB()

	turnRepo := practice.NewTurnRepo(gdb, appLog)
	responseRepo := practice.NewResponseRepo(gdb, appLog)
	analysisRepo := practice.NewAnalysisRepo(gdb, appLog)
	sessionRepo := practice.NewSessionRepo(gdb, appLog)

	aiClient, err := openai.NewClient(appLog)
	if err != nil {
		appLog.Fatal("Failed to init generation client", "error", err)
	}
	generator := services.NewGenerator(aiClient, appLog)

	personas, err := services.NewPersonaService(appLog)
	if err != nil {
		appLog.Fatal("Failed to load personas", "error", err)
	}
	questions := services.NewQuestionService(sessionRepo, personas, appLog)
	moderation := services.NewModerationService(generator, appLog)

	authService, err := services.NewAuthService(appLog)
	if err != nil {
		appLog.Fatal("Failed to init auth", "error", err)
	}

	registry := realtime.NewRegistry(appLog)

	var envBus bus.Bus
	if envutil.Get("REDIS_ADDR", "") != "" {
		envBus, err = bus.NewRedisBus(appLog)
		if err != nil {
			appLog.Warn("Envelope bus unavailable, running single-instance", "error", err)
			envBus = nil
		} else {
			err = envBus.StartForwarder(context.Background(), func(sessionID uuid.UUID, envelope json.RawMessage) {
				registry.Broadcast(sessionID, envelope, "")
			})
			if err != nil {
				appLog.Warn("Envelope forwarder failed to start", "error", err)
				_ = envBus.Close()
				envBus = nil
			}
		}
	}

	notifier := services.NewTurnNotifier(registry, envBus, appLog)
	processor := services.NewTurnProcessor(
		turnRepo, responseRepo, analysisRepo, sessionRepo,
		questions, personas, moderation, generator, notifier, appLog,
	)

	coalescer := realtime.NewCoalescer(envutil.Duration("DEBOUNCE_QUIET", realtime.DefaultQuietPeriod), appLog)
	taskMgr := tasks.NewManager(envutil.Duration("TASK_DRAIN_TIMEOUT", tasks.DefaultDrainTimeout), appLog)

	authMW := middleware.NewAuthMiddleware(appLog, authService)
	sessionHandler := handlers.NewSessionHandler(appLog, sessionRepo, turnRepo, analysisRepo, questions)
	wsHandler := handlers.NewWSHandler(
		appLog, authService, registry, coalescer, taskMgr,
		processor, notifier, sessionRepo, turnRepo, questions,
	)

	router := server.NewRouter(server.RouterConfig{
		AuthMiddleware: authMW,
		SessionHandler: sessionHandler,
		WSHandler:      wsHandler,
	})

	addr := ":" + envutil.Get("PORT", "8080")
	appLog.Info("Server listening", "addr", addr)
	if err := router.Run(addr); err != nil {
		appLog.Fatal("Server exited", "error", err)
	}
}
