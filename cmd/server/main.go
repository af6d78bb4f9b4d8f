package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sprintwatch/internal/api"
	"sprintwatch/internal/api/handlers"
	"sprintwatch/internal/api/middleware"
	"sprintwatch/internal/engine/client"
	"sprintwatch/internal/engine/providers"
	enginesync "sprintwatch/internal/engine/sync"
	"sprintwatch/internal/engine/tokens"
	"sprintwatch/internal/engine/webhooks"
	"sprintwatch/internal/pkg/logger"
	"sprintwatch/internal/platform/auth"
	"sprintwatch/internal/platform/config"
	"sprintwatch/internal/platform/database"
	"sprintwatch/internal/platform/queue"
	"sprintwatch/internal/platform/repositories"
	"sprintwatch/internal/workers"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.Logging, "server")

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// Repositories
	integrationRepo := repositories.NewIntegrationRepository(db)
	credentialRepo := repositories.NewCredentialRepository(db)
	subscriptionRepo := repositories.NewSubscriptionRepository(db)
	eventRepo := repositories.NewEventRepository(db)
	cursorRepo := repositories.NewCursorRepository(db)
	entityRepo := repositories.NewEntityRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)

	jobQueue := queue.New(db)

	// Engine
	providerSet := providers.Build(cfg.Providers)
	tokenStore := tokens.NewStore(credentialRepo, providerSet)
	clientRegistry := client.NewRegistry(providerSet, tokenStore, cfg.Client).WithSource(integrationRepo)

	active, err := integrationRepo.ListActive()
	if err != nil {
		log.Fatalf("Failed to load integrations: %v", err)
	}
	if err := clientRegistry.LoadAll(active); err != nil {
		log.Fatalf("Failed to build provider clients: %v", err)
	}

	gateway := webhooks.NewGateway(db, subscriptionRepo, eventRepo, jobQueue)
	applier := enginesync.NewApplier(entityRepo, enginesync.LogNotifier{})
	orchestrator := enginesync.NewOrchestrator(clientRegistry, applier, cursorRepo, cfg.Sync)
	scheduler := enginesync.NewScheduler(integrationRepo, orchestrator, cfg.Sync.Interval)
	processor := workers.NewEventProcessor(eventRepo, jobQueue, applier, providerSet, cfg.Queue.MaxRetries)

	// Services
	tokenSvc := auth.NewTokenService(cfg.JWT)

	// Handlers
	integrationHandler := handlers.NewIntegrationHandler(integrationRepo, credentialRepo, subscriptionRepo, clientRegistry)
	deps := &api.Dependencies{
		HealthHandler:      handlers.NewHealthHandler(db, integrationRepo, cursorRepo, clientRegistry),
		AuthHandler:        handlers.NewAuthHandler(tokenSvc),
		APIKeyHandler:      handlers.NewAPIKeyHandler(apiKeyRepo),
		IntegrationHandler: integrationHandler,
		SyncHandler:        handlers.NewSyncHandler(integrationHandler, cursorRepo, scheduler, jobQueue),
		EventHandler:       handlers.NewEventHandler(eventRepo, processor),
		WebhookHandler:     handlers.NewWebhookHandler(providerSet, gateway),
		AuthMiddleware:     middleware.NewAuthMiddleware(tokenSvc, apiKeyRepo),
	}
	router := api.NewRouter(deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
