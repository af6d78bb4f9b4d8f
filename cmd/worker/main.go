package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	gosync "sync"
	"syscall"

	"sprintwatch/internal/engine/client"
	"sprintwatch/internal/engine/providers"
	enginesync "sprintwatch/internal/engine/sync"
	"sprintwatch/internal/engine/tokens"
	"sprintwatch/internal/engine/webhooks"
	"sprintwatch/internal/pkg/logger"
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

	logger.Init(cfg.Logging, "worker")

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// Repositories
	integrationRepo := repositories.NewIntegrationRepository(db)
	credentialRepo := repositories.NewCredentialRepository(db)
	eventRepo := repositories.NewEventRepository(db)
	cursorRepo := repositories.NewCursorRepository(db)
	entityRepo := repositories.NewEntityRepository(db)

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

	applier := enginesync.NewApplier(entityRepo, enginesync.LogNotifier{})
	orchestrator := enginesync.NewOrchestrator(clientRegistry, applier, cursorRepo, cfg.Sync)
	scheduler := enginesync.NewScheduler(integrationRepo, orchestrator, cfg.Sync.Interval)
	processor := workers.NewEventProcessor(eventRepo, jobQueue, applier, providerSet, cfg.Queue.MaxRetries)
	syncWorker := workers.NewSyncWorker(integrationRepo, scheduler)
	sweeper := workers.NewSweeper(eventRepo, jobQueue, cfg.Queue.StaleAfter, cfg.Queue.SweepInterval)

	ctx, cancel := context.WithCancel(context.Background())
	var wg gosync.WaitGroup

	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	// One consumer pool per webhook topic, one for triggered syncs, one
	// draining the dead-letter topic into the log.
	for name := range providerSet {
		topic := webhooks.Topic(name)
		run(func() {
			jobQueue.Consume(ctx, topic, cfg.Queue.WorkerCount, cfg.Queue.PollInterval, processor.Handle)
		})
	}
	run(func() {
		jobQueue.Consume(ctx, workers.SyncTopic, 1, cfg.Queue.PollInterval, syncWorker.Handle)
	})
	run(func() {
		jobQueue.Consume(ctx, workers.DeadLetterTopic, 1, cfg.Queue.PollInterval, workers.HandleDeadLetter(eventRepo))
	})
	run(func() { sweeper.Run(ctx) })
	run(func() { scheduler.Run(ctx) })

	log.Println("Worker started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down")
	cancel()
	wg.Wait()
}
