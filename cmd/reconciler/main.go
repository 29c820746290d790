package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tsanders-rh/gpuctl/internal/config"
	"github.com/tsanders-rh/gpuctl/internal/events"
	"github.com/tsanders-rh/gpuctl/internal/fsresolver"
	"github.com/tsanders-rh/gpuctl/internal/launch"
	"github.com/tsanders-rh/gpuctl/internal/provider"
	"github.com/tsanders-rh/gpuctl/internal/reconciler"
	"github.com/tsanders-rh/gpuctl/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Printf("Opening %s store...", cfg.StoreBackend)
	kv, err := openKV(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	st := store.New(kv)
	defer st.Close()

	publisher, err := events.NewPublisher(cfg.NATSURL)
	if err != nil {
		log.Printf("WARNING: events disabled, NATS connect failed: %v", err)
	}
	defer publisher.Close()

	client := provider.NewClient(cfg.ProviderBaseURL, st.Settings)
	resolver := fsresolver.New(client, st.SeedStatus)
	launcher := launch.NewService(st, client, resolver, publisher, cfg.AppBaseURL)

	recConfig := reconciler.DefaultConfig()
	recConfig.TickInterval = cfg.TickInterval
	rec := reconciler.New(recConfig, st, client, launcher, publisher)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down reconciler...")
		rec.Stop()
		cancel()
	}()

	if err := rec.Start(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Reconciler stopped: %v", err)
	}

	log.Println("Reconciler exited")
}

func openKV(ctx context.Context, cfg *config.Config) (store.KV, error) {
	switch cfg.StoreBackend {
	case "badger":
		return store.NewBadgerKV(cfg.BadgerPath)
	case "memory":
		return store.NewMemoryKV(), nil
	default:
		return store.NewPostgresKV(ctx, cfg.DatabaseURL)
	}
}
