package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tsanders-rh/gpuctl/internal/api"
	"github.com/tsanders-rh/gpuctl/internal/auth"
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

	ctx := context.Background()

	log.Printf("Opening %s store...", cfg.StoreBackend)
	kv, err := openKV(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	st := store.New(kv)
	defer st.Close()

	// The seed-complete secret is generated exactly once per deployment
	if err := st.Settings.EnsureSeedSecret(ctx); err != nil {
		log.Fatalf("Failed to ensure seed secret: %v", err)
	}

	if cfg.JWKSURL == "" {
		log.Fatal("JWKS_URL must be set")
	}
	verifier, err := auth.NewVerifier(ctx, cfg.JWKSURL)
	if err != nil {
		log.Fatalf("Failed to initialize JWKS verifier: %v", err)
	}

	publisher, err := events.NewPublisher(cfg.NATSURL)
	if err != nil {
		log.Printf("WARNING: events disabled, NATS connect failed: %v", err)
	}
	defer publisher.Close()

	client := provider.NewClient(cfg.ProviderBaseURL, st.Settings)
	resolver := fsresolver.New(client, st.SeedStatus)
	launcher := launch.NewService(st, client, resolver, publisher, cfg.AppBaseURL)

	serverConfig := api.DefaultServerConfig()
	serverConfig.Port = cfg.Port
	serverConfig.AllowedOrigins = cfg.CORSOrigins
	serverConfig.AdminEmails = cfg.AdminEmails

	log.Printf("Server configured:")
	log.Printf("  Port: %d", serverConfig.Port)
	log.Printf("  Provider: %s", cfg.ProviderBaseURL)
	log.Printf("  Admin emails: %v", cfg.AdminEmails)
	log.Printf("  Embedded reconciler: %v", cfg.EmbeddedReconciler)

	server := api.NewServer(serverConfig, st, client, launcher, verifier, publisher)

	var rec *reconciler.Reconciler
	if cfg.EmbeddedReconciler {
		recConfig := reconciler.DefaultConfig()
		recConfig.TickInterval = cfg.TickInterval
		rec = reconciler.New(recConfig, st, client, launcher, publisher)
		go func() {
			if err := rec.Start(ctx); err != nil && err != context.Canceled {
				log.Printf("Reconciler stopped: %v", err)
			}
		}()
	}

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	if rec != nil {
		rec.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
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
