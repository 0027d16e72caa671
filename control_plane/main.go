package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itskum47/FleetForge/control_plane/cluster"
	"github.com/itskum47/FleetForge/control_plane/coordination"
	"github.com/itskum47/FleetForge/control_plane/filter"
	"github.com/itskum47/FleetForge/control_plane/heartbeat"
	"github.com/itskum47/FleetForge/control_plane/query"
	"github.com/itskum47/FleetForge/control_plane/redirect"
	"github.com/itskum47/FleetForge/control_plane/store"
	"github.com/itskum47/FleetForge/control_plane/streaming"
)

// buildStore connects the configured ownership backend. The returned closer
// releases its connections.
func buildStore(ctx context.Context, cfg Config) (store.OwnershipStore, func(), error) {
	switch cfg.OwnershipBackend {
	case "memory":
		// MemoryStore only works for single-node operation
		return store.NewMemoryStore(), func() {}, nil
	case "ring":
		return store.NewRingStore(cfg.ClusterNodes), func() {}, nil
	case "redis":
		s, err := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis at %s: %w", cfg.RedisAddr, err)
		}
		return s, func() { s.Close() }, nil
	case "postgres":
		s, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("create app_info schema: %w", err)
		}
		return s, s.Close, nil
	case "etcd":
		s, err := store.NewEtcdStore(cfg.EtcdEndpoints)
		if err != nil {
			return nil, nil, fmt.Errorf("connect etcd: %w", err)
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown ownership backend %q", cfg.OwnershipBackend)
	}
}

func main() {
	cfg, err := LoadConfig(os.Getenv("FLEET_CONFIG"))
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Ownership backend
	ownershipStore, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize ownership store: %v", err)
	}
	defer closeStore()
	log.Printf("[CONFIG] Ownership backend: %s, node id: %s", ownershipStore.Backend(), cfg.AdvertiseAddr)

	// 2. Registry and ownership
	registry := cluster.NewRegistry(cluster.WithWorkerTimeout(cfg.WorkerTimeout))

	ownership := coordination.NewOwnershipManager(ownershipStore, cfg.AdvertiseAddr, cfg.LeaseTTL)
	ownership.SetOnLost(func(appID int64) {
		log.Printf("[OWNERSHIP] Lost app %d; queries for it will be forwarded to the new owner", appID)
	})
	publisher := newPublisher(cfg)
	defer publisher.Close()
	ownership.SetPublisher(publisher)
	ownership.Start(ctx)

	// 3. Query path
	redirector := redirect.New(
		cfg.AdvertiseAddr,
		&redirect.LeaseResolver{Store: ownershipStore, Self: cfg.AdvertiseAddr},
		redirect.NewHTTPCaller(cfg.ClusterToken),
		redirect.WithTimeout(cfg.RedirectTimeout),
		redirect.WithBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
	)
	queries := query.NewService(registry, filter.DefaultChain(registry), redirector)

	// 4. Ingestion
	ingestor := heartbeat.NewIngestor(registry, ownership,
		heartbeat.NewTokenBucketLimiter(cfg.WorkerHeartbeatRate, cfg.WorkerHeartbeatBurst))

	liveness := coordination.NewLivenessMonitor(registry, cfg.LivenessInterval, cfg.WorkerRetention)
	liveness.SetOnPurge(ingestor.Forget)
	liveness.Start(ctx)

	api := NewAPI(cfg, registry, queries, ingestor, ownership)

	// Start WebSocket hub
	go api.wsHub.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("FleetForge Control Plane listening on %s (timeout %v, redirect timeout %v)",
			cfg.ListenAddr, cfg.WorkerTimeout, cfg.RedirectTimeout)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutdown signal received, draining...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	// Hand applications back so peers can claim them without waiting for expiry
	ownership.Stop()
}

// newPublisher picks where ownership events go. The redis backend reuses its
// server for pub/sub; everything else logs.
func newPublisher(cfg Config) streaming.Publisher {
	if cfg.OwnershipBackend == "redis" {
		return streaming.NewRedisPublisher(cfg.AdvertiseAddr, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	}
	return streaming.NewLogPublisher(cfg.AdvertiseAddr)
}
