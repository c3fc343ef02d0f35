// Package main is the entrypoint for the pool daemon. It loads
// configuration, builds one adaptive pool per configured target, exposes
// Prometheus metrics and a stats/health endpoint, optionally publishes
// stats to Redis, and handles graceful shutdown.
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

	"github.com/google/uuid"
	"github.com/joao-brasil/adaptive-pool/internal/config"
	"github.com/joao-brasil/adaptive-pool/internal/connector"
	"github.com/joao-brasil/adaptive-pool/internal/coordinator"
	"github.com/joao-brasil/adaptive-pool/internal/pool"
	"github.com/joao-brasil/adaptive-pool/internal/statsapi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	daemonConfigPath = flag.String("config", "configs/poold.yaml", "Path to daemon configuration file")
	poolsConfigPath  = flag.String("pools", "configs/pools.yaml", "Path to pools configuration file")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[main] Starting adaptive connection pool daemon")

	cfg, err := config.Load(*daemonConfigPath, *poolsConfigPath)
	if err != nil {
		log.Fatalf("[main] Failed to load configuration: %v", err)
	}
	instanceID := fmt.Sprintf("%s-%s", cfg.Daemon.InstanceID, uuid.NewString()[:8])
	log.Printf("[main] Configuration loaded: %d pools, instance=%s", len(cfg.Pools), instanceID)

	// Metrics HTTP server (Prometheus scrape endpoint).
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Daemon.MetricsPort),
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[main] Metrics server listening on :%d/metrics", cfg.Daemon.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[main] Metrics server error: %v", err)
		}
	}()

	// Build one pool per configured target.
	ctx := context.Background()
	pools := make([]*pool.Pool, 0, len(cfg.Pools))
	sources := make([]statsapi.StatsSource, 0, len(cfg.Pools))
	for i := range cfg.Pools {
		spec := &cfg.Pools[i]
		log.Printf("[main]   Pool %s -> %s (min=%d, max=%d)",
			spec.Pool.Name, spec.Target.Addr(), spec.Pool.MinSize, spec.Pool.MaxSize)

		p, err := pool.New(ctx, spec.Pool, connector.NewSQLServer(&spec.Target))
		if err != nil {
			log.Fatalf("[main] Failed to initialize pool %s: %v", spec.Pool.Name, err)
		}
		pools = append(pools, p)
		sources = append(sources, p)
	}

	// Stats/health endpoint.
	stats := statsapi.NewServer(instanceID, sources...)
	statsServer := stats.Serve(cfg.Daemon.StatsPort)

	// Optional Redis stats publisher.
	publisher := coordinator.NewPublisher(&cfg.Redis, instanceID, sources...)
	if publisher != nil {
		publisher.Start(ctx)
	} else {
		log.Println("[main] No Redis configured, coordinator disabled")
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Println("[main] Daemon is ready. Waiting for shutdown signal...")
	sig := <-sigCh
	log.Printf("[main] Received signal %v, shutting down gracefully...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Daemon.ShutdownGrace)
	defer cancel()

	if publisher != nil {
		if err := publisher.Stop(shutdownCtx); err != nil {
			log.Printf("[main] Coordinator stop error: %v", err)
		}
	}
	if err := statsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] Stats server shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] Metrics server shutdown error: %v", err)
	}

	for _, p := range pools {
		p.Shutdown(cfg.Daemon.ShutdownGrace)
	}

	log.Println("[main] Shutdown complete.")
}
