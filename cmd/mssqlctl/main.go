// Package main is the entrypoint for the go-mssql-core catalog host: it
// loads the catalog configuration, attaches every configured SQL Server
// database, and serves metrics/health until a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hugr-lab/go-mssql-core/catalog"
	"github.com/hugr-lab/go-mssql-core/internal/config"
	"github.com/hugr-lab/go-mssql-core/internal/health"
	"github.com/hugr-lab/go-mssql-core/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var configPath = flag.String("config", "configs/catalogs.yaml", "Path to catalog configuration file")

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[main] Starting go-mssql-core catalog host")

	// ─── Load Configuration ───────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[main] Failed to load configuration: %v", err)
	}
	log.Printf("[main] Configuration loaded: %d catalogs, instance=%s", len(cfg.Catalogs), cfg.InstanceID)
	for _, t := range cfg.Catalogs {
		log.Printf("[main]   Catalog %s → %s:%d/%s (max_conn=%d, min_warm=%d)",
			t.Context, t.Host, t.Port, t.Database, t.MaxConnections, t.MinWarmConnections)
	}

	// ─── Initialize Metrics ──────────────────────────────────────────
	for _, t := range cfg.Catalogs {
		metrics.ConnectionsActive.WithLabelValues(t.Context).Set(0)
		metrics.ConnectionsIdle.WithLabelValues(t.Context).Set(0)
		metrics.ConnectionsMax.WithLabelValues(t.Context).Set(float64(t.MaxConnections))
		metrics.QueueLength.WithLabelValues(t.Context).Set(0)
	}
	metrics.InstanceHeartbeat.WithLabelValues(cfg.InstanceID).Set(1)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[main] Metrics server listening on %s/metrics", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[main] Metrics server error: %v", err)
		}
	}()

	// ─── Attach Catalogs ───────────────────────────────────────────────
	log.Println("[main] Attaching catalogs...")
	mgr, err := catalog.Attach(context.Background(), cfg)
	if err != nil {
		log.Fatalf("[main] Failed to attach catalogs: %v", err)
	}
	defer func() {
		log.Println("[main] Closing catalogs...")
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutCancel()
		if err := mgr.Close(shutCtx); err != nil {
			log.Printf("[main] Catalog manager close error: %v", err)
		}
	}()
	log.Println("[main] Catalogs attached")
	for name, s := range mgr.Stats() {
		log.Printf("[main]   Catalog %s: %+v", name, s)
	}

	// ─── Initialize Health Checker ──────────────────────────────────────
	contexts := make([]string, len(cfg.Catalogs))
	for i, t := range cfg.Catalogs {
		contexts[i] = t.Context
	}
	checker := health.NewChecker(cfg.InstanceID, mgr, contexts)
	healthServer := checker.ServeHTTP(cfg.HealthAddr)
	log.Printf("[main] Health check server listening on %s/healthz", cfg.HealthAddr)

	log.Println("[main] Running initial health check...")
	report := checker.Check(context.Background())
	for _, comp := range report.Components {
		status := "✅"
		if comp.Status == health.StatusUnhealthy {
			status = "❌"
		}
		log.Printf("[main]   %s %s: %s (latency: %s)", status, comp.Name, comp.Message, comp.Latency)
	}
	log.Printf("[main] Overall health: %s", report.Status)

	// ─── Graceful Shutdown ───────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Println("[main] Catalog host is ready. Waiting for shutdown signal...")
	sig := <-sigCh
	log.Printf("[main] Received signal %v, shutting down gracefully...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	metrics.InstanceHeartbeat.WithLabelValues(cfg.InstanceID).Set(0)

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] Health server shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] Metrics server shutdown error: %v", err)
	}

	log.Println("[main] Shutdown complete.")
}
