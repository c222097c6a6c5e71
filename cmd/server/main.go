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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aravinth/pollkv/internal/metrics"
	"github.com/aravinth/pollkv/internal/server"
	"github.com/aravinth/pollkv/internal/store"
)

func main() {
	cfg := server.DefaultConfig()

	// Server flags
	flag.StringVar(&cfg.Host, "host", cfg.Host, "Address to bind (empty = all interfaces)")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "TCP port to listen on")
	flag.IntVar(&cfg.Backlog, "backlog", cfg.Backlog, "Listen backlog")
	flag.IntVar(&cfg.MaxConnections, "maxclients", cfg.MaxConnections, "Maximum concurrent connections")

	// Protocol flags
	flag.IntVar(&cfg.Limits.MaxMessage, "max-msg", cfg.Limits.MaxMessage, "Maximum request/response payload in bytes")
	flag.IntVar(&cfg.Limits.MaxArgs, "max-args", cfg.Limits.MaxArgs, "Maximum arguments per request")

	// Store flags
	hashName := flag.String("hash", "fnv", "Hash function for the hash index: fnv, xxhash, siphash")

	// Metrics flags
	metricsPort := flag.Int("metrics-port", 9090, "Prometheus metrics HTTP port (0 = disabled)")

	flag.Parse()

	hasher, err := store.HasherByName(*hashName)
	if err != nil {
		log.Fatalf("invalid -hash value: %v", err)
	}
	if cfg.Limits.MaxMessage <= 0 || cfg.Limits.MaxArgs <= 0 {
		log.Fatalf("max-msg and max-args must be positive")
	}

	fmt.Print(`
                ____ __
   ___  ___  / / /// /____   __
  / _ \/ _ \/ / / ,< | |/ / /
 / .__/\___/_/_/_/|_||___/
/_/
`)
	log.Printf("starting pollkv server")
	log.Printf("  host:       %q", cfg.Host)
	log.Printf("  port:       %d", cfg.Port)
	log.Printf("  maxclients: %d", cfg.MaxConnections)
	log.Printf("  max-msg:    %d bytes", cfg.Limits.MaxMessage)
	log.Printf("  max-args:   %d", cfg.Limits.MaxArgs)
	log.Printf("  hash:       %s", *hashName)
	if *metricsPort > 0 {
		log.Printf("  metrics-port: %d", *metricsPort)
	}

	db := store.NewDB(hasher)
	srv := server.New(cfg, db)

	// Initialise Prometheus metrics
	var metricsSrv *http.Server
	if *metricsPort > 0 {
		collector := metrics.NewCollector(db, srv, srv.Handler().StartTime())
		metrics.Register(collector)
		srv.Handler().SetMetrics(metrics.CommandCount, metrics.CommandDuration)
		metricsSrv, err = metrics.StartHTTPServer(*metricsPort, prometheus.DefaultGatherer)
		if err != nil {
			log.Fatalf("failed to start metrics server: %v", err)
		}
	}

	// Context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil {
		log.Printf("server error: %v", err)
		os.Exit(1)
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		metrics.ShutdownHTTPServer(shutdownCtx, metricsSrv)
		shutdownCancel()
	}

	log.Println("shutdown complete")
}
