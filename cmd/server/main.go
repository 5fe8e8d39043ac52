package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/outreach-analytics/internal/api"
	"github.com/ignite/outreach-analytics/internal/app"
	"github.com/ignite/outreach-analytics/internal/config"
	"github.com/ignite/outreach-analytics/internal/warming"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %v", addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  Outreach Analytics API (cmd/server)                       ║")
	log.Println("║  Cached cross-domain analytics with in-process warming     ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, "analytics-api")
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	if err := a.StartBackground(ctx); err != nil {
		log.Fatalf("Failed to start background workers: %v", err)
	}
	log.Printf("Cache backend: %s, counter source: %s, warming: %v (signals: %s)",
		cfg.Cache.Backend, cfg.Source.Type, cfg.Warming.Enabled, cfg.Warming.Signals)

	var sched *warming.Scheduler
	if cfg.Warming.Enabled {
		sched = a.Scheduler
	}
	router := api.SetupRoutes(
		api.NewHandlers(a.Service, sched, a.Log),
		api.NewHealthChecker(a.Monitor),
		api.RouterOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Metrics:        a.MetricsHandler(),
			MetricsPath:    cfg.Metrics.Path,
			Logger:         a.Log,
		},
	)
	server := api.NewServer(router)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutSecs)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	cancel()

	log.Println("Server stopped")
}
