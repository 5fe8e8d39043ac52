package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/outreach-analytics/internal/app"
	"github.com/ignite/outreach-analytics/internal/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	once := flag.Bool("once", false, "run every schedule once and exit")
	flag.Parse()

	log.Println("Outreach Analytics cache warmer (cmd/warmer)")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.Warming.Enabled = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, "analytics-warmer")
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	if *once {
		rep := a.Scheduler.RunSchedule(ctx)
		log.Printf("Warming run: warmed=%d skipped=%d failed=%d locked=%d in %s",
			rep.Warmed, rep.Skipped, rep.Failed, rep.Locked, rep.Duration)
		if rep.Failed > 0 {
			os.Exit(1)
		}
		return
	}

	if err := a.StartBackground(ctx); err != nil {
		log.Fatalf("Failed to start warming: %v", err)
	}
	log.Printf("Warmer running (signals: %s, strategy: %s)", cfg.Warming.Signals, strategySource(cfg))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigs {
		if sig == syscall.SIGHUP {
			if err := a.ReloadStrategy(ctx); err != nil {
				log.Printf("Strategy reload failed, keeping current strategy: %v", err)
				continue
			}
			log.Println("Strategy reloaded")
			continue
		}
		break
	}

	log.Println("Shutting down...")
	cancel()
	log.Println("Warmer stopped")
}

func strategySource(cfg *config.Config) string {
	if cfg.Warming.StrategyURI != "" {
		return cfg.Warming.StrategyURI
	}
	return "inline"
}
