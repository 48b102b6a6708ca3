package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"coinsim-api/internal/cli"
	"coinsim-api/internal/config"
	"coinsim-api/internal/svc"
	"coinsim-api/pkg/discovery"
)

const shutdownTimeout = 10 * time.Second // Grace period for shutdown

var configFile = flag.String("f", "etc/coinsim.yaml", "the config file")

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("[main] Starting risk monitor...")

	appCfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("[main] Failed to load app config: %v", err)
	}

	log.Printf("[main] Configuration loaded:")
	for _, line := range cli.ConfigSummaryLines(appCfg) {
		log.Printf("  - %s", line)
	}

	svcCtx := svc.NewServiceContext(*appCfg)
	if svcCtx.Monitor == nil {
		log.Fatal("[main] Monitor and portfolio config sections are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := svcCtx.Monitor.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[monitor] Loop exited: %v", err)
		}
		log.Println("[monitor] Stopped")
	}()

	if svcCtx.Pipeline != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runDiscoveryLoop(ctx, svcCtx.Pipeline, appCfg.Discovery.Value)
		}()
	}

	log.Println("[main] Risk monitor started. Press Ctrl+C to stop.")

	<-ctx.Done()
	log.Println("[main] Shutdown signal received, stopping tasks...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("[main] All tasks stopped cleanly")
	case <-shutdownCtx.Done():
		log.Println("[main] Shutdown timeout exceeded, forcing exit")
	}

	log.Println("[main] Risk monitor stopped")
}

// runDiscoveryLoop runs discovery scans on the configured coarse schedule.
func runDiscoveryLoop(ctx context.Context, pipeline *discovery.Pipeline, cfg *discovery.Config) {
	ticker := time.NewTicker(cfg.ScanInterval)
	defer ticker.Stop()

	// Run once immediately on startup
	runDiscoveryScan(ctx, pipeline)

	for {
		select {
		case <-ctx.Done():
			log.Println("[discovery] Stopping discovery loop")
			return
		case <-ticker.C:
			runDiscoveryScan(ctx, pipeline)
		}
	}
}

func runDiscoveryScan(ctx context.Context, pipeline *discovery.Pipeline) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	result, err := pipeline.Discover(ctx, 0)
	elapsed := time.Since(start)
	if err != nil {
		log.Printf("[discovery] [ERROR] %v, took %dms", err, elapsed.Milliseconds())
		return
	}
	log.Printf("[discovery] [OK] scanned %d, %d candidates, %d rejected, took %dms",
		result.Scanned, len(result.Candidates), result.Rejections.Sum(), elapsed.Milliseconds())
}
