package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"repguard/internal/logging"
	"repguard/internal/reputation"
	"repguard/pkg/config"
)

var (
	configPath = flag.String("config", "configs/repguard.yaml", "Path to configuration file")
	nodeID     = flag.String("node-id", "", "Unique node identifier")
	maintEvery = flag.Duration("maintenance-interval", 30*time.Second, "Wall-clock cadence for the background maintenance tick")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *nodeID != "" {
		cfg.Node.ID = *nodeID
	}

	logger, err := logging.InitializeFromConfig(cfg.Node.ID, cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	ctx := logging.WithCorrelationID(context.Background(), logging.NewCorrelationID())

	logging.Info(ctx, logging.ComponentMain, logging.ActionStart, "repguard node starting", map[string]interface{}{
		"node_id":        cfg.Node.ID,
		"config_file":    *configPath,
		"expected_items": cfg.Engine.ExpectedItems,
		"fpr_limit":      cfg.Engine.FPRLimit,
	})

	mgr, err := reputation.NewManager(cfg.Engine)
	if err != nil {
		logging.Fatal(ctx, logging.ComponentMain, logging.ActionStart, "failed to construct reputation manager", err)
		os.Exit(1)
	}

	fmt.Printf("repguard node %s started (expected_items=%d fpr_limit=%.4f)\n",
		cfg.Node.ID, cfg.Engine.ExpectedItems, cfg.Engine.FPRLimit)

	shutdownCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ticker := time.NewTicker(*maintEvery)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			now := time.Now().UnixNano()
			if err := mgr.Maintenance(shutdownCtx, now); err != nil {
				logging.Warn(shutdownCtx, logging.ComponentMain, logging.ActionMaintenance,
					"background maintenance tick failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			stats := mgr.Stats()
			logging.Info(shutdownCtx, logging.ComponentMain, logging.ActionMaintenance, "maintenance tick complete", map[string]interface{}{
				"total_queries":  stats.TotalQueries,
				"observed_fpr":   stats.ObservedFPR,
				"rebuild_count":  stats.RebuildCount,
				"cuckoo_buckets": stats.CuckooNumBuckets,
			})
		case <-sigCh:
			fmt.Printf("\nshutting down repguard node: %s\n", cfg.Node.ID)
			cancel()
			fmt.Println("shutdown complete")
			return
		}
	}
}
