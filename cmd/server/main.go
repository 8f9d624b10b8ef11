// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package main is the entry point for the Nessus scan orchestrator.
// It loads configuration, wires the registry/queue/taskstore/worker
// pipeline, starts the admin HTTP surface, and waits for a shutdown signal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	nessorchconfig "github.com/nessorch/orchestrator/internal/config"
	"github.com/nessorch/orchestrator/internal/housekeeper"
	"github.com/nessorch/orchestrator/internal/httpapi"
	"github.com/nessorch/orchestrator/internal/idempotency"
	"github.com/nessorch/orchestrator/internal/orchestrator"
	"github.com/nessorch/orchestrator/internal/pkg/logger"
	"github.com/nessorch/orchestrator/internal/queue"
	"github.com/nessorch/orchestrator/internal/registry"
	"github.com/nessorch/orchestrator/internal/scanner"
	"github.com/nessorch/orchestrator/internal/scanner/nessus"
	"github.com/nessorch/orchestrator/internal/taskstore"
	"github.com/nessorch/orchestrator/internal/worker"
)

var rootCmd = &cobra.Command{
	Use:   "nessorch",
	Short: "Nessus scan orchestrator",
	Long:  "A control-plane service that pools Nessus scanner instances, queues and dispatches scans, and serves validated results.",
	Run:   runServer,
}

func init() {
	nessorchconfig.BindFlags(rootCmd)
}

func nessusFactory(ic registry.InstanceConfig) scanner.Backend {
	return nessus.New(nessus.Config{
		BaseURL:          ic.BaseURL,
		VerifyTLS:        ic.VerifyTLS,
		AccessKey:        ic.AccessKey,
		SecretKey:        ic.SecretKey,
		Username:         ic.Username,
		Password:         ic.Password,
		PolicyTemplateID: ic.PolicyTemplateID,
	})
}

func runServer(cmd *cobra.Command, args []string) {
	log := logger.New()
	defer log.Sync()

	cfg, err := nessorchconfig.Load(cmd)
	if err != nil {
		log.Error("failed to load configuration: %v", err)
		os.Exit(1)
	}

	log.Info("starting nessus scan orchestrator")
	log.Info("redis: %s, task dir: %s, pools configured: %d", cfg.Redis.Addr, cfg.TaskDir, len(cfg.Pools))

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Error("failed to connect to redis at %s: %v", cfg.Redis.Addr, err)
		os.Exit(1)
	}
	defer rdb.Close()

	reg := registry.New(nessusFactory, log)
	if err := reg.Load(cfg.RegistryPools()); err != nil {
		log.Error("failed to load scanner pools: %v", err)
		os.Exit(1)
	}

	q := queue.New(rdb)
	idem := idempotency.New(rdb).WithTTL(cfg.IdempotentTTL)

	store := taskstore.New(cfg.TaskDir)
	manager := taskstore.NewManager(store)

	pools := make([]string, 0, len(cfg.Pools))
	for _, p := range cfg.Pools {
		pools = append(pools, p.Name)
	}

	w := worker.New(worker.Config{
		Pools:              pools,
		MaxConcurrentScans: cfg.Worker.MaxConcurrentScans,
		PollInterval:       cfg.Worker.PollInterval,
		ScanTimeout:        cfg.Worker.ScanTimeout,
		StatusPollInterval: cfg.Worker.StatusPollInterval,
		MaxBackoffRetries:  cfg.Worker.MaxBackoffRetries,
	}, reg, q, manager, log)
	w.Start()
	defer w.Stop()

	hk := housekeeper.New(store, housekeeper.Retention{
		Completed: cfg.Retention.Completed,
		Failed:    cfg.Retention.Failed,
		Timeout:   cfg.Retention.Timeout,
	}, cfg.Retention.Interval, log)
	hk.Start()
	defer hk.Stop()

	watcher := nessorchconfig.NewWatcher(cmd, reg, log)
	if err := watcher.Start(); err != nil {
		log.Error("failed to start config watcher: %v", err)
	}

	api := orchestrator.New(reg, q, idem, manager)
	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(httpapi.NewScannerCollector(reg, q))
	metricsRegistry.MustRegister(prometheus.NewGoCollector())
	metricsRegistry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	router := httpapi.New(api, log, metricsRegistry)
	engine := router.Setup([]string{"*"})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("admin HTTP surface listening on %s", addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		if err := engine.Run(addr); err != nil {
			log.Error("admin server failed: %v", err)
			quit <- syscall.SIGTERM
		}
	}()

	for {
		sig := <-quit
		if sig == syscall.SIGHUP {
			log.Info("received SIGHUP, reloading configuration")
			watcher.ReloadNow()
			continue
		}
		break
	}

	log.Info("shutting down")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
