package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"oidcstore/infrastructure/config"
	"oidcstore/infrastructure/di"
)

// Provisions the shared table and enables TTL, then exits. Run once per
// environment; rerunning against an existing table is harmless.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	container, err := di.NewContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize container: %v", err)
	}
	logger := container.Logger
	defer logger.Sync()

	if err := container.Schema.EnsureTable(ctx); err != nil {
		logger.Fatal("table provisioning failed", zap.Error(err))
	}
	if err := container.Schema.EnsureTimeToLive(ctx); err != nil {
		logger.Fatal("ttl provisioning failed", zap.Error(err))
	}

	logger.Info("table ready",
		zap.String("table", cfg.TableName),
		zap.String("region", cfg.AWSRegion),
	)
}
