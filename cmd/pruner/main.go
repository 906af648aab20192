package main

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"oidcstore/infrastructure/config"
	"oidcstore/infrastructure/di"
)

// container holds the dependency injection container, built once per cold
// start and reused across invocations.
var container *di.Container

func init() {
	start := time.Now()
	log.Println("pruner cold start initiated")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	container, err = di.NewContainer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to initialize container: %v", err)
	}

	log.Printf("pruner cold start completed in %v", time.Since(start))
}

// pruneResult is the event detail published after a completed pass.
type pruneResult struct {
	Threshold      time.Time `json:"threshold"`
	Authorizations int64     `json:"authorizations"`
	Tokens         int64     `json:"tokens"`
}

// Handler runs one prune pass over authorizations and tokens. The TTL
// sweep is the primary expiry mechanism; this pass mops up what the sweep
// cannot decide on its own, like ad-hoc authorizations without tokens.
func Handler(ctx context.Context, event events.CloudWatchEvent) error {
	logger := container.Logger
	threshold := time.Now().UTC().Add(-container.Config.PruneMaxAge)

	ctx, closeSegment := container.Tracer.StartSegment(ctx, "prune")
	defer closeSegment()
	container.Tracer.AddAnnotation(ctx, "threshold", threshold.Format(time.RFC3339))

	started := time.Now()
	var result pruneResult
	result.Threshold = threshold

	err := container.Tracer.Capture(ctx, "prune-authorizations", func(ctx context.Context) error {
		count, err := container.Authorizations.Prune(ctx, threshold)
		result.Authorizations = count
		return err
	})
	if err != nil {
		logger.Error("authorization prune failed", zap.Error(err))
		return err
	}

	err = container.Tracer.Capture(ctx, "prune-tokens", func(ctx context.Context) error {
		count, err := container.Tokens.Prune(ctx, threshold)
		result.Tokens = count
		return err
	})
	if err != nil {
		logger.Error("token prune failed", zap.Error(err))
		return err
	}

	if container.Config.EnableMetrics {
		if err := container.Metrics.RecordCount(ctx, "PrunedAuthorizations", result.Authorizations); err != nil {
			logger.Warn("failed to record metric", zap.Error(err))
		}
		if err := container.Metrics.RecordCount(ctx, "PrunedTokens", result.Tokens); err != nil {
			logger.Warn("failed to record metric", zap.Error(err))
		}
		if err := container.Metrics.RecordDuration(ctx, "PruneDuration", time.Since(started)); err != nil {
			logger.Warn("failed to record metric", zap.Error(err))
		}
	}

	if err := container.Events.Publish(ctx, "PruneCompleted", result); err != nil {
		logger.Warn("failed to publish prune event", zap.Error(err))
	}

	logger.Info("prune pass completed",
		zap.Time("threshold", threshold),
		zap.Int64("authorizations", result.Authorizations),
		zap.Int64("tokens", result.Tokens),
	)
	return nil
}

func main() {
	lambda.Start(Handler)
}
