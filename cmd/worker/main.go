package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"mailoreply.ai/platform/internal/config"
	"mailoreply.ai/platform/internal/events"
	"mailoreply.ai/platform/pkg/logger"
	"mailoreply.ai/platform/pkg/redis"
)

// The worker drains generation.recorded and folds each event into the
// telemetry counters the API's pressure monitor reads.
func main() {
	cfg := config.Load()
	log := logger.New()

	if cfg.Broker.URL == "" {
		log.Fatal("RABBITMQ_URL is not set")
	}

	rdb, err := redis.Connect(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal("Failed to connect to Redis", "error", err)
	}
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Worker starting", "queue", events.GenerationQueue)
	err = events.Consume(ctx, cfg.Broker.URL, events.CounterSink(rdb), log)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("Consumer stopped", "error", err)
	}
	log.Info("Worker stopped")
}
