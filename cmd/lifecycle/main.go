package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/queueline/queueline/internal/config"
	"github.com/queueline/queueline/internal/ledger"
	"github.com/queueline/queueline/internal/lifecycle"
	"github.com/queueline/queueline/internal/logging"
	"github.com/queueline/queueline/internal/observability"
	"github.com/queueline/queueline/internal/queue"
	"github.com/queueline/queueline/internal/store"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	observability.RegisterMetrics()

	shutdownTracing, err := observability.InitTracing(context.Background(), observability.OTelConfig{
		ServiceName: firstNonEmpty(cfg.OTELServiceName, "queueline-lifecycle"),
		Endpoint:    cfg.OTELExporterOTLPEndpoint,
		Env:         cfg.Env,
	})
	if err != nil {
		logger.Fatal("otel init failed", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.EventsMetricsPort)
		logger.Info("lifecycle metrics server starting", zap.String("addr", addr))
		_ = http.ListenAndServe(addr, mux)
	}()

	st, err := store.New(context.Background(), cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer st.Close()

	led := ledger.New(st.Client())

	q, err := queue.New(context.Background(), queue.Config{
		NATSURL:      cfg.NATSURL,
		StreamName:   cfg.NATSStreamName,
		ConsumerName: cfg.NATSEventsConsumerName,
		AckWait:      30 * time.Second,
		MaxDeliver:   5,
	})
	if err != nil {
		logger.Fatal("nats connection failed", zap.Error(err))
	}
	defer q.Close()

	consumer := lifecycle.NewConsumer(logger, st, led, q, lifecycle.ConsumerConfig{
		StreamName:   cfg.NATSStreamName,
		ConsumerName: cfg.NATSEventsConsumerName,
		PollTimeout:  cfg.WorkerPollTimeout,
		BackoffBase:  cfg.EventsBackoffBase,
		BackoffMax:   cfg.EventsBackoffMax,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		logger.Info("shutdown signal received")
		cancel()
	}()

	// Pending-depth gauge refresher.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if depth, err := led.Len(ctx); err == nil {
					observability.QueuePendingDepth.Set(float64(depth))
				}
			}
		}
	}()

	if err := consumer.Run(ctx); err != nil {
		logger.Fatal("lifecycle consumer failed", zap.Error(err))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
