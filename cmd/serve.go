package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mxngoc2104/thumbd/pkg/api"
	"github.com/mxngoc2104/thumbd/pkg/config"
	"github.com/mxngoc2104/thumbd/pkg/imagefilter"
	"github.com/mxngoc2104/thumbd/pkg/jobstore"
	"github.com/mxngoc2104/thumbd/pkg/logging"
	"github.com/mxngoc2104/thumbd/pkg/messaging"
	"github.com/mxngoc2104/thumbd/pkg/queue"
	"github.com/mxngoc2104/thumbd/pkg/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker pool",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func openStore(cfg config.Config, logger *slog.Logger) (jobstore.Store, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("job ledger in memory")
		return jobstore.NewInMemoryStore(), func() {}, nil
	}
	store, err := jobstore.NewRedisStore(cfg.RedisURL, cfg.JobTTL, "thumbd:jobs")
	if err != nil {
		return nil, nil, err
	}
	logger.Info("job ledger in redis")
	return store, func() { store.Close() }, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQ(), queue.DialAMQP, logger)
	if err != nil {
		logger.Error("cannot reach job source, not starting workers", "url", cfg.AMQP.URL, "err", err)
		return err
	}
	defer mq.Close()

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("job ledger: %w", err)
	}
	defer closeStore()

	sinks := []messaging.EventPublisher{store}
	if len(cfg.KafkaBrokers) > 0 {
		events := messaging.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer events.Close()
		sinks = append(sinks, events)
		logger.Info("publishing job events to kafka", "topic", cfg.KafkaTopic)
	}

	pool := worker.NewPool(cfg.Worker.Count, worker.Options{
		Source:    mq,
		Processor: imagefilter.NewProcessor(cfg.Filter()),
		Probe:     cfg.Probe(),
		Sinks:     sinks,
		Config:    cfg.WorkerLoop(),
		Logger:    logger,
	})

	if cfg.HTTPAddr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           api.NewServer(store, mq.Healthy, pool.States, logger).Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
	}

	logger.Info("ready",
		"workers", cfg.Worker.Count,
		"queue", cfg.AMQP.Queue,
		"exchange", cfg.AMQP.Exchange,
		"routing_key", cfg.AMQP.RoutingKey,
		"accel_mode", cfg.Accel.Mode)

	err = pool.Run(ctx)
	logger.Info("shut down complete")
	return err
}
