package main

import (
	"context"
	"errors"
	"os"
	"time"

	"alma/internal/amqp"
	"alma/internal/cli"
	"alma/internal/config"
	"alma/internal/log"
	"alma/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting alert-worker")

	cfg := cli.LoadConfig(logger, (*config.Config).ValidateWorker)

	// run returns instead of exiting so the database is closed on every path.
	if err := run(cfg, logger); err != nil {
		logger.Error("Alert worker failed", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Alert worker stopped")
}

func run(cfg *config.Config, logger *log.Logger) error {
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	processor, err := services.NewAlertProcessor(repo, cfg.LargePaymentThreshold, cfg.LargePaymentCurrency, logger)
	if err != nil {
		return err
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		return err
	}

	consumed := make(chan struct{})
	closeClient := func() {
		if err := amqpClient.Close(); err != nil {
			logger.Warn("AMQP close error", log.FieldError, err)
		}
	}
	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		// Let the in-flight delivery finish before closing the connection.
		select {
		case <-consumed:
		case <-ctx.Done():
		}
		closeClient()
	})

	logger.Info("Consuming transfer events",
		"exchange", cfg.AMQPExchange,
		"queue", cfg.AMQPQueue,
		"threshold", cfg.LargePaymentThreshold.StringFixed(2),
		log.FieldCurrency, cfg.LargePaymentCurrency)
	consumeErr := consume(ctx, consumed, func(ctx context.Context) error {
		return amqpClient.ConsumeTransferEvents(ctx, processor.Handle)
	})

	if err := awaitConsumer(ctx, done, consumeErr); err != nil {
		closeClient()
		return err
	}
	return nil
}

// consume runs fn until ctx ends and closes consumed when it returns. Any
// other return is reported on the channel.
func consume(ctx context.Context, consumed chan<- struct{}, fn func(context.Context) error) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(consumed)
		err := fn(ctx)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		if err == nil {
			err = errors.New("transfer event consumer stopped")
		}
		errCh <- err
	}()
	return errCh
}

// awaitConsumer blocks until shutdown completes or the consumer fails.
func awaitConsumer(ctx context.Context, done <-chan struct{}, consumeErr <-chan error) error {
	select {
	case err := <-consumeErr:
		return err
	case <-ctx.Done():
		cli.WaitForShutdown(ctx, done)
		return nil
	}
}
