package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"github.com/example/ec-order-engine/internal/config"
	"github.com/example/ec-order-engine/internal/email"
	"github.com/example/ec-order-engine/internal/infrastructure/kafka"
	"github.com/example/ec-order-engine/internal/infrastructure/store"
	"github.com/example/ec-order-engine/internal/logging"
	"github.com/example/ec-order-engine/internal/notification"
)

const consumerGroup = "email-notifier"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New("order-notifier")
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	st, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer closeStore()

	emailSvc := email.NewService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom)
	handler := notification.NewHandler(emailSvc, st, logger)

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, consumerGroup, logger)
	defer consumer.Close()

	go func() {
		logger.Info("consumer started",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic),
			zap.String("group", consumerGroup))
		if err := consumer.Consume(ctx, handler.HandleEvent); err != nil && ctx.Err() == nil {
			logger.Error("consumer stopped", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("shutting down", zap.String("signal", sig.String()))
	cancel()
	return nil
}

func buildStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case "postgres":
		db, err := store.ConnectPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store.NewPostgresStore(db), func() { db.Close() }, nil
	case "dynamo":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.DynamoRegion))
		if err != nil {
			return nil, nil, err
		}
		client := dynamodb.NewFromConfig(awsCfg)
		return store.NewDynamoStore(client, cfg.ProductsTable, cfg.OrdersTable, cfg.UsersTable),
			func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
