package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/ec-order-engine/internal/api"
	"github.com/example/ec-order-engine/internal/auth"
	"github.com/example/ec-order-engine/internal/config"
	"github.com/example/ec-order-engine/internal/domain/inventory"
	"github.com/example/ec-order-engine/internal/domain/order"
	"github.com/example/ec-order-engine/internal/infrastructure/kafka"
	"github.com/example/ec-order-engine/internal/infrastructure/redisx"
	"github.com/example/ec-order-engine/internal/infrastructure/store"
	"github.com/example/ec-order-engine/internal/logging"
	"github.com/example/ec-order-engine/internal/metrics"
	"github.com/example/ec-order-engine/internal/payment"
	"github.com/example/ec-order-engine/internal/service"
)

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

	logger, err := logging.New(cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	st, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer closeStore()
	logger.Info("store ready", zap.String("backend", cfg.StoreBackend))

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	statusCache := redisx.New(cfg.RedisAddr)
	defer statusCache.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	svc := service.NewOrderService(service.Options{
		Orders:   st,
		Products: st,
		Ledger:   inventory.NewLedger(st, logger),
		Gateway: payment.NewHTTPGateway(cfg.PaymentBaseURL, cfg.PaymentKeyID,
			cfg.PaymentKeySecret, cfg.PaymentTimeout),
		Verifier: payment.NewVerifier(cfg.PaymentKeySecret),
		Producer: producer,
		Status:   statusCache,
		Metrics:  m,
		Logger:   logger,
		Pricing: order.Pricing{
			TaxRatePercent:    cfg.TaxRatePercent,
			ShippingFeeCents:  cfg.ShippingFeeCents,
			FreeShippingAbove: cfg.FreeShippingAbove,
		},
		Currency: cfg.Currency,
	})

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.AccessTokenExpiry)
	handlers := api.NewHandlers(svc, st, logger)
	authHandlers := api.NewAuthHandlers(st, tokens, logger)
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	router := api.NewRouter(handlers, authHandlers, tokens, metricsHandler, logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// buildStore selects the persistence backend from configuration.
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
