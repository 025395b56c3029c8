package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"example.com/star/internal/access"
	"example.com/star/internal/api"
	"example.com/star/internal/auth"
	"example.com/star/internal/chat"
	"example.com/star/internal/config"
	"example.com/star/internal/outbox"
	"example.com/star/internal/persistence/postgres"
	httptransport "example.com/star/internal/transport/http"
)

func main() {
	cfg := config.Load()
	logger := cfg.NewLogger(os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to postgres")
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		logger.WithError(err).Fatal("failed to apply schema")
	}

	repo := postgres.NewRepository(pool, logger)
	activities := access.NewActivities(repo, repo, access.WithLogger(logger))
	users := access.NewUsers(repo, logger)

	var dispatcher *outbox.Dispatcher
	if cfg.KafkaEnabled() {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()

		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize,
			outbox.WithDispatcherLogger(logger))
		go dispatcher.Start(ctx)
	}

	opts := []api.Option{api.WithHistory(repo), api.WithLogger(logger)}
	if cfg.ChatAPIKey != "" {
		model, err := chat.NewGemini(chat.GeminiConfig{
			Endpoint: cfg.ChatEndpoint,
			Model:    cfg.ChatModel,
			APIKey:   cfg.ChatAPIKey,
		}, logger)
		if err != nil {
			logger.WithError(err).Fatal("invalid chat configuration")
		}
		opts = append(opts, api.WithChatModel(model))
	} else {
		logger.Info("CHAT_API_KEY not set; chat assistant disabled")
	}

	handler := api.NewHandler(activities, users, opts...)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, auth.SkipPublic)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, httptransport.Chain(mux,
		httptransport.RequestLogger(logger),
		httptransport.CORS("http://localhost:5173"),
		authMiddleware.Wrap,
	))

	logger.WithFields(logrus.Fields{"address": cfg.HTTPAddress, "kafka": cfg.KafkaEnabled()}).Info("star api starting")
	if err := httptransport.Serve(ctx, server, 15*time.Second, logger); err != nil {
		logger.WithError(err).Error("server error")
	}
	cancel()

	if dispatcher != nil {
		dispatcher.Wait()
	}
}
