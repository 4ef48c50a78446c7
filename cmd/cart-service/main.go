package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_cart/techstore-cart/internal/auth"
	"github.com/fjod/go_cart/techstore-cart/internal/catalog"
	"github.com/fjod/go_cart/techstore-cart/internal/config"
	h "github.com/fjod/go_cart/techstore-cart/internal/http"
	"github.com/fjod/go_cart/techstore-cart/internal/lock"
	"github.com/fjod/go_cart/techstore-cart/internal/poller"
	"github.com/fjod/go_cart/techstore-cart/internal/repository"
	s "github.com/fjod/go_cart/techstore-cart/internal/service"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx := context.Background()

	// Set up MongoDB connection
	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		fatal("failed to connect to MongoDB", err)
	}
	if err := repository.EnsureSchema(ctx, mongoDB); err != nil {
		fatal("failed to ensure carts schema", err)
	}
	logger.Info("connected to MongoDB", slog.String("db", cfg.MongoDBName))

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		fatal("redis connection failed", err)
	}
	logger.Info("redis ping succeeded")

	repo := repository.NewMongoRepository(mongoDB)
	products := catalog.NewMongoCatalog(mongoDB)
	locker := lock.NewRedisLocker(redisClient, cfg.MergeLockTTL)
	service := s.NewCartService(repo, products, locker, logger)

	cartHandler := h.NewCartHandler(service, cfg.RequestTimeout, logger)
	router := h.NewRouter(cartHandler, auth.NewVerifier(cfg.JWTSecret), cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		logger.Info("cart service starting", slog.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if len(cfg.KafkaBrokers) > 0 {
		orderPoller := poller.NewPoller(service, poller.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.OrderTopic,
			GroupID: cfg.KafkaGroupID,
		}, logger)
		g.Go(func() error {
			orderPoller.Run(gctx)
			orderPoller.Close()
			return nil
		})
		logger.Info("order poller started", slog.String("topic", cfg.OrderTopic))
	} else {
		logger.Warn("KAFKA_BROKERS not set, carts will not be cleared after orders")
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down cart service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server forced to shutdown", slog.String("error", err.Error()))
		}
		return nil
	})

	runErr := g.Wait()

	disconnectCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := mongoDB.Client().Disconnect(disconnectCtx); err != nil {
		logger.Error("mongo disconnect failed", slog.String("error", err.Error()))
	}
	if runErr != nil {
		fatal("server error", runErr)
	}

	logger.Info("cart service stopped")
}

func fatal(msg string, err error) {
	slog.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}
