package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/eduballesteros/terra-nostra/internal/cache"
	"github.com/eduballesteros/terra-nostra/internal/config"
	"github.com/eduballesteros/terra-nostra/internal/gateway"
	httpapi "github.com/eduballesteros/terra-nostra/internal/http"
	"github.com/eduballesteros/terra-nostra/internal/notify"
	"github.com/eduballesteros/terra-nostra/internal/publisher"
	"github.com/eduballesteros/terra-nostra/internal/repository"
	"github.com/eduballesteros/terra-nostra/internal/service"
	"github.com/eduballesteros/terra-nostra/internal/token"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load configuration failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres holds products, users, checkout sessions, orders and the outbox.
	creds := &repository.Credentials{
		Host:              cfg.PostgresHost,
		Port:              cfg.PostgresPort,
		User:              cfg.PostgresUser,
		Password:          cfg.PostgresPass,
		DBName:            cfg.PostgresDB,
		MigrationsDirPath: cfg.MigrationsPath,
	}
	repo, err := repository.NewRepository(creds)
	if err != nil {
		slog.Error("connect to postgres failed", "err", err)
		os.Exit(1)
	}
	defer repo.Close()

	if err := repo.RunMigrations(creds); err != nil {
		slog.Error("run migrations failed", "err", err)
		os.Exit(1)
	}
	slog.Info("database migrations completed")

	// Carts live in MongoDB.
	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		slog.Error("connect to mongodb failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := mongoDB.Client().Disconnect(context.Background()); err != nil {
			slog.Warn("mongodb disconnect failed", "err", err)
		}
	}()

	cartRepo, err := repository.NewMongoCartRepository(ctx, mongoDB)
	if err != nil {
		slog.Error("init cart repository failed", "err", err)
		os.Exit(1)
	}

	// Redis backs the cart cache and the single-use token stores.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.Error("connect to redis failed", "err", err)
		os.Exit(1)
	}

	paypal := gateway.NewPayPalGateway(gateway.PayPalConfig{
		BaseURL:      cfg.PayPalBaseURL,
		ClientID:     cfg.PayPalClientID,
		ClientSecret: cfg.PayPalClientSecret,
		ReturnURL:    cfg.PayPalReturnURL,
		CancelURL:    cfg.PayPalCancelURL,
		Timeout:      cfg.PayPalTimeout,
	})

	mailer := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		From:     cfg.SMTPFrom,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	})

	cartService := service.NewCartService(cartRepo, repo, cache.NewRedisCache(redisClient))
	checkoutService := service.NewCheckoutService(repo, repo, paypal, cartService, mailer)
	orderService := service.NewOrderService(repo)
	accountService := service.NewAccountService(
		repo,
		token.NewStore(redisClient, token.PurposeEmailVerify),
		token.NewStore(redisClient, token.PurposePasswordReset),
		mailer,
		service.NewBcryptHasher(),
		service.AccountConfig{
			JWTSecret:  []byte(cfg.JWTSecret),
			JWTTTL:     cfg.JWTTTL,
			AppBaseURL: cfg.AppBaseURL,
			VerifyTTL:  cfg.VerifyTokenTTL,
			ResetTTL:   cfg.ResetTokenTTL,
		},
	)

	poller := publisher.NewOutboxPoller(repo, checkoutService, publisher.Config{
		EventTick:     cfg.OutboxEventTick,
		RecoveryTick:  cfg.OutboxRecoveryTick,
		PendingMaxAge: cfg.PendingMaxAge,
		StuckAfter:    cfg.StuckAfter,
	}, cfg.KafkaBrokers...)
	go poller.Run(ctx)

	router := httpapi.NewRouter(
		httpapi.RouterConfig{
			JWTSecret:      []byte(cfg.JWTSecret),
			RequestTimeout: cfg.RequestTimeout,
		},
		httpapi.NewAuthHandler(accountService, cfg.RequestTimeout),
		httpapi.NewCartHandler(cartService, cfg.RequestTimeout),
		httpapi.NewCheckoutHandler(checkoutService, cfg.RequestTimeout),
		httpapi.NewOrdersHandler(orderService, cfg.RequestTimeout),
	)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		slog.Info("http server starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "err", err)
	}

	slog.Info("server stopped")
}
