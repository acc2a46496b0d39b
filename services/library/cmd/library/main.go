package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"libraryhub/internal/ratelimit"
	"libraryhub/internal/util"
	"libraryhub/pkg/events"
	"libraryhub/pkg/storage"
	"libraryhub/pkg/store"
	"libraryhub/services/library/internal/app"
	"libraryhub/services/library/internal/config"
	"libraryhub/services/library/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	statsTTL, err := config.ParseStatsCacheTTL(cfg.StatsCacheTTL)
	if err != nil {
		log.Fatalf("failed to parse stats cache TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel, cfg.LogFormat)

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer db.Close()

	var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
	if cfg.RedisAddr != "" {
		revoker = store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword, sessionTTL)
	} else {
		slog.Warn("redis not configured; session revocation is local to this instance")
	}
	sessions, err := store.NewJWTSessionStore(cfg.JWTSecret, sessionTTL, revoker)
	if err != nil {
		log.Fatalf("failed to init sessions: %v", err)
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:       cfg.MinioEndpoint,
			PublicEndpoint: cfg.MinioPublicEndpoint,
			AccessKey:      cfg.MinioAccessKey,
			SecretKey:      cfg.MinioSecretKey,
			Bucket:         cfg.MinioBucket,
			UseSSL:         cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
		objects = minioStore
	}

	publisher, err := newPublisher(cfg)
	if err != nil {
		log.Fatalf("failed to init event publisher: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:              db,
		Sessions:           sessions,
		Objects:            objects,
		Publisher:          publisher,
		DefaultLoanDays:    cfg.DefaultLoanDays,
		DefaultRenewDays:   cfg.DefaultRenewDays,
		MaxRenewals:        cfg.MaxRenewals,
		FineDailyRateCents: cfg.FineDailyRateCents,
		StatsCacheTTL:      statsTTL,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer appCore.Close()

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	srvCfg := server.Config{
		App:                        appCore,
		AllowUserIDHeader:          cfg.AllowUserIDHeader,
		CORSOrigins:                cfg.CORSAllowedOrigins,
		TrustedProxies:             trusted,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		RegisterRateLimitPerMinute: cfg.RegisterRateLimitPerMinute,
		Ready: func(ctx context.Context) error {
			sqlDB, err := db.DB().DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if cfg.RedisAddr != "" {
		srvCfg.LoginLimiter, err = ratelimit.NewRedisFixedWindow(cfg.RedisAddr, cfg.RedisPassword,
			"library:ratelimit:login", cfg.LoginRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init login limiter: %v", err)
		}
		srvCfg.RegisterLimiter, err = ratelimit.NewRedisFixedWindow(cfg.RedisAddr, cfg.RedisPassword,
			"library:ratelimit:register", cfg.RegisterRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init register limiter: %v", err)
		}
	}
	if cfg.AllowUserIDHeader {
		slog.Warn("X-User-Id header authentication is enabled; only use behind a trusted gateway")
	}
	httpServer, err := server.New(srvCfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		slog.Info("server listening", "addr", addr, "events", cfg.EventsBackend, "covers", objects != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "err", err)
	}
	slog.Info("server stopped")
}

func newPublisher(cfg config.FileConfig) (events.Publisher, error) {
	switch cfg.EventsBackend {
	case config.EventsAMQP:
		return events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	case config.EventsRedis:
		return events.NewRedisStream(events.RedisStreamConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.EventsStream,
		})
	default:
		return events.NopPublisher{}, nil
	}
}
