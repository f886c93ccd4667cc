package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/duel-arena/internal"
	"github.com/koopa0/system-design/duel-arena/internal/events"
	"github.com/koopa0/system-design/duel-arena/internal/leaderboard"
	"github.com/koopa0/system-design/duel-arena/internal/migrations"
	"github.com/koopa0/system-design/duel-arena/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "duel-arena: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output, false)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(log)

	ctx := context.Background()

	// 資料庫遷移
	migrator, err := migrations.New(cfg.PostgresURL(), log)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		return fmt.Errorf("run migrations: %w", err)
	}
	if err := migrator.Close(); err != nil {
		log.Warn("failed to close migrator", "error", err)
	}

	// 連接 PostgreSQL
	pgConfig, err := pgxpool.ParseConfig(cfg.PostgresURL())
	if err != nil {
		return fmt.Errorf("parse postgres config: %w", err)
	}
	pgConfig.MaxConns = cfg.Postgres.MaxConns
	pgConfig.MinConns = cfg.Postgres.MinConns

	pgPool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pgPool.Close()

	// Redis 只做排行榜快取，連不上時直接查資料庫
	var cache *leaderboard.Cache
	if redisClient, err := newRedisClient(ctx, cfg); err != nil {
		log.Warn("redis unavailable, leaderboard cache disabled", "error", err)
	} else {
		defer redisClient.Close()
		cache = leaderboard.NewCache(redisClient, cfg.Redis.CacheTTL)
	}

	board := leaderboard.NewService(leaderboard.NewStore(pgPool), cache, log)

	// 事件發布
	var publisher internal.EventPublisher = internal.NopPublisher{}
	if cfg.NATS.Enabled {
		natsPublisher, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			log.Warn("nats unavailable, events disabled", "error", err)
		} else {
			defer func() {
				if err := natsPublisher.Close(); err != nil {
					log.Warn("failed to close nats", "error", err)
				}
			}()
			publisher = natsPublisher
		}
	}

	// 遊戲核心
	registry := internal.NewRegistry(log)
	sessions := internal.NewSessionTable()
	matchmaker := internal.NewMatchmaker(registry, sessions, publisher, cfg.Game.QueueCapacity, log)
	relay := internal.NewRelay(registry, sessions, matchmaker, board, publisher, internal.RelayConfig{
		MaxScoreDelta: cfg.Game.MaxScoreDelta,
		SaveTimeout:   cfg.Game.SaveTimeout,
	}, log)
	hub := internal.NewHub(registry, matchmaker, relay, internal.HubConfig{
		SendBuffer: cfg.Game.SendBuffer,
		PongWait:   cfg.Game.PongWait,
		PingPeriod: cfg.Game.PingPeriod,
		WriteWait:  cfg.Game.WriteWait,
		MaxMessage: cfg.Game.MaxMessage,
	}, log)
	handler := internal.NewHandler(hub, registry, sessions, matchmaker, board, log)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting server", "port", cfg.Server.Port)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			matchmaker.Stop()
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// 先停止接受新請求，再關閉已升級的 WebSocket 連線
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("failed to shutdown server", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("failed to force close server", "error", closeErr)
			}
		}
		if err := hub.Stop(ctx); err != nil {
			log.Error("failed to stop websocket hub", "error", err)
		}
		matchmaker.Stop()

		// 斷線結算產生的分數寫入要在關閉資料庫前完成
		if err := relay.Wait(ctx); err != nil {
			log.Error("pending score saves not finished", "error", err)
		}
	}

	log.Info("server stopped")
	return nil
}

// newRedisClient 支援 redis:// URL 或 host:port
func newRedisClient(ctx context.Context, cfg *internal.Config) (*redis.Client, error) {
	var opts *redis.Options
	if rawURL, ok := cfg.RedisURL(); ok {
		parsed, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
	}
	opts.PoolSize = cfg.Redis.PoolSize

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
