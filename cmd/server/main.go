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

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/beacon-arena/internal/config"
	"github.com/koopa0/system-design/beacon-arena/internal/events"
	"github.com/koopa0/system-design/beacon-arena/internal/game"
	"github.com/koopa0/system-design/beacon-arena/internal/server"
	"github.com/koopa0/system-design/beacon-arena/internal/store"
	"github.com/koopa0/system-design/beacon-arena/internal/store/migrations"
	"github.com/koopa0/system-design/beacon-arena/pkg/logger"
)

// Beacon Arena 遊戲伺服器
//
// 啟動順序：
//  1. 設定與日誌
//  2. 選用的後端（Redis 排行榜、PostgreSQL 回合紀錄、NATS 事件）
//  3. 遊戲 Registry 與 lobby 回收排程
//  4. TCP 伺服器與管理 API（含 WebSocket）
//
// 關閉時先結束所有遊戲（送出 END），再關閉連線，
// 等回合結果寫完後才關閉後端連線。
func main() {
	var (
		configPath = flag.String("config", "config.yaml", "設定檔路徑")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json, console)")
		addr       = flag.String("addr", "", "TCP 監聽位址，覆蓋設定檔")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	log, closeLog, err := logger.New(logger.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    cfg.Log.Output,
		AddSource: cfg.Log.AddSource,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	err = run(cfg, log)
	if err != nil {
		log.Error("server exited", "error", err)
	}
	_ = closeLog()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx := context.Background()

	var (
		sinks       []store.ResultSink
		eventSinks  game.MultiSink
		adminOpts   []server.AdminOption
		redisClient *redis.Client
		pgPool      *pgxpool.Pool
	)

	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		board := store.NewRedisLeaderboard(redisClient, cfg.Redis.KeyPrefix, cfg.Redis.SummaryTTL)
		sinks = append(sinks, board)
		adminOpts = append(adminOpts, server.WithLeaderboard(board))
		log.Info("redis leaderboard enabled", "addr", cfg.Redis.Addr)
	}

	if cfg.Postgres.Enabled {
		dsn := cfg.PostgresDSN()
		if err := migrations.Apply(dsn, log); err != nil {
			return err
		}

		pgConfig, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return fmt.Errorf("parse postgres config: %w", err)
		}
		pgConfig.MaxConns = cfg.Postgres.MaxConns
		pgConfig.MinConns = cfg.Postgres.MinConns

		pgPool, err = pgxpool.NewWithConfig(ctx, pgConfig)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pgPool.Close()

		if err := pgPool.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		rounds := store.NewPostgresStore(pgPool)
		sinks = append(sinks, rounds)
		adminOpts = append(adminOpts, server.WithRoundHistory(rounds))
		log.Info("postgres round history enabled", "host", cfg.Postgres.Host)
	}

	if cfg.NATS.Enabled {
		nc, err := events.Connect(cfg.NATS.URL, log)
		if err != nil {
			return err
		}
		defer nc.Close()
		eventSinks = append(eventSinks, events.NewPublisher(nc, cfg.NATS.SubjectPrefix, log))
		log.Info("nats events enabled", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	}

	var recorder *store.Recorder
	if len(sinks) > 0 {
		recorder = store.NewRecorder(store.RecorderConfig{}, log, sinks...)
		eventSinks = append(eventSinks, recorder)
	}

	sched := game.NewTickerScheduler()
	registry, err := game.NewRegistry(game.RegistryConfig{
		NodeID:         1,
		Defaults:       defaultSettings(cfg),
		Beacons:        cfg.Game.Beacons,
		MaxRoundLength: time.Duration(cfg.Game.MaxRoundMinutes) * time.Minute,
		LobbyTTL:       cfg.Game.LobbyTTL,
	}, sched, eventSinks, log)
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}
	if cfg.Game.LobbyTTL > 0 {
		if err := registry.StartReaper(cfg.Game.ReapSchedule); err != nil {
			return err
		}
	}

	dispatcher := server.NewDispatcher(registry, nil, log)
	tcpCfg := server.TCPConfig{
		Addr:          cfg.Server.Addr,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		MaxFrameBytes: cfg.Server.MaxFrameBytes,
		SendBuffer:    cfg.Server.SendBuffer,
	}
	tcp := server.NewTCPServer(tcpCfg, dispatcher, log)
	// 位址被佔用直接結束
	if err := tcp.Listen(); err != nil {
		return err
	}

	serverErrors := make(chan error, 2)
	go func() {
		serverErrors <- tcp.Serve()
	}()

	var (
		adminSrv *http.Server
		ws       *server.WSGateway
	)
	if cfg.Admin.Enabled {
		gin.SetMode(gin.ReleaseMode)
		ws = server.NewWSGateway(tcpCfg, dispatcher, log)
		adminOpts = append(adminOpts,
			server.WithWebSocket(ws),
			server.WithConnections(tcp.Connections),
		)
		adminSrv = &http.Server{
			Addr:              cfg.Admin.Addr,
			Handler:           server.NewAdminHandler(registry, log, adminOpts...).Routes(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		go func() {
			log.Info("admin api listening", "addr", cfg.Admin.Addr)
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrors <- fmt.Errorf("admin server: %w", err)
			}
		}()
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case err := <-serverErrors:
		runErr = err
	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 先結束遊戲，END 會排進各連線的佇列，關閉連線前會送出
	registry.Stop()

	if adminSrv != nil {
		if err := adminSrv.Shutdown(ctx); err != nil {
			log.Error("failed to shutdown admin server", "error", err)
		}
		if err := ws.Shutdown(ctx); err != nil {
			log.Error("failed to close websocket connections", "error", err)
		}
	}
	if err := tcp.Shutdown(ctx); err != nil {
		log.Error("failed to shutdown tcp server", "error", err)
	}
	sched.Wait()

	if recorder != nil {
		recorder.Close()
	}

	log.Info("server stopped")
	return runErr
}

func defaultSettings(cfg *config.Config) game.Settings {
	return game.Settings{
		CaptureTime:       cfg.Game.CaptureTime,
		AfterCaptureDelay: cfg.Game.AfterCaptureDelay,
		GameTime:          cfg.Game.GameTime,
		VictoryPoints:     cfg.Game.VictoryPoints,
		PointsPerTick:     cfg.Game.PointsPerTick,
		TickPeriod:        cfg.Game.TickPeriod,
		MaxPlayers:        cfg.Game.MaxPlayers,
	}
}
