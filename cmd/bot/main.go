package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmailbot/backend/internal/bot"
	"tempmailbot/backend/internal/config"
	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/extract"
	"tempmailbot/backend/internal/health"
	"tempmailbot/backend/internal/logger"
	"tempmailbot/backend/internal/mailtm"
	"tempmailbot/backend/internal/monitoring"
	"tempmailbot/backend/internal/pool"
	"tempmailbot/backend/internal/service"
	"tempmailbot/backend/internal/storage/memory"
	"tempmailbot/backend/internal/storage/redis"
	storagesql "tempmailbot/backend/internal/storage/sql"
	"tempmailbot/backend/internal/telegram"
	httptransport "tempmailbot/backend/internal/transport/http"
)

// main 启动邮箱看守循环与 webhook HTTP 服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.LogFile,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting tempmail bot",
		zap.String("log_level", cfg.Log.Level),
		zap.Duration("poll_interval", cfg.Watcher.PollInterval),
		zap.Duration("mailbox_ttl", cfg.Watcher.MailboxTTL),
	)

	// 初始化存储层
	var store domain.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		sqlStore, err := storagesql.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			log.Fatal("failed to initialize database storage", zap.Error(err))
		}
		defer sqlStore.Close()
		store = sqlStore
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}

	// Redis 已读缓存（可选）
	var cache *redis.Cache
	if cfg.Redis.Enabled {
		cache, err = redis.NewCache(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("redis unavailable, continuing without seen cache", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
			log.Info("redis seen cache enabled", zap.String("address", cfg.Redis.Address))
		}
	}

	// 监控与健康检查
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(store, cache, log)

	// 外部客户端
	mailClient := mailtm.NewClient(cfg.MailTM, log)
	tgClient := telegram.NewClient(cfg.Telegram, log)

	healthChecker.AddProviderCheck("mailtm", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := mailClient.GetDomains(ctx)
		return err
	})

	// 业务服务
	seenTTL := 2 * cfg.Watcher.MailboxTTL
	tracker := service.NewTracker(store, cache, seenTTL, log)
	extractRules := extract.DefaultRules()
	if cfg.Watcher.MaxLinks > 0 {
		extractRules.MaxLinks = cfg.Watcher.MaxLinks
	}
	extractor := extract.NewExtractor(extractRules)
	poller := service.NewPoller(mailClient, tracker, extractor, cfg.Watcher.MailboxTTL, metrics, log)
	dispatcher := service.NewDispatcher(tgClient, store, cfg.Telegram.SendRate, cfg.Watcher.DeliveryRetries, metrics, log)
	workerPool := pool.NewWorkerPool(cfg.Watcher.MaxPollWorkers, 4*cfg.Watcher.MaxPollWorkers, log)
	watcher := service.NewWatcher(store, poller, dispatcher, workerPool, cfg.Watcher.PollInterval, metrics, log)
	sessions := service.NewSessionService(mailClient, store, cache, cfg.Watcher.MailboxTTL, metrics, log)

	// 命令层与 HTTP 服务
	limiter := bot.NewLimiter()
	botHandler := bot.NewHandler(sessions, watcher, tgClient, limiter, log)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		BotHandler:    botHandler,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Store:         store,
		Logger:        log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 注册 webhook（配置了公网地址时）
	if cfg.Telegram.WebhookURL != "" {
		registerCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		webhookURL := cfg.Telegram.WebhookURL + "/webhook"
		if err := tgClient.SetWebhook(registerCtx, webhookURL, cfg.Telegram.WebhookSecret); err != nil {
			log.Fatal("failed to register webhook", zap.Error(err))
		}
		log.Info("webhook registered", zap.String("url", webhookURL))
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 邮箱看守 goroutine：watcherDone 用于协调关停顺序
	watcherDone := make(chan struct{})
	group.Go(func() error {
		watcher.Run(groupCtx)
		close(watcherDone)
		return nil
	})

	// 定时清理下线邮箱 goroutine
	group.Go(func() error {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-24 * time.Hour)
				count, err := store.PurgeRetiredBefore(cutoff)
				if err != nil {
					log.Error("failed to purge retired mailboxes", zap.Error(err))
				} else if count > 0 {
					log.Info("retired mailboxes purged", zap.Int("count", count))
				}
				limiter.Prune()
			}
		}
	})

	// 优雅关闭 goroutine：先停 HTTP 入口，再等看守排空在途投递
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		select {
		case <-watcherDone:
		case <-time.After(2 * cfg.Watcher.PollInterval):
			log.Warn("watcher did not drain in time")
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("bot exited cleanly")
}
