package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/tamrielwatch/ttcwatch/internal/config"
	"github.com/tamrielwatch/ttcwatch/internal/delivery/telegram"
	"github.com/tamrielwatch/ttcwatch/internal/infra/browser"
	"github.com/tamrielwatch/ttcwatch/internal/infra/cache"
	"github.com/tamrielwatch/ttcwatch/internal/infra/db"
	"github.com/tamrielwatch/ttcwatch/internal/infra/log"
	"github.com/tamrielwatch/ttcwatch/internal/infra/ttc"
	"github.com/tamrielwatch/ttcwatch/internal/usecase"
	"go.uber.org/zap"
)

type App struct {
	bot       *telegram.Bot
	monitor   *usecase.Monitor
	logger    *zap.Logger
	cleanupFn func() error
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := log.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	dbConn, err := db.Open(cfg, logger)
	if err != nil {
		return nil, err
	}

	userRepo := db.NewUserRepository(dbConn)
	alarmRepo := db.NewAlarmRepository(dbConn)

	solver := browser.NewSolver(cfg.DevtoolsURL, logger)
	index := ttc.LoadItemIndex(
		filepath.Join(cfg.CacheDir, fmt.Sprintf("ttc_item_index_%s.json", cfg.TTCRegion)), logger)

	clientOpts := ttc.Options{
		BaseURL:          regionBaseURL(cfg.TTCRegion),
		Timeout:          cfg.TTCTimeout,
		ChallengeTimeout: cfg.ChallengeTimeout,
		SessionPath:      filepath.Join(cfg.CacheDir, "ttc_session.json"),
		Index:            index,
		Solver:           solver,
		Logger:           logger,
	}

	var listingCache *cache.ListingCache
	if cfg.RedisAddr != "" {
		listingCache = cache.NewListingCache(cfg.RedisAddr, cfg.ListingCacheTTL, logger)
		clientOpts.Cache = listingCache
	}

	market, err := ttc.NewClient(clientOpts)
	if err != nil {
		return nil, err
	}

	api, err := telegram.NewAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, err
	}

	notifier := telegram.NewNotifier(api, logger)
	userUC := usecase.NewUserUsecase(userRepo)
	alarmUC := usecase.NewAlarmUsecase(userRepo, alarmRepo)
	monitor := usecase.NewMonitor(userRepo, alarmRepo, market, notifier, usecase.MonitorConfig{
		Interval:  cfg.CheckInterval,
		Cooldown:  cfg.AlertCooldown,
		FailLimit: cfg.MonitorFailLimit,
		Workers:   cfg.MonitorWorkers,
	}, logger)

	handlers := telegram.NewHandlers(userUC, alarmUC, monitor, logger)
	bot := telegram.NewBot(api, handlers, cfg.TelegramPollTimeout)

	cleanup := func() error {
		if listingCache != nil {
			if err := listingCache.Close(); err != nil {
				logger.Warn("failed to close listing cache", zap.Error(err))
			}
		}
		sqlDB, err := dbConn.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}

	return &App{bot: bot, monitor: monitor, logger: logger, cleanupFn: cleanup}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.logger.Info("ttcwatch service starting")

	go func() {
		if err := a.monitor.Run(ctx); err != nil {
			a.logger.Error("monitor stopped", zap.Error(err))
		}
	}()

	a.logger.Info("ttcwatch service started")
	return a.bot.Start(ctx)
}

func (a *App) Shutdown() {
	a.logger.Info("ttcwatch service shutting down")
	if a.cleanupFn != nil {
		if err := a.cleanupFn(); err != nil {
			a.logger.Warn("failed to close database", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func regionBaseURL(region string) string {
	return fmt.Sprintf("https://%s.tamrieltradecentre.com", region)
}
