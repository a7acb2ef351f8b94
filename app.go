package main

import (
	"context"
	"fmt"
	"time"

	"trading-alerts/api/config"
	"trading-alerts/api/jobs"
	"trading-alerts/api/logger"
	"trading-alerts/api/models"
	"trading-alerts/api/mongodb"
	"trading-alerts/api/notify"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app holds the collaborators shared by the server and the jobs CLI.
type app struct {
	cfg        *config.Config
	store      *mongodb.Store
	smtp       *notify.SMTPSender
	redis      *redis.Client
	dispatcher *notify.Dispatcher
	notifier   *notify.Notifier
	templates  notify.Templates
	runner     *jobs.Runner
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Options{
		Development: cfg.Development(),
		Level:       logger.LogLevel(cfg.LogLevel),
		File:        cfg.LogFile,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, templates: notify.Templates{FrontendURL: cfg.FrontendURL}}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	a.store, err = mongodb.Connect(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, err
	}
	if err := a.store.EnsureIndexes(connectCtx); err != nil {
		a.close(ctx)
		return nil, err
	}

	var email notify.EmailSender = notify.LogEmailSender{}
	if cfg.SMTPHost != "" {
		a.smtp, err = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		email = a.smtp
	} else {
		logger.Get().Warn("SMTP_HOST not set, emails are only logged")
	}

	var telegram notify.TelegramSender = notify.LogTelegramSender{}
	if cfg.TelegramBotToken != "" {
		bot, err := notify.NewTelegramBot(cfg.TelegramBotToken)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		telegram = bot
	} else {
		logger.Get().Warn("TELEGRAM_BOT_TOKEN not set, telegram messages are only logged")
	}

	a.dispatcher = notify.NewDispatcher(email, telegram, notify.DefaultRetry, 256)
	a.dispatcher.Start()
	channels := make(map[models.Service]int64, len(cfg.TelegramChannels))
	for svc, chatID := range cfg.TelegramChannels {
		if chatID != 0 {
			channels[models.Service(svc)] = chatID
		}
	}
	a.notifier = notify.NewNotifier(a.dispatcher, a.templates, channels)

	var locker jobs.Locker = jobs.NewLocalLocker()
	if cfg.RedisURL != "" {
		a.redis, err = jobs.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		locker = jobs.NewRedisLocker(a.redis)
	}
	batch := notify.NewBatchSender(email, cfg.EmailBatchSize, cfg.EmailBatchDelay, notify.DefaultRetry)
	a.runner = jobs.NewRunner(a.store, batch, a.templates, locker,
		jobs.Settings{TrialReminderDays: cfg.TrialReminderDays}, time.Now)

	logger.Get().Info("application initialized",
		zap.String("env", cfg.AppEnv),
		zap.Bool("redis_lock", a.redis != nil),
		zap.Bool("smtp", a.smtp != nil))
	return a, nil
}

// close releases everything newApp opened, in reverse order.
func (a *app) close(ctx context.Context) {
	if a.dispatcher != nil {
		a.dispatcher.Stop()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Get().Warn("failed to close redis client", zap.Error(err))
		}
	}
	if a.smtp != nil {
		if err := a.smtp.Close(); err != nil {
			logger.Get().Warn("failed to close SMTP connection", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close(ctx)
	}
	_ = logger.Sync()
}
