package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gmsas95/pillpal/internal/adherence"
	"github.com/gmsas95/pillpal/internal/api"
	"github.com/gmsas95/pillpal/internal/channels/discord"
	"github.com/gmsas95/pillpal/internal/channels/telegram"
	"github.com/gmsas95/pillpal/internal/config"
	"github.com/gmsas95/pillpal/internal/cron"
	"github.com/gmsas95/pillpal/internal/ical"
	"github.com/gmsas95/pillpal/internal/intake"
	"github.com/gmsas95/pillpal/internal/interactions"
	"github.com/gmsas95/pillpal/internal/llm"
	"github.com/gmsas95/pillpal/internal/metrics"
	"github.com/gmsas95/pillpal/internal/notify"
	"github.com/gmsas95/pillpal/internal/reminder"
	"github.com/gmsas95/pillpal/internal/store"
	"go.uber.org/zap"
)

// App wires the core services for the server and the CLI commands
type App struct {
	Config     *config.Config
	ConfigPath string
	Store      *store.Store
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Version    string

	Location  *time.Location
	Notifier  *notify.LocalNotifier
	Scheduler *reminder.Scheduler
	Intake    *intake.Log
	Adherence *adherence.Aggregator
	Checker   *interactions.Checker
	Feed      *ical.Feed
	Hub       *api.Hub

	TelegramBot *telegram.Bot
	DiscordBot  *discord.Bot
	CronRunner  *cron.Runner

	built bool
}

func New(cfg *config.Config, st *store.Store, logger *zap.Logger, version string) *App {
	return &App{
		Config:  cfg,
		Store:   st,
		Logger:  logger,
		Metrics: metrics.Default(),
		Version: version,
	}
}

// Build constructs every core service. Channel bots are created but not
// started, so the notifier knows which channels can deliver.
func (app *App) Build() error {
	if app.built {
		return nil
	}

	loc, err := app.Config.Location()
	if err != nil {
		return fmt.Errorf("invalid reminders timezone: %w", err)
	}
	app.Location = loc

	senders := app.buildSenders()
	fanout := notify.NewFanout(app.Store, app.Metrics, app.Logger, senders...)

	app.Notifier = notify.NewLocalNotifier(notify.Config{
		DispatchInterval: time.Duration(app.Config.Reminders.DispatchInterval) * time.Second,
	}, fanout, app.Store, app.Metrics, app.Logger)
	if err := app.Notifier.Load(); err != nil {
		return fmt.Errorf("failed to restore pending reminders: %w", err)
	}

	app.Scheduler = reminder.NewScheduler(reminder.Config{
		HorizonDays: app.Config.Reminders.HorizonDays,
	}, app.Store, app.Store, app.Notifier, app.Metrics, app.Logger)

	app.Intake = intake.NewLog(intake.Config{
		DefaultSnooze: time.Duration(app.Config.Reminders.DefaultSnoozeMinutes) * time.Minute,
	}, app.Store, app.Scheduler, app.Metrics, app.Logger)

	app.Adherence = adherence.NewAggregator(app.Store)
	app.Feed = ical.NewFeed(app.Store, nil)

	var completer interactions.Completer
	if pm, err := llm.NewFromConfig(app.Config, app.Logger); err != nil {
		app.Logger.Warn("Interaction lookups disabled", zap.Error(err))
	} else {
		completer = pm
	}
	ic := app.Config.Interactions
	app.Checker = interactions.NewChecker(interactions.Config{
		RequestsPerMinute:  ic.RequestsPerMinute,
		BreakerMaxFailures: ic.BreakerMaxFailures,
		BreakerOpenSeconds: ic.BreakerOpenSeconds,
		MaxFoodItemLength:  ic.MaxFoodItemLength,
	}, completer, app.Store, app.Metrics, app.Logger)

	app.built = true
	return nil
}

func (app *App) buildSenders() []notify.Sender {
	var senders []notify.Sender

	if app.Config.Channels.Telegram.Enabled {
		bot, err := telegram.NewBot(telegram.Config{
			Token:   app.Config.Channels.Telegram.BotToken,
			Enabled: true,
		}, app.Logger)
		if err != nil {
			app.Logger.Error("Failed to create Telegram bot", zap.Error(err))
		} else if bot.Enabled() {
			app.TelegramBot = bot
			senders = append(senders, bot)
		}
	}

	if app.Config.Channels.Discord.Enabled && app.Config.Channels.Discord.Token != "" {
		bot, err := discord.NewBot(discord.Config{
			Token:   app.Config.Channels.Discord.Token,
			Enabled: true,
		}, app.Logger)
		if err != nil {
			app.Logger.Error("Failed to create Discord bot", zap.Error(err))
		} else {
			app.DiscordBot = bot
			senders = append(senders, bot)
		}
	}

	if app.Config.Channels.WebSocket.Enabled {
		app.Hub = api.NewHub(app.Metrics, app.Logger)
		senders = append(senders, app.Hub)
	}

	if len(senders) == 0 {
		app.Logger.Warn("No delivery channel configured, local reminders are disabled")
	}
	return senders
}

// RunServer serves the API until SIGINT or SIGTERM
func (app *App) RunServer() error {
	if err := app.Build(); err != nil {
		return err
	}

	if app.TelegramBot != nil {
		if err := app.TelegramBot.Start(); err != nil {
			app.Logger.Error("Failed to start Telegram bot", zap.Error(err))
		} else {
			app.Logger.Info("Telegram bot started")
		}
	}
	if app.DiscordBot != nil {
		if err := app.DiscordBot.Start(); err != nil {
			app.Logger.Error("Failed to start Discord bot", zap.Error(err))
		} else {
			app.Logger.Info("Discord bot started")
		}
	}

	if err := app.Notifier.Start(); err != nil {
		return fmt.Errorf("failed to start notifier: %w", err)
	}

	runner, err := cron.NewRunner(cron.Config{
		ReconcileSpec: app.Config.Reminders.ReconcileSpec,
		ResyncSpec:    app.Config.Reminders.ResyncSpec,
		Location:      app.Location,
	}, app.Intake, app.Scheduler, app.Store, app.Logger)
	if err != nil {
		return err
	}
	app.CronRunner = runner
	if err := app.CronRunner.Start(); err != nil {
		app.Logger.Error("Failed to start cron runner", zap.Error(err))
	}

	if app.ConfigPath != "" {
		err := config.Watch(app.ConfigPath, app.Logger, func(cfg *config.Config) {
			app.Scheduler.SetHorizon(cfg.Reminders.HorizonDays)
		})
		if err != nil {
			app.Logger.Warn("Config hot reload disabled", zap.Error(err))
		}
	}

	server := api.New(app.Config, api.Deps{
		Store:     app.Store,
		Scheduler: app.Scheduler,
		Intake:    app.Intake,
		Adherence: app.Adherence,
		Checker:   app.Checker,
		Feed:      app.Feed,
		Hub:       app.Hub,
		Metrics:   app.Metrics,
	}, app.Logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	app.Logger.Info("Server started",
		zap.String("address", app.Config.Server.Address),
		zap.Int("port", app.Config.Server.Port),
		zap.String("version", app.Version),
		zap.String("timezone", app.Location.String()),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-quit:
	case serveErr = <-errCh:
		app.Logger.Error("Server error", zap.Error(serveErr))
	}

	app.Logger.Info("Shutting down...")

	if err := server.Shutdown(); err != nil {
		app.Logger.Error("Server shutdown error", zap.Error(err))
	}
	app.CronRunner.Stop()
	app.Notifier.Stop()

	if app.TelegramBot != nil {
		app.TelegramBot.Stop()
	}
	if app.DiscordBot != nil {
		if err := app.DiscordBot.Stop(); err != nil {
			app.Logger.Warn("Discord shutdown error", zap.Error(err))
		}
	}

	return serveErr
}

// ReconcileOnce runs one snooze reconciliation pass for every patient
func (app *App) ReconcileOnce(ctx context.Context) (int, error) {
	if err := app.Build(); err != nil {
		return 0, err
	}
	return app.Intake.ReconcileAll(ctx)
}
