package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"tala-companion/internal/api"
	"tala-companion/internal/auth"
	"tala-companion/internal/config"
	"tala-companion/internal/database"
	"tala-companion/internal/services"
	"tala-companion/internal/telegram"
	"tala-companion/internal/utils"
)

// jobTimeout bounds one scheduled run.
const jobTimeout = 2 * time.Minute

type Application struct {
	config   *config.Config
	logger   *zap.Logger
	db       *database.Database
	bot      *telegram.Bot
	services *services.ServiceManager
	cron     *cron.Cron
	cancel   context.CancelFunc
	ctx      context.Context
}

func New(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())
	loc := cfg.Location()

	db, err := database.New(ctx, cfg.Database.Path, logger)
	if err != nil {
		cancel()
		return nil, err
	}

	client := api.New(api.Options{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Logger:  logger,
	}, auth.NewSession(auth.NewMemoryStore()))

	serviceManager := services.NewServiceManager(db, client, ServiceOptions(cfg, logger))
	bot, err := telegram.NewBot(cfg.Telegram.Token, serviceManager, telegram.Options{
		AdminChatID:  cfg.Telegram.AdminChatID,
		EditInterval: cfg.Telegram.EditInterval,
		Logger:       logger,
	})
	if err != nil {
		cancel()
		db.Close()
		return nil, err
	}
	serviceManager.SetNotificationSender(bot)

	app := &Application{
		config:   cfg,
		logger:   logger.Named("app"),
		db:       db,
		bot:      bot,
		services: serviceManager,
		cancel:   cancel,
		ctx:      ctx,
	}
	app.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{logger.Named("cron").Sugar()}),
		cron.WithChain(cron.Recover(cronLogger{logger.Named("cron").Sugar()})),
	)
	if err := app.setupCronJobs(); err != nil {
		cancel()
		db.Close()
		return nil, err
	}
	return app, nil
}

// ServiceOptions maps the configuration onto the service layer.
func ServiceOptions(cfg *config.Config, logger *zap.Logger) services.Options {
	opts := services.Options{
		Location:     cfg.Location(),
		MatchWindow:  cfg.Analytics.MoodMatchWindow,
		DedupeWindow: cfg.Analytics.DedupeWindow,
		Logger:       logger,
	}
	opts.Chat.StreamTimeout = cfg.Chat.StreamTimeout
	opts.Chat.IdleTimeout = cfg.Chat.IdleTimeout
	return opts
}

func (a *Application) Start() error {
	a.logger.Info("starting", zap.String("bot", a.bot.GetUsername()), zap.String("api", a.config.API.BaseURL))

	go a.bot.Start(a.ctx)
	a.cron.Start()

	report := a.services.Status.Check(a.ctx)
	a.bot.SendAdmin(fmt.Sprintf("🌿 <b>Tala companion</b> is running as @%s\n%s Tala is %s\n\n%s",
		a.bot.GetUsername(), utils.StatusEmoji(report.Online()), report.Status.Status,
		utils.TimezoneInfo(a.config.Location(), time.Now())))
	return nil
}

// Run starts the application and stops it once ctx is done.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return a.Stop()
}

func (a *Application) Stop() error {
	a.logger.Info("stopping")

	a.cancel()
	<-a.cron.Stop().Done()
	a.services.Chat.CloseAll()
	a.bot.Wait()

	if err := a.db.Close(); err != nil {
		a.logger.Warn("closing database failed", zap.Error(err))
		return err
	}
	a.logger.Info("stopped")
	return nil
}

func (a *Application) setupCronJobs() error {
	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context)
	}{
		{"status", a.config.Schedule.StatusPoll, a.pollStatus},
		{"reminders", a.config.Schedule.Reminder, a.sendReminders},
	}
	for _, job := range jobs {
		if job.spec == "" {
			a.logger.Info("job disabled", zap.String("job", job.name))
			continue
		}
		sched, err := Schedule(job.spec)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", job.name, err)
		}
		run := job.run
		a.cron.Schedule(sched, cron.FuncJob(func() {
			ctx, cancel := context.WithTimeout(a.ctx, jobTimeout)
			defer cancel()
			run(ctx)
		}))
	}
	return nil
}

// Schedule parses a five-field cron spec or a descriptor such as
// "@every 30s".
func Schedule(spec string) (cron.Schedule, error) {
	return cron.ParseStandard(spec)
}

// pollStatus tells the operator when the backend goes up or down.
func (a *Application) pollStatus(ctx context.Context) {
	prev, seen := a.services.Status.Last()
	report := a.services.Status.Check(ctx)
	if !seen || prev.Online() == report.Online() {
		return
	}
	text := fmt.Sprintf("%s Tala is now <b>%s</b>", utils.StatusEmoji(report.Online()), report.Status.Status)
	a.bot.SendAdmin(text)
}

func (a *Application) sendReminders(ctx context.Context) {
	if a.services.Notification == nil {
		return
	}
	n, err := a.services.Notification.SendCheckInReminders(ctx)
	if err != nil {
		a.logger.Warn("check-in reminders failed", zap.Int("sent", n), zap.Error(err))
		return
	}
	a.logger.Info("check-in reminders sent", zap.Int("sent", n))
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
