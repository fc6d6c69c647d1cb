// Package app assembles the panel: config, logging, storage, the
// session registry with its MTProto provider, the operator notifier,
// the autopilot scheduler and the HTTP server. It owns startup order,
// config hot-reload and graceful shutdown.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/host548/telegram-spam-panel/internal/autopilot"
	"github.com/host548/telegram-spam-panel/internal/config"
	"github.com/host548/telegram-spam-panel/internal/notify"
	"github.com/host548/telegram-spam-panel/internal/server"
	"github.com/host548/telegram-spam-panel/internal/storage"
	"github.com/host548/telegram-spam-panel/internal/telegram"
	"github.com/host548/telegram-spam-panel/internal/telegram/gotd"
	logx "github.com/host548/telegram-spam-panel/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store   *storage.Store
	manager *telegram.Manager
	notif   *notify.Service
	auto    *autopilot.Service
	httpSrv *http.Server

	cancelWatch context.CancelFunc
	watchDone   chan struct{}
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	connectTimeout, _ := config.ParseDurationField("telegram.connect_timeout", cfg.Telegram.ConnectTimeout)
	factory := gotd.NewFactory(gotd.Options{
		APIID:          cfg.Telegram.APIID,
		APIHash:        cfg.Telegram.APIHash,
		SessionDir:     cfg.Telegram.SessionDir,
		ConnectTimeout: connectTimeout,
		Log:            log.With(logx.String("comp", "mtproto")),
	})

	manager := telegram.NewManager(factory, sessionOptions(cfg), log.With(logx.String("comp", "sessions")))

	notif := newNotifier(cfg.Notifier, log)

	var auto *autopilot.Service
	if a := cfg.Autopilot; a != nil {
		sendDelay, _ := config.ParseDurationField("autopilot.send_delay", a.SendDelay)
		refresh, _ := config.ParseDurationField("autopilot.refresh_interval", a.RefreshInterval)
		auto = autopilot.New(autopilot.Config{
			Enabled:         a.Enabled,
			Timezone:        a.Timezone,
			DefaultSchedule: a.DefaultSchedule,
			SendDelay:       sendDelay,
			RefreshInterval: refresh,
		}, store, manager, notif.NotifyFunc(), log.With(logx.String("comp", "autopilot")))
	}

	router := server.NewRouter(server.Deps{
		Manager:        manager,
		Store:          store,
		Log:            log.With(logx.String("comp", "http")),
		AuthRatePerMin: cfg.Server.AuthRatePerMin,
		Notify:         notif.NotifyFunc(),
	})
	httpSrv := server.NewHTTPServer(cfg.Server.Addr, router)

	return &App{
		cfgm:    cfgm,
		logs:    logSvc,
		log:     log,
		store:   store,
		manager: manager,
		notif:   notif,
		auto:    auto,
		httpSrv: httpSrv,
	}, nil
}

// Start restores persisted sessions, launches background services and
// begins serving HTTP. It returns once everything is up; fatal serve
// errors are reported through the returned channel.
func (a *App) Start(ctx context.Context) (<-chan error, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	a.notif.Start(ctx)

	accounts, err := a.store.ListAuthorizedAccounts(ctx)
	if err != nil {
		return nil, err
	}
	saved := make([]telegram.SavedAccount, 0, len(accounts))
	for _, acc := range accounts {
		saved = append(saved, telegram.SavedAccount{Key: acc.UserID, Phone: acc.Phone, Token: acc.Token})
	}
	restored := a.manager.RestoreAll(ctx, saved)
	a.log.Info("sessions restored", logx.Int("restored", restored), logx.Int("stored", len(saved)))
	if restored < len(saved) {
		_ = a.notif.Notify("session restore: some accounts need re-login")
	}

	if a.auto != nil {
		a.auto.Start(ctx)
	}

	wctx, cancel := context.WithCancel(ctx)
	a.cancelWatch = cancel
	a.watchDone = make(chan struct{})
	go func() {
		defer close(a.watchDone)
		a.watchConfig(wctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", logx.String("addr", a.httpSrv.Addr))
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh, nil
}

// Stop shuts the app down in reverse start order, bounded by ctx.
func (a *App) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.httpSrv.Shutdown(sctx); err != nil {
		a.log.Warn("http shutdown", logx.Err(err))
	}
	cancel()

	if a.cancelWatch != nil {
		a.cancelWatch()
		select {
		case <-a.watchDone:
		case <-ctx.Done():
		}
	}
	if a.auto != nil {
		a.auto.Stop(ctx)
	}
	a.manager.CleanupAll(ctx)
	a.notif.Stop(ctx)
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
}

// watchConfig follows file changes and applies the reloadable subset:
// log level/sinks and broadcast tuning. Identity and listen address
// changes require a restart.
func (a *App) watchConfig(ctx context.Context) {
	sub := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(sub)

	go func() {
		if err := a.cfgm.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.manager.Apply(sessionOptions(cfg))
			a.log.Info("config applied",
				logx.Int("max_concurrent", cfg.Broadcast.MaxConcurrentOrDefault()),
				logx.Duration("send_delay", cfg.Broadcast.SendDelayOrDefault()))
		}
	}
}

func sessionOptions(cfg *config.Config) telegram.Options {
	return telegram.Options{
		DialogTimeout: cfg.Telegram.DialogTimeoutOrDefault(),
		DialogLimit:   cfg.Telegram.DialogLimitOrDefault(),
		MaxConcurrent: cfg.Broadcast.MaxConcurrentOrDefault(),
		SendDelay:     cfg.Broadcast.SendDelayOrDefault(),
	}
}

// newNotifier builds the operator notifier, degrading to a disabled
// no-op service when unconfigured or when the bot cannot be built.
func newNotifier(nc *config.NotifierConfig, log logx.Logger) *notify.Service {
	if nc == nil || !nc.Enabled {
		return notify.New(notify.Config{}, nil, log)
	}
	sender, err := notify.NewBotSender(nc.BotToken)
	if err != nil {
		log.Warn("notifier disabled, bot init failed", logx.Err(err))
		return notify.New(notify.Config{}, nil, log)
	}
	return notify.New(notify.Config{
		Enabled:    true,
		BotToken:   nc.BotToken,
		ChatID:     nc.ChatID,
		QueueSize:  nc.QueueSize,
		RatePerSec: nc.RatePerSec,
	}, sender, log.With(logx.String("comp", "notifier")))
}
