package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"fleetbot/internal/api"
	"fleetbot/internal/data/store"
	"fleetbot/internal/infra/config"
	"fleetbot/internal/infra/logger"
	"fleetbot/internal/infra/metrics"
	"fleetbot/internal/service/ai"
	"fleetbot/internal/service/command"
	"fleetbot/internal/service/command/builtin"
	"fleetbot/internal/service/group"
	"fleetbot/internal/service/pipeline"
	"fleetbot/internal/service/profile"
	"fleetbot/internal/service/session"
	"fleetbot/internal/service/settings"
	"fleetbot/internal/transport"
	"fleetbot/internal/transport/whatsapp"
)

// shutdownTimeout bounds the graceful part of Shutdown.
const shutdownTimeout = 15 * time.Second

// App is the main application orchestrator.
type App struct {
	Config     *config.Config
	Log        *logger.Logger
	Stores     *store.Container
	Metrics    *metrics.Metrics
	Settings   *settings.Cache
	Commands   *command.Registry
	Pipeline   *pipeline.Pipeline
	Dispatcher *pipeline.Dispatcher
	Groups     *group.Handler
	Sessions   *session.Registry
	AutoBio    *profile.AutoBio
	API        *api.Server

	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a new App instance.
func New(cfg *config.Config) (*App, error) {
	log := logger.NewWithOptions("fleetbot", logger.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	log.Infof("Initializing %s...", cfg.BotName)

	// Ensure store path exists
	if err := cfg.EnsureStorePath(); err != nil {
		return nil, fmt.Errorf("failed to ensure store path: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	appStore, err := store.New(ctx, cfg.DatabasePath(), log)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	stores := store.NewContainer(appStore)

	a := &App{
		Config:    cfg,
		Log:       log,
		Stores:    stores,
		Metrics:   metrics.New(),
		Commands:  command.NewRegistry(),
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.Settings = settings.NewCache(stores.Settings, log)
	a.Pipeline = pipeline.New(
		a.Settings,
		a.Commands,
		stores.BadWords,
		stores.Deleted,
		pipeline.NewOwners(cfg.Owners),
		a.Metrics,
		log,
		pipeline.Options{
			PresenceHold:   cfg.Pipeline.PresenceHold.Std(),
			HandlerTimeout: cfg.Pipeline.HandlerTimeout.Std(),
			RecentMessages: cfg.Pipeline.RecentMessages,
		},
	)
	a.Groups = group.NewHandler(a.Settings, a.Metrics, log)

	a.Dispatcher, err = pipeline.NewDispatcher(ctx, a.Pipeline, a.Groups, cfg.Pipeline.Workers, log)
	if err != nil {
		stores.Close()
		cancel()
		return nil, err
	}

	a.AutoBio = profile.NewAutoBio(a.Settings, cfg.Session.AutoBioInterval.Std(), cfg.Session.AutoBioTexts, log)

	dialer := whatsapp.NewDialer(appStore.Devices(), cfg.DeviceName, log)
	a.Sessions = session.NewRegistry(dialer, stores.Credentials, sessionOptions(cfg.Session), session.Hooks{
		OnEvent:     a.Dispatcher.Handle,
		OnConnected: a.onConnected,
		OnClosed:    a.onClosed,
	}, a.Metrics, log)

	builtin.Register(builtin.Deps{
		Commands:  a.Commands,
		Settings:  a.Settings,
		BadWords:  stores.BadWords,
		Pairer:    a.Sessions,
		Accounts:  a.Sessions,
		AI:        ai.NewClient(cfg.AI),
		Owners:    cfg.Owners,
		BotName:   cfg.BotName,
		RepoURL:   cfg.RepoURL,
		StartedAt: a.startedAt,
	})
	log.Infof("Registered %d commands", len(a.Commands.List()))

	a.API = api.New(a.Sessions, a.Metrics, cfg.Session.ConnectTimeout.Std(), log)
	return a, nil
}

func sessionOptions(c config.SessionConfig) session.Options {
	return session.Options{
		ConnectTimeout:      c.ConnectTimeout.Std(),
		PairingCodeExpiry:   c.PairingCodeExpiry.Std(),
		PairingAttempts:     c.PairingAttempts,
		PairingRetryWait:    c.PairingRetryWait.Std(),
		PairingAttemptLimit: c.PairingAttemptLimit.Std(),
		RestartDelay:        c.RestartDelay.Std(),
		ReconnectDelay:      c.ReconnectDelay.Std(),
		MaxReconnects:       c.MaxReconnects,
		RestoreParallelism:  c.RestoreParallelism,
	}
}

// Run restores stored sessions, serves HTTP and blocks until SIGINT/SIGTERM
// or a fatal error.
func (a *App) Run() error {
	a.Log.Infof("Starting %s...", a.Config.BotName)

	// Setup signal handling to cancel context
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			a.Log.Infof("Received %v, initiating shutdown...", sig)
			a.cancel()
		case <-a.ctx.Done():
		}
	}()

	a.AutoBio.Start()

	g, gctx := errgroup.WithContext(a.ctx)
	g.Go(func() error {
		if err := a.API.Start(a.Config.HTTPAddr); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		report, err := a.Sessions.RestoreAll(gctx)
		if err != nil {
			return fmt.Errorf("restore sessions: %w", err)
		}
		a.Log.Infof("%d of %d sessions online. Press Ctrl+C to stop.", report.Connected, report.Total)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.API.Shutdown(sctx)
	})

	err := g.Wait()
	if err != nil && errors.Is(err, context.Canceled) {
		err = nil
	}
	return errors.Join(err, a.Shutdown())
}

// onConnected announces the session to its own chat and schedules the
// profile rotation.
func (a *App) onConnected(ctx context.Context, accountID string, sess transport.Session) {
	a.Log.Infof("%s is online", accountID)
	if err := a.AutoBio.Watch(accountID, a.liveSession(accountID)); err != nil {
		a.Log.Warnf("%v", err)
	}
	if err := a.announce(ctx, accountID, sess); err != nil {
		a.Log.Warnf("[transient] connection notice for %s: %v", accountID, err)
	}
}

// liveSession resolves the current handle of accountID, which changes when
// the supervisor re-dials.
func (a *App) liveSession(accountID string) func() transport.Session {
	return func() transport.Session {
		sup, ok := a.Sessions.Get(accountID)
		if !ok {
			return nil
		}
		return sup.Session()
	}
}

func (a *App) onClosed(accountID string) {
	a.Log.Infof("%s went offline", accountID)
	a.AutoBio.Unwatch(accountID)
	a.Pipeline.Forget(accountID)
	a.Settings.Forget(accountID)
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() error {
	a.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.AutoBio.Stop()
	a.Sessions.StopAll(ctx)
	a.Dispatcher.Close()
	err := a.Stores.Close()
	a.Log.Infof("Shutdown complete")
	return errors.Join(err, a.Log.Close())
}
