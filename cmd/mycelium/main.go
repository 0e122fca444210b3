package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/keshon/mycelium/internal/config"
	"github.com/keshon/mycelium/internal/discord"
	"github.com/keshon/mycelium/internal/dispatch"
	"github.com/keshon/mycelium/internal/host"
	"github.com/keshon/mycelium/internal/hostapi"
	"github.com/keshon/mycelium/internal/logging"
	"github.com/keshon/mycelium/internal/scheduler"
	"github.com/keshon/mycelium/internal/script"
	"github.com/keshon/mycelium/internal/storage"
	"github.com/keshon/mycelium/internal/watch"
	"github.com/keshon/mycelium/pkg/jobmgr"
)

const (
	appName         = "Mycelium"
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatal("bot stopped", "err", err)
	}
}

func run() error {
	cfg, dotenv, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.Debug)
	logger.Info("starting", "app", appName, "debug", cfg.Debug)
	if !dotenv {
		logger.Debug("no .env file, using the process environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.ScriptsDir, cfg.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	store, err := storage.New(ctx, storage.Config{
		DatabasePath: cfg.DatabasePath,
		KVPath:       cfg.StoragePath,
		Logger:       logging.WithComponent("storage"),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", "err", err)
		}
	}()

	bot, err := discord.New(discord.Options{
		Token:           cfg.DiscordToken,
		GuildIDs:        cfg.GuildIDs,
		AllowDMCommands: cfg.AllowDMCommands,
		LogCommands:     cfg.LogCommands,
		IsOwner:         cfg.IsOwner,
		Hashes:          store,
		Logger:          logging.WithComponent("discord"),
	})
	if err != nil {
		return err
	}

	// The scheduler fires through the dispatcher, which does not exist yet.
	var dispatcher *dispatch.Dispatcher
	sched := scheduler.New(scheduler.TargetFunc(func(ctx context.Context, script, handler string) error {
		return dispatcher.FireScheduled(ctx, script, handler)
	}), scheduler.Config{Workers: cfg.SchedulerWorkers}, logging.WithComponent("scheduler"))

	dispatcher = dispatch.New(dispatch.Config{
		Workers:   cfg.DispatchWorkers,
		QueueSize: cfg.DispatchQueueSize,
	}, dispatch.Toolkit{
		Client:    bot.Client(),
		Utils:     hostapi.NewUtils(),
		Storage:   hostapi.NewStorage(store, store.KV(), logging.WithComponent("script-storage")),
		Network:   hostapi.NewHTTP(hostapi.HTTPConfig{Timeout: cfg.HTTPTimeout, MaxAttempts: cfg.HTTPMaxAttempts}, logging.WithComponent("script-http")),
		Scheduler: hostapi.NewScheduler(sched),
		Time:      hostapi.NewTime(time.Local),
	}, logging.WithComponent("dispatch"))

	policy, err := script.ParsePolicy(cfg.ContextPolicy)
	if err != nil {
		return err
	}
	scripts := host.New(dispatcher, host.Options{
		Config: host.Config{
			ScriptsDir: cfg.ScriptsDir,
			Disabled:   cfg.DisabledScripts,
			Policy:     policy,
			PoolSize:   cfg.ContextPoolSize,
		},
		Logger: logging.WithComponent("host"),
		AfterSwap: func(ctx context.Context, res *host.Result) error {
			return bot.SyncCommands(ctx, res.Commands())
		},
	})
	bot.Attach(dispatcher, scripts)

	if err := bot.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if err := bot.Close(); err != nil {
			logger.Error("failed to close Discord session", "err", err)
		}
	}()

	if _, err := scripts.Reload(ctx); err != nil {
		logger.Error("initial script load incomplete", "err", err)
	}

	jobs := jobmgr.NewManager(func(s string) { logger.Debug(s) })
	if cfg.HotReload {
		w, err := watch.New(watch.Config{
			Dir:    cfg.ScriptsDir,
			Logger: logging.WithComponent("watch"),
			OnChange: func(ctx context.Context, _ []string) error {
				_, err := scripts.Reload(ctx)
				return err
			},
		})
		if err != nil {
			logger.Error("hot reload disabled", "err", err)
		} else if err := jobs.Start(ctx, "watch", w.Run); err != nil {
			logger.Error("hot reload disabled", "err", err)
		}
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, cleaning up")

	jobs.StopAll()
	sched.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("handlers still running at shutdown", "err", err)
	}
	logger.Info("bot exited cleanly")
	return nil
}
