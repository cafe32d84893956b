package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/clawinfra/evosync/internal/api"
	"github.com/clawinfra/evosync/internal/channels"
	"github.com/clawinfra/evosync/internal/cli"
	"github.com/clawinfra/evosync/internal/cloudsync"
	"github.com/clawinfra/evosync/internal/config"
	"github.com/clawinfra/evosync/internal/netmon"
	"github.com/clawinfra/evosync/internal/queue"
	"github.com/clawinfra/evosync/internal/remote"
	"github.com/clawinfra/evosync/internal/scheduler"
	"github.com/clawinfra/evosync/internal/security"
	"github.com/clawinfra/evosync/internal/storage"
)

var (
	version   = api.Version
	buildTime = "dev"
)

const defaultConfigPath = "evosync.yaml"

// App holds all the runtime components
type App struct {
	ConfigPath string
	Config     *config.Config
	Logger     *slog.Logger
	LogLevel   *slog.LevelVar

	KV        storage.KV
	Store     *queue.Store
	Monitor   *netmon.Monitor
	Remote    *remote.Client
	Scheduler *scheduler.Scheduler
	Manager   *cloudsync.Manager
	Hub       *channels.WSHub
	MQTT      *channels.MQTTBridge
	APIServer *api.Server

	logCloser io.Closer
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	sub := "start"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}

	switch sub {
	case "start":
		return startCommand(args)
	case "init":
		return cli.InitCommand(args, os.Stdin, os.Stdout)
	case "status":
		return cli.StatusCommand(args, os.Stdout)
	case "enqueue":
		return cli.EnqueueCommand(args, os.Stdout)
	case "queue":
		return cli.QueueCommand(args, os.Stdout)
	case "sync":
		return cli.SyncCommand(args, os.Stdout)
	case "retry":
		return cli.RetryCommand(args, os.Stdout)
	case "clear":
		return cli.ClearCommand(args, os.Stdout)
	case "auto":
		return cli.AutoCommand(args, os.Stdout)
	case "remote":
		return cli.RemoteCommand(args, os.Stdout)
	case "schedule":
		return cli.ScheduleCommand(args, os.Stdout)
	case "token":
		return cli.TokenCommand(args, os.Stdout)
	case "service":
		return serviceCommand(args, os.Stdout)
	case "version", "--version":
		fmt.Printf("evosync v%s (built %s)\n", version, buildTime)
		return 0
	case "help", "--help", "-h":
		if len(args) > 0 && cli.PrintCommandHelp(os.Stdout, "evosync", args[0]) {
			return 0
		}
		cli.PrintHelp(os.Stdout, "evosync")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", sub)
		fmt.Fprintf(os.Stderr, "Available commands: %s\n", strings.Join(cli.CommandNames(), ", "))
		return 1
	}
}

func startCommand(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	app, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	printBanner(app)

	if err := app.Run(ctx, waitForShutdown(app)); err != nil {
		app.Logger.Error("evosync stopped with error", "error", err)
		return 1
	}
	app.Logger.Info("evosync stopped")
	return 0
}

// setup builds every component from the config at configPath. Nothing is
// started yet.
func setup(configPath string) (*App, error) {
	app := &App{ConfigPath: configPath, LogLevel: new(slog.LevelVar)}
	app.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: app.LogLevel}))

	cfg, err := loadConfig(configPath, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	app.Config = cfg

	app.LogLevel.Set(parseLogLevel(cfg.Server.LogLevel))
	app.Logger, app.logCloser = newLogger(cfg, app.LogLevel, os.Stdout)

	app.Logger.Info("starting evosync",
		"version", version,
		"config", configPath,
		"backend", cfg.Store.Backend,
	)

	kv, err := storage.Open(cfg.Store.Backend, cfg.Server.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	app.KV = kv

	app.Store = queue.NewStore(kv, cfg.Store.Namespace,
		queue.WithMaxAttempts(cfg.Sync.MaxAttempts),
		queue.WithLogger(app.Logger))

	app.Monitor = netmon.New(
		netmon.NewHTTPProber(cfg.ProbeURL(), time.Duration(cfg.Network.ProbeTimeoutSeconds)*time.Second),
		app.Logger)

	app.Remote = remote.NewClient(cfg.Remote.BaseURL, tokenSource(cfg),
		remote.WithTimeout(time.Duration(cfg.Remote.TimeoutSeconds)*time.Second),
		remote.WithMaxRetries(cfg.Remote.MaxRetries),
		remote.WithLogger(app.Logger))

	app.Scheduler = scheduler.NewScheduler(app.Logger)

	app.Manager = cloudsync.NewManager(app.Store, app.Monitor, app.Remote, cloudsync.Options{
		AutoSync:      cfg.Sync.AutoSync,
		Interval:      time.Duration(cfg.Sync.IntervalMinutes) * time.Minute,
		Schedule:      cfg.Sync.Cron,
		Timezone:      cfg.Sync.Timezone,
		FollowUpDelay: time.Duration(cfg.Sync.FollowUpDelayMs) * time.Millisecond,
		MaxListeners:  cfg.Sync.MaxListeners,
		Scheduler:     app.Scheduler,
	}, app.Logger)

	app.Hub = channels.NewWSHub(64, app.Logger)

	if cfg.MQTT.Enabled {
		app.Logger.Info("enabling mqtt bridge", "host", cfg.MQTT.Host, "port", cfg.MQTT.Port)
		app.MQTT = channels.NewMQTTBridge(cfg.MQTT.Host, cfg.MQTT.Port, cfg.MQTT.DeviceID,
			cfg.MQTT.Username, cfg.MQTT.Password, app.Manager, app.Logger)
		app.MQTT.SetReporter(app.Monitor)
	}

	opts := []api.Option{
		api.WithRemote(app.Remote),
		api.WithScheduler(app.Scheduler),
		api.WithEventHub(app.Hub),
	}
	if secret := cfg.API.JWTSecret; secret != "" {
		opts = append(opts, api.WithJWTSecret([]byte(secret)))
	} else {
		app.Logger.Warn("api.jwtSecret not set, local API is unauthenticated")
	}
	app.APIServer = api.NewServer(cfg.Server.Port, app.Manager, app.Logger, opts...)

	return app, nil
}

// Run starts every service and blocks until stop returns or one of them
// fails. Shutdown order is the reverse of start order.
func (a *App) Run(ctx context.Context, stop func(ctx context.Context)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer a.Scheduler.Stop()

	if err := a.Manager.Start(ctx); err != nil {
		return fmt.Errorf("start sync manager: %w", err)
	}
	defer a.Manager.Stop()

	unsubscribe, err := a.Manager.Subscribe(a.Hub.Publish)
	if err != nil {
		return fmt.Errorf("attach websocket hub: %w", err)
	}
	defer unsubscribe()

	if a.MQTT != nil {
		if err := a.MQTT.Start(ctx); err != nil {
			// The broker may come up later; the manager does not depend on it.
			a.Logger.Error("mqtt bridge failed to start", "error", err)
		} else {
			defer a.MQTT.Stop()
		}
	}

	a.Monitor.Start(ctx, time.Duration(a.Config.Network.ProbeIntervalSeconds)*time.Second)
	defer a.Monitor.Stop()

	watcher := config.NewWatcher(a.ConfigPath, 0, a.Logger, a.reloadConfig)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.APIServer.Start(gctx); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		watcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		stop(gctx)
		cancel()
		return nil
	})
	return g.Wait()
}

// Close releases storage and the log file.
func (a *App) Close() {
	if a.KV != nil {
		if err := a.KV.Close(); err != nil {
			a.Logger.Error("close storage", "error", err)
		}
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// reloadConfig re-reads the config file and applies what can change at runtime.
func (a *App) reloadConfig() {
	result, err := a.Config.Reload(a.ConfigPath)
	if err != nil {
		a.Logger.Error("config reload failed", "error", err)
		return
	}
	result.LogResult(a.Logger)

	config.RLock()
	level := a.Config.Server.LogLevel
	auto := a.Config.Sync.AutoSync
	interval := time.Duration(a.Config.Sync.IntervalMinutes) * time.Minute
	config.RUnlock()

	if result.HasApplied("Server.LogLevel") {
		a.LogLevel.Set(parseLogLevel(level))
	}
	if result.HasApplied("Sync.AutoSync") {
		a.Manager.SetAutoSync(auto)
	}
	if result.HasApplied("Sync.IntervalMinutes") {
		if err := a.Manager.SetInterval(interval); err != nil {
			a.Logger.Error("apply sync interval", "error", err)
		}
	}
}

// loadConfig loads configuration from file or creates default
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("no config found, creating default")
			cfg = config.DefaultConfig()
			if err := cfg.Save(path); err != nil {
				return nil, fmt.Errorf("save default config: %w", err)
			}
			if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			logger.Info("default config created", "path", path)
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// newLogger writes to stdout, or to a rotated file when server.logFile is set.
func newLogger(cfg *config.Config, level *slog.LevelVar, stdout io.Writer) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Server.LogFile == "" {
		return slog.New(slog.NewTextHandler(stdout, opts)), nil
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.Server.LogFile,
		MaxSize:    cfg.Server.LogMaxSizeMB,
		MaxBackups: cfg.Server.LogMaxBackups,
		Compress:   true,
	}
	return slog.New(slog.NewJSONHandler(lj, opts)), lj
}

// tokenSource picks the remote credential: a token file wins over an inline
// token. Either way expired JWTs are rejected before they are sent.
func tokenSource(cfg *config.Config) security.TokenSource {
	var src security.TokenSource = security.StaticToken(cfg.Remote.Token)
	if cfg.Remote.TokenFile != "" {
		src = security.FileToken{Path: cfg.Remote.TokenFile}
	}
	return security.NewExpiryChecked(src, time.Duration(cfg.Remote.ExpiryLeewaySeconds)*time.Second)
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner displays the startup banner
func printBanner(app *App) {
	fmt.Println()
	fmt.Printf("  evosync v%s\n", version)
	fmt.Println("  offline-first sync daemon")
	fmt.Println()
	fmt.Printf("  API:     http://localhost:%d\n", app.Config.Server.Port)
	fmt.Printf("  Remote:  %s\n", app.Config.Remote.BaseURL)
	fmt.Printf("  Storage: %s (%s)\n", backendName(app.Config.Store.Backend), app.Config.Server.DataDir)
	fmt.Println()
}

func backendName(b string) string {
	if b == "" {
		return storage.BackendSQLite
	}
	return b
}

// waitForShutdown returns a stop function that blocks until a termination
// signal arrives or ctx is done. Platform signals that do not terminate are
// handled in place.
func waitForShutdown(app *App) func(ctx context.Context) {
	return func(ctx context.Context) {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, getShutdownSignals()...)
		defer signal.Stop(sigCh)

		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if handlePlatformSignal(sig, app) {
					continue
				}
				app.Logger.Info("shutdown signal received", "signal", sig)
				return
			}
		}
	}
}
