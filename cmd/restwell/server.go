package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/restwell/internal/api"
	"github.com/goodtune/restwell/internal/config"
	"github.com/goodtune/restwell/internal/ingest"
	"github.com/goodtune/restwell/internal/metrics"
	"github.com/goodtune/restwell/internal/policy"
	"github.com/goodtune/restwell/internal/presence"
	"github.com/goodtune/restwell/internal/query"
	"github.com/goodtune/restwell/internal/reminder"
	"github.com/goodtune/restwell/internal/retention"
	"github.com/goodtune/restwell/internal/schedule"
	"github.com/goodtune/restwell/internal/settings"
	"github.com/goodtune/restwell/internal/storage"
	"github.com/goodtune/restwell/internal/storage/bolt"
	"github.com/goodtune/restwell/internal/storage/redis"
	"github.com/goodtune/restwell/internal/systemd"
	"github.com/goodtune/restwell/internal/usage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start Restwell server",
	Long:  `Start the presence monitor, reminder scheduler, signal consumer (optional), API and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting Restwell")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to get systemd listeners")
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	logger.Info().Str("type", cfg.Storage.Type).Msg("Storage initialized")

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	defaults, err := cfg.SettingsDefaults()
	if err != nil {
		return fmt.Errorf("invalid bedtime defaults: %w", err)
	}
	settingsProvider := settings.NewStoreProvider(defaults, store.Settings())

	// Load file schedules
	registry, watcher := loadSchedules(cfg.Schedules, logger)
	if watcher != nil {
		defer watcher.Close()
	}

	palette, err := usage.NewPalette(cfg.Palette(), cfg.Usage.ColorCacheSize)
	if err != nil {
		return fmt.Errorf("invalid usage palette: %w", err)
	}

	svc := query.NewService(query.Config{
		Store:     store,
		Files:     registry,
		Builder:   usage.NewBuilder(palette),
		Settings:  settingsProvider,
		Location:  loc,
		LookAhead: config.Duration(cfg.Reminder.MaxLookAhead, 7*24*time.Hour),
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize presence machine from the last persisted state
	machine := presence.NewMachine(store.Presence(), presence.NewCell(), logger)
	if last, err := store.Presence().LatestAtOrBefore(ctx, math.MaxInt64); err == nil {
		machine.Restore(*last)
		logger.Info().Str("state", string(last.State)).Msg("Restored presence state")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to restore presence state: %w", err)
	}

	monitor := presence.NewMonitor(machine, settingsProvider, svc.Resolver(), presence.RealClock{}, presence.MonitorConfig{
		ReorderWindow: config.Duration(cfg.Presence.ReorderWindow, 2*time.Second),
		TickInterval:  config.Duration(cfg.Presence.TickInterval, time.Minute),
		QueueSize:     cfg.Presence.QueueSize,
		Location:      loc,
		Screens:       screenHistory{store.Screen()},
	}, logger)

	if cfg.Presence.AutoStart {
		if err := monitor.Start(ctx); err != nil {
			return fmt.Errorf("failed to start presence monitor: %w", err)
		}
	} else if machine.State() != presence.Unknown {
		// A restart without auto start leaves the last session closed.
		if _, err := machine.Stop(ctx, time.Now().UnixMilli()); err != nil {
			logger.Warn().Err(err).Msg("Failed to close restored presence session")
		}
	}

	// Initialize policy engine
	var policyEngine *policy.Engine
	if cfg.Policy.Enabled {
		policyEngine, err = policy.NewEngine(cfg.Policy.PolicyDir, cfg.Policy.Allowlist, machine, svc, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize Policy Engine: %w", err)
		}
		logger.Info().Str("policy_dir", cfg.Policy.PolicyDir).Msg("Policy Engine initialized")
	}

	recorder := ingest.NewRecorder(store, monitor, logger)

	// Initialize signal consumer
	var consumer *ingest.Consumer
	consumerDone := make(chan struct{})
	if cfg.Ingest.Enabled {
		consumer, err = ingest.NewConsumer(ingest.ConsumerConfig{
			Brokers: cfg.Ingest.Kafka.Brokers,
			Topic:   cfg.Ingest.Kafka.Topic,
			GroupID: cfg.Ingest.Kafka.GroupID,
		}, recorder, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize signal consumer: %w", err)
		}
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("Signal consumer stopped")
			}
		}()
		logger.Info().
			Strs("brokers", cfg.Ingest.Kafka.Brokers).
			Str("topic", cfg.Ingest.Kafka.Topic).
			Msg("Signal consumer started")
	} else {
		close(consumerDone)
	}

	// Initialize reminder scheduler
	dispatcher, closeDispatcher, err := openDispatcher(cfg.Dispatch, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize reminder dispatcher: %w", err)
	}
	defer closeDispatcher()

	reminderScheduler := reminder.NewScheduler(
		svc.Planner(),
		dispatcher,
		presence.RealClock{},
		config.Duration(cfg.Reminder.Recheck, time.Minute),
		logger,
	)
	reminderScheduler.Start()

	// Initialize retention sweeper
	var sweeper *retention.Sweeper
	if cfg.Logging.RetentionDays > 0 {
		sweeper, err = retention.NewSweeper(store, cfg.Logging.RetentionDays, cfg.Logging.SweepTime, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize retention sweeper: %w", err)
		}
		sweeper.Start()
	}

	// Initialize API Server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(api.Config{ListenAddr: apiAddr}, api.Deps{
		Query:    svc,
		Monitor:  monitor,
		Recorder: recorder,
		Settings: settingsProvider,
		Policy:   policyEngine,
	}, logger)

	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API Server: %w", err)
	}

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	logger.Info().Msg("Restwell startup complete")
	logger.Info().Msgf("API: http://%s", apiAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}
	go systemd.RunWatchdog(ctx, logger)

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan

		if sig == syscall.SIGHUP {
			logger.Info().Msg("SIGHUP received, reloading policies and schedules...")
			reload(policyEngine, registry, cfg.Schedules.Dir, logger)
			continue
		}

		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		config.Duration(cfg.Server.ShutdownTimeout, 10*time.Second))
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping API Server")
	}

	// Stop the consumer before the monitor so no signal is lost mid-flight.
	cancel()
	if consumer != nil {
		select {
		case <-consumerDone:
		case <-shutdownCtx.Done():
			logger.Warn().Msg("Timed out waiting for signal consumer")
		}
		if err := consumer.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing signal consumer")
		}
	}

	reminderScheduler.Stop()
	if sweeper != nil {
		sweeper.Stop()
	}

	if monitor.Running() {
		if err := monitor.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error stopping presence monitor")
		}
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("Restwell stopped")

	return nil
}

// loadSchedules reads the schedule directory when it exists. A missing
// directory leaves the registry empty.
func loadSchedules(cfg config.SchedulesConfig, logger zerolog.Logger) (*schedule.Registry, *schedule.Watcher) {
	registry := schedule.NewRegistry()
	if cfg.Dir == "" {
		return registry, nil
	}
	if _, err := os.Stat(cfg.Dir); err != nil {
		logger.Info().Str("dir", cfg.Dir).Msg("Schedule directory not found, using stored schedules only")
		return registry, nil
	}

	if err := registry.LoadFromDir(cfg.Dir); err != nil {
		logger.Error().Err(err).Str("dir", cfg.Dir).Msg("Failed to load schedules")
	} else {
		logger.Info().Int("count", len(registry.List())).Str("dir", cfg.Dir).Msg("Schedules loaded")
	}

	if !cfg.Watch {
		return registry, nil
	}
	watcher, err := schedule.NewWatcher(cfg.Dir, registry, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to watch schedule directory")
		return registry, nil
	}
	return registry, watcher
}

func reload(engine *policy.Engine, registry *schedule.Registry, dir string, logger zerolog.Logger) {
	if engine != nil {
		if err := engine.Reload(); err != nil {
			logger.Error().Err(err).Msg("Failed to reload policies")
		} else {
			logger.Info().Msg("Policies reloaded successfully")
		}
	}
	if dir == "" {
		return
	}
	if err := registry.LoadFromDir(dir); err != nil {
		logger.Error().Err(err).Msg("Failed to reload schedules")
	} else {
		logger.Info().Int("count", len(registry.List())).Msg("Schedules reloaded successfully")
	}
}

// screenHistory reports a missing screen event as nil for the presence monitor.
type screenHistory struct {
	storage.ScreenEventStore
}

func (h screenHistory) LatestAtOrBefore(ctx context.Context, at int64) (*usage.ScreenEvent, error) {
	ev, err := h.ScreenEventStore.LatestAtOrBefore(ctx, at)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return ev, err
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

func openDispatcher(cfg config.DispatchConfig, logger zerolog.Logger) (reminder.Dispatcher, func(), error) {
	switch cfg.Type {
	case "", "log":
		return reminder.NewLogDispatcher(logger), func() {}, nil
	case "kafka":
		d, err := reminder.NewKafkaDispatcher(reminder.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Key:     cfg.Kafka.Key,
		})
		if err != nil {
			return nil, nil, err
		}
		return d, func() {
			if err := d.Close(); err != nil {
				logger.Error().Err(err).Msg("Error closing reminder dispatcher")
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported dispatch type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
