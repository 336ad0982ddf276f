package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/restwell/internal/config"
	"github.com/goodtune/restwell/internal/settings"
	"github.com/goodtune/restwell/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	keyPresenceEvents = "restwell:presence:events"
	keyPresenceSeq    = "restwell:presence:seq"
	keyScreenEvents   = "restwell:screen:events"
	keyScreenSeq      = "restwell:screen:seq"
	keyScreenSeen     = "restwell:screen:seen"
	keyAppOpen        = "restwell:app:open"
	keyAppSessions    = "restwell:app:sessions"
	keyAppSession     = "restwell:app:session:"
	keySchedules      = "restwell:schedules"
	keySettings       = "restwell:settings"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client    *redis.Client
	presence  *presenceStore
	screen    *screenStore
	appUsage  *appUsageStore
	schedules *scheduleStore
	settings  *settingsStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newStore(client), nil
}

func newStore(client *redis.Client) *Store {
	return &Store{
		client:    client,
		presence:  &presenceStore{client: client},
		screen:    &screenStore{client: client},
		appUsage:  &appUsageStore{client: client},
		schedules: &scheduleStore{client: client},
		settings:  &settingsStore{client: client},
	}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Presence returns the PresenceEventStore implementation
func (s *Store) Presence() storage.PresenceEventStore { return s.presence }

// Screen returns the ScreenEventStore implementation
func (s *Store) Screen() storage.ScreenEventStore { return s.screen }

// AppUsage returns the AppUsageStore implementation
func (s *Store) AppUsage() storage.AppUsageStore { return s.appUsage }

// Schedules returns the ScheduleStore implementation
func (s *Store) Schedules() storage.ScheduleStore { return s.schedules }

// Settings returns the settings overrides store
func (s *Store) Settings() settings.Store { return s.settings }
