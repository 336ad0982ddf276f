package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/restwell/internal/schedule"
	"github.com/goodtune/restwell/internal/settings"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	Bedtime   BedtimeConfig   `mapstructure:"bedtime"`
	Schedules SchedulesConfig `mapstructure:"schedules"`
	Usage     UsageConfig     `mapstructure:"usage"`
	Reminder  ReminderConfig  `mapstructure:"reminder"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress     string `mapstructure:"bind_address"`
	APIPort         int    `mapstructure:"api_port"`
	MetricsPort     int    `mapstructure:"metrics_port"`
	Timezone        string `mapstructure:"timezone"` // IANA name or "Local"
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Path  string      `mapstructure:"path"`
	Type  string      `mapstructure:"type"` // "bolt" or "redis"
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	RetentionDays int    `mapstructure:"retention_days"` // 0 disables pruning
	SweepTime     string `mapstructure:"sweep_time"`     // HH:MM
}

// PresenceConfig defines presence monitor settings
type PresenceConfig struct {
	AutoStart     bool   `mapstructure:"auto_start"`
	ReorderWindow string `mapstructure:"reorder_window"`
	TickInterval  string `mapstructure:"tick_interval"`
	QueueSize     int    `mapstructure:"queue_size"`
}

// BedtimeConfig holds the default bedtime settings. Values saved through the
// API override them.
type BedtimeConfig struct {
	TrackingEnabled     bool   `mapstructure:"tracking_enabled"`
	InactivityThreshold string `mapstructure:"inactivity_threshold"`
	ScheduleID          string `mapstructure:"schedule_id"`
	ManualBedtime       string `mapstructure:"manual_bedtime"`
	ManualWake          string `mapstructure:"manual_wake"`
	Precedence          string `mapstructure:"precedence"` // "schedule" or "manual"
}

// SchedulesConfig defines the YAML schedule directory
type SchedulesConfig struct {
	Dir   string `mapstructure:"dir"`
	Watch bool   `mapstructure:"watch"`
}

// ColorEntry maps a package name, or a prefix ending in ".*", to a color.
type ColorEntry struct {
	Package string `mapstructure:"package"`
	Color   string `mapstructure:"color"`
}

// UsageConfig defines usage statistics settings
type UsageConfig struct {
	BinSize        string       `mapstructure:"bin_size"`
	ColorCacheSize int          `mapstructure:"color_cache_size"`
	Palette        []ColorEntry `mapstructure:"palette"`
}

// ReminderConfig defines reminder scheduling
type ReminderConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Interval     string `mapstructure:"interval"`
	Recheck      string `mapstructure:"recheck"`
	MaxLookAhead string `mapstructure:"max_look_ahead"`
}

// PolicyConfig defines the blocking policy engine
type PolicyConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	PolicyDir string   `mapstructure:"policy_dir"` // overrides the built-in policy when set
	Allowlist []string `mapstructure:"allowlist"`
}

// KafkaConfig defines a Kafka topic binding
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
	Key     string   `mapstructure:"key"`
}

// IngestConfig defines the signal consumer
type IngestConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	Kafka   KafkaConfig `mapstructure:"kafka"`
}

// DispatchConfig defines where planned reminders are sent
type DispatchConfig struct {
	Type  string      `mapstructure:"type"` // "log" or "kafka"
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("RESTWELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	setDefaults(v)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.api_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.timezone", "Local")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Storage defaults
	v.SetDefault("storage.path", "/var/lib/restwell/restwell.bolt")
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.retention_days", 30)
	v.SetDefault("logging.sweep_time", "03:00")

	// Presence defaults
	v.SetDefault("presence.auto_start", true)
	v.SetDefault("presence.reorder_window", "2s")
	v.SetDefault("presence.tick_interval", "1m")
	v.SetDefault("presence.queue_size", 256)

	// Bedtime defaults
	v.SetDefault("bedtime.tracking_enabled", true)
	v.SetDefault("bedtime.inactivity_threshold", "30m")
	v.SetDefault("bedtime.schedule_id", "")
	v.SetDefault("bedtime.manual_bedtime", "22:00")
	v.SetDefault("bedtime.manual_wake", "07:00")
	v.SetDefault("bedtime.precedence", string(schedule.PreferSchedule))

	// Schedule defaults
	v.SetDefault("schedules.dir", "/etc/restwell/schedules")
	v.SetDefault("schedules.watch", true)

	// Usage defaults
	v.SetDefault("usage.bin_size", "1h")
	v.SetDefault("usage.color_cache_size", 256)

	// Reminder defaults
	v.SetDefault("reminder.enabled", false)
	v.SetDefault("reminder.interval", "1h")
	v.SetDefault("reminder.recheck", "1m")
	v.SetDefault("reminder.max_look_ahead", "168h")

	// Policy defaults
	v.SetDefault("policy.enabled", true)
	v.SetDefault("policy.policy_dir", "")
	v.SetDefault("policy.allowlist", []string{"com.android.dialer", "com.android.deskclock"})

	// Ingest defaults
	v.SetDefault("ingest.enabled", false)
	v.SetDefault("ingest.kafka.topic", "restwell.signals")
	v.SetDefault("ingest.kafka.group_id", "restwell")

	// Dispatch defaults
	v.SetDefault("dispatch.type", "log")
	v.SetDefault("dispatch.kafka.topic", "restwell.reminders")
}

// Location resolves the configured timezone
func (c *Config) Location() (*time.Location, error) {
	if c.Server.Timezone == "" || c.Server.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Server.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Server.Timezone, err)
	}
	return loc, nil
}

// SettingsDefaults converts the bedtime, usage and reminder sections into the
// default settings snapshot.
func (c *Config) SettingsDefaults() (settings.Snapshot, error) {
	threshold, err := parseDuration("bedtime.inactivity_threshold", c.Bedtime.InactivityThreshold)
	if err != nil {
		return settings.Snapshot{}, err
	}
	binSize, err := parseDuration("usage.bin_size", c.Usage.BinSize)
	if err != nil {
		return settings.Snapshot{}, err
	}
	interval, err := parseDuration("reminder.interval", c.Reminder.Interval)
	if err != nil {
		return settings.Snapshot{}, err
	}
	precedence, err := schedule.ParsePrecedence(c.Bedtime.Precedence)
	if err != nil {
		return settings.Snapshot{}, err
	}

	snap := settings.Snapshot{
		BedtimeTrackingEnabled: c.Bedtime.TrackingEnabled,
		InactivityThreshold:    threshold,
		ScheduleID:             c.Bedtime.ScheduleID,
		ManualBedtime:          c.Bedtime.ManualBedtime,
		ManualWake:             c.Bedtime.ManualWake,
		Precedence:             precedence,
		BinSize:                binSize,
		RemindersEnabled:       c.Reminder.Enabled,
		ReminderInterval:       interval,
	}
	if err := snap.Validate(); err != nil {
		return settings.Snapshot{}, err
	}
	return snap, nil
}

// Palette returns the color entries as a lookup table
func (c *Config) Palette() map[string]string {
	out := make(map[string]string, len(c.Usage.Palette))
	for _, e := range c.Usage.Palette {
		out[e.Package] = e.Color
	}
	return out
}

// Duration parses a duration field, returning fallback when it is empty
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	return d, nil
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "bolt"
	}
	switch cfg.Storage.Type {
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("storage.redis.host is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %s (must be json or console)", cfg.Logging.Format)
	}
	if cfg.Logging.RetentionDays < 0 {
		return fmt.Errorf("logging.retention_days must not be negative")
	}
	if _, err := time.Parse("15:04", cfg.Logging.SweepTime); cfg.Logging.RetentionDays > 0 && err != nil {
		return fmt.Errorf("invalid logging.sweep_time %q: must be HH:MM", cfg.Logging.SweepTime)
	}

	for field, value := range map[string]string{
		"presence.reorder_window": cfg.Presence.ReorderWindow,
		"presence.tick_interval":  cfg.Presence.TickInterval,
		"reminder.recheck":        cfg.Reminder.Recheck,
		"reminder.max_look_ahead": cfg.Reminder.MaxLookAhead,
		"server.shutdown_timeout": cfg.Server.ShutdownTimeout,
	} {
		if _, err := parseDuration(field, value); err != nil {
			return err
		}
	}

	if _, err := cfg.SettingsDefaults(); err != nil {
		return fmt.Errorf("bedtime defaults: %w", err)
	}

	for _, e := range cfg.Usage.Palette {
		if e.Package == "" || e.Color == "" {
			return fmt.Errorf("palette entries need both package and color")
		}
	}

	if cfg.Ingest.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" {
			return fmt.Errorf("ingest.kafka requires brokers and topic")
		}
	}

	switch cfg.Dispatch.Type {
	case "log":
	case "kafka":
		if len(cfg.Dispatch.Kafka.Brokers) == 0 || cfg.Dispatch.Kafka.Topic == "" {
			return fmt.Errorf("dispatch.kafka requires brokers and topic")
		}
	default:
		return fmt.Errorf("unsupported dispatch type: %s", cfg.Dispatch.Type)
	}

	return nil
}
