package main

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/restwell/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the Restwell configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		_, _ = fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		_, _ = fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, getDefaultConfig(), unknownKeys)
	}

	return nil
}

// getDefaultConfig creates a configuration with default values
func getDefaultConfig() *config.Config {
	v := viper.New()
	config.SetDefaults(v)

	var cfg config.Config
	_ = v.Unmarshal(&cfg)

	return &cfg
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] && !isPaletteKey(key) {
			unknown = append(unknown, key)
		}
	}

	return unknown, nil
}

// isPaletteKey accepts usage.palette, which viper reports as a single key
// holding a list.
func isPaletteKey(key string) bool {
	return key == "usage.palette" || strings.HasPrefix(key, "usage.palette.")
}

// getValidKeys returns a set of all valid configuration keys
func getValidKeys() map[string]bool {
	keys := map[string]bool{
		// Server
		"server.bind_address":     true,
		"server.api_port":         true,
		"server.metrics_port":     true,
		"server.timezone":         true,
		"server.shutdown_timeout": true,

		// Storage
		"storage.path":                 true,
		"storage.type":                 true,
		"storage.redis.host":           true,
		"storage.redis.port":           true,
		"storage.redis.password":       true,
		"storage.redis.db":             true,
		"storage.redis.pool_size":      true,
		"storage.redis.min_idle_conns": true,
		"storage.redis.dial_timeout":   true,
		"storage.redis.read_timeout":   true,
		"storage.redis.write_timeout":  true,

		// Logging
		"logging.level":          true,
		"logging.format":         true,
		"logging.retention_days": true,
		"logging.sweep_time":     true,

		// Presence
		"presence.auto_start":     true,
		"presence.reorder_window": true,
		"presence.tick_interval":  true,
		"presence.queue_size":     true,

		// Bedtime
		"bedtime.tracking_enabled":     true,
		"bedtime.inactivity_threshold": true,
		"bedtime.schedule_id":          true,
		"bedtime.manual_bedtime":       true,
		"bedtime.manual_wake":          true,
		"bedtime.precedence":           true,

		// Schedules
		"schedules.dir":   true,
		"schedules.watch": true,

		// Usage
		"usage.bin_size":         true,
		"usage.color_cache_size": true,

		// Reminder
		"reminder.enabled":        true,
		"reminder.interval":       true,
		"reminder.recheck":        true,
		"reminder.max_look_ahead": true,

		// Policy
		"policy.enabled":    true,
		"policy.policy_dir": true,
		"policy.allowlist":  true,

		// Ingest
		"ingest.enabled":        true,
		"ingest.kafka.brokers":  true,
		"ingest.kafka.topic":    true,
		"ingest.kafka.group_id": true,
		"ingest.kafka.key":      true,

		// Dispatch
		"dispatch.type":           true,
		"dispatch.kafka.brokers":  true,
		"dispatch.kafka.topic":    true,
		"dispatch.kafka.group_id": true,
		"dispatch.kafka.key":      true,
	}

	return keys
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	_, _ = cyan.Println("\n[server]")
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)
	dumpField("  api_port", cfg.Server.APIPort, defaultCfg.Server.APIPort, yellow, green)
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)
	dumpField("  timezone", cfg.Server.Timezone, defaultCfg.Server.Timezone, yellow, green)
	dumpField("  shutdown_timeout", cfg.Server.ShutdownTimeout, defaultCfg.Server.ShutdownTimeout, yellow, green)

	_, _ = cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	dumpField("  path", cfg.Storage.Path, defaultCfg.Storage.Path, yellow, green)
	_, _ = cyan.Println("  [storage.redis]")
	dumpField("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host, yellow, green)
	dumpField("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port, yellow, green)
	dumpField("    password", redactPassword(cfg.Storage.Redis.Password), redactPassword(defaultCfg.Storage.Redis.Password), yellow, green)
	dumpField("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB, yellow, green)
	dumpField("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize, yellow, green)
	dumpField("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns, yellow, green)
	dumpField("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout, yellow, green)
	dumpField("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout, yellow, green)
	dumpField("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout, yellow, green)

	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)
	dumpField("  retention_days", cfg.Logging.RetentionDays, defaultCfg.Logging.RetentionDays, yellow, green)
	dumpField("  sweep_time", cfg.Logging.SweepTime, defaultCfg.Logging.SweepTime, yellow, green)

	_, _ = cyan.Println("\n[presence]")
	dumpField("  auto_start", cfg.Presence.AutoStart, defaultCfg.Presence.AutoStart, yellow, green)
	dumpField("  reorder_window", cfg.Presence.ReorderWindow, defaultCfg.Presence.ReorderWindow, yellow, green)
	dumpField("  tick_interval", cfg.Presence.TickInterval, defaultCfg.Presence.TickInterval, yellow, green)
	dumpField("  queue_size", cfg.Presence.QueueSize, defaultCfg.Presence.QueueSize, yellow, green)

	_, _ = cyan.Println("\n[bedtime]")
	dumpField("  tracking_enabled", cfg.Bedtime.TrackingEnabled, defaultCfg.Bedtime.TrackingEnabled, yellow, green)
	dumpField("  inactivity_threshold", cfg.Bedtime.InactivityThreshold, defaultCfg.Bedtime.InactivityThreshold, yellow, green)
	dumpField("  schedule_id", cfg.Bedtime.ScheduleID, defaultCfg.Bedtime.ScheduleID, yellow, green)
	dumpField("  manual_bedtime", cfg.Bedtime.ManualBedtime, defaultCfg.Bedtime.ManualBedtime, yellow, green)
	dumpField("  manual_wake", cfg.Bedtime.ManualWake, defaultCfg.Bedtime.ManualWake, yellow, green)
	dumpField("  precedence", cfg.Bedtime.Precedence, defaultCfg.Bedtime.Precedence, yellow, green)

	_, _ = cyan.Println("\n[schedules]")
	dumpField("  dir", cfg.Schedules.Dir, defaultCfg.Schedules.Dir, yellow, green)
	dumpField("  watch", cfg.Schedules.Watch, defaultCfg.Schedules.Watch, yellow, green)

	_, _ = cyan.Println("\n[usage]")
	dumpField("  bin_size", cfg.Usage.BinSize, defaultCfg.Usage.BinSize, yellow, green)
	dumpField("  color_cache_size", cfg.Usage.ColorCacheSize, defaultCfg.Usage.ColorCacheSize, yellow, green)
	dumpField("  palette", len(cfg.Usage.Palette), len(defaultCfg.Usage.Palette), yellow, green)

	_, _ = cyan.Println("\n[reminder]")
	dumpField("  enabled", cfg.Reminder.Enabled, defaultCfg.Reminder.Enabled, yellow, green)
	dumpField("  interval", cfg.Reminder.Interval, defaultCfg.Reminder.Interval, yellow, green)
	dumpField("  recheck", cfg.Reminder.Recheck, defaultCfg.Reminder.Recheck, yellow, green)
	dumpField("  max_look_ahead", cfg.Reminder.MaxLookAhead, defaultCfg.Reminder.MaxLookAhead, yellow, green)

	_, _ = cyan.Println("\n[policy]")
	dumpField("  enabled", cfg.Policy.Enabled, defaultCfg.Policy.Enabled, yellow, green)
	dumpField("  policy_dir", cfg.Policy.PolicyDir, defaultCfg.Policy.PolicyDir, yellow, green)
	dumpField("  allowlist", cfg.Policy.Allowlist, defaultCfg.Policy.Allowlist, yellow, green)

	_, _ = cyan.Println("\n[ingest]")
	dumpField("  enabled", cfg.Ingest.Enabled, defaultCfg.Ingest.Enabled, yellow, green)
	dumpField("  kafka.brokers", cfg.Ingest.Kafka.Brokers, defaultCfg.Ingest.Kafka.Brokers, yellow, green)
	dumpField("  kafka.topic", cfg.Ingest.Kafka.Topic, defaultCfg.Ingest.Kafka.Topic, yellow, green)
	dumpField("  kafka.group_id", cfg.Ingest.Kafka.GroupID, defaultCfg.Ingest.Kafka.GroupID, yellow, green)

	_, _ = cyan.Println("\n[dispatch]")
	dumpField("  type", cfg.Dispatch.Type, defaultCfg.Dispatch.Type, yellow, green)
	dumpField("  kafka.brokers", cfg.Dispatch.Kafka.Brokers, defaultCfg.Dispatch.Kafka.Brokers, yellow, green)
	dumpField("  kafka.topic", cfg.Dispatch.Kafka.Topic, defaultCfg.Dispatch.Kafka.Topic, yellow, green)
	dumpField("  kafka.key", cfg.Dispatch.Kafka.Key, defaultCfg.Dispatch.Kafka.Key, yellow, green)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)

		_, _ = cyan.Println("\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Printf("  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
