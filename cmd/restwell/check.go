package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/restwell/internal/config"
	"github.com/goodtune/restwell/internal/policy"
	"github.com/goodtune/restwell/internal/presence"
	"github.com/goodtune/restwell/internal/query"
	"github.com/goodtune/restwell/internal/reminder"
	"github.com/goodtune/restwell/internal/settings"
	"github.com/goodtune/restwell/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	checkDay   string
	checkTime  string
	checkState string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check decisions interactively",
	Long:  `Check what Restwell would decide for an app launch or the next reminder.`,
}

var checkPolicyCmd = &cobra.Command{
	Use:   "policy [flags] PACKAGE",
	Short: "Check whether an app would be blocked",
	Long:  `Check whether the blocking policy would block a package at a given time.`,
	Example: `  restwell -c config.yaml check policy com.example.game
  restwell check policy --day friday --time 23:30 --state winding_down com.example.video`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckPolicy,
}

var checkReminderCmd = &cobra.Command{
	Use:   "reminder",
	Short: "Show when the next reminder would fire",
	Long:  `Show when the next reminder would fire if the last one fired at the given time.`,
	Example: `  restwell check reminder
  restwell check reminder --day saturday --time 21:00`,
	Args: cobra.NoArgs,
	RunE: runCheckReminder,
}

func init() {
	checkPolicyCmd.Flags().StringVar(&checkDay, "day", "", "Day of week (monday, tuesday, etc.) - defaults to current day")
	checkPolicyCmd.Flags().StringVar(&checkTime, "time", "", "Time of day (HH:MM) - defaults to current time")
	checkPolicyCmd.Flags().StringVar(&checkState, "state", "", "Presence state to assume - defaults to the last stored state")

	checkReminderCmd.Flags().StringVar(&checkDay, "day", "", "Day of week of the last reminder - defaults to current day")
	checkReminderCmd.Flags().StringVar(&checkTime, "time", "", "Time of day (HH:MM) of the last reminder - defaults to current time")

	checkCmd.AddCommand(checkPolicyCmd)
	checkCmd.AddCommand(checkReminderCmd)
	rootCmd.AddCommand(checkCmd)
}

// checkEnv is the read-only wiring shared by the check commands.
type checkEnv struct {
	cfg   *config.Config
	store storage.Store
	svc   *query.Service
	loc   *time.Location
}

func openCheckEnv(logger zerolog.Logger) (*checkEnv, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	defaults, err := cfg.SettingsDefaults()
	if err != nil {
		return nil, err
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	registry, _ := loadSchedules(config.SchedulesConfig{Dir: cfg.Schedules.Dir}, logger)
	svc := query.NewService(query.Config{
		Store:     store,
		Files:     registry,
		Settings:  settings.NewStoreProvider(defaults, store.Settings()),
		Location:  loc,
		LookAhead: config.Duration(cfg.Reminder.MaxLookAhead, 7*24*time.Hour),
	}, logger)

	return &checkEnv{cfg: cfg, store: store, svc: svc, loc: loc}, nil
}

// fixedState reports a constant presence state.
type fixedState presence.State

func (f fixedState) State() presence.State { return presence.State(f) }

func runCheckPolicy(cmd *cobra.Command, args []string) error {
	pkg := args[0]

	at, err := checkInstant()
	if err != nil {
		return err
	}

	// Create a quiet logger for check mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	env, err := openCheckEnv(logger)
	if err != nil {
		return err
	}
	defer env.store.Close()

	ctx := context.Background()

	state := presence.Unknown
	if checkState != "" {
		state, err = presence.ParseState(checkState)
		if err != nil {
			return err
		}
	} else if last, err := env.store.Presence().LatestAtOrBefore(ctx, math.MaxInt64); err == nil {
		state = last.State
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to read presence state: %w", err)
	}

	engine, err := policy.NewEngine(env.cfg.Policy.PolicyDir, env.cfg.Policy.Allowlist, fixedState(state), env.svc, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Policy Engine: %w", err)
	}

	decision, err := engine.Check(ctx, pkg, at.In(env.loc))
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}

	printPolicyResult(at.In(env.loc), decision)
	return nil
}

func runCheckReminder(cmd *cobra.Command, args []string) error {
	last, err := checkInstant()
	if err != nil {
		return err
	}

	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	env, err := openCheckEnv(logger)
	if err != nil {
		return err
	}
	defer env.store.Close()

	next, err := env.svc.NextReminder(context.Background(), last.UnixMilli())
	printReminderResult(last.In(env.loc), next, env.loc, err)
	if err != nil && !errors.Is(err, reminder.ErrDisabled) {
		return err
	}
	return nil
}

func checkInstant() (time.Time, error) {
	if checkDay == "" && checkTime == "" {
		return time.Now(), nil
	}
	at, err := parseCheckTime(checkDay, checkTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --day or --time: %w", err)
	}
	return at, nil
}

func printBanner(title string) {
	cyan := color.New(color.FgCyan, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println(title)
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

func printFooter() {
	fmt.Println()
	color.New(color.FgCyan, color.Bold).Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

// printPolicyResult prints the policy check result with colors
func printPolicyResult(at time.Time, decision *policy.Decision) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	printBanner("APP POLICY CHECK")

	fmt.Printf("Package:    %s\n", decision.Package)
	fmt.Printf("State:      %s\n", decision.State)
	fmt.Printf("In Window:  %t\n", decision.InWindow)
	fmt.Printf("Check Time: %s (%s)\n", at.Format("2006-01-02 15:04"), at.Weekday())
	fmt.Println()

	cyan.Print("Decision:   ")
	if decision.Block {
		red.Println("BLOCK")
		fmt.Println("            → App launch will be blocked")
	} else {
		green.Println("ALLOW")
		fmt.Println("            → App launch will be allowed")
	}

	if decision.Reason != "" {
		fmt.Printf("Reason:     %s\n", decision.Reason)
	}

	printFooter()
}

// printReminderResult prints the next reminder with colors
func printReminderResult(last time.Time, next int64, loc *time.Location, err error) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	printBanner("REMINDER CHECK")

	fmt.Printf("Last Fired: %s (%s)\n", last.Format("2006-01-02 15:04"), last.Weekday())
	fmt.Println()

	cyan.Print("Next:       ")
	switch {
	case errors.Is(err, reminder.ErrDisabled):
		yellow.Println("DISABLED")
		fmt.Println("            → Reminders are turned off in settings")
	case err != nil:
		red.Println("ERROR")
		fmt.Printf("            → %v\n", err)
	default:
		at := time.UnixMilli(next).In(loc)
		green.Println(at.Format("2006-01-02 15:04"))
		fmt.Printf("            → %s after the last reminder\n", at.Sub(last).Round(time.Minute))
	}

	printFooter()
}

// parseCheckTime parses day and time flags into a time.Time
func parseCheckTime(dayStr, timeStr string) (time.Time, error) {
	now := time.Now()

	hour := now.Hour()
	minute := now.Minute()

	if timeStr != "" {
		parts := strings.Split(timeStr, ":")
		if len(parts) != 2 {
			return time.Time{}, fmt.Errorf("time must be in HH:MM format")
		}

		if _, err := fmt.Sscanf(timeStr, "%d:%d", &hour, &minute); err != nil {
			return time.Time{}, fmt.Errorf("invalid time format: %s", timeStr)
		}

		if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return time.Time{}, fmt.Errorf("invalid time: hour must be 0-23, minute must be 0-59")
		}
	}

	targetDay := now.Weekday()
	if dayStr != "" {
		switch strings.ToLower(dayStr) {
		case "sunday", "sun":
			targetDay = time.Sunday
		case "monday", "mon":
			targetDay = time.Monday
		case "tuesday", "tue":
			targetDay = time.Tuesday
		case "wednesday", "wed":
			targetDay = time.Wednesday
		case "thursday", "thu":
			targetDay = time.Thursday
		case "friday", "fri":
			targetDay = time.Friday
		case "saturday", "sat":
			targetDay = time.Saturday
		default:
			return time.Time{}, fmt.Errorf("invalid day: %s", dayStr)
		}
	}

	daysUntilTarget := int(targetDay - now.Weekday())
	if daysUntilTarget < 0 {
		daysUntilTarget += 7
	}

	targetDate := now.AddDate(0, 0, daysUntilTarget)
	return time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), hour, minute, 0, 0, now.Location()), nil
}
