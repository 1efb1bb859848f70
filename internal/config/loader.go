package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/example/gamification-engine/internal/sanitize"
	"github.com/example/gamification-engine/internal/streak"
)

// Config captures environment driven configuration for the engine daemon.
type Config struct {
	SQLiteDSN            string
	GroupKey             string
	Timezone             string
	EventsRequiredPerDay int
	LeewayHours          int
	FreezeBehavior       streak.FreezeBehavior
	UseServerCalculation bool
}

// Load parses configuration values from the current process environment.
//
// Optional fields fall back to defaults; invalid values are collected and
// reported together. The grouping key is sanitized here so managers built
// from this config never see a raw key.
func Load() (Config, error) {
	cfg := Config{
		SQLiteDSN:            "file:gamification.db",
		GroupKey:             sanitize.FallbackKey,
		Timezone:             "UTC",
		EventsRequiredPerDay: 1,
		FreezeBehavior:       streak.FreezeBehaviorNone,
	}

	invalid := make([]string, 0, 2)

	if dsn := strings.TrimSpace(os.Getenv("GAMIFICATION_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if groupKey := strings.TrimSpace(os.Getenv("GAMIFICATION_GROUP_KEY")); groupKey != "" {
		cfg.GroupKey = sanitize.Sanitize(groupKey)
	}

	if timezone := strings.TrimSpace(os.Getenv("GAMIFICATION_TIMEZONE")); timezone != "" {
		cfg.Timezone = timezone
	}

	if goalValue := strings.TrimSpace(os.Getenv("GAMIFICATION_EVENTS_PER_DAY")); goalValue != "" {
		goal, err := strconv.Atoi(goalValue)
		if err != nil || goal < 1 {
			invalid = append(invalid, "GAMIFICATION_EVENTS_PER_DAY")
		} else {
			cfg.EventsRequiredPerDay = goal
		}
	}

	if leewayValue := strings.TrimSpace(os.Getenv("GAMIFICATION_LEEWAY_HOURS")); leewayValue != "" {
		leeway, err := strconv.Atoi(leewayValue)
		if err != nil || leeway < 0 {
			invalid = append(invalid, "GAMIFICATION_LEEWAY_HOURS")
		} else {
			cfg.LeewayHours = leeway
		}
	}

	if behaviorValue := strings.TrimSpace(os.Getenv("GAMIFICATION_FREEZE_BEHAVIOR")); behaviorValue != "" {
		switch strings.ToLower(behaviorValue) {
		case "none":
			cfg.FreezeBehavior = streak.FreezeBehaviorNone
		case "auto":
			cfg.FreezeBehavior = streak.FreezeBehaviorAutoConsume
		case "manual":
			cfg.FreezeBehavior = streak.FreezeBehaviorManualConsume
		default:
			invalid = append(invalid, "GAMIFICATION_FREEZE_BEHAVIOR")
		}
	}

	if serverValue := strings.TrimSpace(os.Getenv("GAMIFICATION_SERVER_CALCULATION")); serverValue != "" {
		useServer, err := strconv.ParseBool(serverValue)
		if err != nil {
			invalid = append(invalid, "GAMIFICATION_SERVER_CALCULATION")
		} else {
			cfg.UseServerCalculation = useServer
		}
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}
