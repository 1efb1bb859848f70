package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/gamification-engine/internal/application"
	"github.com/example/gamification-engine/internal/config"
	"github.com/example/gamification-engine/internal/experience"
	"github.com/example/gamification-engine/internal/logging"
	"github.com/example/gamification-engine/internal/persistence/sqlite"
	"github.com/example/gamification-engine/internal/progress"
	remotememory "github.com/example/gamification-engine/internal/remote/memory"
	"github.com/example/gamification-engine/internal/streak"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("failed to load timezone", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	store, err := sqlite.Open(cfg.SQLiteDSN)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := store.Migrate(context.Background()); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	engineCfg := streak.Config{
		EventsRequiredPerDay: cfg.EventsRequiredPerDay,
		LeewayHours:          cfg.LeewayHours,
		FreezeBehavior:       cfg.FreezeBehavior,
	}
	streakEngine := streak.NewEngine(location)
	experienceEngine := experience.NewEngine(location)

	streakRemote := remotememory.NewStreakService(streakEngine, engineCfg, time.Now)
	experienceRemote := remotememory.NewExperienceService(experienceEngine, time.Now)
	progressRemote := remotememory.NewProgressService()

	tracker := logging.NewSlogTracker(logger)

	streakManager, err := application.NewStreakManager(application.StreakConfig{
		GroupKey:             cfg.GroupKey,
		EventsRequiredPerDay: cfg.EventsRequiredPerDay,
		LeewayHours:          cfg.LeewayHours,
		FreezeBehavior:       cfg.FreezeBehavior,
		UseServerCalculation: cfg.UseServerCalculation,
	}, streakEngine, store, streakRemote, tracker, logger, nil, time.Now)
	if err != nil {
		logger.Error("failed to build streak manager", "error", err)
		os.Exit(1)
	}

	experienceManager, err := application.NewExperienceManager(application.ExperienceConfig{
		GroupKey:             cfg.GroupKey,
		UseServerCalculation: cfg.UseServerCalculation,
	}, experienceEngine, store, experienceRemote, tracker, logger, nil, time.Now)
	if err != nil {
		logger.Error("failed to build experience manager", "error", err)
		os.Exit(1)
	}

	progressManager, err := application.NewProgressManager(application.ProgressConfig{
		GroupKey: cfg.GroupKey,
	}, store, progressRemote, tracker, logger, nil, time.Now)
	if err != nil {
		logger.Error("failed to build progress manager", "error", err)
		os.Exit(1)
	}

	userID := resolveUserID(os.Getenv("GAMIFICATION_USER_ID"))
	if err := streakManager.LogIn(ctx, userID); err != nil {
		logger.Error("streak login failed", "error", err)
		os.Exit(1)
	}
	if err := experienceManager.LogIn(ctx, userID); err != nil {
		logger.Error("experience login failed", "error", err)
		os.Exit(1)
	}
	if err := progressManager.LogIn(ctx, userID); err != nil {
		logger.Error("progress login failed", "error", err)
		os.Exit(1)
	}

	unsubscribeStreak := streakManager.Subscribe(func(snapshot streak.Snapshot) {
		logger.Info("streak updated",
			"current", snapshot.CurrentStreak,
			"longest", snapshot.LongestStreak,
			"freezes_remaining", snapshot.FreezesRemaining)
	})
	defer unsubscribeStreak()

	unsubscribeExperience := experienceManager.Subscribe(func(snapshot experience.Snapshot) {
		logger.Info("experience updated",
			"total_points", snapshot.TotalPoints,
			"points_today", snapshot.PointsToday)
	})
	defer unsubscribeExperience()

	unsubscribeProgress := progressManager.Subscribe(
		func(item progress.Item) {
			logger.Info("progress updated", "item_key", item.Key, "value", item.Value)
		},
		func(key string) {
			logger.Info("progress removed", "item_key", key)
		},
	)
	defer unsubscribeProgress()

	logger.Info("gamification engine running",
		"group_key", cfg.GroupKey,
		"user_id", userID,
		"timezone", cfg.Timezone)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := streakManager.LogOut(shutdownCtx); err != nil {
		logger.Error("streak logout failed", "error", err)
	}
	if err := experienceManager.LogOut(shutdownCtx); err != nil {
		logger.Error("experience logout failed", "error", err)
	}
	if err := progressManager.LogOut(shutdownCtx); err != nil {
		logger.Error("progress logout failed", "error", err)
	}
	logger.Info("gamification engine stopped")
}

// resolveUserID falls back to a stable local identity when the
// environment names no user.
func resolveUserID(raw string) string {
	if raw == "" {
		return "local"
	}
	return raw
}
