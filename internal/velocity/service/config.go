package service

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls the guard's ceilings and scoring.
type Config struct {
	// Attempts per rolling hour, per action. Actions not listed use
	// DefaultActionLimit.
	ActionLimits       map[string]int
	DefaultActionLimit int

	// Absolute points ceiling over the trailing hour, derived from the
	// ledger so it survives restarts.
	HourlyPointsCeiling int64

	Cooldown   time.Duration
	SessionTTL time.Duration

	BanThreshold     int64
	ScoreRateLimited int64
	ScoreVelocity    int64
	ScoreDuplicate   int64
}

func DefaultConfig() Config {
	return Config{
		ActionLimits: map[string]int{
			"sync":       10,
			"redemption": 5,
		},
		DefaultActionLimit:  10,
		HourlyPointsCeiling: 1000,
		Cooldown:            30 * time.Minute,
		SessionTTL:          24 * time.Hour,
		BanThreshold:        100,
		ScoreRateLimited:    10,
		ScoreVelocity:       25,
		ScoreDuplicate:      15,
	}
}

func ProvideConfig() Config {
	cfg := DefaultConfig()
	if v := getenvInt64("VELOCITY_HOURLY_POINTS_CEILING", 0); v > 0 {
		cfg.HourlyPointsCeiling = v
	}
	if v := getenvInt64("VELOCITY_DEFAULT_ACTION_LIMIT", 0); v > 0 {
		cfg.DefaultActionLimit = int(v)
	}
	if v := getenvInt64("VELOCITY_BAN_THRESHOLD", 0); v > 0 {
		cfg.BanThreshold = v
	}
	if v := getenvInt64("VELOCITY_COOLDOWN_MINUTES", 0); v > 0 {
		cfg.Cooldown = time.Duration(v) * time.Minute
	}
	return cfg
}

func (c Config) limitFor(action string) int {
	if limit, ok := c.ActionLimits[action]; ok && limit > 0 {
		return limit
	}
	if c.DefaultActionLimit > 0 {
		return c.DefaultActionLimit
	}
	return 10
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}
