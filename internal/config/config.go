// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	AppEnv      string
	AppName     string
	LogLevel    string
	MetricsPort string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// Validation lifecycle defaults.
	MinFeedbackRequired  int
	ApprovalThreshold    float64
	NativeValidatorBonus float64
	MinParticipants      int
	StrongConsensusLevel float64

	// Expiry sweep of validations stuck in Pending.
	PendingTTL    time.Duration
	SweepSchedule string

	// Asynchronous event dispatch; zero workers means synchronous delivery.
	EventWorkers   int
	EventQueueSize int
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:        os.Getenv("APP_ENV"),
		AppName:       os.Getenv("APP_NAME"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		MetricsPort:   os.Getenv("METRICS_PORT"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		SweepSchedule: os.Getenv("SWEEP_SCHEDULE"),
	}
	if cfg.AppName == "" {
		cfg.AppName = "validation-engine"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@every 1h"
	}

	var err error
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RedisPoolSize, err = intEnv("REDIS_POOL_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.MinFeedbackRequired, err = intEnv("MIN_FEEDBACK_REQUIRED", 3); err != nil {
		return nil, err
	}
	if cfg.MinParticipants, err = intEnv("MIN_PARTICIPANTS", 3); err != nil {
		return nil, err
	}
	if cfg.EventWorkers, err = intEnv("EVENT_WORKERS", 0); err != nil {
		return nil, err
	}
	if cfg.EventQueueSize, err = intEnv("EVENT_QUEUE_SIZE", 1024); err != nil {
		return nil, err
	}
	if cfg.ApprovalThreshold, err = floatEnv("APPROVAL_THRESHOLD", 0.7); err != nil {
		return nil, err
	}
	if cfg.NativeValidatorBonus, err = floatEnv("NATIVE_VALIDATOR_BONUS", 0.25); err != nil {
		return nil, err
	}
	if cfg.StrongConsensusLevel, err = floatEnv("STRONG_CONSENSUS_LEVEL", 0.8); err != nil {
		return nil, err
	}
	if cfg.PendingTTL, err = durationEnv("PENDING_TTL", 30*24*time.Hour); err != nil {
		return nil, err
	}
	return cfg, nil
}

func intEnv(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return i, nil
}

func floatEnv(name string, fallback float64) (float64, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return f, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}
