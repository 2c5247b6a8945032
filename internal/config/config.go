package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"

	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	DefaultDelay       time.Duration
	DefaultTimeout     time.Duration
	PollInterval       time.Duration
	PollBudget         time.Duration
	CompletedRetention time.Duration

	// OtherRetention and SweepInterval default to 2x and 1x DefaultTimeout.
	OtherRetention time.Duration
	SweepInterval  time.Duration
	MaxTasks       int

	Transport  string
	ServerPort string

	StoreBackend string
	RedisAddr    string
	RedisPass    string
	RedisDB      int

	LogLevel logrus.Level
}

// fileConfig mirrors the environment variables. Durations are milliseconds;
// zero values leave the current setting alone.
type fileConfig struct {
	TaskDelayMS          int    `yaml:"task_delay_ms"`
	TaskTimeoutMS        int    `yaml:"task_timeout_ms"`
	PollIntervalMS       int    `yaml:"poll_interval_ms"`
	PollBudgetMS         int    `yaml:"poll_budget_ms"`
	CompletedRetentionMS int    `yaml:"completed_retention_ms"`
	OtherRetentionMS     int    `yaml:"other_retention_ms"`
	SweepIntervalMS      int    `yaml:"sweep_interval_ms"`
	MaxTasks             int    `yaml:"max_tasks"`
	Transport            string `yaml:"transport"`
	ServerPort           string `yaml:"server_port"`
	StoreBackend         string `yaml:"store_backend"`
	RedisAddr            string `yaml:"redis_addr"`
	RedisPassword        string `yaml:"redis_password"`
	RedisDB              int    `yaml:"redis_db"`
	LogLevel             string `yaml:"log_level"`
}

func Default() *Config {
	return &Config{
		DefaultDelay:       5000 * time.Millisecond,
		DefaultTimeout:     30000 * time.Millisecond,
		PollInterval:       100 * time.Millisecond,
		PollBudget:         10000 * time.Millisecond,
		CompletedRetention: 300000 * time.Millisecond,
		MaxTasks:           1000,
		Transport:          TransportStdio,
		ServerPort:         "8080",
		StoreBackend:       BackendMemory,
		RedisAddr:          "localhost:6379",
		LogLevel:           logrus.InfoLevel,
	}
}

// Load applies, in order, the defaults, the YAML file at path (if path is
// non-empty) and the environment, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if cfg.OtherRetention == 0 {
		cfg.OtherRetention = 2 * cfg.DefaultTimeout
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = cfg.DefaultTimeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	setMillis(&c.DefaultDelay, f.TaskDelayMS)
	setMillis(&c.DefaultTimeout, f.TaskTimeoutMS)
	setMillis(&c.PollInterval, f.PollIntervalMS)
	setMillis(&c.PollBudget, f.PollBudgetMS)
	setMillis(&c.CompletedRetention, f.CompletedRetentionMS)
	setMillis(&c.OtherRetention, f.OtherRetentionMS)
	setMillis(&c.SweepInterval, f.SweepIntervalMS)
	if f.MaxTasks != 0 {
		c.MaxTasks = f.MaxTasks
	}
	setString(&c.Transport, f.Transport)
	setString(&c.ServerPort, f.ServerPort)
	setString(&c.StoreBackend, f.StoreBackend)
	setString(&c.RedisAddr, f.RedisAddr)
	setString(&c.RedisPass, f.RedisPassword)
	if f.RedisDB != 0 {
		c.RedisDB = f.RedisDB
	}
	if f.LogLevel != "" {
		lvl, err := logrus.ParseLevel(f.LogLevel)
		if err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
		c.LogLevel = lvl
	}
	return nil
}

func (c *Config) loadEnv() error {
	c.DefaultDelay = getEnvMillis("TASK_DELAY_MS", c.DefaultDelay)
	c.DefaultTimeout = getEnvMillis("TASK_TIMEOUT_MS", c.DefaultTimeout)
	c.PollInterval = getEnvMillis("POLL_INTERVAL_MS", c.PollInterval)
	c.PollBudget = getEnvMillis("POLL_BUDGET_MS", c.PollBudget)
	c.CompletedRetention = getEnvMillis("COMPLETED_RETENTION_MS", c.CompletedRetention)
	c.OtherRetention = getEnvMillis("OTHER_RETENTION_MS", c.OtherRetention)
	c.SweepInterval = getEnvMillis("SWEEP_INTERVAL_MS", c.SweepInterval)
	c.MaxTasks = getEnvInt("MAX_TASKS", c.MaxTasks)
	c.Transport = getEnv("TRANSPORT", c.Transport)
	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.StoreBackend = getEnv("STORE_BACKEND", c.StoreBackend)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPass = getEnv("REDIS_PASSWORD", c.RedisPass)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		lvl, err := logrus.ParseLevel(v)
		if err != nil {
			return fmt.Errorf("LOG_LEVEL: %w", err)
		}
		c.LogLevel = lvl
	}
	return nil
}

func (c *Config) Validate() error {
	durations := map[string]time.Duration{
		"task timeout":        c.DefaultTimeout,
		"poll interval":       c.PollInterval,
		"poll budget":         c.PollBudget,
		"completed retention": c.CompletedRetention,
		"other retention":     c.OtherRetention,
		"sweep interval":      c.SweepInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.DefaultDelay < 0 {
		return fmt.Errorf("task delay must not be negative, got %s", c.DefaultDelay)
	}
	if c.MaxTasks < 1 {
		return fmt.Errorf("max tasks must be at least 1")
	}

	switch c.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("invalid transport %q, must be: stdio or http", c.Transport)
	}
	switch c.StoreBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("invalid store backend %q, must be: memory or redis", c.StoreBackend)
	}
	return nil
}

// RecordTTL is the safety expiry put on externally stored records: long
// enough that the reaper always gets to them first.
func (c *Config) RecordTTL() time.Duration {
	return max(c.CompletedRetention, c.OtherRetention) + c.SweepInterval
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvMillis(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i) * time.Millisecond
		}
	}
	return fallback
}

func setMillis(dst *time.Duration, ms int) {
	if ms != 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
