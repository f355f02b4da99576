package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// loadConfig builds the service configuration from the tier defaults and
// KESTREL_* environment overrides.
func loadConfig(getenv func(string) string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if getenv("KESTREL_TIER") == string(domain.TierPro) {
		cfg = domain.ProConfig()
	}

	e := envReader{getenv: getenv}

	e.setString("KESTREL_HOST", &cfg.Server.Host)
	e.setInt("KESTREL_PORT", &cfg.Server.Port)
	e.setInt("KESTREL_ANALYSIS_TIMEOUT", &cfg.Server.AnalysisTimeout)
	e.setInt64("KESTREL_MAX_BODY_BYTES", &cfg.Server.MaxBodyBytes)

	e.setString("KESTREL_DB_DRIVER", &cfg.Repository.Driver)
	e.setString("KESTREL_SQLITE_PATH", &cfg.Repository.SQLitePath)
	e.setString("KESTREL_POSTGRES_HOST", &cfg.Repository.PostgresHost)
	e.setInt("KESTREL_POSTGRES_PORT", &cfg.Repository.PostgresPort)
	e.setString("KESTREL_POSTGRES_USER", &cfg.Repository.PostgresUser)
	e.setString("KESTREL_POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	e.setString("KESTREL_POSTGRES_DB", &cfg.Repository.PostgresDB)
	e.setString("KESTREL_POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)

	e.setString("KESTREL_CACHE_TYPE", &cfg.Cache.Type)
	e.setInt("KESTREL_CACHE_SIZE", &cfg.Cache.LocalMaxSize)
	e.setInt("KESTREL_CACHE_TTL", &cfg.Cache.LocalTTL)
	e.setString("KESTREL_REDIS_ADDR", &cfg.Cache.RedisAddr)
	e.setString("KESTREL_REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	e.setInt("KESTREL_REDIS_DB", &cfg.Cache.RedisDB)

	e.setString("KESTREL_BUS_TYPE", &cfg.EventBus.Type)
	e.setString("KESTREL_NATS_URL", &cfg.EventBus.NATSUrl)
	e.setString("KESTREL_NATS_TOKEN", &cfg.EventBus.NATSToken)
	e.setString("KESTREL_NATS_QUEUE", &cfg.EventBus.NATSQueueGroup)

	e.setBool("KESTREL_ASYNC_WORKER", &cfg.Worker.Enabled)
	e.setInt("KESTREL_MAX_DETECTORS", &cfg.Worker.MaxDetectors)
	e.setInt("KESTREL_HISTORY_DAYS", &cfg.Worker.HistoryDays)
	e.setInt("KESTREL_WORKER_CONCURRENCY", &cfg.Worker.Concurrency)

	e.setFloat("KESTREL_ALERT_THRESHOLD", &cfg.Alert.RiskScoreThreshold)

	var depth string
	e.setString("KESTREL_ANALYSIS_DEPTH", &depth)
	if depth != "" {
		cfg.Analysis.AnalysisDepth = domain.AnalysisDepth(depth)
	}
	e.setFloat("KESTREL_ANOMALY_THRESHOLD", &cfg.Analysis.AnomalyScoreThreshold)

	e.setString("KESTREL_LOG_LEVEL", &cfg.Logging.Level)
	e.setString("KESTREL_LOG_FORMAT", &cfg.Logging.Format)
	if getenv("KESTREL_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	e.setBool("KESTREL_TRACING", &cfg.Tracing.Enabled)

	if e.err != nil {
		return nil, e.err
	}
	if err := cfg.Analysis.Validate(); err != nil {
		return nil, err
	}
	if cfg.Alert.RiskScoreThreshold < 0 || cfg.Alert.RiskScoreThreshold > 100 {
		return nil, fmt.Errorf("KESTREL_ALERT_THRESHOLD must be within [0, 100], got %v", cfg.Alert.RiskScoreThreshold)
	}
	return cfg, nil
}

// tenantList parses the comma-separated KESTREL_TENANTS value.
func tenantList(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// newLogger builds the process logger from the logging settings.
func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// envReader applies environment overrides, keeping the first parse error.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) setString(key string, dst *string) {
	if v := e.getenv(key); v != "" {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	v := e.getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) setInt64(key string, dst *int64) {
	v := e.getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) setFloat(key string, dst *float64) {
	v := e.getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = f
}

func (e *envReader) setBool(key string, dst *bool) {
	v := e.getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}

func (e *envReader) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
}
