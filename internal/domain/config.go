package domain

// Config holds the complete Kestrel service configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which collaborators back the engine
	Tier Tier `json:"tier"`

	// Analysis holds the default detector thresholds. Requests may override
	// individual fields.
	Analysis AnalysisConfig `json:"analysis"`

	// Alerting
	Alert AlertConfig `json:"alert"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Worker     WorkerConfig     `json:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// Upper bound for a single synchronous analysis
	AnalysisTimeout int `json:"analysisTimeout"` // seconds

	// Largest accepted request body
	MaxBodyBytes int64 `json:"maxBodyBytes"`
}

// AlertConfig controls when finished reports are published as alerts.
type AlertConfig struct {
	// Reports with riskScore at or above this value raise an alert
	RiskScoreThreshold float64 `json:"riskScoreThreshold"`
}

// WorkerConfig holds async analysis worker settings.
type WorkerConfig struct {
	Enabled bool `json:"enabled"`

	// Maximum detectors run at once per analysis
	MaxDetectors int `json:"maxDetectors"`

	// Days of stored history used to build the baseline profile
	HistoryDays int `json:"historyDays"`

	// Analyses run at once by the async worker
	Concurrency int `json:"concurrency"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-memory cache and channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for the Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30,
			WriteTimeout:    60,
			AnalysisTimeout: 30,
			MaxBodyBytes:    32 << 20,
		},
		Tier:     TierCommunity,
		Analysis: DefaultAnalysisConfig(),
		Alert: AlertConfig{
			RiskScoreThreshold: 70,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     300, // 5 minutes
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Enabled:      true,
			MaxDetectors: 8,
			HistoryDays:  365,
			Concurrency:  4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for the Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       60,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
