package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Logging     struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logging"`
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	Aggregator struct {
		MaxBatchSize int           `yaml:"max_batch_size"`
		FastTimeout  time.Duration `yaml:"fast_timeout"`
		SlowTimeout  time.Duration `yaml:"slow_timeout"`
		FastWindow   time.Duration `yaml:"fast_window"` // events younger than this route to the fast queue
		PollInterval time.Duration `yaml:"poll_interval"`
	} `yaml:"aggregator"`
	Cache struct {
		DefaultTTL       time.Duration `yaml:"default_ttl"`
		TimeBucket       time.Duration `yaml:"time_bucket"`
		MemoryBudgetMB   int64         `yaml:"memory_budget_mb"`
		MinHitRate       float64       `yaml:"min_hit_rate"` // below this + over budget triggers a pollution clear
		CleanupInterval  time.Duration `yaml:"cleanup_interval"`
		MinConfidence    float64       `yaml:"min_confidence"` // results below this are not cached
	} `yaml:"cache"`
	Router struct {
		Tiers          []TierConfig  `yaml:"tiers"`
		MaxAttempts    int           `yaml:"max_attempts"`
		BackoffBase    time.Duration `yaml:"backoff_base"`
		BackoffMax     time.Duration `yaml:"backoff_max"`
		BreakerTrips   int           `yaml:"breaker_trips"`
		BreakerCooloff time.Duration `yaml:"breaker_cooloff"`
		DailyBudgetUSD float64       `yaml:"daily_budget_usd"`
		DispatchLimit  int           `yaml:"dispatch_limit"` // concurrent dispatches per tier
	} `yaml:"router"`
	Features struct {
		Workers      int           `yaml:"workers"` // 0 = GOMAXPROCS
		EMAPeriods   []int         `yaml:"ema_periods"`
		RSIPeriod    int           `yaml:"rsi_period"`
		MACDFast     int           `yaml:"macd_fast"`
		MACDSlow     int           `yaml:"macd_slow"`
		MACDSignal   int           `yaml:"macd_signal"`
		Staleness    time.Duration `yaml:"staleness"` // vectors older than this are ignored
		Cadence      time.Duration `yaml:"cadence"`
	} `yaml:"features"`
	Synthesis struct {
		Enabled           bool               `yaml:"enabled"`
		Weights           map[string]float64 `yaml:"weights"`
		RiskVetoThreshold float64            `yaml:"risk_veto_threshold"`
	} `yaml:"synthesis"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		ResultsTopic string   `yaml:"results_topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		MaxAttempts  int      `yaml:"max_attempts"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port"`
		Database     string        `yaml:"database"`
		User         string        `yaml:"user"`
		Password     string        `yaml:"password"`
		UseHTTP      bool          `yaml:"use_http"`
		AsyncInsert  bool          `yaml:"async_insert"`
		WaitForAsync bool          `yaml:"wait_for_async_insert"`
		DialTimeout  time.Duration `yaml:"dial_timeout"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"clickhouse"`
	Feed struct {
		Enabled        bool          `yaml:"enabled"`
		URL            string        `yaml:"url"`
		Token          string        `yaml:"token"`
		Topics         []string      `yaml:"topics"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
	} `yaml:"feed"`
}

// TierConfig declares one model tier in the router config.
type TierConfig struct {
	ID               string        `yaml:"id"` // hot, warm, cold
	Model            string        `yaml:"model"`
	Endpoint         string        `yaml:"endpoint"`
	APIKeyEnv        string        `yaml:"api_key_env"`
	CostPer1KTokens  float64       `yaml:"cost_per_1k_tokens"`
	TypicalLatencyMS int64         `yaml:"typical_latency_ms"`
	CapabilityScore  float64       `yaml:"capability_score"`
	MaxTokens        int           `yaml:"max_tokens"`
	Timeout          time.Duration `yaml:"timeout"`
	RateLimitRPM     float64       `yaml:"rate_limit_rpm"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("FEED_TOKEN"); v != "" {
		c.Feed.Token = v
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Aggregator.MaxBatchSize == 0 {
		c.Aggregator.MaxBatchSize = 100
	}
	if c.Aggregator.FastTimeout == 0 {
		c.Aggregator.FastTimeout = 30 * time.Second
	}
	if c.Aggregator.SlowTimeout == 0 {
		c.Aggregator.SlowTimeout = 6 * time.Hour
	}
	if c.Aggregator.FastWindow == 0 {
		c.Aggregator.FastWindow = 5 * time.Minute
	}
	if c.Aggregator.PollInterval == 0 {
		c.Aggregator.PollInterval = time.Second
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = 5 * time.Minute
	}
	if c.Cache.TimeBucket == 0 {
		c.Cache.TimeBucket = 5 * time.Minute
	}
	if c.Cache.MemoryBudgetMB == 0 {
		c.Cache.MemoryBudgetMB = 512
	}
	if c.Cache.MinHitRate == 0 {
		c.Cache.MinHitRate = 0.2
	}
	if c.Cache.CleanupInterval == 0 {
		c.Cache.CleanupInterval = 5 * time.Minute
	}
	if c.Cache.MinConfidence == 0 {
		c.Cache.MinConfidence = 0.3
	}
	if c.Router.MaxAttempts == 0 {
		c.Router.MaxAttempts = 3
	}
	if c.Router.BackoffBase == 0 {
		c.Router.BackoffBase = 200 * time.Millisecond
	}
	if c.Router.BackoffMax == 0 {
		c.Router.BackoffMax = 5 * time.Second
	}
	if c.Router.BreakerTrips == 0 {
		c.Router.BreakerTrips = 5
	}
	if c.Router.BreakerCooloff == 0 {
		c.Router.BreakerCooloff = 30 * time.Second
	}
	if c.Router.DispatchLimit == 0 {
		c.Router.DispatchLimit = 4
	}
	if len(c.Features.EMAPeriods) == 0 {
		c.Features.EMAPeriods = []int{5, 20, 50}
	}
	if c.Features.RSIPeriod == 0 {
		c.Features.RSIPeriod = 14
	}
	if c.Features.MACDFast == 0 {
		c.Features.MACDFast = 12
	}
	if c.Features.MACDSlow == 0 {
		c.Features.MACDSlow = 26
	}
	if c.Features.MACDSignal == 0 {
		c.Features.MACDSignal = 9
	}
	if c.Features.Staleness == 0 {
		c.Features.Staleness = 2 * time.Minute
	}
	if c.Features.Cadence == 0 {
		c.Features.Cadence = 15 * time.Second
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if len(c.Router.Tiers) == 0 {
		return fmt.Errorf("router.tiers must declare at least one tier")
	}
	for i, t := range c.Router.Tiers {
		switch t.ID {
		case "hot", "warm", "cold":
		default:
			return fmt.Errorf("router.tiers[%d].id must be hot, warm or cold", i)
		}
		if t.CapabilityScore <= 0 || t.CapabilityScore > 1 {
			return fmt.Errorf("router.tiers[%d].capability_score must be in (0,1]", i)
		}
		if t.CostPer1KTokens < 0 {
			return fmt.Errorf("router.tiers[%d].cost_per_1k_tokens must be >= 0", i)
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers required when kafka is enabled")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host required when clickhouse is enabled")
	}
	if c.Feed.Enabled && c.Feed.URL == "" {
		return fmt.Errorf("feed.url required when feed is enabled")
	}
	return nil
}
