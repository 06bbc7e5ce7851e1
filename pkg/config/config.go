package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		Name        string `yaml:"name" default:"tradecore"`
		Environment string `yaml:"environment" default:"development" validate:"oneof=development staging production"`
		Timezone    string `yaml:"timezone" default:"Local"`
	} `yaml:"app"`

	Logging struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logging"`

	HTTP struct {
		Enabled         bool          `yaml:"enabled" default:"true"`
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"http"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	// Symbols is the tradable universe scanned each cycle.
	Symbols []string `yaml:"symbols" validate:"min=1,dive,required"`
	// Sectors maps symbol -> sector for concentration checks.
	Sectors map[string]string `yaml:"sectors"`

	Scan struct {
		Interval       time.Duration `yaml:"interval" default:"60s" validate:"gt=0"`
		MaxParallel    int           `yaml:"max_parallel" default:"4" validate:"gte=1"`
		HistoryWindow  int           `yaml:"history_window" default:"200" validate:"gte=10"`
		RunImmediately bool          `yaml:"run_immediately" default:"true"`
	} `yaml:"scan"`

	Strategies []StrategyConfig `yaml:"strategies" validate:"dive"`

	Consensus struct {
		InitialActive string        `yaml:"initial_active"`
		SwitchMargin  float64       `yaml:"switch_margin" default:"0.05" validate:"gte=0,lte=1"`
		SustainWindow time.Duration `yaml:"sustain_window" default:"30m"`
		MinDwell      time.Duration `yaml:"min_dwell" default:"2h"`
		MinSignals    int           `yaml:"min_signals" default:"10" validate:"gte=0"`
	} `yaml:"consensus"`

	Risk RiskConfig `yaml:"risk"`

	Sizing struct {
		BaseFraction           float64 `yaml:"base_fraction" default:"0.03" validate:"gte=0,lte=1"`
		MaxBonus               float64 `yaml:"max_bonus" default:"0.07" validate:"gte=0,lte=1"`
		ConfidenceFloor        float64 `yaml:"confidence_floor" default:"0.6" validate:"gte=0,lt=1"`
		ConfidenceCeiling      float64 `yaml:"confidence_ceiling" default:"0.9" validate:"gt=0,lte=1"`
		MaxFraction            float64 `yaml:"max_fraction" default:"0.10" validate:"gt=0,lte=1"`
		MinOrderValue          float64 `yaml:"min_order_value" default:"25" validate:"gt=0"`
		MaxOrderValue          float64 `yaml:"max_order_value" default:"1000" validate:"gt=0"`
		MaxBuyingPowerFraction float64 `yaml:"max_buying_power_fraction" default:"0.20" validate:"gt=0,lte=1"`
		MinBuyingPower         float64 `yaml:"min_buying_power" default:"125" validate:"gte=0"`
	} `yaml:"sizing"`

	Execution struct {
		Enabled          bool          `yaml:"enabled"`
		MinConfidence    float64       `yaml:"min_confidence" default:"0.65" validate:"gte=0,lte=1"`
		DailyOrderLimit  int           `yaml:"daily_order_limit" default:"20" validate:"gte=1"`
		Cooldown         time.Duration `yaml:"cooldown" default:"60s" validate:"gte=0"`
		BrokerTimeout    time.Duration `yaml:"broker_timeout" default:"10s" validate:"gt=0"`
		OrdersPerMinute  int           `yaml:"orders_per_minute" default:"10" validate:"gte=1"`
		BreakerThreshold int           `yaml:"breaker_threshold" default:"5" validate:"gte=1"`
		BreakerTimeout   time.Duration `yaml:"breaker_timeout" default:"2m"`
	} `yaml:"execution"`

	Learning struct {
		Interval              time.Duration `yaml:"interval" default:"15m" validate:"gt=0"`
		Lookback              time.Duration `yaml:"lookback" default:"720h"`
		Limit                 int           `yaml:"limit" default:"1000" validate:"gte=1"`
		MinClosedTrades       int           `yaml:"min_closed_trades" default:"25" validate:"gte=1"`
		MinTradesPerThreshold int           `yaml:"min_trades_per_threshold" default:"5" validate:"gte=1"`
		ApplyThresholds       bool          `yaml:"apply_thresholds"`
	} `yaml:"learning"`

	Broker struct {
		Type            string        `yaml:"type" default:"paper" validate:"oneof=paper bridge"`
		BridgeURL       string        `yaml:"bridge_url"`
		HistoryCacheTTL time.Duration `yaml:"history_cache_ttl" default:"30s"`
		UseFeedHistory  bool          `yaml:"use_feed_history"`
		Paper           struct {
			StartingCash float64 `yaml:"starting_cash" default:"10000" validate:"gte=0"`
			SlippageBps  float64 `yaml:"slippage_bps" default:"5" validate:"gte=0"`
			Seed         int64   `yaml:"seed" default:"42"`
		} `yaml:"paper"`
	} `yaml:"broker"`

	Store struct {
		Type         string        `yaml:"type" default:"memory" validate:"oneof=memory sqlite clickhouse"`
		SQLitePath   string        `yaml:"sqlite_path" default:"data/tradecore.db"`
		Workers      int           `yaml:"workers" default:"2" validate:"gte=1"`
		Buffer       int           `yaml:"buffer" default:"256" validate:"gte=1"`
		Attempts     int           `yaml:"attempts" default:"3" validate:"gte=0"`
		AttemptDelay time.Duration `yaml:"attempt_delay" default:"2s"`
		RetryLimit   int           `yaml:"retry_limit" default:"1000" validate:"gte=1"`
	} `yaml:"store"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"tradecore"`
	} `yaml:"redis"`

	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"tradecore"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`

	Kafka struct {
		Enabled       bool          `yaml:"enabled"`
		Brokers       []string      `yaml:"brokers"`
		EventsTopic   string        `yaml:"events_topic" default:"tradecore.events"`
		ErrorsTopic   string        `yaml:"errors_topic" default:"logging.errors"`
		TicksTopic    string        `yaml:"ticks_topic" default:"market.ticks"`
		ConsumerGroup string        `yaml:"consumer_group" default:"tradecore"`
		Workers       int           `yaml:"consumer_workers" default:"2" validate:"gte=1"`
		DLQTopic      string        `yaml:"dlq_topic"`
		RequiredAcks  int           `yaml:"required_acks" default:"1"`
		Compression   string        `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
		Async         bool          `yaml:"async" default:"true"`
		BatchTimeout  time.Duration `yaml:"batch_timeout" default:"50ms"`
	} `yaml:"kafka"`

	Finnhub struct {
		Enabled        bool          `yaml:"enabled"`
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"20s"`
		BarInterval    time.Duration `yaml:"bar_interval" default:"1m"`
		MaxBars        int           `yaml:"max_bars" default:"1000" validate:"gte=10"`
		MaxRPS         int           `yaml:"max_rps" default:"20" validate:"gte=0"`

		// Backend is where ticks go: straight into bars, or through kafka.ticks_topic.
		Backend string `yaml:"backend" default:"bars" validate:"oneof=bars kafka"`
	} `yaml:"finnhub"`
}

// StrategyConfig enables one registered strategy and carries its manual weight
// and tuning parameters.
type StrategyConfig struct {
	ID      string             `yaml:"id" validate:"required"`
	Enabled bool               `yaml:"enabled" default:"true"`
	Weight  float64            `yaml:"weight" default:"1" validate:"gte=0"`
	Params  map[string]float64 `yaml:"params"`
}

type RiskConfig struct {
	MaxDailyLossPercent float64 `yaml:"max_daily_loss_percent" default:"3" validate:"gt=0"`
	MaxPositionSize     float64 `yaml:"max_position_size" default:"0.10" validate:"gt=0,lte=1"`
	MaxSectorExposure   float64 `yaml:"max_sector_exposure" default:"0.30" validate:"gt=0,lte=1"`
	MaxCorrelation      float64 `yaml:"max_correlation" default:"0.85" validate:"gt=0,lte=1"`
	MinConfidenceBuy    float64 `yaml:"min_confidence_buy" default:"0.6" validate:"gte=0,lte=1"`
	MinConfidenceSell   float64 `yaml:"min_confidence_sell" default:"0.55" validate:"gte=0,lte=1"`
	AllowShort          bool    `yaml:"allow_short"`
	LowAgreement        float64 `yaml:"low_agreement" default:"0.6" validate:"gte=0,lte=1"`
	WarningPenalty      float64 `yaml:"warning_penalty" default:"0.1" validate:"gte=0,lte=1"`
	CorrelationWindow   int     `yaml:"correlation_window" default:"100" validate:"gte=10"`

	Checks struct {
		DailyLoss            bool `yaml:"daily_loss" default:"true"`
		PositionSize         bool `yaml:"position_size" default:"true"`
		SectorExposure       bool `yaml:"sector_exposure" default:"true"`
		Correlation          bool `yaml:"correlation" default:"true"`
		Confidence           bool `yaml:"confidence" default:"true"`
		SellRequiresPosition bool `yaml:"sell_requires_position" default:"true"`
	} `yaml:"checks"`
}

// UnmarshalYAML applies tag defaults to each list entry before decoding it,
// so omitted keys get defaults while explicit values (enabled: false) win.
func (s *StrategyConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain StrategyConfig
	var p plain
	if err := defaults.Set(&p); err != nil {
		return err
	}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*s = StrategyConfig(p)
	return nil
}

// DefaultStrategies is used when the config file enables none explicitly.
func DefaultStrategies() []StrategyConfig {
	ids := []string{"momentum", "mean_reversion", "macd_crossover", "breakout", "rsi_reversal"}
	out := make([]StrategyConfig, 0, len(ids))
	for _, id := range ids {
		out = append(out, StrategyConfig{ID: id, Enabled: true, Weight: 1})
	}
	return out
}

var validate = validator.New()

// Default returns a config populated only from struct tag defaults.
func Default() *Config {
	var c Config
	_ = defaults.Set(&c)
	c.Strategies = DefaultStrategies()
	return &c
}

// Load reads and parses a YAML configuration file. Tag defaults are applied
// first so that explicit zero values in the file (enabled: false) survive.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(c.Strategies) == 0 {
		c.Strategies = DefaultStrategies()
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with TRADECORE_* environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("TRADECORE_SYMBOLS"); v != "" {
		c.Symbols = splitList(v)
	}
	if v := getenv("TRADECORE_EXECUTION_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TRADECORE_EXECUTION_ENABLED: %w", err)
		}
		c.Execution.Enabled = b
	}
	if v := getenv("TRADECORE_STORE_TYPE"); v != "" {
		c.Store.Type = v
	}
	if v := getenv("TRADECORE_BROKER_URL"); v != "" {
		c.Broker.Type = "bridge"
		c.Broker.BridgeURL = v
	}
	if v := getenv("TRADECORE_REDIS_ADDR"); v != "" {
		c.Redis.Enabled = true
		c.Redis.Addr = v
	}
	if v := getenv("TRADECORE_CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("TRADECORE_CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := getenv("TRADECORE_KAFKA_BROKERS"); v != "" {
		c.Kafka.Enabled = true
		c.Kafka.Brokers = splitList(v)
	}
	if v := getenv("FINNHUB_API_KEY"); v != "" {
		c.Finnhub.APIKey = v
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks tag constraints and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	s := c.Sizing
	if s.ConfidenceCeiling <= s.ConfidenceFloor {
		return fmt.Errorf("sizing.confidence_ceiling must be greater than sizing.confidence_floor")
	}
	if s.MaxOrderValue < s.MinOrderValue {
		return fmt.Errorf("sizing.max_order_value must be >= sizing.min_order_value")
	}
	// Keeps every non-zero size at or above min_order_value.
	if s.MaxBuyingPowerFraction*s.MinBuyingPower < s.MinOrderValue {
		return fmt.Errorf("sizing: max_buying_power_fraction * min_buying_power (%.2f) must be >= min_order_value (%.2f)",
			s.MaxBuyingPowerFraction*s.MinBuyingPower, s.MinOrderValue)
	}
	if c.Broker.Type == "bridge" && c.Broker.BridgeURL == "" {
		return fmt.Errorf("broker.bridge_url is required when broker.type is 'bridge'")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Finnhub.Backend == "kafka" && !c.Kafka.Enabled {
		return fmt.Errorf("finnhub.backend 'kafka' requires kafka.enabled")
	}
	if c.Finnhub.Enabled && c.Finnhub.APIKey == "" {
		return fmt.Errorf("finnhub.api_key is required when finnhub is enabled")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("app.timezone: %w", err)
	}
	seen := make(map[string]bool, len(c.Strategies))
	for _, s := range c.Strategies {
		if seen[s.ID] {
			return fmt.Errorf("strategies: duplicate id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// Location resolves app.timezone; the daily order counter resets at midnight here.
func (c *Config) Location() (*time.Location, error) {
	if c.App.Timezone == "" || c.App.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.App.Timezone)
}
