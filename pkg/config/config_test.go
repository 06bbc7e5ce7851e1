package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("symbols: [AAPL]\n"))
	require.NoError(t, err)

	assert.Equal(t, "tradecore", c.App.Name)
	assert.Equal(t, 60*time.Second, c.Scan.Interval)
	assert.Equal(t, 0.65, c.Execution.MinConfidence)
	assert.Equal(t, 20, c.Execution.DailyOrderLimit)
	assert.False(t, c.Execution.Enabled)
	assert.Equal(t, "paper", c.Broker.Type)
	assert.Equal(t, "memory", c.Store.Type)
	assert.Len(t, c.Strategies, len(DefaultStrategies()))
	assert.True(t, c.Risk.Checks.Correlation)
}

func TestParseKeepsExplicitZeroValues(t *testing.T) {
	c, err := Parse([]byte(`
symbols: [AAPL, MSFT]
http:
  enabled: false
risk:
  checks:
    correlation: false
strategies:
  - id: momentum
  - id: breakout
    enabled: false
    weight: 0.5
`))
	require.NoError(t, err)

	assert.False(t, c.HTTP.Enabled)
	assert.False(t, c.Risk.Checks.Correlation)
	assert.True(t, c.Risk.Checks.DailyLoss)
	require.Len(t, c.Strategies, 2)
	assert.True(t, c.Strategies[0].Enabled)
	assert.Equal(t, 1.0, c.Strategies[0].Weight)
	assert.False(t, c.Strategies[1].Enabled)
	assert.Equal(t, 0.5, c.Strategies[1].Weight)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"no symbols":         "symbols: []\n",
		"bad confidence":     "symbols: [AAPL]\nexecution:\n  min_confidence: 1.5\n",
		"inverted floor":     "symbols: [AAPL]\nsizing:\n  confidence_floor: 0.8\n  confidence_ceiling: 0.7\n",
		"bridge without url": "symbols: [AAPL]\nbroker:\n  type: bridge\n",
		"kafka no brokers":   "symbols: [AAPL]\nkafka:\n  enabled: true\n",
		"ticks need kafka":   "symbols: [AAPL]\nfinnhub:\n  backend: kafka\n",
		"finnhub no key":     "symbols: [AAPL]\nfinnhub:\n  enabled: true\n",
		"duplicate ids":      "symbols: [AAPL]\nstrategies:\n  - id: momentum\n  - id: momentum\n",
		"bad timezone":       "symbols: [AAPL]\napp:\n  timezone: Mars/Olympus\n",
		"unreachable floor":  "symbols: [AAPL]\nsizing:\n  min_order_value: 50\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	c := Default()
	c.Symbols = []string{"AAPL"}
	env := map[string]string{
		"TRADECORE_SYMBOLS":           " tsla, nvda ,,",
		"TRADECORE_EXECUTION_ENABLED": "true",
		"TRADECORE_BROKER_URL":        "http://bridge:9000",
		"TRADECORE_KAFKA_BROKERS":     "k1:9092,k2:9092",
		"TRADECORE_REDIS_ADDR":        "redis:6379",
	}
	require.NoError(t, c.applyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, []string{"tsla", "nvda"}, c.Symbols)
	assert.True(t, c.Execution.Enabled)
	assert.Equal(t, "bridge", c.Broker.Type)
	assert.Equal(t, "http://bridge:9000", c.Broker.BridgeURL)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.True(t, c.Redis.Enabled)
	assert.NoError(t, c.Validate())

	err := c.applyEnv(func(k string) string {
		if k == "TRADECORE_EXECUTION_ENABLED" {
			return "maybe"
		}
		return ""
	})
	assert.Error(t, err)
}

func TestLoadWithEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("symbols: [AAPL]\n"), 0o600))
	t.Setenv("TRADECORE_STORE_TYPE", "sqlite")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", c.Store.Type)

	t.Setenv("TRADECORE_STORE_TYPE", "postgres")
	_, err = LoadWithEnv(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLocation(t *testing.T) {
	c := Default()
	loc, err := c.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	c.App.Timezone = "UTC"
	loc, err = c.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}
