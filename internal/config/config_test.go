package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
app:
  environment: test
exchange:
  market_data_venue: bybit
  venues:
    - name: Bybit
      enabled: true
      taker_fee: 0.0005
      markets:
        btc: BTC/USDT:USDT
risk:
  positions_venue: bybit
  delta_thresholds:
    btc: 0.5
execution:
  twap_interval: 250ms
database:
  in_memory: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaultsAndNormalizesKeys(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Environment)
	assert.Equal(t, 250*time.Millisecond, cfg.Execution.TWAPInterval)
	assert.Equal(t, 5, cfg.Execution.MaxConcurrentPerVenue)
	assert.InDelta(t, 0.002, cfg.Execution.DefaultMaxSlippage, 1e-12)

	venue, ok := cfg.Exchange.Venue("bybit")
	require.True(t, ok)
	assert.Equal(t, "bybit", venue.Name)
	assert.Equal(t, "BTC/USDT:USDT", venue.Market("btc"))
	assert.Equal(t, "BTC/USDT:USDT", venue.Market("BTC"))
	assert.Empty(t, venue.Market("ETH"))

	assert.InDelta(t, 0.5, cfg.Risk.DeltaThresholds["BTC"], 1e-12)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	cfg.Exchange.Venues = []VenueConfig{{Name: "okx", TakerFee: 0.5}}
	cfg.Exchange.MarketDataVenue = "kraken"
	cfg.Execution.DefaultMaxSlippage = 1.5
	cfg.Execution.MaxConcurrentPerVenue = 0

	err = cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "market_data_venue")
	assert.Contains(t, msg, "taker_fee")
	assert.Contains(t, msg, "default_max_slippage")
	assert.Contains(t, msg, "max_concurrent_per_venue")
}

func TestValidate_PaperModeNeedsNoVenues(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	cfg.Paper.Enabled = true
	cfg.Paper.Quotes = []PaperQuoteConfig{{Venue: "alpha", BestAsk: 101, BestBid: 99}}

	require.NoError(t, cfg.Validate())
}
