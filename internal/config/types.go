package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了对冲执行系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Paper     PaperConfig     `mapstructure:"paper"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述可用交易场所及其公共调用策略。
type ExchangeConfig struct {
	MarketDataVenue string        `mapstructure:"market_data_venue"`
	Venues          []VenueConfig `mapstructure:"venues"`
	Retry           RetryConfig   `mapstructure:"retry"`
	Breaker         BreakerConfig `mapstructure:"breaker"`
	OrderBookDepth  int           `mapstructure:"order_book_depth"`
	CandleTimeframe string        `mapstructure:"candle_timeframe"`
	CandleLimit     int           `mapstructure:"candle_limit"`
}

// VenueConfig 描述单个交易场所的连接信息。
type VenueConfig struct {
	Name       string            `mapstructure:"name"`
	Enabled    bool              `mapstructure:"enabled"`
	APIKey     string            `mapstructure:"api_key"`
	APISecret  string            `mapstructure:"api_secret"`
	APIPass    string            `mapstructure:"api_password"`
	UseSandbox bool              `mapstructure:"use_sandbox"`
	Wallet     string            `mapstructure:"wallet_address"`
	PrivateKey string            `mapstructure:"private_key"`
	TakerFee   float64           `mapstructure:"taker_fee"`
	Markets    map[string]string `mapstructure:"markets"`
}

// Market 返回品种在该场所的交易对，未配置时返回空串。
func (v VenueConfig) Market(symbol string) string {
	return v.Markets[strings.ToUpper(strings.TrimSpace(symbol))]
}

// RetryConfig 统一控制行情类调用的重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// BreakerConfig 控制每个场所的熔断器。
type BreakerConfig struct {
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

// RiskConfig 描述持仓来源与自动对冲阈值。
type RiskConfig struct {
	PositionsVenue  string             `mapstructure:"positions_venue"`
	DeltaThresholds map[string]float64 `mapstructure:"delta_thresholds"`
	CheckInterval   time.Duration      `mapstructure:"check_interval"`
	TargetDelta     float64            `mapstructure:"target_delta"`
}

// ExecutionConfig 控制对冲执行行为。
type ExecutionConfig struct {
	TWAPInterval          time.Duration `mapstructure:"twap_interval"`
	DefaultMaxSlippage    float64       `mapstructure:"default_max_slippage"`
	DefaultPartial        bool          `mapstructure:"default_partial"`
	DefaultTWAP           bool          `mapstructure:"default_twap"`
	MaxConcurrentPerVenue int           `mapstructure:"max_concurrent_per_venue"`
	RateLimitPerSecond    float64       `mapstructure:"rate_limit_per_second"`
	RateLimitBurst        int           `mapstructure:"rate_limit_burst"`
	OrderBookParallelism  int           `mapstructure:"order_book_parallelism"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MonitorConfig 控制监控 HTTP 接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// PaperConfig 控制模拟撮合场所。
type PaperConfig struct {
	Enabled       bool               `mapstructure:"enabled"`
	LastPrice     float64            `mapstructure:"last_price"`
	Volatility    float64            `mapstructure:"volatility"`
	Liquidity     float64            `mapstructure:"liquidity"`
	FillRatio     float64            `mapstructure:"fill_ratio"`
	FailingVenues []string           `mapstructure:"failing_venues"`
	Quotes        []PaperQuoteConfig `mapstructure:"quotes"`
	Positions     map[string]float64 `mapstructure:"positions"`
}

// PaperQuoteConfig 为模拟场所的固定盘口。
type PaperQuoteConfig struct {
	Venue   string  `mapstructure:"venue"`
	BestAsk float64 `mapstructure:"best_ask"`
	BestBid float64 `mapstructure:"best_bid"`
	Depth   float64 `mapstructure:"depth"`
	Fee     float64 `mapstructure:"fee"`
	Latency float64 `mapstructure:"latency"`
}

// Venue 根据名称查找场所配置。
func (c ExchangeConfig) Venue(name string) (VenueConfig, bool) {
	for _, v := range c.Venues {
		if strings.EqualFold(v.Name, name) {
			return v, true
		}
	}
	return VenueConfig{}, false
}

// normalize 统一品种键为大写，viper 会把 map 键转为小写。
func (c *Config) normalize() {
	for i := range c.Exchange.Venues {
		markets := make(map[string]string, len(c.Exchange.Venues[i].Markets))
		for k, v := range c.Exchange.Venues[i].Markets {
			markets[strings.ToUpper(k)] = v
		}
		c.Exchange.Venues[i].Markets = markets
		c.Exchange.Venues[i].Name = strings.ToLower(strings.TrimSpace(c.Exchange.Venues[i].Name))
	}
	thresholds := make(map[string]float64, len(c.Risk.DeltaThresholds))
	for k, v := range c.Risk.DeltaThresholds {
		thresholds[strings.ToUpper(k)] = v
	}
	c.Risk.DeltaThresholds = thresholds

	positions := make(map[string]float64, len(c.Paper.Positions))
	for k, v := range c.Paper.Positions {
		positions[strings.ToUpper(k)] = v
	}
	c.Paper.Positions = positions
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}

	if !c.Paper.Enabled {
		if len(c.Exchange.Venues) == 0 {
			err = multierr.Append(err, errors.New("exchange.venues 至少配置一个场所"))
		}
		if _, ok := c.Exchange.Venue(c.Exchange.MarketDataVenue); !ok {
			err = multierr.Append(err, fmt.Errorf("exchange.market_data_venue %q 未在 venues 中配置", c.Exchange.MarketDataVenue))
		}
		if _, ok := c.Exchange.Venue(c.Risk.PositionsVenue); !ok {
			err = multierr.Append(err, fmt.Errorf("risk.positions_venue %q 未在 venues 中配置", c.Risk.PositionsVenue))
		}
	}
	seen := make(map[string]struct{}, len(c.Exchange.Venues))
	for _, v := range c.Exchange.Venues {
		if v.Name == "" {
			err = multierr.Append(err, errors.New("exchange.venues[].name 不能为空"))
			continue
		}
		if _, dup := seen[v.Name]; dup {
			err = multierr.Append(err, fmt.Errorf("exchange.venues 存在重复场所 %s", v.Name))
		}
		seen[v.Name] = struct{}{}
		if v.TakerFee < 0 || v.TakerFee > 0.01 {
			err = multierr.Append(err, fmt.Errorf("exchange.venues[%s].taker_fee 应位于[0,0.01]", v.Name))
		}
		if strings.EqualFold(v.Name, "hyperliquid") && v.Enabled && (v.Wallet == "" || v.PrivateKey == "") {
			err = multierr.Append(err, errors.New("hyperliquid 交易需要配置 wallet_address 与 private_key"))
		}
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Exchange.Breaker.ConsecutiveFailures == 0 {
		err = multierr.Append(err, errors.New("exchange.breaker.consecutive_failures 必须大于0"))
	}
	if c.Exchange.OrderBookDepth <= 0 {
		err = multierr.Append(err, errors.New("exchange.order_book_depth 必须大于0"))
	}
	if c.Exchange.CandleLimit < 2 {
		err = multierr.Append(err, errors.New("exchange.candle_limit 至少为2"))
	}

	for symbol, threshold := range c.Risk.DeltaThresholds {
		if threshold <= 0 {
			err = multierr.Append(err, fmt.Errorf("risk.delta_thresholds[%s] 必须大于0", symbol))
		}
	}
	if len(c.Risk.DeltaThresholds) > 0 && c.Risk.CheckInterval <= 0 {
		err = multierr.Append(err, errors.New("risk.check_interval 必须大于0"))
	}

	if c.Execution.TWAPInterval < 0 {
		err = multierr.Append(err, errors.New("execution.twap_interval 不能为负"))
	}
	if c.Execution.DefaultMaxSlippage < 0 || c.Execution.DefaultMaxSlippage >= 1 {
		err = multierr.Append(err, errors.New("execution.default_max_slippage 应位于[0,1)"))
	}
	if c.Execution.MaxConcurrentPerVenue <= 0 {
		err = multierr.Append(err, errors.New("execution.max_concurrent_per_venue 必须大于0"))
	}
	if c.Execution.RateLimitPerSecond <= 0 {
		err = multierr.Append(err, errors.New("execution.rate_limit_per_second 必须大于0"))
	}
	if c.Execution.RateLimitBurst <= 0 {
		err = multierr.Append(err, errors.New("execution.rate_limit_burst 必须大于0"))
	}
	if c.Execution.OrderBookParallelism <= 0 {
		err = multierr.Append(err, errors.New("execution.order_book_parallelism 必须大于0"))
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}

	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 应位于(0,65535]"))
	}

	if c.Paper.Enabled {
		if c.Paper.FillRatio <= 0 || c.Paper.FillRatio > 1 {
			err = multierr.Append(err, errors.New("paper.fill_ratio 应位于(0,1]"))
		}
		if c.Paper.LastPrice <= 0 {
			err = multierr.Append(err, errors.New("paper.last_price 必须大于0"))
		}
		if len(c.Paper.Quotes) == 0 {
			err = multierr.Append(err, errors.New("paper.quotes 至少配置一个盘口"))
		}
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
