package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "hedger"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default 返回仅包含默认值且未经校验的配置，调用方补全场所后再 Validate。
func Default() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("exchange.market_data_venue", "binanceusdm")
	v.SetDefault("exchange.retry.max_attempts", 5)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")
	v.SetDefault("exchange.breaker.consecutive_failures", 3)
	v.SetDefault("exchange.breaker.interval", "60s")
	v.SetDefault("exchange.breaker.timeout", "60s")
	v.SetDefault("exchange.order_book_depth", 50)
	v.SetDefault("exchange.candle_timeframe", "1d")
	v.SetDefault("exchange.candle_limit", 31)

	v.SetDefault("risk.positions_venue", "binanceusdm")
	v.SetDefault("risk.check_interval", "30s")
	v.SetDefault("risk.target_delta", 0.0)

	v.SetDefault("execution.twap_interval", "1s")
	v.SetDefault("execution.default_max_slippage", 0.002)
	v.SetDefault("execution.default_partial", true)
	v.SetDefault("execution.default_twap", true)
	v.SetDefault("execution.max_concurrent_per_venue", 5)
	v.SetDefault("execution.rate_limit_per_second", 10.0)
	v.SetDefault("execution.rate_limit_burst", 5)
	v.SetDefault("execution.order_book_parallelism", 4)

	v.SetDefault("database.path", "data/hedger.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.port", 8088)

	v.SetDefault("paper.enabled", false)
	v.SetDefault("paper.last_price", 100.0)
	v.SetDefault("paper.volatility", 0.05)
	v.SetDefault("paper.liquidity", 100000.0)
	v.SetDefault("paper.fill_ratio", 1.0)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
