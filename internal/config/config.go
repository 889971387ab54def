package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/jmehdipour/reader-gateway/internal/billing"
	"github.com/jmehdipour/reader-gateway/internal/model"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

const EnvPrefix = "READERGW"

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig      `mapstructure:"http"`
	Log        LogConfig       `mapstructure:"log"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	Ledger     LedgerConfig    `mapstructure:"ledger"`
	Pricing    billing.Pricing `mapstructure:"pricing"`
	Tiers      []model.Tier    `mapstructure:"tiers"`
	Alerts     AlertsConfig    `mapstructure:"alerts"`
	Extractor  ExtractorConfig `mapstructure:"extractor"`
	Projector  ProjectorConfig `mapstructure:"projector"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"` // debug|info|warn|error
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type RateLimitConfig struct {
	Store         string        `mapstructure:"store"` // memory|redis
	StoreTimeout  time.Duration `mapstructure:"store_timeout"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	Grace         time.Duration `mapstructure:"grace"`
	Shards        int           `mapstructure:"shards"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type LedgerConfig struct {
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AlertsConfig holds monthly quota thresholds in percent.
type AlertsConfig struct {
	WarningPercent  float64 `mapstructure:"warning_percent"`
	CriticalPercent float64 `mapstructure:"critical_percent"`
}

type BreakerConfig struct {
	FailThreshold int           `mapstructure:"fail_threshold"`
	OpenFor       time.Duration `mapstructure:"open_for"`
}

type ExtractorConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	MinTimeout     time.Duration `mapstructure:"min_timeout"`
	MaxTimeout     time.Duration `mapstructure:"max_timeout"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
}

type ProjectorConfig struct {
	Topic     string        `mapstructure:"topic"`
	GroupID   string        `mapstructure:"group_id"`
	BatchSize int           `mapstructure:"batch_size"`
	BatchWait time.Duration `mapstructure:"batch_wait"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies
// env overrides (READERGW_*, nested keys joined by "_").
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (READERGW_*)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail later at runtime.
// Tier contents are validated by the tier catalog.
func (c Config) Validate() error {
	if len(c.Tiers) == 0 {
		return fmt.Errorf("config: no tiers configured")
	}
	switch c.RateLimit.Store {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("config: rate_limit.store must be %q or %q, got %q", StoreMemory, StoreRedis, c.RateLimit.Store)
	}
	if c.Alerts.WarningPercent > c.Alerts.CriticalPercent {
		return fmt.Errorf("config: alerts.warning_percent (%v) above critical_percent (%v)",
			c.Alerts.WarningPercent, c.Alerts.CriticalPercent)
	}
	for name, d := range map[string]decimal.Decimal{
		"large_page_surcharge": c.Pricing.LargePageSurcharge,
		"image_surcharge":      c.Pricing.ImageSurcharge,
		"pdf_surcharge":        c.Pricing.PDFSurcharge,
	} {
		if d.IsNegative() {
			return fmt.Errorf("config: pricing.%s is negative", name)
		}
	}
	return nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToDecimalHookFunc(),
	)
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// stringToDecimalHookFunc decodes YAML numbers and quoted strings into
// decimal.Decimal. Quoting keeps a price exact regardless of float parsing.
func stringToDecimalHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(strings.TrimSpace(v))
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case uint64:
			return decimal.NewFromUint64(v), nil
		default:
			return data, nil
		}
	}
}
