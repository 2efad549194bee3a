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
	Environment string `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	Log         struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	} `yaml:"log"`
	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" default:"2s"`
		CORSOrigins     []string      `yaml:"cors_origins" default:"[\"*\"]"`
		RateLimit       struct {
			RPS   float64 `yaml:"rps" default:"2" validate:"gt=0"`
			Burst int     `yaml:"burst" default:"5" validate:"gte=1"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Storage struct {
		// Backend selects the price and forecast store: clickhouse or memory.
		Backend string `yaml:"backend" default:"clickhouse" validate:"oneof=clickhouse memory"`
	} `yaml:"storage"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"gridvol"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		InitSchema       bool          `yaml:"init_schema" default:"true"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled" default:"true"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"10"`
		Prefix   string `yaml:"prefix" default:"gridvol"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"zstd" validate:"oneof=gzip snappy lz4 zstd"`
		Topics       struct {
			Prices    string `yaml:"prices" default:"gridvol.prices.hourly"`
			Forecasts string `yaml:"forecasts" default:"gridvol.forecasts"`
			Backtests string `yaml:"backtests" default:"gridvol.backtests"`
			Logs      string `yaml:"logs" default:"gridvol.logs"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"100ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID         string        `yaml:"group_id" default:"gridvol-ingest"`
			AutoOffsetReset string        `yaml:"auto_offset_reset" default:"earliest" validate:"oneof=earliest latest"`
			Workers         int           `yaml:"workers" default:"2"`
			BufferSize      int           `yaml:"buffer_size" default:"256"`
			RetryMax        int           `yaml:"retry_max" default:"3"`
			BackoffMin      time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax      time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic        string        `yaml:"dlq_topic" default:"gridvol.prices.dlq"`
			MinBytes        int           `yaml:"min_bytes" default:"1"`
			MaxBytes        int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Ingest struct {
		BatchSize     int           `yaml:"batch_size" default:"500" validate:"gte=1"`
		FlushInterval time.Duration `yaml:"flush_interval" default:"2s"`
		MaxPending    int           `yaml:"max_pending" default:"50000" validate:"gte=1"`
		MaxBackoff    time.Duration `yaml:"max_backoff" default:"30s"`
	} `yaml:"ingest"`
	Queue struct {
		Enabled    bool          `yaml:"enabled" default:"true"`
		Workers    int           `yaml:"workers" default:"2" validate:"gte=1"`
		RetryLimit int           `yaml:"retry_limit" default:"2"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
		JobTimeout time.Duration `yaml:"job_timeout" default:"10m"`
	} `yaml:"queue"`
	Notify struct {
		Enabled          bool          `yaml:"enabled"`
		URL              string        `yaml:"url" validate:"omitempty,url"`
		Token            string        `yaml:"token"`
		FailureThreshold uint32        `yaml:"failure_threshold" default:"3"`
		OpenTimeout      time.Duration `yaml:"open_timeout" default:"1m"`
		Timeout          time.Duration `yaml:"timeout" default:"5s"`
	} `yaml:"notify"`
	Scheduler struct {
		Enabled      bool          `yaml:"enabled" default:"true"`
		ForecastCron string        `yaml:"forecast_cron" default:"15 0 * * *"`
		BacktestCron string        `yaml:"backtest_cron" default:"0 3 * * 1"`
		Timeout      time.Duration `yaml:"timeout" default:"30m"`
	} `yaml:"scheduler"`
	Pipeline Pipeline `yaml:"pipeline"`
	Estimator struct {
		Method            string        `yaml:"method" default:"bfgs" validate:"oneof=bfgs nelder-mead"`
		MaxIterations     int           `yaml:"max_iterations" default:"500" validate:"gte=1"`
		MaxEvaluations    int           `yaml:"max_evaluations" default:"20000" validate:"gte=1"`
		Timeout           time.Duration `yaml:"timeout" default:"10s"`
		GradientTolerance float64       `yaml:"gradient_tolerance" default:"0.00001" validate:"gt=0"`
		BoundaryTolerance float64       `yaml:"boundary_tolerance" default:"0.0001" validate:"gt=0,lt=1"`
	} `yaml:"estimator"`
}

// Pipeline holds the forecasting knobs shared by every zone.
type Pipeline struct {
	Zones              []string      `yaml:"zones" validate:"required,min=1,dive,required,max=16"`
	Workers            int           `yaml:"workers" default:"4" validate:"gte=1"`
	LookbackHours      int           `yaml:"lookback_hours" default:"720" validate:"gte=2"`
	MinObservations    int           `yaml:"min_observations" default:"100" validate:"gte=30"`
	Horizon            int           `yaml:"horizon" default:"24" validate:"gte=1,lte=168"`
	Confidence         float64       `yaml:"confidence" default:"0.9" validate:"gt=0,lt=1"`
	Staleness          time.Duration `yaml:"staleness" default:"168h"`
	ErrorWindowDays    int           `yaml:"error_window_days" default:"7" validate:"gte=1"`
	ErrorThreshold     float64       `yaml:"error_threshold" default:"0.5" validate:"gt=0"`
	AllowStaleFallback bool          `yaml:"allow_stale_fallback" default:"true"`
	BacktestOnRun      bool          `yaml:"backtest_on_run"`
	BacktestDays       int           `yaml:"backtest_days" default:"30" validate:"gte=2"`
	ReuseDays          int           `yaml:"reuse_days" default:"1" validate:"gte=1"`
	LockTTL            time.Duration `yaml:"lock_ttl" default:"15m"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file. Missing fields take
// their defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			parts := strings.Split(v, ",")
			out := parts[:0]
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			*dst = out
		}
	}

	str("GRIDVOL_ENV", &c.Environment)
	str("GRIDVOL_LOG_LEVEL", &c.Log.Level)
	str("GRIDVOL_STORAGE", &c.Storage.Backend)
	str("CLICKHOUSE_HOST", &c.ClickHouse.Host)
	str("CLICKHOUSE_USER", &c.ClickHouse.User)
	str("CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	str("REDIS_HOST", &c.Redis.Host)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("NOTIFY_URL", &c.Notify.URL)
	str("NOTIFY_TOKEN", &c.Notify.Token)
	list("KAFKA_BROKERS", &c.Kafka.Brokers)
	list("GRIDVOL_ZONES", &c.Pipeline.Zones)

	if v, ok := lookup("GRIDVOL_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GRIDVOL_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if len(c.Kafka.Brokers) > 0 {
		if v, ok := lookup("KAFKA_ENABLED"); !ok || v != "false" {
			c.Kafka.Enabled = true
		}
	}
	return nil
}

// Validate checks tags first, then the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers required when kafka is enabled")
	}
	if c.Notify.Enabled && c.Notify.URL == "" {
		return fmt.Errorf("notify.url required when notify is enabled")
	}
	if c.Pipeline.LookbackHours+1 < c.Pipeline.MinObservations {
		return fmt.Errorf("pipeline.lookback_hours %d is shorter than min_observations %d",
			c.Pipeline.LookbackHours, c.Pipeline.MinObservations)
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("queue requires redis")
	}
	seen := make(map[string]bool, len(c.Pipeline.Zones))
	for _, z := range c.Pipeline.Zones {
		if seen[z] {
			return fmt.Errorf("pipeline.zones: duplicate zone %s", z)
		}
		seen[z] = true
	}
	return nil
}
