package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every key when reading overrides from the
// environment, e.g. SOFTMAX_WORKERS.
const EnvPrefix = "SOFTMAX"

type Config struct {
	// Workers sizes the worker pool. 0 means GOMAXPROCS.
	Workers int `mapstructure:"workers"`
	// Batches with fewer elements than this run on the caller's goroutine.
	MinParallelElements int `mapstructure:"min_parallel_elements"`
	// RowBatch is how many rows a worker claims at a time. 0 splits rows
	// into one static chunk per worker.
	RowBatch    int  `mapstructure:"row_batch"`
	AuditOutput bool `mapstructure:"audit_output"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	FlightAddr  string `mapstructure:"flight_addr"`
}

func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("invalid workers: %d (must be non-negative)", c.Workers)
	}
	if c.MinParallelElements < 0 {
		return fmt.Errorf("invalid min_parallel_elements: %d (must be non-negative)", c.MinParallelElements)
	}
	if c.RowBatch < 0 {
		return fmt.Errorf("invalid row_batch: %d (must be non-negative)", c.RowBatch)
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format: %q (must be console or json)", c.LogFormat)
	}
	return nil
}

func Default() Config {
	return Config{
		Workers:             0,
		MinParallelElements: 16384,
		RowBatch:            4,
		LogLevel:            "info",
		LogFormat:           "console",
		MetricsAddr:         ":9090",
		FlightAddr:          "localhost:8815",
	}
}

// Load reads defaults, then the optional YAML/JSON/TOML file at path, then
// SOFTMAX_* environment variables, then any changed flags in fs whose names
// match a key with "-" for "_".
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("workers", def.Workers)
	v.SetDefault("min_parallel_elements", def.MinParallelElements)
	v.SetDefault("row_batch", def.RowBatch)
	v.SetDefault("audit_output", def.AuditOutput)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)
	v.SetDefault("metrics_addr", def.MetricsAddr)
	v.SetDefault("flight_addr", def.FlightAddr)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if fs != nil {
		for _, key := range v.AllKeys() {
			if f := fs.Lookup(strings.ReplaceAll(key, "_", "-")); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("failed to bind flag %s: %w", f.Name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
