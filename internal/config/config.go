// Package config loads run configuration from defaults, an optional YAML file, .env files
// and GEODATACHECK_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/shpitdev/geodatacheck/internal/logging"
	"github.com/shpitdev/geodatacheck/pkg/columns"
	"github.com/shpitdev/geodatacheck/pkg/match"
	"github.com/shpitdev/geodatacheck/pkg/registry"
	"github.com/shpitdev/geodatacheck/pkg/rules"
)

// EnvPrefix prefixes every environment override, e.g. GEODATACHECK_REGISTRY_CONCURRENCY.
const EnvPrefix = "GEODATACHECK"

// Config is the full run configuration.
type Config struct {
	Registry RegistryConfig `mapstructure:"registry"`
	Match    MatchConfig    `mapstructure:"match"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Columns  ColumnsConfig  `mapstructure:"columns"`
	Log      LogConfig      `mapstructure:"log"`
}

type RegistryConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	CAPath          string        `mapstructure:"ca_path"`
	Concurrency     int           `mapstructure:"concurrency"`
	Sequential      bool          `mapstructure:"sequential"`
	SequentialDelay time.Duration `mapstructure:"sequential_delay"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	// RateLimitRPS caps concurrent request starts per second; 0 is unlimited.
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`
}

type MatchConfig struct {
	ToleranceMeters float64 `mapstructure:"tolerance_m"`
}

type PipelineConfig struct {
	BatchSize int `mapstructure:"batch_size"`
	// Rules restricts the enabled rule ids; empty enables all.
	Rules []string `mapstructure:"rules"`
}

type ColumnsConfig struct {
	// AliasesFile is an optional YAML alias table.
	AliasesFile string `mapstructure:"aliases_file"`
	// Map binds logical field names to input columns.
	Map map[string]string `mapstructure:"map"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("registry.base_url", registry.DefaultBaseURL)
	v.SetDefault("registry.ca_path", "")
	v.SetDefault("registry.concurrency", registry.DefaultConcurrency)
	v.SetDefault("registry.sequential", false)
	v.SetDefault("registry.sequential_delay", registry.DefaultSequentialDelay)
	v.SetDefault("registry.request_timeout", registry.DefaultRequestTimeout)
	v.SetDefault("registry.max_retries", registry.DefaultMaxRetries)
	v.SetDefault("registry.retry_backoff", registry.DefaultRetryBackoff)
	v.SetDefault("registry.rate_limit_rps", 0.0)
	v.SetDefault("match.tolerance_m", match.DefaultToleranceMeters)
	v.SetDefault("pipeline.batch_size", 100)
	v.SetDefault("pipeline.rules", []string{})
	v.SetDefault("columns.aliases_file", "")
	v.SetDefault("columns.map", map[string]string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logging.FormatAuto)
}

// Default returns the configuration with no file and no environment applied.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return c
}

// LoadDotEnv loads .env style files into the process environment. Missing files are
// skipped; variables already set are not overwritten.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the configuration. path may be empty; when set the file must exist.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	c.Pipeline.Rules = splitList(c.Pipeline.Rules)
	return c, c.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	r := c.Registry
	switch {
	case r.Concurrency < 1:
		return fmt.Errorf("registry.concurrency must be >= 1, got %d", r.Concurrency)
	case r.SequentialDelay <= 0:
		return fmt.Errorf("registry.sequential_delay must be > 0, got %s", r.SequentialDelay)
	case r.RequestTimeout <= 0:
		return fmt.Errorf("registry.request_timeout must be > 0, got %s", r.RequestTimeout)
	case r.MaxRetries < 0:
		return fmt.Errorf("registry.max_retries must be >= 0, got %d", r.MaxRetries)
	case r.RetryBackoff < 0:
		return fmt.Errorf("registry.retry_backoff must be >= 0, got %s", r.RetryBackoff)
	case r.RateLimitRPS < 0:
		return fmt.Errorf("registry.rate_limit_rps must be >= 0, got %g", r.RateLimitRPS)
	case c.Match.ToleranceMeters <= 0:
		return fmt.Errorf("match.tolerance_m must be > 0, got %g", c.Match.ToleranceMeters)
	case c.Pipeline.BatchSize < 1:
		return fmt.Errorf("pipeline.batch_size must be >= 1, got %d", c.Pipeline.BatchSize)
	}
	for _, id := range c.Pipeline.Rules {
		if _, ok := rules.Lookup(strings.ToUpper(strings.TrimSpace(id))); !ok {
			return fmt.Errorf("pipeline.rules: unknown rule id %q", id)
		}
	}
	for field := range c.Columns.Map {
		if _, ok := columns.ParseField(field); !ok {
			return fmt.Errorf("columns.map: unknown field %q", field)
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case logging.FormatAuto, logging.FormatConsole, logging.FormatJSON, "pretty":
	default:
		return fmt.Errorf("log.format must be auto, console or json, got %q", c.Log.Format)
	}
	return nil
}

// RegistryOptions converts the registry section for registry.NewClient.
func (c Config) RegistryOptions() registry.Options {
	r := c.Registry
	retries := r.MaxRetries
	if retries == 0 {
		// registry.Options treats zero as "use the default".
		retries = -1
	}
	return registry.Options{
		Concurrency:     r.Concurrency,
		Sequential:      r.Sequential,
		SequentialDelay: r.SequentialDelay,
		RequestTimeout:  r.RequestTimeout,
		MaxRetries:      retries,
		RetryBackoff:    r.RetryBackoff,
		RateLimitRPS:    r.RateLimitRPS,
	}
}

// HTTPOptions converts the registry section for registry.NewHTTPLookuper.
func (c Config) HTTPOptions(userAgent string) registry.HTTPOptions {
	return registry.HTTPOptions{
		BaseURL:   c.Registry.BaseURL,
		CAPath:    c.Registry.CAPath,
		Timeout:   c.Registry.RequestTimeout,
		UserAgent: userAgent,
	}
}

// splitList flattens comma separated entries, as env values arrive as one string.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
