// Package config loads guard settings from a file and the environment and
// builds the named breaker registry from them.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	resilience "github.com/JohnPlummer/jp-go-guard"
)

// EnvPrefix prefixes every environment variable read by Load,
// e.g. GUARD_RETRY_MAX_ATTEMPTS.
const EnvPrefix = "GUARD"

// Config is the file and environment representation of the guard settings.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	// Retry is the policy shared by every guarded call.
	Retry resilience.RetryPolicy `mapstructure:"retry"`

	// Dependencies pre-registers the llm, mcp and database breakers.
	// Entries in Breakers with the same name override them.
	Dependencies bool `mapstructure:"dependencies"`

	Breakers map[string]resilience.CircuitBreakerConfig `mapstructure:"breakers"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		LogLevel:     "info",
		Retry:        resilience.DefaultRetryPolicy(),
		Dependencies: true,
		Breakers:     map[string]resilience.CircuitBreakerConfig{},
	}
}

// Load reads path (YAML, JSON or TOML by extension) and GUARD_* environment
// variables on top of Default. An empty path reads the environment only.
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

	cfg, err := Decode(v.AllSettings())
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("dependencies", d.Dependencies)
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.min_wait", d.Retry.MinWait)
	v.SetDefault("retry.max_wait", d.Retry.MaxWait)
	v.SetDefault("retry.jitter", d.Retry.Jitter)
	v.SetDefault("retry.retryable_kinds", kindStrings(d.Retry.RetryableKinds))
}

// Decode converts raw settings into a Config. Strings are accepted for
// durations ("1s"), numbers and booleans, and comma separated kind lists.
func Decode(raw map[string]any) (Config, error) {
	cfg := Default()

	decoderConfig := &mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ZeroFields:       true,
		TagName:          "mapstructure",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToKindSliceHook(","),
			stringToErrorKindHook(),
			stringToStrategyHook(),
		),
	}

	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return Config{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// stringToKindSliceHook splits a separated string into kind names, which
// stringToErrorKindHook then parses element by element.
func stringToKindSliceHook(sep string) mapstructure.DecodeHookFuncType {
	kindType := reflect.TypeOf(resilience.ErrorKind(""))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Slice || to.Elem() != kindType {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}
		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}

// stringToErrorKindHook normalizes kind names and rejects unknown ones.
func stringToErrorKindHook() mapstructure.DecodeHookFuncType {
	kindType := reflect.TypeOf(resilience.ErrorKind(""))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != kindType {
			return data, nil
		}
		kind, ok := resilience.ParseErrorKind(data.(string))
		if !ok {
			return nil, fmt.Errorf("unknown error kind %q", data)
		}
		return kind, nil
	}
}

func stringToStrategyHook() mapstructure.DecodeHookFuncType {
	strategyType := reflect.TypeOf(resilience.BreakerStrategy(""))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != strategyType {
			return data, nil
		}
		return resilience.BreakerStrategy(strings.ToLower(strings.TrimSpace(data.(string)))), nil
	}
}

// Validate checks the retry policy and every breaker config.
func (c Config) Validate() error {
	var errs []error
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	for _, name := range sortedNames(c.Breakers) {
		cfg := c.Breakers[name]
		if cfg.Strategy == "" {
			cfg.Strategy = resilience.StrategyConsecutive
		}
		if err := cfg.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("breaker %q: %w", name, err))
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("%w: unknown log level %q", resilience.ErrInvalidConfig, c.LogLevel))
	}
	return errors.Join(errs...)
}

// BreakerConfigs returns the effective breaker configs: the dependency
// defaults when enabled, overridden by the configured breakers.
func (c Config) BreakerConfigs() map[string]resilience.CircuitBreakerConfig {
	out := make(map[string]resilience.CircuitBreakerConfig)
	if c.Dependencies {
		for name, cfg := range resilience.DependencyBreakerConfigs() {
			out[name] = cfg
		}
	}
	for name, cfg := range c.Breakers {
		out[name] = cfg
	}
	return out
}

// BuildRegistry registers every effective breaker in a new registry.
func (c Config) BuildRegistry(opts ...resilience.Option) (*resilience.Registry, error) {
	configs := c.BreakerConfigs()
	r := resilience.NewRegistry(opts...)
	for _, name := range sortedNames(configs) {
		if _, err := r.Register(name, configs[name]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func sortedNames(m map[string]resilience.CircuitBreakerConfig) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func kindStrings(kinds []resilience.ErrorKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
