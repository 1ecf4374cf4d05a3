package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "AGENT"

var ErrInvalid = errors.New("invalid configuration")

// Config is the resolved run configuration.
type Config struct {
	Service            string        `mapstructure:"service"`
	EntryURL           string        `mapstructure:"entry_url"`
	Mode               string        `mapstructure:"mode"`
	DryRun             bool          `mapstructure:"dry_run"`
	MaxSteps           int           `mapstructure:"max_steps"`
	MaxRetries         int           `mapstructure:"max_retries"`
	HeuristicThreshold float64       `mapstructure:"heuristic_threshold"`
	Headless           bool          `mapstructure:"headless"`
	StorageState       string        `mapstructure:"storage_state"`
	Provider           string        `mapstructure:"provider"`
	ScreenshotMaxWidth int           `mapstructure:"screenshot_max_width"`
	ActionTimeout      time.Duration `mapstructure:"action_timeout"`
	LogLevel           string        `mapstructure:"log_level"`
	LogFile            string        `mapstructure:"log_file"`
}

// SetDefaults registers every key so env vars and flags resolve through Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("service", "mock")
	v.SetDefault("entry_url", "")
	v.SetDefault("mode", "adaptive")
	v.SetDefault("dry_run", false)
	v.SetDefault("max_steps", 25)
	v.SetDefault("max_retries", 3)
	v.SetDefault("heuristic_threshold", 0.7)
	v.SetDefault("headless", false)
	v.SetDefault("storage_state", "")
	v.SetDefault("provider", "anthropic")
	v.SetDefault("screenshot_max_width", 1024)
	v.SetDefault("action_timeout", 5*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
}

// Load resolves configuration from defaults, an optional config file, and
// AGENT_* environment variables, in increasing priority. Flags bound to v win
// over all of them. A missing default config file is fine; a missing
// explicit one is not.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	SetDefaults(v)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("agent")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Mode != "adaptive" && c.Mode != "step" {
		errs = append(errs, fmt.Errorf("mode %q must be adaptive or step", c.Mode))
	}
	if c.MaxSteps < 1 {
		errs = append(errs, fmt.Errorf("max_steps must be >= 1, got %d", c.MaxSteps))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max_retries must be >= 1, got %d", c.MaxRetries))
	}
	if c.HeuristicThreshold < 0 || c.HeuristicThreshold > 1 {
		errs = append(errs, fmt.Errorf("heuristic_threshold must be within [0,1], got %g", c.HeuristicThreshold))
	}
	if c.Provider != "anthropic" && c.Provider != "openai" {
		errs = append(errs, fmt.Errorf("provider %q must be anthropic or openai", c.Provider))
	}
	if c.ScreenshotMaxWidth < 0 {
		errs = append(errs, fmt.Errorf("screenshot_max_width must not be negative"))
	}
	if c.ActionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("action_timeout must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
