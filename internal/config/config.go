// Package config loads compiler settings from a config file, environment
// variables, and defaults, in that order of increasing precedence for the
// environment. Load returns a plain struct; nothing in this package is
// global.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/kubiyabot/workflow-compiler/internal/pluginapi"
)

const (
	// AppName is used for the config file name (wfc.yaml).
	AppName = "wfc"

	// EnvPrefix is the prefix for environment variables, e.g.
	// WFC_GENERATOR_OPENAI_API_KEY.
	EnvPrefix = "WFC"
)

// Isolation modes for candidate evaluation.
const (
	IsolationInProcess  = "in_process"
	IsolationSubprocess = "subprocess"
)

// Refinement policies.
const (
	PolicyLastRound   = "last_round"
	PolicyFullHistory = "full_history"
)

// Config holds all settings for the compiler.
type Config struct {
	Debug     bool   `mapstructure:"debug"`
	LogFormat string `mapstructure:"log_format"`

	Generator struct {
		// Provider is openai, command, or a name registered through
		// the plugin API.
		Provider  string `mapstructure:"provider"`
		Model     string `mapstructure:"model"`
		MaxTokens int    `mapstructure:"max_tokens"`

		OpenAI struct {
			APIKey  string `mapstructure:"api_key"`
			BaseURL string `mapstructure:"base_url"`
		} `mapstructure:"openai"`

		Command struct {
			Command string `mapstructure:"command"`
			Shell   string `mapstructure:"shell"`
		} `mapstructure:"command"`
	} `mapstructure:"generator"`

	Evaluator struct {
		Isolation  string `mapstructure:"isolation"`
		TimeoutSec int    `mapstructure:"timeout_sec"`
	} `mapstructure:"evaluator"`

	Orchestrator struct {
		MaxRounds         int    `mapstructure:"max_rounds"`
		RefinementPolicy  string `mapstructure:"refinement_policy"`
		RequestTimeoutSec int    `mapstructure:"request_timeout_sec"`
	} `mapstructure:"orchestrator"`

	Platform struct {
		BaseURL    string `mapstructure:"base_url"`
		APIKey     string `mapstructure:"api_key"`
		TimeoutSec int    `mapstructure:"timeout_sec"`
	} `mapstructure:"platform"`

	History struct {
		// Path is the sqlite file for compile history. Empty disables it.
		Path string `mapstructure:"path"`
	} `mapstructure:"history"`
}

// Load reads configuration. When cfgFile is empty, wfc.yaml is searched in
// the current directory and ~/.config/wfc; a missing file is fine. An
// explicit cfgFile must exist.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", AppName))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so environment overrides are picked up on
// Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("log_format", "human")

	v.SetDefault("generator.provider", "openai")
	v.SetDefault("generator.model", "")
	v.SetDefault("generator.max_tokens", 0)
	v.SetDefault("generator.openai.api_key", "")
	v.SetDefault("generator.openai.base_url", "")
	v.SetDefault("generator.command.command", "")
	v.SetDefault("generator.command.shell", "")

	v.SetDefault("evaluator.isolation", IsolationInProcess)
	v.SetDefault("evaluator.timeout_sec", 5)

	v.SetDefault("orchestrator.max_rounds", 3)
	v.SetDefault("orchestrator.refinement_policy", PolicyLastRound)
	v.SetDefault("orchestrator.request_timeout_sec", 120)

	v.SetDefault("platform.base_url", "")
	v.SetDefault("platform.api_key", "")
	v.SetDefault("platform.timeout_sec", 10)

	v.SetDefault("history.path", defaultHistoryPath())
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "wfc-history.db"
	}
	return filepath.Join(home, ".wfc", "history.db")
}

// Validate checks enum fields and ranges.
func (c *Config) Validate() error {
	switch c.Generator.Provider {
	case "openai", "command":
	default:
		if _, ok := pluginapi.Generator(c.Generator.Provider); !ok {
			return fmt.Errorf("generator.provider %q not supported (want openai, command, or a registered extension)", c.Generator.Provider)
		}
	}

	switch c.Evaluator.Isolation {
	case IsolationInProcess, IsolationSubprocess:
	default:
		return fmt.Errorf("evaluator.isolation %q not supported (want %s or %s)",
			c.Evaluator.Isolation, IsolationInProcess, IsolationSubprocess)
	}

	switch c.Orchestrator.RefinementPolicy {
	case PolicyLastRound, PolicyFullHistory:
	default:
		return fmt.Errorf("orchestrator.refinement_policy %q not supported (want %s or %s)",
			c.Orchestrator.RefinementPolicy, PolicyLastRound, PolicyFullHistory)
	}

	if c.Orchestrator.MaxRounds < 0 {
		return fmt.Errorf("orchestrator.max_rounds must not be negative")
	}
	if c.Evaluator.TimeoutSec < 0 {
		return fmt.Errorf("evaluator.timeout_sec must not be negative")
	}
	return nil
}
