package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all Magister configuration, loaded from a file and/or the
// environment (environment wins, per spec §6.3).
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Query       OfferQueryConfig  `mapstructure:"query"`
	Reconciler  ReconcilerConfig  `mapstructure:"reconciler"`
	Lists       ListConfig        `mapstructure:"lists"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig configures the control-plane HTTP listener and the address
// handed to rented Contemplants.
type ServerConfig struct {
	ThisMagisterAddr   string `mapstructure:"this_magister_addr"`
	HTTPPort           int    `mapstructure:"http_port"`
	HierophantIP       string `mapstructure:"hierophant_ip"`
	HierophantHTTPPort int    `mapstructure:"hierophant_http_port"`
}

// MarketplaceConfig configures the Marketplace Client (component B).
type MarketplaceConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	TemplateHash    string        `mapstructure:"template_hash"`
	CallBackoffSecs int           `mapstructure:"call_backoff_secs"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// OfferQueryConfig configures the Offer-Query Builder (component A).
type OfferQueryConfig struct {
	MinDiskSpaceGB   int     `mapstructure:"min_disk_space_gb"`
	MinReliability   float64 `mapstructure:"min_reliability"`
	MinDurationSecs  float64 `mapstructure:"min_duration_secs"`
	MaxDPHTotal      float64 `mapstructure:"max_dph_total"`
	MinGPURAMGB      int     `mapstructure:"min_gpu_ram_gb"`
	MinCUDAVersion   float64 `mapstructure:"min_cuda_version"`
	GPUName          string  `mapstructure:"gpu_name"`
	AllocatedStorage int     `mapstructure:"allocated_storage"`
}

// ReconcilerConfig configures the Reconciliation Engine (component D).
type ReconcilerConfig struct {
	NumberInstances                int           `mapstructure:"number_instances"`
	TaskPollingInterval             time.Duration `mapstructure:"task_polling_interval"`
	ContemplantVerificationTimeout time.Duration `mapstructure:"contemplant_verification_timeout"`
	CommandQueueDepth              int           `mapstructure:"command_queue_depth"`
}

// ListConfig holds the blacklist/allowlist sets consulted by the Offer
// Filter (component C).
type ListConfig struct {
	BadHosts     []uint64 `mapstructure:"bad_hosts"`
	BadMachines  []uint64 `mapstructure:"bad_machines"`
	GoodHosts    []uint64 `mapstructure:"good_hosts"`
	GoodMachines []uint64 `mapstructure:"good_machines"`
}

// LoggingConfig configures the ambient logging stack.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from an optional file plus the environment,
// with environment variables taking precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration primarily from environment variables,
// with an optional .env file for local development.
func LoadFromEnv() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // optional

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8555)
	v.SetDefault("marketplace.base_url", "https://cloud.vast.ai/api/v0")
	v.SetDefault("marketplace.call_backoff_secs", 10)
	v.SetDefault("marketplace.request_timeout", 30*time.Second)
	v.SetDefault("reconciler.task_polling_interval", 30*time.Second)
	v.SetDefault("reconciler.contemplant_verification_timeout", 180*time.Second)
	v.SetDefault("reconciler.command_queue_depth", 100)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func bindEnvVars(v *viper.Viper) {
	bindEnv := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			slog.Warn("failed to bind environment variable",
				slog.String("key", key),
				slog.String("env_var", envVar),
				slog.String("error", err.Error()))
		}
	}

	bindEnv("server.this_magister_addr", "THIS_MAGISTER_ADDR")
	bindEnv("server.http_port", "HTTP_PORT")
	bindEnv("server.hierophant_ip", "HIEROPHANT_IP")
	bindEnv("server.hierophant_http_port", "HIEROPHANT_HTTP_PORT")

	bindEnv("marketplace.api_key", "VAST_API_KEY")
	bindEnv("marketplace.template_hash", "TEMPLATE_HASH")
	bindEnv("marketplace.call_backoff_secs", "VAST_API_CALL_BACKOFF_SECS")

	bindEnv("reconciler.number_instances", "NUMBER_INSTANCES")
	bindEnv("reconciler.task_polling_interval", "TASK_POLLING_INTERVAL_SECS")
	bindEnv("reconciler.contemplant_verification_timeout", "CONTEMPLANT_VERIFICATION_TIMEOUT_SECS")

	// The *_SECS variables hold a bare number of seconds, which the
	// duration decoder would otherwise reject for lacking a unit.
	for key, envVar := range map[string]string{
		"reconciler.task_polling_interval":            "TASK_POLLING_INTERVAL_SECS",
		"reconciler.contemplant_verification_timeout": "CONTEMPLANT_VERIFICATION_TIMEOUT_SECS",
	} {
		if secs, err := strconv.Atoi(os.Getenv(envVar)); err == nil {
			v.Set(key, time.Duration(secs)*time.Second)
		}
	}

	bindEnv("logging.level", "LOG_LEVEL")
	bindEnv("logging.format", "LOG_FORMAT")
}

// Validate checks that every field spec §6.3 marks required is present,
// naming the first missing field in its error.
func (c *Config) Validate() error {
	switch {
	case c.Server.ThisMagisterAddr == "":
		return fmt.Errorf("this_magister_addr is required")
	case c.Server.HierophantIP == "":
		return fmt.Errorf("hierophant_ip is required")
	case c.Server.HierophantHTTPPort == 0:
		return fmt.Errorf("hierophant_http_port is required")
	case c.Marketplace.APIKey == "":
		return fmt.Errorf("vast_api_key is required")
	case c.Marketplace.TemplateHash == "":
		return fmt.Errorf("template_hash is required")
	case c.Reconciler.NumberInstances <= 0:
		return fmt.Errorf("number_instances must be > 0")
	case c.Query.GPUName == "":
		return fmt.Errorf("query.gpu_name is required")
	case c.Query.AllocatedStorage <= 0:
		return fmt.Errorf("query.allocated_storage is required")
	}
	return nil
}
