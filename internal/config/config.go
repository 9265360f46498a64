// Package config loads the streamer engine's tunables: worker
// concurrency, per-backend block size, and object-storage credentials.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (STREAMER_* and the runai-streamer-compatible
//     RUNAI_STREAMER_*/AWS_*/AZURE_* names third-party launchers already set)
//  2. Configuration file (YAML)
//  3. Default values
//
// STREAMER_* variables are read through viper only for keys that the loaded
// configuration file sets; when no file is found they are not consulted.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the engine's full tunable set.
type Config struct {
	Concurrency     int   `mapstructure:"concurrency" yaml:"concurrency"`
	S3Concurrency   int   `mapstructure:"s3_concurrency" yaml:"s3_concurrency"`
	FSBlockBytesize int64 `mapstructure:"fs_block_bytesize" yaml:"fs_block_bytesize"`
	S3BlockBytesize int64 `mapstructure:"s3_block_bytesize" yaml:"s3_block_bytesize"`
	EnforceMinimum  bool  `mapstructure:"enforce_minimum" yaml:"enforce_minimum"`
	DirectIO        bool  `mapstructure:"direct_io" yaml:"direct_io"`

	QueueDepth int `mapstructure:"queue_depth" yaml:"queue_depth"`

	S3           S3Config    `mapstructure:"s3" yaml:"s3"`
	GCS          GCSConfig   `mapstructure:"gcs" yaml:"gcs"`
	Azure        AzureConfig `mapstructure:"azure" yaml:"azure"`
	LogLevel     string      `mapstructure:"log_level" yaml:"log_level"`
	MetricsAddr  string      `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// S3Config carries the fields an S3-compatible backend needs beyond the
// default credential chain: endpoint override, addressing style, and
// per-request tuning that mirrors runai-streamer's recognized environment.
type S3Config struct {
	Endpoint             string `mapstructure:"endpoint" yaml:"endpoint"`
	Region               string `mapstructure:"region" yaml:"region"`
	UseVirtualAddressing bool   `mapstructure:"use_virtual_addressing" yaml:"use_virtual_addressing"`
	CABundle             string `mapstructure:"ca_bundle" yaml:"ca_bundle"`
	RequestTimeoutMS     int    `mapstructure:"request_timeout_ms" yaml:"request_timeout_ms"`
	LowSpeedLimitBytes   int    `mapstructure:"low_speed_limit_bytes" yaml:"low_speed_limit_bytes"`
}

// GCSConfig carries the fields the GCS backend needs.
type GCSConfig struct {
	CredentialFile string `mapstructure:"credential_file" yaml:"credential_file"`
}

// AzureConfig carries the fields the Azure Blob backend needs.
type AzureConfig struct {
	StorageAccount  string `mapstructure:"storage_account" yaml:"storage_account"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	ConnectionString string `mapstructure:"connection_string" yaml:"connection_string"`
}

const (
	minFSBlockBytesize = 2 * 1024 * 1024
	minS3BlockBytesize = 5 * 1024 * 1024
	defaultFSBlockBytesize = 2 * 1024 * 1024
	defaultS3BlockBytesize = 8 * 1024 * 1024
	defaultConcurrency     = 16
	defaultS3Concurrency   = 8
	defaultQueueDepth      = 64
)

// Load reads configuration from configPath (if non-empty and present), then
// environment variables, then fills gaps with ApplyDefaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if found {
		if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
			return nil, fmt.Errorf("config: unmarshal: %w", err)
		}
	}

	bindEnvOverrides(v, cfg)
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("STREAMER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("streamer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/streamer")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("config: read config file: %w", err)
	}
	return true, nil
}

// bindEnvOverrides applies the runai-streamer-compatible environment names
// on top of whatever file/STREAMER_* values viper already unmarshalled,
// so existing deployments that set the upstream names keep working.
func bindEnvOverrides(v *viper.Viper, cfg *Config) {
	if val := os.Getenv("RUNAI_STREAMER_CONCURRENCY"); val != "" {
		fmt.Sscanf(val, "%d", &cfg.Concurrency)
	}
	if val := os.Getenv("RUNAI_STREAMER_CHUNK_BYTESIZE"); val != "" {
		fmt.Sscanf(val, "%d", &cfg.FSBlockBytesize)
	}
	if val := os.Getenv("RUNAI_STREAMER_S3_ENDPOINT"); val != "" {
		cfg.S3.Endpoint = val
	} else if val := os.Getenv("AWS_ENDPOINT_URL"); val != "" {
		cfg.S3.Endpoint = val
	}
	if val := os.Getenv("AWS_CA_BUNDLE"); val != "" {
		cfg.S3.CABundle = val
	}
	if val := os.Getenv("RUNAI_STREAMER_S3_USE_VIRTUAL_ADDRESSING"); val != "" {
		cfg.S3.UseVirtualAddressing = val == "1" || strings.EqualFold(val, "true")
	}
	if val := os.Getenv("RUNAI_STREAMER_DIRECTIO"); val != "" {
		cfg.DirectIO = val == "1" || strings.EqualFold(val, "true")
	}
	if val := os.Getenv("RUNAI_STREAMER_S3_REQUEST_TIMEOUT_MS"); val != "" {
		fmt.Sscanf(val, "%d", &cfg.S3.RequestTimeoutMS)
	}
	if val := os.Getenv("RUNAI_STREAMER_S3_LOW_SPEED_LIMIT"); val != "" {
		fmt.Sscanf(val, "%d", &cfg.S3.LowSpeedLimitBytes)
	}
	if val := os.Getenv("RUNAI_STREAMER_GCS_CREDENTIAL_FILE"); val != "" {
		cfg.GCS.CredentialFile = val
	}
	if val := os.Getenv("AZURE_STORAGE_ACCOUNT_NAME"); val != "" {
		cfg.Azure.StorageAccount = val
	}
	if val := os.Getenv("AZURE_STORAGE_ENDPOINT"); val != "" {
		cfg.Azure.Endpoint = val
	}
}

// SaveConfig writes cfg to path as YAML.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}
