package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// FileConfig mirrors the optional on-disk configuration file. Every field is
// a pointer or slice so that absent keys leave the default untouched.
type FileConfig struct {
	Port              *string  `yaml:"port" json:"port"`
	RoutePrefix       *string  `yaml:"route_prefix" json:"route_prefix"`
	RequestLogEnabled *bool    `yaml:"request_log_enabled" json:"request_log_enabled"`
	UpstreamBaseURL   *string  `yaml:"upstream_base_url" json:"upstream_base_url"`
	UpstreamProxyURL  *string  `yaml:"upstream_proxy_url" json:"upstream_proxy_url"`
	ClientKeys        []string `yaml:"client_keys" json:"client_keys"`
	AdminKey          *string  `yaml:"admin_key" json:"admin_key"`
	AdminKeyHash      *string  `yaml:"admin_key_hash" json:"admin_key_hash"`
	Debug             *bool    `yaml:"debug" json:"debug"`
	LogFile           *string  `yaml:"log_file" json:"log_file"`
	HealthCheckModel  *string  `yaml:"health_check_model" json:"health_check_model"`
	HealthIntervalSec *int     `yaml:"health_check_interval_sec" json:"health_check_interval_sec"`
	HealthTimeoutSec  *int     `yaml:"health_check_timeout_sec" json:"health_check_timeout_sec"`
	RateLimitEnabled  *bool    `yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RateLimitRPS      *int     `yaml:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst    *int     `yaml:"rate_limit_burst" json:"rate_limit_burst"`
	PostgresDSN       *string  `yaml:"postgres_dsn" json:"postgres_dsn"`
	KeysFile          *string  `yaml:"keys_file" json:"keys_file"`
	APIKeys           []string `yaml:"api_keys" json:"api_keys"`
	MaxFailures       *int     `yaml:"max_failures" json:"max_failures"`
}

// LoadWithFile builds a Config from defaults, then the config file (when it
// exists), then environment overrides. Environment always wins.
func LoadWithFile(path string) *Config {
	cfg := defaultConfig()

	if path != "" {
		fileCfg, err := parseFile(path)
		switch {
		case err == nil:
			cfg.applyFile(fileCfg)
			log.WithField("path", path).Info("configuration file loaded")
		case os.IsNotExist(err):
			log.WithField("path", path).Debug("configuration file not found; using env/defaults")
		default:
			log.WithError(err).WithField("path", path).Warn("failed to parse configuration file; ignoring it")
		}
	}

	cfg.applyEnv()
	return cfg
}

func parseFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var fc FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse JSON config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse YAML config: %w", err)
		}
	}
	return &fc, nil
}

func (c *Config) applyFile(fc *FileConfig) {
	if fc == nil {
		return
	}
	if fc.Port != nil {
		c.Server.Port = *fc.Port
	}
	if fc.RoutePrefix != nil {
		c.Server.RoutePrefix = normalizeRoutePrefix(*fc.RoutePrefix)
	}
	if fc.RequestLogEnabled != nil {
		c.Server.RequestLogEnabled = *fc.RequestLogEnabled
	}
	if fc.UpstreamBaseURL != nil {
		c.Upstream.BaseURL = *fc.UpstreamBaseURL
	}
	if fc.UpstreamProxyURL != nil {
		c.Upstream.ProxyURL = *fc.UpstreamProxyURL
	}
	if len(fc.ClientKeys) > 0 {
		c.Security.ClientKeys = fc.ClientKeys
	}
	if fc.AdminKey != nil {
		c.Security.AdminKey = *fc.AdminKey
	}
	if fc.AdminKeyHash != nil {
		c.Security.AdminKeyHash = *fc.AdminKeyHash
	}
	if fc.Debug != nil {
		c.Security.Debug = *fc.Debug
	}
	if fc.LogFile != nil {
		c.Security.LogFile = *fc.LogFile
	}
	if fc.HealthCheckModel != nil {
		c.HealthCheck.Model = *fc.HealthCheckModel
	}
	if fc.HealthIntervalSec != nil {
		c.HealthCheck.IntervalSec = *fc.HealthIntervalSec
	}
	if fc.HealthTimeoutSec != nil {
		c.HealthCheck.TimeoutSec = *fc.HealthTimeoutSec
	}
	if fc.RateLimitEnabled != nil {
		c.RateLimit.Enabled = *fc.RateLimitEnabled
	}
	if fc.RateLimitRPS != nil {
		c.RateLimit.RPS = *fc.RateLimitRPS
	}
	if fc.RateLimitBurst != nil {
		c.RateLimit.Burst = *fc.RateLimitBurst
	}
	if fc.PostgresDSN != nil {
		c.Storage.PostgresDSN = *fc.PostgresDSN
	}
	if fc.KeysFile != nil {
		c.Storage.KeysFile = *fc.KeysFile
	}
	if len(fc.APIKeys) > 0 {
		c.Storage.APIKeys = fc.APIKeys
	}
	if fc.MaxFailures != nil {
		c.Storage.MaxFailures = *fc.MaxFailures
	}
}
