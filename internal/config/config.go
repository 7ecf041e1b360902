// Package config provides configuration management for the Copilot proxy.
// It handles loading and parsing the YAML configuration file, applies
// environment overrides for the backend model settings, and provides
// structured access to listener, interception and logging settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPort is the port the intercepting proxy listens on when none is configured.
const DefaultPort = 15432

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network interface the proxy binds to. Empty binds all interfaces.
	Host string `yaml:"host" json:"host"`

	// Port is the port the intercepting proxy listens on.
	Port int `yaml:"port" json:"port"`

	// Debug enables debug level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LogLevel names the logrus level (debug, info, warn, error, quiet).
	// Debug takes precedence when set.
	LogLevel string `yaml:"log-level,omitempty" json:"log-level,omitempty"`

	// LoggingToFile writes logs to rotating files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogDir is the directory for rotating log files. Defaults to "logs".
	LogDir string `yaml:"log-dir,omitempty" json:"log-dir,omitempty"`

	// Backend describes the model that answers completion requests.
	Backend Backend `yaml:"backend" json:"backend"`

	// Intercept lists the client endpoints the proxy answers itself.
	Intercept InterceptConfig `yaml:"intercept" json:"intercept"`

	// MITM configures the certificate authority used to intercept TLS.
	MITM MITMConfig `yaml:"mitm" json:"mitm"`

	// Direct configures the plain HTTP server clients can target without a proxy.
	Direct DirectConfig `yaml:"direct" json:"direct"`

	// Metrics toggles the Prometheus endpoint on the direct server.
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// InterceptConfig holds the exact URLs the interceptor recognises.
type InterceptConfig struct {
	ChatCompletionsURL   string `yaml:"chat-completions-url,omitempty" json:"chat-completions-url,omitempty"`
	LegacyCompletionsURL string `yaml:"legacy-completions-url,omitempty" json:"legacy-completions-url,omitempty"`
	ModelsURL            string `yaml:"models-url,omitempty" json:"models-url,omitempty"`
	TokenURL             string `yaml:"token-url,omitempty" json:"token-url,omitempty"`

	// InterestPattern selects flows whose bodies are logged.
	InterestPattern string `yaml:"interest-pattern,omitempty" json:"interest-pattern,omitempty"`
}

// Default intercepted endpoints.
const (
	DefaultChatCompletionsURL   = "https://api.githubcopilot.com/chat/completions"
	DefaultLegacyCompletionsURL = "https://copilot-proxy.githubusercontent.com/v1/engines/copilot-codex/completions"
	DefaultModelsURL            = "https://api.githubcopilot.com/models"
	DefaultTokenURL             = "https://api.github.com/copilot_internal/v2/token"
	DefaultInterestPattern      = `api\.github`
)

// MITMConfig points at an optional PEM encoded CA used to sign intercepted hosts.
type MITMConfig struct {
	CACert string `yaml:"ca-cert,omitempty" json:"ca-cert,omitempty"`
	CAKey  string `yaml:"ca-key,omitempty" json:"ca-key,omitempty"`
}

// DirectConfig configures the direct (non-proxy) HTTP server.
type DirectConfig struct {
	Enable bool `yaml:"enable" json:"enable"`
	Port   int  `yaml:"port,omitempty" json:"port,omitempty"`

	// Routes maps request path prefixes to the upstream base URL the path
	// belongs to. The longest matching prefix wins.
	Routes []DirectRoute `yaml:"routes,omitempty" json:"routes,omitempty"`
}

// DirectRoute maps a path prefix onto an upstream base URL.
type DirectRoute struct {
	Prefix   string `yaml:"prefix" json:"prefix"`
	Upstream string `yaml:"upstream" json:"upstream"`
}

// DefaultDirectPort is used when the direct server is enabled without a port.
const DefaultDirectPort = 15433

// DefaultDirectRoutes reproduce the hosts a Copilot client talks to.
func DefaultDirectRoutes() []DirectRoute {
	return []DirectRoute{
		{Prefix: "/copilot_internal/", Upstream: "https://api.github.com"},
		{Prefix: "/v1/engines/", Upstream: "https://copilot-proxy.githubusercontent.com"},
		{Prefix: "/", Upstream: "https://api.githubcopilot.com"},
	}
}

// MetricsConfig toggles Prometheus metrics.
type MetricsConfig struct {
	Enable bool `yaml:"enable" json:"enable"`
}

// LoadConfig reads and parses the YAML file at configFile.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads configFile. When optional is true, a missing or
// unparsable file yields a default configuration instead of an error.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && (errors.Is(err, os.ErrNotExist) || configFile == "") {
			cfg := &Config{}
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if len(strings.TrimSpace(string(data))) > 0 {
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			if optional {
				cfg = Config{}
				cfg.ApplyDefaults()
				return &cfg, nil
			}
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func (cfg *Config) ApplyDefaults() {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "logs"
	}
	in := &cfg.Intercept
	if in.ChatCompletionsURL == "" {
		in.ChatCompletionsURL = DefaultChatCompletionsURL
	}
	if in.LegacyCompletionsURL == "" {
		in.LegacyCompletionsURL = DefaultLegacyCompletionsURL
	}
	if in.ModelsURL == "" {
		in.ModelsURL = DefaultModelsURL
	}
	if in.TokenURL == "" {
		in.TokenURL = DefaultTokenURL
	}
	if in.InterestPattern == "" {
		in.InterestPattern = DefaultInterestPattern
	}
	if cfg.Direct.Port == 0 {
		cfg.Direct.Port = DefaultDirectPort
	}
	if len(cfg.Direct.Routes) == 0 {
		cfg.Direct.Routes = DefaultDirectRoutes()
	}
}

// Environment variables overriding the backend section.
const (
	EnvModelURL    = "MODEL_URL"
	EnvModelAPIKey = "MODEL_API_KEY"
	EnvModelName   = "MODEL_NAME"
)

// ApplyEnv overrides backend settings from the environment. lookup is
// usually os.LookupEnv.
func (cfg *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		return
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}
	if v, ok := get(EnvModelURL); ok {
		cfg.Backend.URL = v
	}
	if v, ok := get(EnvModelAPIKey); ok {
		cfg.Backend.APIKey = v
	}
	if v, ok := get(EnvModelName); ok {
		cfg.Backend.Model = v
	}
}

// ValidateConfig performs semantic validation. It returns an error for
// settings that make startup impossible and warnings for settings that only
// disable part of the proxy.
func ValidateConfig(cfg *Config) ([]string, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port %d out of range", cfg.Port)
	}
	if cfg.Direct.Enable && (cfg.Direct.Port < 1 || cfg.Direct.Port > 65535) {
		return nil, fmt.Errorf("direct port %d out of range", cfg.Direct.Port)
	}
	if cfg.Direct.Enable && cfg.Direct.Port == cfg.Port {
		return nil, fmt.Errorf("direct port %d collides with proxy port", cfg.Direct.Port)
	}
	if _, err := regexp.Compile(cfg.Intercept.InterestPattern); err != nil {
		return nil, fmt.Errorf("invalid interest-pattern: %w", err)
	}
	if (cfg.MITM.CACert == "") != (cfg.MITM.CAKey == "") {
		return nil, errors.New("mitm ca-cert and ca-key must be set together")
	}

	var warnings []string
	if missing := cfg.Backend.Missing(); len(missing) > 0 {
		warnings = append(warnings, fmt.Sprintf("backend %s not set; completion requests will fail until configured", strings.Join(missing, ", ")))
	}
	if cfg.Metrics.Enable && !cfg.Direct.Enable {
		warnings = append(warnings, "metrics are enabled but only served by the direct server, which is disabled")
	}
	return warnings, nil
}
