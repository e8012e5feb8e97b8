package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "/etc/ncog/config"
	ConfigFileName    = "ncog.yml"
)

// ValidLogLevels is the list of accepted log_level values.
var ValidLogLevels = []string{"debug", "info", "warn", "error", "fatal"}

// Config holds all ncog server settings.
type Config struct {
	// BindAddress is the interface the server listens on
	BindAddress string `yaml:"bind_address" json:"bind_address"`

	// Port is the TCP port the server listens on
	Port int `yaml:"port" json:"port"`

	// DatabaseURL is the Postgres connection URL
	DatabaseURL string `yaml:"database_url" json:"database_url"`

	// AuthorizationURL is the external login page clients are sent to
	AuthorizationURL string `yaml:"authorization_url" json:"authorization_url"`

	// CallbackSecret signs the login callback assertions
	CallbackSecret string `yaml:"callback_secret" json:"callback_secret"`

	// PingIntervalMS is the session ping period in milliseconds
	PingIntervalMS int `yaml:"ping_interval_ms" json:"ping_interval_ms"`

	// OutboundBuffer is the per-session outbound queue depth
	OutboundBuffer int `yaml:"outbound_buffer" json:"outbound_buffer"`

	// LogLevel is the minimum log level
	LogLevel string `yaml:"log_level" json:"log_level"`

	// LogFormat is "json" or "console"
	LogFormat string `yaml:"log_format" json:"log_format"`

	// sources tracks where each value came from
	sources map[string]string

	// configFilePath is the path to the config file
	configFilePath string
}

// Attribute represents a configuration attribute with its value and source.
type Attribute struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Source string `json:"source"`
}

// Global singleton config
var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	configMu.RLock()
	if globalConfig != nil {
		configMu.RUnlock()
		return globalConfig
	}
	configMu.RUnlock()

	configMu.Lock()
	defer configMu.Unlock()

	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			globalConfig = newDefault()
		} else {
			globalConfig = cfg
		}
	}
	return globalConfig
}

// Reload reloads the configuration from file and environment.
func Reload() error {
	cfg, err := Load()
	if err != nil {
		return err
	}

	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()
	return nil
}

func newDefault() *Config {
	return &Config{
		BindAddress:      "0.0.0.0",
		Port:             7878,
		AuthorizationURL: "https://ncog.id/auth",
		PingIntervalMS:   100,
		OutboundBuffer:   16,
		LogLevel:         "info",
		LogFormat:        "json",
		sources:          make(map[string]string),
	}
}

// Load loads configuration from file and environment variables.
// Environment variables take precedence over file values.
func Load() (*Config, error) {
	config := newDefault()

	for _, name := range attributeNames() {
		config.sources[name] = "default"
	}

	configPath := os.Getenv("NCOG_CONFIG_PATH")
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	config.configFilePath = filepath.Join(configPath, ConfigFileName)

	if data, err := os.ReadFile(config.configFilePath); err == nil {
		var fileConfig Config
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", config.configFilePath, err)
		}
		config.applyFileConfig(&fileConfig)
	}

	config.applyEnvConfig()

	return config, nil
}

func attributeNames() []string {
	return []string{
		"bind_address", "port", "database_url", "authorization_url",
		"callback_secret", "ping_interval_ms", "outbound_buffer",
		"log_level", "log_format",
	}
}

func (c *Config) applyFileConfig(file *Config) {
	if file.BindAddress != "" {
		c.BindAddress = file.BindAddress
		c.sources["bind_address"] = "file"
	}
	if file.Port != 0 {
		c.Port = file.Port
		c.sources["port"] = "file"
	}
	if file.DatabaseURL != "" {
		c.DatabaseURL = file.DatabaseURL
		c.sources["database_url"] = "file"
	}
	if file.AuthorizationURL != "" {
		c.AuthorizationURL = file.AuthorizationURL
		c.sources["authorization_url"] = "file"
	}
	if file.CallbackSecret != "" {
		c.CallbackSecret = file.CallbackSecret
		c.sources["callback_secret"] = "file"
	}
	if file.PingIntervalMS != 0 {
		c.PingIntervalMS = file.PingIntervalMS
		c.sources["ping_interval_ms"] = "file"
	}
	if file.OutboundBuffer != 0 {
		c.OutboundBuffer = file.OutboundBuffer
		c.sources["outbound_buffer"] = "file"
	}
	if file.LogLevel != "" {
		c.LogLevel = file.LogLevel
		c.sources["log_level"] = "file"
	}
	if file.LogFormat != "" {
		c.LogFormat = file.LogFormat
		c.sources["log_format"] = "file"
	}
}

func (c *Config) applyEnvConfig() {
	if val := os.Getenv("NCOG_BIND_ADDRESS"); val != "" {
		c.BindAddress = val
		c.sources["bind_address"] = "environment"
	}
	if val := os.Getenv("NCOG_PORT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			c.Port = i
			c.sources["port"] = "environment"
		}
	}
	if val := os.Getenv("NCOG_DATABASE_URL"); val != "" {
		c.DatabaseURL = val
		c.sources["database_url"] = "environment"
	} else if val := os.Getenv("DATABASE_URL"); val != "" {
		c.DatabaseURL = val
		c.sources["database_url"] = "environment"
	}
	if val := os.Getenv("NCOG_AUTHORIZATION_URL"); val != "" {
		c.AuthorizationURL = val
		c.sources["authorization_url"] = "environment"
	}
	if val := os.Getenv("NCOG_CALLBACK_SECRET"); val != "" {
		c.CallbackSecret = val
		c.sources["callback_secret"] = "environment"
	}
	if val := os.Getenv("NCOG_PING_INTERVAL_MS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			c.PingIntervalMS = i
			c.sources["ping_interval_ms"] = "environment"
		}
	}
	if val := os.Getenv("NCOG_OUTBOUND_BUFFER"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			c.OutboundBuffer = i
			c.sources["outbound_buffer"] = "environment"
		}
	}
	if val := os.Getenv("NCOG_LOG_LEVEL"); val != "" {
		c.LogLevel = val
		c.sources["log_level"] = "environment"
	}
	if val := os.Getenv("NCOG_LOG_FORMAT"); val != "" {
		c.LogFormat = val
		c.sources["log_format"] = "environment"
	}
}

// ConfigFilePath returns the path to the config file.
func (c *Config) ConfigFilePath() string {
	return c.configFilePath
}

// Source returns the source of a configuration attribute.
func (c *Config) Source(name string) string {
	if c.sources == nil {
		return "default"
	}
	if s, ok := c.sources[name]; ok {
		return s
	}
	return "default"
}

// ListenAddr returns the host:port the server binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.Port))
}

// PingInterval returns the ping period as a duration.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalMS) * time.Millisecond
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if net.ParseIP(c.BindAddress) == nil {
		return fmt.Errorf("invalid bind_address: %s", c.BindAddress)
	}
	if c.PingIntervalMS < 1 {
		return fmt.Errorf("invalid ping_interval_ms: %d", c.PingIntervalMS)
	}
	if c.OutboundBuffer < 1 {
		return fmt.Errorf("invalid outbound_buffer: %d", c.OutboundBuffer)
	}
	valid := false
	for _, level := range ValidLogLevels {
		if strings.EqualFold(c.LogLevel, level) {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("invalid log_format: %s", c.LogFormat)
	}
	return nil
}

// Attributes returns all configuration attributes with their values and
// sources. Secrets are redacted.
func (c *Config) Attributes() []Attribute {
	secret := ""
	if c.CallbackSecret != "" {
		secret = "(redacted)"
	}
	return []Attribute{
		{Name: "bind_address", Value: c.BindAddress, Source: c.Source("bind_address")},
		{Name: "port", Value: strconv.Itoa(c.Port), Source: c.Source("port")},
		{Name: "database_url", Value: redactURL(c.DatabaseURL), Source: c.Source("database_url")},
		{Name: "authorization_url", Value: c.AuthorizationURL, Source: c.Source("authorization_url")},
		{Name: "callback_secret", Value: secret, Source: c.Source("callback_secret")},
		{Name: "ping_interval_ms", Value: strconv.Itoa(c.PingIntervalMS), Source: c.Source("ping_interval_ms")},
		{Name: "outbound_buffer", Value: strconv.Itoa(c.OutboundBuffer), Source: c.Source("outbound_buffer")},
		{Name: "log_level", Value: c.LogLevel, Source: c.Source("log_level")},
		{Name: "log_format", Value: c.LogFormat, Source: c.Source("log_format")},
	}
}

// FormatText returns a text representation of the configuration.
func (c *Config) FormatText() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Config file: %s\n\n", c.configFilePath))
	sb.WriteString(fmt.Sprintf("%-20s %-40s %s\n", "NAME", "VALUE", "SOURCE"))
	sb.WriteString(fmt.Sprintf("%-20s %-40s %s\n", "----", "-----", "------"))

	for _, attr := range c.Attributes() {
		value := attr.Value
		if value == "" {
			value = "(not set)"
		}
		sb.WriteString(fmt.Sprintf("%-20s %-40s %s\n", attr.Name, value, attr.Source))
	}
	return sb.String()
}

// FormatJSON returns a JSON representation of the configuration.
func (c *Config) FormatJSON() (string, error) {
	result := map[string]interface{}{
		"config_file": c.configFilePath,
		"attributes":  c.Attributes(),
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// redactURL strips the password from a connection URL for display.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	at := strings.Index(raw, "@")
	scheme := strings.Index(raw, "://")
	if at == -1 || scheme == -1 || at < scheme {
		return raw
	}
	return raw[:scheme+3] + "***" + raw[at:]
}
