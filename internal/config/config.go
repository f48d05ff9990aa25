// Package config provides configuration management for the fireboard2mqtt bridge.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable the bridge reads.
const EnvPrefix = "FB2MQTT"

// Config holds all application configuration.
type Config struct {
	// General settings
	LogLevel string `mapstructure:"log_level"`

	// Fireboard account credentials
	FireboardAccount struct {
		Email    string `mapstructure:"email"`
		Password string `mapstructure:"password"`
	} `mapstructure:"fireboardaccount"`

	// Fireboard API settings
	Fireboard struct {
		EnableDrive    bool          `mapstructure:"enable_drive"`
		APIURL         string        `mapstructure:"api_url"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"fireboard"`

	// MQTT settings
	MQTT struct {
		Enabled         bool          `mapstructure:"enabled"`
		URL             string        `mapstructure:"url"`
		Username        string        `mapstructure:"username"`
		Password        string        `mapstructure:"password"`
		ClientID        string        `mapstructure:"clientid"`
		BaseTopic       string        `mapstructure:"base_topic"`
		DiscoveryTopic  string        `mapstructure:"discovery_topic"`
		ProtocolVersion int           `mapstructure:"protocol_version"`
		QueueSize       int           `mapstructure:"queue_size"`
		ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	} `mapstructure:"mqtt"`

	// Poll loop timing
	Poll struct {
		FreshnessWindow time.Duration `mapstructure:"freshness_window"`
		BaseInterval    time.Duration `mapstructure:"base_interval"`
		IdleInterval    time.Duration `mapstructure:"idle_interval"`
	} `mapstructure:"poll"`

	// Home Assistant discovery settings
	HomeAssistant struct {
		ChannelExpireAfter int `mapstructure:"channel_expire_after"`
	} `mapstructure:"homeassistant"`

	// HTTP status API settings
	API struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"api"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel: "info",
	}

	cfg.Fireboard.EnableDrive = false
	cfg.Fireboard.APIURL = "https://fireboard.io/api/"
	cfg.Fireboard.RequestTimeout = 30 * time.Second

	cfg.MQTT.Enabled = true
	cfg.MQTT.URL = "mqtt://localhost:1883"
	cfg.MQTT.ClientID = "fireboard2mqtt"
	cfg.MQTT.BaseTopic = "fireboard2mqtt"
	cfg.MQTT.DiscoveryTopic = "homeassistant"
	cfg.MQTT.ProtocolVersion = 3
	cfg.MQTT.QueueSize = 16
	cfg.MQTT.ConnectTimeout = 10 * time.Second

	// The cloud API allows 200 requests per hour, one every 18 seconds.
	cfg.Poll.FreshnessWindow = 5 * time.Minute
	cfg.Poll.BaseInterval = 20 * time.Second
	cfg.Poll.IdleInterval = 60 * time.Second

	cfg.HomeAssistant.ChannelExpireAfter = 600

	cfg.API.Enabled = false
	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 8080

	return cfg
}

// setDefaults registers every key with viper so AutomaticEnv can override keys
// that do not appear in a config file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log_level", cfg.LogLevel)

	v.SetDefault("fireboardaccount.email", cfg.FireboardAccount.Email)
	v.SetDefault("fireboardaccount.password", cfg.FireboardAccount.Password)

	v.SetDefault("fireboard.enable_drive", cfg.Fireboard.EnableDrive)
	v.SetDefault("fireboard.api_url", cfg.Fireboard.APIURL)
	v.SetDefault("fireboard.request_timeout", cfg.Fireboard.RequestTimeout)

	v.SetDefault("mqtt.enabled", cfg.MQTT.Enabled)
	v.SetDefault("mqtt.url", cfg.MQTT.URL)
	v.SetDefault("mqtt.username", cfg.MQTT.Username)
	v.SetDefault("mqtt.password", cfg.MQTT.Password)
	v.SetDefault("mqtt.clientid", cfg.MQTT.ClientID)
	v.SetDefault("mqtt.base_topic", cfg.MQTT.BaseTopic)
	v.SetDefault("mqtt.discovery_topic", cfg.MQTT.DiscoveryTopic)
	v.SetDefault("mqtt.protocol_version", cfg.MQTT.ProtocolVersion)
	v.SetDefault("mqtt.queue_size", cfg.MQTT.QueueSize)
	v.SetDefault("mqtt.connect_timeout", cfg.MQTT.ConnectTimeout)

	v.SetDefault("poll.freshness_window", cfg.Poll.FreshnessWindow)
	v.SetDefault("poll.base_interval", cfg.Poll.BaseInterval)
	v.SetDefault("poll.idle_interval", cfg.Poll.IdleInterval)

	v.SetDefault("homeassistant.channel_expire_after", cfg.HomeAssistant.ChannelExpireAfter)

	v.SetDefault("api.enabled", cfg.API.Enabled)
	v.SetDefault("api.host", cfg.API.Host)
	v.SetDefault("api.port", cfg.API.Port)
}

// Load reads the configuration from an optional YAML file and FB2MQTT_*
// environment variables. An empty path skips the file.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Set up Viper
	v := viper.New()
	setDefaults(v, cfg)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var configFileNotFoundError viper.ConfigFileNotFoundError
			if !errors.As(err, &configFileNotFoundError) {
				return nil, fmt.Errorf("error reading config: %w", err)
			}
		}
	}

	// Bind environment variables, FB2MQTT_MQTT_BASE_TOPIC -> mqtt.base_topic
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return cfg, nil
}

// ValidationError describes one invalid configuration value.
type ValidationError struct {
	Key     string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Message)
}

// Validate reports every invalid value at once, joined with errors.Join.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(key, msg string) {
		errs = append(errs, &ValidationError{Key: key, Message: msg})
	}

	if c.FireboardAccount.Email == "" {
		invalid("fireboardaccount.email", "is required")
	}
	if c.FireboardAccount.Password == "" {
		invalid("fireboardaccount.password", "is required")
	}

	if c.MQTT.Enabled {
		if _, err := c.BrokerURL(); err != nil {
			invalid("mqtt.url", err.Error())
		}
		if c.MQTT.Username == "" {
			invalid("mqtt.username", "is required")
		}
		if c.MQTT.Password == "" {
			invalid("mqtt.password", "is required")
		}
		if c.MQTT.ClientID == "" {
			invalid("mqtt.clientid", "must not be empty")
		}
	}
	if c.MQTT.ProtocolVersion != 3 && c.MQTT.ProtocolVersion != 5 {
		invalid("mqtt.protocol_version", fmt.Sprintf("must be 3 or 5, got %d", c.MQTT.ProtocolVersion))
	}
	if c.MQTT.QueueSize < 1 {
		invalid("mqtt.queue_size", "must be at least 1")
	}
	if strings.Trim(c.MQTT.BaseTopic, "/") == "" || strings.ContainsAny(c.MQTT.BaseTopic, "+#") {
		invalid("mqtt.base_topic", "must be a non-empty topic without wildcards")
	}
	if strings.Trim(c.MQTT.DiscoveryTopic, "/") == "" || strings.ContainsAny(c.MQTT.DiscoveryTopic, "+#") {
		invalid("mqtt.discovery_topic", "must be a non-empty topic without wildcards")
	}

	if c.Poll.FreshnessWindow <= 0 {
		invalid("poll.freshness_window", "must be positive")
	}
	if c.Poll.BaseInterval <= 0 {
		invalid("poll.base_interval", "must be positive")
	}
	if c.Poll.IdleInterval <= 0 {
		invalid("poll.idle_interval", "must be positive")
	}
	if c.HomeAssistant.ChannelExpireAfter < 0 {
		invalid("homeassistant.channel_expire_after", "must not be negative")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		invalid("api.port", fmt.Sprintf("must be between 1 and 65535, got %d", c.API.Port))
	}

	return errors.Join(errs...)
}

// BrokerURL parses mqtt.url. The mqtt and tcp schemes are plain TCP, mqtts and
// ssl use TLS. A missing port defaults to 1883, or 8883 for TLS.
func (c *Config) BrokerURL() (*url.URL, error) {
	u, err := url.Parse(c.MQTT.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker URL: %w", err)
	}

	var scheme, port string
	switch strings.ToLower(u.Scheme) {
	case "mqtt", "tcp":
		scheme, port = "tcp", "1883"
	case "mqtts", "ssl", "tls":
		scheme, port = "ssl", "8883"
	default:
		return nil, fmt.Errorf("unsupported broker URL scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("broker URL %q has no host", c.MQTT.URL)
	}
	if u.Port() != "" {
		if _, err := strconv.Atoi(u.Port()); err != nil {
			return nil, fmt.Errorf("invalid broker port %q", u.Port())
		}
		port = u.Port()
	}

	return &url.URL{Scheme: scheme, Host: net.JoinHostPort(u.Hostname(), port)}, nil
}

// UseTLS reports whether the broker URL asks for TLS.
func (c *Config) UseTLS() bool {
	u, err := c.BrokerURL()
	return err == nil && u.Scheme == "ssl"
}

// Print displays the current configuration. Secrets are never logged.
func (c *Config) Print() {
	logger := log.With().Str("component", "config").Logger()
	logger.Info().Msg("fireboard2mqtt Configuration:")
	logger.Info().Msg("-----------------------------")
	logger.Info().Str("log_level", c.LogLevel).Msg("Log Level")

	logger.Info().
		Str("email", c.FireboardAccount.Email).
		Bool("password_set", c.FireboardAccount.Password != "").
		Msg("Fireboard Account")

	logger.Info().
		Str("api_url", c.Fireboard.APIURL).
		Bool("enable_drive", c.Fireboard.EnableDrive).
		Dur("request_timeout", c.Fireboard.RequestTimeout).
		Msg("Fireboard API")

	logger.Info().Bool("enabled", c.MQTT.Enabled).Msg("MQTT Enabled")
	if c.MQTT.Enabled {
		logger.Info().
			Str("url", c.MQTT.URL).
			Str("username", c.MQTT.Username).
			Str("clientid", c.MQTT.ClientID).
			Str("base_topic", c.MQTT.BaseTopic).
			Str("discovery_topic", c.MQTT.DiscoveryTopic).
			Int("protocol_version", c.MQTT.ProtocolVersion).
			Int("queue_size", c.MQTT.QueueSize).
			Msg("MQTT Configuration")
	}

	logger.Info().
		Dur("freshness_window", c.Poll.FreshnessWindow).
		Dur("base_interval", c.Poll.BaseInterval).
		Dur("idle_interval", c.Poll.IdleInterval).
		Msg("Poll Loop")

	logger.Info().Bool("enabled", c.API.Enabled).Msg("API Enabled")
	if c.API.Enabled {
		logger.Info().
			Str("host", c.API.Host).
			Int("port", c.API.Port).
			Msg("API Server")
	}

	logger.Info().Msg("-----------------------------")
}
