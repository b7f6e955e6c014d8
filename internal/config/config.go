package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is resolved from defaults, then an optional YAML file named by
// CONFIG_FILE, then environment variables.
type Config struct {
	LogLevel string `yaml:"log_level"`

	AssetIDs         []string      `yaml:"asset_ids"`
	ExchangeInterval time.Duration `yaml:"exchange_interval"`
	RESTInterval     time.Duration `yaml:"rest_interval"`
	StaticInterval   time.Duration `yaml:"static_interval"`
	GlobalInterval   time.Duration `yaml:"global_interval"`
	MaxRetryAttempts int           `yaml:"max_retry_attempts"`
	RetryDelay       time.Duration `yaml:"retry_delay"`

	CoinGeckoBaseURL string        `yaml:"coingecko_base_url"`
	CoinGeckoAPIKey  string        `yaml:"coingecko_api_key"`
	RESTTimeout      time.Duration `yaml:"rest_timeout"`
	RESTSpacing      time.Duration `yaml:"rest_spacing"`
	RESTProbe        bool          `yaml:"rest_probe"`

	ExchangeStreams []string      `yaml:"exchange_streams"`
	ExchangeMaxAge  time.Duration `yaml:"exchange_max_age"`

	RedisURL string `yaml:"redis_url"`

	HTTPPort    int      `yaml:"http_port"`
	APIKey      string   `yaml:"api_key"`
	CORSOrigins []string `yaml:"cors_origins"`

	TracingEnabled bool   `yaml:"tracing_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`

	TelegramBotToken string `yaml:"telegram_bot_token"`

	SSHPort        int      `yaml:"ssh_port"`
	SSHHostKeyPath string   `yaml:"ssh_host_key_path"`
	SSHAllowedKeys []string `yaml:"ssh_allowed_keys"`

	MCPTransport          string `yaml:"mcp_transport"`
	MCPHTTPEnabled        bool   `yaml:"mcp_http_enabled"`
	MCPHTTPBind           string `yaml:"mcp_http_bind"`
	MCPHTTPPort           int    `yaml:"mcp_http_port"`
	MCPAuthToken          string `yaml:"mcp_auth_token"`
	MCPRequestTimeoutSecs int    `yaml:"mcp_request_timeout_secs"`
}

func defaults() *Config {
	return &Config{
		LogLevel:              "info",
		AssetIDs:              []string{"bitcoin", "ethereum", "solana", "cardano"},
		ExchangeInterval:      5 * time.Second,
		RESTInterval:          60 * time.Second,
		StaticInterval:        5 * time.Minute,
		GlobalInterval:        5 * time.Minute,
		MaxRetryAttempts:      2,
		RetryDelay:            2 * time.Second,
		RESTTimeout:           10 * time.Second,
		RESTSpacing:           time.Second,
		ExchangeStreams:       []string{"binance", "bybit", "okx"},
		ExchangeMaxAge:        60 * time.Second,
		HTTPPort:              8080,
		TracingEnabled:        true,
		OTLPEndpoint:          "localhost:4317",
		SSHPort:               23234,
		SSHHostKeyPath:        ".ssh/id_ed25519",
		MCPTransport:          "stdio",
		MCPHTTPBind:           "127.0.0.1",
		MCPHTTPPort:           8090,
		MCPRequestTimeoutSecs: 5,
	}
}

// Load resolves the configuration. Malformed environment values are logged
// and ignored; a CONFIG_FILE that cannot be read or parsed is an error.
func Load() (*Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, snapshot mirror disabled")
	}
	return cfg, nil
}

// loadFile overlays a YAML file with ${VAR} references expanded.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.LogLevel, "LOG_LEVEL")
	setList(&c.AssetIDs, "ASSET_IDS")
	setDuration(&c.ExchangeInterval, "EXCHANGE_POLL_INTERVAL")
	setDuration(&c.RESTInterval, "REST_POLL_INTERVAL")
	if v := strings.TrimSpace(os.Getenv("COINGECKO_POLL_SECS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RESTInterval = time.Duration(n) * time.Second
		}
	}
	setDuration(&c.StaticInterval, "STATIC_POLL_INTERVAL")
	setDuration(&c.GlobalInterval, "GLOBAL_POLL_INTERVAL")
	setInt(&c.MaxRetryAttempts, "MAX_RETRY_ATTEMPTS", 0)
	setDuration(&c.RetryDelay, "RETRY_DELAY")

	setString(&c.CoinGeckoBaseURL, "COINGECKO_BASE_URL")
	setString(&c.CoinGeckoAPIKey, "COINGECKO_API_KEY")
	setDuration(&c.RESTTimeout, "REST_TIMEOUT")
	setDuration(&c.RESTSpacing, "REST_SPACING")
	setBool(&c.RESTProbe, "REST_PROBE")

	setList(&c.ExchangeStreams, "EXCHANGE_STREAMS")
	setDuration(&c.ExchangeMaxAge, "EXCHANGE_MAX_AGE")

	setString(&c.RedisURL, "REDIS_URL")

	setInt(&c.HTTPPort, "PORT", 1)
	setString(&c.APIKey, "API_KEY")
	setList(&c.CORSOrigins, "CORS_ORIGINS")

	setBool(&c.TracingEnabled, "TRACING_ENABLED")
	setString(&c.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	setString(&c.TelegramBotToken, "TELEGRAM_BOT_TOKEN")

	setInt(&c.SSHPort, "SSH_PORT", 1)
	setString(&c.SSHHostKeyPath, "SSH_HOST_KEY_PATH")
	setList(&c.SSHAllowedKeys, "SSH_ALLOWED_KEYS")

	setString(&c.MCPTransport, "MCP_TRANSPORT")
	c.MCPTransport = strings.ToLower(c.MCPTransport)
	if c.MCPTransport != "stdio" && c.MCPTransport != "http" {
		log.Printf("Warning: unsupported MCP_TRANSPORT=%q, defaulting to stdio", c.MCPTransport)
		c.MCPTransport = "stdio"
	}
	setBool(&c.MCPHTTPEnabled, "MCP_HTTP_ENABLED")
	setString(&c.MCPHTTPBind, "MCP_HTTP_BIND")
	setInt(&c.MCPHTTPPort, "MCP_HTTP_PORT", 1)
	setString(&c.MCPAuthToken, "MCP_AUTH_TOKEN")
	setInt(&c.MCPRequestTimeoutSecs, "MCP_REQUEST_TIMEOUT_SECS", 1)
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func setInt(dst *int, key string, minimum int) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < minimum {
		log.Printf("Warning: ignoring invalid %s=%q", key, v)
		return
	}
	*dst = n
}

func setBool(dst *bool, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("Warning: ignoring invalid %s=%q", key, v)
		return
	}
	*dst = b
}

func setDuration(dst *time.Duration, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("Warning: ignoring invalid %s=%q", key, v)
		return
	}
	*dst = d
}
