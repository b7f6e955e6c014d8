package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var knownStreams = map[string]bool{"binance": true, "bybit": true, "okx": true}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if len(c.AssetIDs) == 0 {
		return errors.New("asset_ids must not be empty")
	}
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"exchange_interval", c.ExchangeInterval},
		{"rest_interval", c.RESTInterval},
		{"static_interval", c.StaticInterval},
		{"global_interval", c.GlobalInterval},
		{"rest_timeout", c.RESTTimeout},
	}
	for _, f := range durations {
		if f.d <= 0 {
			return fmt.Errorf("%s must be positive", f.name)
		}
	}
	if c.RESTSpacing < 0 {
		return errors.New("rest_spacing must be >= 0")
	}
	if c.MaxRetryAttempts < 0 {
		return errors.New("max_retry_attempts must be >= 0")
	}
	if c.RetryDelay < 0 {
		return errors.New("retry_delay must be >= 0")
	}
	for _, s := range c.ExchangeStreams {
		if !knownStreams[strings.ToLower(strings.TrimSpace(s))] {
			return fmt.Errorf("exchange_streams: unknown stream %q", s)
		}
	}
	ports := []struct {
		name string
		port int
	}{
		{"http_port", c.HTTPPort},
		{"ssh_port", c.SSHPort},
		{"mcp_http_port", c.MCPHTTPPort},
	}
	for _, p := range ports {
		if p.port < 1 || p.port > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535, got %d", p.name, p.port)
		}
	}
	return nil
}
