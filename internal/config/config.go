// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

// Package config defines the gateway configuration and its layered loading.
//
// Configuration is resolved in priority order (highest wins):
//  1. Environment variables (GATEWAY_ prefix, e.g. GATEWAY_SERVER_PORT)
//  2. YAML config file (config.yaml, /etc/costboard-gateway/config.yaml,
//     or the path in CONFIG_PATH)
//  3. Built-in defaults
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the gateway process.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Security SecurityConfig `koanf:"security"`
	Gateway  GatewayConfig  `koanf:"gateway"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the listen address. Default: 0.0.0.0
	Host string `koanf:"host"`

	// Port is the listen port. Default: 4850
	Port int `koanf:"port"`

	// ReadHeaderTimeout bounds how long a client may take to send headers.
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`

	// ShutdownTimeout is the graceful shutdown window for in-flight
	// requests and open websocket connections.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// SecurityConfig holds authentication and rate limiting settings.
type SecurityConfig struct {
	// JWTSecret is the HMAC secret shared with the credential-issuing
	// CRUD API. Required; minimum 32 characters.
	JWTSecret string `koanf:"jwt_secret"`

	// TokenLeeway tolerates clock skew between the issuer and the
	// gateway when validating exp/nbf claims.
	TokenLeeway time.Duration `koanf:"token_leeway"`

	// CORSOrigins lists allowed browser origins for HTTP and websocket
	// handshakes. Default: ["*"] (development only).
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitReqs / RateLimitWindow bound API requests per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`

	// HandshakeLimitReqs / HandshakeLimitWindow bound websocket
	// handshake attempts per client IP. Tighter than the API limit
	// because each handshake performs token verification.
	HandshakeLimitReqs   int           `koanf:"handshake_limit_reqs"`
	HandshakeLimitWindow time.Duration `koanf:"handshake_limit_window"`

	// RateLimitDisabled turns off all rate limiting (tests only).
	RateLimitDisabled bool `koanf:"rate_limit_disabled"`
}

// GatewayConfig holds tunables for the realtime core.
type GatewayConfig struct {
	// SendBuffer is the per-connection outbound frame buffer. A
	// connection whose buffer is full drops frames rather than
	// stalling delivery to siblings.
	SendBuffer int `koanf:"send_buffer"`

	// DispatchBuffer is the size of the Deliver queue drained by the
	// dispatch loop.
	DispatchBuffer int `koanf:"dispatch_buffer"`

	// ReadLimit is the maximum inbound websocket frame size in bytes.
	ReadLimit int64 `koanf:"read_limit"`

	// TypingRate / TypingBurst rate-limit typing signals per
	// connection (signals per second, burst allowance).
	TypingRate  float64 `koanf:"typing_rate"`
	TypingBurst int     `koanf:"typing_burst"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is the output format: json or console.
	Format string `koanf:"format"`

	// Caller includes caller file:line in log output.
	Caller bool `koanf:"caller"`
}

// minJWTSecretLen is the minimum accepted HMAC secret length.
// Shorter secrets are brute-forceable offline from a single captured token.
const minJWTSecretLen = 32

// Defaults returns a Config with all default values. Load applies these
// first, then overrides from the config file and environment; tests use it
// as a valid starting point (minus the JWT secret, which has no default).
func Defaults() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with all default values.
// Defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              4850,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Security: SecurityConfig{
			JWTSecret:            "",
			TokenLeeway:          30 * time.Second,
			CORSOrigins:          []string{"*"},
			RateLimitReqs:        100,
			RateLimitWindow:      time.Minute,
			HandshakeLimitReqs:   30,
			HandshakeLimitWindow: time.Minute,
			RateLimitDisabled:    false,
		},
		Gateway: GatewayConfig{
			SendBuffer:     256,
			DispatchBuffer: 256,
			ReadLimit:      64 * 1024,
			TypingRate:     5,
			TypingBurst:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for values that would make the
// gateway unusable or silently insecure. Called by Load; tests that
// build a Config by hand should call it explicitly.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if len(c.Security.JWTSecret) < minJWTSecretLen {
		return fmt.Errorf("security.jwt_secret must be at least %d characters (got %d)",
			minJWTSecretLen, len(c.Security.JWTSecret))
	}
	if c.Gateway.SendBuffer < 1 {
		return fmt.Errorf("gateway.send_buffer must be positive, got %d", c.Gateway.SendBuffer)
	}
	if c.Gateway.DispatchBuffer < 1 {
		return fmt.Errorf("gateway.dispatch_buffer must be positive, got %d", c.Gateway.DispatchBuffer)
	}
	if c.Gateway.ReadLimit < 512 {
		return fmt.Errorf("gateway.read_limit must be at least 512 bytes, got %d", c.Gateway.ReadLimit)
	}
	if c.Gateway.TypingRate <= 0 {
		return fmt.Errorf("gateway.typing_rate must be positive, got %v", c.Gateway.TypingRate)
	}
	return nil
}

// Addr returns the host:port listen address for the HTTP server.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
