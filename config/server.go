package config

import (
	"fmt"
	"net"
	"time"
)

// ServerConfig defines the HTTP and WebSocket listener.
type ServerConfig struct {
	Address           string `json:"address"`
	ReadTimeoutMS     int    `json:"read_timeout_ms"`
	WriteTimeoutMS    int    `json:"write_timeout_ms"`
	IdleTimeoutMS     int    `json:"idle_timeout_ms"`
	ShutdownTimeoutMS int    `json:"shutdown_timeout_ms"`
	// AllowedOrigins restricts WebSocket upgrades. Empty allows any origin.
	AllowedOrigins []string `json:"allowed_origins"`
	// JWTSecret requires an HS256 token on /ws when set.
	JWTSecret       string `json:"jwt_secret"`
	MaxMessageBytes int64  `json:"max_message_bytes"`
}

// SetDefaults binds every interface on port 5000.
func (c *ServerConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = "0.0.0.0:5000"
	}
	if c.ReadTimeoutMS <= 0 {
		c.ReadTimeoutMS = 15000
	}
	if c.WriteTimeoutMS <= 0 {
		c.WriteTimeoutMS = 15000
	}
	if c.IdleTimeoutMS <= 0 {
		c.IdleTimeoutMS = 60000
	}
	if c.ShutdownTimeoutMS <= 0 {
		c.ShutdownTimeoutMS = 5000
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 4096
	}
}

// Validate checks the listen address.
func (c ServerConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("server.address: %w", err)
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c ServerConfig) ReadTimeout() time.Duration     { return ms(c.ReadTimeoutMS) }
func (c ServerConfig) WriteTimeout() time.Duration    { return ms(c.WriteTimeoutMS) }
func (c ServerConfig) IdleTimeout() time.Duration     { return ms(c.IdleTimeoutMS) }
func (c ServerConfig) ShutdownTimeout() time.Duration { return ms(c.ShutdownTimeoutMS) }
