package esphome

import (
	"time"

	"github.com/esphome-go/native-api/internal/transport"
)

// Config holds the user-facing connection settings for Client.
type Config struct {
	Address    string
	Password   string
	PSK        []byte
	ClientInfo string

	ConnectTimeout    time.Duration
	PingInterval      time.Duration
	PingTimeout       time.Duration
	HandshakeDeadline time.Duration

	ReconnectMinInterval time.Duration
	ReconnectMaxInterval time.Duration
	ReconnectBurst       int
	Reconnect            bool
}

// Option mutates a Config being built by NewClient.
type Option func(*Config)

// WithPassword sets the legacy plaintext password.
func WithPassword(password string) Option {
	return func(c *Config) { c.Password = password }
}

// WithEncryptionKey sets the 32-byte Noise pre-shared key (already
// base64-decoded).
func WithEncryptionKey(psk []byte) Option {
	return func(c *Config) { c.PSK = psk }
}

// WithClientInfo overrides the client_info string sent in HelloRequest.
func WithClientInfo(info string) Option {
	return func(c *Config) { c.ClientInfo = info }
}

// WithConnectTimeout overrides the TCP dial timeout. The reconnect loop
// also uses it as the deadline of each whole reconnect attempt, Noise
// handshake included.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) { c.ConnectTimeout = d }
}

// WithPingInterval overrides how often a keepalive ping is sent.
func WithPingInterval(d time.Duration) Option {
	return func(c *Config) { c.PingInterval = d }
}

// WithPingTimeout overrides how long without any inbound traffic before
// the connection is declared dead.
func WithPingTimeout(d time.Duration) Option {
	return func(c *Config) { c.PingTimeout = d }
}

// WithReconnect enables or disables the automatic reconnect loop. It
// defaults to enabled.
func WithReconnect(enabled bool) Option {
	return func(c *Config) { c.Reconnect = enabled }
}

// WithReconnectBackoff overrides the min/max reconnect backoff bounds.
func WithReconnectBackoff(min, max time.Duration) Option {
	return func(c *Config) { c.ReconnectMinInterval, c.ReconnectMaxInterval = min, max }
}

func (c Config) toTransportConfig() transport.Config {
	return transport.Config{
		Address:              c.Address,
		Password:             c.Password,
		PSK:                  c.PSK,
		ClientInfo:           c.ClientInfo,
		ConnectTimeout:       c.ConnectTimeout,
		PingInterval:         c.PingInterval,
		PingTimeout:          c.PingTimeout,
		HandshakeDeadline:    c.HandshakeDeadline,
		ReconnectMinInterval: c.ReconnectMinInterval,
		ReconnectMaxInterval: c.ReconnectMaxInterval,
		ReconnectBurst:       c.ReconnectBurst,
		Reconnect:            c.Reconnect,
	}
}
