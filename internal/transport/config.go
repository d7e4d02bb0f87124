package transport

import "time"

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPingInterval      = 20 * time.Second
	defaultPingTimeout       = 90 * time.Second
	defaultReconnectMin      = 1 * time.Second
	defaultReconnectMax      = 5 * time.Second
	defaultReconnectBurst    = 3
	defaultHandshakeDeadline = 10 * time.Second
)

// Config holds everything a Connection needs to dial, authenticate, and
// keep a single device session alive. Zero-valued fields are filled in
// by applyDefaults.
type Config struct {
	Address    string // host:port
	Password   string
	PSK        []byte // 32-byte Noise pre-shared key; nil disables encryption
	ClientInfo string

	ConnectTimeout    time.Duration
	PingInterval      time.Duration
	PingTimeout       time.Duration
	HandshakeDeadline time.Duration

	// ReconnectMinInterval and ReconnectMaxInterval bound the backoff
	// applied between reconnect attempts once the connection is lost: the
	// delay starts at the minimum and doubles after each failed attempt
	// up to the maximum. ReconnectBurst is the burst size of the token
	// bucket (one token per ReconnectMinInterval) that additionally paces
	// the attempts (spec.md §4.3).
	ReconnectMinInterval time.Duration
	ReconnectMaxInterval time.Duration
	ReconnectBurst       int

	// Reconnect disables the automatic reconnect loop when false. Tests
	// and one-shot tools usually want this off.
	Reconnect bool
}

// applyDefaults fills zero-valued fields of cfg with sane defaults,
// mirroring the teacher's own applyDefaults(ClientConfig) pattern.
func applyDefaults(cfg Config) Config {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaultPingTimeout
	}
	if cfg.HandshakeDeadline <= 0 {
		cfg.HandshakeDeadline = defaultHandshakeDeadline
	}
	if cfg.ReconnectMinInterval <= 0 {
		cfg.ReconnectMinInterval = defaultReconnectMin
	}
	if cfg.ReconnectMaxInterval <= 0 {
		cfg.ReconnectMaxInterval = defaultReconnectMax
	}
	if cfg.ReconnectBurst <= 0 {
		cfg.ReconnectBurst = defaultReconnectBurst
	}
	if cfg.ClientInfo == "" {
		cfg.ClientInfo = "esphome-go native-api client"
	}
	return cfg
}
