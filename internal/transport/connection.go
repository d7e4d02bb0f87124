// Package transport implements the Connection state machine: dialing,
// the optional Noise data phase, frame dispatch, ping/pong liveness, and
// the reconnect loop (spec.md §4.3). It knows nothing about handshake
// semantics (Hello/Connect/DeviceInfo) or entity state — that lives in
// internal/handshake and the esphome facade, which subscribe to this
// package's event bus.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/esphome-go/native-api/esphome/api"
	"github.com/esphome-go/native-api/esphome/esherr"
	"github.com/esphome-go/native-api/internal/eventbus"
	"github.com/esphome-go/native-api/internal/noiseapi"
	"github.com/esphome-go/native-api/internal/wire"
)

// Channel names on the Connection's event bus.
const (
	EventConnect     = "connect"
	EventDisconnect  = "disconnect"
	EventMessage     = "message"
	EventError       = "error"
	EventStateChange = "stateChange"
)

// Message is the payload delivered on EventMessage: a decoded frame type
// plus whatever value esphome/api.Decode produced for it (nil if the
// type was not recognized — callers fall back to Raw/Type).
type Message struct {
	Type    uint64
	Decoded any
	Raw     []byte
}

// StateChange is the payload delivered on EventStateChange.
type StateChange struct {
	From, To State
}

// Connection owns one TCP socket to a device, the optional Noise data
// phase over it, and the background goroutines (read loop, ping loop,
// reconnect loop) that keep it alive. Create one with New per logical
// device; call Connect to establish the socket, Destroy to tear down
// permanently.
type Connection struct {
	id  uuid.UUID
	cfg Config
	bus *eventbus.Bus
	log zerolog.Logger

	mu                 sync.Mutex
	conn               net.Conn
	noise              *noiseapi.Session
	dec                *wire.Decoder
	state              State
	authenticated      bool
	apiMajor           uint32
	apiMinor           uint32
	serverInfo         string
	deepSleep          bool
	expectedDisconnect bool
	lastRecv           time.Time
	writeMu            sync.Mutex

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	reconnectGen int // bumped on every Connect/Destroy to invalidate stale reconnect loops
}

// New constructs a Connection in StateIdle. It does not dial.
func New(cfg Config) *Connection {
	cfg = applyDefaults(cfg)
	id := uuid.New()
	return &Connection{
		id:     id,
		cfg:    cfg,
		bus:    eventbus.New(),
		dec:    wire.NewDecoder(),
		state:  StateIdle,
		stopCh: make(chan struct{}),
		log: log.With().
			Str("component", "transport").
			Str("conn_id", id.String()).
			Str("address", cfg.Address).
			Logger(),
	}
}

// On registers handler on channel; see internal/eventbus.
func (c *Connection) On(channel string, handler eventbus.Handler) uint64 {
	return c.bus.On(channel, handler)
}

// Once registers a one-shot handler on channel.
func (c *Connection) Once(channel string, handler eventbus.Handler) uint64 {
	return c.bus.Once(channel, handler)
}

// Off unregisters a previously registered handler.
func (c *Connection) Off(channel string, id uint64) {
	c.bus.Off(channel, id)
}

// State returns the current lifecycle stage.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the socket (and, if enabled, the Noise
// data phase) is currently usable for Send.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen
}

// IsAuthenticated reports whether Connect's handshake completed
// successfully (set by the handshake driver via SetAuthenticated).
func (c *Connection) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// SetAuthenticated records that the handshake/auth driver has finished.
func (c *Connection) SetAuthenticated(v bool) {
	c.mu.Lock()
	c.authenticated = v
	c.mu.Unlock()
}

// SetAPIVersion records the device's negotiated protocol version.
func (c *Connection) SetAPIVersion(major, minor uint32) {
	c.mu.Lock()
	c.apiMajor, c.apiMinor = major, minor
	c.mu.Unlock()
}

// APIVersion returns the negotiated protocol version.
func (c *Connection) APIVersion() (major, minor uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiMajor, c.apiMinor
}

// SetServerInfo records the device's free-form server_info string.
func (c *Connection) SetServerInfo(info string) {
	c.mu.Lock()
	c.serverInfo = info
	c.mu.Unlock()
}

// ServerInfo returns the device's free-form server_info string.
func (c *Connection) ServerInfo() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// SetDeepSleepMode marks whether the device identifies as a deep-sleep
// node. While true, an unexpected disconnect is treated as the device
// going to sleep rather than a link failure, and the reconnect loop is
// suppressed (spec.md §4.3 "deep-sleep suppression").
func (c *Connection) SetDeepSleepMode(v bool) {
	c.mu.Lock()
	c.deepSleep = v
	c.mu.Unlock()
}

func (c *Connection) setState(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	if from != to {
		c.bus.Emit(EventStateChange, StateChange{From: from, To: to})
	}
}

// Connect dials cfg.Address, performs the Noise data-phase handshake if
// cfg.PSK is set, and starts the read and ping loops. It does not run
// the higher-level Hello/Connect/DeviceInfo exchange; that is
// internal/handshake's job, layered on top via On(EventConnect, ...).
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return esherr.New(esherr.KindNotConnected, "transport.Connect", nil).
			WithSuggestion("connection has been destroyed")
	}
	c.reconnectGen++
	gen := c.reconnectGen
	c.mu.Unlock()

	c.setState(StateConnecting)

	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		c.setState(StateIdle)
		wrapped := esherr.New(esherr.KindConnectionRefused, "transport.Connect", err)
		c.bus.Emit(EventError, wrapped)
		return wrapped
	}

	var session *noiseapi.Session
	if len(c.cfg.PSK) > 0 {
		c.setState(StateHandshakingNoise)
		session, err = noiseapi.NewSession(c.cfg.PSK)
		if err != nil {
			conn.Close()
			c.setState(StateIdle)
			c.bus.Emit(EventError, err)
			return err
		}
		if deadline, ok := ctx.Deadline(); ok {
			conn.SetDeadline(deadline)
		} else {
			conn.SetDeadline(time.Now().Add(c.cfg.HandshakeDeadline))
		}
		if err := session.Handshake(conn); err != nil {
			conn.Close()
			c.setState(StateIdle)
			c.bus.Emit(EventError, err)
			return err
		}
		conn.SetDeadline(time.Time{})
	}

	c.mu.Lock()
	c.conn = conn
	c.noise = session
	c.dec.Clear()
	c.lastRecv = time.Now()
	c.expectedDisconnect = false
	c.mu.Unlock()

	c.setState(StateOpen)
	c.log.Info().Bool("encrypted", session != nil).Msg("connected")
	c.bus.Emit(EventConnect, nil)

	c.wg.Add(2)
	go c.readLoop(gen)
	go c.pingLoop(gen)
	return nil
}

// Send frames and writes one message. It is safe for concurrent use.
func (c *Connection) Send(msgType uint64, payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	session := c.noise
	state := c.state
	c.mu.Unlock()

	if state != StateOpen || conn == nil {
		return esherr.New(esherr.KindNotConnected, "transport.Send", nil)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if session != nil && session.Ready() {
		inner := wire.EncodeInner(msgType, payload)
		ct, err := session.Encrypt(nil, inner)
		if err != nil {
			return err
		}
		if err := noiseapi.WriteEnvelope(conn, ct); err != nil {
			return esherr.New(esherr.KindConnectionLost, "transport.Send", err)
		}
		return nil
	}

	if _, err := conn.Write(wire.Encode(msgType, payload)); err != nil {
		return esherr.New(esherr.KindConnectionLost, "transport.Send", err)
	}
	return nil
}

// SendMessage encodes msg via esphome/api and sends it.
func (c *Connection) SendMessage(msg any) error {
	msgType, payload, err := api.Encode(msg)
	if err != nil {
		return err
	}
	return c.Send(msgType, payload)
}

// Disconnect closes the socket and, if reconnect is enabled and the
// device is neither in deep sleep nor destroyed, schedules a reconnect.
// It is idempotent.
func (c *Connection) Disconnect(reason error) {
	c.teardown(reason, true)
}

// Destroy permanently tears down the connection: no further reconnect
// attempts are made and all event listeners are detached.
func (c *Connection) Destroy() {
	c.mu.Lock()
	c.reconnectGen++ // invalidate any in-flight reconnect loop
	c.mu.Unlock()
	c.teardown(nil, false)
	c.setState(StateDestroyed)
	close(c.stopCh)
	c.wg.Wait()
	c.bus.Destroy()
}

func (c *Connection) teardown(reason error, allowReconnect bool) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.noise != nil {
		c.noise.Reset()
		c.noise = nil
	}
	alreadyIdle := c.state == StateIdle || c.state == StateDestroyed
	deepSleep := c.deepSleep
	expected := c.expectedDisconnect
	c.authenticated = false
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if alreadyIdle {
		return
	}

	c.setState(StateIdle)
	if expected {
		c.log.Info().Bool("deep_sleep", deepSleep).Msg("disconnected (peer requested)")
	} else {
		c.log.Warn().Err(reason).Bool("deep_sleep", deepSleep).Msg("disconnected")
	}
	c.bus.Emit(EventDisconnect, reason)

	if allowReconnect && c.cfg.Reconnect && !deepSleep {
		c.scheduleReconnect()
	}
}

func (c *Connection) scheduleReconnect() {
	c.mu.Lock()
	c.reconnectGen++
	gen := c.reconnectGen
	c.mu.Unlock()

	c.wg.Add(1)
	go c.reconnectLoop(gen)
}

// reconnectLoop retries Connect with exponential backoff between
// cfg.ReconnectMinInterval and cfg.ReconnectMaxInterval, additionally
// paced by a token-bucket limiter so a flapping link cannot spin the
// loop hot (spec.md §4.3). gen pins this goroutine to the Connect/
// Destroy call that spawned it; a newer call invalidates it.
func (c *Connection) reconnectLoop(gen int) {
	defer c.wg.Done()

	limiter := rate.NewLimiter(rate.Every(c.cfg.ReconnectMinInterval), c.cfg.ReconnectBurst)
	delay := c.cfg.ReconnectMinInterval

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		c.mu.Lock()
		stale := gen != c.reconnectGen || c.state == StateDestroyed
		c.mu.Unlock()
		if stale {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout+delay)
		err := limiter.Wait(ctx)
		cancel()
		if err != nil {
			return
		}

		c.setState(StateReconnecting)
		c.log.Info().Dur("delay", delay).Msg("reconnecting")
		connectCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		err = c.Connect(connectCtx)
		cancel()
		if err == nil {
			return // Connect started its own read/ping loops under the new gen
		}
		// The failed Connect bumped reconnectGen; adopt that value unless
		// another Connect/Destroy call has moved it further.
		c.mu.Lock()
		if c.reconnectGen == gen+1 {
			gen++
		}
		c.mu.Unlock()

		select {
		case <-c.stopCh:
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.cfg.ReconnectMaxInterval {
			delay = c.cfg.ReconnectMaxInterval
		}
	}
}

func (c *Connection) readLoop(gen int) {
	defer c.wg.Done()

	c.mu.Lock()
	conn := c.conn
	session := c.noise
	c.mu.Unlock()

	buf := make([]byte, 4096)
	for {
		if session != nil {
			payload, err := noiseapi.ReadEnvelope(conn)
			if err != nil {
				c.handleReadError(gen, err)
				return
			}
			plaintext, err := session.Decrypt(nil, payload)
			if err != nil {
				c.handleReadError(gen, err)
				return
			}
			frame, err := wire.DecodeInner(plaintext)
			if err != nil {
				c.handleReadError(gen, err)
				return
			}
			c.dispatch(frame)
			continue
		}

		n, err := conn.Read(buf)
		if err != nil {
			c.handleReadError(gen, err)
			return
		}
		frames, err := c.dec.Feed(buf[:n])
		for _, f := range frames {
			c.dispatch(f)
		}
		if err != nil {
			c.handleReadError(gen, err)
			return
		}
	}
}

func (c *Connection) dispatch(f wire.Frame) {
	c.mu.Lock()
	c.lastRecv = time.Now()
	c.mu.Unlock()

	decoded, _ := api.Decode(f.Type, f.Payload)

	// Ping and Disconnect are handled here, at the Connection layer, and
	// never surface to the Client Facade (spec.md §4.3, §4.5 dispatch
	// step (a)).
	switch decoded.(type) {
	case api.PingRequest:
		c.replyPing()
		return
	case api.DisconnectRequest:
		c.handleDisconnectRequest()
		return
	}

	c.bus.Emit(EventMessage, Message{Type: f.Type, Decoded: decoded, Raw: f.Payload})
}

func (c *Connection) replyPing() {
	if err := c.SendMessage(api.PingResponse{}); err != nil {
		c.log.Warn().Err(err).Msg("failed to answer inbound ping")
	}
}

// handleDisconnectRequest answers an inbound DisconnectRequest (the
// device telling us it is about to close the socket) with a
// DisconnectResponse, marks the disconnect as expected, and tears the
// connection down to Idle (spec.md §4.3, §8 scenario 6).
func (c *Connection) handleDisconnectRequest() {
	if err := c.SendMessage(api.DisconnectResponse{}); err != nil {
		c.log.Warn().Err(err).Msg("failed to answer disconnect request")
	}
	c.mu.Lock()
	c.expectedDisconnect = true
	c.mu.Unlock()
	c.Disconnect(nil)
}

func (c *Connection) handleReadError(gen int, err error) {
	c.mu.Lock()
	stale := gen != c.reconnectGen
	c.mu.Unlock()
	if stale {
		return
	}

	var wrapped error
	switch {
	case errors.Is(err, io.EOF):
		wrapped = esherr.New(esherr.KindConnectionReset, "transport.readLoop", err)
	case errors.Is(err, net.ErrClosed):
		return // our own teardown already closed the socket
	default:
		wrapped = esherr.New(esherr.KindConnectionLost, "transport.readLoop", err)
	}
	c.bus.Emit(EventError, wrapped)
	c.Disconnect(wrapped)
}

func (c *Connection) pingLoop(gen int) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := gen != c.reconnectGen || c.state != StateOpen
			deepSleep := c.deepSleep
			last := c.lastRecv
			c.mu.Unlock()
			if stale {
				return
			}

			// A deep-sleep device disconnects itself on its own schedule;
			// pinging it would only wake it or go unanswered. Suppress the
			// loop entirely once it has identified as deep-sleep (spec.md
			// §4.3 "deep-sleep suppression", §8 "Deep-sleep silence").
			if deepSleep {
				return
			}

			if time.Since(last) > c.cfg.PingTimeout {
				c.handleReadError(gen, esherr.Timeout)
				return
			}

			if err := c.SendMessage(api.PingRequest{}); err != nil {
				c.handleReadError(gen, fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}
