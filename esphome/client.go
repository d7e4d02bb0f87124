// Package esphome is the public client facade: Connect a single device,
// enumerate its entities, subscribe to state changes and log lines, and
// send commands. It composes internal/transport (socket + liveness +
// reconnect), internal/handshake (Hello/Connect/DeviceInfo), and
// esphome/entity (the catalog), the way the teacher's sdk.Client
// composes its own listener/lease/cryptoops layers.
package esphome

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/esphome-go/native-api/esphome/api"
	"github.com/esphome-go/native-api/esphome/entity"
	"github.com/esphome-go/native-api/esphome/esherr"
	"github.com/esphome-go/native-api/internal/eventbus"
	"github.com/esphome-go/native-api/internal/handshake"
	"github.com/esphome-go/native-api/internal/transport"
)

// Client channel names (exported so callers can reference them directly
// in On/Once, the same convention the Connection uses for its own bus).
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventEntity       = "entity"
	EventState        = "state"
	EventLog          = "log"
	EventError        = "error"
)

const listEntitiesDeadline = 10 * time.Second

// Client is one logical device session. Create it with NewClient,
// establish the socket and run the handshake with Connect, and release
// it with Close.
type Client struct {
	cfg  Config
	conn *transport.Connection
	bus  *eventbus.Bus
	cat  *entity.Catalog
	log  zerolog.Logger

	subscribedStates bool
	subscribedLogs   bool
}

// NewClient builds a Client for address (host:port), applying opts over
// the package defaults. It does not dial; call Connect.
func NewClient(address string, opts ...Option) *Client {
	cfg := Config{
		Address:   address,
		Reconnect: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Client{
		cfg: cfg,
		bus: eventbus.New(),
		cat: entity.NewCatalog(),
		log: log.With().Str("component", "esphome").Str("address", address).Logger(),
	}
	c.conn = transport.New(cfg.toTransportConfig())
	c.wireConnection()
	return c
}

func (c *Client) wireConnection() {
	c.conn.On(transport.EventConnect, func(any) {
		go c.runHandshake()
	})
	c.conn.On(transport.EventDisconnect, func(payload any) {
		c.bus.Emit(EventDisconnected, payload)
	})
	c.conn.On(transport.EventError, func(payload any) {
		c.bus.Emit(EventError, payload)
	})
	c.conn.On(transport.EventMessage, c.handleMessage)
}

func (c *Client) runHandshake() {
	driver := handshake.New(c.conn, c.cfg.ClientInfo, c.cfg.Password)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := driver.Run(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("handshake failed")
		c.bus.Emit(EventError, err)
		c.conn.Disconnect(err)
		return
	}

	c.log.Info().
		Uint32("api_major", result.APIVersionMajor).
		Uint32("api_minor", result.APIVersionMinor).
		Str("name", result.DeviceInfo.Name).
		Bool("deep_sleep", result.DeepSleep).
		Msg("handshake complete")
	c.bus.Emit(EventConnected, result)
}

// On registers a handler for a Client-level event channel.
func (c *Client) On(channel string, handler eventbus.Handler) uint64 {
	return c.bus.On(channel, handler)
}

// Once registers a one-shot handler for a Client-level event channel.
func (c *Client) Once(channel string, handler eventbus.Handler) uint64 {
	return c.bus.Once(channel, handler)
}

// Off unregisters a previously registered handler.
func (c *Client) Off(channel string, id uint64) {
	c.bus.Off(channel, id)
}

// Connect dials the device and blocks until the handshake finishes (or
// ctx expires). Once connected, disconnects are retried transparently by
// the reconnect loop unless WithReconnect(false) was set or the device
// reported deep sleep.
func (c *Client) Connect(ctx context.Context) error {
	done := make(chan struct{})
	id := c.bus.Once(EventConnected, func(any) {
		close(done)
	})
	errCh := make(chan error, 1)
	errID := c.bus.Once(EventError, func(payload any) {
		if err, ok := payload.(error); ok {
			select {
			case errCh <- err:
			default:
			}
		}
	})
	defer c.bus.Off(EventConnected, id)
	defer c.bus.Off(EventError, errID)

	if err := c.conn.Connect(ctx); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return esherr.New(esherr.KindConnectionTimeout, "Client.Connect", ctx.Err())
	}
}

// Close tears the connection down permanently; no further reconnect
// attempts are made.
func (c *Client) Close() {
	c.conn.Destroy()
}

// IsConnected reports whether the socket is open.
func (c *Client) IsConnected() bool { return c.conn.IsConnected() }

// IsAuthenticated reports whether the handshake has completed.
func (c *Client) IsAuthenticated() bool { return c.conn.IsAuthenticated() }

// Entities returns a snapshot of the most recently enumerated catalog.
func (c *Client) Entities() []entity.Entity { return c.cat.All() }

// ListEntities clears the catalog and runs one full enumeration
// (ListEntitiesRequest through ListEntitiesDoneResponse), returning the
// freshly populated set (spec.md §4.5).
func (c *Client) ListEntities(ctx context.Context) ([]entity.Entity, error) {
	ctx, cancel := context.WithTimeout(ctx, listEntitiesDeadline)
	defer cancel()

	c.cat.Clear()
	done := make(chan struct{})
	id := c.conn.On(transport.EventMessage, func(payload any) {
		msg, ok := payload.(transport.Message)
		if !ok {
			return
		}
		if e, ok := entityFromMessage(msg); ok {
			c.cat.Add(e)
			c.bus.Emit(EventEntity, e)
			return
		}
		if msg.Type == api.TypeListEntitiesDoneResponse {
			select {
			case <-done:
			default:
				close(done)
			}
		}
	})
	defer c.conn.Off(transport.EventMessage, id)

	if err := c.conn.SendMessage(api.ListEntitiesRequest{}); err != nil {
		return nil, err
	}

	select {
	case <-done:
		return c.cat.All(), nil
	case <-ctx.Done():
		return nil, esherr.New(esherr.KindTimeout, "Client.ListEntities", ctx.Err())
	}
}

// SubscribeStates asks the device to stream entity state changes; each
// update is both emitted on EventState and handed to handler.
func (c *Client) SubscribeStates(handler func(entity.Kind, any)) error {
	c.bus.On(EventState, func(payload any) {
		sp, ok := payload.(statePayload)
		if !ok {
			return
		}
		handler(sp.kind, sp.state)
	})
	if c.subscribedStates {
		return nil
	}
	c.subscribedStates = true
	return c.conn.SendMessage(api.SubscribeStatesRequest{})
}

// SubscribeLogs asks the device to stream log lines at or above level.
func (c *Client) SubscribeLogs(level api.LogLevel, handler func(api.SubscribeLogsResponse)) error {
	c.bus.On(EventLog, func(payload any) {
		if l, ok := payload.(api.SubscribeLogsResponse); ok {
			handler(l)
		}
	})
	if c.subscribedLogs {
		return nil
	}
	c.subscribedLogs = true
	return c.conn.SendMessage(api.SubscribeLogsRequest{Level: level})
}

type statePayload struct {
	kind  entity.Kind
	state any
}

func (c *Client) handleMessage(payload any) {
	msg, ok := payload.(transport.Message)
	if !ok {
		return
	}

	switch v := msg.Decoded.(type) {
	case api.BinarySensorStateResponse:
		c.bus.Emit(EventState, statePayload{entity.KindBinarySensor, v})
	case api.SensorStateResponse:
		c.bus.Emit(EventState, statePayload{entity.KindSensor, v})
	case api.SwitchStateResponse:
		c.bus.Emit(EventState, statePayload{entity.KindSwitch, v})
	case api.LightStateResponse:
		c.bus.Emit(EventState, statePayload{entity.KindLight, v})
	case api.FanStateResponse:
		c.bus.Emit(EventState, statePayload{entity.KindFan, v})
	case api.CoverStateResponse:
		c.bus.Emit(EventState, statePayload{entity.KindCover, v})
	case api.TextSensorStateResponse:
		c.bus.Emit(EventState, statePayload{entity.KindTextSensor, v})
	case api.SubscribeLogsResponse:
		c.bus.Emit(EventLog, v)
	case nil:
		c.log.Debug().Uint64("type", msg.Type).Msg("unhandled message type")
	}
}

// entityFromMessage maps a ListEntities<Kind>Response message into an
// entity.Entity, or returns ok=false for anything else.
func entityFromMessage(msg transport.Message) (entity.Entity, bool) {
	switch v := msg.Decoded.(type) {
	case api.ListEntitiesBinarySensorResponse:
		return entity.New(v.Key, v.ObjectID, v.Name, entity.KindBinarySensor, v), true
	case api.ListEntitiesSensorResponse:
		return entity.New(v.Key, v.ObjectID, v.Name, entity.KindSensor, v), true
	case api.ListEntitiesSwitchResponse:
		return entity.New(v.Key, v.ObjectID, v.Name, entity.KindSwitch, v), true
	case api.ListEntitiesLightResponse:
		return entity.New(v.Key, v.ObjectID, v.Name, entity.KindLight, v), true
	case api.ListEntitiesFanResponse:
		return entity.New(v.Key, v.ObjectID, v.Name, entity.KindFan, v), true
	case api.ListEntitiesCoverResponse:
		return entity.New(v.Key, v.ObjectID, v.Name, entity.KindCover, v), true
	case api.ListEntitiesTextSensorResponse:
		return entity.New(v.Key, v.ObjectID, v.Name, entity.KindTextSensor, v), true
	default:
		return entity.Entity{}, false
	}
}
