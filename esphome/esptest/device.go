// Package esptest implements a minimal in-process ESPHome device: a
// loopback TCP listener that answers the Hello/Connect/DeviceInfo/Ping
// exchange deterministically, so the facade and transport packages can
// be exercised end-to-end without a real device or network (spec.md §8
// scenarios 4-6).
package esptest

import (
	"net"
	"sync"

	"github.com/esphome-go/native-api/esphome/api"
	"github.com/esphome-go/native-api/internal/wire"
)

// Option configures a Device being built by NewDevice.
type Option func(*Device)

// WithPassword requires ConnectRequest to carry this password.
func WithPassword(password string) Option {
	return func(d *Device) { d.password = password }
}

// WithDeepSleep marks DeviceInfoResponse.HasDeepSleep.
func WithDeepSleep(v bool) Option {
	return func(d *Device) { d.deepSleep = v }
}

// WithName sets the device's reported name.
func WithName(name string) Option {
	return func(d *Device) { d.name = name }
}

// WithEntities registers the ListEntities<Kind>Response values returned
// by a ListEntitiesRequest, in order.
func WithEntities(entities ...any) Option {
	return func(d *Device) { d.entities = entities }
}

// WithAddress overrides the default "127.0.0.1:0" (ephemeral port)
// listen address, for standalone binaries that want a fixed port.
func WithAddress(addr string) Option {
	return func(d *Device) { d.addr = addr }
}

// Device is a simulated ESPHome native API server.
type Device struct {
	password  string
	deepSleep bool
	name      string
	entities  []any
	addr      string

	ln net.Listener

	mu        sync.Mutex
	conns     []net.Conn
	pingCount int
	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewDevice builds a Device with opts applied. It does not listen yet.
func NewDevice(opts ...Option) *Device {
	d := &Device{name: "esptest-device", addr: "127.0.0.1:0", stopCh: make(chan struct{})}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start listens on the configured address (127.0.0.1:0 by default) and
// begins accepting connections.
func (d *Device) Start() error {
	ln, err := net.Listen("tcp", d.addr)
	if err != nil {
		return err
	}
	d.ln = ln
	d.wg.Add(1)
	go d.acceptLoop()
	return nil
}

// Addr returns the listener's address ("host:port").
func (d *Device) Addr() string {
	return d.ln.Addr().String()
}

// Close stops accepting connections and closes every open one.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		close(d.stopCh)
		if d.ln != nil {
			d.ln.Close()
		}
		d.mu.Lock()
		for _, c := range d.conns {
			c.Close()
		}
		d.mu.Unlock()
	})
	d.wg.Wait()
	return nil
}

// DisconnectAll forcibly closes every currently open connection, as if
// the device lost power.
func (d *Device) DisconnectAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conns {
		c.Close()
	}
	d.conns = nil
}

// SendDisconnectRequest sends a DisconnectRequest to every currently open
// connection, simulating a device that is about to close the link on its
// own terms (e.g. a deep-sleep device going to sleep) rather than one
// that has merely vanished.
func (d *Device) SendDisconnectRequest() {
	d.mu.Lock()
	conns := append([]net.Conn(nil), d.conns...)
	d.mu.Unlock()
	for _, c := range conns {
		d.send(c, api.DisconnectRequest{})
	}
}

// PingCount reports how many PingRequest frames this device has received
// from clients.
func (d *Device) PingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pingCount
}

func (d *Device) acceptLoop() {
	defer d.wg.Done()
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		d.mu.Lock()
		d.conns = append(d.conns, conn)
		d.mu.Unlock()

		d.wg.Add(1)
		go d.handleConn(conn)
	}
}

func (d *Device) handleConn(conn net.Conn) {
	defer d.wg.Done()
	defer conn.Close()

	dec := wire.NewDecoder()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		frames, err := dec.Feed(buf[:n])
		if err != nil {
			return
		}
		for _, f := range frames {
			if !d.respond(conn, f) {
				return
			}
		}
	}
}

// respond handles one inbound frame and returns false if the connection
// should be closed (orderly disconnect).
func (d *Device) respond(conn net.Conn, f wire.Frame) bool {
	msg, _ := api.Decode(f.Type, f.Payload)

	switch req := msg.(type) {
	case api.HelloRequest:
		d.send(conn, api.HelloResponse{APIVersionMajor: 1, APIVersionMinor: 10, ServerInfo: d.name})
	case api.ConnectRequest:
		d.send(conn, api.ConnectResponse{InvalidPassword: req.Password != d.password})
	case api.DeviceInfoRequest:
		d.send(conn, api.DeviceInfoResponse{
			Name:           d.name,
			ESPHomeVersion: "2025.1.0",
			HasDeepSleep:   d.deepSleep,
			UsesPassword:   d.password != "",
		})
	case api.PingRequest:
		d.mu.Lock()
		d.pingCount++
		d.mu.Unlock()
		d.send(conn, api.PingResponse{})
	case api.ListEntitiesRequest:
		for _, e := range d.entities {
			d.send(conn, e)
		}
		d.send(conn, api.ListEntitiesDoneResponse{})
	case api.SubscribeStatesRequest:
		// no-op: tests that need state pushes call PushState directly.
	case api.DisconnectRequest:
		d.send(conn, api.DisconnectResponse{})
		return false
	}
	return true
}

// PushState sends a state response (e.g. api.SwitchStateResponse) to
// every currently open connection, simulating an unsolicited state
// update after SubscribeStatesRequest.
func (d *Device) PushState(msg any) {
	d.mu.Lock()
	conns := append([]net.Conn(nil), d.conns...)
	d.mu.Unlock()
	for _, c := range conns {
		d.send(c, msg)
	}
}

func (d *Device) send(conn net.Conn, msg any) {
	msgType, payload, err := api.Encode(msg)
	if err != nil {
		return
	}
	conn.Write(wire.Encode(msgType, payload))
}
