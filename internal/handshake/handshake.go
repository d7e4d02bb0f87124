// Package handshake drives the Hello/Connect/DeviceInfo sequence that
// turns a freshly opened Connection into an authenticated session
// (spec.md §4.4). It talks to a Connection only through SendMessage,
// the EventMessage bus, and the Set* methods that record the
// handshake's outcome.
package handshake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/esphome-go/native-api/esphome/api"
	"github.com/esphome-go/native-api/esphome/esherr"
	"github.com/esphome-go/native-api/internal/transport"
)

const (
	stepDeadline    = 5 * time.Second
	overallDeadline = 10 * time.Second

	clientAPIVersionMajor = 1
	clientAPIVersionMinor = 9
)

// Result summarizes a completed handshake.
type Result struct {
	APIVersionMajor uint32
	APIVersionMinor uint32
	ServerInfo      string
	DeviceInfo      api.DeviceInfoResponse
	DeepSleep       bool
}

// Driver runs the handshake over a single Connection. Create one per
// Connection; Run is not reentrant across concurrent calls.
type Driver struct {
	conn       *transport.Connection
	password   string
	clientInfo string

	mu         sync.Mutex
	inProgress bool
}

// New returns a Driver bound to conn.
func New(conn *transport.Connection, clientInfo, password string) *Driver {
	return &Driver{conn: conn, clientInfo: clientInfo, password: password}
}

// Run executes Hello, optional Connect (if a password was configured),
// and DeviceInfo in sequence, each under its own step deadline and the
// whole exchange under an overall deadline. On success the Connection is
// marked authenticated and its negotiated version/server-info/deep-sleep
// flag are recorded.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	d.mu.Lock()
	if d.inProgress {
		d.mu.Unlock()
		return Result{}, esherr.New(esherr.KindAuthenticationInProgress, "handshake.Run", nil).
			WithSuggestion("Already authenticating")
	}
	d.inProgress = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.inProgress = false
		d.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, overallDeadline)
	defer cancel()

	hello, err := d.hello(ctx)
	if err != nil {
		return Result{}, err
	}

	if d.password != "" {
		if err := d.authenticate(ctx); err != nil {
			return Result{}, err
		}
	}

	info, err := d.deviceInfo(ctx)
	if err != nil {
		return Result{}, err
	}

	d.conn.SetAPIVersion(hello.APIVersionMajor, hello.APIVersionMinor)
	d.conn.SetServerInfo(hello.ServerInfo)
	d.conn.SetDeepSleepMode(info.HasDeepSleep)
	d.conn.SetAuthenticated(true)

	return Result{
		APIVersionMajor: hello.APIVersionMajor,
		APIVersionMinor: hello.APIVersionMinor,
		ServerInfo:      hello.ServerInfo,
		DeviceInfo:      info,
		DeepSleep:       info.HasDeepSleep,
	}, nil
}

func (d *Driver) hello(ctx context.Context) (api.HelloResponse, error) {
	var resp api.HelloResponse
	err := d.roundTrip(ctx, api.HelloRequest{
		ClientInfo:      d.clientInfo,
		APIVersionMajor: clientAPIVersionMajor,
		APIVersionMinor: clientAPIVersionMinor,
	}, api.TypeHelloResponse, &resp)
	return resp, err
}

func (d *Driver) authenticate(ctx context.Context) error {
	var resp api.ConnectResponse
	if err := d.roundTrip(ctx, api.ConnectRequest{Password: d.password}, api.TypeConnectResponse, &resp); err != nil {
		return err
	}
	if resp.InvalidPassword {
		return esherr.New(esherr.KindInvalidPassword, "handshake.authenticate", nil)
	}
	return nil
}

func (d *Driver) deviceInfo(ctx context.Context) (api.DeviceInfoResponse, error) {
	var resp api.DeviceInfoResponse
	err := d.roundTrip(ctx, api.DeviceInfoRequest{}, api.TypeDeviceInfoResponse, &resp)
	return resp, err
}

// roundTrip sends req and waits up to stepDeadline (bounded further by
// ctx) for the first message of wantType, decoding it into out.
func (d *Driver) roundTrip(ctx context.Context, req any, wantType uint64, out any) error {
	stepCtx, cancel := context.WithTimeout(ctx, stepDeadline)
	defer cancel()

	waitCh := make(chan transport.Message, 1)
	id := d.conn.On(transport.EventMessage, func(payload any) {
		msg, ok := payload.(transport.Message)
		if !ok || msg.Type != wantType {
			return
		}
		select {
		case waitCh <- msg:
		default:
		}
	})
	defer d.conn.Off(transport.EventMessage, id)

	if err := d.conn.SendMessage(req); err != nil {
		return err
	}

	select {
	case msg := <-waitCh:
		return assign(out, msg.Decoded)
	case <-stepCtx.Done():
		return esherr.New(esherr.KindTimeout, "handshake.roundTrip", stepCtx.Err()).
			WithContext(map[string]any{"want_type": wantType})
	}
}

// assign copies decoded (a concrete api.* value returned by api.Decode)
// into *out, which callers declare as the exact matching type.
func assign(out any, decoded any) error {
	switch o := out.(type) {
	case *api.HelloResponse:
		v, ok := decoded.(api.HelloResponse)
		if !ok {
			return esherr.New(esherr.KindInvalidMessage, "handshake.assign", nil)
		}
		*o = v
	case *api.ConnectResponse:
		v, ok := decoded.(api.ConnectResponse)
		if !ok {
			return esherr.New(esherr.KindInvalidMessage, "handshake.assign", nil)
		}
		*o = v
	case *api.DeviceInfoResponse:
		v, ok := decoded.(api.DeviceInfoResponse)
		if !ok {
			return esherr.New(esherr.KindInvalidMessage, "handshake.assign", nil)
		}
		*o = v
	default:
		return fmt.Errorf("handshake: unsupported target type %T", out)
	}
	return nil
}
