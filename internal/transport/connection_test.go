package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/esphome-go/native-api/esphome/api"
	"github.com/esphome-go/native-api/internal/wire"
)

// echoServer accepts exactly one connection and writes one PingResponse
// frame back for every read that returns data; it does not decode what
// it reads.
func echoServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			_ = n
			msgType, payload, _ := api.Encode(api.PingResponse{})
			conn.Write(encodeFrame(msgType, payload))
		}
	}()

	return ln.Addr().String(), func() { ln.Close() }
}

func encodeFrame(msgType uint64, payload []byte) []byte {
	return append([]byte{0x00, byte(len(payload)), byte(msgType)}, payload...)
}

// singleConnServer accepts exactly one connection and hands it back to
// the caller for direct read/write, so a test can script specific
// inbound frames instead of running a canned response loop.
func singleConnServer(t *testing.T) (addr string, accept func() net.Conn, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	connCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		connCh <- c
	}()

	accept = func() net.Conn {
		select {
		case c := <-connCh:
			return c
		case <-time.After(2 * time.Second):
			t.Fatal("server never accepted a connection")
			return nil
		}
	}
	return ln.Addr().String(), accept, func() { ln.Close() }
}

func TestConnectSendDisconnectIsIdempotent(t *testing.T) {
	addr, stop := echoServer(t)
	defer stop()

	conn := New(Config{Address: addr, Reconnect: false})
	defer conn.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Connect(ctx))
	require.True(t, conn.IsConnected())

	require.NoError(t, conn.SendMessage(api.PingRequest{}))

	conn.Disconnect(nil)
	conn.Disconnect(nil) // must not panic or double-emit
	require.False(t, conn.IsConnected())
}

func TestSendBeforeConnectFails(t *testing.T) {
	conn := New(Config{Address: "127.0.0.1:1", Reconnect: false})
	defer conn.Destroy()

	err := conn.SendMessage(api.PingRequest{})
	require.Error(t, err)
}

func TestStateChangeEventsFireInOrder(t *testing.T) {
	addr, stop := echoServer(t)
	defer stop()

	conn := New(Config{Address: addr, Reconnect: false})
	defer conn.Destroy()

	var seen []State
	conn.On(EventStateChange, func(payload any) {
		sc := payload.(StateChange)
		seen = append(seen, sc.To)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Connect(ctx))
	conn.Disconnect(nil)

	require.Contains(t, seen, StateOpen)
	require.Contains(t, seen, StateIdle)
	require.Equal(t, []State{StateConnecting, StateOpen, StateIdle}, seen)
}

// TestInboundPingAnsweredAndHiddenFromEventMessage exercises spec.md
// §4.3: inbound PingRequest is answered with PingResponse immediately
// and never surfaces to the Client Facade via EventMessage.
func TestInboundPingAnsweredAndHiddenFromEventMessage(t *testing.T) {
	addr, accept, stop := singleConnServer(t)
	defer stop()

	conn := New(Config{Address: addr, Reconnect: false})
	defer conn.Destroy()

	var sawPing bool
	conn.On(EventMessage, func(payload any) {
		msg := payload.(Message)
		if _, ok := msg.Decoded.(api.PingRequest); ok {
			sawPing = true
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Connect(ctx))

	server := accept()
	defer server.Close()

	msgType, payload, err := api.Encode(api.PingRequest{})
	require.NoError(t, err)
	_, err = server.Write(encodeFrame(msgType, payload))
	require.NoError(t, err)

	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 256)
	n, err := server.Read(buf)
	require.NoError(t, err)

	dec := wire.NewDecoder()
	frames, err := dec.Feed(buf[:n])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, api.TypePingResponse, frames[0].Type)

	time.Sleep(50 * time.Millisecond)
	require.False(t, sawPing, "inbound PingRequest must not surface on EventMessage")
}

// TestInboundDisconnectRequestAnsweredAndTransitionsToIdle exercises
// spec.md §4.3/§8 scenario 6: a peer-initiated DisconnectRequest is
// answered with DisconnectResponse, never surfaces to the Client
// Facade, and drives the Connection to Idle.
func TestInboundDisconnectRequestAnsweredAndTransitionsToIdle(t *testing.T) {
	addr, accept, stop := singleConnServer(t)
	defer stop()

	conn := New(Config{Address: addr, Reconnect: false})
	defer conn.Destroy()

	var sawDisconnectRequest bool
	conn.On(EventMessage, func(payload any) {
		msg := payload.(Message)
		if _, ok := msg.Decoded.(api.DisconnectRequest); ok {
			sawDisconnectRequest = true
		}
	})

	var toIdle bool
	conn.On(EventStateChange, func(payload any) {
		if sc := payload.(StateChange); sc.To == StateIdle {
			toIdle = true
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Connect(ctx))

	server := accept()
	defer server.Close()

	msgType, payload, err := api.Encode(api.DisconnectRequest{})
	require.NoError(t, err)
	_, err = server.Write(encodeFrame(msgType, payload))
	require.NoError(t, err)

	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 256)
	n, err := server.Read(buf)
	require.NoError(t, err)

	dec := wire.NewDecoder()
	frames, err := dec.Feed(buf[:n])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, api.TypeDisconnectResponse, frames[0].Type)

	time.Sleep(50 * time.Millisecond)
	require.False(t, sawDisconnectRequest, "DisconnectRequest must not surface on EventMessage")
	require.True(t, toIdle, "connection must transition to Idle")
	require.False(t, conn.IsConnected())
}

// TestDeepSleepSuppressesPingLoop exercises spec.md §4.3/§8 "Deep-sleep
// silence": once SetDeepSleepMode(true) is observed, zero outbound
// PingRequest frames are produced, even with a very short PingInterval.
func TestDeepSleepSuppressesPingLoop(t *testing.T) {
	addr, accept, stop := singleConnServer(t)
	defer stop()

	conn := New(Config{Address: addr, Reconnect: false, PingInterval: 20 * time.Millisecond})
	defer conn.Destroy()
	conn.SetDeepSleepMode(true)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Connect(ctx))

	server := accept()
	defer server.Close()

	require.NoError(t, server.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	buf := make([]byte, 256)
	_, err := server.Read(buf)
	require.Error(t, err, "deep-sleep connection must not send any ping frames")
	netErr, ok := err.(net.Error)
	require.True(t, ok && netErr.Timeout(), "expected a read timeout (no data), got: %v", err)
}
