package esphome

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/esphome-go/native-api/esphome/api"
	"github.com/esphome-go/native-api/esphome/entity"
	"github.com/esphome-go/native-api/esphome/esherr"
	"github.com/esphome-go/native-api/esphome/esptest"
)

// TestE2E_HandshakeWithPassword exercises spec.md §8 scenario 4: Hello,
// then a correct password over Connect, then DeviceInfo, ending in an
// authenticated connection.
func TestE2E_HandshakeWithPassword(t *testing.T) {
	device := esptest.NewDevice(esptest.WithPassword("hunter2"), esptest.WithName("kitchen-light"))
	require.NoError(t, device.Start())
	defer device.Close()

	client := NewClient(device.Addr(), WithPassword("hunter2"), WithReconnect(false))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	require.True(t, client.IsConnected())
	require.True(t, client.IsAuthenticated())
}

// TestE2E_WrongPasswordRejected exercises spec.md §8 scenario 5: an
// incorrect password must surface as esherr.KindInvalidPassword and
// leave the connection unauthenticated.
func TestE2E_WrongPasswordRejected(t *testing.T) {
	device := esptest.NewDevice(esptest.WithPassword("hunter2"))
	require.NoError(t, device.Start())
	defer device.Close()

	client := NewClient(device.Addr(), WithPassword("wrong"), WithReconnect(false))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := client.Connect(ctx)
	require.Error(t, err)
	require.Equal(t, esherr.KindInvalidPassword, esherr.KindOf(err))
	require.False(t, client.IsAuthenticated())
}

// TestE2E_DeepSleepSuppressesReconnect exercises spec.md §8 scenario 6:
// once DeviceInfoResponse reports deep sleep, the device's own
// DisconnectRequest must be answered with DisconnectResponse and must
// not trigger a reconnect attempt.
func TestE2E_DeepSleepSuppressesReconnect(t *testing.T) {
	device := esptest.NewDevice(esptest.WithDeepSleep(true))
	require.NoError(t, device.Start())
	defer device.Close()

	client := NewClient(device.Addr(),
		WithReconnect(true),
		WithReconnectBackoff(50*time.Millisecond, 200*time.Millisecond),
		WithPingInterval(50*time.Millisecond),
	)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	// A deep-sleep device's ping loop must be suppressed entirely (spec.md
	// §4.3, §8 "Deep-sleep silence"): no outbound PingRequest should reach
	// the device even though PingInterval is very short.
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 0, device.PingCount(), "deep-sleep device must never be pinged")

	disconnected := make(chan struct{})
	client.On(EventDisconnected, func(any) { close(disconnected) })

	device.SendDisconnectRequest()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("expected disconnect event")
	}

	// Give the reconnect loop, if wrongly armed, time to fire.
	time.Sleep(300 * time.Millisecond)
	require.False(t, client.IsConnected(), "deep-sleep device must not be reconnected to")
}

// TestE2E_PingLoopSendsPeriodicPings exercises spec.md §4.3 liveness for
// a non-deep-sleep device: PingRequest is sent every PingInterval.
func TestE2E_PingLoopSendsPeriodicPings(t *testing.T) {
	device := esptest.NewDevice()
	require.NoError(t, device.Start())
	defer device.Close()

	client := NewClient(device.Addr(), WithReconnect(false), WithPingInterval(50*time.Millisecond))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	time.Sleep(200 * time.Millisecond)
	require.Greater(t, device.PingCount(), 0, "client must periodically ping a non-deep-sleep device")
}

// TestE2E_ListEntities exercises the enumeration round trip against a
// device advertising a fixed entity set.
func TestE2E_ListEntities(t *testing.T) {
	device := esptest.NewDevice(esptest.WithEntities(
		api.ListEntitiesSwitchResponse{EntityBase: api.EntityBase{Key: 1, ObjectID: "relay", Name: "Relay"}},
		api.ListEntitiesSensorResponse{EntityBase: api.EntityBase{Key: 2, ObjectID: "temp", Name: "Temperature"}},
	))
	require.NoError(t, device.Start())
	defer device.Close()

	client := NewClient(device.Addr(), WithReconnect(false))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	entities, err := client.ListEntities(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	require.Equal(t, "relay", entities[0].ObjectID())
	require.Equal(t, "temp", entities[1].ObjectID())
}

// TestE2E_SwitchCommandAndState drives a command then an unsolicited
// state push, verifying SubscribeStates delivers it to the handler.
func TestE2E_SwitchCommandAndState(t *testing.T) {
	device := esptest.NewDevice()
	require.NoError(t, device.Start())
	defer device.Close()

	client := NewClient(device.Addr(), WithReconnect(false))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	states := make(chan api.SwitchStateResponse, 1)
	require.NoError(t, client.SubscribeStates(func(kind entity.Kind, state any) {
		if kind != entity.KindSwitch {
			return
		}
		if s, ok := state.(api.SwitchStateResponse); ok {
			states <- s
		}
	}))

	require.NoError(t, client.SwitchCommand(1, true))

	device.PushState(api.SwitchStateResponse{Key: 1, State: true})

	select {
	case s := <-states:
		require.Equal(t, uint32(1), s.Key)
		require.True(t, s.State)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a pushed switch state")
	}
}
