package handshake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/esphome-go/native-api/esphome/esherr"
	"github.com/esphome-go/native-api/esphome/esptest"
	"github.com/esphome-go/native-api/internal/transport"
)

func TestRunSucceedsWithoutPassword(t *testing.T) {
	device := esptest.NewDevice(esptest.WithName("no-auth-device"))
	require.NoError(t, device.Start())
	defer device.Close()

	conn := transport.New(transport.Config{Address: device.Addr(), Reconnect: false})
	defer conn.Destroy()
	require.NoError(t, conn.Connect(context.Background()))

	result, err := New(conn, "test-client", "").Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "no-auth-device", result.DeviceInfo.Name)
	require.True(t, conn.IsAuthenticated())
}

func TestRunRejectsWrongPassword(t *testing.T) {
	device := esptest.NewDevice(esptest.WithPassword("correct-horse"))
	require.NoError(t, device.Start())
	defer device.Close()

	conn := transport.New(transport.Config{Address: device.Addr(), Reconnect: false})
	defer conn.Destroy()
	require.NoError(t, conn.Connect(context.Background()))

	_, err := New(conn, "test-client", "wrong").Run(context.Background())
	require.Error(t, err)
	require.Equal(t, esherr.KindInvalidPassword, esherr.KindOf(err))
	require.False(t, conn.IsAuthenticated())
}

func TestRunRejectsConcurrentCalls(t *testing.T) {
	device := esptest.NewDevice()
	require.NoError(t, device.Start())
	defer device.Close()

	conn := transport.New(transport.Config{Address: device.Addr(), Reconnect: false})
	defer conn.Destroy()
	require.NoError(t, conn.Connect(context.Background()))

	driver := New(conn, "test-client", "")
	driver.mu.Lock()
	driver.inProgress = true
	driver.mu.Unlock()

	_, err := driver.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, esherr.KindAuthenticationInProgress, esherr.KindOf(err))
}
