package entity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCatalogAddPreservesOrderAndUpdatesInPlace(t *testing.T) {
	c := NewCatalog()
	c.Add(New(1, "relay", "Relay", KindSwitch, nil))
	c.Add(New(2, "uptime", "Uptime", KindSensor, nil))
	c.Add(New(1, "relay", "Relay (renamed)", KindSwitch, nil))

	all := c.All()
	require.Len(t, all, 2)
	require.Equal(t, uint32(1), all[0].Key())
	require.Equal(t, "Relay (renamed)", all[0].Name())
	require.Equal(t, uint32(2), all[1].Key())
}

func TestCatalogGetMissing(t *testing.T) {
	c := NewCatalog()
	_, ok := c.Get(99)
	require.False(t, ok)
}

func TestCatalogClearResetsState(t *testing.T) {
	c := NewCatalog()
	c.Add(New(1, "relay", "Relay", KindSwitch, nil))
	require.Equal(t, 1, c.Len())

	c.Clear()
	require.Equal(t, 0, c.Len())
	require.Empty(t, c.All())
	_, ok := c.Get(1)
	require.False(t, ok)
}

func TestKindStringUnknown(t *testing.T) {
	require.Equal(t, "unknown", Kind(999).String())
	require.Equal(t, "switch", KindSwitch.String())
}
