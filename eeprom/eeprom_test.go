package eeprom

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileDefaultsToDhcpEnabled(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing.gob"))
	rec, err := s.Load()
	require.NoError(t, err)
	assert.True(t, rec.DHCPEnabled)
	assert.Nil(t, rec.IP)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "netcfg.gob"))
	want := Record{
		DHCPEnabled: false,
		IP:          net.IPv4(192, 168, 1, 50).To4(),
		Subnet:      net.IPv4(255, 255, 255, 0).To4(),
		Gateway:     net.IPv4(192, 168, 1, 1).To4(),
		DNS:         net.IPv4(8, 8, 8, 8).To4(),
		TimeServer:  net.IPv4(129, 6, 15, 28).To4(),
	}
	require.NoError(t, s.Save(want))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, want.DHCPEnabled, got.DHCPEnabled)
	assert.True(t, want.IP.Equal(got.IP))
	assert.True(t, want.Gateway.Equal(got.Gateway))
}
