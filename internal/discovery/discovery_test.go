package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runic-labs/rune/internal/logging"
)

func newTestService(t *testing.T, onDiscover func(DiscoveredDevice)) *Service {
	t.Helper()
	return &Service{
		identity: Identity{Fingerprint: "self-fp", Alias: "self"},
		log:      logging.New(logging.Options{}),
		devices:  map[string]DiscoveredDevice{},
		onDiscover: func(d DiscoveredDevice) {
			if onDiscover != nil {
				onDiscover(d)
			}
		},
	}
}

func loopbackConn(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandleAnnouncementIgnoresSelf(t *testing.T) {
	var discovered []DiscoveredDevice
	s := newTestService(t, func(d DiscoveredDevice) { discovered = append(discovered, d) })
	conn := loopbackConn(t)
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9999}

	s.handleAnnouncement(conn, Announcement{Fingerprint: "self-fp"}, addr)
	require.Empty(t, discovered)
	require.Empty(t, s.Devices())
}

func TestHandleAnnouncementIgnoresMissingFingerprint(t *testing.T) {
	s := newTestService(t, nil)
	conn := loopbackConn(t)
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9999}

	s.handleAnnouncement(conn, Announcement{}, addr)
	require.Empty(t, s.Devices())
}

func TestHandleAnnouncementRegistersPeer(t *testing.T) {
	var discovered []DiscoveredDevice
	s := newTestService(t, func(d DiscoveredDevice) { discovered = append(discovered, d) })
	conn := loopbackConn(t)
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9999}

	s.handleAnnouncement(conn, Announcement{Fingerprint: "peer-fp", Alias: "Peer"}, addr)
	require.Len(t, discovered, 1)
	require.Equal(t, "peer-fp", discovered[0].Fingerprint)

	devices := s.Devices()
	require.Len(t, devices, 1)
	require.Equal(t, "Peer", devices[0].Alias)
}

func TestPurgeStaleRemovesOldEntries(t *testing.T) {
	s := newTestService(t, nil)
	s.devices["old"] = DiscoveredDevice{Fingerprint: "old", LastSeen: time.Now().Add(-1 * time.Hour)}
	s.devices["fresh"] = DiscoveredDevice{Fingerprint: "fresh", LastSeen: time.Now()}

	s.purgeStale()

	devices := s.Devices()
	require.Len(t, devices, 1)
	require.Equal(t, "fresh", devices[0].Fingerprint)
}

func TestOrDefault(t *testing.T) {
	require.Equal(t, "fallback", orDefault("", "fallback"))
	require.Equal(t, "value", orDefault("value", "fallback"))
}
