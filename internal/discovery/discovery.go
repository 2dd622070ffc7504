// Package discovery implements spec.md §4.7's UDP multicast peer
// announcement and listener. Grounded on
// _examples/original_source/discovery/src/udp_multicast.rs for exact
// wire semantics (constants, per-interface socket setup, JSON frame
// fields, self-announcement filtering, HTTP-POST-with-UDP-fallback
// reply); services/api/internal/discovery/discovery.go for the
// Start/Shutdown wrapper shape and structured-logging style.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"

	"github.com/runic-labs/rune/pkg/ids"
)

// MulticastGroup and MulticastPort are udp_multicast.rs's fixed
// discovery constants.
const (
	MulticastGroup = "224.0.0.167"
	MulticastPort  = 57863
)

// staleAfter matches spec.md §4.7: "devices unseen for >10s are purged."
const staleAfter = 10 * time.Second

// DeviceType enumerates spec.md §4.7's announce frame deviceType values.
type DeviceType string

const (
	DeviceMobile   DeviceType = "Mobile"
	DeviceDesktop  DeviceType = "Desktop"
	DeviceWeb      DeviceType = "Web"
	DeviceHeadless DeviceType = "Headless"
	DeviceServer   DeviceType = "Server"
	DeviceUnknown  DeviceType = "Unknown"
)

// Announcement is the JSON frame broadcast and received over multicast,
// per spec.md §4.7's field list.
type Announcement struct {
	Alias       string     `json:"alias"`
	Version     string     `json:"version"`
	DeviceModel string     `json:"deviceModel"`
	DeviceType  DeviceType `json:"deviceType"`
	Fingerprint string     `json:"fingerprint"`
	APIPort     int        `json:"api_port"`
	Protocol    string     `json:"protocol"`
	Download    bool       `json:"download"`
	Announce    bool       `json:"announce"`
}

// DiscoveredDevice is one peer learned from the multicast listener.
type DiscoveredDevice struct {
	Alias       string
	DeviceModel string
	DeviceType  DeviceType
	Fingerprint string
	RemoteAddr  net.Addr
	LastSeen    time.Time
}

// Identity is this node's own announce payload and self-filtering key.
type Identity struct {
	Alias       string
	Version     string
	DeviceModel string
	DeviceType  DeviceType
	Fingerprint string
	APIPort     int
	Protocol    string
	Download    bool
}

func (id Identity) toAnnouncement(announce bool) Announcement {
	return Announcement{
		Alias: id.Alias, Version: id.Version, DeviceModel: id.DeviceModel,
		DeviceType: id.DeviceType, Fingerprint: id.Fingerprint, APIPort: id.APIPort,
		Protocol: id.Protocol, Download: id.Download, Announce: announce,
	}
}

// Service owns one UDP socket per multicast-capable interface and the
// in-memory table of recently-seen peers.
type Service struct {
	identity Identity
	log      zerolog.Logger
	http     *resty.Client

	conns []*net.UDPConn
	pcs   []*ipv4.PacketConn

	mu      sync.RWMutex
	devices map[string]DiscoveredDevice

	onDiscover func(DiscoveredDevice)
}

// New binds one socket per multicast-capable IPv4 interface, per
// udp_multicast.rs's socket setup: SO_REUSEADDR, TTL=255, loopback
// enabled, joined to MulticastGroup.
func New(identity Identity, log zerolog.Logger, onDiscover func(DiscoveredDevice)) (*Service, error) {
	s := &Service{
		identity:   identity,
		log:        log,
		http:       resty.New().SetTimeout(3 * time.Second),
		devices:    map[string]DiscoveredDevice{},
		onDiscover: onDiscover,
	}

	ifaces, err := multicastInterfaces()
	if err != nil {
		return nil, err
	}
	if len(ifaces) == 0 {
		return nil, ids.New(ids.KindInternal, "discovery: no multicast-capable interfaces found")
	}

	groupAddr := &net.UDPAddr{IP: net.ParseIP(MulticastGroup), Port: MulticastPort}
	for _, iface := range ifaces {
		conn, err := net.ListenMulticastUDP("udp4", iface, groupAddr)
		if err != nil {
			log.Warn().Err(err).Str("interface", iface.Name).Msg("discovery: bind interface failed")
			continue
		}
		pc := ipv4.NewPacketConn(conn)
		if err := pc.SetMulticastTTL(255); err != nil {
			log.Warn().Err(err).Msg("discovery: set multicast ttl failed")
		}
		if err := pc.SetMulticastLoopback(true); err != nil {
			log.Warn().Err(err).Msg("discovery: enable multicast loopback failed")
		}
		if err := pc.JoinGroup(iface, groupAddr); err != nil {
			log.Warn().Err(err).Str("interface", iface.Name).Msg("discovery: join group failed")
		}
		s.conns = append(s.conns, conn)
		s.pcs = append(s.pcs, pc)
	}
	if len(s.conns) == 0 {
		return nil, ids.New(ids.KindInternal, "discovery: failed to bind any multicast socket")
	}
	return s, nil
}

func multicastInterfaces() ([]*net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, ids.Wrap(ids.KindInternal, "discovery: list interfaces", err)
	}
	var out []*net.Interface
	for i := range all {
		iface := all[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		out = append(out, &iface)
	}
	return out, nil
}

// Run starts the listener goroutines and a periodic announce/purge loop.
// It blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context, announceEvery time.Duration) error {
	var wg sync.WaitGroup
	for _, conn := range s.conns {
		wg.Add(1)
		go func(conn *net.UDPConn) {
			defer wg.Done()
			s.listenOn(ctx, conn)
		}(conn)
	}

	if announceEvery <= 0 {
		announceEvery = 5 * time.Second
	}
	ticker := time.NewTicker(announceEvery)
	defer ticker.Stop()
	purgeTicker := time.NewTicker(staleAfter)
	defer purgeTicker.Stop()

	s.Announce()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-ticker.C:
			s.Announce()
		case <-purgeTicker.C:
			s.purgeStale()
		}
	}
}

// Close releases every bound socket.
func (s *Service) Close() error {
	var firstErr error
	for _, conn := range s.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Announce sends this node's frame to the multicast group on every bound
// socket, per udp_multicast.rs's announce().
func (s *Service) Announce() {
	body, err := json.Marshal(s.identity.toAnnouncement(true))
	if err != nil {
		s.log.Error().Err(err).Msg("discovery: marshal announcement failed")
		return
	}
	dst := &net.UDPAddr{IP: net.ParseIP(MulticastGroup), Port: MulticastPort}
	for _, conn := range s.conns {
		if _, err := conn.WriteToUDP(body, dst); err != nil {
			s.log.Warn().Err(err).Str("local", conn.LocalAddr().String()).Msg("discovery: send announce failed")
		}
	}
}

func (s *Service) listenOn(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, 65535)
	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.log.Warn().Err(err).Msg("discovery: recv error")
			continue
		}

		var a Announcement
		if err := json.Unmarshal(buf[:n], &a); err != nil {
			s.log.Warn().Err(err).Msg("discovery: parse announcement failed")
			continue
		}
		s.handleAnnouncement(conn, a, addr)
	}
}

func (s *Service) handleAnnouncement(conn *net.UDPConn, a Announcement, addr *net.UDPAddr) {
	if a.Fingerprint == "" {
		return
	}
	if a.Fingerprint == s.identity.Fingerprint {
		return
	}

	device := DiscoveredDevice{
		Alias: orDefault(a.Alias, "Unknown"), DeviceModel: orDefault(a.DeviceModel, "Unknown"),
		DeviceType: a.DeviceType, Fingerprint: a.Fingerprint, RemoteAddr: addr, LastSeen: time.Now(),
	}
	s.mu.Lock()
	s.devices[a.Fingerprint] = device
	s.mu.Unlock()
	if s.onDiscover != nil {
		s.onDiscover(device)
	}

	if !a.Announce {
		return
	}

	port := a.APIPort
	if port == 0 {
		port = 53317
	}
	protocol := a.Protocol
	if protocol == "" {
		protocol = "http"
	}

	response := s.identity.toAnnouncement(false)
	url := fmt.Sprintf("%s://%s:%d/api/rune/v2/register", protocol, addr.IP.String(), port)
	_, err := s.http.R().SetBody(response).Post(url)
	if err == nil {
		return
	}
	s.log.Warn().Err(err).Str("url", url).Msg("discovery: http register reply failed, falling back to UDP")

	body, marshalErr := json.Marshal(response)
	if marshalErr != nil {
		s.log.Error().Err(marshalErr).Msg("discovery: marshal fallback reply failed")
		return
	}
	if _, err := conn.WriteToUDP(body, addr); err != nil {
		s.log.Warn().Err(err).Msg("discovery: udp fallback reply failed")
	}
}

// purgeStale drops any device not seen within staleAfter, per spec.md
// §4.7: "devices unseen for >10s are purged."
func (s *Service) purgeStale() {
	cutoff := time.Now().Add(-staleAfter)
	s.mu.Lock()
	for fp, d := range s.devices {
		if d.LastSeen.Before(cutoff) {
			delete(s.devices, fp)
		}
	}
	s.mu.Unlock()
}

// Devices returns a snapshot of every currently-known peer.
func (s *Service) Devices() []DiscoveredDevice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DiscoveredDevice, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
