package transport

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/runic-labs/rune/internal/authz"
)

// hub tracks the live WS data-plane connections, keyed by the peer
// fingerprint that authenticated them, so a sync round or a broadcast can
// reach an already-connected peer without redialing. Grounded on
// services/api/internal/listenparty/listenparty.go's hub registry, pared
// down from per-session host/guest routing to a flat peer-connection set.
type hub struct {
	log zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*Conn
}

func newHub(log zerolog.Logger) *hub {
	return &hub{log: log, clients: make(map[string]*Conn)}
}

func (h *hub) add(fingerprint string, c *Conn) {
	h.mu.Lock()
	if old, ok := h.clients[fingerprint]; ok {
		old.Close()
	}
	h.clients[fingerprint] = c
	h.mu.Unlock()
}

func (h *hub) remove(fingerprint string, c *Conn) {
	h.mu.Lock()
	if cur, ok := h.clients[fingerprint]; ok && cur == c {
		delete(h.clients, fingerprint)
	}
	h.mu.Unlock()
}

// Get returns the live connection for fingerprint, if one is currently
// upgraded and registered.
func (h *hub) Get(fingerprint string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[fingerprint]
	return c, ok
}

// Peers returns the fingerprints of every currently-connected peer.
func (h *hub) Peers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.clients))
	for fp := range h.clients {
		out = append(out, fp)
	}
	return out
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The WS data plane is node-to-node on the LAN discovery surface, not
	// browser-facing, so origin checking is left to trust-store gating
	// rather than Origin headers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SetSyncHandler installs the RequestHandler that serves inbound sync
// RPCs (SyncBookmark/SyncRowsSince/SyncPush, see peer.go) over any WS
// connection this node accepts. Must be called before Router() starts
// serving traffic.
func (s *Server) SetSyncHandler(h RequestHandler) {
	s.syncHandler = h
}

// handleWS upgrades GET /ws, per spec.md §4.9: authenticates by
// resolving a fingerprint from the auth/public_key/fingerprint query
// params (in that precedence), checks it against the trust store, and
// rejects anything short of Approved. Missing param -> 400; unknown
// fingerprint -> 401; Blocked -> 403; Pending -> 401.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	fingerprint := firstNonEmpty(r.URL.Query(), "auth", "public_key", "fingerprint")
	if fingerprint == "" {
		writeErr(w, http.StatusBadRequest, "missing auth, public_key, or fingerprint query parameter")
		return
	}

	entry, ok := s.trust.Get(fingerprint)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "unknown fingerprint")
		return
	}
	switch entry.Status {
	case "Blocked":
		writeErr(w, http.StatusForbidden, "fingerprint is blocked")
		return
	case "Approved":
		// fall through to upgrade
	default:
		writeErr(w, http.StatusUnauthorized, "fingerprint is not yet approved")
		return
	}

	if s.authz != nil {
		allowed, err := s.authz.Allowed(string(entry.Status), authz.ObjectWS, authz.ActionConnect)
		if err != nil || !allowed {
			writeErr(w, http.StatusForbidden, "not authorized for the data plane")
			return
		}
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("transport: ws upgrade failed")
		return
	}

	conn := NewConn(ws, s.syncHandler, s.log)
	s.hub.add(fingerprint, conn)
	s.log.Info().Str("fingerprint", fingerprint).Msg("transport: peer connected")

	<-conn.Done()
	s.hub.remove(fingerprint, conn)
	s.log.Info().Str("fingerprint", fingerprint).Msg("transport: peer disconnected")
}

func firstNonEmpty(q map[string][]string, keys ...string) string {
	for _, k := range keys {
		if vs, ok := q[k]; ok && len(vs) > 0 && vs[0] != "" {
			return vs[0]
		}
	}
	return ""
}

// Peer returns a currently-connected hub connection for fingerprint, for
// callers (the sync scheduler) that want to reuse an inbound connection
// rather than dialing out via DialPeer.
func (s *Server) Peer(fingerprint string) (*Conn, bool) {
	return s.hub.Get(fingerprint)
}

// ConnectedPeers returns the fingerprints of every peer currently
// connected to the WS data plane.
func (s *Server) ConnectedPeers() []string {
	return s.hub.Peers()
}
