// Package trust manages the local fingerprint trust store, per spec.md
// §4.7: a TOML file watched for external edits, with a per-IP FIFO cap on
// pending entries and an in-process change broadcast. Grounded on
// _examples/original_source/discovery/src/persistent.rs's
// PersistentDataManager<T> pattern (load-or-init, fsnotify watch with
// debounce, broadcast-on-change), ported from tokio::broadcast to this
// repo's internal/bus.
package trust

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/runic-labs/rune/internal/bus"
	"github.com/runic-labs/rune/pkg/ids"
)

// Status is a trust entry's lifecycle state, per spec.md §4.7:
// "Pending -> Approved | Blocked".
type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusBlocked  Status = "Blocked"
)

// Entry is one fingerprint's trust record, per spec.md §4.7's TOML map
// value shape.
type Entry struct {
	PublicKey    string `toml:"public_key"`
	Alias        string `toml:"alias"`
	DeviceModel  string `toml:"device_model"`
	DeviceType   string `toml:"device_type"`
	Status       Status `toml:"status"`
	RemoteIP     string `toml:"remote_ip"`
	RegisteredAt string `toml:"registered_at"`
}

// fileFormat is the TOML document shape persisted to .known-clients:
// fingerprint -> Entry.
type fileFormat struct {
	Clients map[string]Entry `toml:"clients"`
}

// ChangeEvent is published on the bus topic Topic whenever the trust
// store's contents change, whether from a local mutation or an external
// file edit.
type ChangeEvent struct {
	Fingerprint string `json:"fingerprint"`
}

// Topic is the bus topic trust change events publish to.
const Topic = "trust.changed"

// maxPendingPerIP is spec.md §4.7's "per-IP FIFO of at most 5 pending
// entries; older pending entries are evicted."
const maxPendingPerIP = 5

// debounce matches persistent.rs's 100ms settle delay before re-reading a
// file-watcher-triggered change.
const debounce = 100 * time.Millisecond

// Store is a thread-safe, file-backed trust store.
type Store struct {
	path string
	bus  *bus.Bus
	log  zerolog.Logger

	mu      sync.RWMutex
	entries map[string]Entry

	watcher *fsnotify.Watcher
	closeCh chan struct{}
}

// Open loads (or initializes) the trust store at path and starts
// watching it for external changes.
func Open(path string, b *bus.Bus, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ids.Wrap(ids.KindIO, "trust: create parent directory", err)
	}

	s := &Store{path: path, bus: b, log: log, entries: map[string]Entry{}, closeCh: make(chan struct{})}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := s.persist(); err != nil {
			return nil, err
		}
	} else {
		return nil, ids.Wrap(ids.KindIO, "trust: stat store file", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ids.Wrap(ids.KindIO, "trust: create file watcher", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, ids.Wrap(ids.KindIO, "trust: watch store file", err)
	}
	s.watcher = watcher

	go s.watchLoop()
	return s, nil
}

func (s *Store) Close() error {
	close(s.closeCh)
	return s.watcher.Close()
}

func (s *Store) watchLoop() {
	var timer *time.Timer
	for {
		select {
		case <-s.closeCh:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				if err := s.load(); err != nil {
					s.log.Warn().Err(err).Msg("trust: reload after external edit failed")
					return
				}
				if s.bus != nil {
					_ = s.bus.Publish(Topic, ChangeEvent{})
				}
			})
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("trust: file watcher error")
		}
	}
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return ids.Wrap(ids.KindIO, "trust: read store file", err)
	}
	var doc fileFormat
	if err := toml.Unmarshal(data, &doc); err != nil {
		return ids.Wrap(ids.KindDecode, "trust: parse store file", err)
	}
	s.mu.Lock()
	if doc.Clients == nil {
		doc.Clients = map[string]Entry{}
	}
	s.entries = doc.Clients
	s.mu.Unlock()
	return nil
}

// persist writes the current in-memory state to disk. The fsnotify watch
// stays active across this write; load() is idempotent against a write
// this same process just performed, so no pause/resume dance around the
// watcher (unlike persistent.rs's unwatch/rewatch) is necessary.
func (s *Store) persist() error {
	s.mu.RLock()
	doc := fileFormat{Clients: s.entries}
	s.mu.RUnlock()

	data, err := toml.Marshal(doc)
	if err != nil {
		return ids.Wrap(ids.KindInternal, "trust: marshal store", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return ids.Wrap(ids.KindIO, "trust: write store file", err)
	}
	return nil
}

// Get returns the entry for fingerprint, if any.
func (s *Store) Get(fingerprint string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[fingerprint]
	return e, ok
}

// Register creates a Pending entry for fingerprint, per spec.md §4.7 /
// §4.8's `POST /register` contract. If fingerprint is already Blocked,
// Register refuses (callers surface this as 403). The per-IP pending
// FIFO is enforced before insertion: once remoteIP already has
// maxPendingPerIP pending entries, the oldest (by RegisteredAt) is
// evicted.
func (s *Store) Register(fingerprint string, e Entry, remoteIP string) error {
	s.mu.Lock()
	if existing, ok := s.entries[fingerprint]; ok && existing.Status == StatusBlocked {
		s.mu.Unlock()
		return ids.New(ids.KindForbidden, "trust: fingerprint is blocked")
	}

	e.Status = StatusPending
	e.RemoteIP = remoteIP
	e.RegisteredAt = nowRFC3339()

	var pendingForIP []string
	for fp, entry := range s.entries {
		if entry.Status == StatusPending && entry.RemoteIP == remoteIP {
			pendingForIP = append(pendingForIP, fp)
		}
	}
	if len(pendingForIP) >= maxPendingPerIP {
		oldest := oldestByRegisteredAt(s.entries, pendingForIP)
		delete(s.entries, oldest)
	}

	s.entries[fingerprint] = e
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return err
	}
	if s.bus != nil {
		_ = s.bus.Publish(Topic, ChangeEvent{Fingerprint: fingerprint})
	}
	return nil
}

// SetStatus transitions fingerprint's entry to status (Approved or
// Blocked), per spec.md §4.7's lifecycle.
func (s *Store) SetStatus(fingerprint string, status Status) error {
	s.mu.Lock()
	e, ok := s.entries[fingerprint]
	if !ok {
		s.mu.Unlock()
		return ids.New(ids.KindNotFound, "trust: unknown fingerprint")
	}
	e.Status = status
	s.entries[fingerprint] = e
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return err
	}
	if s.bus != nil {
		_ = s.bus.Publish(Topic, ChangeEvent{Fingerprint: fingerprint})
	}
	return nil
}

// CheckStatus returns the trust status for fingerprint, or
// "UNKNOWN" (as a bare string, matching the GET /check-fingerprint
// response vocabulary in spec.md §4.8) if no entry exists. A Blocked
// status always overrides any cached Approved state because this reads
// straight from the guarded in-memory map, never a stale copy.
func (s *Store) CheckStatus(fingerprint string) string {
	e, ok := s.Get(fingerprint)
	if !ok {
		return "UNKNOWN"
	}
	switch e.Status {
	case StatusApproved:
		return "APPROVED"
	case StatusBlocked:
		return "BLOCKED"
	default:
		return "PENDING"
	}
}

func oldestByRegisteredAt(entries map[string]Entry, candidates []string) string {
	oldest := candidates[0]
	for _, fp := range candidates[1:] {
		if entries[fp].RegisteredAt < entries[oldest].RegisteredAt {
			oldest = fp
		}
	}
	return oldest
}

// nowRFC3339 formats with a fixed nine-digit fraction so RegisteredAt
// values compare chronologically as strings in oldestByRegisteredAt.
func nowRFC3339() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
