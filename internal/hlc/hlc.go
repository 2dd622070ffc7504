// Package hlc implements the hybrid logical clock service of spec.md §4.2:
// (wall_ms, counter, node_id) triples with a total lexicographic order and
// per-node monotonicity. No teacher file has an equivalent (orb carries no
// logical clock); this is modeled, per spec.md §9's design note against
// ambient globals, as an injected handle rather than a package singleton,
// in the small-struct-with-mutex style internal/listenparty/listenparty.go
// uses for its hub state.
package hlc

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stamp is a single hybrid logical clock reading: wall-clock milliseconds,
// a tie-breaking counter, and the node that produced it.
type Stamp struct {
	WallMS  int64
	Counter uint32
	NodeID  string
}

// Zero is the epoch value used when a peer has no recorded last_sync_hlc.
var Zero = Stamp{}

// Compare returns -1, 0, or 1 comparing a to b lexicographically on
// (WallMS, Counter, NodeID), per spec.md §4.2: "Ordering is lexicographic
// on (ts, ver, node_id); ties including node_id are still total."
func Compare(a, b Stamp) int {
	if a.WallMS != b.WallMS {
		if a.WallMS < b.WallMS {
			return -1
		}
		return 1
	}
	if a.Counter != b.Counter {
		if a.Counter < b.Counter {
			return -1
		}
		return 1
	}
	return strings.Compare(a.NodeID, b.NodeID)
}

// Less reports whether a sorts strictly before b.
func Less(a, b Stamp) bool { return Compare(a, b) < 0 }

// String renders a Stamp as "ts|ver|node_id" for logging; persisted
// serialization uses the three separate RFC3339/decimal/UUID columns
// (internal/catalog) per spec.md §6, not this combined form.
func (s Stamp) String() string {
	return fmt.Sprintf("%s|%d|%s", time.UnixMilli(s.WallMS).UTC().Format(time.RFC3339Nano), s.Counter, s.NodeID)
}

// Clock is the per-node hybrid logical clock generator. It must be
// constructed once per process and shared by every writer, per spec.md §9.
type Clock struct {
	mu        sync.Mutex
	nodeID    string
	lastTS    int64
	lastCount uint32
	wallClock func() int64
}

// New constructs a Clock for nodeID. nodeID is normally the node's own
// fingerprint-derived identity (internal/certs) rendered as a UUID string.
func New(nodeID string) *Clock {
	return &Clock{nodeID: nodeID, wallClock: nowMillis}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// NodeID returns the clock's owning node identifier.
func (c *Clock) NodeID() string { return c.nodeID }

// Now produces the next Stamp for a local write, per spec.md §4.2:
// ts' = max(wall_ms, last_ts); ver' = last_counter+1 if ts'==last_ts else 0.
func (c *Clock) Now() Stamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.wallClock()
	ts := wall
	if c.lastTS > ts {
		ts = c.lastTS
	}
	var ver uint32
	if ts == c.lastTS {
		ver = c.lastCount + 1
	} else {
		ver = 0
	}
	c.lastTS = ts
	c.lastCount = ver
	return Stamp{WallMS: ts, Counter: ver, NodeID: c.nodeID}
}

// Merge folds a remote observation into the local clock state, per
// spec.md §4.2: "merge(remote) sets last_ts = max(last_ts, wall_ms,
// remote.ts) and advances the counter according to which value won."
// It returns the Stamp representing this node's observation of the merge.
func (c *Clock) Merge(remote Stamp) Stamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.wallClock()
	ts := c.lastTS
	if wall > ts {
		ts = wall
	}
	if remote.WallMS > ts {
		ts = remote.WallMS
	}

	var ver uint32
	switch {
	case ts == c.lastTS && ts == remote.WallMS:
		if c.lastCount > remote.Counter {
			ver = c.lastCount + 1
		} else {
			ver = remote.Counter + 1
		}
	case ts == c.lastTS:
		ver = c.lastCount + 1
	case ts == remote.WallMS:
		ver = remote.Counter + 1
	default:
		ver = 0
	}

	c.lastTS = ts
	c.lastCount = ver
	return Stamp{WallMS: ts, Counter: ver, NodeID: c.nodeID}
}

// NewNodeID derives a fresh random node identifier, used only where no
// certificate-derived fingerprint identity (internal/certs) is available
// yet, e.g. in tests.
func NewNodeID() string { return uuid.NewString() }

// EncodeForWire packs a Stamp into the fixed 28-byte representation used
// internally by internal/syncengine when computing chunk_hash contents:
// 8 bytes wall_ms big-endian, 4 bytes counter big-endian, and 16 bytes of
// node_id: the UUID's raw bytes, or, if the node_id is not a valid UUID,
// its first 16 string bytes, zero-padded.
func EncodeForWire(s Stamp) []byte {
	buf := make([]byte, 28)
	binary.BigEndian.PutUint64(buf[0:8], uint64(s.WallMS))
	binary.BigEndian.PutUint32(buf[8:12], s.Counter)
	if id, err := uuid.Parse(s.NodeID); err == nil {
		copy(buf[12:28], id[:])
	} else {
		copy(buf[12:28], []byte(s.NodeID))
	}
	return buf
}

// ParseCounter parses a decimal counter string, the persisted form of the
// *_hlc_ver columns in internal/catalog.
func ParseCounter(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
