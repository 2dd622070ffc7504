package ids

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// DeterministicID hashes the given parts into a stable positive int64,
// the same role cmd/ingest's deterministicID helper served in the teacher:
// a locally-unique, content-derived identifier usable before a row exists.
func DeterministicID(parts ...string) int64 {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	v := int64(binary.BigEndian.Uint64(sum[:8]))
	if v < 0 {
		v = -v
	}
	return v
}

// DeterministicUUID derives a stable UUID v5 from the given parts, used
// for sync_id assignment where the identity must be reproducible from
// content alone (e.g. content-addressed cover art).
func DeterministicUUID(parts ...string) uuid.UUID {
	name := ""
	for _, p := range parts {
		name += p + "\x00"
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
}

// NewSyncID assigns a fresh random sync_id, per spec.md §3: "A stable
// sync_id (UUID v4) assigned at creation; never mutated."
func NewSyncID() string {
	return uuid.NewString()
}

// FormatFingerprint renders a byte slice as a lowercase hex string for
// contexts (logs, error messages) where the Runic base-85 alphabet used
// on the wire (internal/certs) would be unreadable to a developer.
func FormatFingerprint(b []byte) string {
	return fmt.Sprintf("%x", b)
}
