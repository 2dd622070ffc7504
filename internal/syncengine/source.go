package syncengine

import (
	"context"

	"github.com/runic-labs/rune/internal/hlc"
)

// Source decouples the sync engine from the catalog store: a Source
// reads and writes one synchronizable table's rows in the canonical
// RowSnapshot form. internal/catalog provides the concrete
// implementation (internal/catalog/syncsource.go); tests provide
// in-memory fakes.
type Source interface {
	// Table returns the table name this Source serves, one of SyncTables.
	Table() string
	// RowsSince returns every row with hlc_updated > since, ordered by
	// (hlc_updated, sync_id).
	RowsSince(ctx context.Context, since hlc.Stamp) ([]RowSnapshot, error)
	// ApplyInsert creates a new local row for a remote-only RowSnapshot,
	// remapping any FK columns in row.FKSyncIDs to local primary keys
	// first. Returns an error for which IsDeferredFK reports true if a
	// referenced sync_id is not yet known locally.
	ApplyInsert(ctx context.Context, row RowSnapshot) error
	// ApplyUpdate overwrites the local row identified by row.SyncID with
	// row's fields, performing the same FK remap as ApplyInsert.
	ApplyUpdate(ctx context.Context, row RowSnapshot) error
}

// Peer is the remote-side transport the scheduler drives for one sync
// exchange. A concrete implementation lives in internal/transport.
type Peer interface {
	NodeID(ctx context.Context) (string, error)
	// Bookmark fetches the peer's last_sync_hlc for table, or
	// (hlc.Zero, false) if the peer has none recorded.
	Bookmark(ctx context.Context, table string) (hlc.Stamp, bool, error)
	// RowsSince asks the peer for its rows newer than since, for table.
	RowsSince(ctx context.Context, table string, since hlc.Stamp) ([]RowSnapshot, error)
	// Push sends rows this node determined the peer is missing or stale on.
	Push(ctx context.Context, table string, rows []RowSnapshot) error
}

// deferredFKError is returned by a Source's ApplyInsert/ApplyUpdate when a
// row references a sync_id this node has not yet materialized locally,
// per spec.md §4.8 step 6: "if missing, defer the operation to a
// post-pass ... record it for dependency retry once the parent is
// applied."
type deferredFKError struct {
	column string
	syncID string
}

func (e *deferredFKError) Error() string {
	return "syncengine: fk column " + e.column + " references unresolved sync_id " + e.syncID
}

// NewDeferredFKError constructs the sentinel error Source
// implementations return when an FK remap cannot yet be resolved.
func NewDeferredFKError(column, syncID string) error {
	return &deferredFKError{column: column, syncID: syncID}
}

// IsDeferredFK reports whether err signals an unresolved FK reference.
func IsDeferredFK(err error) bool {
	_, ok := err.(*deferredFKError)
	return ok
}
