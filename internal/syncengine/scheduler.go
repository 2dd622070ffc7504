package syncengine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/runic-labs/rune/internal/hlc"
)

// Bookmarks is the per-(table,peer) cursor store the scheduler reads and
// advances, per spec.md §4.8: "the scheduler records, per table per
// peer, the hlc_updated of the last row it successfully reconciled."
type Bookmarks interface {
	GetSyncBookmark(ctx context.Context, table, peerNodeID string) (hlc.Stamp, bool, error)
	SetSyncBookmark(ctx context.Context, table, peerNodeID string, stamp hlc.Stamp) error
}

// Result summarizes one table's reconciliation pass against one peer.
type Result struct {
	Table     string
	Inserted  int
	Updated   int
	Conflicts int
	Deferred  int
	Pushed    int
}

// Scheduler drives spec.md §4.8's per-table, per-peer sync exchange: it
// chunks both sides' rows since the last bookmark, descends into any
// chunk whose hash diverges, resolves row-level conflicts, applies
// inserts/updates in dependency order (retrying any FK-deferred rows
// once their parents land), and advances the bookmark only on a
// successful, non-cancelled pass.
type Scheduler struct {
	sources   map[string]Source
	bookmarks Bookmarks
	log       zerolog.Logger
	breaker   *gobreaker.CircuitBreaker[any]
	chunkSize int
}

// NewScheduler builds a Scheduler over one Source per SyncTables entry.
// The circuit breaker wraps every peer RPC the scheduler makes, tripping
// after 5 consecutive failures and probing again after 30s, matching the
// conservative defaults orb's own retry logic already used elsewhere in
// this codebase.
func NewScheduler(sources map[string]Source, bookmarks Bookmarks, log zerolog.Logger) *Scheduler {
	settings := gobreaker.Settings{
		Name:        "syncengine.peer",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Scheduler{
		sources:   sources,
		bookmarks: bookmarks,
		log:       log,
		breaker:   gobreaker.NewCircuitBreaker[any](settings),
		chunkSize: DefaultChunkSize,
	}
}

// SyncTable runs one table's exchange against peer, per spec.md §4.8's
// eight-step protocol. ctx cancellation aborts without advancing the
// bookmark, leaving the next run to redo the pass from the same point.
func (s *Scheduler) SyncTable(ctx context.Context, table string, peer Peer) (Result, error) {
	src, ok := s.sources[table]
	if !ok {
		return Result{}, errors.New("syncengine: no source registered for table " + table)
	}

	peerNodeID, err := s.call(ctx, func() (any, error) { return peer.NodeID(ctx) })
	if err != nil {
		return Result{}, err
	}
	remoteNode := peerNodeID.(string)

	since, _, err := s.bookmarks.GetSyncBookmark(ctx, table, remoteNode)
	if err != nil {
		return Result{}, err
	}

	// spec.md §4.8 step 1: fetch the peer's own last_sync_hlc for table.
	// SyncRecord is process state, not replicated (spec.md §3), so this
	// never overwrites the local bookmark; it only pulls the effective
	// cursor further back when the peer's view of progress lags ours,
	// e.g. after the peer recovered from a crash mid-pass and its own
	// bookmark wasn't advanced past the point it actually applied.
	peerSince, err := s.peerBookmark(ctx, table, peer, since)
	if err != nil {
		return Result{}, err
	}
	since = peerSince

	localRows, err := src.RowsSince(ctx, since)
	if err != nil {
		return Result{}, err
	}

	remoteRowsAny, err := s.call(ctx, func() (any, error) { return peer.RowsSince(ctx, table, since) })
	if err != nil {
		return Result{}, err
	}
	remoteRows := remoteRowsAny.([]RowSnapshot)

	localChunks := BuildChunks(localRows, s.chunkSize)
	remoteChunks := BuildChunks(remoteRows, s.chunkSize)

	result := Result{Table: table}
	var toPush []RowSnapshot
	var deferred []RowSnapshot
	maxApplied := since

	applyPlans := func(plans []Plan) {
		for _, p := range plans {
			if ctx.Err() != nil {
				return
			}
			switch p.Op {
			case OpNoOp:
				continue
			case OpInsert:
				if err := src.ApplyInsert(ctx, p.Row); err != nil {
					if IsDeferredFK(err) {
						deferred = append(deferred, p.Row)
						result.Deferred++
						continue
					}
					s.log.Warn().Err(err).Str("table", table).Str("sync_id", p.Row.SyncID).Msg("syncengine: apply insert failed")
					continue
				}
				result.Inserted++
				if hlc.Less(maxApplied, p.Row.HLCUpdated) {
					maxApplied = p.Row.HLCUpdated
				}
			case OpUpdate, OpConflict:
				if err := src.ApplyUpdate(ctx, p.Row); err != nil {
					if IsDeferredFK(err) {
						deferred = append(deferred, p.Row)
						result.Deferred++
						continue
					}
					s.log.Warn().Err(err).Str("table", table).Str("sync_id", p.Row.SyncID).Msg("syncengine: apply update failed")
					continue
				}
				if p.Op == OpConflict {
					result.Conflicts++
				} else {
					result.Updated++
				}
				if p.Row.NodeID == remoteNode && hlc.Less(maxApplied, p.Row.HLCUpdated) {
					maxApplied = p.Row.HLCUpdated
				}
			}
		}
	}

	localByID := indexBySyncID(localRows)
	matched := make(map[int]bool, len(remoteChunks))
	for i, rc := range remoteChunks {
		lc, ok := findChunk(localChunks, rc.StartHLC, rc.EndHLC)
		if ok && lc.ChunkHash == rc.ChunkHash {
			matched[i] = true
			continue
		}
		// Divergent or local-missing chunk: descend to row level.
		s.descend(rc, localByID, s.chunkSize, applyPlans)
	}

	// Any local-only rows outside a matched remote chunk range are
	// candidates to push to the peer.
	remoteByID := indexBySyncID(remoteRows)
	for _, lr := range localRows {
		if _, ok := remoteByID[lr.SyncID]; !ok {
			toPush = append(toPush, lr)
		}
	}

	// Retry FK-deferred rows once: their parent rows were applied above,
	// in SyncTables order, by the caller driving one table at a time.
	if len(deferred) > 0 {
		still := deferred[:0]
		for _, row := range deferred {
			if err := src.ApplyInsert(ctx, row); err != nil {
				if IsDeferredFK(err) {
					still = append(still, row)
					continue
				}
			}
			result.Deferred--
		}
		deferred = still
	}

	if ctx.Err() != nil {
		return result, ctx.Err()
	}

	if len(toPush) > 0 {
		if _, err := s.call(ctx, func() (any, error) { return nil, peer.Push(ctx, table, toPush) }); err != nil {
			return result, err
		}
		result.Pushed = len(toPush)
	}

	if ctx.Err() != nil {
		return result, ctx.Err()
	}

	if hlc.Less(since, maxApplied) {
		if err := s.bookmarks.SetSyncBookmark(ctx, table, remoteNode, maxApplied); err != nil {
			return result, err
		}
	}
	return result, nil
}

// descend reconciles one remote chunk whose hash doesn't match a local
// chunk: it pairs every row of the chunk with the local row of the same
// sync_id and plans them all with PlanRows in a single step. It does not
// split the chunk into sub-chunks or compare sub-chunk hashes; subSize is
// not used.
func (s *Scheduler) descend(remoteChunk Chunk, localByID map[string]RowSnapshot, subSize int, apply func([]Plan)) {
	localSub := make(map[string]RowSnapshot, len(remoteChunk.Rows))
	for _, r := range remoteChunk.Rows {
		if lr, ok := localByID[r.SyncID]; ok {
			localSub[r.SyncID] = lr
		}
	}
	remoteSub := indexBySyncID(remoteChunk.Rows)
	apply(PlanRows(localSub, remoteSub))
}

func indexBySyncID(rows []RowSnapshot) map[string]RowSnapshot {
	out := make(map[string]RowSnapshot, len(rows))
	for _, r := range rows {
		out[r.SyncID] = r
	}
	return out
}

func findChunk(chunks []Chunk, start, end hlc.Stamp) (Chunk, bool) {
	for _, c := range chunks {
		if c.StartHLC == start && c.EndHLC == end {
			return c, true
		}
	}
	return Chunk{}, false
}

// bookmarkResult carries Peer.Bookmark's two return values through
// s.call, which only passes a single any value through the breaker.
type bookmarkResult struct {
	stamp hlc.Stamp
	ok    bool
}

// peerBookmark fetches peer's last_sync_hlc for table and returns the
// earlier of it and localSince, so a peer whose own bookmark lags ours
// still gets a full catch-up pass rather than one bounded by our cursor.
// A peer with no bookmark for table (ok == false) leaves localSince
// untouched.
func (s *Scheduler) peerBookmark(ctx context.Context, table string, peer Peer, localSince hlc.Stamp) (hlc.Stamp, error) {
	got, err := s.call(ctx, func() (any, error) {
		stamp, ok, err := peer.Bookmark(ctx, table)
		return bookmarkResult{stamp: stamp, ok: ok}, err
	})
	if err != nil {
		return hlc.Stamp{}, err
	}
	bm := got.(bookmarkResult)
	if bm.ok && hlc.Less(bm.stamp, localSince) {
		return bm.stamp, nil
	}
	return localSince, nil
}

// call executes fn through the circuit breaker, translating an open
// breaker into a plain error the caller logs and aborts the pass on.
func (s *Scheduler) call(ctx context.Context, fn func() (any, error)) (any, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return s.breaker.Execute(fn)
}
