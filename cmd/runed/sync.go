package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/runic-labs/rune/internal/recommend"
	"github.com/runic-labs/rune/internal/syncengine"
	"github.com/runic-labs/rune/internal/transport"
	"github.com/runic-labs/rune/internal/vectorindex"
)

// runSyncLoop drives one Scheduler pass per currently-connected peer,
// every interval, per spec.md §4.8: sync runs continuously, reconciling
// every synchronizable table against every trusted, connected peer.
// Grounded on cmd/ingest/main.go's --watch ticker loop, adapted from
// filesystem polling to peer reconciliation.
func runSyncLoop(ctx context.Context, scheduler *syncengine.Scheduler, srv *transport.Server, interval time.Duration, log zerolog.Logger) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, fingerprint := range srv.ConnectedPeers() {
				conn, ok := srv.Peer(fingerprint)
				if !ok {
					continue
				}
				peer := transport.NewWSPeer(conn)
				for _, table := range syncengine.SyncTables {
					if _, err := scheduler.SyncTable(ctx, table, peer); err != nil {
						log.Warn().Err(err).Str("peer", fingerprint).Str("table", table).
							Msg("runed: sync round failed")
					}
				}
			}
		}
	}
}

// runIndexMaintenance periodically rebuilds the vector index from its
// badger-backed storage, per spec.md §4.6: a stale in-memory tree is
// tolerated between rebuilds. Grounded on
// internal/vectorindex/vectorindex.go's Rebuild contract.
func runIndexMaintenance(ctx context.Context, index *vectorindex.Index, _ *recommend.Engine, log zerolog.Logger) error {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := index.Rebuild(ctx); err != nil {
				log.Warn().Err(err).Msg("runed: vector index rebuild failed")
			}
		}
	}
}
