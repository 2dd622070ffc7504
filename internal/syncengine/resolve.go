package syncengine

import "github.com/runic-labs/rune/internal/hlc"

// SyncOperation is the per-row action a reconciliation pass produces,
// per spec.md §4.8 step 4: "Insert, Update, NoOp, Conflict(local, remote)".
type SyncOperation int

const (
	OpNoOp SyncOperation = iota
	OpInsert
	OpUpdate
	OpConflict
)

// Plan is the resolved, per-row action for one reconciliation pass:
// which row (if any) must be applied locally, and which side supplied it.
type Plan struct {
	Op  SyncOperation
	Row RowSnapshot
}

// ResolveConflict implements spec.md §4.8 step 5: the winner is the row
// with the greater hlc_updated under §4.2's lexicographic order; ties
// break by the greater node_id.
func ResolveConflict(local, remote RowSnapshot) RowSnapshot {
	if hlc.Less(local.HLCUpdated, remote.HLCUpdated) {
		return remote
	}
	if hlc.Less(remote.HLCUpdated, local.HLCUpdated) {
		return local
	}
	if remote.NodeID > local.NodeID {
		return remote
	}
	return local
}

// PlanRows compares two sets of rows for the same key range (already
// matched one-to-one by sync_id by the caller) and produces the set of
// operations spec.md §4.8 step 4 describes.
func PlanRows(local, remote map[string]RowSnapshot) []Plan {
	var plans []Plan
	seen := make(map[string]bool, len(local)+len(remote))

	for id, l := range local {
		seen[id] = true
		r, ok := remote[id]
		if !ok {
			continue // local-only row, nothing to apply from remote
		}
		if l.canonicalString() == r.canonicalString() {
			plans = append(plans, Plan{Op: OpNoOp, Row: l})
			continue
		}
		winner := ResolveConflict(l, r)
		plans = append(plans, Plan{Op: OpConflict, Row: winner})
	}

	for id, r := range remote {
		if seen[id] {
			continue
		}
		plans = append(plans, Plan{Op: OpInsert, Row: r})
	}
	return plans
}
