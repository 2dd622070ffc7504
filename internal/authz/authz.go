// Package authz gates the transport façade's HTTPS/WS operations by trust
// state, per spec.md §4.9's endpoint table ("/ping", "/register",
// "/check-fingerprint", "/device-info" reachable regardless of status;
// "/files/..." and "/ws" require Approved"). Grounded on
// tomtom215-cartographus's internal/authz/enforcer.go (embedded
// model.conf/policy.csv, casbin.SyncedEnforcer wrapper), simplified from
// its RBAC-with-reload design to a static RBAC policy over the trust
// store's four fixed states (spec.md §4.7 has no concept of reloadable
// roles).
package authz

import (
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/runic-labs/rune/pkg/ids"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Object and Action name the resources/verbs spec.md §4.9 enumerates.
const (
	ObjectPing             = "ping"
	ObjectRegister         = "register"
	ObjectCheckFingerprint = "check-fingerprint"
	ObjectDeviceInfo       = "device-info"
	ObjectFiles            = "files"
	ObjectWS               = "ws"

	ActionRead    = "read"
	ActionWrite   = "write"
	ActionConnect = "connect"
)

// Enforcer wraps a casbin.SyncedEnforcer loaded from the embedded RBAC
// model/policy, mapping trust.Status strings directly onto casbin
// subjects.
type Enforcer struct {
	e *casbin.SyncedEnforcer
}

// New builds an Enforcer from the embedded model.conf/policy.csv.
func New() (*Enforcer, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, ids.Wrap(ids.KindInternal, "authz: parse model", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, ids.Wrap(ids.KindInternal, "authz: new enforcer", err)
	}
	if err := loadEmbeddedPolicy(e, embeddedPolicy); err != nil {
		return nil, err
	}
	return &Enforcer{e: e}, nil
}

// Allowed reports whether a peer in trust status (one of the trust
// package's Status values, or "Unknown" for an unregistered fingerprint)
// may perform action on object.
func (en *Enforcer) Allowed(status, object, action string) (bool, error) {
	ok, err := en.e.Enforce(status, object, action)
	if err != nil {
		return false, ids.Wrap(ids.KindInternal, "authz: enforce", err)
	}
	return ok, nil
}

func loadEmbeddedPolicy(e *casbin.SyncedEnforcer, csv string) error {
	for _, rawLine := range strings.Split(csv, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			continue
		}
		kind := strings.TrimSpace(fields[0])
		rest := fields[1:]
		for i := range rest {
			rest[i] = strings.TrimSpace(rest[i])
		}
		var err error
		switch kind {
		case "p":
			_, err = e.AddPolicy(toAny(rest)...)
		case "g":
			_, err = e.AddGroupingPolicy(rest...)
		}
		if err != nil {
			return ids.Wrap(ids.KindInternal, "authz: load embedded policy", err)
		}
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
