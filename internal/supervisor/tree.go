// Package supervisor assembles the node daemon's supervision tree, per
// spec.md §9's layered-failure-isolation design note: a crash in the
// messaging layer (discovery, sync, WS data plane) must not take down the
// data layer (catalog, vector index) or the API layer (HTTPS control
// plane). Grounded on
// _examples/tomtom215-cartographus/internal/supervisor/tree.go's
// thejerf/suture/v4 root/data/messaging/api layout, ported from that
// repo's log/slog EventHook wiring to this repo's rs/zerolog logger via a
// small slog.Handler bridge (see logbridge.go).
package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree tuning knobs, identical in shape and
// defaults to cartographus's TreeConfig.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultTreeConfig returns suture's own documented defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// SupervisorTree organizes runed's services into three failure-isolated
// layers: data (catalog maintenance, vector index rebuilds), messaging
// (discovery, trust, sync scheduler, WS data plane), and api (HTTPS
// control plane).
type SupervisorTree struct {
	root      *suture.Supervisor
	data      *suture.Supervisor
	messaging *suture.Supervisor
	api       *suture.Supervisor
	log       zerolog.Logger
	config    TreeConfig
}

// NewSupervisorTree builds the tree, wiring log as every layer's failure
// event sink via a slog.Handler bridge.
func NewSupervisorTree(log zerolog.Logger, config TreeConfig) (*SupervisorTree, error) {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	handler := &sutureslog.Handler{Logger: newSlogLogger(log)}
	eventHook := handler.MustHook()

	rootSpec := suture.Spec{
		EventHook:        eventHook,
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("runed", rootSpec)
	data := suture.New("data-layer", childSpec)
	messaging := suture.New("messaging-layer", childSpec)
	api := suture.New("api-layer", childSpec)

	root.Add(data)
	root.Add(messaging)
	root.Add(api)

	return &SupervisorTree{
		root:      root,
		data:      data,
		messaging: messaging,
		api:       api,
		log:       log,
		config:    config,
	}, nil
}

// Root returns the root supervisor.
func (t *SupervisorTree) Root() *suture.Supervisor { return t.root }

// AddDataService adds svc to the data layer.
func (t *SupervisorTree) AddDataService(svc suture.Service) suture.ServiceToken {
	return t.data.Add(svc)
}

// AddMessagingService adds svc to the messaging layer.
func (t *SupervisorTree) AddMessagingService(svc suture.Service) suture.ServiceToken {
	return t.messaging.Add(svc)
}

// AddAPIService adds svc to the API layer.
func (t *SupervisorTree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// RemoveMessagingService removes a previously-added messaging service.
func (t *SupervisorTree) RemoveMessagingService(token suture.ServiceToken) error {
	return t.messaging.Remove(token)
}

// Serve runs the whole tree, blocking until ctx is cancelled.
func (t *SupervisorTree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine, returning its exit channel.
func (t *SupervisorTree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport reports services that missed the shutdown deadline.
func (t *SupervisorTree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// Remove stops and removes a service by token.
func (t *SupervisorTree) Remove(token suture.ServiceToken) error {
	return t.root.Remove(token)
}

// RemoveAndWait stops a service and blocks until it fully exits or timeout
// elapses.
func (t *SupervisorTree) RemoveAndWait(token suture.ServiceToken, timeout time.Duration) error {
	return t.root.RemoveAndWait(token, timeout)
}
