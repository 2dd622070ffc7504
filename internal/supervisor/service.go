package supervisor

import "context"

// FuncService adapts a plain run function into a suture.Service, naming
// it for the event hook's logs via String(). Grounded on
// _examples/tomtom215-cartographus/internal/supervisor/services/detection_service.go's
// thin engine-wrapping service, generalized from one fixed engine type to
// any context-driven run loop so discovery, the sync scheduler, and the
// transport server can all supervise the same way.
type FuncService struct {
	name string
	run  func(ctx context.Context) error
}

// NewFuncService wraps run as a named suture.Service.
func NewFuncService(name string, run func(ctx context.Context) error) *FuncService {
	return &FuncService{name: name, run: run}
}

// Serve implements suture.Service.
func (s *FuncService) Serve(ctx context.Context) error { return s.run(ctx) }

// String implements fmt.Stringer, which suture uses to name the service
// in its event hook logs.
func (s *FuncService) String() string { return s.name }
