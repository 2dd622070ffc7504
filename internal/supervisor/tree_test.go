package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runic-labs/rune/internal/logging"
)

func TestNewSupervisorTreeBuildsRootAndLayers(t *testing.T) {
	tree, err := NewSupervisorTree(logging.New(logging.Options{}), DefaultTreeConfig())
	require.NoError(t, err)
	require.NotNil(t, tree.Root())
}

func TestNewSupervisorTreeAppliesDefaultsForZeroConfig(t *testing.T) {
	tree, err := NewSupervisorTree(logging.New(logging.Options{}), TreeConfig{})
	require.NoError(t, err)
	require.Equal(t, 5.0, tree.config.FailureThreshold)
	require.Equal(t, 30.0, tree.config.FailureDecay)
	require.Equal(t, 15*time.Second, tree.config.FailureBackoff)
	require.Equal(t, 10*time.Second, tree.config.ShutdownTimeout)
}

func TestSupervisorTreeRunsServicesAcrossLayers(t *testing.T) {
	tree, err := NewSupervisorTree(logging.New(logging.Options{}), TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   100 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})
	require.NoError(t, err)

	started := make(chan string, 3)
	mk := func(name string) *FuncService {
		return NewFuncService(name, func(ctx context.Context) error {
			started <- name
			<-ctx.Done()
			return ctx.Err()
		})
	}

	tree.AddDataService(mk("data-svc"))
	tree.AddMessagingService(mk("messaging-svc"))
	tree.AddAPIService(mk("api-svc"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- tree.Serve(ctx) }()

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case name := <-started:
			seen[name] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for services to start")
		}
	}
	require.True(t, seen["data-svc"])
	require.True(t, seen["messaging-svc"])
	require.True(t, seen["api-svc"])

	select {
	case err := <-errCh:
		require.True(t, err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled))
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not shut down after context cancellation")
	}
}

func TestAddAndRemoveMessagingService(t *testing.T) {
	tree, err := NewSupervisorTree(logging.New(logging.Options{}), DefaultTreeConfig())
	require.NoError(t, err)

	token := tree.AddMessagingService(NewFuncService("removable", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tree.Serve(ctx)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, tree.RemoveMessagingService(token))
}
