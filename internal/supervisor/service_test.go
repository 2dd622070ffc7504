package supervisor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFuncServiceServeDelegatesToRun(t *testing.T) {
	wantErr := errors.New("boom")
	svc := NewFuncService("worker", func(ctx context.Context) error {
		return wantErr
	})

	err := svc.Serve(context.Background())
	require.Equal(t, wantErr, err)
}

func TestFuncServiceStringReturnsName(t *testing.T) {
	svc := NewFuncService("my-service", func(context.Context) error { return nil })
	require.Equal(t, "my-service", svc.String())
}

func TestFuncServiceRespectsContextCancellation(t *testing.T) {
	svc := NewFuncService("cancellable", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := svc.Serve(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
