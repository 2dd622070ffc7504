package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runic-labs/rune/internal/logging"
)

type testEvent struct {
	Name string `json:"name"`
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	log := logging.New(logging.Options{})
	b := New(log)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := b.Subscribe(ctx, "trust.changed")
	require.NoError(t, err)

	require.NoError(t, b.Publish("trust.changed", testEvent{Name: "approved"}))

	select {
	case msg := <-msgs:
		var got testEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		require.Equal(t, "approved", got.Name)
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}
