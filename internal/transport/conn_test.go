package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/runic-labs/rune/internal/logging"
)

func echoHandler(_ context.Context, msgType string, payload []byte) (string, []byte, error) {
	return msgType + respSuffix, payload, nil
}

var errBoom = errors.New("boom")

// newConnPair upgrades a real WS connection between an httptest server
// and a gorilla client dialer, and wraps both ends as Conn, so Call's
// UUID-correlated dispatch is exercised over an actual socket rather than
// an in-process fake.
func newConnPair(t *testing.T, serverHandler RequestHandler) (client, server *Conn) {
	t.Helper()
	log := logging.New(logging.Options{})

	var serverConn *Conn
	ready := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConn = NewConn(ws, serverHandler, log)
		close(ready)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientWS, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	clientConn := NewConn(clientWS, nil, log)

	<-ready
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})
	return clientConn, serverConn
}

func TestConnCallRoundTrip(t *testing.T) {
	client, _ := newConnPair(t, echoHandler)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := client.Call(ctx, "Ping", []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, "Ping"+respSuffix, f.Type)
	require.Equal(t, []byte("hi"), f.Payload)
}

func TestConnCallSurfacesHandlerErrorAsErrorFrame(t *testing.T) {
	failing := func(context.Context, string, []byte) (string, []byte, error) {
		return "", nil, errBoom
	}
	client, _ := newConnPair(t, failing)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := client.Call(ctx, "Ping", nil)
	require.NoError(t, err)
	require.Equal(t, msgErrorFrame, f.Type)
	require.Equal(t, errBoom.Error(), string(f.Payload))
}

func TestConnCallTimesOutWhenNoResponse(t *testing.T) {
	client, _ := newConnPair(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := client.Call(ctx, "Ping", nil)
	require.Error(t, err)
}

func TestConnDoneClosesOnRemoteDisconnect(t *testing.T) {
	client, server := newConnPair(t, echoHandler)
	server.Close()

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected client Done() to close after remote disconnect")
	}
}
