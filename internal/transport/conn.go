package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// RequestHandler answers an inbound request frame with a response type
// and payload. Both ends of a WS data-plane connection register one, so
// spec.md §4.8's bidirectional sync exchange can issue RPCs in either
// direction over the same socket.
type RequestHandler func(ctx context.Context, msgType string, payload []byte) (respType string, respPayload []byte, err error)

// Conn wraps one WS data-plane connection with spec.md §4.9's frame
// dispatch: inbound frames whose UUID matches an outstanding Call are
// delivered as that call's response; every other inbound frame is routed
// to handler, and its result is written back under the same UUID,
// per spec.md §4.9: "Request UUIDs correlate requests and responses."
// Grounded on services/api/internal/listenparty/listenparty.go's
// client/hub read/write pump split.
type Conn struct {
	ws      *websocket.Conn
	log     zerolog.Logger
	handler RequestHandler

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uuid.UUID]chan Frame

	done     chan struct{}
	closeErr error
	closeOne sync.Once
}

// NewConn wraps ws and starts its read loop. handler may be nil for a
// connection that only issues requests and never serves them.
func NewConn(ws *websocket.Conn, handler RequestHandler, log zerolog.Logger) *Conn {
	c := &Conn{
		ws:      ws,
		log:     log,
		handler: handler,
		pending: make(map[uuid.UUID]chan Frame),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	defer c.closeWith(nil)
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			c.closeWith(err)
			return
		}
		f, err := DecodeFrame(msg)
		if err != nil {
			c.log.Warn().Err(err).Msg("transport: discarding malformed frame")
			continue
		}
		c.handleFrame(f)
	}
}

func (c *Conn) handleFrame(f Frame) {
	c.pendingMu.Lock()
	ch, ok := c.pending[f.UUID]
	if ok {
		delete(c.pending, f.UUID)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- f
		return
	}

	if c.handler == nil {
		return
	}
	go func() {
		respType, respPayload, err := c.handler(context.Background(), f.Type, f.Payload)
		if err != nil {
			respType, respPayload = "Error", []byte(err.Error())
		}
		if werr := c.writeFrame(Frame{Type: respType, Payload: respPayload, UUID: f.UUID}); werr != nil {
			c.log.Warn().Err(werr).Msg("transport: write response frame failed")
		}
	}()
}

func (c *Conn) writeFrame(f Frame) error {
	buf, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, buf)
}

// Call sends a request frame of reqType/payload and blocks for the
// correlated response, or until ctx is done or the connection closes.
func (c *Conn) Call(ctx context.Context, reqType string, payload []byte) (Frame, error) {
	id := NewRequestUUID()
	ch := make(chan Frame, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.writeFrame(Frame{Type: reqType, Payload: payload, UUID: id}); err != nil {
		return Frame{}, err
	}
	select {
	case f := <-ch:
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-c.done:
		return Frame{}, c.closeErrOrDefault()
	}
}

func (c *Conn) closeErrOrDefault() error {
	if c.closeErr != nil {
		return c.closeErr
	}
	return errors.New("transport: connection closed")
}

func (c *Conn) closeWith(err error) {
	c.closeOne.Do(func() {
		c.closeErr = err
		close(c.done)
	})
}

// Close shuts down the underlying WS connection.
func (c *Conn) Close() error {
	c.closeWith(errors.New("transport: connection closed by caller"))
	return c.ws.Close()
}

// Done reports when the connection has closed, for callers that want to
// stop issuing calls without waiting on a Call to fail.
func (c *Conn) Done() <-chan struct{} { return c.done }
