package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/runic-labs/rune/internal/hlc"
	"github.com/runic-labs/rune/internal/syncengine"
	"github.com/runic-labs/rune/pkg/ids"
)

// Message type names exchanged over the WS data plane for spec.md §4.8's
// sync protocol. Each request type's response carries the same type name
// suffixed with "Response".
const (
	msgNodeID     = "SyncNodeID"
	msgBookmark   = "SyncBookmark"
	msgRowsSince  = "SyncRowsSince"
	msgPush       = "SyncPush"
	msgPing       = "Ping"
	respSuffix    = "Response"
	msgErrorFrame = "Error"
)

type bookmarkRequest struct {
	Table string `json:"table"`
}

type bookmarkResponse struct {
	HasBookmark bool      `json:"has_bookmark"`
	Stamp       hlc.Stamp `json:"stamp"`
}

type rowsSinceRequest struct {
	Table string    `json:"table"`
	Since hlc.Stamp `json:"since"`
}

type rowsSinceResponse struct {
	Rows []syncengine.RowSnapshot `json:"rows"`
}

type pushRequest struct {
	Table string                   `json:"table"`
	Rows  []syncengine.RowSnapshot `json:"rows"`
}

type pushResponse struct {
	Accepted int `json:"accepted"`
}

type nodeIDResponse struct {
	NodeID string `json:"node_id"`
}

// NewSyncRequestHandler builds the RequestHandler a Conn dispatches
// inbound requests to, answering SyncNodeID/SyncBookmark/SyncRowsSince/
// SyncPush for the tables in sources, per spec.md §4.8: either side of a
// WS data-plane connection may be the requester. Grounded on
// internal/syncengine/scheduler.go's Source/Bookmarks contracts, which
// this handler simply services over the wire instead of in-process.
func NewSyncRequestHandler(nodeID string, sources map[string]syncengine.Source, bookmarks syncengine.Bookmarks) RequestHandler {
	return func(ctx context.Context, msgType string, payload []byte) (string, []byte, error) {
		switch msgType {
		case msgPing:
			return msgPing + respSuffix, nil, nil
		case msgNodeID:
			return marshalResponse(msgNodeID, nodeIDResponse{NodeID: nodeID})
		case msgBookmark:
			var req bookmarkRequest
			if err := json.Unmarshal(payload, &req); err != nil {
				return "", nil, ids.Wrap(ids.KindDecode, "transport: decode bookmark request", err)
			}
			stamp, ok, err := bookmarks.GetSyncBookmark(ctx, req.Table, nodeID)
			if err != nil {
				return "", nil, err
			}
			return marshalResponse(msgBookmark, bookmarkResponse{HasBookmark: ok, Stamp: stamp})
		case msgRowsSince:
			var req rowsSinceRequest
			if err := json.Unmarshal(payload, &req); err != nil {
				return "", nil, ids.Wrap(ids.KindDecode, "transport: decode rows-since request", err)
			}
			src, ok := sources[req.Table]
			if !ok {
				return "", nil, ids.New(ids.KindNotFound, "transport: unknown sync table "+req.Table)
			}
			rows, err := src.RowsSince(ctx, req.Since)
			if err != nil {
				return "", nil, err
			}
			return marshalResponse(msgRowsSince, rowsSinceResponse{Rows: rows})
		case msgPush:
			var req pushRequest
			if err := json.Unmarshal(payload, &req); err != nil {
				return "", nil, ids.Wrap(ids.KindDecode, "transport: decode push request", err)
			}
			src, ok := sources[req.Table]
			if !ok {
				return "", nil, ids.New(ids.KindNotFound, "transport: unknown sync table "+req.Table)
			}
			accepted := 0
			for _, row := range req.Rows {
				if err := src.ApplyInsert(ctx, row); err != nil {
					if syncengine.IsDeferredFK(err) {
						continue
					}
					if err2 := src.ApplyUpdate(ctx, row); err2 != nil {
						if syncengine.IsDeferredFK(err2) {
							continue
						}
						return "", nil, err2
					}
				}
				accepted++
			}
			return marshalResponse(msgPush, pushResponse{Accepted: accepted})
		default:
			return "", nil, ids.New(ids.KindInvalidInput, "transport: unknown message type "+msgType)
		}
	}
}

func marshalResponse(msgType string, v any) (string, []byte, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return "", nil, ids.Wrap(ids.KindInternal, "transport: marshal response", err)
	}
	return msgType + respSuffix, buf, nil
}

// WSPeer implements syncengine.Peer over a Conn, whether that Conn came
// from an inbound hub connection or an outbound DialPeer call.
type WSPeer struct {
	conn *Conn
}

// NewWSPeer wraps an already-established Conn as a syncengine.Peer.
func NewWSPeer(conn *Conn) *WSPeer { return &WSPeer{conn: conn} }

func (p *WSPeer) call(ctx context.Context, reqType string, payload []byte) ([]byte, error) {
	f, err := p.conn.Call(ctx, reqType, payload)
	if err != nil {
		return nil, err
	}
	if f.Type == msgErrorFrame {
		return nil, ids.New(ids.KindInternal, "transport: peer error: "+string(f.Payload))
	}
	return f.Payload, nil
}

// NodeID implements syncengine.Peer.
func (p *WSPeer) NodeID(ctx context.Context) (string, error) {
	buf, err := p.call(ctx, msgNodeID, nil)
	if err != nil {
		return "", err
	}
	var resp nodeIDResponse
	if err := json.Unmarshal(buf, &resp); err != nil {
		return "", ids.Wrap(ids.KindDecode, "transport: decode node id response", err)
	}
	return resp.NodeID, nil
}

// Bookmark implements syncengine.Peer.
func (p *WSPeer) Bookmark(ctx context.Context, table string) (hlc.Stamp, bool, error) {
	reqBuf, err := json.Marshal(bookmarkRequest{Table: table})
	if err != nil {
		return hlc.Stamp{}, false, ids.Wrap(ids.KindInternal, "transport: marshal bookmark request", err)
	}
	buf, err := p.call(ctx, msgBookmark, reqBuf)
	if err != nil {
		return hlc.Stamp{}, false, err
	}
	var resp bookmarkResponse
	if err := json.Unmarshal(buf, &resp); err != nil {
		return hlc.Stamp{}, false, ids.Wrap(ids.KindDecode, "transport: decode bookmark response", err)
	}
	return resp.Stamp, resp.HasBookmark, nil
}

// RowsSince implements syncengine.Peer.
func (p *WSPeer) RowsSince(ctx context.Context, table string, since hlc.Stamp) ([]syncengine.RowSnapshot, error) {
	reqBuf, err := json.Marshal(rowsSinceRequest{Table: table, Since: since})
	if err != nil {
		return nil, ids.Wrap(ids.KindInternal, "transport: marshal rows-since request", err)
	}
	buf, err := p.call(ctx, msgRowsSince, reqBuf)
	if err != nil {
		return nil, err
	}
	var resp rowsSinceResponse
	if err := json.Unmarshal(buf, &resp); err != nil {
		return nil, ids.Wrap(ids.KindDecode, "transport: decode rows-since response", err)
	}
	return resp.Rows, nil
}

// Push implements syncengine.Peer.
func (p *WSPeer) Push(ctx context.Context, table string, rows []syncengine.RowSnapshot) error {
	reqBuf, err := json.Marshal(pushRequest{Table: table, Rows: rows})
	if err != nil {
		return ids.Wrap(ids.KindInternal, "transport: marshal push request", err)
	}
	_, err = p.call(ctx, msgPush, reqBuf)
	return err
}

// Close tears down the underlying connection.
func (p *WSPeer) Close() error { return p.conn.Close() }

var dialer = websocket.Dialer{
	HandshakeTimeout: 10 * time.Second,
	TLSClientConfig:  &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // peer identity is the fingerprint, not the TLS chain; see spec.md §4.7.
}

// DialPeer connects to a remote node's WS data plane at wsURL (a
// "wss://host:port/ws" address), presenting localFingerprint as the auth
// query parameter, and wraps the resulting connection as a WSPeer backed
// by handler for any requests the remote issues back. Grounded on
// services/api/internal/listenparty/listenparty.go's client dial path,
// adapted from a browser WS client to an outbound node-to-node dial.
func DialPeer(ctx context.Context, wsURL, localFingerprint string, handler RequestHandler, log zerolog.Logger) (*WSPeer, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, ids.Wrap(ids.KindInvalidInput, "transport: parse peer ws url", err)
	}
	q := u.Query()
	q.Set("auth", localFingerprint)
	u.RawQuery = q.Encode()

	ws, resp, err := dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		return nil, ids.Wrap(ids.KindTransport, "transport: dial peer", err)
	}
	if resp != nil {
		defer resp.Body.Close()
	}

	conn := NewConn(ws, handler, log)
	return NewWSPeer(conn), nil
}
