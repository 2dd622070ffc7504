// Package transport implements spec.md §4.9's two surfaces: the HTTPS
// control plane and the WebSocket data plane, plus the bit-exact wire
// framing spec.md §8 scenario 6 fixes. Grounded on
// services/api/internal/listenparty/listenparty.go's gorilla/websocket
// hub/client pattern for the WS data plane and
// services/api/internal/stream/stream.go's range-request serving for
// "/files/...", with services/api/cmd/main.go's chi router assembly for
// the HTTPS surface.
package transport

import (
	"errors"
	"io"

	"github.com/google/uuid"

	"github.com/runic-labs/rune/pkg/ids"
)

// Frame is one decoded wire message: a type name, an opaque payload
// (caller-chosen serialization per spec.md §6), and a correlating
// request UUID.
type Frame struct {
	Type    string
	Payload []byte
	UUID    uuid.UUID
}

// maxTypeLen bounds the single-byte type_len prefix.
const maxTypeLen = 255

// EncodeFrame renders f per spec.md §4.9's bit-exact layout:
// [1 byte: type_len][type_len bytes: ASCII type name][payload bytes][16 bytes: request UUID].
func EncodeFrame(f Frame) ([]byte, error) {
	if len(f.Type) > maxTypeLen {
		return nil, ids.New(ids.KindInvalidInput, "transport: frame type name too long")
	}
	out := make([]byte, 0, 1+len(f.Type)+len(f.Payload)+16)
	out = append(out, byte(len(f.Type)))
	out = append(out, []byte(f.Type)...)
	out = append(out, f.Payload...)
	out = append(out, f.UUID[:]...)
	return out, nil
}

// DecodeFrame parses buf into a Frame, the inverse of EncodeFrame.
func DecodeFrame(buf []byte) (Frame, error) {
	if len(buf) < 1 {
		return Frame{}, ids.New(ids.KindDecode, "transport: frame too short for type_len")
	}
	typeLen := int(buf[0])
	if len(buf) < 1+typeLen+16 {
		return Frame{}, ids.New(ids.KindDecode, "transport: frame shorter than type_len+uuid")
	}
	typeName := string(buf[1 : 1+typeLen])
	payload := buf[1+typeLen : len(buf)-16]
	var id uuid.UUID
	copy(id[:], buf[len(buf)-16:])
	return Frame{Type: typeName, Payload: payload, UUID: id}, nil
}

// NewRequestUUID mints a fresh correlation UUID for a request or a
// broadcast message, per spec.md §4.9: "Request UUIDs correlate requests
// and responses; broadcast messages use a fresh UUID."
func NewRequestUUID() uuid.UUID {
	return uuid.New()
}

// WriteFrame encodes f and writes it to w, prefixed with nothing further:
// the framing itself carries no outer length prefix because the caller
// (a WS message boundary) already delimits one frame per message.
func WriteFrame(w io.Writer, f Frame) error {
	buf, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame decodes exactly one frame from a single message's bytes (not
// a stream — WS already delimits messages).
func ReadFrame(msg []byte) (Frame, error) {
	if len(msg) == 0 {
		return Frame{}, errors.New("transport: empty message")
	}
	return DecodeFrame(msg)
}
