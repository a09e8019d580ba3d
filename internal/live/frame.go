// Package live carries change notifications over a websocket: Channel is the
// reconnecting client, Hub the fan-out server, Refresher the glue that keeps
// the local store current from those notifications.
package live

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/model"
)

// Reserved keep-alive frame types.
const (
	TypePing = "ping"
	TypePong = "pong"
)

var (
	pingFrame = []byte(`{"type":"ping"}`)
	pongFrame = []byte(`{"type":"pong"}`)
)

var ErrInvalidFrame = errors.New("invalid frame")

// Frame is one wire message: {"type": "...", ...payload}.
type Frame struct {
	Type string
	Raw  json.RawMessage
}

// ParseFrame decodes the envelope of data; the payload stays raw.
func ParseFrame(data []byte) (Frame, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if head.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrInvalidFrame)
	}
	return Frame{Type: head.Type, Raw: append(json.RawMessage(nil), data...)}, nil
}

// Decode unmarshals the whole frame into v.
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Raw, v)
}

// Reserved reports whether the frame is a keep-alive frame.
func (f Frame) Reserved() bool {
	return f.Type == TypePing || f.Type == TypePong
}

// ChangeEvent announces that a record changed on the remote store.
type ChangeEvent struct {
	Type  string `json:"type"`
	Table string `json:"table"`
	ID    string `json:"id"`
	Op    string `json:"op,omitempty"`
	At    string `json:"at,omitempty"`
}

func ChangedType(table string) string { return table + ".changed" }
func DeletedType(table string) string { return table + ".deleted" }

func NewChangeEvent(table, id string, op model.Operation, at time.Time) ChangeEvent {
	typ := ChangedType(table)
	if op == model.OpDelete {
		typ = DeletedType(table)
	}
	return ChangeEvent{Type: typ, Table: table, ID: id, Op: op.String(), At: model.FormatTimestamp(at)}
}

func (e ChangeEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}
