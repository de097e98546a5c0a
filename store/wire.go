package store

import "encoding/json"

// Wire protocol between the remote backend and the relay: JSON text frames
// over a websocket. Ops carry a client-assigned request id when they expect
// an ack; subscriptions carry a client-assigned sub id that tags every
// event fanned back out. The relay writes frames for one connection in a
// single order, which the remote backend preserves when dispatching.

const (
	OpWrite        = "write"
	OpUpdate       = "update"
	OpDelete       = "delete"
	OpPush         = "push"
	OpRead         = "read"
	OpSubChild     = "sub_child"
	OpSubValue     = "sub_value"
	OpUnsub        = "unsub"
	OpOnDisconnect = "on_disconnect"
)

const (
	FrameAck   = "ack"
	FrameError = "error"
	FrameEvent = "event"
)

const (
	EventChildAdded = "child_added"
	EventValue      = "value"
)

// WireOp is a client-to-relay request.
type WireOp struct {
	ID    uint64          `json:"id,omitempty"`
	Op    string          `json:"op"`
	Path  string          `json:"path,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Sub   uint64          `json:"sub,omitempty"`
}

// WireFrame is a relay-to-client response or event.
type WireFrame struct {
	ID    uint64          `json:"id,omitempty"`
	Type  string          `json:"type"`
	Error string          `json:"error,omitempty"`
	Event string          `json:"event,omitempty"`
	Sub   uint64          `json:"sub,omitempty"`
	Key   string          `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalValue encodes an op payload, returning nil on non-JSON-able
// input, which the engine never produces.
func MarshalValue(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

// UnmarshalValue decodes a frame payload into loosely typed data
// (map[string]any / float64 / string / bool), nil when absent.
func UnmarshalValue(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
