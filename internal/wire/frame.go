package wire

import (
	"encoding/json"

	"github.com/gravitational/trace"
	jsoniter "github.com/json-iterator/go"
)

var fast = jsoniter.ConfigCompatibleWithStandardLibrary

// FastMarshal serializes v the way the rest of this module expects frame
// payloads to be serialized: compact, stdlib-compatible JSON via jsoniter.
func FastMarshal(v interface{}) ([]byte, error) {
	data, err := fast.Marshal(v)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data, nil
}

// FastUnmarshal deserializes data into v using the same codec as FastMarshal.
func FastUnmarshal(data []byte, v interface{}) error {
	if err := fast.Unmarshal(data, v); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// Frame is the wire shape of every metadata and relay-plane message:
// a required "type" discriminator plus an arbitrary payload.
//
//	{"type": "create-workspace", "name": "acme"}
//
// Frames are intentionally flat rather than nested under a "payload" key
// because every client handler in this corpus switches on sibling fields,
// not a single envelope — RawPayload preserves those sibling fields so a
// handler can re-decode into its own concrete request type.
type Frame struct {
	Type       string          `json:"type"`
	RawPayload json.RawMessage `json:"-"`
}

// DecodeFrame extracts the "type" discriminator from data while keeping
// the full original bytes available for a second, type-specific decode.
func DecodeFrame(data []byte) (Frame, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := FastUnmarshal(data, &head); err != nil {
		return Frame{}, trace.Wrap(err)
	}
	if head.Type == "" {
		return Frame{}, Validation("missing type field")
	}
	return Frame{Type: head.Type, RawPayload: json.RawMessage(data)}, nil
}

// Decode re-decodes the original frame bytes into a concrete request type.
func (f Frame) Decode(v interface{}) error {
	return FastUnmarshal(f.RawPayload, v)
}

// ErrorFrame is the S→C error{code,message} reply shape (§7).
type ErrorFrame struct {
	Type    string    `json:"type"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// NewErrorFrame renders err (any error) as an error{} frame.
func NewErrorFrame(err error) ErrorFrame {
	c := ToCoded(err)
	return ErrorFrame{Type: "error", Code: c.Code, Message: c.Message}
}

// StatusFrame acknowledges a successful set-key handshake.
type StatusFrame struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// Checkable is implemented by every typed request struct so handlers can
// validate a decoded frame in one line before acting on it.
type Checkable interface {
	Check() error
}
