package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/gmliao/landnet/pkg/errors"
	"github.com/gmliao/landnet/pkg/json"
)

// Encoding names the four supported codecs. A session selects its encodings
// at join time and the adapter records them per subscriber.
type Encoding string

const (
	EncodingJSON          Encoding = "json"
	EncodingMsgpack       Encoding = "messagepack"
	EncodingOpcodeJSON    Encoding = "opcodeJson"
	EncodingOpcodeMsgpack Encoding = "opcodeMessagePack"
)

// Codec turns messages into wire frames and back. Decoders accept both the
// object and the opcode shape regardless of the codec's own encode shape, so
// a router can hand any inbound frame to any codec of the right serializer.
type Codec interface {
	Encoding() Encoding
	Encode(msg Message) ([]byte, error)
	Decode(data []byte) (Message, error)

	// Bundles reports whether the codec emits opcode-107 frames, i.e. whether
	// broadcast server events may ride inside a state update.
	Bundles() bool

	// PrepareBundledEvent returns the event in a form this codec can embed in
	// an opcode-107 frame. Events carrying only a RawBody produced by another
	// serializer are re-decoded; a failure means codec mismatch and the caller
	// must emit the event as its own frame instead of dropping it.
	PrepareBundledEvent(ev *Event) (*Event, error)
}

// serializer is the byte-level half of a codec.
type serializer struct {
	name      string
	marshal   func(v interface{}) ([]byte, error)
	unmarshal func(data []byte) (interface{}, error)
}

var jsonSerializer = serializer{
	name:    "json",
	marshal: func(v interface{}) ([]byte, error) { return json.Marshal(v) },
	unmarshal: func(data []byte) (interface{}, error) {
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	},
}

var msgpackSerializer = serializer{
	name:    "messagepack",
	marshal: func(v interface{}) ([]byte, error) { return msgpack.Marshal(v) },
	unmarshal: func(data []byte) (interface{}, error) {
		var v interface{}
		if err := msgpack.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	},
}

type codec struct {
	encoding Encoding
	ser      serializer
	opcode   bool
}

// NewCodec returns the codec for an encoding.
func NewCodec(enc Encoding) (Codec, error) {
	switch enc {
	case EncodingJSON:
		return &codec{encoding: enc, ser: jsonSerializer}, nil
	case EncodingMsgpack:
		return &codec{encoding: enc, ser: msgpackSerializer}, nil
	case EncodingOpcodeJSON:
		return &codec{encoding: enc, ser: jsonSerializer, opcode: true}, nil
	case EncodingOpcodeMsgpack:
		return &codec{encoding: enc, ser: msgpackSerializer, opcode: true}, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}
}

// MustCodec is NewCodec for statically known encodings.
func MustCodec(enc Encoding) Codec {
	c, err := NewCodec(enc)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *codec) Encoding() Encoding { return c.encoding }

func (c *codec) Encode(msg Message) ([]byte, error) {
	var tree interface{}
	var err error
	if c.opcode {
		tree, err = toOpcodeArray(msg)
	} else {
		tree, err = toObject(msg)
	}
	if err != nil {
		return nil, err
	}
	return c.ser.marshal(tree)
}

func (c *codec) Decode(data []byte) (Message, error) {
	tree, err := c.ser.unmarshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode frame")
	}
	switch t := normalizeTree(tree).(type) {
	case []interface{}:
		return fromOpcodeArray(t)
	case map[string]interface{}:
		return fromObject(t)
	default:
		return nil, errors.ErrUnknownKind
	}
}

func (c *codec) Bundles() bool { return c.opcode }

func (c *codec) PrepareBundledEvent(ev *Event) (*Event, error) {
	if ev.Payload != nil || ev.RawBody == nil {
		return ev, nil
	}
	obj, err := c.reencodeBody(ev.RawBody)
	if err != nil {
		return nil, err
	}
	decoded, err := eventFromBody(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrCodecMismatch, err)
	}
	decoded.Direction = ev.Direction
	if decoded.Type == "" {
		decoded.Type = ev.Type
	}
	return decoded, nil
}

// reencodeBody decodes a raw event body produced by another codec's
// serializer. Used for opcode-107 bundling; a failure means codec mismatch
// and the caller must fall back to a standalone frame.
func (c *codec) reencodeBody(raw []byte) (map[string]interface{}, error) {
	tree, err := c.ser.unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s body", errors.ErrCodecMismatch, c.ser.name)
	}
	obj, ok := normalizeTree(tree).(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: body is not an object", errors.ErrCodecMismatch)
	}
	return obj, nil
}

// EncodingConfig pairs the codec used for ordinary messages with the codec
// used for state update frames. A session selects both at join time.
type EncodingConfig struct {
	Message     Codec
	StateUpdate Codec
}

// DefaultEncodingConfig is plain JSON object frames for everything.
func DefaultEncodingConfig() EncodingConfig {
	return EncodingConfig{
		Message:     MustCodec(EncodingJSON),
		StateUpdate: MustCodec(EncodingJSON),
	}
}
