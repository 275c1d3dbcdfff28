package protocol

import (
	"github.com/gmliao/landnet/pkg/errors"
)

// DecodeAny decodes a frame without knowing the session's encoding yet. The
// router uses it on the first message of a session; the detected encoding
// becomes the session's default. JSON text is recognized by its first byte,
// everything else is treated as msgpack.
func DecodeAny(data []byte) (Message, Encoding, error) {
	if len(data) == 0 {
		return nil, "", errors.ErrMalformedArray
	}

	ser, objectEnc, opcodeEnc := msgpackSerializer, EncodingMsgpack, EncodingOpcodeMsgpack
	if data[0] == '{' || data[0] == '[' {
		ser, objectEnc, opcodeEnc = jsonSerializer, EncodingJSON, EncodingOpcodeJSON
	}

	tree, err := ser.unmarshal(data)
	if err != nil {
		return nil, "", errors.Wrap(err, "decode frame")
	}
	switch t := normalizeTree(tree).(type) {
	case []interface{}:
		msg, err := fromOpcodeArray(t)
		return msg, opcodeEnc, err
	case map[string]interface{}:
		msg, err := fromObject(t)
		return msg, objectEnc, err
	default:
		return nil, "", errors.ErrUnknownKind
	}
}
