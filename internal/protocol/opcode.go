package protocol

import (
	"encoding/base64"
	"fmt"

	"github.com/gmliao/landnet/pkg/errors"
)

// Opcode form: a positional array [opcode, ...fields...]. Trailing fields
// beyond the known arity are ignored for forward compatibility.

func toOpcodeArray(msg Message) (interface{}, error) {
	switch m := msg.(type) {
	case *Action:
		return []interface{}{
			int64(OpcodeAction),
			m.RequestID,
			m.TypeIdentifier,
			base64.StdEncoding.EncodeToString(m.Payload),
		}, nil
	case *Event:
		arr := []interface{}{
			int64(OpcodeEvent),
			int64(m.Direction),
			m.Type,
			m.Payload,
		}
		if m.RawBody != nil {
			arr = append(arr, base64.StdEncoding.EncodeToString(m.RawBody))
		}
		return arr, nil
	case *Join:
		return []interface{}{
			int64(OpcodeJoin),
			m.RequestID,
			m.LandType,
			m.LandInstanceID,
			m.PlayerID,
			m.DeviceID,
			m.Metadata,
		}, nil
	case *JoinResponse:
		return []interface{}{
			int64(OpcodeJoinResponse),
			m.RequestID,
			m.Success,
			m.LandType,
			m.LandInstanceID,
			int64(m.PlayerSlot),
			m.Encoding,
			m.Reason,
		}, nil
	case *StateUpdate:
		events := make([]interface{}, len(m.Bundled))
		for i, ev := range m.Bundled {
			events[i] = eventBody(ev)
		}
		return []interface{}{
			int64(OpcodeStateUpdate),
			updateBody(m.Update),
			events,
		}, nil
	case *Ping, *Pong:
		// Keepalives have no opcode; they ride in object form.
		return toObject(msg)
	default:
		return nil, errors.ErrUnknownKind
	}
}

func fromOpcodeArray(arr []interface{}) (Message, error) {
	if len(arr) == 0 {
		return nil, errors.ErrMalformedArray
	}
	opcode, ok := asInt(arr[0])
	if !ok {
		return nil, errors.ErrMalformedArray
	}
	switch opcode {
	case OpcodeAction:
		if len(arr) < 4 {
			return nil, errors.ErrMalformedArray
		}
		requestID, ok1 := arr[1].(string)
		typeID, ok2 := arr[2].(string)
		payloadB64, ok3 := arr[3].(string)
		if !ok1 || !ok2 || !ok3 {
			return nil, errors.ErrMalformedArray
		}
		payload, err := base64.StdEncoding.DecodeString(payloadB64)
		if err != nil {
			return nil, errors.Wrap(err, "action payload")
		}
		return &Action{RequestID: requestID, TypeIdentifier: typeID, Payload: payload}, nil
	case OpcodeEvent:
		if len(arr) < 4 {
			return nil, errors.ErrMalformedArray
		}
		direction, okDir := asInt(arr[1])
		evType, okType := arr[2].(string)
		if !okDir || !okType {
			return nil, errors.ErrMalformedArray
		}
		ev := &Event{Direction: int(direction), Type: evType}
		if payload, ok := arr[3].(map[string]interface{}); ok {
			ev.Payload = payload
		}
		if len(arr) > 4 {
			if rawB64, ok := arr[4].(string); ok {
				body, err := base64.StdEncoding.DecodeString(rawB64)
				if err != nil {
					return nil, errors.Wrap(err, "event rawBody")
				}
				ev.RawBody = body
			}
		}
		return ev, nil
	case OpcodeJoin:
		if len(arr) < 3 {
			return nil, errors.ErrMalformedArray
		}
		requestID, ok1 := arr[1].(string)
		landType, ok2 := arr[2].(string)
		if !ok1 || !ok2 {
			return nil, errors.ErrMalformedArray
		}
		join := &Join{RequestID: requestID, LandType: landType}
		join.LandInstanceID = optString(arr, 3)
		join.PlayerID = optString(arr, 4)
		join.DeviceID = optString(arr, 5)
		if len(arr) > 6 {
			if meta, ok := arr[6].(map[string]interface{}); ok {
				join.Metadata = meta
			}
		}
		return join, nil
	case OpcodeJoinResponse:
		if len(arr) < 3 {
			return nil, errors.ErrMalformedArray
		}
		requestID, ok1 := arr[1].(string)
		success, ok2 := arr[2].(bool)
		if !ok1 || !ok2 {
			return nil, errors.ErrMalformedArray
		}
		resp := &JoinResponse{RequestID: requestID, Success: success}
		resp.LandType = optString(arr, 3)
		resp.LandInstanceID = optString(arr, 4)
		if len(arr) > 5 {
			resp.PlayerSlot = int(optInt(arr, 5))
		}
		resp.Encoding = optString(arr, 6)
		resp.Reason = optString(arr, 7)
		return resp, nil
	case OpcodeStateUpdate:
		if len(arr) < 3 {
			return nil, errors.ErrMalformedArray
		}
		body, ok := arr[1].(map[string]interface{})
		if !ok {
			return nil, errors.ErrMalformedArray
		}
		update, err := updateFromBody(body)
		if err != nil {
			return nil, err
		}
		msg := &StateUpdate{Update: update}
		if rawEvents, ok := arr[2].([]interface{}); ok {
			for _, raw := range rawEvents {
				obj, ok := raw.(map[string]interface{})
				if !ok {
					return nil, errors.ErrMalformedArray
				}
				ev, err := eventFromBody(obj)
				if err != nil {
					return nil, err
				}
				msg.Bundled = append(msg.Bundled, ev)
			}
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %d", errors.ErrInvalidOpcode, opcode)
	}
}

func asInt(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case float64:
		if t == float64(int64(t)) {
			return int64(t), true
		}
		return 0, false
	default:
		return 0, false
	}
}

func optString(arr []interface{}, i int) string {
	if i >= len(arr) {
		return ""
	}
	s, _ := arr[i].(string)
	return s
}

func optInt(arr []interface{}, i int) int64 {
	if i >= len(arr) {
		return 0
	}
	switch v := arr[i].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}
