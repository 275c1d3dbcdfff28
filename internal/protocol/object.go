package protocol

import (
	"encoding/base64"

	"github.com/gmliao/landnet/internal/state"
	"github.com/gmliao/landnet/pkg/errors"
)

// Object form: a tagged {"kind": ..., ...fields...} map.

func normalizeTree(v interface{}) interface{} {
	return state.Normalize(v)
}

func toObject(msg Message) (map[string]interface{}, error) {
	switch m := msg.(type) {
	case *Join:
		obj := map[string]interface{}{
			"kind":      string(KindJoin),
			"requestID": m.RequestID,
			"landType":  m.LandType,
		}
		if m.LandInstanceID != "" {
			obj["landInstanceId"] = m.LandInstanceID
		}
		if m.PlayerID != "" {
			obj["playerID"] = m.PlayerID
		}
		if m.DeviceID != "" {
			obj["deviceID"] = m.DeviceID
		}
		if m.Metadata != nil {
			obj["metadata"] = m.Metadata
		}
		return obj, nil
	case *JoinResponse:
		obj := map[string]interface{}{
			"kind":      string(KindJoinResponse),
			"requestID": m.RequestID,
			"success":   m.Success,
		}
		if m.LandType != "" {
			obj["landType"] = m.LandType
		}
		if m.LandInstanceID != "" {
			obj["landInstanceId"] = m.LandInstanceID
		}
		if m.Success {
			obj["playerSlot"] = int64(m.PlayerSlot)
		}
		if m.Encoding != "" {
			obj["encoding"] = m.Encoding
		}
		if m.Reason != "" {
			obj["reason"] = m.Reason
		}
		return obj, nil
	case *Event:
		return eventBody(m), nil
	case *Action:
		return map[string]interface{}{
			"kind":           string(KindAction),
			"requestID":      m.RequestID,
			"typeIdentifier": m.TypeIdentifier,
			"payload":        base64.StdEncoding.EncodeToString(m.Payload),
		}, nil
	case *StateUpdate:
		obj := updateBody(m.Update)
		obj["kind"] = string(KindStateUpdate)
		return obj, nil
	case *Ping:
		return map[string]interface{}{"kind": string(KindPing), "nonce": m.Nonce}, nil
	case *Pong:
		return map[string]interface{}{"kind": string(KindPong), "nonce": m.Nonce}, nil
	default:
		return nil, errors.ErrUnknownKind
	}
}

// eventBody is the object form of an event, shared by the 103 frame and the
// opcode-107 bundle.
func eventBody(m *Event) map[string]interface{} {
	obj := map[string]interface{}{
		"kind":      string(KindEvent),
		"direction": int64(m.Direction),
		"type":      m.Type,
	}
	if m.Payload != nil {
		obj["payload"] = m.Payload
	}
	if m.RawBody != nil {
		obj["rawBody"] = base64.StdEncoding.EncodeToString(m.RawBody)
	}
	return obj
}

// updateBody is the kind-less object form of a state update.
func updateBody(u state.Update) map[string]interface{} {
	switch u.Kind {
	case state.UpdateFirstSync:
		return map[string]interface{}{
			"updateType": string(state.UpdateFirstSync),
			"snapshot":   map[string]interface{}(u.Snapshot),
		}
	case state.UpdateDiff:
		patches := make([]interface{}, len(u.Patches))
		for i, p := range u.Patches {
			patches[i] = p.WireForm()
		}
		return map[string]interface{}{
			"updateType": string(state.UpdateDiff),
			"patches":    patches,
		}
	default:
		return map[string]interface{}{"updateType": string(state.UpdateNoChange)}
	}
}

func fromObject(obj map[string]interface{}) (Message, error) {
	kind, _ := obj["kind"].(string)
	switch Kind(kind) {
	case KindJoin:
		return &Join{
			RequestID:      getString(obj, "requestID"),
			LandType:       getString(obj, "landType"),
			LandInstanceID: getString(obj, "landInstanceId"),
			PlayerID:       getString(obj, "playerID"),
			DeviceID:       getString(obj, "deviceID"),
			Metadata:       getMap(obj, "metadata"),
		}, nil
	case KindJoinResponse:
		return &JoinResponse{
			RequestID:      getString(obj, "requestID"),
			Success:        getBool(obj, "success"),
			LandType:       getString(obj, "landType"),
			LandInstanceID: getString(obj, "landInstanceId"),
			PlayerSlot:     int(getInt(obj, "playerSlot")),
			Encoding:       getString(obj, "encoding"),
			Reason:         getString(obj, "reason"),
		}, nil
	case KindEvent:
		return eventFromBody(obj)
	case KindAction:
		payload, err := base64.StdEncoding.DecodeString(getString(obj, "payload"))
		if err != nil {
			return nil, errors.Wrap(err, "action payload")
		}
		return &Action{
			RequestID:      getString(obj, "requestID"),
			TypeIdentifier: getString(obj, "typeIdentifier"),
			Payload:        payload,
		}, nil
	case KindStateUpdate:
		update, err := updateFromBody(obj)
		if err != nil {
			return nil, err
		}
		return &StateUpdate{Update: update}, nil
	case KindPing:
		return &Ping{Nonce: getString(obj, "nonce")}, nil
	case KindPong:
		return &Pong{Nonce: getString(obj, "nonce")}, nil
	default:
		return nil, errors.ErrUnknownKind
	}
}

func eventFromBody(obj map[string]interface{}) (*Event, error) {
	ev := &Event{
		Direction: int(getInt(obj, "direction")),
		Type:      getString(obj, "type"),
		Payload:   getMap(obj, "payload"),
	}
	if raw := getString(obj, "rawBody"); raw != "" {
		body, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, errors.Wrap(err, "event rawBody")
		}
		ev.RawBody = body
	}
	return ev, nil
}

func updateFromBody(obj map[string]interface{}) (state.Update, error) {
	switch state.UpdateKind(getString(obj, "updateType")) {
	case state.UpdateFirstSync:
		snap := getMap(obj, "snapshot")
		return state.FirstSync(state.Snapshot(snap)), nil
	case state.UpdateDiff:
		raw, _ := normalizeTree(obj["patches"]).([]interface{})
		patches := make([]state.Patch, 0, len(raw))
		for _, r := range raw {
			m, ok := r.(map[string]interface{})
			if !ok {
				return state.Update{}, errors.New("malformed patch entry")
			}
			p, err := state.PatchFromWire(m)
			if err != nil {
				return state.Update{}, err
			}
			patches = append(patches, p)
		}
		return state.DiffUpdate(patches), nil
	case state.UpdateNoChange:
		return state.NoChange(), nil
	default:
		return state.Update{}, errors.New("unknown updateType")
	}
}

func getString(obj map[string]interface{}, key string) string {
	s, _ := obj[key].(string)
	return s
}

func getBool(obj map[string]interface{}, key string) bool {
	b, _ := obj[key].(bool)
	return b
}

func getInt(obj map[string]interface{}, key string) int64 {
	switch v := obj[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case uint64:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	default:
		return 0
	}
}

func getMap(obj map[string]interface{}, key string) map[string]interface{} {
	m, _ := normalizeTree(obj[key]).(map[string]interface{})
	return m
}
