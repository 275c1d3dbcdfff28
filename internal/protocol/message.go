package protocol

import (
	"github.com/gmliao/landnet/internal/state"
)

// Kind identifies a transport message.
type Kind string

const (
	KindJoin         Kind = "join"
	KindJoinResponse Kind = "joinResponse"
	KindEvent        Kind = "event"
	KindAction       Kind = "action"
	KindStateUpdate  Kind = "stateUpdate"
	KindPing         Kind = "ping"
	KindPong         Kind = "pong"
)

// Opcode numbers for the positional array form.
const (
	OpcodeAction       = 101
	OpcodeEvent        = 103
	OpcodeJoin         = 104
	OpcodeJoinResponse = 105
	OpcodeStateUpdate  = 107 // stateUpdate with bundled broadcast events
)

// Event directions.
const (
	DirectionFromClient = 0
	DirectionFromServer = 1
)

// Message is the sum type every codec encodes and decodes.
type Message interface {
	MessageKind() Kind
}

// Join asks to enter a land. LandInstanceID, PlayerID, DeviceID and Metadata
// are optional; missing identity fields are merged from the connection's
// AuthenticatedInfo or a guest identity.
type Join struct {
	RequestID      string
	LandType       string
	LandInstanceID string
	PlayerID       string
	DeviceID       string
	Metadata       map[string]interface{}
}

func (*Join) MessageKind() Kind { return KindJoin }

// JoinResponse answers a Join.
type JoinResponse struct {
	RequestID      string
	Success        bool
	LandType       string
	LandInstanceID string
	PlayerSlot     int
	Encoding       string
	Reason         string
}

func (*JoinResponse) MessageKind() Kind { return KindJoinResponse }

// Event is a typed client or server event. Payload is the structured body;
// RawBody optionally carries the body pre-encoded in some other codec (used
// by the relay), in which case bundling may need a re-encode.
type Event struct {
	Direction int
	Type      string
	Payload   map[string]interface{}
	RawBody   []byte
}

func (*Event) MessageKind() Kind { return KindEvent }

// Action is an opaque request/response invocation with a base64 byte payload.
type Action struct {
	RequestID      string
	TypeIdentifier string
	Payload        []byte
}

func (*Action) MessageKind() Kind { return KindAction }

// StateUpdate carries one state.Update. In the opcode form it is always
// opcode 107; broadcast events emitted in the same cycle may ride along in
// Bundled.
type StateUpdate struct {
	Update  state.Update
	Bundled []*Event
}

func (*StateUpdate) MessageKind() Kind { return KindStateUpdate }

// Ping / Pong keepalive frames.
type Ping struct {
	Nonce string
}

func (*Ping) MessageKind() Kind { return KindPing }

type Pong struct {
	Nonce string
}

func (*Pong) MessageKind() Kind { return KindPong }
