package land

import (
	"sync"

	"github.com/gmliao/landnet/internal/protocol"
	"github.com/gmliao/landnet/internal/state"
	"github.com/gmliao/landnet/internal/transport"
	"github.com/gmliao/landnet/pkg/errors"
)

// Context carries the identity of the session that triggered a rule plus the
// land's shared services. Events emitted through Emit are staged and only
// dispatched after the rule chain commits.
type Context struct {
	PlayerID  transport.PlayerID
	ClientID  transport.ClientID
	SessionID transport.SessionID
	Services  map[string]interface{}

	staged []stagedEvent
}

type stagedEvent struct {
	event  *protocol.Event
	target transport.SendTarget
}

// Emit stages a server event for dispatch after the current rule chain
// commits. If the chain aborts, staged events are discarded with it.
func (c *Context) Emit(eventType string, payload map[string]interface{}, target transport.SendTarget) {
	c.staged = append(c.staged, stagedEvent{
		event: &protocol.Event{
			Direction: protocol.DirectionFromServer,
			Type:      eventType,
			Payload:   payload,
		},
		target: target,
	})
}

// JoinRule runs when a session joins. It mutates the staged state in place;
// an error aborts the join and rolls the state back.
type JoinRule func(st map[string]interface{}, ctx *Context) error

// LeaveRule runs when a session leaves. Errors are logged, not propagated;
// the session is removed regardless.
type LeaveRule func(st map[string]interface{}, ctx *Context) error

// EventRule handles one registered client event type. It mutates the staged
// state in place; an error aborts the whole chain and rolls the state back.
type EventRule func(st map[string]interface{}, ev *protocol.Event, ctx *Context) error

// Definition describes a land type: its initial state, sync schema, and the
// rule tables that give the runtime its behavior.
type Definition struct {
	LandType     string
	InitialState func() map[string]interface{}
	Schema       state.Schema
	OnJoin       []JoinRule
	OnLeave      []LeaveRule
	Rules        map[string][]EventRule
	Services     map[string]interface{}
}

// TypeRegistry maps land type names to their definitions. Registration
// normally happens at startup, lookups at join time.
type TypeRegistry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{defs: make(map[string]*Definition)}
}

func (r *TypeRegistry) Register(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.LandType] = def
}

func (r *TypeRegistry) Get(landType string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[landType]
	if !ok {
		return nil, errors.ErrUnknownLandType
	}
	return def, nil
}

func (r *TypeRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for t := range r.defs {
		out = append(out, t)
	}
	return out
}
