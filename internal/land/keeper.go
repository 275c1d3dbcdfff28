package land

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gmliao/landnet/internal/metrics"
	"github.com/gmliao/landnet/internal/protocol"
	"github.com/gmliao/landnet/internal/state"
	"github.com/gmliao/landnet/internal/transport"
	"github.com/gmliao/landnet/pkg/errors"
)

// eventSink receives server events produced by rules after their chain
// commits. The adapter implements it.
type eventSink interface {
	SendEvent(ev *protocol.Event, target transport.SendTarget)
}

// JoinResult is what a successful keeper join hands back to the adapter.
type JoinResult struct {
	PlayerID   transport.PlayerID
	PlayerSlot int
	Snapshot   state.Snapshot
}

// Keeper owns one land's authoritative state. All mutation goes through
// rules run against a staged copy; a rule error rolls the whole chain back.
// A single mutex serializes every operation.
type Keeper struct {
	mu sync.Mutex

	landID ID
	def    *Definition
	log    *zap.Logger

	st       map[string]interface{}
	dirty    bool
	sink     eventSink
	sessions map[transport.SessionID]transport.PlayerID
	slots    map[transport.PlayerID]int
	nextSlot int

	onFatal   func()
	fatalOnce sync.Once

	createdAt time.Time
}

func NewKeeper(landID ID, def *Definition, initial map[string]interface{}, log *zap.Logger) *Keeper {
	st := initial
	if st == nil && def.InitialState != nil {
		st = def.InitialState()
	}
	if st == nil {
		st = make(map[string]interface{})
	}
	return &Keeper{
		landID:    landID,
		def:       def,
		log:       log.With(zap.String("land", landID.String())),
		st:        state.Normalize(st).(map[string]interface{}),
		sessions:  make(map[transport.SessionID]transport.PlayerID),
		slots:     make(map[transport.PlayerID]int),
		createdAt: time.Now(),
	}
}

// SetTransport wires the sink that receives rule-emitted server events.
func (k *Keeper) SetTransport(sink eventSink) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.sink = sink
}

// SetOnFatal registers the teardown hook fired when a rule panics. The hook
// runs at most once, on its own goroutine, with no keeper lock held.
func (k *Keeper) SetOnFatal(fn func()) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.onFatal = fn
}

// runRules executes a rule chain, converting a panic into ErrLandFatal and
// scheduling the land's teardown. Caller holds k.mu.
func (k *Keeper) runRules(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			k.log.Error("rule panicked", zap.Any("panic", r), zap.Stack("stack"))
			fatal := k.onFatal
			k.fatalOnce.Do(func() {
				if fatal != nil {
					go fatal()
				}
			})
			err = errors.ErrLandFatal
		}
	}()
	return fn()
}

// CurrentState returns a deep copy of the authoritative state.
func (k *Keeper) CurrentState() map[string]interface{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	return state.Clone(k.st).(map[string]interface{})
}

// Join runs the join rules and registers the session. A session may join at
// most once; a second join fails with ErrAlreadyJoined. A player rejoining
// on a new session keeps their previous slot.
func (k *Keeper) Join(ps *PlayerSession, clientID transport.ClientID, sessionID transport.SessionID) (*JoinResult, error) {
	k.mu.Lock()
	if _, ok := k.sessions[sessionID]; ok {
		k.mu.Unlock()
		return nil, errors.ErrAlreadyJoined
	}

	ctx := &Context{
		PlayerID:  ps.PlayerID,
		ClientID:  clientID,
		SessionID: sessionID,
		Services:  k.def.Services,
	}
	staged := state.Clone(k.st).(map[string]interface{})
	if err := k.runRules(func() error {
		for _, rule := range k.def.OnJoin {
			if err := rule(staged, ctx); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		k.mu.Unlock()
		metrics.RuleErrors.Inc()
		return nil, err
	}
	k.commit(staged)

	k.sessions[sessionID] = ps.PlayerID
	slot, ok := k.slots[ps.PlayerID]
	if !ok {
		slot = k.nextSlot
		k.nextSlot++
		k.slots[ps.PlayerID] = slot
	}
	snapshot := state.NewSnapshot(k.def.Schema.FilterForPlayer(k.st, string(ps.PlayerID)))
	sink, emitted := k.sink, ctx.staged
	k.mu.Unlock()

	k.dispatch(sink, emitted)
	return &JoinResult{PlayerID: ps.PlayerID, PlayerSlot: slot, Snapshot: snapshot}, nil
}

// Leave runs the leave rules and removes the session. Unknown sessions are a
// no-op, so disconnect paths can call it unconditionally. Rule errors are
// logged; the session is removed regardless.
func (k *Keeper) Leave(sessionID transport.SessionID) {
	k.mu.Lock()
	playerID, ok := k.sessions[sessionID]
	if !ok {
		k.mu.Unlock()
		return
	}

	ctx := &Context{
		PlayerID:  playerID,
		SessionID: sessionID,
		Services:  k.def.Services,
	}
	staged := state.Clone(k.st).(map[string]interface{})
	failed := false
	if err := k.runRules(func() error {
		for _, rule := range k.def.OnLeave {
			if err := rule(staged, ctx); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		k.log.Warn("leave rule failed", zap.String("session", string(sessionID)), zap.Error(err))
		metrics.RuleErrors.Inc()
		failed = true
	}
	if !failed {
		k.commit(staged)
	}
	delete(k.sessions, sessionID)
	sink, emitted := k.sink, ctx.staged
	k.mu.Unlock()

	if !failed {
		k.dispatch(sink, emitted)
	}
}

// HandleClientEvent runs every rule registered for the event's type against
// a staged copy of the state. Any rule error discards the staged state and
// all staged events.
func (k *Keeper) HandleClientEvent(sessionID transport.SessionID, ev *protocol.Event) error {
	k.mu.Lock()
	playerID, ok := k.sessions[sessionID]
	if !ok {
		k.mu.Unlock()
		return errors.ErrNotJoined
	}
	rules, ok := k.def.Rules[ev.Type]
	if !ok {
		k.mu.Unlock()
		return errors.ErrUnregisteredEvent
	}

	ctx := &Context{
		PlayerID:  playerID,
		SessionID: sessionID,
		Services:  k.def.Services,
	}
	staged := state.Clone(k.st).(map[string]interface{})
	if err := k.runRules(func() error {
		for _, rule := range rules {
			if err := rule(staged, ev, ctx); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		k.mu.Unlock()
		metrics.RuleErrors.Inc()
		return err
	}
	k.commit(staged)
	sink, emitted := k.sink, ctx.staged
	k.mu.Unlock()

	k.dispatch(sink, emitted)
	return nil
}

// SubscribeStateUpdates computes the update owed to a session given the last
// snapshot it acknowledged. A nil snapshot yields a first sync.
func (k *Keeper) SubscribeStateUpdates(sessionID transport.SessionID, last state.Snapshot) (state.Update, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	playerID, ok := k.sessions[sessionID]
	if !ok {
		return state.Update{}, errors.ErrNotJoined
	}
	cur := state.NewSnapshot(k.def.Schema.FilterForPlayer(k.st, string(playerID)))
	if last == nil {
		return state.FirstSync(cur), nil
	}
	patches := state.Diff(last, cur)
	if len(patches) == 0 {
		return state.NoChange(), nil
	}
	return state.DiffUpdate(patches), nil
}

// ConsumeDirty reports whether state changed since the last call and resets
// the flag.
func (k *Keeper) ConsumeDirty() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	d := k.dirty
	k.dirty = false
	return d
}

func (k *Keeper) Dirty() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.dirty
}

func (k *Keeper) PlayerCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.sessions)
}

func (k *Keeper) Sessions() []transport.SessionID {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]transport.SessionID, 0, len(k.sessions))
	for id := range k.sessions {
		out = append(out, id)
	}
	return out
}

func (k *Keeper) CreatedAt() time.Time {
	return k.createdAt
}

// commit swaps the staged state in, marking the keeper dirty only when the
// state actually changed. Rule output is normalized so diffs always carry
// canonical values. Caller holds k.mu.
func (k *Keeper) commit(staged map[string]interface{}) {
	norm := state.Normalize(staged).(map[string]interface{})
	if !state.Equal(k.st, norm) {
		k.st = norm
		k.dirty = true
	}
}

// dispatch delivers staged events outside the keeper lock so the sink is
// free to take its own.
func (k *Keeper) dispatch(sink eventSink, staged []stagedEvent) {
	if sink == nil {
		if len(staged) > 0 {
			k.log.Warn("staged events dropped, no transport bound", zap.Int("count", len(staged)))
		}
		return
	}
	for _, se := range staged {
		sink.SendEvent(se.event, se.target)
	}
}
