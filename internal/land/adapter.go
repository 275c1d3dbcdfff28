package land

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gmliao/landnet/internal/metrics"
	"github.com/gmliao/landnet/internal/protocol"
	"github.com/gmliao/landnet/internal/state"
	"github.com/gmliao/landnet/internal/transport"
	"github.com/gmliao/landnet/pkg/auth"
	"github.com/gmliao/landnet/pkg/errors"
)

// DefaultJoinTimeout bounds the join handshake when no timeout is configured.
const DefaultJoinTimeout = 5 * time.Second

// SessionCloser is implemented by transports that can drop one session.
type SessionCloser interface {
	CloseSession(sessionID transport.SessionID)
}

// AdapterOptions tune one adapter. Zero values fall back to JSON object
// frames and the default join timeout.
type AdapterOptions struct {
	Encoding         protocol.EncodingConfig
	JoinTimeout      time.Duration
	EnableLegacyJoin bool
}

// outFrame is one encoded frame waiting in the adapter's outbound queue.
type outFrame struct {
	data   []byte
	target transport.SendTarget
	kind   protocol.Kind
}

// Adapter connects one keeper to a transport. It owns the subscriber
// registry, the join handshake, diff fan-out and event delivery. All
// bookkeeping runs under one mutex; frames are enqueued inside that mutex
// and handed to the transport by a single active flusher outside it, so
// per-session outbound order matches enqueue order.
type Adapter struct {
	landID  ID
	keeper  *Keeper
	tr      transport.Transport
	log     *zap.Logger
	opts    AdapterOptions
	subs    *registry
	onEmpty func()

	mu               sync.Mutex
	pendingBroadcast []*protocol.Event
	outQueue         []outFrame
	flushing         bool
}

func NewAdapter(landID ID, keeper *Keeper, tr transport.Transport, log *zap.Logger, opts AdapterOptions) *Adapter {
	if opts.Encoding.Message == nil {
		opts.Encoding = protocol.DefaultEncodingConfig()
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	a := &Adapter{
		landID: landID,
		keeper: keeper,
		tr:     tr,
		log:    log.With(zap.String("land", landID.String())),
		opts:   opts,
		subs:   newRegistry(),
	}
	keeper.SetTransport(a)
	return a
}

// SetOnEmpty registers a callback fired after the last joined session leaves.
func (a *Adapter) SetOnEmpty(fn func()) {
	a.mu.Lock()
	a.onEmpty = fn
	a.mu.Unlock()
}

// RegisterConnection records a connection before its first join. Routers call
// this when they bind a session to this land.
func (a *Adapter) RegisterConnection(sessionID transport.SessionID, clientID transport.ClientID, authInfo *auth.AuthenticatedInfo) {
	a.mu.Lock()
	if a.subs.session(sessionID) == nil {
		a.subs.add(&subscriber{
			sessionID: sessionID,
			clientID:  clientID,
			authInfo:  authInfo,
			encoding:  a.opts.Encoding,
		})
	}
	a.mu.Unlock()
}

// OnConnect implements transport.Delegate for adapters wired directly to a
// transport. With legacy join enabled the connection is joined immediately
// under a guest identity, no join frame required.
func (a *Adapter) OnConnect(sessionID transport.SessionID, clientID transport.ClientID, authInfo *auth.AuthenticatedInfo) {
	a.RegisterConnection(sessionID, clientID, authInfo)
	if a.opts.EnableLegacyJoin {
		a.handleJoin(sessionID, &protocol.Join{LandType: a.landID.Type, LandInstanceID: a.landID.Instance})
	}
}

// OnMessage implements transport.Delegate.
func (a *Adapter) OnMessage(data []byte, sessionID transport.SessionID) {
	a.mu.Lock()
	sub := a.subs.session(sessionID)
	a.mu.Unlock()
	if sub == nil {
		a.log.Warn("frame from unknown session", zap.String("session", string(sessionID)))
		return
	}

	msg, _, err := protocol.DecodeAny(data)
	if err != nil {
		metrics.DecodeErrors.WithLabelValues("malformed").Inc()
		a.log.Warn("dropping malformed frame",
			zap.String("session", string(sessionID)), zap.Error(err))
		return
	}

	switch m := msg.(type) {
	case *protocol.Join:
		a.handleJoin(sessionID, m)
	case *protocol.Event:
		a.handleClientEvent(sessionID, m)
	case *protocol.Ping:
		a.sendTo(sessionID, &protocol.Pong{Nonce: m.Nonce})
		a.flush()
	case *protocol.Action:
		a.handleAction(sessionID, m)
	default:
		metrics.DecodeErrors.WithLabelValues("unexpected_kind").Inc()
		a.log.Warn("dropping unexpected message kind",
			zap.String("session", string(sessionID)), zap.String("kind", string(msg.MessageKind())))
	}
}

// OnDisconnect implements transport.Delegate. It is idempotent.
func (a *Adapter) OnDisconnect(sessionID transport.SessionID, _ transport.ClientID) {
	a.mu.Lock()
	sub := a.subs.remove(sessionID)
	wasJoined := sub != nil && sub.joined
	onEmpty := a.onEmpty
	empty := a.subs.joinedCount() == 0
	a.mu.Unlock()
	if sub == nil {
		return
	}

	a.keeper.Leave(sessionID)
	if wasJoined {
		metrics.JoinedSessions.Dec()
		a.maybeSync()
		if empty && onEmpty != nil {
			onEmpty()
		}
	}
}

// SendEvent delivers a server event. Broadcast events sent while the keeper
// is dirty are held back and ride in the next sync cycle, bundled into the
// opcode-107 frame where the subscriber's update codec supports it.
func (a *Adapter) SendEvent(ev *protocol.Event, target transport.SendTarget) {
	ev.Direction = protocol.DirectionFromServer
	if target.Kind == transport.TargetBroadcast && a.keeper.Dirty() {
		a.mu.Lock()
		a.pendingBroadcast = append(a.pendingBroadcast, ev)
		a.mu.Unlock()
		return
	}

	a.mu.Lock()
	for _, sub := range a.resolveTargets(target) {
		a.enqueueLocked(sub, sub.encoding.Message, ev)
	}
	a.mu.Unlock()
	a.flush()
}

// SyncNow pushes the state owed to every joined subscriber. Subscribers still
// inside their join handshake are skipped; their first sync already reflects
// the current state.
func (a *Adapter) SyncNow() {
	a.mu.Lock()
	pending := a.pendingBroadcast
	a.pendingBroadcast = nil
	a.subs.each(func(sub *subscriber) {
		if !sub.joined || sub.initialSyncing {
			return
		}
		a.syncSubscriberLocked(sub, pending)
	})
	a.mu.Unlock()
	a.flush()
}

// IsJoined reports whether the session completed its join handshake.
func (a *Adapter) IsJoined(sessionID transport.SessionID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	sub := a.subs.session(sessionID)
	return sub != nil && sub.joined
}

// JoinedCount returns the number of sessions past their join handshake.
func (a *Adapter) JoinedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.subs.joinedCount()
}

// Teardown disconnects every session, notifying each with a server event
// carrying the reason first.
func (a *Adapter) Teardown(reason string) {
	a.mu.Lock()
	sessions := make([]transport.SessionID, 0, len(a.subs.bySession))
	a.subs.each(func(sub *subscriber) {
		sessions = append(sessions, sub.sessionID)
		if sub.joined {
			a.enqueueLocked(sub, sub.encoding.Message, &protocol.Event{
				Direction: protocol.DirectionFromServer,
				Type:      "land:removed",
				Payload:   map[string]interface{}{"reason": reason},
			})
		}
	})
	a.mu.Unlock()
	a.flush()
	for _, s := range sessions {
		a.closeSession(s)
		a.OnDisconnect(s, "")
	}
}

func (a *Adapter) handleJoin(sessionID transport.SessionID, join *protocol.Join) {
	a.mu.Lock()
	sub := a.subs.session(sessionID)
	if sub == nil {
		sub = &subscriber{sessionID: sessionID, encoding: a.opts.Encoding}
		a.subs.add(sub)
	}
	if sub.joined {
		a.enqueueLocked(sub, sub.encoding.Message, a.failureResponse(join, "duplicate-join"))
		a.mu.Unlock()
		a.flush()
		metrics.Joins.WithLabelValues("duplicate").Inc()
		return
	}
	if join.LandType != "" && join.LandType != a.landID.Type {
		a.enqueueLocked(sub, sub.encoding.Message, a.failureResponse(join, "mismatched-land"))
		a.mu.Unlock()
		a.flush()
		metrics.Joins.WithLabelValues("mismatched").Inc()
		return
	}
	if join.LandInstanceID != "" && join.LandInstanceID != a.landID.Instance {
		a.enqueueLocked(sub, sub.encoding.Message, a.failureResponse(join, "mismatched-land"))
		a.mu.Unlock()
		a.flush()
		metrics.Joins.WithLabelValues("mismatched").Inc()
		return
	}
	ps := preparePlayerSession(join, sub.authInfo, sessionID)
	clientID := sub.clientID
	a.mu.Unlock()

	res, err := a.joinWithTimeout(ps, clientID, sessionID)
	if err != nil {
		a.mu.Lock()
		a.enqueueLocked(sub, sub.encoding.Message, a.failureResponse(join, joinFailureReason(err)))
		a.mu.Unlock()
		a.flush()
		if errors.Is(err, errors.ErrJoinTimeout) {
			metrics.Joins.WithLabelValues("timeout").Inc()
			a.closeSession(sessionID)
		} else {
			metrics.Joins.WithLabelValues("rejected").Inc()
		}
		return
	}

	// Both frames are enqueued in one critical section, so no diff can slip
	// between the join response and the first sync.
	a.mu.Lock()
	sub.joined = true
	sub.initialSyncing = true
	sub.playerSlot = res.PlayerSlot
	a.subs.bindPlayer(sub, res.PlayerID)
	a.enqueueLocked(sub, sub.encoding.Message, &protocol.JoinResponse{
		RequestID:      join.RequestID,
		Success:        true,
		LandType:       a.landID.Type,
		LandInstanceID: a.landID.Instance,
		PlayerSlot:     res.PlayerSlot,
		Encoding:       string(sub.encoding.StateUpdate.Encoding()),
	})
	a.enqueueLocked(sub, sub.encoding.StateUpdate, &protocol.StateUpdate{
		Update: state.FirstSync(res.Snapshot),
	})
	sub.lastSnapshot = res.Snapshot
	sub.initialSyncing = false
	a.mu.Unlock()
	a.flush()

	metrics.Joins.WithLabelValues("success").Inc()
	metrics.JoinedSessions.Inc()
	a.log.Info("session joined",
		zap.String("session", string(sessionID)),
		zap.String("player", string(res.PlayerID)),
		zap.Int("slot", res.PlayerSlot))

	// The join rules may have changed state visible to everyone else.
	a.maybeSync()
}

// joinWithTimeout runs the keeper join, bounding slow join rules. When the
// deadline fires the session is rejected; if the keeper commit lands later
// anyway, the session is peeled back out.
func (a *Adapter) joinWithTimeout(ps *PlayerSession, clientID transport.ClientID, sessionID transport.SessionID) (*JoinResult, error) {
	type outcome struct {
		res *JoinResult
		err error
	}
	done := make(chan outcome, 1)
	timer := time.NewTimer(a.opts.JoinTimeout)
	defer timer.Stop()

	go func() {
		res, err := a.keeper.Join(ps, clientID, sessionID)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-timer.C:
		// If the keeper commit lands after the deadline, peel the session
		// back out; the client already saw a failure.
		go func() {
			if o := <-done; o.err == nil {
				a.keeper.Leave(sessionID)
			}
		}()
		return nil, errors.ErrJoinTimeout
	}
}

func (a *Adapter) handleClientEvent(sessionID transport.SessionID, ev *protocol.Event) {
	ev.Direction = protocol.DirectionFromClient
	if err := a.keeper.HandleClientEvent(sessionID, ev); err != nil {
		if errors.Is(err, errors.ErrLandFatal) {
			// Teardown is already scheduled; every session is about to be
			// disconnected with reason "internal".
			a.log.Error("client event hit fatal rule",
				zap.String("session", string(sessionID)),
				zap.String("event", ev.Type))
			return
		}
		reason := "rule-error"
		switch {
		case errors.Is(err, errors.ErrNotJoined):
			reason = "not-joined"
		case errors.Is(err, errors.ErrUnregisteredEvent):
			reason = "unregistered-event"
		}
		a.sendTo(sessionID, &protocol.Event{
			Direction: protocol.DirectionFromServer,
			Type:      "error",
			Payload: map[string]interface{}{
				"reason":    reason,
				"eventType": ev.Type,
			},
		})
		a.flush()
		a.log.Warn("client event rejected",
			zap.String("session", string(sessionID)),
			zap.String("event", ev.Type),
			zap.Error(err))
		return
	}
	a.maybeSync()
}

func (a *Adapter) handleAction(sessionID transport.SessionID, act *protocol.Action) {
	// Actions are request/response invocations outside the state plane. No
	// handler table is wired yet, so acknowledge with an advisory event.
	a.sendTo(sessionID, &protocol.Event{
		Direction: protocol.DirectionFromServer,
		Type:      "error",
		Payload: map[string]interface{}{
			"reason":    "unsupported-action",
			"requestID": act.RequestID,
			"type":      act.TypeIdentifier,
		},
	})
	a.flush()
}

// maybeSync runs a sync cycle when the keeper accumulated changes.
func (a *Adapter) maybeSync() {
	if a.keeper.ConsumeDirty() {
		a.SyncNow()
		return
	}
	// Events held for bundling must not outlive the cycle that parked them.
	a.mu.Lock()
	hasPending := len(a.pendingBroadcast) > 0
	a.mu.Unlock()
	if hasPending {
		a.SyncNow()
	}
}

// syncSubscriberLocked computes and enqueues the update owed to one
// subscriber plus any held-back broadcast events. Caller holds a.mu.
func (a *Adapter) syncSubscriberLocked(sub *subscriber, pending []*protocol.Event) {
	upd, err := a.keeper.SubscribeStateUpdates(sub.sessionID, sub.lastSnapshot)
	if err != nil {
		a.log.Warn("sync skipped", zap.String("session", string(sub.sessionID)), zap.Error(err))
		return
	}
	if upd.Kind == state.UpdateNoChange && len(pending) == 0 {
		return
	}

	updCodec := sub.encoding.StateUpdate
	if updCodec.Bundles() {
		bundled := make([]*protocol.Event, 0, len(pending))
		var standalone []*protocol.Event
		for _, ev := range pending {
			prepped, perr := updCodec.PrepareBundledEvent(ev)
			if perr != nil {
				metrics.CodecFallbacks.Inc()
				a.log.Warn("bundled event fell back to standalone frame",
					zap.String("event", ev.Type), zap.Error(perr))
				standalone = append(standalone, ev)
				continue
			}
			bundled = append(bundled, prepped)
		}
		if upd.Kind != state.UpdateNoChange || len(bundled) > 0 {
			a.enqueueLocked(sub, updCodec, &protocol.StateUpdate{Update: upd, Bundled: bundled})
		}
		for _, ev := range standalone {
			a.enqueueLocked(sub, sub.encoding.Message, ev)
		}
	} else {
		if upd.Kind != state.UpdateNoChange {
			a.enqueueLocked(sub, updCodec, &protocol.StateUpdate{Update: upd})
		}
		for _, ev := range pending {
			a.enqueueLocked(sub, sub.encoding.Message, ev)
		}
	}

	switch upd.Kind {
	case state.UpdateFirstSync:
		sub.lastSnapshot = upd.Snapshot
	case state.UpdateDiff:
		next, aerr := state.Apply(sub.lastSnapshot, upd.Patches)
		if aerr != nil {
			a.log.Error("diff did not apply to tracked snapshot, forcing resync",
				zap.String("session", string(sub.sessionID)), zap.Error(aerr))
			sub.lastSnapshot = nil
			return
		}
		sub.lastSnapshot = next
	}
}

// resolveTargets expands a send target into concrete subscribers. Caller
// holds a.mu.
func (a *Adapter) resolveTargets(target transport.SendTarget) []*subscriber {
	switch target.Kind {
	case transport.TargetBroadcast:
		out := make([]*subscriber, 0, len(a.subs.bySession))
		a.subs.each(func(sub *subscriber) {
			if sub.joined {
				out = append(out, sub)
			}
		})
		return out
	case transport.TargetSession:
		if sub := a.subs.session(target.Session); sub != nil {
			return []*subscriber{sub}
		}
	case transport.TargetClient:
		if sub := a.subs.client(target.Client); sub != nil {
			return []*subscriber{sub}
		}
	case transport.TargetPlayer:
		return a.subs.playerSessions(target.Player)
	}
	return nil
}

// sendTo encodes and enqueues one message for a session with its message
// codec.
func (a *Adapter) sendTo(sessionID transport.SessionID, msg protocol.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sub := a.subs.session(sessionID)
	if sub == nil {
		return
	}
	a.enqueueLocked(sub, sub.encoding.Message, msg)
}

// enqueueLocked encodes msg and appends it to the outbound queue. Caller
// holds a.mu; the enqueue order under the mutex is the delivery order.
func (a *Adapter) enqueueLocked(sub *subscriber, c protocol.Codec, msg protocol.Message) {
	data, err := c.Encode(msg)
	if err != nil {
		a.log.Error("encode failed",
			zap.String("session", string(sub.sessionID)),
			zap.String("kind", string(msg.MessageKind())),
			zap.Error(err))
		return
	}
	a.outQueue = append(a.outQueue, outFrame{
		data:   data,
		target: transport.ToSession(sub.sessionID),
		kind:   msg.MessageKind(),
	})
}

// flush drains the outbound queue. Only one flusher runs at a time; frames
// enqueued while it drains are picked up before it returns. No locks are
// held across transport sends, so a transport callback may reenter the
// adapter freely.
func (a *Adapter) flush() {
	for {
		a.mu.Lock()
		if a.flushing || len(a.outQueue) == 0 {
			a.mu.Unlock()
			return
		}
		a.flushing = true
		batch := a.outQueue
		a.outQueue = nil
		a.mu.Unlock()

		for _, f := range batch {
			if err := a.tr.Send(f.data, f.target); err != nil {
				metrics.DroppedFrames.Inc()
				a.log.Warn("send failed",
					zap.String("session", string(f.target.Session)),
					zap.String("kind", string(f.kind)),
					zap.Error(err))
				continue
			}
			metrics.FramesSent.WithLabelValues(string(f.kind)).Inc()
		}

		a.mu.Lock()
		a.flushing = false
		more := len(a.outQueue) > 0
		a.mu.Unlock()
		if !more {
			return
		}
	}
}

func (a *Adapter) closeSession(sessionID transport.SessionID) {
	if closer, ok := a.tr.(SessionCloser); ok {
		closer.CloseSession(sessionID)
	}
}

func (a *Adapter) failureResponse(join *protocol.Join, reason string) *protocol.JoinResponse {
	return &protocol.JoinResponse{
		RequestID:      join.RequestID,
		Success:        false,
		LandType:       a.landID.Type,
		LandInstanceID: a.landID.Instance,
		Reason:         reason,
	}
}

func joinFailureReason(err error) string {
	switch {
	case errors.Is(err, errors.ErrAlreadyJoined):
		return "duplicate-join"
	case errors.Is(err, errors.ErrJoinTimeout):
		return "join-timeout"
	default:
		return "join-rejected"
	}
}

// preparePlayerSession layers the join identity: explicit join fields win,
// then the connection's token identity, then a generated guest.
func preparePlayerSession(join *protocol.Join, info *auth.AuthenticatedInfo, sessionID transport.SessionID) *PlayerSession {
	ps := &PlayerSession{
		PlayerID: transport.PlayerID(join.PlayerID),
		DeviceID: join.DeviceID,
		Metadata: make(map[string]interface{}),
	}
	if info != nil {
		if ps.PlayerID == "" {
			ps.PlayerID = transport.PlayerID(info.PlayerID)
		}
		if ps.DeviceID == "" {
			ps.DeviceID = info.DeviceID
		}
		for k, v := range info.Metadata {
			ps.Metadata[k] = v
		}
	}
	for k, v := range join.Metadata {
		ps.Metadata[k] = v
	}
	if ps.PlayerID == "" {
		ps.PlayerID = guestID(sessionID)
	}
	return ps
}

// guestID derives a stable guest identity for the lifetime of one session.
func guestID(sessionID transport.SessionID) transport.PlayerID {
	seed := string(sessionID)
	if len(seed) >= 8 {
		return transport.PlayerID("guest_" + seed[:8])
	}
	return transport.PlayerID("guest_" + uuid.NewString()[:8])
}
