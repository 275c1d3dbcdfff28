package land

import (
	"sync"

	"go.uber.org/zap"

	"github.com/gmliao/landnet/internal/metrics"
	"github.com/gmliao/landnet/internal/protocol"
	"github.com/gmliao/landnet/internal/transport"
	"github.com/gmliao/landnet/pkg/auth"
)

// Router is the transport delegate for multi-land setups. A session's first
// join selects its land; the binding is permanent for the session's lifetime
// and every later frame is forwarded to the bound adapter unchanged.
type Router struct {
	manager *Manager
	types   *TypeRegistry
	tr      transport.Transport
	log     *zap.Logger

	mu       sync.Mutex
	bindings map[transport.SessionID]*Container
	pending  map[transport.SessionID]connContext
}

func NewRouter(manager *Manager, types *TypeRegistry, tr transport.Transport, log *zap.Logger) *Router {
	r := &Router{
		manager:  manager,
		types:    types,
		tr:       tr,
		log:      log,
		bindings: make(map[transport.SessionID]*Container),
		pending:  make(map[transport.SessionID]connContext),
	}
	tr.SetDelegate(r)
	return r
}

// OnConnect stores the connection context until the first join picks a land.
func (r *Router) OnConnect(sessionID transport.SessionID, clientID transport.ClientID, authInfo *auth.AuthenticatedInfo) {
	r.mu.Lock()
	r.pending[sessionID] = connContext{clientID: clientID, authInfo: authInfo}
	r.mu.Unlock()
	r.log.Debug("session connected",
		zap.String("session", string(sessionID)),
		zap.String("client", string(clientID)))
}

// OnMessage routes one inbound frame. Unbound sessions accept only joins;
// bound sessions forward raw frames, except a join naming a different land,
// which is rejected without touching the binding.
func (r *Router) OnMessage(data []byte, sessionID transport.SessionID) {
	r.mu.Lock()
	bound := r.bindings[sessionID]
	r.mu.Unlock()

	msg, enc, err := protocol.DecodeAny(data)
	if err != nil {
		metrics.DecodeErrors.WithLabelValues("malformed").Inc()
		r.log.Warn("dropping malformed frame",
			zap.String("session", string(sessionID)), zap.Error(err))
		return
	}

	if bound != nil {
		if join, ok := msg.(*protocol.Join); ok && !r.sameLand(bound.LandID, join) {
			r.reject(sessionID, enc, join, "already-bound", "already_bound")
			return
		}
		bound.Adapter.OnMessage(data, sessionID)
		return
	}

	join, ok := msg.(*protocol.Join)
	if !ok {
		r.log.Warn("frame before join",
			zap.String("session", string(sessionID)),
			zap.String("kind", string(msg.MessageKind())))
		return
	}

	def, err := r.types.Get(join.LandType)
	if err != nil {
		r.reject(sessionID, enc, join, "unknown-land-type", "unknown_type")
		return
	}
	instance := join.LandInstanceID
	if instance == "" {
		instance = DefaultInstance
	}
	landID := ID{Type: join.LandType, Instance: instance}
	c := r.manager.GetOrCreateLand(landID, def, nil)

	r.mu.Lock()
	ctx := r.pending[sessionID]
	delete(r.pending, sessionID)
	r.bindings[sessionID] = c
	r.mu.Unlock()

	c.Adapter.RegisterConnection(sessionID, ctx.clientID, ctx.authInfo)
	c.Adapter.OnMessage(data, sessionID)
}

// OnDisconnect forwards to the bound adapter and clears the binding.
func (r *Router) OnDisconnect(sessionID transport.SessionID, clientID transport.ClientID) {
	r.mu.Lock()
	bound := r.bindings[sessionID]
	delete(r.bindings, sessionID)
	delete(r.pending, sessionID)
	r.mu.Unlock()
	if bound != nil {
		bound.Adapter.OnDisconnect(sessionID, clientID)
	}
}

// BoundLand returns the land a session is bound to, if any.
func (r *Router) BoundLand(sessionID transport.SessionID) (ID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.bindings[sessionID]; ok {
		return c.LandID, true
	}
	return ID{}, false
}

func (r *Router) sameLand(id ID, join *protocol.Join) bool {
	if join.LandType != id.Type {
		return false
	}
	instance := join.LandInstanceID
	if instance == "" {
		instance = DefaultInstance
	}
	return instance == id.Instance
}

// reject answers a join directly, encoded to match the frame that carried it.
func (r *Router) reject(sessionID transport.SessionID, enc protocol.Encoding, join *protocol.Join, reason, outcome string) {
	c, err := protocol.NewCodec(enc)
	if err != nil {
		c = protocol.MustCodec(protocol.EncodingJSON)
	}
	data, err := c.Encode(&protocol.JoinResponse{
		RequestID:      join.RequestID,
		Success:        false,
		LandType:       join.LandType,
		LandInstanceID: join.LandInstanceID,
		Reason:         reason,
	})
	if err != nil {
		r.log.Error("encode join rejection failed", zap.Error(err))
		return
	}
	if err := r.tr.Send(data, transport.ToSession(sessionID)); err != nil {
		r.log.Warn("send join rejection failed",
			zap.String("session", string(sessionID)), zap.Error(err))
		return
	}
	metrics.FramesSent.WithLabelValues(string(protocol.KindJoinResponse)).Inc()
	metrics.Joins.WithLabelValues(outcome).Inc()
	r.log.Warn("join rejected",
		zap.String("session", string(sessionID)),
		zap.String("landType", join.LandType),
		zap.String("reason", reason))
}
