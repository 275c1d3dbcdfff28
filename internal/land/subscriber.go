package land

import (
	"github.com/gmliao/landnet/internal/protocol"
	"github.com/gmliao/landnet/internal/state"
	"github.com/gmliao/landnet/internal/transport"
	"github.com/gmliao/landnet/pkg/auth"
)

// subscriber is the per-session record the adapter keeps. Access is
// serialized by the adapter's mutex.
type subscriber struct {
	sessionID transport.SessionID
	clientID  transport.ClientID
	playerID  transport.PlayerID
	authInfo  *auth.AuthenticatedInfo

	joined         bool
	initialSyncing bool
	playerSlot     int
	lastSnapshot   state.Snapshot
	encoding       protocol.EncodingConfig
}

// registry indexes subscribers by session, client, and player. It has no
// lock of its own; the owning adapter serializes all access.
type registry struct {
	bySession map[transport.SessionID]*subscriber
	byClient  map[transport.ClientID]*subscriber
	byPlayer  map[transport.PlayerID]map[transport.SessionID]*subscriber
}

func newRegistry() *registry {
	return &registry{
		bySession: make(map[transport.SessionID]*subscriber),
		byClient:  make(map[transport.ClientID]*subscriber),
		byPlayer:  make(map[transport.PlayerID]map[transport.SessionID]*subscriber),
	}
}

func (r *registry) add(sub *subscriber) {
	r.bySession[sub.sessionID] = sub
	if sub.clientID != "" {
		r.byClient[sub.clientID] = sub
	}
}

func (r *registry) session(id transport.SessionID) *subscriber {
	return r.bySession[id]
}

func (r *registry) client(id transport.ClientID) *subscriber {
	return r.byClient[id]
}

// bindPlayer records the player identity once a join succeeds.
func (r *registry) bindPlayer(sub *subscriber, playerID transport.PlayerID) {
	sub.playerID = playerID
	sessions, ok := r.byPlayer[playerID]
	if !ok {
		sessions = make(map[transport.SessionID]*subscriber)
		r.byPlayer[playerID] = sessions
	}
	sessions[sub.sessionID] = sub
}

func (r *registry) playerSessions(id transport.PlayerID) []*subscriber {
	sessions := r.byPlayer[id]
	out := make([]*subscriber, 0, len(sessions))
	for _, sub := range sessions {
		out = append(out, sub)
	}
	return out
}

func (r *registry) remove(id transport.SessionID) *subscriber {
	sub, ok := r.bySession[id]
	if !ok {
		return nil
	}
	delete(r.bySession, id)
	if sub.clientID != "" {
		delete(r.byClient, sub.clientID)
	}
	if sub.playerID != "" {
		if sessions := r.byPlayer[sub.playerID]; sessions != nil {
			delete(sessions, id)
			if len(sessions) == 0 {
				delete(r.byPlayer, sub.playerID)
			}
		}
	}
	return sub
}

// each visits every subscriber. Mutating the registry inside fn is not
// allowed.
func (r *registry) each(fn func(*subscriber)) {
	for _, sub := range r.bySession {
		fn(sub)
	}
}

func (r *registry) joinedCount() int {
	n := 0
	for _, sub := range r.bySession {
		if sub.joined {
			n++
		}
	}
	return n
}
