package transport

import (
	"context"
	"sync"

	"github.com/gmliao/landnet/pkg/auth"
	"github.com/gmliao/landnet/pkg/errors"
)

// Memory is an in-process transport. It records every outbound frame per
// session in enqueue order, which makes it the reference harness for the
// ordering guarantees (join-response before first-sync, no diff leaks) and
// the backing transport for embedded single-process setups.
type Memory struct {
	mu       sync.Mutex
	delegate Delegate
	sessions map[SessionID]ClientID
	frames   map[SessionID][][]byte

	// OnSend, when set, runs synchronously after a frame is recorded. Tests
	// use it to provoke reentrant sync cycles between two enqueues.
	OnSend func(data []byte, target SendTarget)
}

// NewMemory creates an empty in-process transport.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[SessionID]ClientID),
		frames:   make(map[SessionID][][]byte),
	}
}

func (m *Memory) SetDelegate(d Delegate) {
	m.mu.Lock()
	m.delegate = d
	m.mu.Unlock()
}

func (m *Memory) Start(context.Context) error { return nil }

func (m *Memory) Stop(context.Context) error {
	m.mu.Lock()
	sessions := make(map[SessionID]ClientID, len(m.sessions))
	for s, c := range m.sessions {
		sessions[s] = c
	}
	d := m.delegate
	m.mu.Unlock()
	for s, c := range sessions {
		if d != nil {
			d.OnDisconnect(s, c)
		}
	}
	return nil
}

// Connect registers a session and notifies the delegate.
func (m *Memory) Connect(sessionID SessionID, clientID ClientID, authInfo *auth.AuthenticatedInfo) {
	m.mu.Lock()
	m.sessions[sessionID] = clientID
	d := m.delegate
	m.mu.Unlock()
	if d != nil {
		d.OnConnect(sessionID, clientID, authInfo)
	}
}

// Deliver hands an inbound frame to the delegate as if it arrived on the wire.
func (m *Memory) Deliver(data []byte, sessionID SessionID) {
	m.mu.Lock()
	d := m.delegate
	m.mu.Unlock()
	if d != nil {
		d.OnMessage(data, sessionID)
	}
}

// Disconnect drops a session and notifies the delegate.
func (m *Memory) Disconnect(sessionID SessionID) {
	m.mu.Lock()
	clientID, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	d := m.delegate
	m.mu.Unlock()
	if ok && d != nil {
		d.OnDisconnect(sessionID, clientID)
	}
}

func (m *Memory) Send(data []byte, target SendTarget) error {
	m.mu.Lock()
	var recorded []SessionID
	switch target.Kind {
	case TargetSession:
		if _, ok := m.sessions[target.Session]; !ok {
			m.mu.Unlock()
			return errors.New("unknown session")
		}
		recorded = append(recorded, target.Session)
	case TargetClient:
		for s, c := range m.sessions {
			if c == target.Client {
				recorded = append(recorded, s)
			}
		}
	case TargetBroadcast:
		for s := range m.sessions {
			recorded = append(recorded, s)
		}
	case TargetPlayer:
		m.mu.Unlock()
		return errors.New("player targets must be expanded by the adapter")
	}
	for _, s := range recorded {
		m.frames[s] = append(m.frames[s], data)
	}
	hook := m.OnSend
	m.mu.Unlock()

	if hook != nil {
		hook(data, target)
	}
	return nil
}

// FramesFor returns the frames recorded for a session, in enqueue order.
func (m *Memory) FramesFor(sessionID SessionID) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.frames[sessionID]))
	copy(out, m.frames[sessionID])
	return out
}

// Reset clears recorded frames but keeps connected sessions.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.frames = make(map[SessionID][][]byte)
	m.mu.Unlock()
}
