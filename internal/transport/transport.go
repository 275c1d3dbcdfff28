package transport

import (
	"context"

	"github.com/gmliao/landnet/pkg/auth"
)

// Identifiers are opaque strings, equatable and ordered by bytes.
type (
	// SessionID names one transport connection instance.
	SessionID string
	// ClientID names a client device identity, stable across reconnect.
	ClientID string
	// PlayerID names an application-level actor; it may span clients.
	PlayerID string
)

// TargetKind discriminates send targets.
type TargetKind int

const (
	TargetBroadcast TargetKind = iota
	TargetSession
	TargetClient
	TargetPlayer
)

// SendTarget addresses an outbound frame. Player targets are expanded into
// session targets by the adapter before they reach a transport.
type SendTarget struct {
	Kind    TargetKind
	Session SessionID
	Client  ClientID
	Player  PlayerID
}

func Broadcast() SendTarget { return SendTarget{Kind: TargetBroadcast} }

func ToSession(id SessionID) SendTarget { return SendTarget{Kind: TargetSession, Session: id} }

func ToClient(id ClientID) SendTarget { return SendTarget{Kind: TargetClient, Client: id} }

func ToPlayer(id PlayerID) SendTarget { return SendTarget{Kind: TargetPlayer, Player: id} }

// Delegate receives transport lifecycle callbacks. The land router implements
// this and fans sessions across lands.
type Delegate interface {
	OnConnect(sessionID SessionID, clientID ClientID, authInfo *auth.AuthenticatedInfo)
	OnMessage(data []byte, sessionID SessionID)
	OnDisconnect(sessionID SessionID, clientID ClientID)
}

// Transport moves opaque frames between sessions and the land runtime.
type Transport interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(data []byte, target SendTarget) error
	SetDelegate(d Delegate)
}
