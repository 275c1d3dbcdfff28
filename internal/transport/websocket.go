package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gmliao/landnet/internal/metrics"
	"github.com/gmliao/landnet/pkg/auth"
	"github.com/gmliao/landnet/pkg/errors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 45 * time.Second
	maxMessageSize = 1 << 20
	sendBufferSize = 256
)

// WebSocketOptions configure the WebSocket transport.
type WebSocketOptions struct {
	// JWTSecret enables connect-time token validation when non-empty. The
	// token rides in the Sec-WebSocket-Protocol or Authorization header.
	JWTSecret string

	// AllowedOrigins whitelists upgrade origins. Empty allows all.
	AllowedOrigins []string
}

// wsClient is one connection with its buffered outgoing channel. Slow
// consumers get frames dropped rather than stalling the land runtime.
type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	sessionID SessionID
	clientID  ClientID
}

// WebSocket serves sessions over gorilla connections. It implements
// Transport and SessionCloser.
type WebSocket struct {
	log      *zap.Logger
	opts     WebSocketOptions
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	delegate Delegate
	clients  map[SessionID]*wsClient
	byClient map[ClientID]map[SessionID]*wsClient
	closed   bool
}

func NewWebSocket(log *zap.Logger, opts WebSocketOptions) *WebSocket {
	ws := &WebSocket{
		log:      log,
		opts:     opts,
		clients:  make(map[SessionID]*wsClient),
		byClient: make(map[ClientID]map[SessionID]*wsClient),
	}
	ws.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     ws.checkOrigin,
	}
	return ws
}

func (ws *WebSocket) SetDelegate(d Delegate) {
	ws.mu.Lock()
	ws.delegate = d
	ws.mu.Unlock()
}

func (ws *WebSocket) Start(context.Context) error { return nil }

func (ws *WebSocket) Stop(ctx context.Context) error {
	ws.mu.Lock()
	ws.closed = true
	clients := make([]*wsClient, 0, len(ws.clients))
	for _, c := range ws.clients {
		clients = append(clients, c)
	}
	ws.mu.Unlock()
	for _, c := range clients {
		ws.dropClient(c)
	}
	return nil
}

// Handler returns the HTTP handler that upgrades connections. The client id
// comes from the client_id query parameter, falling back to a generated one.
func (ws *WebSocket) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var authInfo *auth.AuthenticatedInfo
		if ws.opts.JWTSecret != "" {
			token := auth.TokenFromHeaders(r.Header.Get("Sec-WebSocket-Protocol"), r.Header.Get("Authorization"))
			if token != "" {
				info, err := auth.ParseToken(token, ws.opts.JWTSecret)
				if err != nil {
					ws.log.Warn("rejecting connection with bad token", zap.Error(err))
					http.Error(w, "invalid token", http.StatusUnauthorized)
					return
				}
				authInfo = info
			}
		}

		clientID := ClientID(r.URL.Query().Get("client_id"))
		if clientID == "" {
			clientID = ClientID("cli_" + uuid.NewString())
		}

		conn, err := ws.upgrader.Upgrade(w, r, nil)
		if err != nil {
			ws.log.Warn("upgrade failed", zap.Error(err))
			return
		}

		client := &wsClient{
			conn:      conn,
			send:      make(chan []byte, sendBufferSize),
			sessionID: SessionID(uuid.NewString()),
			clientID:  clientID,
		}

		ws.mu.Lock()
		if ws.closed {
			ws.mu.Unlock()
			conn.Close()
			return
		}
		ws.clients[client.sessionID] = client
		sessions, ok := ws.byClient[clientID]
		if !ok {
			sessions = make(map[SessionID]*wsClient)
			ws.byClient[clientID] = sessions
		}
		sessions[client.sessionID] = client
		d := ws.delegate
		ws.mu.Unlock()

		metrics.Connections.Inc()
		ws.log.Info("client connected",
			zap.String("session", string(client.sessionID)),
			zap.String("client", string(clientID)),
			zap.String("remote", r.RemoteAddr))

		go client.writePump(ws)
		go client.readPump(ws)

		if d != nil {
			d.OnConnect(client.sessionID, clientID, authInfo)
		}
	}
}

func (ws *WebSocket) Send(data []byte, target SendTarget) error {
	ws.mu.RLock()
	var targets []*wsClient
	switch target.Kind {
	case TargetSession:
		if c, ok := ws.clients[target.Session]; ok {
			targets = append(targets, c)
		}
	case TargetClient:
		for _, c := range ws.byClient[target.Client] {
			targets = append(targets, c)
		}
	case TargetBroadcast:
		for _, c := range ws.clients {
			targets = append(targets, c)
		}
	case TargetPlayer:
		ws.mu.RUnlock()
		return errors.New("player targets must be expanded by the adapter")
	}
	ws.mu.RUnlock()

	if target.Kind == TargetSession && len(targets) == 0 {
		return errors.New("unknown session")
	}
	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			metrics.DroppedFrames.Inc()
			ws.log.Warn("send buffer full, dropping frame",
				zap.String("session", string(c.sessionID)))
		}
	}
	return nil
}

// CloseSession implements land.SessionCloser.
func (ws *WebSocket) CloseSession(sessionID SessionID) {
	ws.mu.RLock()
	c := ws.clients[sessionID]
	ws.mu.RUnlock()
	if c != nil {
		ws.dropClient(c)
	}
}

func (ws *WebSocket) checkOrigin(r *http.Request) bool {
	if len(ws.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range ws.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// dropClient unregisters the connection and notifies the delegate once.
func (ws *WebSocket) dropClient(c *wsClient) {
	ws.mu.Lock()
	_, known := ws.clients[c.sessionID]
	delete(ws.clients, c.sessionID)
	if sessions := ws.byClient[c.clientID]; sessions != nil {
		delete(sessions, c.sessionID)
		if len(sessions) == 0 {
			delete(ws.byClient, c.clientID)
		}
	}
	d := ws.delegate
	ws.mu.Unlock()

	c.conn.Close()
	if known && d != nil {
		d.OnDisconnect(c.sessionID, c.clientID)
	}
}

// readPump pumps inbound frames to the delegate until the connection dies.
func (c *wsClient) readPump(ws *WebSocket) {
	defer ws.dropClient(c)
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.log.Warn("read error", zap.String("session", string(c.sessionID)), zap.Error(err))
			}
			return
		}
		ws.mu.RLock()
		d := ws.delegate
		ws.mu.RUnlock()
		if d != nil {
			d.OnMessage(data, c.sessionID)
		}
	}
}

// writePump drains the send channel to the socket, pinging on idle. JSON
// frames go out as text, everything else as binary.
func (c *wsClient) writePump(ws *WebSocket) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			msgType := websocket.BinaryMessage
			if len(data) > 0 && (data[0] == '{' || data[0] == '[') {
				msgType = websocket.TextMessage
			}
			if err := c.conn.WriteMessage(msgType, data); err != nil {
				ws.log.Warn("write error", zap.String("session", string(c.sessionID)), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
