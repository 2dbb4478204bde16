package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ActionHandler consumes inbound messages and disconnects. Implemented
// by the Gateway; an interface so the connection layer carries no
// routing logic.
type ActionHandler interface {
	Dispatch(connID string, raw []byte)
	HandleDisconnect(connID string)
}

// ConnectionManager owns every WebSocket connection and implements
// Transport. Connections are pooled per room code once they join.
type ConnectionManager struct {
	mu        sync.RWMutex
	conns     map[string]*Conn
	roomConns map[string]map[*Conn]bool

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  ActionHandler

	broadcastCh chan broadcastMessage
}

// Conn is one WebSocket connection to a client.
type Conn struct {
	ID      string
	ws      *websocket.Conn
	send    chan []byte
	manager *ConnectionManager

	mu       sync.Mutex
	roomCode string
	closed   bool

	connectedAt time.Time
}

// trySend queues data for the connection unless it has been closed.
// Checking closed and sending under the same mutex as the close in
// unregister keeps a concurrent disconnect from turning the send into a
// panic. The second return reports a full buffer on a live connection.
func (c *Conn) trySend(data []byte) (sent, full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, false
	}
	select {
	case c.send <- data:
		return true, false
	default:
		return false, true
	}
}

// ConnectionConfig holds WebSocket tuning knobs.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// broadcastMessage routes an event either to one connection or to every
// connection in a room.
type broadcastMessage struct {
	roomCode string
	connID   string
	event    Event
}

// DefaultConnectionConfig returns the default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a connection manager. SetHandler must be
// called before serving connections.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		conns:     make(map[string]*Conn),
		roomConns: make(map[string]map[*Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// SetHandler wires the action handler. Separate from the constructor
// because the gateway needs the manager as its Transport first.
func (cm *ConnectionManager) SetHandler(h ActionHandler) {
	cm.handler = h
}

// Start processes outbound events until the context is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.deliver(message)
		}
	}
}

// RegisterRoutes registers the realtime endpoint on the mux.
func (cm *ConnectionManager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/rt", cm.HandleConnection)
}

// HandleConnection upgrades an HTTP request to a WebSocket and starts
// the connection's pumps. No identity is required up front; the client
// establishes one by sending joinRoom.
func (cm *ConnectionManager) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	conn := &Conn{
		ID:          uuid.New().String(),
		ws:          ws,
		send:        make(chan []byte, 256),
		manager:     cm,
		connectedAt: time.Now(),
	}

	cm.mu.Lock()
	cm.conns[conn.ID] = conn
	cm.mu.Unlock()

	go conn.writePump()
	go conn.readPump()

	log.Info().Str("conn_id", conn.ID).Msg("WebSocket connection established")
}

// JoinRoom moves a connection into a room's broadcast pool. A connection
// belongs to at most one room; joining again replaces the old pool entry.
func (cm *ConnectionManager) JoinRoom(connID, roomCode string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conn, ok := cm.conns[connID]
	if !ok {
		return
	}

	conn.mu.Lock()
	prev := conn.roomCode
	conn.roomCode = roomCode
	conn.mu.Unlock()

	if prev != "" {
		cm.removeFromRoomLocked(conn, prev)
	}
	if cm.roomConns[roomCode] == nil {
		cm.roomConns[roomCode] = make(map[*Conn]bool)
	}
	cm.roomConns[roomCode][conn] = true

	log.Debug().
		Str("conn_id", connID).
		Str("room", roomCode).
		Int("room_connections", len(cm.roomConns[roomCode])).
		Msg("connection joined room pool")
}

// SendTo queues an event for a single connection. Non-blocking: if the
// broadcast channel is full the event is dropped.
func (cm *ConnectionManager) SendTo(connID string, event Event) {
	select {
	case cm.broadcastCh <- broadcastMessage{connID: connID, event: event}:
	default:
		log.Warn().Str("conn_id", connID).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastToRoom queues an event for every connection in a room.
func (cm *ConnectionManager) BroadcastToRoom(roomCode string, event Event) {
	select {
	case cm.broadcastCh <- broadcastMessage{roomCode: roomCode, event: event}:
	default:
		log.Warn().Str("room", roomCode).Msg("broadcast channel full, dropping message")
	}
}

// CloseConn severs a connection. The read pump's exit drives the
// disconnect path, so participant removal happens exactly once.
func (cm *ConnectionManager) CloseConn(connID string) {
	cm.mu.RLock()
	conn, ok := cm.conns[connID]
	cm.mu.RUnlock()
	if ok {
		conn.ws.Close()
	}
}

// ConnectionCount returns the number of live connections.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}

func (cm *ConnectionManager) deliver(message broadcastMessage) {
	cm.mu.RLock()
	var targets []*Conn
	if message.connID != "" {
		if conn, ok := cm.conns[message.connID]; ok {
			targets = append(targets, conn)
		}
	} else if pool, ok := cm.roomConns[message.roomCode]; ok {
		for conn := range pool {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(message.event)
	if err != nil {
		log.Error().Err(err).Str("type", string(message.event.Type)).Msg("failed to marshal event")
		return
	}

	for _, conn := range targets {
		if _, full := conn.trySend(data); full {
			// Slow or dead consumer; drop it rather than block fanout.
			log.Warn().Str("conn_id", conn.ID).Msg("connection send buffer full, closing connection")
			conn.ws.Close()
		}
	}
}

// unregister removes the connection from all pools. Idempotent.
func (cm *ConnectionManager) unregister(conn *Conn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, ok := cm.conns[conn.ID]; !ok {
		return
	}
	delete(cm.conns, conn.ID)

	conn.mu.Lock()
	conn.closed = true
	close(conn.send)
	roomCode := conn.roomCode
	conn.mu.Unlock()
	if roomCode != "" {
		cm.removeFromRoomLocked(conn, roomCode)
	}

	log.Info().Str("conn_id", conn.ID).Msg("connection unregistered")
}

func (cm *ConnectionManager) removeFromRoomLocked(conn *Conn, roomCode string) {
	if pool, ok := cm.roomConns[roomCode]; ok {
		delete(pool, conn)
		if len(pool) == 0 {
			delete(cm.roomConns, roomCode)
		}
	}
}

// writePump sends queued messages and keepalive pings to the client.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("conn_id", c.ID).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client actions and hands them to the action handler.
// Its exit is the single disconnect path.
func (c *Conn) readPump() {
	defer func() {
		c.manager.unregister(c)
		c.ws.Close()
		c.manager.handler.HandleDisconnect(c.ID)
	}()

	c.ws.SetReadLimit(c.manager.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.ID).Msg("unexpected WebSocket close")
			}
			return
		}
		c.manager.handler.Dispatch(c.ID, message)
		c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}
