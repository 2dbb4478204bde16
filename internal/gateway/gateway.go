// Package gateway is the session boundary: it receives inbound
// participant actions, enforces rate limits and host authorization,
// invokes room operations and fans resulting events out to every
// connection in the affected room.
package gateway

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/internal/ratelimit"
	"github.com/pointdeck/pointdeck/internal/room"
)

// Transport is what the gateway needs from the connection layer: address
// a single connection, fan out to a room, move a connection into a room
// pool, and sever a connection. Sends are fire-and-forget.
type Transport interface {
	JoinRoom(connID, roomCode string)
	SendTo(connID string, event Event)
	BroadcastToRoom(roomCode string, event Event)
	CloseConn(connID string)
}

// Default per-connection action limits.
const (
	throwBurst = 1
	throwWin   = 1500 * time.Millisecond
	voteBurst  = 3
	voteWin    = 3 * time.Second
	taskBurst  = 3
	taskWin    = 10 * time.Second
)

// clientRef ties a connection to its participant and room. A connection
// with no entry has not joined and every action except joinRoom is
// silently ignored.
type clientRef struct {
	userID   string
	roomCode string
}

// Gateway routes actions for all connections. Room state itself lives in
// the injected registry; the gateway owns only the connection-to-
// participant table and the per-action limiters.
type Gateway struct {
	registry  *room.Registry
	transport Transport
	clock     clockwork.Clock

	mu      sync.RWMutex
	clients map[string]clientRef

	throwLimiter *ratelimit.Limiter
	voteLimiter  *ratelimit.Limiter
	taskLimiter  *ratelimit.Limiter
}

// New creates a gateway over the given registry and transport.
func New(registry *room.Registry, transport Transport, clock clockwork.Clock) *Gateway {
	return &Gateway{
		registry:     registry,
		transport:    transport,
		clock:        clock,
		clients:      make(map[string]clientRef),
		throwLimiter: ratelimit.New(clock, throwBurst, throwWin),
		voteLimiter:  ratelimit.New(clock, voteBurst, voteWin),
		taskLimiter:  ratelimit.New(clock, taskBurst, taskWin),
	}
}

// Dispatch handles one raw inbound message from a connection. Malformed
// envelopes and unauthorized or rate-limited actions are dropped without
// a response; the authoritative state always wins and clients converge
// on the next broadcast.
func (g *Gateway) Dispatch(connID string, raw []byte) {
	var action Action
	if err := json.Unmarshal(raw, &action); err != nil {
		log.Debug().Str("conn_id", connID).Err(err).Msg("dropping malformed action")
		return
	}

	switch action.Type {
	case ActionJoinRoom:
		g.handleJoinRoom(connID, action.Data)
	case ActionCastVote:
		g.handleCastVote(connID, action.Data)
	case ActionReveal:
		g.handleReveal(connID)
	case ActionClearVotes:
		g.handleClearVotes(connID)
	case ActionNewRound:
		g.handleNewRound(connID)
	case ActionCreateTask:
		g.handleCreateTask(connID, action.Data)
	case ActionSetActiveTask:
		g.handleSetActiveTask(connID, action.Data)
	case ActionSetFinalEstimate:
		g.handleSetFinalEstimate(connID, action.Data)
	case ActionArchiveTask:
		g.handleArchiveTask(connID, action.Data)
	case ActionThrowEmoji:
		g.handleThrowEmoji(connID, action.Data)
	case ActionTransferHost:
		g.handleTransferHost(connID, action.Data)
	case ActionLockRoom:
		g.handleLockRoom(connID, action.Data)
	case ActionKick:
		g.handleKick(connID, action.Data)
	default:
		log.Debug().Str("conn_id", connID).Str("type", string(action.Type)).Msg("unknown action type")
	}
}

// HandleDisconnect removes the connection's participant from its room,
// if any, and broadcasts the membership change. This and a kick-driven
// close are the only paths that remove a participant.
func (g *Gateway) HandleDisconnect(connID string) {
	g.mu.Lock()
	ref, joined := g.clients[connID]
	delete(g.clients, connID)
	g.mu.Unlock()
	if !joined {
		return
	}

	r, ok := g.registry.Lookup(ref.roomCode)
	if !ok {
		return
	}
	r.Leave(ref.userID)
	g.broadcastPresence(r)

	log.Info().
		Str("conn_id", connID).
		Str("room", ref.roomCode).
		Str("user_id", ref.userID).
		Msg("participant disconnected")
}

func (g *Gateway) handleJoinRoom(connID string, data json.RawMessage) {
	var p JoinRoomPayload
	if err := json.Unmarshal(data, &p); err != nil ||
		strings.TrimSpace(p.RoomCode) == "" || strings.TrimSpace(p.Name) == "" {
		g.transport.SendTo(connID, Event{Type: EventJoinAck, Data: JoinAckPayload{Error: JoinErrBadRequest}})
		return
	}

	code := room.NormalizeCode(p.RoomCode)
	r := g.registry.GetOrCreate(code)

	me, err := r.Join(connID, p.Name)
	if err != nil {
		ackErr := JoinErrBadRequest
		switch {
		case errors.Is(err, room.ErrRoomLocked):
			ackErr = JoinErrLocked
		case errors.Is(err, room.ErrRoomFull):
			ackErr = JoinErrRoomFull
		}
		g.transport.SendTo(connID, Event{Type: EventJoinAck, Data: JoinAckPayload{Error: ackErr}})
		return
	}

	g.mu.Lock()
	prev, rejoining := g.clients[connID]
	g.clients[connID] = clientRef{userID: me.ID, roomCode: code}
	g.mu.Unlock()

	// A connection re-joining abandons its previous seat; clear it so
	// the old room can drain and be reaped.
	if rejoining {
		if prevRoom, ok := g.registry.Lookup(prev.roomCode); ok {
			prevRoom.Leave(prev.userID)
			if prev.roomCode != code {
				g.broadcastPresence(prevRoom)
			}
		}
	}

	g.transport.JoinRoom(connID, code)

	snap := r.Snapshot()
	g.transport.BroadcastToRoom(code, Event{Type: EventPresenceChanged, Data: snap})
	g.transport.SendTo(connID, Event{Type: EventJoinAck, Data: JoinAckPayload{You: &me, Room: &snap}})

	log.Info().
		Str("conn_id", connID).
		Str("room", code).
		Str("user_id", me.ID).
		Msg("participant joined room")
}

func (g *Gateway) handleCastVote(connID string, data json.RawMessage) {
	ref, r, ok := g.resolve(connID)
	if !ok {
		return
	}
	var p CastVotePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if !g.voteLimiter.Allow(connID + ":vote") {
		return
	}

	round := r.CastVote(ref.userID, p.Value)
	g.transport.BroadcastToRoom(ref.roomCode, Event{Type: EventVotesChanged, Data: RoundPayload{Round: round}})
}

func (g *Gateway) handleReveal(connID string) {
	r, ok := g.hostRoom(connID)
	if !ok {
		return
	}
	round := r.Reveal()
	g.transport.BroadcastToRoom(r.Code(), Event{Type: EventRoundRevealed, Data: RoundPayload{Round: round}})
}

func (g *Gateway) handleClearVotes(connID string) {
	r, ok := g.hostRoom(connID)
	if !ok {
		return
	}
	round := r.ClearVotes()
	g.transport.BroadcastToRoom(r.Code(), Event{Type: EventVotesChanged, Data: RoundPayload{Round: round}})
}

func (g *Gateway) handleNewRound(connID string) {
	r, ok := g.hostRoom(connID)
	if !ok {
		return
	}
	round := r.NewRound()
	g.transport.BroadcastToRoom(r.Code(), Event{Type: EventRoundChanged, Data: RoundPayload{Round: round}})
}

func (g *Gateway) handleCreateTask(connID string, data json.RawMessage) {
	var p CreateTaskPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return
	}
	// Admission before authorization, so denial leaks nothing about
	// host status either way.
	if !g.taskLimiter.Allow(connID + ":task") {
		return
	}
	r, ok := g.hostRoom(connID)
	if !ok {
		return
	}

	r.CreateTask(name, p.Description)
	g.broadcastTasks(r)
}

func (g *Gateway) handleSetActiveTask(connID string, data json.RawMessage) {
	r, ok := g.hostRoom(connID)
	if !ok {
		return
	}
	var p TaskRefPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	r.SetActiveTask(p.TaskID)
	g.broadcastTasks(r)
}

func (g *Gateway) handleSetFinalEstimate(connID string, data json.RawMessage) {
	r, ok := g.hostRoom(connID)
	if !ok {
		return
	}
	var p SetFinalEstimatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	r.SetFinalEstimate(p.TaskID, p.Estimate)
	g.broadcastTasks(r)
}

func (g *Gateway) handleArchiveTask(connID string, data json.RawMessage) {
	r, ok := g.hostRoom(connID)
	if !ok {
		return
	}
	var p TaskRefPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	r.ArchiveTask(p.TaskID)
	g.broadcastTasks(r)
}

func (g *Gateway) handleThrowEmoji(connID string, data json.RawMessage) {
	ref, r, ok := g.resolve(connID)
	if !ok {
		return
	}
	var p ThrowEmojiPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if !g.throwLimiter.Allow(connID + ":throw") {
		return
	}
	if !r.HasUser(p.ToUserID) {
		return
	}

	// Mutates no room data but still counts as activity.
	r.Touch()
	g.transport.BroadcastToRoom(ref.roomCode, Event{Type: EventEmojiThrown, Data: EmojiThrownPayload{
		ID:         uuid.New().String(),
		FromUserID: ref.userID,
		ToUserID:   p.ToUserID,
		Emoji:      p.Emoji,
		At:         g.clock.Now(),
	}})
}

func (g *Gateway) handleTransferHost(connID string, data json.RawMessage) {
	r, ok := g.hostRoom(connID)
	if !ok {
		return
	}
	var p TransferHostPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}

	g.mu.RLock()
	ref := g.clients[connID]
	g.mu.RUnlock()

	if r.TransferHost(ref.userID, p.ToUserID) {
		g.broadcastPresence(r)
	}
}

func (g *Gateway) handleLockRoom(connID string, data json.RawMessage) {
	r, ok := g.hostRoom(connID)
	if !ok {
		return
	}
	var p LockRoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}

	locked := r.SetLocked(p.Locked)
	g.transport.BroadcastToRoom(r.Code(), Event{Type: EventRoomLocked, Data: RoomLockedPayload{Locked: locked}})
}

// handleKick broadcasts the kick and severs the target's connection.
// Participant removal and host failover ride the resulting disconnect
// exactly once; nothing is removed here.
func (g *Gateway) handleKick(connID string, data json.RawMessage) {
	r, ok := g.hostRoom(connID)
	if !ok {
		return
	}
	var p KickPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	targetConn, ok := r.ConnIDOf(p.UserID)
	if !ok {
		return
	}

	g.transport.BroadcastToRoom(r.Code(), Event{Type: EventUserKicked, Data: UserKickedPayload{UserID: p.UserID}})
	g.transport.CloseConn(targetConn)

	log.Info().
		Str("room", r.Code()).
		Str("user_id", p.UserID).
		Msg("participant kicked")
}

// resolve returns the connection's client record and room. ok is false
// for connections that have not joined or whose room is gone.
func (g *Gateway) resolve(connID string) (clientRef, *room.Room, bool) {
	g.mu.RLock()
	ref, joined := g.clients[connID]
	g.mu.RUnlock()
	if !joined {
		return clientRef{}, nil, false
	}
	r, ok := g.registry.Lookup(ref.roomCode)
	if !ok {
		return clientRef{}, nil, false
	}
	return ref, r, true
}

// hostRoom is the host guard: it resolves the connection and additionally
// requires its participant to currently hold the host flag. A false
// return means the action is dropped with no response and no broadcast.
func (g *Gateway) hostRoom(connID string) (*room.Room, bool) {
	ref, r, ok := g.resolve(connID)
	if !ok || !r.IsHost(ref.userID) {
		return nil, false
	}
	return r, true
}

func (g *Gateway) broadcastPresence(r *room.Room) {
	g.transport.BroadcastToRoom(r.Code(), Event{Type: EventPresenceChanged, Data: r.Snapshot()})
}

func (g *Gateway) broadcastTasks(r *room.Room) {
	tasks, activeID := r.TaskList()
	g.transport.BroadcastToRoom(r.Code(), Event{Type: EventTasksChanged, Data: TasksPayload{
		Tasks:        tasks,
		ActiveTaskID: activeID,
	}})
}
