package gateway

import (
	"encoding/json"
	"time"

	"github.com/pointdeck/pointdeck/internal/room"
)

// Action is the inbound envelope delivered over a connection's channel.
type Action struct {
	Type ActionType      `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ActionType names an inbound participant action.
type ActionType string

const (
	ActionJoinRoom         ActionType = "joinRoom"
	ActionCastVote         ActionType = "castVote"
	ActionReveal           ActionType = "reveal"
	ActionClearVotes       ActionType = "clearVotes"
	ActionNewRound         ActionType = "newRound"
	ActionCreateTask       ActionType = "createTask"
	ActionSetActiveTask    ActionType = "setActiveTask"
	ActionSetFinalEstimate ActionType = "setFinalEstimate"
	ActionArchiveTask      ActionType = "archiveTask"
	ActionThrowEmoji       ActionType = "throwEmoji"
	ActionTransferHost     ActionType = "transferHost"
	ActionLockRoom         ActionType = "lockRoom"
	ActionKick             ActionType = "kick"
)

// Event is the outbound envelope fanned out to room connections.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// EventType names an outbound event.
type EventType string

const (
	EventJoinAck         EventType = "joinAck"
	EventPresenceChanged EventType = "presenceChanged"
	EventVotesChanged    EventType = "votesChanged"
	EventRoundChanged    EventType = "roundChanged"
	EventRoundRevealed   EventType = "roundRevealed"
	EventTasksChanged    EventType = "tasksChanged"
	EventEmojiThrown     EventType = "emojiThrown"
	EventRoomLocked      EventType = "roomLocked"
	EventUserKicked      EventType = "userKicked"
)

// Join ack errors, surfaced only to the caller.
const (
	JoinErrBadRequest = "bad_request"
	JoinErrLocked     = "locked"
	JoinErrRoomFull   = "room_full"
)

// Inbound payloads.

type JoinRoomPayload struct {
	RoomCode string `json:"roomCode"`
	Name     string `json:"name"`
}

type CastVotePayload struct {
	Value string `json:"value"`
}

type CreateTaskPayload struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type TaskRefPayload struct {
	TaskID string `json:"taskId"`
}

type SetFinalEstimatePayload struct {
	TaskID   string `json:"taskId"`
	Estimate string `json:"estimate"`
}

type ThrowEmojiPayload struct {
	ToUserID string `json:"toUserId"`
	Emoji    string `json:"emoji"`
}

type TransferHostPayload struct {
	ToUserID string `json:"toUserId"`
}

type LockRoomPayload struct {
	Locked bool `json:"locked"`
}

type KickPayload struct {
	UserID string `json:"userId"`
}

// Outbound payloads.

type JoinAckPayload struct {
	You   *room.Participant `json:"you,omitempty"`
	Room  *room.Snapshot    `json:"room,omitempty"`
	Error string            `json:"error,omitempty"`
}

type RoundPayload struct {
	Round room.Round `json:"round"`
}

type TasksPayload struct {
	Tasks        []room.Task `json:"tasks"`
	ActiveTaskID string      `json:"activeTaskId,omitempty"`
}

type EmojiThrownPayload struct {
	ID         string    `json:"id"`
	FromUserID string    `json:"fromUserId"`
	ToUserID   string    `json:"toUserId"`
	Emoji      string    `json:"emoji"`
	At         time.Time `json:"at"`
}

type RoomLockedPayload struct {
	Locked bool `json:"locked"`
}

type UserKickedPayload struct {
	UserID string `json:"userId"`
}
