package room

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// MaxCodeLen caps room codes, which are upper-cased on normalization.
const MaxCodeLen = 8

var (
	// ErrRoomLocked is returned by Join when the host has locked the room.
	ErrRoomLocked = errors.New("room is locked")

	// ErrRoomFull is returned by Join when the room already seats
	// MaxParticipants.
	ErrRoomFull = errors.New("room is full")
)

// NormalizeCode upper-cases and length-caps a caller-supplied room code.
func NormalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) > MaxCodeLen {
		code = code[:MaxCodeLen]
	}
	return code
}

// Room is a single estimation session. Every exported method serializes
// on the room's own mutex, so operations on one room never interleave
// their read-modify-write sequences; distinct rooms are independent.
type Room struct {
	mu    sync.Mutex
	clock clockwork.Clock

	code         string
	users        map[string]*Participant
	tasks        map[string]*Task
	taskOrder    []string
	activeTaskID string
	currentRound Round
	locked       bool
	lastActiveAt time.Time
	joinCounter  uint64
}

func newRoom(code string, clock clockwork.Clock) *Room {
	return &Room{
		clock: clock,
		code:  code,
		users: make(map[string]*Participant),
		tasks: make(map[string]*Task),
		currentRound: Round{
			ID:    uuid.New().String(),
			Votes: make(map[string]string),
		},
		lastActiveAt: clock.Now(),
	}
}

// Code returns the room's normalized code.
func (r *Room) Code() string { return r.code }

// Touch refreshes the room's activity timestamp. Mutating operations
// touch implicitly; this is for actions that mutate no room data but
// still count as activity (emoji throws).
func (r *Room) Touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touchLocked()
}

func (r *Room) touchLocked() {
	r.lastActiveAt = r.clock.Now()
}

// Join seats a new participant. The first participant in becomes host.
// Seats are assigned by lowest free index so seating stays compact after
// departures. Joins into a locked room fail with ErrRoomLocked; joins
// into a full room fail with ErrRoomFull, so a free seat always exists
// for an admitted participant.
func (r *Room) Join(connID, name string) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.locked {
		return Participant{}, ErrRoomLocked
	}
	if len(r.users) >= MaxParticipants {
		return Participant{}, ErrRoomFull
	}

	r.joinCounter++
	p := &Participant{
		ID:        uuid.New().String(),
		Name:      sanitizeName(name),
		Color:     randomColor(),
		SeatIndex: r.lowestFreeSeat(),
		IsHost:    len(r.users) == 0,
		JoinedAt:  r.clock.Now(),
		ConnID:    connID,
		joinSeq:   r.joinCounter,
	}
	r.users[p.ID] = p
	r.touchLocked()

	log.Debug().
		Str("room", r.code).
		Str("user_id", p.ID).
		Int("seat", p.SeatIndex).
		Bool("host", p.IsHost).
		Msg("participant joined")

	return *p, nil
}

func (r *Room) lowestFreeSeat() int {
	var taken [MaxParticipants]bool
	for _, u := range r.users {
		if u.SeatIndex >= 0 && u.SeatIndex < MaxParticipants {
			taken[u.SeatIndex] = true
		}
	}
	for i := 0; i < MaxParticipants; i++ {
		if !taken[i] {
			return i
		}
	}
	// Unreachable while Join rejects at capacity.
	return MaxParticipants - 1
}

// Leave removes a participant. If the host left and anyone remains, the
// earliest-joined participant is promoted (ties broken by join order).
func (r *Room) Leave(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[userID]; !ok {
		return
	}
	delete(r.users, userID)
	r.touchLocked()

	if len(r.users) == 0 {
		return
	}
	for _, u := range r.users {
		if u.IsHost {
			return
		}
	}
	var next *Participant
	for _, u := range r.users {
		if next == nil ||
			u.JoinedAt.Before(next.JoinedAt) ||
			(u.JoinedAt.Equal(next.JoinedAt) && u.joinSeq < next.joinSeq) {
			next = u
		}
	}
	next.IsHost = true
	log.Debug().Str("room", r.code).Str("user_id", next.ID).Msg("host failover")
}

// HasUser reports whether the participant id exists in the room.
func (r *Room) HasUser(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[userID]
	return ok
}

// IsHost reports whether the participant id exists and holds the host flag.
func (r *Room) IsHost(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	return ok && u.IsHost
}

// UserCount returns the current number of participants.
func (r *Room) UserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// CastVote records (or overwrites) a participant's vote for the current
// round, then auto-reveals once the votes on record cover the room's
// current participant count. The denominator is the live count, so a
// departure mid-round shrinks it and a later vote can tip the reveal.
func (r *Room) CastVote(userID, value string) Round {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.currentRound.Votes[userID] = value
	if !r.currentRound.Revealed && len(r.currentRound.Votes) >= len(r.users) {
		r.currentRound.Revealed = true
	}
	r.touchLocked()
	return r.currentRound.copy()
}

// Reveal force-reveals the current round regardless of vote completeness.
func (r *Room) Reveal() Round {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.currentRound.Revealed = true
	r.touchLocked()
	return r.currentRound.copy()
}

// ClearVotes empties the current round's votes and resets the reveal
// flag. The round id is retained.
func (r *Room) ClearVotes() Round {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.currentRound.Votes = make(map[string]string)
	r.currentRound.Revealed = false
	r.touchLocked()
	return r.currentRound.copy()
}

// NewRound replaces the round wholesale with a fresh id and empty votes.
func (r *Room) NewRound() Round {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.currentRound = Round{
		ID:    uuid.New().String(),
		Votes: make(map[string]string),
	}
	r.touchLocked()
	return r.currentRound.copy()
}

// CreateTask adds a task and unconditionally makes it the active task.
// The name must already be trimmed and non-empty (the gateway rejects
// empty names before calling).
func (r *Room) CreateTask(name, description string) Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := &Task{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Status:      TaskStatusActive,
	}
	r.tasks[t.ID] = t
	r.taskOrder = append(r.taskOrder, t.ID)
	r.activeTaskID = t.ID
	r.touchLocked()
	return *t
}

// SetActiveTask points the room at an existing task. Unknown ids are a
// no-op; the activity timestamp still refreshes.
func (r *Room) SetActiveTask(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[taskID]; ok {
		r.activeTaskID = taskID
	}
	r.touchLocked()
}

// SetFinalEstimate records a task's final estimate and marks it
// estimated. This applies to archived tasks too: recording an estimate
// moves them back to estimated.
func (r *Room) SetFinalEstimate(taskID, estimate string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tasks[taskID]; ok {
		t.FinalEstimate = estimate
		t.Status = TaskStatusEstimated
	}
	r.touchLocked()
}

// ArchiveTask marks a task archived, keeping any recorded estimate.
func (r *Room) ArchiveTask(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tasks[taskID]; ok {
		t.Status = TaskStatusArchived
	}
	r.touchLocked()
}

// TransferHost exchanges the host flag between two existing
// participants. Returns false (and changes nothing) unless both resolve.
func (r *Room) TransferHost(fromID, toID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	from, ok := r.users[fromID]
	if !ok {
		return false
	}
	to, ok := r.users[toID]
	if !ok {
		return false
	}
	from.IsHost = false
	to.IsHost = true
	r.touchLocked()
	return true
}

// SetLocked sets the join lock and returns the new value.
func (r *Room) SetLocked(locked bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.locked = locked
	r.touchLocked()
	return r.locked
}

// ConnIDOf resolves a participant id to its transport session handle.
func (r *Room) ConnIDOf(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return "", false
	}
	return u.ConnID, true
}

// TaskList returns the tasks in creation order plus the active task id.
func (r *Room) TaskList() ([]Task, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.taskListLocked()
}

func (r *Room) taskListLocked() ([]Task, string) {
	tasks := make([]Task, 0, len(r.taskOrder))
	for _, id := range r.taskOrder {
		tasks = append(tasks, *r.tasks[id])
	}
	return tasks, r.activeTaskID
}

// Snapshot returns the full client-visible room state. Participants are
// ordered by seat index, tasks by creation order.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]Participant, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].SeatIndex < users[j].SeatIndex
	})
	tasks, activeID := r.taskListLocked()

	return Snapshot{
		Code:         r.code,
		Users:        users,
		Tasks:        tasks,
		ActiveTaskID: activeID,
		Round:        r.currentRound.copy(),
		Locked:       r.locked,
	}
}

// emptyIdleSince reports whether the room has no participants and has
// been idle since before the cutoff. Callers hold no lock.
func (r *Room) emptyIdleSince(cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users) == 0 && r.lastActiveAt.Before(cutoff)
}
