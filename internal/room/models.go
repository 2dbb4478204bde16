package room

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode"
)

// MaxParticipants is the seating capacity of a room. Seat indices are
// drawn from [0, MaxParticipants).
const MaxParticipants = 10

// MaxNameLen caps display names, in runes.
const MaxNameLen = 24

// Participant is one connected user in a room.
type Participant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	SeatIndex int       `json:"seatIndex"`
	IsHost    bool      `json:"isHost"`
	JoinedAt  time.Time `json:"joinedAt"`

	// ConnID addresses the participant's transport session. Never
	// serialized to clients.
	ConnID string `json:"-"`

	// joinSeq breaks host-failover ties when two participants share a
	// join timestamp.
	joinSeq uint64
}

// Round is the current voting cycle of a room. Votes map participant id
// to a free-form short value ("5", "?", "☕"); a missing entry means the
// participant has not voted.
type Round struct {
	ID       string            `json:"id"`
	Revealed bool              `json:"revealed"`
	Votes    map[string]string `json:"votes"`
}

func (r *Round) copy() Round {
	votes := make(map[string]string, len(r.Votes))
	for id, v := range r.Votes {
		votes[id] = v
	}
	return Round{ID: r.ID, Revealed: r.Revealed, Votes: votes}
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusActive    TaskStatus = "active"
	TaskStatusEstimated TaskStatus = "estimated"
	TaskStatusArchived  TaskStatus = "archived"
)

// Task is a unit of work being estimated. Tasks are never deleted, only
// archived.
type Task struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	Status        TaskStatus `json:"status"`
	FinalEstimate string     `json:"finalEstimate,omitempty"`
}

// Snapshot is the full client-visible state of a room, broadcast after
// membership changes and returned on join.
type Snapshot struct {
	Code         string        `json:"code"`
	Users        []Participant `json:"users"`
	Tasks        []Task        `json:"tasks"`
	ActiveTaskID string        `json:"activeTaskId,omitempty"`
	Round        Round         `json:"round"`
	Locked       bool          `json:"locked"`
}

// sanitizeName strips emoji, trims whitespace and caps the length.
// Empty names fall back to "Guest".
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r >= 0x1F300 && r <= 0x1FAFF {
			continue
		}
		if !unicode.IsPrint(r) {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	if runes := []rune(out); len(runes) > MaxNameLen {
		out = strings.TrimSpace(string(runes[:MaxNameLen]))
	}
	if out == "" {
		return "Guest"
	}
	return out
}

var seatHues = []int{200, 210, 220, 230, 240, 260, 280}

func randomColor() string {
	h := seatHues[rand.Intn(len(seatHues))]
	return fmt.Sprintf("hsl(%d 90%% 60%%)", h)
}
