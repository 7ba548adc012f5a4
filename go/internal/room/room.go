// Package room holds the shared data model for focus rooms: the Room record
// and its embedded session clock, members, chat messages, and tasks, laid out
// exactly as they live in the shared store.
package room

import "time"

// MaxMembers is the room capacity. Joins beyond it are rejected; rejoining
// members are exempt.
const MaxMembers = 4

// User is the opaque identity pair supplied by the identity provider.
type User struct {
	ID   string
	Name string
}

// Member is one entry in a room's member set. Online is the only field that
// changes after join; leaving removes the entry entirely.
type Member struct {
	Name     string `json:"name"`
	JoinedAt int64  `json:"joinedAt"`
	IsHost   bool   `json:"isHost"`
	Online   bool   `json:"online"`
}

// Settings are fixed at room creation.
type Settings struct {
	DefaultDuration     int  `json:"defaultDuration"` // seconds
	AllowPartnerControl bool `json:"allowPartnerControl"`
}

// Room is the persisted unit representing one shared focus session.
type Room struct {
	RoomID         string            `json:"roomId"`
	RoomCode       string            `json:"roomCode"`
	HostID         string            `json:"hostId"`
	Status         string            `json:"status"`
	CreatedAt      int64             `json:"createdAt"`
	Settings       Settings          `json:"settings"`
	Members        map[string]Member `json:"members,omitempty"`
	CurrentSession Session           `json:"currentSession"`
}

// ChatMessage is an append-only chat entry, ordered by timestamp.
type ChatMessage struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
}

// Task is a shared to-do item any member may create, toggle, or delete.
type Task struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Completed     bool   `json:"completed"`
	CreatedBy     string `json:"createdBy"`
	CreatedByName string `json:"createdByName"`
	Timestamp     int64  `json:"timestamp"`
	CompletedAt   int64  `json:"completedAt,omitempty"`
}

// Millis converts a time to the epoch-millisecond representation all store
// timestamps use.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts a stored epoch-millisecond timestamp back to a time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
