package entities

import "time"

// Session is the durable conversation owned by one sender.
type Session struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	Provider   Provider  `json:"provider"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Role of a history entry author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryEntry is one stored message of a session transcript.
type HistoryEntry struct {
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"image_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
