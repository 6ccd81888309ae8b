package interfaces

import (
	"context"

	"dermabot/internal/entities"
)

// ReasoningEngine answers one turn of a session. It owns history and tools.
type ReasoningEngine interface {
	Respond(ctx context.Context, session entities.Session, parts []entities.Part) (string, error)
}

// MediaFetcher downloads the raw bytes behind a media reference.
type MediaFetcher interface {
	Fetch(ctx context.Context, ref entities.MediaRef) ([]byte, error)
}

// MediaRelay publishes bytes to a public host and returns a stable URL.
type MediaRelay interface {
	Publish(ctx context.Context, data []byte) (string, error)
}

// Messenger pushes a text message to a recipient outside the webhook response.
type Messenger interface {
	SendMessage(ctx context.Context, to, content string) error
}

// SessionStore resolves the durable session for a sender, creating it on first use.
type SessionStore interface {
	EnsureSession(ctx context.Context, senderID string, provider entities.Provider) (entities.Session, error)
}

// HistoryStore persists session transcripts.
type HistoryStore interface {
	Append(ctx context.Context, entries ...entities.HistoryEntry) error
	Recent(ctx context.Context, sessionID string, limit int) ([]entities.HistoryEntry, error)
}

// Deduper remembers provider delivery ids. Seen returns true for a repeat.
type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
}
