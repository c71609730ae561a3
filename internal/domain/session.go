package domain

import "time"

// Message roles used in the conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged entry of a session's conversation history.
type Message struct {
	// Role is one of RoleSystem, RoleUser, or RoleAssistant.
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// CreatedAt records when the message was appended.
	CreatedAt time.Time `json:"created_at"`
}

// Session is one conversation's identity and state. The engine treats
// the session as a snapshot: it reads the allocation map as a whole and
// writes a replacement map as a whole; serialization of concurrent
// turns on the same session is the storage layer's responsibility.
type Session struct {
	// ID uniquely identifies the session.
	ID string `json:"id"`

	// CreatedAt records when the session started.
	CreatedAt time.Time `json:"created_at"`

	// LastActivity records the most recent processed turn, used by the
	// storage layer's expiry sweep.
	LastActivity time.Time `json:"last_activity"`

	// Allocations is the session's current pin-allocation map.
	Allocations AllocationMap `json:"allocations"`

	// History is the bounded, ordered conversation history.
	History []Message `json:"history,omitempty"`
}
