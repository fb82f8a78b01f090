package models

import "time"

// Message belongs to exactly one conversation; the sender must be a
// participant. Ordering is by CreatedAt ascending with the serial ID breaking
// ties in insertion order.
type Message struct {
	ID             int64
	ConversationID string
	SenderID       string
	SenderName     string
	Content        string
	CreatedAt      time.Time
}
