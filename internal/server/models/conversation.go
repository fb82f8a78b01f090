package models

import "time"

// Conversation is a private chat between exactly two users. UserLow/UserHigh
// hold the participant ids in lexical order so the unordered pair {A,B} maps
// to exactly one row.
type Conversation struct {
	ID        string
	UserLow   string
	UserHigh  string
	CreatedAt time.Time
	// LastMessageAt is populated by listing queries; zero when the
	// conversation has no messages yet.
	LastMessageAt time.Time
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) string {
	if c.UserLow == userID {
		return c.UserHigh
	}
	return c.UserLow
}

// Has reports whether userID participates in the conversation.
func (c *Conversation) Has(userID string) bool {
	return c.UserLow == userID || c.UserHigh == userID
}

// OrderPair normalizes an unordered participant pair to (low, high).
func OrderPair(a, b string) (low, high string) {
	if a < b {
		return a, b
	}
	return b, a
}
