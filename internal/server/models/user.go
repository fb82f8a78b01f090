package models

import "time"

// User is an identity: unique handle, unique case-normalized email, opaque
// password hash, and display name parts derived at registration.
type User struct {
	ID           string
	UserName     string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	CreatedAt    time.Time
}

// FullName returns "First Last" or falls back to the handle.
func (u *User) FullName() string {
	if u.FirstName == "" && u.LastName == "" {
		return u.UserName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
