// Package services contains server-side business logic: account registration
// and login, token issuance and rotation, password reset, and the chat
// directory/read-tracking operations.
package services

import (
	"fmt"
	"strings"
)

// FieldError names the offending field; Field is empty for form-level errors
// (e.g. an OTP rejection).
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationErrors collects every failed check so the caller sees them all at
// once rather than one per round trip.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, fe := range v {
		msgs[i] = fe.Message
	}
	return strings.Join(msgs, "; ")
}

// PasswordPolicy is the pluggable minimum-strength check applied at
// registration and password reset.
type PasswordPolicy interface {
	Validate(password string) error
}

// DefaultPasswordPolicy rejects short and fully numeric passwords.
type DefaultPasswordPolicy struct {
	MinLength int
}

type policyError string

func (e policyError) Error() string { return string(e) }

func (p DefaultPasswordPolicy) Validate(password string) error {
	minLen := p.MinLength
	if minLen == 0 {
		minLen = 8
	}
	if len(password) < minLen {
		return policyError(fmt.Sprintf("This password is too short. It must contain at least %d characters.", minLen))
	}
	allDigits := true
	for _, r := range password {
		if r < '0' || r > '9' {
			allDigits = false
			break
		}
	}
	if allDigits {
		return policyError("This password is entirely numeric.")
	}
	return nil
}
