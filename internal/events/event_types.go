package events

import (
	"time"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserRegistered  EventType = "user_registered"
	EventUserLoggedIn    EventType = "user_logged_in"
	EventUserLoggedOut   EventType = "user_logged_out"
	EventPasswordChanged EventType = "password_changed"
	EventPasswordReset   EventType = "password_reset"
	EventEmailVerified   EventType = "email_verified"
)

// SessionEventTypes lists every event the session service emits.
var SessionEventTypes = []EventType{
	EventUserRegistered,
	EventUserLoggedIn,
	EventUserLoggedOut,
	EventPasswordChanged,
	EventPasswordReset,
	EventEmailVerified,
}

// Event represents a session lifecycle event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    string      `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// LoginPayload payload.
type LoginPayload struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LogoutPayload payload.
type LogoutPayload struct {
	RevokedFor time.Duration `json:"revoked_for"`
}

// RegisteredPayload payload.
type RegisteredPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}
