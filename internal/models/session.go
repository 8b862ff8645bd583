package models

import "time"

// Session is the authentication proof attached to a request. Only its
// presence matters to the gate and the chat endpoint.
type Session struct {
	Token     string    `json:"-"`
	UserID    int64     `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}
