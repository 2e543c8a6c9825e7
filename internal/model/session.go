package model

import "time"

// Credential is a decoded session token. IssuedAt and ExpiresAt come from the
// token's claims, never from local bookkeeping.
type Credential struct {
	Token     string    `json:"-"`
	Subject   string    `json:"subject"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Identity is what the user presents at login.
type Identity struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
