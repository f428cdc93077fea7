package activation

import (
	"time"

	"github.com/studiodesk/studiodesk/internal/app/domain/client"
)

// Kind separates single-use activation tokens from reusable login tokens.
type Kind string

const (
	KindActivation Kind = "activation"
	KindLogin      Kind = "login"
)

// Token is the stored form of a client bearer credential. Only the SHA-256
// hash of the raw token is kept.
type Token struct {
	Hash      string    `json:"hash" db:"token_hash"`
	ClientID  string    `json:"client_id" db:"client_id"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Kind      Kind      `json:"kind" db:"kind"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	Used      bool      `json:"used" db:"used"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Expired reports whether the token is past its expiry at now.
func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Account is a client's portal login.
type Account struct {
	ID           string    `json:"id" db:"id"`
	ClientID     string    `json:"client_id" db:"client_id"`
	OwnerID      string    `json:"owner_id" db:"owner_id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Active       bool      `json:"active" db:"active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Issued is returned when a token is created. Raw is shown once.
type Issued struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"client_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Link      string    `json:"link"`
}

// Session is the result of a successful client login.
type Session struct {
	AccountID string        `json:"account_id"`
	Username  string        `json:"username"`
	Type      string        `json:"type"`
	ClientID  string        `json:"client_id"`
	Client    client.Client `json:"client"`
	Token     string        `json:"token"`
}
