package client

import (
	"strings"
	"time"
)

// Client is a customer of one studio owner.
type Client struct {
	ID           string    `json:"id" db:"id"`
	OwnerID      string    `json:"owner_id" db:"owner_id"`
	FirstName    string    `json:"first_name" db:"first_name"`
	LastName     string    `json:"last_name" db:"last_name"`
	Phone        string    `json:"phone" db:"phone"`
	Email        string    `json:"email,omitempty" db:"email"`
	Address      string    `json:"address,omitempty" db:"address"`
	Birthday     string    `json:"birthday,omitempty" db:"birthday"`
	Notes        string    `json:"notes,omitempty" db:"notes"`
	IsFrequent   bool      `json:"is_frequent" db:"is_frequent"`
	MedicalNotes string    `json:"medical_notes,omitempty" db:"medical_notes"`
	Allergies    string    `json:"allergies,omitempty" db:"allergies"`
	HasConsent   bool      `json:"has_consent" db:"has_consent"`
	Anonymized   bool      `json:"anonymized" db:"anonymized"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// FullName joins first and last name.
func (c Client) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Matches reports whether the query appears in the client's name, phone or email.
func (c Client) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, field := range []string{c.FirstName, c.LastName, c.FullName(), c.Phone, c.Email} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// Consent is a signed treatment/data-processing consent.
type Consent struct {
	ID          string    `json:"id" db:"id"`
	ClientID    string    `json:"client_id" db:"client_id"`
	OwnerID     string    `json:"owner_id" db:"owner_id"`
	ConsentText string    `json:"consent_text" db:"consent_text"`
	Signature   string    `json:"signature,omitempty" db:"signature"`
	SignedAt    time.Time `json:"signed_at" db:"signed_at"`
}

// Access is one successful client-portal login.
type Access struct {
	ClientID string    `json:"client_id" db:"client_id"`
	At       time.Time `json:"at" db:"accessed_at"`
	PWA      bool      `json:"pwa" db:"pwa"`
}

// Note is a dated free-text entry on a client's record.
type Note struct {
	ID        string    `json:"id" db:"id"`
	ClientID  string    `json:"client_id" db:"client_id"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
