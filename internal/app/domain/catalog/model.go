package catalog

import "time"

// DefaultColor is the calendar colour used when none is given.
const DefaultColor = "#3f51b5"

// Service is a bookable treatment offered by an owner.
type Service struct {
	ID              string    `json:"id" db:"id"`
	OwnerID         string    `json:"owner_id" db:"owner_id"`
	Name            string    `json:"name" db:"name"`
	DurationMinutes int       `json:"duration_minutes" db:"duration_minutes"`
	Color           string    `json:"color" db:"color"`
	PriceCents      int64     `json:"price_cents" db:"price_cents"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}
