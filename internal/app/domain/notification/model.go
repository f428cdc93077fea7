package notification

import (
	"strings"
	"time"
)

// Channel mirrors the delivery channels of outbound reminders.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// Placeholders that reminder templates may use.
var Placeholders = []string{
	"clientName",
	"firstName",
	"lastName",
	"serviceName",
	"appointmentDate",
	"appointmentTime",
	"businessName",
}

// Template is an owner's reminder text for one channel. A template with a
// ServiceID applies to that service only; otherwise the owner's default for
// the channel is used.
type Template struct {
	ID        string    `json:"id" db:"id"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Name      string    `json:"name" db:"name"`
	Channel   Channel   `json:"channel" db:"channel"`
	ServiceID string    `json:"service_id,omitempty" db:"service_id"`
	IsDefault bool      `json:"is_default" db:"is_default"`
	Subject   string    `json:"subject,omitempty" db:"subject"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Render substitutes {placeholder} tokens. Unknown tokens are left as they
// are.
func Render(text string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for _, name := range Placeholders {
		if v, ok := values[name]; ok {
			pairs = append(pairs, "{"+name+"}", v)
		}
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Notification is an in-portal message for a client.
type Notification struct {
	ID            string     `json:"id" db:"id"`
	OwnerID       string     `json:"owner_id" db:"owner_id"`
	ClientID      string     `json:"client_id" db:"client_id"`
	AppointmentID string     `json:"appointment_id,omitempty" db:"appointment_id"`
	Title         string     `json:"title" db:"title"`
	Body          string     `json:"body" db:"body"`
	ReadAt        *time.Time `json:"read_at,omitempty" db:"read_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// Unread reports whether the client has not opened the notification.
func (n Notification) Unread() bool {
	return n.ReadAt == nil
}
