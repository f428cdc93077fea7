package appointment

import (
	"fmt"
	"time"

	"github.com/studiodesk/studiodesk/internal/app/domain/catalog"
	"github.com/studiodesk/studiodesk/internal/app/domain/client"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Appointment is a booked slot on an owner's calendar. Date and times are
// wall-clock values in the studio's time zone.
type Appointment struct {
	ID             string     `json:"id" db:"id"`
	OwnerID        string     `json:"owner_id" db:"owner_id"`
	ClientID       string     `json:"client_id" db:"client_id"`
	ServiceID      string     `json:"service_id" db:"service_id"`
	Date           string     `json:"date" db:"date"`
	StartTime      string     `json:"start_time" db:"start_time"`
	EndTime        string     `json:"end_time" db:"end_time"`
	Notes          string     `json:"notes,omitempty" db:"notes"`
	Status         Status     `json:"status" db:"status"`
	ReminderSentAt *time.Time `json:"reminder_sent_at,omitempty" db:"reminder_sent_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Changes is a partial update of an appointment. Empty strings keep the
// stored value; a nil Notes keeps the stored notes and an empty one clears
// them.
type Changes struct {
	ClientID  string
	ServiceID string
	Date      string
	StartTime string
	EndTime   string
	Notes     *string
}

// Active reports whether the appointment occupies its slot.
func (a Appointment) Active() bool {
	return a.Status != StatusCancelled
}

// StartsAt resolves the start instant in loc.
func (a Appointment) StartsAt(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateLayout+" "+TimeLayout, a.Date+" "+a.StartTime, loc)
}

// Minutes converts an HH:MM value into minutes after midnight.
func Minutes(hhmm string) (int, error) {
	t, err := time.Parse(TimeLayout, hhmm)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", hhmm)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Overlaps reports whether the half-open intervals [aStart,aEnd) and
// [bStart,bEnd) intersect. All values are minutes after midnight.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

// Details is an appointment joined with its client and service.
type Details struct {
	Appointment
	Client  client.Client   `json:"client"`
	Service catalog.Service `json:"service"`
}

// ClientWithAppointments is a client plus their calendar history.
type ClientWithAppointments struct {
	client.Client
	Appointments []Details `json:"appointments"`
}
