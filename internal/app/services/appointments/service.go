package appointments

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/studiodesk/studiodesk/internal/app/domain/appointment"
	"github.com/studiodesk/studiodesk/internal/app/domain/catalog"
	"github.com/studiodesk/studiodesk/internal/app/domain/client"
	"github.com/studiodesk/studiodesk/internal/app/metrics"
	"github.com/studiodesk/studiodesk/internal/app/realtime"
	"github.com/studiodesk/studiodesk/internal/app/storage"
	"github.com/studiodesk/studiodesk/internal/errors"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

const minutesPerDay = 24 * 60

// Publisher receives calendar change events.
type Publisher interface {
	Publish(ownerID string, ev realtime.Event)
}

// Service books and manages appointments on an owner's calendar.
type Service struct {
	store     storage.AppointmentStore
	clients   storage.ClientStore
	catalog   storage.CatalogStore
	publisher Publisher
	loc       *time.Location
	log       *logger.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an appointments service. loc is the studio's time zone used to
// resolve wall-clock dates; nil means time.Local.
func New(store storage.AppointmentStore, clients storage.ClientStore, catalogStore storage.CatalogStore, loc *time.Location, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("appointments")
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		store:   store,
		clients: clients,
		catalog: catalogStore,
		loc:     loc,
		log:     log,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// WithPublisher attaches the realtime hub.
func (s *Service) WithPublisher(p Publisher) {
	s.publisher = p
}

// Location returns the studio time zone.
func (s *Service) Location() *time.Location {
	return s.loc
}

func (s *Service) ownerLock(ownerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[ownerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[ownerID] = l
	}
	return l
}

func (s *Service) publish(ownerID, kind string, appt appointment.Appointment) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ownerID, realtime.Event{
		Type:          kind,
		AppointmentID: appt.ID,
		Date:          appt.Date,
		Status:        string(appt.Status),
	})
}

// Book validates and stores a new scheduled appointment.
func (s *Service) Book(ctx context.Context, ownerID string, appt appointment.Appointment) (appointment.Appointment, error) {
	appt.ID = ""
	appt.OwnerID = ownerID
	appt.Status = appointment.StatusScheduled
	appt.ReminderSentAt = nil

	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.prepare(ctx, &appt); err != nil {
		return appointment.Appointment{}, err
	}
	if err := s.checkOverlap(ctx, appt); err != nil {
		return appointment.Appointment{}, err
	}

	created, err := s.store.CreateAppointment(ctx, appt)
	if err != nil {
		return appointment.Appointment{}, errors.FromStore(err, "appointment", "")
	}
	metrics.RecordBooking()
	s.log.WithField("owner_id", ownerID).
		WithField("appointment_id", created.ID).
		WithField("date", created.Date).
		Info("appointment booked")
	s.publish(ownerID, realtime.EventCreated, created)
	return created, nil
}

// Update applies changes to an appointment. The end time is re-derived from
// the service duration only when the start or the service moves and no end
// time is given.
func (s *Service) Update(ctx context.Context, ownerID, id string, changes appointment.Changes) (appointment.Appointment, error) {
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return appointment.Appointment{}, err
	}
	appt := existing
	if changes.ClientID != "" {
		appt.ClientID = changes.ClientID
	}
	if changes.ServiceID != "" {
		appt.ServiceID = changes.ServiceID
	}
	if changes.Date != "" {
		appt.Date = changes.Date
	}
	if changes.StartTime != "" {
		appt.StartTime = changes.StartTime
	}
	if changes.Notes != nil {
		appt.Notes = *changes.Notes
	}
	switch {
	case changes.EndTime != "":
		appt.EndTime = changes.EndTime
	case appt.StartTime != existing.StartTime || appt.ServiceID != existing.ServiceID:
		appt.EndTime = ""
	}
	if appt.Date != existing.Date || appt.StartTime != existing.StartTime {
		appt.ReminderSentAt = nil
	}

	if err := s.prepare(ctx, &appt); err != nil {
		return appointment.Appointment{}, err
	}
	if appt.Active() {
		if err := s.checkOverlap(ctx, appt); err != nil {
			return appointment.Appointment{}, err
		}
	}

	updated, err := s.store.UpdateAppointment(ctx, appt)
	if err != nil {
		return appointment.Appointment{}, errors.FromStore(err, "appointment", id)
	}
	s.publish(ownerID, realtime.EventUpdated, updated)
	return updated, nil
}

// prepare checks ownership of client and service, parses the slot and fills a
// missing end time from the service duration.
func (s *Service) prepare(ctx context.Context, appt *appointment.Appointment) error {
	appt.Notes = strings.TrimSpace(appt.Notes)
	if appt.ClientID == "" {
		return errors.Required("client_id")
	}
	if appt.ServiceID == "" {
		return errors.Required("service_id")
	}
	if _, err := time.Parse(appointment.DateLayout, appt.Date); err != nil {
		return errors.InvalidInput(fmt.Sprintf("date %q must be YYYY-MM-DD", appt.Date))
	}
	start, err := appointment.Minutes(appt.StartTime)
	if err != nil {
		return errors.InvalidInput(err.Error())
	}

	c, err := s.clients.GetClient(ctx, appt.ClientID)
	if err != nil || c.OwnerID != appt.OwnerID {
		return errors.NotFound("client", appt.ClientID)
	}
	svc, err := s.catalog.GetService(ctx, appt.ServiceID)
	if err != nil || svc.OwnerID != appt.OwnerID {
		return errors.NotFound("service", appt.ServiceID)
	}

	if appt.EndTime == "" {
		end := start + svc.DurationMinutes
		if end >= minutesPerDay {
			return errors.InvalidInput("appointment must end on the same day")
		}
		appt.EndTime = fmt.Sprintf("%02d:%02d", end/60, end%60)
	}
	end, err := appointment.Minutes(appt.EndTime)
	if err != nil {
		return errors.InvalidInput(err.Error())
	}
	if end <= start {
		return errors.InvalidInput("end_time must be after start_time")
	}
	return nil
}

func (s *Service) checkOverlap(ctx context.Context, appt appointment.Appointment) error {
	start, _ := appointment.Minutes(appt.StartTime)
	end, _ := appointment.Minutes(appt.EndTime)

	sameDay, err := s.store.ListAppointments(ctx, appt.OwnerID, storage.AppointmentFilter{Date: appt.Date})
	if err != nil {
		return err
	}
	for _, other := range sameDay {
		if other.ID == appt.ID || !other.Active() {
			continue
		}
		oStart, err := appointment.Minutes(other.StartTime)
		if err != nil {
			continue
		}
		oEnd, err := appointment.Minutes(other.EndTime)
		if err != nil {
			continue
		}
		if appointment.Overlaps(start, end, oStart, oEnd) {
			metrics.RecordBookingConflict()
			return errors.Conflict("time slot overlaps an existing appointment").
				WithDetails("appointment_id", other.ID).
				WithDetails("start_time", other.StartTime).
				WithDetails("end_time", other.EndTime)
		}
	}
	return nil
}

// Get returns the owner's appointment.
func (s *Service) Get(ctx context.Context, ownerID, id string) (appointment.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return appointment.Appointment{}, errors.FromStore(err, "appointment", id)
	}
	if appt.OwnerID != ownerID {
		return appointment.Appointment{}, errors.NotFound("appointment", id)
	}
	return appt, nil
}

// Delete removes an appointment.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	appt, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAppointment(ctx, id); err != nil {
		return errors.FromStore(err, "appointment", id)
	}
	s.log.WithField("owner_id", ownerID).WithField("appointment_id", id).Info("appointment deleted")
	s.publish(ownerID, realtime.EventDeleted, appt)
	return nil
}

var transitions = map[appointment.Status][]appointment.Status{
	appointment.StatusScheduled: {appointment.StatusCompleted, appointment.StatusCancelled, appointment.StatusNoShow},
	appointment.StatusCancelled: {appointment.StatusScheduled},
}

// CanTransition reports whether an appointment may move from one status to
// another.
func CanTransition(from, to appointment.Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// SetStatus moves an appointment through its lifecycle.
func (s *Service) SetStatus(ctx context.Context, ownerID, id string, status appointment.Status) (appointment.Appointment, error) {
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	appt, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return appointment.Appointment{}, err
	}
	if !CanTransition(appt.Status, status) {
		return appointment.Appointment{}, errors.InvalidInput(fmt.Sprintf("cannot change status from %s to %s", appt.Status, status))
	}
	appt.Status = status
	if status == appointment.StatusScheduled {
		if err := s.checkOverlap(ctx, appt); err != nil {
			return appointment.Appointment{}, err
		}
	}
	updated, err := s.store.UpdateAppointment(ctx, appt)
	if err != nil {
		return appointment.Appointment{}, errors.FromStore(err, "appointment", id)
	}
	s.log.WithField("owner_id", ownerID).
		WithField("appointment_id", id).
		WithField("status", status).
		Info("appointment status changed")
	s.publish(ownerID, realtime.EventStatusChanged, updated)
	return updated, nil
}

// ListByDate returns the owner's appointments on one day.
func (s *Service) ListByDate(ctx context.Context, ownerID, date string) ([]appointment.Details, error) {
	if _, err := time.Parse(appointment.DateLayout, date); err != nil {
		return nil, errors.InvalidInput(fmt.Sprintf("date %q must be YYYY-MM-DD", date))
	}
	return s.list(ctx, ownerID, storage.AppointmentFilter{Date: date})
}

// ListRange returns appointments between start and end inclusive.
func (s *Service) ListRange(ctx context.Context, ownerID, start, end string) ([]appointment.Details, error) {
	from, err := time.Parse(appointment.DateLayout, start)
	if err != nil {
		return nil, errors.InvalidInput(fmt.Sprintf("start %q must be YYYY-MM-DD", start))
	}
	to, err := time.Parse(appointment.DateLayout, end)
	if err != nil {
		return nil, errors.InvalidInput(fmt.Sprintf("end %q must be YYYY-MM-DD", end))
	}
	if to.Before(from) {
		return nil, errors.InvalidInput("end must not be before start")
	}
	return s.list(ctx, ownerID, storage.AppointmentFilter{From: start, To: end})
}

// ListByClient returns a client's appointments.
func (s *Service) ListByClient(ctx context.Context, ownerID, clientID string) ([]appointment.Details, error) {
	c, err := s.clients.GetClient(ctx, clientID)
	if err != nil || c.OwnerID != ownerID {
		return nil, errors.NotFound("client", clientID)
	}
	return s.list(ctx, ownerID, storage.AppointmentFilter{ClientID: clientID})
}

// ClientWithAppointments returns a client with their appointment history.
func (s *Service) ClientWithAppointments(ctx context.Context, ownerID, clientID string) (appointment.ClientWithAppointments, error) {
	c, err := s.clients.GetClient(ctx, clientID)
	if err != nil || c.OwnerID != ownerID {
		return appointment.ClientWithAppointments{}, errors.NotFound("client", clientID)
	}
	details, err := s.list(ctx, ownerID, storage.AppointmentFilter{ClientID: clientID})
	if err != nil {
		return appointment.ClientWithAppointments{}, err
	}
	return appointment.ClientWithAppointments{Client: c, Appointments: details}, nil
}

func (s *Service) list(ctx context.Context, ownerID string, filter storage.AppointmentFilter) ([]appointment.Details, error) {
	appts, err := s.store.ListAppointments(ctx, ownerID, filter)
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, appts), nil
}

// enrich joins each appointment with its client and service. Rows whose
// client or service is gone keep an empty value.
func (s *Service) enrich(ctx context.Context, appts []appointment.Appointment) []appointment.Details {
	clients := make(map[string]client.Client)
	services := make(map[string]catalog.Service)
	out := make([]appointment.Details, 0, len(appts))
	for _, a := range appts {
		d := appointment.Details{Appointment: a}
		if c, ok := clients[a.ClientID]; ok {
			d.Client = c
		} else if c, err := s.clients.GetClient(ctx, a.ClientID); err == nil {
			clients[a.ClientID] = c
			d.Client = c
		}
		if svc, ok := services[a.ServiceID]; ok {
			d.Service = svc
		} else if svc, err := s.catalog.GetService(ctx, a.ServiceID); err == nil {
			services[a.ServiceID] = svc
			d.Service = svc
		}
		out = append(out, d)
	}
	return out
}

// DueForReminder returns scheduled, not yet reminded appointments of every
// owner that start within [from, to].
func (s *Service) DueForReminder(ctx context.Context, from, to time.Time) ([]appointment.Details, error) {
	pending, err := s.store.ListPendingReminders(ctx,
		from.In(s.loc).Format(appointment.DateLayout),
		to.In(s.loc).Format(appointment.DateLayout))
	if err != nil {
		return nil, err
	}
	due := make([]appointment.Appointment, 0, len(pending))
	for _, a := range pending {
		startsAt, err := a.StartsAt(s.loc)
		if err != nil {
			s.log.WithError(err).WithField("appointment_id", a.ID).Warn("skipping appointment with bad start time")
			continue
		}
		if startsAt.Before(from) || startsAt.After(to) {
			continue
		}
		due = append(due, a)
	}
	return s.enrich(ctx, due), nil
}

// MarkReminded records that a reminder for sent went out. The stamp is
// skipped when the appointment was rescheduled or cancelled after sent was
// read, so the new slot still gets its reminder.
func (s *Service) MarkReminded(ctx context.Context, sent appointment.Appointment, at time.Time) (bool, error) {
	lock := s.ownerLock(sent.OwnerID)
	lock.Lock()
	defer lock.Unlock()

	appt, err := s.store.GetAppointment(ctx, sent.ID)
	if err != nil {
		return false, errors.FromStore(err, "appointment", sent.ID)
	}
	if appt.Date != sent.Date || appt.StartTime != sent.StartTime || appt.Status != appointment.StatusScheduled {
		s.log.WithField("appointment_id", appt.ID).Info("appointment changed after reminder was sent")
		return false, nil
	}
	at = at.UTC()
	appt.ReminderSentAt = &at
	if _, err := s.store.UpdateAppointment(ctx, appt); err != nil {
		return false, errors.FromStore(err, "appointment", sent.ID)
	}
	return true, nil
}
