package reminders

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/studiodesk/studiodesk/internal/app/domain/appointment"
	"github.com/studiodesk/studiodesk/internal/app/domain/notification"
	"github.com/studiodesk/studiodesk/internal/app/metrics"
	"github.com/studiodesk/studiodesk/internal/app/notify"
	"github.com/studiodesk/studiodesk/internal/app/system"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

// Source supplies due appointments and records sent reminders.
type Source interface {
	DueForReminder(ctx context.Context, from, to time.Time) ([]appointment.Details, error)
	// MarkReminded stamps the appointment unless it moved since sent was
	// read; marked is false in that case.
	MarkReminded(ctx context.Context, sent appointment.Appointment, at time.Time) (marked bool, err error)
}

// Templates renders owner-defined reminder texts.
type Templates interface {
	RenderReminder(ctx context.Context, appt appointment.Details, channel notification.Channel) (subject, body string, ok bool, err error)
}

// Portal posts a copy of each reminder to the client portal.
type Portal interface {
	Notify(ctx context.Context, n notification.Notification) (notification.Notification, error)
}

// Dispatcher periodically sends reminders for upcoming appointments.
type Dispatcher struct {
	source    Source
	sender    notify.Sender
	templates Templates
	portal    Portal
	interval  time.Duration
	lead      time.Duration
	loc       *time.Location
	log       *logger.Logger
	now       func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Dispatcher)(nil)

// NewDispatcher creates a reminder dispatcher. A nil sender logs messages.
func NewDispatcher(source Source, sender notify.Sender, interval, lead time.Duration, loc *time.Location, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("reminders")
	}
	if sender == nil {
		sender = notify.NewLogSender(log)
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if lead <= 0 {
		lead = 24 * time.Hour
	}
	if loc == nil {
		loc = time.Local
	}
	return &Dispatcher{
		source:   source,
		sender:   sender,
		interval: interval,
		lead:     lead,
		loc:      loc,
		log:      log,
		now:      time.Now,
	}
}

// WithTemplates renders reminders from owner templates when one matches.
func (d *Dispatcher) WithTemplates(t Templates) *Dispatcher {
	d.templates = t
	return d
}

// WithPortal mirrors delivered reminders into the client portal.
func (d *Dispatcher) WithPortal(p Portal) *Dispatcher {
	d.portal = p
	return d
}

func (d *Dispatcher) Name() string { return "reminder-dispatcher" }

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		d.tick(runCtx)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.tick(runCtx)
			}
		}
	}()

	d.log.WithField("interval", d.interval.String()).WithField("lead", d.lead.String()).Info("reminder dispatcher started")
	return nil
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (d *Dispatcher) tick(ctx context.Context) {
	if _, err := d.RunOnce(ctx); err != nil {
		d.log.WithError(err).Warn("reminder run failed")
	}
}

// RunOnce sends reminders for every appointment starting within the lead
// time and returns how many were delivered. Failed deliveries stay pending
// for the next run.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	now := d.now()
	due, err := d.source.DueForReminder(ctx, now, now.Add(d.lead))
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, appt := range due {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		msg, ok := d.render(ctx, appt)
		entry := d.log.WithField("appointment_id", appt.ID).WithField("owner_id", appt.OwnerID)
		if !ok {
			entry.Debug("client has no contact address; reminder skipped")
			continue
		}
		if err := d.sender.Send(ctx, msg); err != nil {
			metrics.RecordReminder(string(msg.Channel), false)
			entry.WithError(err).Warn("reminder delivery failed")
			continue
		}
		metrics.RecordReminder(string(msg.Channel), true)
		marked, err := d.source.MarkReminded(ctx, appt.Appointment, now)
		if err != nil {
			entry.WithError(err).Warn("mark reminded failed")
			continue
		}
		if !marked {
			continue
		}
		sent++
		d.mirror(ctx, appt, msg)
	}
	if sent > 0 {
		d.log.WithField("sent", sent).Info("appointment reminders sent")
	}
	return sent, nil
}

func (d *Dispatcher) mirror(ctx context.Context, appt appointment.Details, msg notify.Message) {
	if d.portal == nil {
		return
	}
	_, err := d.portal.Notify(ctx, notification.Notification{
		OwnerID:       appt.OwnerID,
		ClientID:      appt.ClientID,
		AppointmentID: appt.ID,
		Title:         msg.Subject,
		Body:          msg.Body,
	})
	if err != nil {
		d.log.WithError(err).WithField("appointment_id", appt.ID).Warn("portal notification failed")
	}
}

// render builds the message for one appointment, preferring email over SMS.
// An owner template for the channel replaces the built-in text.
func (d *Dispatcher) render(ctx context.Context, appt appointment.Details) (notify.Message, bool) {
	msg := notify.Message{
		Subject:  "Appointment reminder",
		Metadata: map[string]string{"appointment_id": appt.ID, "owner_id": appt.OwnerID},
	}
	switch {
	case strings.TrimSpace(appt.Client.Email) != "":
		msg.Channel = notify.ChannelEmail
		msg.To = strings.TrimSpace(appt.Client.Email)
	case strings.TrimSpace(appt.Client.Phone) != "":
		msg.Channel = notify.ChannelSMS
		msg.To = strings.TrimSpace(appt.Client.Phone)
	default:
		return notify.Message{}, false
	}

	when := appt.Date + " " + appt.StartTime
	if start, err := appt.StartsAt(d.loc); err == nil {
		when = start.Format("Mon 02.01.2006 15:04")
	}
	what := "your appointment"
	if appt.Service.Name != "" {
		what = "your " + appt.Service.Name + " appointment"
	}
	msg.Body = fmt.Sprintf("Hello %s, this is a reminder of %s on %s.",
		strings.TrimSpace(appt.Client.FirstName), what, when)

	if d.templates != nil {
		subject, body, ok, err := d.templates.RenderReminder(ctx, appt, notification.Channel(msg.Channel))
		switch {
		case err != nil:
			d.log.WithError(err).WithField("appointment_id", appt.ID).Warn("reminder template failed; using default text")
		case ok:
			if subject != "" {
				msg.Subject = subject
			}
			msg.Body = body
		}
	}
	return msg, true
}
