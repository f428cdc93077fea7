// Package messages manages owner reminder templates and the in-portal
// notifications clients see after logging in.
package messages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/studiodesk/studiodesk/internal/app/domain/appointment"
	"github.com/studiodesk/studiodesk/internal/app/domain/notification"
	"github.com/studiodesk/studiodesk/internal/app/metrics"
	"github.com/studiodesk/studiodesk/internal/app/storage"
	"github.com/studiodesk/studiodesk/internal/errors"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

const (
	maxTitle   = 200
	maxContent = 2000
)

// Service owns reminder templates and portal notifications.
type Service struct {
	templates     storage.TemplateStore
	notifications storage.NotificationStore
	owners        storage.OwnerStore
	clients       storage.ClientStore
	catalog       storage.CatalogStore
	loc           *time.Location
	log           *logger.Logger
	now           func() time.Time
}

// New creates a messages service. loc formats appointment dates in rendered
// reminders.
func New(templates storage.TemplateStore, notifications storage.NotificationStore, owners storage.OwnerStore, clients storage.ClientStore, catalog storage.CatalogStore, loc *time.Location, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("messages")
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		templates:     templates,
		notifications: notifications,
		owners:        owners,
		clients:       clients,
		catalog:       catalog,
		loc:           loc,
		log:           log,
		now:           time.Now,
	}
}

func (s *Service) validate(ctx context.Context, ownerID string, t *notification.Template) error {
	t.Name = strings.TrimSpace(t.Name)
	t.Subject = strings.TrimSpace(t.Subject)
	t.Content = strings.TrimSpace(t.Content)
	t.ServiceID = strings.TrimSpace(t.ServiceID)
	if t.Name == "" {
		return errors.Required("name")
	}
	if !t.Channel.Valid() {
		return errors.InvalidInput(fmt.Sprintf("channel %q must be email or sms", t.Channel))
	}
	if t.Content == "" {
		return errors.Required("content")
	}
	if len(t.Content) > maxContent {
		return errors.InvalidInput(fmt.Sprintf("content exceeds %d characters", maxContent))
	}
	if t.ServiceID != "" {
		svc, err := s.catalog.GetService(ctx, t.ServiceID)
		if err != nil || svc.OwnerID != ownerID {
			return errors.NotFound("service", t.ServiceID)
		}
	}
	return nil
}

// CreateTemplate stores a reminder template. Saving a default replaces the
// owner's previous default for that channel.
func (s *Service) CreateTemplate(ctx context.Context, ownerID string, t notification.Template) (notification.Template, error) {
	if err := s.validate(ctx, ownerID, &t); err != nil {
		return notification.Template{}, err
	}
	t.ID = ""
	t.OwnerID = ownerID
	created, err := s.templates.CreateTemplate(ctx, t)
	if err != nil {
		return notification.Template{}, errors.FromStore(err, "template", "")
	}
	s.log.WithField("owner_id", ownerID).WithField("template_id", created.ID).Info("reminder template created")
	return created, nil
}

// GetTemplate returns one of the owner's templates.
func (s *Service) GetTemplate(ctx context.Context, ownerID, id string) (notification.Template, error) {
	t, err := s.templates.GetTemplate(ctx, id)
	if err != nil {
		return notification.Template{}, errors.FromStore(err, "template", id)
	}
	if t.OwnerID != ownerID {
		return notification.Template{}, errors.NotFound("template", id)
	}
	return t, nil
}

// UpdateTemplate replaces a template.
func (s *Service) UpdateTemplate(ctx context.Context, ownerID, id string, t notification.Template) (notification.Template, error) {
	if _, err := s.GetTemplate(ctx, ownerID, id); err != nil {
		return notification.Template{}, err
	}
	if err := s.validate(ctx, ownerID, &t); err != nil {
		return notification.Template{}, err
	}
	t.ID = id
	t.OwnerID = ownerID
	updated, err := s.templates.UpdateTemplate(ctx, t)
	if err != nil {
		return notification.Template{}, errors.FromStore(err, "template", id)
	}
	return updated, nil
}

// ListTemplates returns the owner's templates.
func (s *Service) ListTemplates(ctx context.Context, ownerID string) ([]notification.Template, error) {
	return s.templates.ListTemplates(ctx, ownerID)
}

// DeleteTemplate removes a template.
func (s *Service) DeleteTemplate(ctx context.Context, ownerID, id string) error {
	if _, err := s.GetTemplate(ctx, ownerID, id); err != nil {
		return err
	}
	if err := s.templates.DeleteTemplate(ctx, id); err != nil {
		return errors.FromStore(err, "template", id)
	}
	return nil
}

// Resolve picks the template for a service and channel, falling back to the
// owner's default for the channel.
func (s *Service) Resolve(ctx context.Context, ownerID, serviceID string, channel notification.Channel) (notification.Template, bool, error) {
	all, err := s.templates.ListTemplates(ctx, ownerID)
	if err != nil {
		return notification.Template{}, false, err
	}
	var fallback *notification.Template
	for i := range all {
		t := all[i]
		if t.Channel != channel {
			continue
		}
		if serviceID != "" && t.ServiceID == serviceID {
			return t, true, nil
		}
		if t.ServiceID == "" && t.IsDefault && fallback == nil {
			fallback = &all[i]
		}
	}
	if fallback != nil {
		return *fallback, true, nil
	}
	return notification.Template{}, false, nil
}

// RenderReminder fills the owner's template for appt. ok is false when the
// owner has no template for the channel.
func (s *Service) RenderReminder(ctx context.Context, appt appointment.Details, channel notification.Channel) (subject, body string, ok bool, err error) {
	t, found, err := s.Resolve(ctx, appt.OwnerID, appt.ServiceID, channel)
	if err != nil || !found {
		return "", "", false, err
	}
	values := s.reminderValues(ctx, appt)
	return notification.Render(t.Subject, values), notification.Render(t.Content, values), true, nil
}

func (s *Service) reminderValues(ctx context.Context, appt appointment.Details) map[string]string {
	date := appt.Date
	if start, err := appt.StartsAt(s.loc); err == nil {
		date = start.Format("02.01.2006")
	}
	values := map[string]string{
		"clientName":      appt.Client.FullName(),
		"firstName":       strings.TrimSpace(appt.Client.FirstName),
		"lastName":        strings.TrimSpace(appt.Client.LastName),
		"serviceName":     appt.Service.Name,
		"appointmentDate": date,
		"appointmentTime": appt.StartTime,
		"businessName":    "",
	}
	if owner, err := s.owners.GetOwner(ctx, appt.OwnerID); err == nil {
		values["businessName"] = owner.Username
	}
	return values
}

// Preview renders a template against sample values so owners can check the
// placeholders.
func (s *Service) Preview(ctx context.Context, ownerID, id string) (string, string, error) {
	t, err := s.GetTemplate(ctx, ownerID, id)
	if err != nil {
		return "", "", err
	}
	values := map[string]string{
		"clientName":      "Anna Berg",
		"firstName":       "Anna",
		"lastName":        "Berg",
		"serviceName":     "Massage",
		"appointmentDate": s.now().In(s.loc).Format("02.01.2006"),
		"appointmentTime": "10:00",
	}
	if owner, err := s.owners.GetOwner(ctx, ownerID); err == nil {
		values["businessName"] = owner.Username
	}
	return notification.Render(t.Subject, values), notification.Render(t.Content, values), nil
}

// Notify posts a notification to a client's portal.
func (s *Service) Notify(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	n.Title = strings.TrimSpace(n.Title)
	n.Body = strings.TrimSpace(n.Body)
	if n.ClientID == "" {
		return notification.Notification{}, errors.Required("client_id")
	}
	if n.Title == "" {
		return notification.Notification{}, errors.Required("title")
	}
	if len(n.Title) > maxTitle || len(n.Body) > maxContent {
		return notification.Notification{}, errors.InvalidInput("notification is too long")
	}
	n.ID = ""
	n.ReadAt = nil
	n.CreatedAt = s.now().UTC()
	created, err := s.notifications.CreateNotification(ctx, n)
	if err != nil {
		return notification.Notification{}, errors.FromStore(err, "notification", "")
	}
	metrics.RecordPortalNotification()
	return created, nil
}

// SendToClient lets an owner post a message to one of their clients.
func (s *Service) SendToClient(ctx context.Context, ownerID, clientID, title, body string) (notification.Notification, error) {
	c, err := s.clients.GetClient(ctx, clientID)
	if err != nil || c.OwnerID != ownerID {
		return notification.Notification{}, errors.NotFound("client", clientID)
	}
	return s.Notify(ctx, notification.Notification{OwnerID: ownerID, ClientID: clientID, Title: title, Body: body})
}

// ListForClient returns a client's notifications, newest first.
func (s *Service) ListForClient(ctx context.Context, ownerID, clientID string, unreadOnly bool) ([]notification.Notification, error) {
	all, err := s.notifications.ListNotifications(ctx, clientID, unreadOnly)
	if err != nil {
		return nil, err
	}
	result := make([]notification.Notification, 0, len(all))
	for _, n := range all {
		if n.OwnerID == ownerID {
			result = append(result, n)
		}
	}
	return result, nil
}

func (s *Service) clientNotification(ctx context.Context, ownerID, clientID, id string) error {
	n, err := s.notifications.GetNotification(ctx, id)
	if err != nil {
		return errors.FromStore(err, "notification", id)
	}
	if n.OwnerID != ownerID || n.ClientID != clientID {
		return errors.NotFound("notification", id)
	}
	return nil
}

// MarkRead flags a client's notification as read.
func (s *Service) MarkRead(ctx context.Context, ownerID, clientID, id string) (notification.Notification, error) {
	if err := s.clientNotification(ctx, ownerID, clientID, id); err != nil {
		return notification.Notification{}, err
	}
	n, err := s.notifications.MarkNotificationRead(ctx, id, s.now())
	if err != nil {
		return notification.Notification{}, errors.FromStore(err, "notification", id)
	}
	return n, nil
}

// Dismiss deletes a client's notification.
func (s *Service) Dismiss(ctx context.Context, ownerID, clientID, id string) error {
	if err := s.clientNotification(ctx, ownerID, clientID, id); err != nil {
		return err
	}
	if err := s.notifications.DeleteNotification(ctx, id); err != nil {
		return errors.FromStore(err, "notification", id)
	}
	return nil
}
