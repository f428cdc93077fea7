package memory

import (
	"context"
	"time"

	"github.com/studiodesk/studiodesk/internal/app/domain/notification"
)

// TemplateStore implementation ------------------------------------------------

func (s *Store) clearDefaultsLocked(t notification.Template) {
	if !t.IsDefault {
		return
	}
	for id, other := range s.templates {
		if id != t.ID && other.OwnerID == t.OwnerID && other.Channel == t.Channel && other.IsDefault {
			other.IsDefault = false
			s.templates[id] = other
		}
	}
}

func (s *Store) CreateTemplate(_ context.Context, t notification.Template) (notification.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = s.nextIDLocked()
	} else if _, exists := s.templates[t.ID]; exists {
		return notification.Template{}, conflict("template %s exists", t.ID)
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	s.clearDefaultsLocked(t)
	s.templates[t.ID] = t
	return t, nil
}

func (s *Store) UpdateTemplate(_ context.Context, t notification.Template) (notification.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.templates[t.ID]
	if !ok {
		return notification.Template{}, notFound("template", t.ID)
	}
	t.OwnerID = original.OwnerID
	t.CreatedAt = original.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	s.clearDefaultsLocked(t)
	s.templates[t.ID] = t
	return t, nil
}

func (s *Store) GetTemplate(_ context.Context, id string) (notification.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return notification.Template{}, notFound("template", id)
	}
	return t, nil
}

func (s *Store) ListTemplates(_ context.Context, ownerID string) ([]notification.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]notification.Template, 0)
	for _, t := range s.templates {
		if t.OwnerID == ownerID {
			result = append(result, t)
		}
	}
	sortByNumericID(result, func(t notification.Template) string { return t.ID })
	return result, nil
}

func (s *Store) DeleteTemplate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[id]; !ok {
		return notFound("template", id)
	}
	delete(s.templates, id)
	return nil
}

// NotificationStore implementation --------------------------------------------

func (s *Store) CreateNotification(_ context.Context, n notification.Notification) (notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n.ID = s.nextIDLocked()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.notifications[n.ID] = n
	return n, nil
}

func (s *Store) GetNotification(_ context.Context, id string) (notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notifications[id]
	if !ok {
		return notification.Notification{}, notFound("notification", id)
	}
	return n, nil
}

func (s *Store) ListNotifications(_ context.Context, clientID string, unreadOnly bool) ([]notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]notification.Notification, 0)
	for _, n := range s.notifications {
		if n.ClientID != clientID || (unreadOnly && !n.Unread()) {
			continue
		}
		result = append(result, n)
	}
	sortByNumericID(result, func(n notification.Notification) string { return n.ID })
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id string, at time.Time) (notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return notification.Notification{}, notFound("notification", id)
	}
	if n.ReadAt == nil {
		at = at.UTC()
		n.ReadAt = &at
		s.notifications[id] = n
	}
	return n, nil
}

func (s *Store) DeleteNotification(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notifications[id]; !ok {
		return notFound("notification", id)
	}
	delete(s.notifications, id)
	return nil
}

func (s *Store) DeleteClientNotifications(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, n := range s.notifications {
		if n.ClientID == clientID {
			delete(s.notifications, id)
		}
	}
	return nil
}
