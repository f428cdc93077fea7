package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/studiodesk/studiodesk/internal/app/domain/notification"
)

// --- TemplateStore ----------------------------------------------------------

const templateColumns = `id, owner_id, name, channel, service_id, is_default, subject, content, created_at, updated_at`

// saveTemplate runs write and, for a default template, clears the owner's
// other defaults of the channel in one transaction.
func (s *Store) saveTemplate(ctx context.Context, t notification.Template, write string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if t.IsDefault {
		if _, err := tx.ExecContext(ctx, `
			UPDATE reminder_templates SET is_default = FALSE
			WHERE owner_id = $1 AND channel = $2 AND id <> $3 AND is_default
		`, t.OwnerID, string(t.Channel), t.ID); err != nil {
			return err
		}
	}
	res, err := tx.NamedExecContext(ctx, write, t)
	if err != nil {
		return mapErr(err, "template", t.ID)
	}
	if err := requireRow(res, "template", t.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateTemplate(ctx context.Context, t notification.Template) (notification.Template, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	err := s.saveTemplate(ctx, t, `
		INSERT INTO reminder_templates (`+templateColumns+`)
		VALUES (:id, :owner_id, :name, :channel, :service_id, :is_default, :subject, :content, :created_at, :updated_at)
	`)
	if err != nil {
		return notification.Template{}, err
	}
	return t, nil
}

func (s *Store) UpdateTemplate(ctx context.Context, t notification.Template) (notification.Template, error) {
	existing, err := s.GetTemplate(ctx, t.ID)
	if err != nil {
		return notification.Template{}, err
	}
	t.OwnerID = existing.OwnerID
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	err = s.saveTemplate(ctx, t, `
		UPDATE reminder_templates SET
			name = :name, channel = :channel, service_id = :service_id, is_default = :is_default,
			subject = :subject, content = :content, updated_at = :updated_at
		WHERE id = :id
	`)
	if err != nil {
		return notification.Template{}, err
	}
	return t, nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (notification.Template, error) {
	var t notification.Template
	if err := s.db.GetContext(ctx, &t, `SELECT `+templateColumns+` FROM reminder_templates WHERE id = $1`, id); err != nil {
		return notification.Template{}, mapErr(err, "template", id)
	}
	return t, nil
}

func (s *Store) ListTemplates(ctx context.Context, ownerID string) ([]notification.Template, error) {
	result := []notification.Template{}
	err := s.db.SelectContext(ctx, &result, `
		SELECT `+templateColumns+` FROM reminder_templates WHERE owner_id = $1 ORDER BY created_at
	`, ownerID)
	return result, err
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminder_templates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "template", id)
}

// --- NotificationStore ------------------------------------------------------

const notificationColumns = `id, owner_id, client_id, appointment_id, title, body, read_at, created_at`

func (s *Store) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO client_notifications (`+notificationColumns+`)
		VALUES (:id, :owner_id, :client_id, :appointment_id, :title, :body, :read_at, :created_at)
	`, n)
	if err != nil {
		return notification.Notification{}, mapErr(err, "notification", n.ID)
	}
	return n, nil
}

func (s *Store) GetNotification(ctx context.Context, id string) (notification.Notification, error) {
	var n notification.Notification
	if err := s.db.GetContext(ctx, &n, `SELECT `+notificationColumns+` FROM client_notifications WHERE id = $1`, id); err != nil {
		return notification.Notification{}, mapErr(err, "notification", id)
	}
	return n, nil
}

func (s *Store) ListNotifications(ctx context.Context, clientID string, unreadOnly bool) ([]notification.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM client_notifications WHERE client_id = $1`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	result := []notification.Notification{}
	err := s.db.SelectContext(ctx, &result, query+` ORDER BY created_at DESC`, clientID)
	return result, err
}

// MarkNotificationRead keeps the first read time.
func (s *Store) MarkNotificationRead(ctx context.Context, id string, at time.Time) (notification.Notification, error) {
	var n notification.Notification
	err := s.db.GetContext(ctx, &n, `
		UPDATE client_notifications SET read_at = COALESCE(read_at, $2)
		WHERE id = $1
		RETURNING `+notificationColumns, id, at.UTC())
	if err != nil {
		return notification.Notification{}, mapErr(err, "notification", id)
	}
	return n, nil
}

func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM client_notifications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "notification", id)
}

func (s *Store) DeleteClientNotifications(ctx context.Context, clientID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM client_notifications WHERE client_id = $1`, clientID)
	return err
}
