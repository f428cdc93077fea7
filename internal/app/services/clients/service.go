package clients

import (
	"context"
	"strings"
	"time"

	"github.com/studiodesk/studiodesk/internal/app/domain/appointment"
	"github.com/studiodesk/studiodesk/internal/app/domain/client"
	"github.com/studiodesk/studiodesk/internal/app/domain/invoice"
	"github.com/studiodesk/studiodesk/internal/app/domain/notification"
	"github.com/studiodesk/studiodesk/internal/app/storage"
	"github.com/studiodesk/studiodesk/internal/errors"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

// TokenRevoker drops every portal credential of a client.
type TokenRevoker interface {
	RevokeAll(ctx context.Context, clientID string) (int, error)
}

// Export is the data-protection bundle for one client.
type Export struct {
	Client        client.Client               `json:"client"`
	Appointments  []appointment.Appointment   `json:"appointments"`
	Consents      []client.Consent            `json:"consents"`
	Access        []client.Access             `json:"access"`
	Notes         []client.Note               `json:"notes"`
	Invoices      []invoice.Invoice           `json:"invoices,omitempty"`
	Notifications []notification.Notification `json:"notifications,omitempty"`
	ExportedAt    time.Time                   `json:"exported_at"`
}

const maxNote = 5000

// Service manages client records for an owner.
type Service struct {
	store        storage.ClientStore
	appointments storage.AppointmentStore
	accounts     storage.ClientAccountStore
	invoices     storage.InvoiceStore
	inbox        storage.NotificationStore
	tokens       TokenRevoker
	log          *logger.Logger
	now          func() time.Time
}

// New creates a clients service. tokens may be nil and can be attached later
// with WithTokenRevoker.
func New(store storage.ClientStore, appointments storage.AppointmentStore, accounts storage.ClientAccountStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("clients")
	}
	return &Service{store: store, appointments: appointments, accounts: accounts, log: log, now: time.Now}
}

// WithTokenRevoker attaches the activation service so deletes revoke tokens.
func (s *Service) WithTokenRevoker(tokens TokenRevoker) {
	s.tokens = tokens
}

// WithBilling blocks deleting clients that have invoices and adds invoices
// to exports.
func (s *Service) WithBilling(invoices storage.InvoiceStore) {
	s.invoices = invoices
}

// WithNotifications clears portal notifications when a client is removed.
func (s *Service) WithNotifications(inbox storage.NotificationStore) {
	s.inbox = inbox
}

func validate(c *client.Client) error {
	c.FirstName = strings.TrimSpace(c.FirstName)
	c.LastName = strings.TrimSpace(c.LastName)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Email = strings.TrimSpace(c.Email)
	if c.FirstName == "" {
		return errors.Required("first_name")
	}
	if c.LastName == "" {
		return errors.Required("last_name")
	}
	if c.Phone == "" {
		return errors.Required("phone")
	}
	if c.Email != "" && !strings.Contains(c.Email, "@") {
		return errors.InvalidInput("email is not valid")
	}
	return nil
}

// Create stores a new client for the owner.
func (s *Service) Create(ctx context.Context, ownerID string, c client.Client) (client.Client, error) {
	if err := validate(&c); err != nil {
		return client.Client{}, err
	}
	c.ID = ""
	c.OwnerID = ownerID
	c.HasConsent = false
	c.Anonymized = false
	created, err := s.store.CreateClient(ctx, c)
	if err != nil {
		return client.Client{}, errors.FromStore(err, "client", "")
	}
	s.log.WithField("owner_id", ownerID).WithField("client_id", created.ID).Info("client created")
	return created, nil
}

// Get returns the owner's client. Another owner's client is reported missing.
func (s *Service) Get(ctx context.Context, ownerID, id string) (client.Client, error) {
	c, err := s.store.GetClient(ctx, id)
	if err != nil {
		return client.Client{}, errors.FromStore(err, "client", id)
	}
	if c.OwnerID != ownerID {
		return client.Client{}, errors.NotFound("client", id)
	}
	return c, nil
}

// Update replaces the editable fields of a client.
func (s *Service) Update(ctx context.Context, ownerID, id string, c client.Client) (client.Client, error) {
	existing, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return client.Client{}, err
	}
	if err := validate(&c); err != nil {
		return client.Client{}, err
	}
	c.ID = existing.ID
	c.OwnerID = existing.OwnerID
	c.HasConsent = existing.HasConsent
	c.Anonymized = existing.Anonymized
	updated, err := s.store.UpdateClient(ctx, c)
	if err != nil {
		return client.Client{}, errors.FromStore(err, "client", id)
	}
	return updated, nil
}

// List returns the owner's clients.
func (s *Service) List(ctx context.Context, ownerID string) ([]client.Client, error) {
	return s.store.ListClients(ctx, ownerID)
}

// Search filters the owner's clients by name, phone or email.
func (s *Service) Search(ctx context.Context, ownerID, query string) ([]client.Client, error) {
	all, err := s.store.ListClients(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	result := make([]client.Client, 0, len(all))
	for _, c := range all {
		if c.Matches(query) {
			result = append(result, c)
		}
	}
	return result, nil
}

// Delete removes the client with everything stored about them. Clients with
// invoices must be anonymized instead.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return err
	}
	if s.invoices != nil {
		billed, err := s.invoices.ListInvoices(ctx, ownerID, storage.InvoiceFilter{ClientID: id})
		if err != nil {
			return err
		}
		if len(billed) > 0 {
			return errors.Conflict("client has invoices; anonymize instead")
		}
	}
	if err := s.appointments.DeleteClientAppointments(ctx, id); err != nil {
		return err
	}
	if err := s.purgePortal(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteClient(ctx, id); err != nil {
		return errors.FromStore(err, "client", id)
	}
	s.log.WithField("owner_id", ownerID).WithField("client_id", id).Info("client deleted")
	return nil
}

func (s *Service) purgePortal(ctx context.Context, clientID string) error {
	if err := s.store.DeleteConsents(ctx, clientID); err != nil {
		return err
	}
	if err := s.store.DeleteNotes(ctx, clientID); err != nil {
		return err
	}
	if s.inbox != nil {
		if err := s.inbox.DeleteClientNotifications(ctx, clientID); err != nil {
			return err
		}
	}
	if s.accounts != nil {
		if err := s.accounts.DeleteClientAccount(ctx, clientID); err != nil {
			return err
		}
	}
	if s.tokens != nil {
		if _, err := s.tokens.RevokeAll(ctx, clientID); err != nil {
			return err
		}
	}
	return nil
}

// RecordConsent stores a signed consent and flags the client.
func (s *Service) RecordConsent(ctx context.Context, ownerID, clientID, text, signature string) (client.Consent, error) {
	c, err := s.Get(ctx, ownerID, clientID)
	if err != nil {
		return client.Consent{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return client.Consent{}, errors.Required("consent_text")
	}
	consent, err := s.store.CreateConsent(ctx, client.Consent{
		ClientID:    clientID,
		OwnerID:     ownerID,
		ConsentText: text,
		Signature:   signature,
		SignedAt:    s.now().UTC(),
	})
	if err != nil {
		return client.Consent{}, errors.FromStore(err, "consent", clientID)
	}
	if !c.HasConsent {
		c.HasConsent = true
		if _, err := s.store.UpdateClient(ctx, c); err != nil {
			return client.Consent{}, errors.FromStore(err, "client", clientID)
		}
	}
	return consent, nil
}

// ListConsents returns the client's signed consents.
func (s *Service) ListConsents(ctx context.Context, ownerID, clientID string) ([]client.Consent, error) {
	if _, err := s.Get(ctx, ownerID, clientID); err != nil {
		return nil, err
	}
	return s.store.ListConsents(ctx, clientID)
}

// Export gathers everything stored about a client.
func (s *Service) Export(ctx context.Context, ownerID, clientID string) (Export, error) {
	c, err := s.Get(ctx, ownerID, clientID)
	if err != nil {
		return Export{}, err
	}
	appts, err := s.appointments.ListAppointments(ctx, ownerID, storage.AppointmentFilter{ClientID: clientID})
	if err != nil {
		return Export{}, err
	}
	consents, err := s.store.ListConsents(ctx, clientID)
	if err != nil {
		return Export{}, err
	}
	access, err := s.store.ListAccess(ctx, clientID)
	if err != nil {
		return Export{}, err
	}
	notes, err := s.store.ListNotes(ctx, clientID)
	if err != nil {
		return Export{}, err
	}
	out := Export{
		Client:       c,
		Appointments: appts,
		Consents:     consents,
		Access:       access,
		Notes:        notes,
		ExportedAt:   s.now().UTC(),
	}
	if s.invoices != nil {
		if out.Invoices, err = s.invoices.ListInvoices(ctx, ownerID, storage.InvoiceFilter{ClientID: clientID}); err != nil {
			return Export{}, err
		}
	}
	if s.inbox != nil {
		if out.Notifications, err = s.inbox.ListNotifications(ctx, clientID, false); err != nil {
			return Export{}, err
		}
	}
	s.log.WithField("owner_id", ownerID).WithField("client_id", clientID).Info("client data exported")
	return out, nil
}

// Anonymize erases personal data but keeps appointment history.
func (s *Service) Anonymize(ctx context.Context, ownerID, clientID string) (client.Client, error) {
	c, err := s.Get(ctx, ownerID, clientID)
	if err != nil {
		return client.Client{}, err
	}
	if err := s.purgePortal(ctx, clientID); err != nil {
		return client.Client{}, err
	}
	anonymized := client.Client{
		ID:         c.ID,
		OwnerID:    c.OwnerID,
		FirstName:  "Anonymized",
		LastName:   "Client",
		Anonymized: true,
	}
	updated, err := s.store.UpdateClient(ctx, anonymized)
	if err != nil {
		return client.Client{}, errors.FromStore(err, "client", clientID)
	}
	s.log.WithField("owner_id", ownerID).WithField("client_id", clientID).Info("client anonymized")
	return updated, nil
}

// AddNote attaches a private note to a client.
func (s *Service) AddNote(ctx context.Context, ownerID, clientID, content string) (client.Note, error) {
	if _, err := s.Get(ctx, ownerID, clientID); err != nil {
		return client.Note{}, err
	}
	content, err := noteContent(content)
	if err != nil {
		return client.Note{}, err
	}
	now := s.now().UTC()
	note, err := s.store.CreateNote(ctx, client.Note{
		ClientID:  clientID,
		OwnerID:   ownerID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return client.Note{}, errors.FromStore(err, "note", "")
	}
	return note, nil
}

// ListNotes returns a client's notes, oldest first.
func (s *Service) ListNotes(ctx context.Context, ownerID, clientID string) ([]client.Note, error) {
	if _, err := s.Get(ctx, ownerID, clientID); err != nil {
		return nil, err
	}
	return s.store.ListNotes(ctx, clientID)
}

func (s *Service) note(ctx context.Context, ownerID, clientID, id string) (client.Note, error) {
	note, err := s.store.GetNote(ctx, id)
	if err != nil {
		return client.Note{}, errors.FromStore(err, "note", id)
	}
	if note.OwnerID != ownerID || note.ClientID != clientID {
		return client.Note{}, errors.NotFound("note", id)
	}
	return note, nil
}

// UpdateNote replaces a note's text.
func (s *Service) UpdateNote(ctx context.Context, ownerID, clientID, id, content string) (client.Note, error) {
	note, err := s.note(ctx, ownerID, clientID, id)
	if err != nil {
		return client.Note{}, err
	}
	if note.Content, err = noteContent(content); err != nil {
		return client.Note{}, err
	}
	note.UpdatedAt = s.now().UTC()
	updated, err := s.store.UpdateNote(ctx, note)
	if err != nil {
		return client.Note{}, errors.FromStore(err, "note", id)
	}
	return updated, nil
}

// DeleteNote removes a note.
func (s *Service) DeleteNote(ctx context.Context, ownerID, clientID, id string) error {
	if _, err := s.note(ctx, ownerID, clientID, id); err != nil {
		return err
	}
	if err := s.store.DeleteNote(ctx, id); err != nil {
		return errors.FromStore(err, "note", id)
	}
	return nil
}

func noteContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.Required("content")
	}
	if len(content) > maxNote {
		return "", errors.InvalidInput("note is too long")
	}
	return content, nil
}

// LogAccess records a successful portal login.
func (s *Service) LogAccess(ctx context.Context, clientID string, pwa bool) error {
	return s.store.RecordAccess(ctx, client.Access{ClientID: clientID, At: s.now().UTC(), PWA: pwa})
}
