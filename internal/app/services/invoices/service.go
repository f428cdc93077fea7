// Package invoices bills clients for their appointments and tracks payments.
package invoices

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/studiodesk/studiodesk/internal/app/domain/appointment"
	"github.com/studiodesk/studiodesk/internal/app/domain/invoice"
	"github.com/studiodesk/studiodesk/internal/app/metrics"
	"github.com/studiodesk/studiodesk/internal/app/storage"
	"github.com/studiodesk/studiodesk/internal/errors"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

// Draft is a new invoice with its first lines.
type Draft struct {
	ClientID string
	Date     string
	DueDate  string
	Notes    string
	Items    []invoice.Item
}

// Changes edits the header of an invoice. Nil fields keep the stored value.
type Changes struct {
	Date    *string
	DueDate *string
	Notes   *string
}

// Service manages an owner's invoices. Totals and the paid status are
// always derived from the stored items and payments.
type Service struct {
	store        storage.InvoiceStore
	clients      storage.ClientStore
	catalog      storage.CatalogStore
	appointments storage.AppointmentStore
	loc          *time.Location
	log          *logger.Logger
	now          func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an invoices service. loc is the studio time zone used for the
// default invoice date.
func New(store storage.InvoiceStore, clients storage.ClientStore, catalog storage.CatalogStore, appointments storage.AppointmentStore, loc *time.Location, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("invoices")
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		store:        store,
		clients:      clients,
		catalog:      catalog,
		appointments: appointments,
		loc:          loc,
		log:          log,
		now:          time.Now,
		locks:        make(map[string]*sync.Mutex),
	}
}

func (s *Service) invoiceLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, id)
}

func validDate(field, value string, required bool) error {
	if value == "" {
		if required {
			return errors.Required(field)
		}
		return nil
	}
	if _, err := time.Parse(appointment.DateLayout, value); err != nil {
		return errors.InvalidInput(fmt.Sprintf("%s %q must be YYYY-MM-DD", field, value))
	}
	return nil
}

func checkDates(date, due string) error {
	if err := validDate("date", date, true); err != nil {
		return err
	}
	if err := validDate("due_date", due, false); err != nil {
		return err
	}
	if due != "" && due < date {
		return errors.InvalidInput("due_date must not be before date")
	}
	return nil
}

// Create stores a new unpaid invoice for one of the owner's clients. The
// number is assigned per owner and month.
func (s *Service) Create(ctx context.Context, ownerID string, draft Draft) (invoice.Details, error) {
	draft.Notes = strings.TrimSpace(draft.Notes)
	if draft.ClientID == "" {
		return invoice.Details{}, errors.Required("client_id")
	}
	if draft.Date == "" {
		draft.Date = s.now().In(s.loc).Format(appointment.DateLayout)
	}
	if err := checkDates(draft.Date, draft.DueDate); err != nil {
		return invoice.Details{}, err
	}
	c, err := s.clients.GetClient(ctx, draft.ClientID)
	if err != nil || c.OwnerID != ownerID {
		return invoice.Details{}, errors.NotFound("client", draft.ClientID)
	}

	lines := make([]invoice.Item, 0, len(draft.Items))
	for _, item := range draft.Items {
		if err := s.prepareItem(ctx, ownerID, draft.ClientID, &item); err != nil {
			return invoice.Details{}, err
		}
		lines = append(lines, item)
	}

	inv, err := s.store.CreateInvoice(ctx, invoice.Invoice{
		OwnerID:    ownerID,
		ClientID:   draft.ClientID,
		Date:       draft.Date,
		DueDate:    draft.DueDate,
		Status:     invoice.StatusUnpaid,
		TotalCents: invoice.Total(lines),
		Notes:      draft.Notes,
	})
	if err != nil {
		return invoice.Details{}, errors.FromStore(err, "invoice", "")
	}
	for _, item := range lines {
		item.InvoiceID = inv.ID
		if _, err := s.store.CreateInvoiceItem(ctx, item); err != nil {
			return invoice.Details{}, errors.FromStore(err, "invoice item", "")
		}
	}
	metrics.RecordInvoice(string(inv.Status))
	s.log.WithField("owner_id", ownerID).
		WithField("invoice_id", inv.ID).
		WithField("number", inv.Number).
		Info("invoice created")
	return s.details(ctx, inv)
}

// prepareItem fills description and price from the linked service or
// appointment and checks both belong to the owner.
func (s *Service) prepareItem(ctx context.Context, ownerID, clientID string, item *invoice.Item) error {
	item.Description = strings.TrimSpace(item.Description)
	if item.Quantity == 0 {
		item.Quantity = 1
	}
	if item.Quantity < 0 {
		return errors.InvalidInput("quantity must be positive")
	}
	if item.UnitPriceCents < 0 {
		return errors.InvalidInput("unit_price_cents must not be negative")
	}
	if item.AppointmentID != "" {
		appt, err := s.appointments.GetAppointment(ctx, item.AppointmentID)
		if err != nil || appt.OwnerID != ownerID {
			return errors.NotFound("appointment", item.AppointmentID)
		}
		if appt.ClientID != clientID {
			return errors.InvalidInput("appointment belongs to another client")
		}
		if item.ServiceID == "" {
			item.ServiceID = appt.ServiceID
		}
	}
	if item.ServiceID != "" {
		svc, err := s.catalog.GetService(ctx, item.ServiceID)
		if err != nil || svc.OwnerID != ownerID {
			return errors.NotFound("service", item.ServiceID)
		}
		if item.Description == "" {
			item.Description = svc.Name
		}
		if item.UnitPriceCents == 0 {
			item.UnitPriceCents = svc.PriceCents
		}
	}
	if item.Description == "" {
		return errors.Required("description")
	}
	return nil
}

func (s *Service) owned(ctx context.Context, ownerID, id string) (invoice.Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return invoice.Invoice{}, errors.FromStore(err, "invoice", id)
	}
	if inv.OwnerID != ownerID {
		return invoice.Invoice{}, errors.NotFound("invoice", id)
	}
	return inv, nil
}

func (s *Service) details(ctx context.Context, inv invoice.Invoice) (invoice.Details, error) {
	items, err := s.store.ListInvoiceItems(ctx, inv.ID)
	if err != nil {
		return invoice.Details{}, err
	}
	payments, err := s.store.ListInvoicePayments(ctx, inv.ID)
	if err != nil {
		return invoice.Details{}, err
	}
	d := invoice.Details{Invoice: inv, Items: items, Payments: payments, PaidCents: invoice.Paid(payments)}
	if c, err := s.clients.GetClient(ctx, inv.ClientID); err == nil {
		d.Client = c
	}
	return d, nil
}

// Get returns an invoice with client, lines and payments.
func (s *Service) Get(ctx context.Context, ownerID, id string) (invoice.Details, error) {
	inv, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return invoice.Details{}, err
	}
	return s.details(ctx, inv)
}

// List returns the owner's invoices, newest first.
func (s *Service) List(ctx context.Context, ownerID string, filter storage.InvoiceFilter) ([]invoice.Invoice, error) {
	if err := validDate("from", filter.From, false); err != nil {
		return nil, err
	}
	if err := validDate("to", filter.To, false); err != nil {
		return nil, err
	}
	if filter.From != "" && filter.To != "" && filter.To < filter.From {
		return nil, errors.InvalidInput("to must not be before from")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, errors.InvalidInput(fmt.Sprintf("unknown status %q", filter.Status))
	}
	return s.store.ListInvoices(ctx, ownerID, filter)
}

// Update edits date, due date or notes.
func (s *Service) Update(ctx context.Context, ownerID, id string, changes Changes) (invoice.Invoice, error) {
	lock := s.invoiceLock(id)
	lock.Lock()
	defer lock.Unlock()

	inv, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return invoice.Invoice{}, err
	}
	if changes.Date != nil {
		inv.Date = *changes.Date
	}
	if changes.DueDate != nil {
		inv.DueDate = *changes.DueDate
	}
	if changes.Notes != nil {
		inv.Notes = strings.TrimSpace(*changes.Notes)
	}
	if err := checkDates(inv.Date, inv.DueDate); err != nil {
		return invoice.Invoice{}, err
	}
	updated, err := s.store.UpdateInvoice(ctx, inv)
	if err != nil {
		return invoice.Invoice{}, errors.FromStore(err, "invoice", id)
	}
	return updated, nil
}

// SetStatus cancels or reopens an invoice. Paid is reached through payments
// only, and an invoice with payments cannot be cancelled.
func (s *Service) SetStatus(ctx context.Context, ownerID, id string, status invoice.Status) (invoice.Invoice, error) {
	lock := s.invoiceLock(id)
	lock.Lock()
	defer lock.Unlock()

	inv, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return invoice.Invoice{}, err
	}
	switch status {
	case invoice.StatusCancelled:
		if inv.Status == invoice.StatusCancelled {
			return inv, nil
		}
		payments, err := s.store.ListInvoicePayments(ctx, id)
		if err != nil {
			return invoice.Invoice{}, err
		}
		if len(payments) > 0 {
			return invoice.Invoice{}, errors.Conflict("invoice has payments; remove them before cancelling")
		}
		inv.Status = invoice.StatusCancelled
	case invoice.StatusUnpaid:
		if inv.Status != invoice.StatusCancelled {
			return inv, nil
		}
		inv.Status = invoice.StatusUnpaid
	default:
		return invoice.Invoice{}, errors.InvalidInput(fmt.Sprintf("status %q cannot be set directly", status))
	}
	updated, err := s.store.UpdateInvoice(ctx, inv)
	if err != nil {
		return invoice.Invoice{}, errors.FromStore(err, "invoice", id)
	}
	s.log.WithField("invoice_id", id).WithField("status", string(updated.Status)).Info("invoice status changed")
	return updated, nil
}

// Delete removes an invoice with its lines and payments. Paid invoices are
// kept.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	lock := s.invoiceLock(id)
	lock.Lock()
	defer lock.Unlock()

	inv, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if inv.Status == invoice.StatusPaid {
		return errors.Conflict("paid invoices cannot be deleted")
	}
	if err := s.store.DeleteInvoice(ctx, id); err != nil {
		return errors.FromStore(err, "invoice", id)
	}
	s.forget(id)
	s.log.WithField("owner_id", ownerID).WithField("invoice_id", id).Info("invoice deleted")
	return nil
}

// settle recomputes total and status from the stored rows. Callers hold the
// invoice lock.
func (s *Service) settle(ctx context.Context, inv invoice.Invoice) (invoice.Invoice, error) {
	items, err := s.store.ListInvoiceItems(ctx, inv.ID)
	if err != nil {
		return invoice.Invoice{}, err
	}
	payments, err := s.store.ListInvoicePayments(ctx, inv.ID)
	if err != nil {
		return invoice.Invoice{}, err
	}
	total := invoice.Total(items)
	status := invoice.Settle(inv.Status, total, invoice.Paid(payments))
	if total == inv.TotalCents && status == inv.Status {
		return inv, nil
	}
	if status != inv.Status {
		metrics.RecordInvoice(string(status))
	}
	inv.TotalCents = total
	inv.Status = status
	updated, err := s.store.UpdateInvoice(ctx, inv)
	if err != nil {
		return invoice.Invoice{}, errors.FromStore(err, "invoice", inv.ID)
	}
	return updated, nil
}

func (s *Service) editable(ctx context.Context, ownerID, id string) (invoice.Invoice, error) {
	inv, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return invoice.Invoice{}, err
	}
	if inv.Status == invoice.StatusCancelled {
		return invoice.Invoice{}, errors.Conflict("invoice is cancelled")
	}
	return inv, nil
}

// AddItem appends a line and returns the updated invoice.
func (s *Service) AddItem(ctx context.Context, ownerID, invoiceID string, item invoice.Item) (invoice.Details, error) {
	lock := s.invoiceLock(invoiceID)
	lock.Lock()
	defer lock.Unlock()

	inv, err := s.editable(ctx, ownerID, invoiceID)
	if err != nil {
		return invoice.Details{}, err
	}
	item.ID = ""
	item.InvoiceID = inv.ID
	if err := s.prepareItem(ctx, ownerID, inv.ClientID, &item); err != nil {
		return invoice.Details{}, err
	}
	if _, err := s.store.CreateInvoiceItem(ctx, item); err != nil {
		return invoice.Details{}, errors.FromStore(err, "invoice item", "")
	}
	if inv, err = s.settle(ctx, inv); err != nil {
		return invoice.Details{}, err
	}
	return s.details(ctx, inv)
}

func (s *Service) ownedItem(ctx context.Context, invoiceID, itemID string) (invoice.Item, error) {
	item, err := s.store.GetInvoiceItem(ctx, itemID)
	if err != nil {
		return invoice.Item{}, errors.FromStore(err, "invoice item", itemID)
	}
	if item.InvoiceID != invoiceID {
		return invoice.Item{}, errors.NotFound("invoice item", itemID)
	}
	return item, nil
}

// UpdateItem replaces a line.
func (s *Service) UpdateItem(ctx context.Context, ownerID, invoiceID, itemID string, item invoice.Item) (invoice.Details, error) {
	lock := s.invoiceLock(invoiceID)
	lock.Lock()
	defer lock.Unlock()

	inv, err := s.editable(ctx, ownerID, invoiceID)
	if err != nil {
		return invoice.Details{}, err
	}
	if _, err := s.ownedItem(ctx, invoiceID, itemID); err != nil {
		return invoice.Details{}, err
	}
	item.ID = itemID
	item.InvoiceID = invoiceID
	if err := s.prepareItem(ctx, ownerID, inv.ClientID, &item); err != nil {
		return invoice.Details{}, err
	}
	if _, err := s.store.UpdateInvoiceItem(ctx, item); err != nil {
		return invoice.Details{}, errors.FromStore(err, "invoice item", itemID)
	}
	if inv, err = s.settle(ctx, inv); err != nil {
		return invoice.Details{}, err
	}
	return s.details(ctx, inv)
}

// RemoveItem deletes a line.
func (s *Service) RemoveItem(ctx context.Context, ownerID, invoiceID, itemID string) (invoice.Details, error) {
	lock := s.invoiceLock(invoiceID)
	lock.Lock()
	defer lock.Unlock()

	inv, err := s.editable(ctx, ownerID, invoiceID)
	if err != nil {
		return invoice.Details{}, err
	}
	if _, err := s.ownedItem(ctx, invoiceID, itemID); err != nil {
		return invoice.Details{}, err
	}
	if err := s.store.DeleteInvoiceItem(ctx, itemID); err != nil {
		return invoice.Details{}, errors.FromStore(err, "invoice item", itemID)
	}
	if inv, err = s.settle(ctx, inv); err != nil {
		return invoice.Details{}, err
	}
	return s.details(ctx, inv)
}

func validPayment(p *invoice.Payment) error {
	p.Method = strings.TrimSpace(p.Method)
	p.Notes = strings.TrimSpace(p.Notes)
	if p.AmountCents <= 0 {
		return errors.InvalidInput("amount_cents must be positive")
	}
	return nil
}

// AddPayment records money received. The invoice turns paid once payments
// cover the total.
func (s *Service) AddPayment(ctx context.Context, ownerID, invoiceID string, p invoice.Payment) (invoice.Details, error) {
	lock := s.invoiceLock(invoiceID)
	lock.Lock()
	defer lock.Unlock()

	inv, err := s.editable(ctx, ownerID, invoiceID)
	if err != nil {
		return invoice.Details{}, err
	}
	if err := validPayment(&p); err != nil {
		return invoice.Details{}, err
	}
	p.ID = ""
	p.InvoiceID = invoiceID
	if p.PaidAt.IsZero() {
		p.PaidAt = s.now().UTC()
	}
	if _, err := s.store.CreateInvoicePayment(ctx, p); err != nil {
		return invoice.Details{}, errors.FromStore(err, "invoice payment", "")
	}
	if inv, err = s.settle(ctx, inv); err != nil {
		return invoice.Details{}, err
	}
	s.log.WithField("invoice_id", invoiceID).
		WithField("amount_cents", p.AmountCents).
		WithField("status", string(inv.Status)).
		Info("invoice payment recorded")
	return s.details(ctx, inv)
}

func (s *Service) ownedPayment(ctx context.Context, invoiceID, paymentID string) (invoice.Payment, error) {
	p, err := s.store.GetInvoicePayment(ctx, paymentID)
	if err != nil {
		return invoice.Payment{}, errors.FromStore(err, "invoice payment", paymentID)
	}
	if p.InvoiceID != invoiceID {
		return invoice.Payment{}, errors.NotFound("invoice payment", paymentID)
	}
	return p, nil
}

// UpdatePayment corrects a payment. Lowering it below the total reopens a
// paid invoice.
func (s *Service) UpdatePayment(ctx context.Context, ownerID, invoiceID, paymentID string, p invoice.Payment) (invoice.Details, error) {
	lock := s.invoiceLock(invoiceID)
	lock.Lock()
	defer lock.Unlock()

	inv, err := s.editable(ctx, ownerID, invoiceID)
	if err != nil {
		return invoice.Details{}, err
	}
	if _, err := s.ownedPayment(ctx, invoiceID, paymentID); err != nil {
		return invoice.Details{}, err
	}
	if err := validPayment(&p); err != nil {
		return invoice.Details{}, err
	}
	p.ID = paymentID
	p.InvoiceID = invoiceID
	if _, err := s.store.UpdateInvoicePayment(ctx, p); err != nil {
		return invoice.Details{}, errors.FromStore(err, "invoice payment", paymentID)
	}
	if inv, err = s.settle(ctx, inv); err != nil {
		return invoice.Details{}, err
	}
	return s.details(ctx, inv)
}

// RemovePayment deletes a payment and re-derives the status.
func (s *Service) RemovePayment(ctx context.Context, ownerID, invoiceID, paymentID string) (invoice.Details, error) {
	lock := s.invoiceLock(invoiceID)
	lock.Lock()
	defer lock.Unlock()

	inv, err := s.editable(ctx, ownerID, invoiceID)
	if err != nil {
		return invoice.Details{}, err
	}
	if _, err := s.ownedPayment(ctx, invoiceID, paymentID); err != nil {
		return invoice.Details{}, err
	}
	if err := s.store.DeleteInvoicePayment(ctx, paymentID); err != nil {
		return invoice.Details{}, errors.FromStore(err, "invoice payment", paymentID)
	}
	if inv, err = s.settle(ctx, inv); err != nil {
		return invoice.Details{}, err
	}
	return s.details(ctx, inv)
}
