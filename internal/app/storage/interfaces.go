package storage

import (
	"context"
	"errors"
	"time"

	"github.com/studiodesk/studiodesk/internal/app/domain/activation"
	"github.com/studiodesk/studiodesk/internal/app/domain/appointment"
	"github.com/studiodesk/studiodesk/internal/app/domain/catalog"
	"github.com/studiodesk/studiodesk/internal/app/domain/client"
	"github.com/studiodesk/studiodesk/internal/app/domain/invoice"
	"github.com/studiodesk/studiodesk/internal/app/domain/notification"
	"github.com/studiodesk/studiodesk/internal/app/domain/referral"
	"github.com/studiodesk/studiodesk/internal/app/domain/tenant"
)

var (
	// ErrNotFound is returned (wrapped) when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned (wrapped) when a uniqueness rule is violated.
	ErrConflict = errors.New("conflict")
)

// OwnerStore persists studio owner accounts.
type OwnerStore interface {
	CreateOwner(ctx context.Context, owner tenant.Owner) (tenant.Owner, error)
	UpdateOwner(ctx context.Context, owner tenant.Owner) (tenant.Owner, error)
	GetOwner(ctx context.Context, id string) (tenant.Owner, error)
	GetOwnerByUsername(ctx context.Context, username string) (tenant.Owner, error)
	GetOwnerByReferralCode(ctx context.Context, code string) (tenant.Owner, error)
	ListOwners(ctx context.Context) ([]tenant.Owner, error)
	ListReferredOwners(ctx context.Context, referrerID string) ([]tenant.Owner, error)
}

// ClientStore persists clients, their consents and portal access log.
type ClientStore interface {
	CreateClient(ctx context.Context, c client.Client) (client.Client, error)
	UpdateClient(ctx context.Context, c client.Client) (client.Client, error)
	GetClient(ctx context.Context, id string) (client.Client, error)
	ListClients(ctx context.Context, ownerID string) ([]client.Client, error)
	DeleteClient(ctx context.Context, id string) error

	CreateConsent(ctx context.Context, consent client.Consent) (client.Consent, error)
	ListConsents(ctx context.Context, clientID string) ([]client.Consent, error)
	DeleteConsents(ctx context.Context, clientID string) error

	RecordAccess(ctx context.Context, access client.Access) error
	ListAccess(ctx context.Context, clientID string) ([]client.Access, error)

	CreateNote(ctx context.Context, note client.Note) (client.Note, error)
	UpdateNote(ctx context.Context, note client.Note) (client.Note, error)
	GetNote(ctx context.Context, id string) (client.Note, error)
	ListNotes(ctx context.Context, clientID string) ([]client.Note, error)
	DeleteNote(ctx context.Context, id string) error
	DeleteNotes(ctx context.Context, clientID string) error
}

// CatalogStore persists bookable services.
type CatalogStore interface {
	CreateService(ctx context.Context, svc catalog.Service) (catalog.Service, error)
	UpdateService(ctx context.Context, svc catalog.Service) (catalog.Service, error)
	GetService(ctx context.Context, id string) (catalog.Service, error)
	ListServices(ctx context.Context, ownerID string) ([]catalog.Service, error)
	DeleteService(ctx context.Context, id string) error
}

// AppointmentFilter narrows ListAppointments. Empty fields are ignored; From
// and To are inclusive YYYY-MM-DD dates.
type AppointmentFilter struct {
	Date      string
	From      string
	To        string
	ClientID  string
	ServiceID string
	Status    appointment.Status
}

// AppointmentStore persists calendar entries.
type AppointmentStore interface {
	CreateAppointment(ctx context.Context, appt appointment.Appointment) (appointment.Appointment, error)
	UpdateAppointment(ctx context.Context, appt appointment.Appointment) (appointment.Appointment, error)
	GetAppointment(ctx context.Context, id string) (appointment.Appointment, error)
	DeleteAppointment(ctx context.Context, id string) error
	DeleteClientAppointments(ctx context.Context, clientID string) error
	ListAppointments(ctx context.Context, ownerID string, filter AppointmentFilter) ([]appointment.Appointment, error)
	// ListPendingReminders returns scheduled, not yet reminded appointments
	// of every owner dated between from and to inclusive.
	ListPendingReminders(ctx context.Context, from, to string) ([]appointment.Appointment, error)
}

// ClientAccountStore persists client portal logins.
type ClientAccountStore interface {
	CreateClientAccount(ctx context.Context, acct activation.Account) (activation.Account, error)
	GetClientAccountByUsername(ctx context.Context, username string) (activation.Account, error)
	GetClientAccountByClient(ctx context.Context, clientID string) (activation.Account, error)
	DeleteClientAccount(ctx context.Context, clientID string) error
}

// ReferralStore persists referral commissions and payments.
type ReferralStore interface {
	CreateCommission(ctx context.Context, c referral.Commission) (referral.Commission, error)
	UpdateCommission(ctx context.Context, c referral.Commission) (referral.Commission, error)
	GetCommissionByReferred(ctx context.Context, referredID string) (referral.Commission, error)
	ListCommissions(ctx context.Context, referrerID string) ([]referral.Commission, error)
	ListActiveCommissions(ctx context.Context) ([]referral.Commission, error)

	CreatePayment(ctx context.Context, p referral.Payment) (referral.Payment, error)
	UpdatePayment(ctx context.Context, p referral.Payment) (referral.Payment, error)
	GetPayment(ctx context.Context, id string) (referral.Payment, error)
	GetPaymentForPeriod(ctx context.Context, referrerID, period string) (referral.Payment, error)
	ListPayments(ctx context.Context, referrerID string, status referral.PaymentStatus) ([]referral.Payment, error)
}

// InvoiceFilter narrows ListInvoices. Empty fields are ignored; From and To
// are inclusive YYYY-MM-DD invoice dates.
type InvoiceFilter struct {
	ClientID string
	From     string
	To       string
	Status   invoice.Status
}

// InvoiceStore persists invoices with their lines and payments.
type InvoiceStore interface {
	// CreateInvoice assigns the next INV-YYYYMM-NNNN number of the owner
	// for the invoice's month when Number is empty.
	CreateInvoice(ctx context.Context, inv invoice.Invoice) (invoice.Invoice, error)
	UpdateInvoice(ctx context.Context, inv invoice.Invoice) (invoice.Invoice, error)
	GetInvoice(ctx context.Context, id string) (invoice.Invoice, error)
	ListInvoices(ctx context.Context, ownerID string, filter InvoiceFilter) ([]invoice.Invoice, error)
	// DeleteInvoice removes the invoice with its items and payments.
	DeleteInvoice(ctx context.Context, id string) error

	CreateInvoiceItem(ctx context.Context, item invoice.Item) (invoice.Item, error)
	UpdateInvoiceItem(ctx context.Context, item invoice.Item) (invoice.Item, error)
	GetInvoiceItem(ctx context.Context, id string) (invoice.Item, error)
	ListInvoiceItems(ctx context.Context, invoiceID string) ([]invoice.Item, error)
	DeleteInvoiceItem(ctx context.Context, id string) error

	CreateInvoicePayment(ctx context.Context, p invoice.Payment) (invoice.Payment, error)
	UpdateInvoicePayment(ctx context.Context, p invoice.Payment) (invoice.Payment, error)
	GetInvoicePayment(ctx context.Context, id string) (invoice.Payment, error)
	ListInvoicePayments(ctx context.Context, invoiceID string) ([]invoice.Payment, error)
	DeleteInvoicePayment(ctx context.Context, id string) error
}

// TemplateStore persists reminder templates.
type TemplateStore interface {
	// CreateTemplate and UpdateTemplate clear IsDefault on the owner's other
	// templates of the same channel when the saved one is a default.
	CreateTemplate(ctx context.Context, t notification.Template) (notification.Template, error)
	UpdateTemplate(ctx context.Context, t notification.Template) (notification.Template, error)
	GetTemplate(ctx context.Context, id string) (notification.Template, error)
	ListTemplates(ctx context.Context, ownerID string) ([]notification.Template, error)
	DeleteTemplate(ctx context.Context, id string) error
}

// NotificationStore persists client portal notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error)
	GetNotification(ctx context.Context, id string) (notification.Notification, error)
	ListNotifications(ctx context.Context, clientID string, unreadOnly bool) ([]notification.Notification, error)
	MarkNotificationRead(ctx context.Context, id string, at time.Time) (notification.Notification, error)
	DeleteNotification(ctx context.Context, id string) error
	DeleteClientNotifications(ctx context.Context, clientID string) error
}
