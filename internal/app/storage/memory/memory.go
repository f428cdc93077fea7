package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/studiodesk/studiodesk/internal/app/domain/activation"
	"github.com/studiodesk/studiodesk/internal/app/domain/appointment"
	"github.com/studiodesk/studiodesk/internal/app/domain/catalog"
	"github.com/studiodesk/studiodesk/internal/app/domain/client"
	"github.com/studiodesk/studiodesk/internal/app/domain/invoice"
	"github.com/studiodesk/studiodesk/internal/app/domain/notification"
	"github.com/studiodesk/studiodesk/internal/app/domain/referral"
	"github.com/studiodesk/studiodesk/internal/app/domain/tenant"
	"github.com/studiodesk/studiodesk/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu             sync.RWMutex
	nextID         int64
	owners         map[string]tenant.Owner
	clients        map[string]client.Client
	consents       map[string][]client.Consent
	access         map[string][]client.Access
	services       map[string]catalog.Service
	appointments   map[string]appointment.Appointment
	clientAccounts map[string]activation.Account
	commissions    map[string]referral.Commission
	payments       map[string]referral.Payment
	notes          map[string]client.Note
	invoices       map[string]invoice.Invoice
	invoiceItems   map[string]invoice.Item
	invoicePays    map[string]invoice.Payment
	invoiceSeq     map[string]int
	templates      map[string]notification.Template
	notifications  map[string]notification.Notification
}

var _ storage.OwnerStore = (*Store)(nil)
var _ storage.ClientStore = (*Store)(nil)
var _ storage.CatalogStore = (*Store)(nil)
var _ storage.AppointmentStore = (*Store)(nil)
var _ storage.ClientAccountStore = (*Store)(nil)
var _ storage.ReferralStore = (*Store)(nil)
var _ storage.InvoiceStore = (*Store)(nil)
var _ storage.TemplateStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:         1,
		owners:         make(map[string]tenant.Owner),
		clients:        make(map[string]client.Client),
		consents:       make(map[string][]client.Consent),
		access:         make(map[string][]client.Access),
		services:       make(map[string]catalog.Service),
		appointments:   make(map[string]appointment.Appointment),
		clientAccounts: make(map[string]activation.Account),
		commissions:    make(map[string]referral.Commission),
		payments:       make(map[string]referral.Payment),
		notes:          make(map[string]client.Note),
		invoices:       make(map[string]invoice.Invoice),
		invoiceItems:   make(map[string]invoice.Item),
		invoicePays:    make(map[string]invoice.Payment),
		invoiceSeq:     make(map[string]int),
		templates:      make(map[string]notification.Template),
		notifications:  make(map[string]notification.Notification),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), storage.ErrConflict)
}

// OwnerStore implementation ---------------------------------------------------

func (s *Store) CreateOwner(_ context.Context, owner tenant.Owner) (tenant.Owner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.owners {
		if strings.EqualFold(existing.Username, owner.Username) {
			return tenant.Owner{}, conflict("username %s taken", owner.Username)
		}
		if owner.ReferralCode != "" && existing.ReferralCode == owner.ReferralCode {
			return tenant.Owner{}, conflict("referral code %s taken", owner.ReferralCode)
		}
	}
	if owner.ID == "" {
		owner.ID = s.nextIDLocked()
	} else if _, exists := s.owners[owner.ID]; exists {
		return tenant.Owner{}, conflict("owner %s exists", owner.ID)
	}

	now := time.Now().UTC()
	owner.CreatedAt = now
	owner.UpdatedAt = now
	s.owners[owner.ID] = owner
	return owner, nil
}

func (s *Store) UpdateOwner(_ context.Context, owner tenant.Owner) (tenant.Owner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.owners[owner.ID]
	if !ok {
		return tenant.Owner{}, notFound("owner", owner.ID)
	}
	if owner.ReferralCode != "" {
		for id, existing := range s.owners {
			if id != owner.ID && existing.ReferralCode == owner.ReferralCode {
				return tenant.Owner{}, conflict("referral code %s taken", owner.ReferralCode)
			}
		}
	}
	owner.CreatedAt = original.CreatedAt
	owner.UpdatedAt = time.Now().UTC()
	s.owners[owner.ID] = owner
	return owner, nil
}

func (s *Store) GetOwner(_ context.Context, id string) (tenant.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owner, ok := s.owners[id]
	if !ok {
		return tenant.Owner{}, notFound("owner", id)
	}
	return owner, nil
}

func (s *Store) GetOwnerByUsername(_ context.Context, username string) (tenant.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, owner := range s.owners {
		if strings.EqualFold(owner.Username, username) {
			return owner, nil
		}
	}
	return tenant.Owner{}, notFound("owner", username)
}

func (s *Store) GetOwnerByReferralCode(_ context.Context, code string) (tenant.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, owner := range s.owners {
		if owner.ReferralCode != "" && owner.ReferralCode == code {
			return owner, nil
		}
	}
	return tenant.Owner{}, notFound("referral code", code)
}

func (s *Store) ListOwners(_ context.Context) ([]tenant.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]tenant.Owner, 0, len(s.owners))
	for _, owner := range s.owners {
		result = append(result, owner)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListReferredOwners(_ context.Context, referrerID string) ([]tenant.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]tenant.Owner, 0)
	for _, owner := range s.owners {
		if owner.ReferredBy == referrerID {
			result = append(result, owner)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// ClientStore implementation --------------------------------------------------

func (s *Store) CreateClient(_ context.Context, c client.Client) (client.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = s.nextIDLocked()
	} else if _, exists := s.clients[c.ID]; exists {
		return client.Client{}, conflict("client %s exists", c.ID)
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.clients[c.ID] = c
	return c, nil
}

func (s *Store) UpdateClient(_ context.Context, c client.Client) (client.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.clients[c.ID]
	if !ok {
		return client.Client{}, notFound("client", c.ID)
	}
	c.OwnerID = original.OwnerID
	c.CreatedAt = original.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	s.clients[c.ID] = c
	return c, nil
}

func (s *Store) GetClient(_ context.Context, id string) (client.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[id]
	if !ok {
		return client.Client{}, notFound("client", id)
	}
	return c, nil
}

func (s *Store) ListClients(_ context.Context, ownerID string) ([]client.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]client.Client, 0)
	for _, c := range s.clients {
		if c.OwnerID == ownerID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].LastName != result[j].LastName {
			return result[i].LastName < result[j].LastName
		}
		return result[i].FirstName < result[j].FirstName
	})
	return result, nil
}

func (s *Store) DeleteClient(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[id]; !ok {
		return notFound("client", id)
	}
	delete(s.clients, id)
	delete(s.access, id)
	return nil
}

func (s *Store) CreateConsent(_ context.Context, consent client.Consent) (client.Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[consent.ClientID]; !ok {
		return client.Consent{}, notFound("client", consent.ClientID)
	}
	consent.ID = s.nextIDLocked()
	if consent.SignedAt.IsZero() {
		consent.SignedAt = time.Now().UTC()
	}
	s.consents[consent.ClientID] = append(s.consents[consent.ClientID], consent)
	return consent, nil
}

func (s *Store) ListConsents(_ context.Context, clientID string) ([]client.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]client.Consent{}, s.consents[clientID]...), nil
}

func (s *Store) DeleteConsents(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.consents, clientID)
	return nil
}

func (s *Store) RecordAccess(_ context.Context, access client.Access) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if access.At.IsZero() {
		access.At = time.Now().UTC()
	}
	s.access[access.ClientID] = append(s.access[access.ClientID], access)
	return nil
}

func (s *Store) ListAccess(_ context.Context, clientID string) ([]client.Access, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]client.Access{}, s.access[clientID]...), nil
}

func (s *Store) CreateNote(_ context.Context, note client.Note) (client.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[note.ClientID]; !ok {
		return client.Note{}, notFound("client", note.ClientID)
	}
	note.ID = s.nextIDLocked()
	now := time.Now().UTC()
	note.CreatedAt = now
	note.UpdatedAt = now
	s.notes[note.ID] = note
	return note, nil
}

func (s *Store) UpdateNote(_ context.Context, note client.Note) (client.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.notes[note.ID]
	if !ok {
		return client.Note{}, notFound("note", note.ID)
	}
	original.Content = note.Content
	original.UpdatedAt = time.Now().UTC()
	s.notes[note.ID] = original
	return original, nil
}

func (s *Store) GetNote(_ context.Context, id string) (client.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	note, ok := s.notes[id]
	if !ok {
		return client.Note{}, notFound("note", id)
	}
	return note, nil
}

func (s *Store) ListNotes(_ context.Context, clientID string) ([]client.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]client.Note, 0)
	for _, note := range s.notes {
		if note.ClientID == clientID {
			result = append(result, note)
		}
	}
	sortByNumericID(result, func(n client.Note) string { return n.ID })
	return result, nil
}

func (s *Store) DeleteNote(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notes[id]; !ok {
		return notFound("note", id)
	}
	delete(s.notes, id)
	return nil
}

func (s *Store) DeleteNotes(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, note := range s.notes {
		if note.ClientID == clientID {
			delete(s.notes, id)
		}
	}
	return nil
}

// CatalogStore implementation -------------------------------------------------

func (s *Store) CreateService(_ context.Context, svc catalog.Service) (catalog.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if svc.ID == "" {
		svc.ID = s.nextIDLocked()
	} else if _, exists := s.services[svc.ID]; exists {
		return catalog.Service{}, conflict("service %s exists", svc.ID)
	}
	now := time.Now().UTC()
	svc.CreatedAt = now
	svc.UpdatedAt = now
	s.services[svc.ID] = svc
	return svc, nil
}

func (s *Store) UpdateService(_ context.Context, svc catalog.Service) (catalog.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.services[svc.ID]
	if !ok {
		return catalog.Service{}, notFound("service", svc.ID)
	}
	svc.OwnerID = original.OwnerID
	svc.CreatedAt = original.CreatedAt
	svc.UpdatedAt = time.Now().UTC()
	s.services[svc.ID] = svc
	return svc, nil
}

func (s *Store) GetService(_ context.Context, id string) (catalog.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.services[id]
	if !ok {
		return catalog.Service{}, notFound("service", id)
	}
	return svc, nil
}

func (s *Store) ListServices(_ context.Context, ownerID string) ([]catalog.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]catalog.Service, 0)
	for _, svc := range s.services {
		if svc.OwnerID == ownerID {
			result = append(result, svc)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) DeleteService(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.services[id]; !ok {
		return notFound("service", id)
	}
	delete(s.services, id)
	return nil
}

// AppointmentStore implementation ---------------------------------------------

func (s *Store) CreateAppointment(_ context.Context, appt appointment.Appointment) (appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if appt.ID == "" {
		appt.ID = s.nextIDLocked()
	} else if _, exists := s.appointments[appt.ID]; exists {
		return appointment.Appointment{}, conflict("appointment %s exists", appt.ID)
	}
	now := time.Now().UTC()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	s.appointments[appt.ID] = appt
	return appt, nil
}

func (s *Store) UpdateAppointment(_ context.Context, appt appointment.Appointment) (appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.appointments[appt.ID]
	if !ok {
		return appointment.Appointment{}, notFound("appointment", appt.ID)
	}
	appt.OwnerID = original.OwnerID
	appt.CreatedAt = original.CreatedAt
	appt.UpdatedAt = time.Now().UTC()
	s.appointments[appt.ID] = appt
	return appt, nil
}

func (s *Store) GetAppointment(_ context.Context, id string) (appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	appt, ok := s.appointments[id]
	if !ok {
		return appointment.Appointment{}, notFound("appointment", id)
	}
	return appt, nil
}

func (s *Store) DeleteAppointment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.appointments[id]; !ok {
		return notFound("appointment", id)
	}
	delete(s.appointments, id)
	return nil
}

func (s *Store) DeleteClientAppointments(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, appt := range s.appointments {
		if appt.ClientID == clientID {
			delete(s.appointments, id)
		}
	}
	return nil
}

func (s *Store) ListAppointments(_ context.Context, ownerID string, filter storage.AppointmentFilter) ([]appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]appointment.Appointment, 0)
	for _, appt := range s.appointments {
		if appt.OwnerID != ownerID || !matches(appt, filter) {
			continue
		}
		result = append(result, appt)
	}
	sortAppointments(result)
	return result, nil
}

func (s *Store) ListPendingReminders(_ context.Context, from, to string) ([]appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]appointment.Appointment, 0)
	for _, appt := range s.appointments {
		if appt.Status != appointment.StatusScheduled || appt.ReminderSentAt != nil {
			continue
		}
		if appt.Date < from || appt.Date > to {
			continue
		}
		result = append(result, appt)
	}
	sortAppointments(result)
	return result, nil
}

func matches(appt appointment.Appointment, f storage.AppointmentFilter) bool {
	if f.Date != "" && appt.Date != f.Date {
		return false
	}
	if f.From != "" && appt.Date < f.From {
		return false
	}
	if f.To != "" && appt.Date > f.To {
		return false
	}
	if f.ClientID != "" && appt.ClientID != f.ClientID {
		return false
	}
	if f.ServiceID != "" && appt.ServiceID != f.ServiceID {
		return false
	}
	if f.Status != "" && appt.Status != f.Status {
		return false
	}
	return true
}

func sortAppointments(list []appointment.Appointment) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Date != list[j].Date {
			return list[i].Date < list[j].Date
		}
		return list[i].StartTime < list[j].StartTime
	})
}

// ClientAccountStore implementation -------------------------------------------

func (s *Store) CreateClientAccount(_ context.Context, acct activation.Account) (activation.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.clientAccounts {
		if existing.ClientID == acct.ClientID {
			return activation.Account{}, conflict("client %s already has an account", acct.ClientID)
		}
		if strings.EqualFold(existing.Username, acct.Username) {
			return activation.Account{}, conflict("username %s taken", acct.Username)
		}
	}
	if acct.ID == "" {
		acct.ID = s.nextIDLocked()
	}
	acct.CreatedAt = time.Now().UTC()
	s.clientAccounts[acct.ID] = acct
	return acct, nil
}

func (s *Store) GetClientAccountByUsername(_ context.Context, username string) (activation.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acct := range s.clientAccounts {
		if strings.EqualFold(acct.Username, username) {
			return acct, nil
		}
	}
	return activation.Account{}, notFound("client account", username)
}

func (s *Store) GetClientAccountByClient(_ context.Context, clientID string) (activation.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acct := range s.clientAccounts {
		if acct.ClientID == clientID {
			return acct, nil
		}
	}
	return activation.Account{}, notFound("client account for client", clientID)
}

func (s *Store) DeleteClientAccount(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, acct := range s.clientAccounts {
		if acct.ClientID == clientID {
			delete(s.clientAccounts, id)
		}
	}
	return nil
}

// ReferralStore implementation ------------------------------------------------

func (s *Store) CreateCommission(_ context.Context, c referral.Commission) (referral.Commission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.commissions {
		if existing.ReferredID == c.ReferredID {
			return referral.Commission{}, conflict("commission for %s exists", c.ReferredID)
		}
	}
	if c.ID == "" {
		c.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.commissions[c.ID] = c
	return c, nil
}

func (s *Store) UpdateCommission(_ context.Context, c referral.Commission) (referral.Commission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.commissions[c.ID]
	if !ok {
		return referral.Commission{}, notFound("commission", c.ID)
	}
	c.CreatedAt = original.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	s.commissions[c.ID] = c
	return c, nil
}

func (s *Store) GetCommissionByReferred(_ context.Context, referredID string) (referral.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.commissions {
		if c.ReferredID == referredID {
			return c, nil
		}
	}
	return referral.Commission{}, notFound("commission for referred owner", referredID)
}

func (s *Store) ListCommissions(_ context.Context, referrerID string) ([]referral.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]referral.Commission, 0)
	for _, c := range s.commissions {
		if c.ReferrerID == referrerID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListActiveCommissions(_ context.Context) ([]referral.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]referral.Commission, 0)
	for _, c := range s.commissions {
		if c.Status == referral.CommissionActive {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ReferrerID < result[j].ReferrerID })
	return result, nil
}

func (s *Store) CreatePayment(_ context.Context, p referral.Payment) (referral.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.payments {
		if existing.ReferrerID == p.ReferrerID && existing.Period == p.Period {
			return referral.Payment{}, conflict("payment for %s in %s exists", p.ReferrerID, p.Period)
		}
	}
	if p.ID == "" {
		p.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.payments[p.ID] = p
	return p, nil
}

func (s *Store) UpdatePayment(_ context.Context, p referral.Payment) (referral.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.payments[p.ID]
	if !ok {
		return referral.Payment{}, notFound("payment", p.ID)
	}
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	s.payments[p.ID] = p
	return p, nil
}

func (s *Store) GetPayment(_ context.Context, id string) (referral.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return referral.Payment{}, notFound("payment", id)
	}
	return p, nil
}

func (s *Store) GetPaymentForPeriod(_ context.Context, referrerID, period string) (referral.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.payments {
		if p.ReferrerID == referrerID && p.Period == period {
			return p, nil
		}
	}
	return referral.Payment{}, notFound("payment", referrerID+"/"+period)
}

func (s *Store) ListPayments(_ context.Context, referrerID string, status referral.PaymentStatus) ([]referral.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]referral.Payment, 0)
	for _, p := range s.payments {
		if referrerID != "" && p.ReferrerID != referrerID {
			continue
		}
		if status != "" && p.Status != status {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Period != result[j].Period {
			return result[i].Period < result[j].Period
		}
		return result[i].ReferrerID < result[j].ReferrerID
	})
	return result, nil
}
