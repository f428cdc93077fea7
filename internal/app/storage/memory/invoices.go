package memory

import (
	"context"
	"sort"
	"time"

	"github.com/studiodesk/studiodesk/internal/app/domain/invoice"
	"github.com/studiodesk/studiodesk/internal/app/storage"
)

// InvoiceStore implementation -------------------------------------------------

func (s *Store) CreateInvoice(_ context.Context, inv invoice.Invoice) (invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv.ID == "" {
		inv.ID = s.nextIDLocked()
	} else if _, exists := s.invoices[inv.ID]; exists {
		return invoice.Invoice{}, conflict("invoice %s exists", inv.ID)
	}
	if inv.Number == "" {
		date, err := time.Parse("2006-01-02", inv.Date)
		if err != nil {
			date = time.Now().UTC()
		}
		period := invoice.Period(date)
		key := inv.OwnerID + "/" + period
		s.invoiceSeq[key]++
		inv.Number = invoice.FormatNumber(period, s.invoiceSeq[key])
	}
	for _, existing := range s.invoices {
		if existing.OwnerID == inv.OwnerID && existing.Number == inv.Number {
			return invoice.Invoice{}, conflict("invoice number %s taken", inv.Number)
		}
	}
	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	s.invoices[inv.ID] = inv
	return inv, nil
}

func (s *Store) UpdateInvoice(_ context.Context, inv invoice.Invoice) (invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.invoices[inv.ID]
	if !ok {
		return invoice.Invoice{}, notFound("invoice", inv.ID)
	}
	inv.OwnerID = original.OwnerID
	inv.Number = original.Number
	inv.CreatedAt = original.CreatedAt
	inv.UpdatedAt = time.Now().UTC()
	s.invoices[inv.ID] = inv
	return inv, nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return invoice.Invoice{}, notFound("invoice", id)
	}
	return inv, nil
}

func (s *Store) ListInvoices(_ context.Context, ownerID string, filter storage.InvoiceFilter) ([]invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]invoice.Invoice, 0)
	for _, inv := range s.invoices {
		if inv.OwnerID != ownerID {
			continue
		}
		if filter.ClientID != "" && inv.ClientID != filter.ClientID {
			continue
		}
		if filter.From != "" && inv.Date < filter.From {
			continue
		}
		if filter.To != "" && inv.Date > filter.To {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		result = append(result, inv)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date > result[j].Date
		}
		return result[i].Number > result[j].Number
	})
	return result, nil
}

func (s *Store) DeleteInvoice(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoices[id]; !ok {
		return notFound("invoice", id)
	}
	for itemID, item := range s.invoiceItems {
		if item.InvoiceID == id {
			delete(s.invoiceItems, itemID)
		}
	}
	for payID, p := range s.invoicePays {
		if p.InvoiceID == id {
			delete(s.invoicePays, payID)
		}
	}
	delete(s.invoices, id)
	return nil
}

func (s *Store) CreateInvoiceItem(_ context.Context, item invoice.Item) (invoice.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoices[item.InvoiceID]; !ok {
		return invoice.Item{}, notFound("invoice", item.InvoiceID)
	}
	item.ID = s.nextIDLocked()
	s.invoiceItems[item.ID] = item
	return item, nil
}

func (s *Store) UpdateInvoiceItem(_ context.Context, item invoice.Item) (invoice.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.invoiceItems[item.ID]
	if !ok {
		return invoice.Item{}, notFound("invoice item", item.ID)
	}
	item.InvoiceID = original.InvoiceID
	s.invoiceItems[item.ID] = item
	return item, nil
}

func (s *Store) GetInvoiceItem(_ context.Context, id string) (invoice.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.invoiceItems[id]
	if !ok {
		return invoice.Item{}, notFound("invoice item", id)
	}
	return item, nil
}

func (s *Store) ListInvoiceItems(_ context.Context, invoiceID string) ([]invoice.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]invoice.Item, 0)
	for _, item := range s.invoiceItems {
		if item.InvoiceID == invoiceID {
			result = append(result, item)
		}
	}
	sortByNumericID(result, func(it invoice.Item) string { return it.ID })
	return result, nil
}

func (s *Store) DeleteInvoiceItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoiceItems[id]; !ok {
		return notFound("invoice item", id)
	}
	delete(s.invoiceItems, id)
	return nil
}

func (s *Store) CreateInvoicePayment(_ context.Context, p invoice.Payment) (invoice.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoices[p.InvoiceID]; !ok {
		return invoice.Payment{}, notFound("invoice", p.InvoiceID)
	}
	p.ID = s.nextIDLocked()
	if p.PaidAt.IsZero() {
		p.PaidAt = time.Now().UTC()
	}
	s.invoicePays[p.ID] = p
	return p, nil
}

func (s *Store) UpdateInvoicePayment(_ context.Context, p invoice.Payment) (invoice.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.invoicePays[p.ID]
	if !ok {
		return invoice.Payment{}, notFound("invoice payment", p.ID)
	}
	p.InvoiceID = original.InvoiceID
	if p.PaidAt.IsZero() {
		p.PaidAt = original.PaidAt
	}
	s.invoicePays[p.ID] = p
	return p, nil
}

func (s *Store) GetInvoicePayment(_ context.Context, id string) (invoice.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.invoicePays[id]
	if !ok {
		return invoice.Payment{}, notFound("invoice payment", id)
	}
	return p, nil
}

func (s *Store) ListInvoicePayments(_ context.Context, invoiceID string) ([]invoice.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]invoice.Payment, 0)
	for _, p := range s.invoicePays {
		if p.InvoiceID == invoiceID {
			result = append(result, p)
		}
	}
	sortByNumericID(result, func(p invoice.Payment) string { return p.ID })
	sort.SliceStable(result, func(i, j int) bool { return result[i].PaidAt.Before(result[j].PaidAt) })
	return result, nil
}

func (s *Store) DeleteInvoicePayment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoicePays[id]; !ok {
		return notFound("invoice payment", id)
	}
	delete(s.invoicePays, id)
	return nil
}

// sortByNumericID orders rows by their sequential store IDs.
func sortByNumericID[T any](list []T, id func(T) string) {
	sort.Slice(list, func(i, j int) bool {
		a, b := id(list[i]), id(list[j])
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
}
