package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/studiodesk/studiodesk/internal/app/domain/invoice"
	"github.com/studiodesk/studiodesk/internal/app/storage"
)

// --- InvoiceStore -----------------------------------------------------------

const invoiceColumns = `
	id, owner_id, client_id, number, to_char(date, 'YYYY-MM-DD') AS date, due_date,
	status, total_cents, notes, created_at, updated_at`

// CreateInvoice draws the number from invoice_sequences in the same
// transaction as the insert so concurrent creates never share a number.
func (s *Store) CreateInvoice(ctx context.Context, inv invoice.Invoice) (invoice.Invoice, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return invoice.Invoice{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if inv.Number == "" {
		date, err := time.Parse("2006-01-02", inv.Date)
		if err != nil {
			date = now
		}
		period := invoice.Period(date)
		var seq int
		err = tx.GetContext(ctx, &seq, `
			INSERT INTO invoice_sequences (owner_id, period, last) VALUES ($1, $2, 1)
			ON CONFLICT (owner_id, period) DO UPDATE SET last = invoice_sequences.last + 1
			RETURNING last
		`, inv.OwnerID, period)
		if err != nil {
			return invoice.Invoice{}, mapErr(err, "invoice sequence", inv.OwnerID)
		}
		inv.Number = invoice.FormatNumber(period, seq)
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO invoices (id, owner_id, client_id, number, date, due_date, status, total_cents, notes, created_at, updated_at)
		VALUES (:id, :owner_id, :client_id, :number, CAST(:date AS DATE), :due_date, :status, :total_cents, :notes, :created_at, :updated_at)
	`, inv)
	if err != nil {
		return invoice.Invoice{}, mapErr(err, "invoice", inv.ID)
	}
	if err := tx.Commit(); err != nil {
		return invoice.Invoice{}, err
	}
	return inv, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, inv invoice.Invoice) (invoice.Invoice, error) {
	existing, err := s.GetInvoice(ctx, inv.ID)
	if err != nil {
		return invoice.Invoice{}, err
	}
	inv.OwnerID = existing.OwnerID
	inv.Number = existing.Number
	inv.CreatedAt = existing.CreatedAt
	inv.UpdatedAt = time.Now().UTC()
	_, err = s.db.NamedExecContext(ctx, `
		UPDATE invoices SET
			client_id = :client_id, date = CAST(:date AS DATE), due_date = :due_date, status = :status,
			total_cents = :total_cents, notes = :notes, updated_at = :updated_at
		WHERE id = :id
	`, inv)
	if err != nil {
		return invoice.Invoice{}, mapErr(err, "invoice", inv.ID)
	}
	return inv, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (invoice.Invoice, error) {
	var inv invoice.Invoice
	if err := s.db.GetContext(ctx, &inv, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id); err != nil {
		return invoice.Invoice{}, mapErr(err, "invoice", id)
	}
	return inv, nil
}

func (s *Store) ListInvoices(ctx context.Context, ownerID string, filter storage.InvoiceFilter) ([]invoice.Invoice, error) {
	clauses := []string{"owner_id = $1"}
	args := []any{ownerID}
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.ClientID != "" {
		add("client_id = $%d", filter.ClientID)
	}
	if filter.From != "" {
		add("date >= CAST($%d AS DATE)", filter.From)
	}
	if filter.To != "" {
		add("date <= CAST($%d AS DATE)", filter.To)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}

	result := []invoice.Invoice{}
	err := s.db.SelectContext(ctx, &result, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE `+strings.Join(clauses, " AND ")+`
		ORDER BY date DESC, number DESC
	`, args...)
	return result, err
}

// DeleteInvoice relies on ON DELETE CASCADE for items and payments.
func (s *Store) DeleteInvoice(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "invoice", id)
}

const invoiceItemColumns = `id, invoice_id, service_id, appointment_id, description, quantity, unit_price_cents`

func (s *Store) CreateInvoiceItem(ctx context.Context, item invoice.Item) (invoice.Item, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO invoice_items (`+invoiceItemColumns+`)
		VALUES (:id, :invoice_id, :service_id, :appointment_id, :description, :quantity, :unit_price_cents)
	`, item)
	if err != nil {
		return invoice.Item{}, mapErr(err, "invoice item", item.ID)
	}
	return item, nil
}

func (s *Store) UpdateInvoiceItem(ctx context.Context, item invoice.Item) (invoice.Item, error) {
	var updated invoice.Item
	err := s.db.GetContext(ctx, &updated, `
		UPDATE invoice_items SET
			service_id = $2, appointment_id = $3, description = $4, quantity = $5, unit_price_cents = $6
		WHERE id = $1
		RETURNING `+invoiceItemColumns,
		item.ID, item.ServiceID, item.AppointmentID, item.Description, item.Quantity, item.UnitPriceCents)
	if err != nil {
		return invoice.Item{}, mapErr(err, "invoice item", item.ID)
	}
	return updated, nil
}

func (s *Store) GetInvoiceItem(ctx context.Context, id string) (invoice.Item, error) {
	var item invoice.Item
	if err := s.db.GetContext(ctx, &item, `SELECT `+invoiceItemColumns+` FROM invoice_items WHERE id = $1`, id); err != nil {
		return invoice.Item{}, mapErr(err, "invoice item", id)
	}
	return item, nil
}

func (s *Store) ListInvoiceItems(ctx context.Context, invoiceID string) ([]invoice.Item, error) {
	result := []invoice.Item{}
	err := s.db.SelectContext(ctx, &result, `
		SELECT `+invoiceItemColumns+` FROM invoice_items WHERE invoice_id = $1 ORDER BY position
	`, invoiceID)
	return result, err
}

func (s *Store) DeleteInvoiceItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invoice_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "invoice item", id)
}

const invoicePaymentColumns = `id, invoice_id, amount_cents, method, notes, paid_at`

func (s *Store) CreateInvoicePayment(ctx context.Context, p invoice.Payment) (invoice.Payment, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.PaidAt.IsZero() {
		p.PaidAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO invoice_payments (`+invoicePaymentColumns+`)
		VALUES (:id, :invoice_id, :amount_cents, :method, :notes, :paid_at)
	`, p)
	if err != nil {
		return invoice.Payment{}, mapErr(err, "invoice payment", p.ID)
	}
	return p, nil
}

func (s *Store) UpdateInvoicePayment(ctx context.Context, p invoice.Payment) (invoice.Payment, error) {
	var updated invoice.Payment
	err := s.db.GetContext(ctx, &updated, `
		UPDATE invoice_payments SET
			amount_cents = $2, method = $3, notes = $4, paid_at = COALESCE($5, paid_at)
		WHERE id = $1
		RETURNING `+invoicePaymentColumns,
		p.ID, p.AmountCents, p.Method, p.Notes, nullTime(p.PaidAt))
	if err != nil {
		return invoice.Payment{}, mapErr(err, "invoice payment", p.ID)
	}
	return updated, nil
}

func (s *Store) GetInvoicePayment(ctx context.Context, id string) (invoice.Payment, error) {
	var p invoice.Payment
	if err := s.db.GetContext(ctx, &p, `SELECT `+invoicePaymentColumns+` FROM invoice_payments WHERE id = $1`, id); err != nil {
		return invoice.Payment{}, mapErr(err, "invoice payment", id)
	}
	return p, nil
}

func (s *Store) ListInvoicePayments(ctx context.Context, invoiceID string) ([]invoice.Payment, error) {
	result := []invoice.Payment{}
	err := s.db.SelectContext(ctx, &result, `
		SELECT `+invoicePaymentColumns+` FROM invoice_payments WHERE invoice_id = $1 ORDER BY paid_at
	`, invoiceID)
	return result, err
}

func (s *Store) DeleteInvoicePayment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invoice_payments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "invoice payment", id)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
