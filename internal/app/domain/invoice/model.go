package invoice

import (
	"fmt"
	"time"

	"github.com/studiodesk/studiodesk/internal/app/domain/client"
)

// Status is the payment state of an invoice.
type Status string

const (
	StatusUnpaid    Status = "unpaid"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusUnpaid, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// NumberPrefix starts every invoice number.
const NumberPrefix = "INV"

// Period returns the YYYYMM part of an invoice number for t.
func Period(t time.Time) string {
	return t.Format("200601")
}

// FormatNumber renders INV-YYYYMM-NNNN.
func FormatNumber(period string, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", NumberPrefix, period, seq)
}

// Invoice is a bill issued by an owner to one of their clients. TotalCents
// always equals the sum of the item lines.
type Invoice struct {
	ID         string    `json:"id" db:"id"`
	OwnerID    string    `json:"owner_id" db:"owner_id"`
	ClientID   string    `json:"client_id" db:"client_id"`
	Number     string    `json:"number" db:"number"`
	Date       string    `json:"date" db:"date"`
	DueDate    string    `json:"due_date,omitempty" db:"due_date"`
	Status     Status    `json:"status" db:"status"`
	TotalCents int64     `json:"total_cents" db:"total_cents"`
	Notes      string    `json:"notes,omitempty" db:"notes"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Item is one billed line.
type Item struct {
	ID             string `json:"id" db:"id"`
	InvoiceID      string `json:"invoice_id" db:"invoice_id"`
	ServiceID      string `json:"service_id,omitempty" db:"service_id"`
	AppointmentID  string `json:"appointment_id,omitempty" db:"appointment_id"`
	Description    string `json:"description" db:"description"`
	Quantity       int    `json:"quantity" db:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents" db:"unit_price_cents"`
}

// AmountCents is quantity times unit price.
func (i Item) AmountCents() int64 {
	return int64(i.Quantity) * i.UnitPriceCents
}

// Payment is money received against an invoice.
type Payment struct {
	ID          string    `json:"id" db:"id"`
	InvoiceID   string    `json:"invoice_id" db:"invoice_id"`
	AmountCents int64     `json:"amount_cents" db:"amount_cents"`
	Method      string    `json:"method,omitempty" db:"method"`
	Notes       string    `json:"notes,omitempty" db:"notes"`
	PaidAt      time.Time `json:"paid_at" db:"paid_at"`
}

// Details is an invoice with its client, lines and payments.
type Details struct {
	Invoice
	Client    client.Client `json:"client"`
	Items     []Item        `json:"items"`
	Payments  []Payment     `json:"payments"`
	PaidCents int64         `json:"paid_cents"`
}

// Total sums the item lines.
func Total(items []Item) int64 {
	var total int64
	for _, it := range items {
		total += it.AmountCents()
	}
	return total
}

// Paid sums the payments.
func Paid(payments []Payment) int64 {
	var paid int64
	for _, p := range payments {
		paid += p.AmountCents
	}
	return paid
}

// Settle derives the status from total and paid amounts. Cancelled invoices
// stay cancelled.
func Settle(current Status, totalCents, paidCents int64) Status {
	if current == StatusCancelled {
		return current
	}
	if totalCents > 0 && paidCents >= totalCents {
		return StatusPaid
	}
	return StatusUnpaid
}
