package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/studiodesk/studiodesk/internal/app/domain/appointment"
	"github.com/studiodesk/studiodesk/internal/app/domain/client"
	"github.com/studiodesk/studiodesk/internal/app/domain/invoice"
	"github.com/studiodesk/studiodesk/internal/app/domain/notification"
	"github.com/studiodesk/studiodesk/internal/app/domain/tenant"
	"github.com/studiodesk/studiodesk/internal/app/storage"
	"github.com/studiodesk/studiodesk/internal/platform/migrations"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestGetOwnerMapsNoRows(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("SELECT .* FROM owners WHERE id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetOwner(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateOwnerMapsUniqueViolation(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("INSERT INTO owners").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "owners_username_lower_idx"})

	_, err := store.CreateOwner(context.Background(), tenant.Owner{Username: "anna", PasswordHash: "x"})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetOwnerUnflattensRow(t *testing.T) {
	store, mock := newMock(t)
	paid := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash", "role", "referral_code", "referred_by",
		"subscription_plan", "subscription_status", "subscription_paid_at",
		"bank_name", "account_holder", "iban", "bic", "paypal_email", "auto_payout",
		"created_at", "updated_at",
	}).AddRow(
		"o1", "anna", "anna@example.com", "hash", "owner", "ABCD1234", "",
		"pro", "active", paid,
		"Bank", "Anna", "DE89370400440532013000", "", "", true,
		now, now,
	)
	mock.ExpectQuery("SELECT .* FROM owners WHERE lower\\(username\\) = lower\\(\\$1\\)").
		WithArgs("ANNA").
		WillReturnRows(rows)

	owner, err := store.GetOwnerByUsername(context.Background(), "ANNA")
	if err != nil {
		t.Fatalf("get owner: %v", err)
	}
	if !owner.Subscription.Paid() {
		t.Fatalf("expected paid subscription, got %+v", owner.Subscription)
	}
	if owner.Payout.IBAN != "DE89370400440532013000" || !owner.Payout.AutoPayout {
		t.Fatalf("payout not mapped: %+v", owner.Payout)
	}
}

func TestListAppointmentsBuildsFilter(t *testing.T) {
	store, mock := newMock(t)
	rows := sqlmock.NewRows([]string{
		"id", "owner_id", "client_id", "service_id", "date", "start_time", "end_time",
		"notes", "status", "reminder_sent_at", "created_at", "updated_at",
	}).AddRow("a1", "o1", "c1", "s1", "2026-03-02", "10:00", "11:00", "", "scheduled", nil, time.Now(), time.Now())

	mock.ExpectQuery("WHERE owner_id = \\$1 AND date >= CAST\\(\\$2 AS DATE\\) AND date <= CAST\\(\\$3 AS DATE\\) AND client_id = \\$4").
		WithArgs("o1", "2026-03-01", "2026-03-31", "c1").
		WillReturnRows(rows)

	list, err := store.ListAppointments(context.Background(), "o1", storage.AppointmentFilter{
		From: "2026-03-01", To: "2026-03-31", ClientID: "c1",
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Status != appointment.StatusScheduled || list[0].ReminderSentAt != nil {
		t.Fatalf("unexpected result: %+v", list)
	}
}

func TestDeleteClientMissing(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("DELETE FROM clients WHERE id = \\$1").
		WithArgs("c9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DeleteClient(context.Background(), "c9"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateInvoiceDrawsSequenceInTransaction(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO invoice_sequences .* ON CONFLICT \\(owner_id, period\\) DO UPDATE").
		WithArgs("o1", "202603").
		WillReturnRows(sqlmock.NewRows([]string{"last"}).AddRow(7))
	mock.ExpectExec("INSERT INTO invoices").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inv, err := store.CreateInvoice(context.Background(), invoice.Invoice{
		OwnerID: "o1", ClientID: "c1", Date: "2026-03-14", Status: invoice.StatusUnpaid,
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if inv.Number != "INV-202603-0007" {
		t.Fatalf("number = %s", inv.Number)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateInvoiceRollsBackOnConflict(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO invoices").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "invoices_owner_id_number_key"})
	mock.ExpectRollback()

	_, err := store.CreateInvoice(context.Background(), invoice.Invoice{OwnerID: "o1", Number: "INV-202603-0001", Date: "2026-03-14"})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListInvoicesBuildsFilter(t *testing.T) {
	store, mock := newMock(t)
	rows := sqlmock.NewRows([]string{
		"id", "owner_id", "client_id", "number", "date", "due_date", "status", "total_cents", "notes", "created_at", "updated_at",
	}).AddRow("i1", "o1", "c1", "INV-202603-0001", "2026-03-02", "", "unpaid", 6000, "", time.Now(), time.Now())
	mock.ExpectQuery("WHERE owner_id = \\$1 AND client_id = \\$2 AND status = \\$3").
		WithArgs("o1", "c1", "unpaid").
		WillReturnRows(rows)

	list, err := store.ListInvoices(context.Background(), "o1", storage.InvoiceFilter{ClientID: "c1", Status: invoice.StatusUnpaid})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].TotalCents != 6000 {
		t.Fatalf("unexpected result: %+v", list)
	}
}

func TestDefaultTemplateClearsOthers(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE reminder_templates SET is_default = FALSE").
		WithArgs("o1", "sms", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO reminder_templates").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := store.CreateTemplate(context.Background(), notification.Template{
		OwnerID: "o1", Name: "Default SMS", Channel: notification.ChannelSMS, IsDefault: true, Content: "Hi {firstName}",
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMarkNotificationReadMissing(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("UPDATE client_notifications SET read_at = COALESCE\\(read_at, \\$2\\)").
		WithArgs("n9", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	if _, err := store.MarkNotificationRead(context.Background(), "n9", time.Now()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	ctx := context.Background()
	db, err := Open(ctx, dsn, 4, 2, time.Minute)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := migrations.Apply(ctx, db.DB); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	store := New(db)
	owner, err := store.CreateOwner(ctx, tenant.Owner{
		Username:     "it-" + time.Now().Format("150405.000000"),
		PasswordHash: "hash",
		Role:         tenant.RoleOwner,
		Subscription: tenant.Subscription{Status: tenant.SubscriptionNone},
	})
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}

	c, err := store.CreateClient(ctx, client.Client{OwnerID: owner.ID, FirstName: "Eva", Phone: "123"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if _, err := store.CreateOwner(ctx, tenant.Owner{Username: owner.Username, PasswordHash: "x"}); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected duplicate username conflict, got %v", err)
	}
	if err := store.DeleteClient(ctx, c.ID); err != nil {
		t.Fatalf("delete client: %v", err)
	}
}
