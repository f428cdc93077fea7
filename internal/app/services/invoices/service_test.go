package invoices

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiodesk/studiodesk/internal/app/domain/appointment"
	"github.com/studiodesk/studiodesk/internal/app/domain/catalog"
	"github.com/studiodesk/studiodesk/internal/app/domain/client"
	"github.com/studiodesk/studiodesk/internal/app/domain/invoice"
	"github.com/studiodesk/studiodesk/internal/app/storage"
	"github.com/studiodesk/studiodesk/internal/app/storage/memory"
	"github.com/studiodesk/studiodesk/internal/errors"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

type fixture struct {
	svc     *Service
	store   *memory.Store
	client  client.Client
	service catalog.Service
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	svc := New(store, store, store, store, time.UTC, logger.Discard())
	svc.now = func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }

	c, err := store.CreateClient(ctx, client.Client{OwnerID: "o1", FirstName: "Anna", LastName: "Berg", Phone: "1"})
	require.NoError(t, err)
	cs, err := store.CreateService(ctx, catalog.Service{OwnerID: "o1", Name: "Massage", DurationMinutes: 60, PriceCents: 6000})
	require.NoError(t, err)
	return fixture{svc: svc, store: store, client: c, service: cs}
}

func TestCreateNumbersAndTotals(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, "o1", Draft{
		ClientID: f.client.ID,
		Items: []invoice.Item{
			{ServiceID: f.service.ID},
			{Description: "Oil", Quantity: 2, UnitPriceCents: 450},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "INV-202603-0001", first.Number)
	assert.Equal(t, "2026-03-14", first.Date)
	assert.Equal(t, invoice.StatusUnpaid, first.Status)
	assert.Equal(t, int64(6900), first.TotalCents)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "Massage", first.Items[0].Description)
	assert.Equal(t, "Anna", first.Client.FirstName)

	second, err := f.svc.Create(ctx, "o1", Draft{ClientID: f.client.ID})
	require.NoError(t, err)
	assert.Equal(t, "INV-202603-0002", second.Number)
	assert.Zero(t, second.TotalCents)
}

func TestCreateValidates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		draft Draft
		code  errors.Code
	}{
		{"missing client", Draft{}, errors.CodeInvalidInput},
		{"bad date", Draft{ClientID: f.client.ID, Date: "14.03.2026"}, errors.CodeInvalidInput},
		{"due before date", Draft{ClientID: f.client.ID, Date: "2026-03-14", DueDate: "2026-03-01"}, errors.CodeInvalidInput},
		{"empty line", Draft{ClientID: f.client.ID, Items: []invoice.Item{{Quantity: 1}}}, errors.CodeInvalidInput},
		{"negative price", Draft{ClientID: f.client.ID, Items: []invoice.Item{{Description: "x", UnitPriceCents: -1}}}, errors.CodeInvalidInput},
		{"foreign client", Draft{ClientID: "missing"}, errors.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, "o1", tc.draft)
			assert.True(t, errors.HasCode(err, tc.code), "got %v", err)
		})
	}
}

func TestItemsKeepTotalInSync(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	inv, err := f.svc.Create(ctx, "o1", Draft{ClientID: f.client.ID, Items: []invoice.Item{{ServiceID: f.service.ID}}})
	require.NoError(t, err)

	d, err := f.svc.AddItem(ctx, "o1", inv.ID, invoice.Item{Description: "Towel", Quantity: 3, UnitPriceCents: 200})
	require.NoError(t, err)
	assert.Equal(t, int64(6600), d.TotalCents)

	towel := d.Items[1]
	d, err = f.svc.UpdateItem(ctx, "o1", inv.ID, towel.ID, invoice.Item{Description: "Towel", Quantity: 1, UnitPriceCents: 200})
	require.NoError(t, err)
	assert.Equal(t, int64(6200), d.TotalCents)

	d, err = f.svc.RemoveItem(ctx, "o1", inv.ID, d.Items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), d.TotalCents)
	assert.Len(t, d.Items, 1)

	stored, err := f.store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), stored.TotalCents)
}

func TestPaymentsSettleAndReopen(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	inv, err := f.svc.Create(ctx, "o1", Draft{ClientID: f.client.ID, Items: []invoice.Item{{ServiceID: f.service.ID}}})
	require.NoError(t, err)

	d, err := f.svc.AddPayment(ctx, "o1", inv.ID, invoice.Payment{AmountCents: 2000, Method: "cash"})
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusUnpaid, d.Status)
	assert.Equal(t, int64(2000), d.PaidCents)

	d, err = f.svc.AddPayment(ctx, "o1", inv.ID, invoice.Payment{AmountCents: 4000, Method: "card"})
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, d.Status)

	d, err = f.svc.UpdatePayment(ctx, "o1", inv.ID, d.Payments[1].ID, invoice.Payment{AmountCents: 3000, Method: "card"})
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusUnpaid, d.Status, "short payment reopens the invoice")

	d, err = f.svc.AddItem(ctx, "o1", inv.ID, invoice.Item{Description: "Discount voucher", UnitPriceCents: 0})
	require.NoError(t, err)
	d, err = f.svc.UpdateItem(ctx, "o1", inv.ID, d.Items[0].ID, invoice.Item{ServiceID: f.service.ID, UnitPriceCents: 5000})
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, d.Status, "lower total is covered by existing payments")

	err = f.svc.Delete(ctx, "o1", inv.ID)
	assert.True(t, errors.HasCode(err, errors.CodeConflict), "paid invoices are kept")

	d, err = f.svc.RemovePayment(ctx, "o1", inv.ID, d.Payments[0].ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusUnpaid, d.Status)

	_, err = f.svc.AddPayment(ctx, "o1", inv.ID, invoice.Payment{AmountCents: 0})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestStatusTransitions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	inv, err := f.svc.Create(ctx, "o1", Draft{ClientID: f.client.ID, Items: []invoice.Item{{ServiceID: f.service.ID}}})
	require.NoError(t, err)

	_, err = f.svc.SetStatus(ctx, "o1", inv.ID, invoice.StatusPaid)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput), "paid comes from payments only")

	cancelled, err := f.svc.SetStatus(ctx, "o1", inv.ID, invoice.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusCancelled, cancelled.Status)

	_, err = f.svc.AddPayment(ctx, "o1", inv.ID, invoice.Payment{AmountCents: 100})
	assert.True(t, errors.HasCode(err, errors.CodeConflict))
	_, err = f.svc.AddItem(ctx, "o1", inv.ID, invoice.Item{Description: "x", UnitPriceCents: 1})
	assert.True(t, errors.HasCode(err, errors.CodeConflict))

	reopened, err := f.svc.SetStatus(ctx, "o1", inv.ID, invoice.StatusUnpaid)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusUnpaid, reopened.Status)

	_, err = f.svc.AddPayment(ctx, "o1", inv.ID, invoice.Payment{AmountCents: 100})
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, "o1", inv.ID, invoice.StatusCancelled)
	assert.True(t, errors.HasCode(err, errors.CodeConflict), "invoices with payments cannot be cancelled")
}

func TestAppointmentLines(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	appt, err := f.store.CreateAppointment(ctx, appointment.Appointment{
		OwnerID: "o1", ClientID: f.client.ID, ServiceID: f.service.ID,
		Date: "2026-03-10", StartTime: "10:00", EndTime: "11:00", Status: appointment.StatusCompleted,
	})
	require.NoError(t, err)
	other, err := f.store.CreateClient(ctx, client.Client{OwnerID: "o1", FirstName: "Carl", LastName: "Dahl", Phone: "2"})
	require.NoError(t, err)

	d, err := f.svc.Create(ctx, "o1", Draft{ClientID: f.client.ID, Items: []invoice.Item{{AppointmentID: appt.ID}}})
	require.NoError(t, err)
	assert.Equal(t, f.service.ID, d.Items[0].ServiceID)
	assert.Equal(t, int64(6000), d.TotalCents)

	_, err = f.svc.Create(ctx, "o1", Draft{ClientID: other.ID, Items: []invoice.Item{{AppointmentID: appt.ID}}})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestTenantIsolation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	inv, err := f.svc.Create(ctx, "o1", Draft{ClientID: f.client.ID, Items: []invoice.Item{{ServiceID: f.service.ID}}})
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, "o2", inv.ID)
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
	_, err = f.svc.AddPayment(ctx, "o2", inv.ID, invoice.Payment{AmountCents: 6000})
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
	assert.True(t, errors.HasCode(f.svc.Delete(ctx, "o2", inv.ID), errors.CodeNotFound))
	_, err = f.svc.Create(ctx, "o2", Draft{ClientID: f.client.ID})
	assert.True(t, errors.HasCode(err, errors.CodeNotFound), "foreign clients cannot be billed")
	_, err = f.svc.AddItem(ctx, "o1", inv.ID, invoice.Item{ServiceID: "nope"})
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))

	list, err := f.svc.List(ctx, "o2", storage.InvoiceFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	o2Client, err := f.store.CreateClient(ctx, client.Client{OwnerID: "o2", FirstName: "Eva", LastName: "Falk", Phone: "3"})
	require.NoError(t, err)
	own, err := f.svc.Create(ctx, "o2", Draft{ClientID: o2Client.ID})
	require.NoError(t, err)
	assert.Equal(t, "INV-202603-0001", own.Number, "numbering is per owner")
}

func TestListValidatesFilter(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.svc.List(ctx, "o1", storage.InvoiceFilter{Status: "overdue"})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
	_, err = f.svc.List(ctx, "o1", storage.InvoiceFilter{From: "2026-03-31", To: "2026-03-01"})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestConcurrentPaymentsSettleOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	inv, err := f.svc.Create(ctx, "o1", Draft{ClientID: f.client.ID, Items: []invoice.Item{{ServiceID: f.service.ID}}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.AddPayment(ctx, "o1", inv.ID, invoice.Payment{AmountCents: 1000})
		}()
	}
	wg.Wait()

	d, err := f.svc.Get(ctx, "o1", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), d.PaidCents)
	assert.Equal(t, invoice.StatusPaid, d.Status)
}
