package referrals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiodesk/studiodesk/internal/app/domain/referral"
	"github.com/studiodesk/studiodesk/internal/app/domain/tenant"
	"github.com/studiodesk/studiodesk/internal/app/storage/memory"
	"github.com/studiodesk/studiodesk/internal/errors"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

func newOwner(t *testing.T, store *memory.Store, name string) tenant.Owner {
	t.Helper()
	o, err := store.CreateOwner(context.Background(), tenant.Owner{Username: name, Email: name + "@example.com", Role: tenant.RoleOwner})
	require.NoError(t, err)
	return o
}

func pay(t *testing.T, store *memory.Store, o tenant.Owner) {
	t.Helper()
	now := time.Now().UTC()
	o, err := store.GetOwner(context.Background(), o.ID)
	require.NoError(t, err)
	o.Subscription = tenant.Subscription{Plan: "pro", Status: tenant.SubscriptionActive, PaidAt: &now}
	_, err = store.UpdateOwner(context.Background(), o)
	require.NoError(t, err)
}

func TestGenerateCodeIsStable(t *testing.T) {
	store := memory.New()
	svc := New(store, store, Options{}, logger.Discard())
	o := newOwner(t, store, "alice")

	code, err := svc.GenerateCode(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9A-F]{8}$`, code)

	again, err := svc.GenerateCode(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, code, again)
}

func TestRegisterReferralRules(t *testing.T) {
	store := memory.New()
	svc := New(store, store, Options{}, logger.Discard())
	ctx := context.Background()
	alice := newOwner(t, store, "alice")
	bob := newOwner(t, store, "bob")
	carol := newOwner(t, store, "carol")
	aliceCode, _ := svc.GenerateCode(ctx, alice.ID)
	carolCode, _ := svc.GenerateCode(ctx, carol.ID)

	assert.True(t, errors.HasCode(svc.RegisterReferral(ctx, aliceCode, alice.ID), errors.CodeInvalidInput))
	assert.True(t, errors.HasCode(svc.RegisterReferral(ctx, "FFFFFFFF", bob.ID), errors.CodeNotFound))

	require.NoError(t, svc.RegisterReferral(ctx, " "+aliceCode+" ", bob.ID))
	require.NoError(t, svc.RegisterReferral(ctx, aliceCode, bob.ID), "same referrer is idempotent")
	assert.True(t, errors.HasCode(svc.RegisterReferral(ctx, carolCode, bob.ID), errors.CodeConflict))

	got, _ := store.GetOwner(ctx, bob.ID)
	assert.Equal(t, alice.ID, got.ReferredBy)
}

func TestAccrueRespectsThreshold(t *testing.T) {
	store := memory.New()
	svc := New(store, store, Options{Threshold: 3, MonthlyCents: 100}, logger.Discard())
	ctx := context.Background()
	alice := newOwner(t, store, "alice")
	code, _ := svc.GenerateCode(ctx, alice.ID)

	var referred []tenant.Owner
	for _, name := range []string{"r1", "r2", "r3", "r4"} {
		o := newOwner(t, store, name)
		require.NoError(t, svc.RegisterReferral(ctx, code, o.ID))
		referred = append(referred, o)
	}

	for i := 0; i < 2; i++ {
		pay(t, store, referred[i])
		require.NoError(t, svc.Accrue(ctx, referred[i].ID))
	}
	st, err := svc.Stats(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, st.ActiveCommissions)
	assert.Equal(t, 2, st.PaidReferrals)

	pay(t, store, referred[2])
	require.NoError(t, svc.Accrue(ctx, referred[2].ID))
	st, _ = svc.Stats(ctx, alice.ID)
	assert.Equal(t, 3, st.ActiveCommissions, "reaching the threshold credits all paid referrals")
	assert.Equal(t, int64(300), st.CurrentMonthCents)

	require.NoError(t, svc.Accrue(ctx, referred[2].ID))
	commissions, _ := store.ListCommissions(ctx, alice.ID)
	assert.Len(t, commissions, 3, "accrual is once per referred owner")

	pay(t, store, referred[3])
	require.NoError(t, svc.Accrue(ctx, referred[3].ID))
	require.NoError(t, svc.Deactivate(ctx, referred[0].ID))
	st, _ = svc.Stats(ctx, alice.ID)
	assert.Equal(t, 3, st.ActiveCommissions)
	assert.Equal(t, 4, st.ReferredCount)
}

func TestSavePayoutDetails(t *testing.T) {
	store := memory.New()
	svc := New(store, store, Options{}, logger.Discard())
	ctx := context.Background()
	o := newOwner(t, store, "alice")

	saved, err := svc.SavePayoutDetails(ctx, o.ID, tenant.Payout{AccountHolder: "Alice", IBAN: "de89 3704 0044 0532 0130 00"})
	require.NoError(t, err)
	assert.Equal(t, "DE89370400440532013000", saved.IBAN)

	_, err = svc.SavePayoutDetails(ctx, o.ID, tenant.Payout{AccountHolder: "Alice", IBAN: "DE89370400440532013001"})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))

	_, err = svc.SavePayoutDetails(ctx, o.ID, tenant.Payout{PayPalEmail: "alice.example.com"})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))

	_, err = svc.SavePayoutDetails(ctx, o.ID, tenant.Payout{})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))

	st, _ := svc.Stats(ctx, o.ID)
	assert.True(t, st.HasPayoutMethod)
}

func TestValidIBAN(t *testing.T) {
	cases := map[string]bool{
		"GB82WEST12345698765432": true,
		"DE89370400440532013000": true,
		"GB82WEST12345698765433": false,
		"1234":                   false,
		"D189370400440532013000": false,
		"DE89-70400440532013000": false,
	}
	for iban, want := range cases {
		assert.Equal(t, want, ValidIBAN(iban), iban)
	}
}

func TestGeneratePaymentsIsIdempotent(t *testing.T) {
	store := memory.New()
	svc := New(store, store, Options{}, logger.Discard())
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	for _, c := range []referral.Commission{
		{ReferrerID: "a", ReferredID: "x", MonthlyAmountCents: 100, Status: referral.CommissionActive, StartDate: start},
		{ReferrerID: "a", ReferredID: "y", MonthlyAmountCents: 100, Status: referral.CommissionActive, StartDate: start},
		{ReferrerID: "b", ReferredID: "z", MonthlyAmountCents: 100, Status: referral.CommissionActive, StartDate: start.AddDate(0, 2, 0)},
		{ReferrerID: "c", ReferredID: "w", MonthlyAmountCents: 100, Status: referral.CommissionInactive, StartDate: start},
	} {
		_, err := store.CreateCommission(ctx, c)
		require.NoError(t, err)
	}

	created, err := svc.GeneratePayments(ctx, "2026-04")
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "a", created[0].ReferrerID)
	assert.Equal(t, int64(200), created[0].AmountCents)
	assert.Equal(t, referral.PaymentPending, created[0].Status)

	again, err := svc.GeneratePayments(ctx, "2026-04")
	require.NoError(t, err)
	assert.Empty(t, again)

	_, err = svc.GeneratePayments(ctx, "April")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestPaymentTransitions(t *testing.T) {
	store := memory.New()
	svc := New(store, store, Options{}, logger.Discard())
	ctx := context.Background()
	p, err := store.CreatePayment(ctx, referral.Payment{ReferrerID: "a", Period: "2026-04", AmountCents: 300, Status: referral.PaymentPending})
	require.NoError(t, err)

	pending, _ := svc.PendingPayments(ctx)
	assert.Len(t, pending, 1)

	p, err = svc.UpdatePaymentStatus(ctx, p.ID, referral.PaymentProcessing, "batch 7")
	require.NoError(t, err)
	assert.Equal(t, "batch 7", p.Note)

	_, err = svc.UpdatePaymentStatus(ctx, p.ID, referral.PaymentPending, "")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))

	p, err = svc.UpdatePaymentStatus(ctx, p.ID, referral.PaymentFailed, "bounced")
	require.NoError(t, err)
	p, err = svc.UpdatePaymentStatus(ctx, p.ID, referral.PaymentPending, "")
	require.NoError(t, err)
	assert.Equal(t, "bounced", p.Note)
}

func TestPreviousPeriod(t *testing.T) {
	assert.Equal(t, "2025-12", PreviousPeriod(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2026-02", PreviousPeriod(time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)))
}
