package tenants

import (
	"context"
	"testing"
	"time"

	"github.com/studiodesk/studiodesk/internal/app/domain/tenant"
	"github.com/studiodesk/studiodesk/internal/app/storage/memory"
	"github.com/studiodesk/studiodesk/internal/errors"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

type fakeReferrals struct {
	registered  []string
	accrued     []string
	deactivated []string
	failCode    bool
}

func (f *fakeReferrals) RegisterReferral(_ context.Context, code, ownerID string) error {
	if f.failCode {
		return errors.NotFound("referral code", code)
	}
	f.registered = append(f.registered, code+":"+ownerID)
	return nil
}

func (f *fakeReferrals) Accrue(_ context.Context, id string) error {
	f.accrued = append(f.accrued, id)
	return nil
}

func (f *fakeReferrals) Deactivate(_ context.Context, id string) error {
	f.deactivated = append(f.deactivated, id)
	return nil
}

func newService(t *testing.T, refs Referrals) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	return New(store, refs, Options{Secret: []byte("test-secret"), TokenTTL: time.Hour}, logger.Discard()), store
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	owner, err := svc.Register(ctx, "studio", "a@b.c", "longenough", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if owner.PasswordHash == "longenough" || owner.Role != tenant.RoleOwner {
		t.Fatalf("unexpected owner %+v", owner)
	}

	if _, err := svc.Register(ctx, "STUDIO", "", "longenough", ""); !errors.HasCode(err, errors.CodeConflict) {
		t.Fatalf("expected conflict for duplicate username, got %v", err)
	}
	if _, err := svc.Register(ctx, "other", "", "short", ""); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected invalid input for short password, got %v", err)
	}

	if _, err := svc.Authenticate(ctx, "studio", "longenough"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	for _, tc := range []struct{ user, pass string }{{"studio", "wrong-pass"}, {"ghost", "longenough"}} {
		_, err := svc.Authenticate(ctx, tc.user, tc.pass)
		if !errors.HasCode(err, errors.CodeUnauthorized) {
			t.Fatalf("%s/%s: expected unauthorized, got %v", tc.user, tc.pass, err)
		}
	}
}

func TestRegisterWithReferralCode(t *testing.T) {
	refs := &fakeReferrals{}
	svc, _ := newService(t, refs)
	owner, err := svc.Register(context.Background(), "newbie", "", "longenough", "ABCD1234")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(refs.registered) != 1 || refs.registered[0] != "ABCD1234:"+owner.ID {
		t.Fatalf("referral not registered: %v", refs.registered)
	}

	refs.failCode = true
	if _, err := svc.Register(context.Background(), "second", "", "longenough", "NOPE"); err != nil {
		t.Fatalf("unknown code must not block registration: %v", err)
	}
}

func TestSubscriptionLifecycleDrivesReferrals(t *testing.T) {
	refs := &fakeReferrals{}
	svc, store := newService(t, refs)
	ctx := context.Background()

	referred, _ := store.CreateOwner(ctx, tenant.Owner{Username: "r", ReferredBy: "sponsor"})
	plain, _ := store.CreateOwner(ctx, tenant.Owner{Username: "p"})

	updated, err := svc.ActivateSubscription(ctx, referred.ID, "pro")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !updated.Subscription.Paid() {
		t.Fatalf("subscription should be paid: %+v", updated.Subscription)
	}
	if _, err := svc.ActivateSubscription(ctx, plain.ID, "pro"); err != nil {
		t.Fatalf("activate plain: %v", err)
	}
	if len(refs.accrued) != 1 || refs.accrued[0] != referred.ID {
		t.Fatalf("only referred owners accrue: %v", refs.accrued)
	}

	cancelled, err := svc.CancelSubscription(ctx, referred.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Subscription.Status != tenant.SubscriptionCancelled || len(refs.deactivated) != 1 {
		t.Fatalf("cancel not propagated: %+v %v", cancelled.Subscription, refs.deactivated)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	svc, _ := newService(t, nil)
	owner := tenant.Owner{ID: "o1", Username: "studio", Role: tenant.RoleAdmin}

	raw, expires, err := svc.IssueToken(owner)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(expires) > time.Hour {
		t.Fatalf("expiry beyond ttl: %v", expires)
	}
	claims, err := svc.ParseToken(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "o1" || claims.Role != tenant.RoleAdmin {
		t.Fatalf("claims mismatch: %+v", claims)
	}

	other := New(memory.New(), nil, Options{Secret: []byte("different")}, logger.Discard())
	if _, err := other.ParseToken(raw); !errors.HasCode(err, errors.CodeInvalidToken) {
		t.Fatalf("expected invalid token for foreign signature, got %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := svc.ParseToken(raw); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestPromoteAdmin(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "boss", "", "longenough", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	owner, err := svc.PromoteAdmin(ctx, "Boss")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if owner.Role != tenant.RoleAdmin {
		t.Fatalf("role = %s", owner.Role)
	}
}
