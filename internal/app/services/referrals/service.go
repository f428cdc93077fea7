package referrals

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/studiodesk/studiodesk/internal/app/domain/referral"
	"github.com/studiodesk/studiodesk/internal/app/domain/tenant"
	"github.com/studiodesk/studiodesk/internal/app/metrics"
	"github.com/studiodesk/studiodesk/internal/app/storage"
	"github.com/studiodesk/studiodesk/internal/errors"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

// PeriodLayout formats payout periods.
const PeriodLayout = "2006-01"

const codeAttempts = 5

// Options configures the referral programme.
type Options struct {
	// Threshold is the number of paid referred owners needed before
	// commissions are credited.
	Threshold    int
	MonthlyCents int64
}

// Details is everything a referrer sees about the programme.
type Details struct {
	ReferralCode string                `json:"referral_code"`
	Payout       tenant.Payout         `json:"payout"`
	Commissions  []referral.Commission `json:"commissions"`
	Payments     []referral.Payment    `json:"payments"`
	Stats        referral.Stats        `json:"stats"`
}

// Service runs the referral programme: codes, commissions and payouts.
type Service struct {
	owners storage.OwnerStore
	store  storage.ReferralStore
	opts   Options
	log    *logger.Logger
	now    func() time.Time
}

// New creates a referrals service.
func New(owners storage.OwnerStore, store storage.ReferralStore, opts Options, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("referrals")
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 3
	}
	if opts.MonthlyCents <= 0 {
		opts.MonthlyCents = 100
	}
	return &Service{owners: owners, store: store, opts: opts, log: log, now: time.Now}
}

func newCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// GenerateCode returns the owner's referral code, creating one on first use.
func (s *Service) GenerateCode(ctx context.Context, ownerID string) (string, error) {
	owner, err := s.owners.GetOwner(ctx, ownerID)
	if err != nil {
		return "", errors.FromStore(err, "owner", ownerID)
	}
	if owner.ReferralCode != "" {
		return owner.ReferralCode, nil
	}
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := newCode()
		if err != nil {
			return "", errors.Internal("generate referral code", err)
		}
		if _, err := s.owners.GetOwnerByReferralCode(ctx, code); err == nil {
			continue
		} else if !stderrors.Is(err, storage.ErrNotFound) {
			return "", err
		}
		owner.ReferralCode = code
		if _, err := s.owners.UpdateOwner(ctx, owner); err != nil {
			if stderrors.Is(err, storage.ErrConflict) {
				continue
			}
			return "", errors.FromStore(err, "owner", ownerID)
		}
		s.log.WithField("owner_id", ownerID).WithField("referral_code", code).Info("referral code generated")
		return code, nil
	}
	return "", errors.Internal("generate referral code", fmt.Errorf("no free code after %d attempts", codeAttempts))
}

// RegisterReferral links a newly registered owner to the owner behind code.
func (s *Service) RegisterReferral(ctx context.Context, code, ownerID string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return errors.Required("referral_code")
	}
	referrer, err := s.owners.GetOwnerByReferralCode(ctx, code)
	if err != nil {
		return errors.FromStore(err, "referral code", code)
	}
	if referrer.ID == ownerID {
		return errors.InvalidInput("owners cannot refer themselves")
	}
	owner, err := s.owners.GetOwner(ctx, ownerID)
	if err != nil {
		return errors.FromStore(err, "owner", ownerID)
	}
	if owner.ReferredBy != "" {
		if owner.ReferredBy == referrer.ID {
			return nil
		}
		return errors.Conflict("owner was already referred")
	}
	owner.ReferredBy = referrer.ID
	if _, err := s.owners.UpdateOwner(ctx, owner); err != nil {
		return errors.FromStore(err, "owner", ownerID)
	}
	s.log.WithField("referrer_id", referrer.ID).WithField("owner_id", ownerID).Info("referral registered")
	return nil
}

// Accrue credits the referrer of a newly paying owner. Nothing is credited
// until the referrer has Threshold paid referrals; from then on every paid
// referral carries one commission.
func (s *Service) Accrue(ctx context.Context, referredOwnerID string) error {
	owner, err := s.owners.GetOwner(ctx, referredOwnerID)
	if err != nil {
		return errors.FromStore(err, "owner", referredOwnerID)
	}
	if owner.ReferredBy == "" {
		return nil
	}
	referred, err := s.owners.ListReferredOwners(ctx, owner.ReferredBy)
	if err != nil {
		return err
	}
	paid := make([]tenant.Owner, 0, len(referred))
	for _, r := range referred {
		if r.Subscription.Paid() {
			paid = append(paid, r)
		}
	}
	entry := s.log.WithField("referrer_id", owner.ReferredBy).WithField("paid_referrals", len(paid))
	if len(paid) < s.opts.Threshold {
		entry.Debug("referral threshold not reached")
		return nil
	}

	credited := 0
	for _, r := range paid {
		ok, err := s.credit(ctx, owner.ReferredBy, r.ID)
		if err != nil {
			return err
		}
		if ok {
			credited++
		}
	}
	if credited > 0 {
		entry.WithField("credited", credited).Info("referral commissions credited")
	}
	return nil
}

func (s *Service) credit(ctx context.Context, referrerID, referredID string) (bool, error) {
	existing, err := s.store.GetCommissionByReferred(ctx, referredID)
	switch {
	case err == nil:
		if existing.Status == referral.CommissionActive {
			return false, nil
		}
		existing.Status = referral.CommissionActive
		existing.StartDate = s.now().UTC()
		if _, err := s.store.UpdateCommission(ctx, existing); err != nil {
			return false, err
		}
		return true, nil
	case stderrors.Is(err, storage.ErrNotFound):
		_, err := s.store.CreateCommission(ctx, referral.Commission{
			ReferrerID:         referrerID,
			ReferredID:         referredID,
			MonthlyAmountCents: s.opts.MonthlyCents,
			Status:             referral.CommissionActive,
			StartDate:          s.now().UTC(),
		})
		if stderrors.Is(err, storage.ErrConflict) {
			return false, nil
		}
		return err == nil, err
	default:
		return false, err
	}
}

// Deactivate stops the commission earned through a referred owner.
func (s *Service) Deactivate(ctx context.Context, referredOwnerID string) error {
	c, err := s.store.GetCommissionByReferred(ctx, referredOwnerID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if c.Status == referral.CommissionInactive {
		return nil
	}
	c.Status = referral.CommissionInactive
	if _, err := s.store.UpdateCommission(ctx, c); err != nil {
		return err
	}
	s.log.WithField("referrer_id", c.ReferrerID).WithField("referred_id", referredOwnerID).Info("referral commission deactivated")
	return nil
}

// Stats summarises a referrer's programme position.
func (s *Service) Stats(ctx context.Context, ownerID string) (referral.Stats, error) {
	owner, err := s.owners.GetOwner(ctx, ownerID)
	if err != nil {
		return referral.Stats{}, errors.FromStore(err, "owner", ownerID)
	}
	return s.stats(ctx, owner)
}

func (s *Service) stats(ctx context.Context, owner tenant.Owner) (referral.Stats, error) {
	commissions, err := s.store.ListCommissions(ctx, owner.ID)
	if err != nil {
		return referral.Stats{}, err
	}
	referred, err := s.owners.ListReferredOwners(ctx, owner.ID)
	if err != nil {
		return referral.Stats{}, err
	}
	st := referral.Stats{ReferredCount: len(referred), HasPayoutMethod: owner.Payout.HasMethod()}
	for _, r := range referred {
		if r.Subscription.Paid() {
			st.PaidReferrals++
		}
	}
	for _, c := range commissions {
		if c.Status == referral.CommissionActive {
			st.ActiveCommissions++
			st.CurrentMonthCents += c.MonthlyAmountCents
		}
	}
	last := PreviousPeriod(s.now())
	if p, err := s.store.GetPaymentForPeriod(ctx, owner.ID, last); err == nil {
		st.LastMonthCents = p.AmountCents
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		return referral.Stats{}, err
	}
	return st, nil
}

// Details returns the referrer's code, payout data, commissions, payments
// and stats.
func (s *Service) Details(ctx context.Context, ownerID string) (Details, error) {
	owner, err := s.owners.GetOwner(ctx, ownerID)
	if err != nil {
		return Details{}, errors.FromStore(err, "owner", ownerID)
	}
	commissions, err := s.store.ListCommissions(ctx, ownerID)
	if err != nil {
		return Details{}, err
	}
	payments, err := s.store.ListPayments(ctx, ownerID, "")
	if err != nil {
		return Details{}, err
	}
	st, err := s.stats(ctx, owner)
	if err != nil {
		return Details{}, err
	}
	return Details{
		ReferralCode: owner.ReferralCode,
		Payout:       owner.Payout,
		Commissions:  commissions,
		Payments:     payments,
		Stats:        st,
	}, nil
}

// SavePayoutDetails validates and stores where commissions are paid to.
func (s *Service) SavePayoutDetails(ctx context.Context, ownerID string, payout tenant.Payout) (tenant.Payout, error) {
	owner, err := s.owners.GetOwner(ctx, ownerID)
	if err != nil {
		return tenant.Payout{}, errors.FromStore(err, "owner", ownerID)
	}
	payout.BankName = strings.TrimSpace(payout.BankName)
	payout.AccountHolder = strings.TrimSpace(payout.AccountHolder)
	payout.BIC = strings.ToUpper(strings.TrimSpace(payout.BIC))
	payout.PayPalEmail = strings.TrimSpace(payout.PayPalEmail)
	payout.IBAN = NormalizeIBAN(payout.IBAN)

	if payout.IBAN != "" {
		if !ValidIBAN(payout.IBAN) {
			return tenant.Payout{}, errors.InvalidInput("iban is not valid")
		}
		if payout.AccountHolder == "" {
			return tenant.Payout{}, errors.Required("account_holder")
		}
	}
	if payout.PayPalEmail != "" && !strings.Contains(payout.PayPalEmail, "@") {
		return tenant.Payout{}, errors.InvalidInput("paypal_email is not valid")
	}
	if !payout.HasMethod() {
		return tenant.Payout{}, errors.InvalidInput("iban or paypal_email is required")
	}

	owner.Payout = payout
	updated, err := s.owners.UpdateOwner(ctx, owner)
	if err != nil {
		return tenant.Payout{}, errors.FromStore(err, "owner", ownerID)
	}
	s.log.WithField("owner_id", ownerID).Info("payout details saved")
	return updated.Payout, nil
}

// NormalizeIBAN strips spaces and upper-cases the value.
func NormalizeIBAN(iban string) string {
	return strings.ToUpper(strings.Join(strings.Fields(iban), ""))
}

// ValidIBAN checks length, country prefix and the ISO 13616 mod-97 checksum
// of a normalised IBAN.
func ValidIBAN(iban string) bool {
	if len(iban) < 15 || len(iban) > 34 {
		return false
	}
	for i, r := range iban {
		switch {
		case i < 2 && (r < 'A' || r > 'Z'):
			return false
		case i >= 2 && i < 4 && (r < '0' || r > '9'):
			return false
		case (r < 'A' || r > 'Z') && (r < '0' || r > '9'):
			return false
		}
	}
	rearranged := iban[4:] + iban[:4]
	var digits strings.Builder
	for _, r := range rearranged {
		if r >= 'A' && r <= 'Z' {
			fmt.Fprintf(&digits, "%d", r-'A'+10)
		} else {
			digits.WriteRune(r)
		}
	}
	n, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok {
		return false
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64() == 1
}

// PreviousPeriod returns the YYYY-MM period before the month containing t.
func PreviousPeriod(t time.Time) string {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return first.AddDate(0, -1, 0).Format(PeriodLayout)
}

// GeneratePayments creates one pending payment per referrer with active
// commissions for period. Referrers already paid for the period are skipped.
func (s *Service) GeneratePayments(ctx context.Context, period string) ([]referral.Payment, error) {
	start, err := time.Parse(PeriodLayout, period)
	if err != nil {
		return nil, errors.InvalidInput(fmt.Sprintf("period %q must be YYYY-MM", period))
	}
	end := start.AddDate(0, 1, 0)

	commissions, err := s.store.ListActiveCommissions(ctx)
	if err != nil {
		return nil, err
	}
	totals := make(map[string]int64)
	order := make([]string, 0)
	for _, c := range commissions {
		if !c.StartDate.IsZero() && !c.StartDate.Before(end) {
			continue
		}
		if _, seen := totals[c.ReferrerID]; !seen {
			order = append(order, c.ReferrerID)
		}
		totals[c.ReferrerID] += c.MonthlyAmountCents
	}

	created := make([]referral.Payment, 0, len(order))
	for _, referrerID := range order {
		if _, err := s.store.GetPaymentForPeriod(ctx, referrerID, period); err == nil {
			continue
		} else if !stderrors.Is(err, storage.ErrNotFound) {
			return created, err
		}
		p, err := s.store.CreatePayment(ctx, referral.Payment{
			ReferrerID:  referrerID,
			Period:      period,
			AmountCents: totals[referrerID],
			Status:      referral.PaymentPending,
		})
		if err != nil {
			if stderrors.Is(err, storage.ErrConflict) {
				continue
			}
			return created, err
		}
		created = append(created, p)
	}
	metrics.RecordPayments(len(created))
	s.log.WithField("period", period).WithField("payments", len(created)).Info("referral payments generated")
	return created, nil
}

// PendingPayments lists payments waiting to be processed.
func (s *Service) PendingPayments(ctx context.Context) ([]referral.Payment, error) {
	return s.store.ListPayments(ctx, "", referral.PaymentPending)
}

var paymentTransitions = map[referral.PaymentStatus][]referral.PaymentStatus{
	referral.PaymentPending:    {referral.PaymentProcessing, referral.PaymentPaid, referral.PaymentFailed},
	referral.PaymentProcessing: {referral.PaymentPaid, referral.PaymentFailed},
	referral.PaymentFailed:     {referral.PaymentPending},
}

// UpdatePaymentStatus moves a payment along its lifecycle.
func (s *Service) UpdatePaymentStatus(ctx context.Context, id string, status referral.PaymentStatus, note string) (referral.Payment, error) {
	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return referral.Payment{}, errors.FromStore(err, "payment", id)
	}
	allowed := false
	for _, next := range paymentTransitions[p.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return referral.Payment{}, errors.InvalidInput(fmt.Sprintf("cannot change payment from %s to %s", p.Status, status))
	}
	p.Status = status
	if note = strings.TrimSpace(note); note != "" {
		p.Note = note
	}
	updated, err := s.store.UpdatePayment(ctx, p)
	if err != nil {
		return referral.Payment{}, errors.FromStore(err, "payment", id)
	}
	s.log.WithField("payment_id", id).WithField("status", status).Info("referral payment updated")
	return updated, nil
}
