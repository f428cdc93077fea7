package referral

import "time"

type CommissionStatus string

const (
	CommissionActive   CommissionStatus = "active"
	CommissionInactive CommissionStatus = "inactive"
)

// Commission is a monthly amount a referrer earns for one referred owner.
type Commission struct {
	ID                 string           `json:"id" db:"id"`
	ReferrerID         string           `json:"referrer_id" db:"referrer_id"`
	ReferredID         string           `json:"referred_id" db:"referred_id"`
	MonthlyAmountCents int64            `json:"monthly_amount_cents" db:"monthly_amount_cents"`
	Status             CommissionStatus `json:"status" db:"status"`
	StartDate          time.Time        `json:"start_date" db:"start_date"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at" db:"updated_at"`
}

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentPaid       PaymentStatus = "paid"
	PaymentFailed     PaymentStatus = "failed"
)

// Payment is the monthly sum owed to one referrer.
type Payment struct {
	ID          string        `json:"id" db:"id"`
	ReferrerID  string        `json:"referrer_id" db:"referrer_id"`
	Period      string        `json:"period" db:"period"`
	AmountCents int64         `json:"amount_cents" db:"amount_cents"`
	Status      PaymentStatus `json:"status" db:"status"`
	Note        string        `json:"note,omitempty" db:"note"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}

// Stats summarises a referrer's position.
type Stats struct {
	ActiveCommissions int   `json:"active_commissions"`
	ReferredCount     int   `json:"referred_count"`
	PaidReferrals     int   `json:"paid_referrals"`
	CurrentMonthCents int64 `json:"current_month_cents"`
	LastMonthCents    int64 `json:"last_month_cents"`
	HasPayoutMethod   bool  `json:"has_payout_method"`
}
