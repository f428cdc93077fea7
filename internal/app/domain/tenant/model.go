package tenant

import "time"

// Role distinguishes studio owners, their staff and platform administrators.
type Role string

const (
	RoleOwner Role = "owner"
	RoleStaff Role = "staff"
	RoleAdmin Role = "admin"
)

// SubscriptionStatus tracks the owner's paid plan.
type SubscriptionStatus string

const (
	SubscriptionNone      SubscriptionStatus = "none"
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription is the owner's plan state. Billing itself happens elsewhere.
type Subscription struct {
	Plan   string             `json:"plan,omitempty" db:"subscription_plan"`
	Status SubscriptionStatus `json:"status" db:"subscription_status"`
	PaidAt *time.Time         `json:"paid_at,omitempty" db:"subscription_paid_at"`
}

// Paid reports whether the subscription counts as a paid one.
func (s Subscription) Paid() bool {
	return s.Status == SubscriptionActive && s.PaidAt != nil
}

// Payout holds where referral commissions are sent.
type Payout struct {
	BankName      string `json:"bank_name,omitempty" db:"bank_name"`
	AccountHolder string `json:"account_holder,omitempty" db:"account_holder"`
	IBAN          string `json:"iban,omitempty" db:"iban"`
	BIC           string `json:"bic,omitempty" db:"bic"`
	PayPalEmail   string `json:"paypal_email,omitempty" db:"paypal_email"`
	AutoPayout    bool   `json:"auto_payout" db:"auto_payout"`
}

// HasMethod reports whether any payout destination is configured.
func (p Payout) HasMethod() bool {
	return p.IBAN != "" || p.PayPalEmail != ""
}

// Owner is a business account: every client, service and appointment row is
// scoped to one owner.
type Owner struct {
	ID           string       `json:"id" db:"id"`
	Username     string       `json:"username" db:"username"`
	Email        string       `json:"email" db:"email"`
	PasswordHash string       `json:"-" db:"password_hash"`
	Role         Role         `json:"role" db:"role"`
	ReferralCode string       `json:"referral_code,omitempty" db:"referral_code"`
	ReferredBy   string       `json:"referred_by,omitempty" db:"referred_by"`
	Subscription Subscription `json:"subscription" db:"-"`
	Payout       Payout       `json:"payout" db:"-"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}
