package tenants

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/studiodesk/studiodesk/internal/app/domain/tenant"
	"github.com/studiodesk/studiodesk/internal/app/storage"
	"github.com/studiodesk/studiodesk/internal/errors"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

const minPasswordLength = 8

// Referrals is the subset of the referral service tenants drives on
// registration and subscription changes.
type Referrals interface {
	RegisterReferral(ctx context.Context, code, ownerID string) error
	Accrue(ctx context.Context, referredOwnerID string) error
	Deactivate(ctx context.Context, referredOwnerID string) error
}

// Options configures owner session tokens.
type Options struct {
	Secret   []byte
	TokenTTL time.Duration
	Issuer   string
}

// Claims are carried in owner session tokens.
type Claims struct {
	Username string      `json:"username"`
	Role     tenant.Role `json:"role"`
	jwt.RegisteredClaims
}

// Service manages owner accounts, their subscriptions and session tokens.
type Service struct {
	store     storage.OwnerStore
	referrals Referrals
	opts      Options
	log       *logger.Logger
	now       func() time.Time
}

// New creates a tenants service. An empty secret is replaced by a random
// per-process key, which invalidates tokens on restart.
func New(store storage.OwnerStore, referrals Referrals, opts Options, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("tenants")
	}
	if len(opts.Secret) == 0 {
		opts.Secret = make([]byte, 32)
		if _, err := rand.Read(opts.Secret); err != nil {
			panic(fmt.Sprintf("generate jwt secret: %v", err))
		}
		log.Warn("no jwt secret configured; using an ephemeral key")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.Issuer == "" {
		opts.Issuer = "studiodesk"
	}
	return &Service{store: store, referrals: referrals, opts: opts, log: log, now: time.Now}
}

// Register creates an owner account. An unknown referral code is logged and
// ignored so sign-up never fails on it.
func (s *Service) Register(ctx context.Context, username, email, password, referralCode string) (tenant.Owner, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" {
		return tenant.Owner{}, errors.Required("username")
	}
	if len(password) < minPasswordLength {
		return tenant.Owner{}, errors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	if _, err := s.store.GetOwnerByUsername(ctx, username); err == nil {
		return tenant.Owner{}, errors.Conflict("username already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return tenant.Owner{}, errors.Internal("hash password", err)
	}

	owner, err := s.store.CreateOwner(ctx, tenant.Owner{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         tenant.RoleOwner,
		Subscription: tenant.Subscription{Status: tenant.SubscriptionNone},
	})
	if err != nil {
		return tenant.Owner{}, errors.FromStore(err, "owner", username)
	}
	s.log.WithField("owner_id", owner.ID).Info("owner registered")

	if code := strings.TrimSpace(referralCode); code != "" && s.referrals != nil {
		if err := s.referrals.RegisterReferral(ctx, code, owner.ID); err != nil {
			s.log.WithError(err).
				WithField("owner_id", owner.ID).
				WithField("referral_code", code).
				Warn("referral code not applied")
		} else if refreshed, err := s.store.GetOwner(ctx, owner.ID); err == nil {
			owner = refreshed
		}
	}
	return owner, nil
}

// Authenticate checks credentials. Unknown users and wrong passwords are
// indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, username, password string) (tenant.Owner, error) {
	owner, err := s.store.GetOwnerByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return tenant.Owner{}, errors.Unauthorized("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(owner.PasswordHash), []byte(password)); err != nil {
		return tenant.Owner{}, errors.Unauthorized("invalid credentials")
	}
	return owner, nil
}

// Get returns one owner.
func (s *Service) Get(ctx context.Context, ownerID string) (tenant.Owner, error) {
	owner, err := s.store.GetOwner(ctx, ownerID)
	if err != nil {
		return tenant.Owner{}, errors.FromStore(err, "owner", ownerID)
	}
	return owner, nil
}

// List returns every owner. Admin only.
func (s *Service) List(ctx context.Context) ([]tenant.Owner, error) {
	return s.store.ListOwners(ctx)
}

// ActivateSubscription marks the owner's plan as active and paid, then lets
// the referral programme accrue a commission for the referrer.
func (s *Service) ActivateSubscription(ctx context.Context, ownerID, plan string) (tenant.Owner, error) {
	owner, err := s.Get(ctx, ownerID)
	if err != nil {
		return tenant.Owner{}, err
	}
	plan = strings.TrimSpace(plan)
	if plan == "" {
		return tenant.Owner{}, errors.Required("plan")
	}
	paidAt := s.now().UTC()
	owner.Subscription = tenant.Subscription{Plan: plan, Status: tenant.SubscriptionActive, PaidAt: &paidAt}
	owner, err = s.store.UpdateOwner(ctx, owner)
	if err != nil {
		return tenant.Owner{}, errors.FromStore(err, "owner", ownerID)
	}
	s.log.WithField("owner_id", ownerID).WithField("plan", plan).Info("subscription activated")

	if s.referrals != nil && owner.ReferredBy != "" {
		if err := s.referrals.Accrue(ctx, ownerID); err != nil {
			s.log.WithError(err).WithField("owner_id", ownerID).Warn("referral accrual failed")
		}
	}
	return owner, nil
}

// CancelSubscription cancels the plan and deactivates the commission it earned.
func (s *Service) CancelSubscription(ctx context.Context, ownerID string) (tenant.Owner, error) {
	owner, err := s.Get(ctx, ownerID)
	if err != nil {
		return tenant.Owner{}, err
	}
	owner.Subscription.Status = tenant.SubscriptionCancelled
	owner, err = s.store.UpdateOwner(ctx, owner)
	if err != nil {
		return tenant.Owner{}, errors.FromStore(err, "owner", ownerID)
	}
	s.log.WithField("owner_id", ownerID).Info("subscription cancelled")

	if s.referrals != nil && owner.ReferredBy != "" {
		if err := s.referrals.Deactivate(ctx, ownerID); err != nil {
			s.log.WithError(err).WithField("owner_id", ownerID).Warn("commission deactivation failed")
		}
	}
	return owner, nil
}

// IssueToken signs an HS256 session token for the owner.
func (s *Service) IssueToken(owner tenant.Owner) (string, time.Time, error) {
	now := s.now().UTC()
	expires := now.Add(s.opts.TokenTTL)
	claims := Claims{
		Username: owner.Username,
		Role:     owner.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   owner.ID,
			Issuer:    s.opts.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.opts.Secret)
	if err != nil {
		return "", time.Time{}, errors.Internal("sign token", err)
	}
	return signed, expires, nil
}

// ParseToken validates a session token and returns its claims.
func (s *Service) ParseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return s.opts.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.opts.Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.InvalidToken(nil)
	}
	return claims, nil
}

// PromoteAdmin grants the admin role to the named owner.
func (s *Service) PromoteAdmin(ctx context.Context, username string) (tenant.Owner, error) {
	owner, err := s.store.GetOwnerByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return tenant.Owner{}, errors.FromStore(err, "owner", username)
	}
	ownerID := owner.ID
	owner.Role = tenant.RoleAdmin
	owner, err = s.store.UpdateOwner(ctx, owner)
	if err != nil {
		return tenant.Owner{}, errors.FromStore(err, "owner", ownerID)
	}
	return owner, nil
}
