package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/studiodesk/studiodesk/internal/app/domain/activation"
	"github.com/studiodesk/studiodesk/internal/app/domain/appointment"
	"github.com/studiodesk/studiodesk/internal/app/domain/catalog"
	"github.com/studiodesk/studiodesk/internal/app/domain/client"
	"github.com/studiodesk/studiodesk/internal/app/domain/referral"
	"github.com/studiodesk/studiodesk/internal/app/domain/tenant"
	"github.com/studiodesk/studiodesk/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.OwnerStore = (*Store)(nil)
var _ storage.ClientStore = (*Store)(nil)
var _ storage.CatalogStore = (*Store)(nil)
var _ storage.AppointmentStore = (*Store)(nil)
var _ storage.ClientAccountStore = (*Store)(nil)
var _ storage.ReferralStore = (*Store)(nil)
var _ storage.InvoiceStore = (*Store)(nil)
var _ storage.TemplateStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpen, maxIdle int, lifetime time.Duration) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if lifetime > 0 {
		db.SetConnMaxLifetime(lifetime)
	}
	return db, nil
}

const uniqueViolation = "23505"

// mapErr translates driver errors into storage sentinels.
func mapErr(err error, kind, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return fmt.Errorf("%s %s (%s): %w", kind, id, pqErr.Constraint, storage.ErrConflict)
	}
	return err
}

func requireRow(res sql.Result, kind, id string) error {
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
	}
	return nil
}

// --- OwnerStore -------------------------------------------------------------

// ownerRow flattens the owner's nested subscription and payout settings.
type ownerRow struct {
	ID                 string     `db:"id"`
	Username           string     `db:"username"`
	Email              string     `db:"email"`
	PasswordHash       string     `db:"password_hash"`
	Role               string     `db:"role"`
	ReferralCode       string     `db:"referral_code"`
	ReferredBy         string     `db:"referred_by"`
	SubscriptionPlan   string     `db:"subscription_plan"`
	SubscriptionStatus string     `db:"subscription_status"`
	SubscriptionPaidAt *time.Time `db:"subscription_paid_at"`
	BankName           string     `db:"bank_name"`
	AccountHolder      string     `db:"account_holder"`
	IBAN               string     `db:"iban"`
	BIC                string     `db:"bic"`
	PayPalEmail        string     `db:"paypal_email"`
	AutoPayout         bool       `db:"auto_payout"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

func toOwnerRow(o tenant.Owner) ownerRow {
	return ownerRow{
		ID:                 o.ID,
		Username:           o.Username,
		Email:              o.Email,
		PasswordHash:       o.PasswordHash,
		Role:               string(o.Role),
		ReferralCode:       o.ReferralCode,
		ReferredBy:         o.ReferredBy,
		SubscriptionPlan:   o.Subscription.Plan,
		SubscriptionStatus: string(o.Subscription.Status),
		SubscriptionPaidAt: o.Subscription.PaidAt,
		BankName:           o.Payout.BankName,
		AccountHolder:      o.Payout.AccountHolder,
		IBAN:               o.Payout.IBAN,
		BIC:                o.Payout.BIC,
		PayPalEmail:        o.Payout.PayPalEmail,
		AutoPayout:         o.Payout.AutoPayout,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

func (r ownerRow) owner() tenant.Owner {
	return tenant.Owner{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         tenant.Role(r.Role),
		ReferralCode: r.ReferralCode,
		ReferredBy:   r.ReferredBy,
		Subscription: tenant.Subscription{
			Plan:   r.SubscriptionPlan,
			Status: tenant.SubscriptionStatus(r.SubscriptionStatus),
			PaidAt: r.SubscriptionPaidAt,
		},
		Payout: tenant.Payout{
			BankName:      r.BankName,
			AccountHolder: r.AccountHolder,
			IBAN:          r.IBAN,
			BIC:           r.BIC,
			PayPalEmail:   r.PayPalEmail,
			AutoPayout:    r.AutoPayout,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

const ownerColumns = `
	id, username, email, password_hash, role,
	COALESCE(referral_code, '') AS referral_code,
	COALESCE(referred_by, '') AS referred_by,
	subscription_plan, subscription_status, subscription_paid_at,
	bank_name, account_holder, iban, bic, paypal_email, auto_payout,
	created_at, updated_at`

func (s *Store) CreateOwner(ctx context.Context, owner tenant.Owner) (tenant.Owner, error) {
	if owner.ID == "" {
		owner.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	owner.CreatedAt = now
	owner.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO owners (
			id, username, email, password_hash, role, referral_code, referred_by,
			subscription_plan, subscription_status, subscription_paid_at,
			bank_name, account_holder, iban, bic, paypal_email, auto_payout,
			created_at, updated_at
		) VALUES (
			:id, :username, :email, :password_hash, :role, NULLIF(:referral_code, ''), NULLIF(:referred_by, ''),
			:subscription_plan, :subscription_status, :subscription_paid_at,
			:bank_name, :account_holder, :iban, :bic, :paypal_email, :auto_payout,
			:created_at, :updated_at
		)
	`, toOwnerRow(owner))
	if err != nil {
		return tenant.Owner{}, mapErr(err, "owner", owner.Username)
	}
	return owner, nil
}

func (s *Store) UpdateOwner(ctx context.Context, owner tenant.Owner) (tenant.Owner, error) {
	existing, err := s.GetOwner(ctx, owner.ID)
	if err != nil {
		return tenant.Owner{}, err
	}
	owner.CreatedAt = existing.CreatedAt
	owner.UpdatedAt = time.Now().UTC()

	res, err := s.db.NamedExecContext(ctx, `
		UPDATE owners SET
			username = :username, email = :email, password_hash = :password_hash, role = :role,
			referral_code = NULLIF(:referral_code, ''), referred_by = NULLIF(:referred_by, ''),
			subscription_plan = :subscription_plan, subscription_status = :subscription_status,
			subscription_paid_at = :subscription_paid_at,
			bank_name = :bank_name, account_holder = :account_holder, iban = :iban, bic = :bic,
			paypal_email = :paypal_email, auto_payout = :auto_payout, updated_at = :updated_at
		WHERE id = :id
	`, toOwnerRow(owner))
	if err != nil {
		return tenant.Owner{}, mapErr(err, "owner", owner.ID)
	}
	if err := requireRow(res, "owner", owner.ID); err != nil {
		return tenant.Owner{}, err
	}
	return owner, nil
}

func (s *Store) getOwnerWhere(ctx context.Context, where, key string) (tenant.Owner, error) {
	var row ownerRow
	err := s.db.GetContext(ctx, &row, `SELECT `+ownerColumns+` FROM owners WHERE `+where, key)
	if err != nil {
		return tenant.Owner{}, mapErr(err, "owner", key)
	}
	return row.owner(), nil
}

func (s *Store) GetOwner(ctx context.Context, id string) (tenant.Owner, error) {
	return s.getOwnerWhere(ctx, "id = $1", id)
}

func (s *Store) GetOwnerByUsername(ctx context.Context, username string) (tenant.Owner, error) {
	return s.getOwnerWhere(ctx, "lower(username) = lower($1)", username)
}

func (s *Store) GetOwnerByReferralCode(ctx context.Context, code string) (tenant.Owner, error) {
	return s.getOwnerWhere(ctx, "referral_code = $1", code)
}

func (s *Store) listOwners(ctx context.Context, query string, args ...any) ([]tenant.Owner, error) {
	var rows []ownerRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]tenant.Owner, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.owner())
	}
	return result, nil
}

func (s *Store) ListOwners(ctx context.Context) ([]tenant.Owner, error) {
	return s.listOwners(ctx, `SELECT `+ownerColumns+` FROM owners ORDER BY created_at`)
}

func (s *Store) ListReferredOwners(ctx context.Context, referrerID string) ([]tenant.Owner, error) {
	return s.listOwners(ctx, `SELECT `+ownerColumns+` FROM owners WHERE referred_by = $1 ORDER BY created_at`, referrerID)
}

// --- ClientStore ------------------------------------------------------------

const clientColumns = `
	id, owner_id, first_name, last_name, phone, email, address, birthday, notes,
	is_frequent, medical_notes, allergies, has_consent, anonymized, created_at, updated_at`

func (s *Store) CreateClient(ctx context.Context, c client.Client) (client.Client, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO clients (`+clientColumns+`)
		VALUES (
			:id, :owner_id, :first_name, :last_name, :phone, :email, :address, :birthday, :notes,
			:is_frequent, :medical_notes, :allergies, :has_consent, :anonymized, :created_at, :updated_at
		)
	`, c)
	if err != nil {
		return client.Client{}, mapErr(err, "client", c.ID)
	}
	return c, nil
}

func (s *Store) UpdateClient(ctx context.Context, c client.Client) (client.Client, error) {
	existing, err := s.GetClient(ctx, c.ID)
	if err != nil {
		return client.Client{}, err
	}
	c.OwnerID = existing.OwnerID
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now().UTC()

	_, err = s.db.NamedExecContext(ctx, `
		UPDATE clients SET
			first_name = :first_name, last_name = :last_name, phone = :phone, email = :email,
			address = :address, birthday = :birthday, notes = :notes, is_frequent = :is_frequent,
			medical_notes = :medical_notes, allergies = :allergies, has_consent = :has_consent,
			anonymized = :anonymized, updated_at = :updated_at
		WHERE id = :id
	`, c)
	if err != nil {
		return client.Client{}, mapErr(err, "client", c.ID)
	}
	return c, nil
}

func (s *Store) GetClient(ctx context.Context, id string) (client.Client, error) {
	var c client.Client
	if err := s.db.GetContext(ctx, &c, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id); err != nil {
		return client.Client{}, mapErr(err, "client", id)
	}
	return c, nil
}

func (s *Store) ListClients(ctx context.Context, ownerID string) ([]client.Client, error) {
	result := []client.Client{}
	err := s.db.SelectContext(ctx, &result, `
		SELECT `+clientColumns+` FROM clients
		WHERE owner_id = $1
		ORDER BY last_name, first_name
	`, ownerID)
	return result, err
}

func (s *Store) DeleteClient(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "client", id)
}

func (s *Store) CreateConsent(ctx context.Context, consent client.Consent) (client.Consent, error) {
	if consent.ID == "" {
		consent.ID = uuid.NewString()
	}
	if consent.SignedAt.IsZero() {
		consent.SignedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO client_consents (id, client_id, owner_id, consent_text, signature, signed_at)
		VALUES (:id, :client_id, :owner_id, :consent_text, :signature, :signed_at)
	`, consent)
	if err != nil {
		return client.Consent{}, mapErr(err, "consent", consent.ID)
	}
	return consent, nil
}

func (s *Store) ListConsents(ctx context.Context, clientID string) ([]client.Consent, error) {
	result := []client.Consent{}
	err := s.db.SelectContext(ctx, &result, `
		SELECT id, client_id, owner_id, consent_text, signature, signed_at
		FROM client_consents WHERE client_id = $1 ORDER BY signed_at
	`, clientID)
	return result, err
}

func (s *Store) DeleteConsents(ctx context.Context, clientID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM client_consents WHERE client_id = $1`, clientID)
	return err
}

func (s *Store) RecordAccess(ctx context.Context, access client.Access) error {
	if access.At.IsZero() {
		access.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_access (client_id, accessed_at, pwa) VALUES ($1, $2, $3)
	`, access.ClientID, access.At, access.PWA)
	return err
}

func (s *Store) ListAccess(ctx context.Context, clientID string) ([]client.Access, error) {
	result := []client.Access{}
	err := s.db.SelectContext(ctx, &result, `
		SELECT client_id, accessed_at, pwa FROM client_access
		WHERE client_id = $1 ORDER BY accessed_at
	`, clientID)
	return result, err
}

const noteColumns = `id, client_id, owner_id, content, created_at, updated_at`

func (s *Store) CreateNote(ctx context.Context, note client.Note) (client.Note, error) {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	note.CreatedAt = now
	note.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO client_notes (`+noteColumns+`)
		VALUES (:id, :client_id, :owner_id, :content, :created_at, :updated_at)
	`, note)
	if err != nil {
		return client.Note{}, mapErr(err, "note", note.ID)
	}
	return note, nil
}

func (s *Store) UpdateNote(ctx context.Context, note client.Note) (client.Note, error) {
	var updated client.Note
	err := s.db.GetContext(ctx, &updated, `
		UPDATE client_notes SET content = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+noteColumns, note.ID, note.Content, time.Now().UTC())
	if err != nil {
		return client.Note{}, mapErr(err, "note", note.ID)
	}
	return updated, nil
}

func (s *Store) GetNote(ctx context.Context, id string) (client.Note, error) {
	var note client.Note
	if err := s.db.GetContext(ctx, &note, `SELECT `+noteColumns+` FROM client_notes WHERE id = $1`, id); err != nil {
		return client.Note{}, mapErr(err, "note", id)
	}
	return note, nil
}

func (s *Store) ListNotes(ctx context.Context, clientID string) ([]client.Note, error) {
	result := []client.Note{}
	err := s.db.SelectContext(ctx, &result, `
		SELECT `+noteColumns+` FROM client_notes WHERE client_id = $1 ORDER BY created_at
	`, clientID)
	return result, err
}

func (s *Store) DeleteNote(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM client_notes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "note", id)
}

func (s *Store) DeleteNotes(ctx context.Context, clientID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM client_notes WHERE client_id = $1`, clientID)
	return err
}

// --- CatalogStore -----------------------------------------------------------

const serviceColumns = `id, owner_id, name, duration_minutes, color, price_cents, created_at, updated_at`

func (s *Store) CreateService(ctx context.Context, svc catalog.Service) (catalog.Service, error) {
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	svc.CreatedAt = now
	svc.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO services (`+serviceColumns+`)
		VALUES (:id, :owner_id, :name, :duration_minutes, :color, :price_cents, :created_at, :updated_at)
	`, svc)
	if err != nil {
		return catalog.Service{}, mapErr(err, "service", svc.ID)
	}
	return svc, nil
}

func (s *Store) UpdateService(ctx context.Context, svc catalog.Service) (catalog.Service, error) {
	existing, err := s.GetService(ctx, svc.ID)
	if err != nil {
		return catalog.Service{}, err
	}
	svc.OwnerID = existing.OwnerID
	svc.CreatedAt = existing.CreatedAt
	svc.UpdatedAt = time.Now().UTC()
	_, err = s.db.NamedExecContext(ctx, `
		UPDATE services SET
			name = :name, duration_minutes = :duration_minutes, color = :color,
			price_cents = :price_cents, updated_at = :updated_at
		WHERE id = :id
	`, svc)
	if err != nil {
		return catalog.Service{}, mapErr(err, "service", svc.ID)
	}
	return svc, nil
}

func (s *Store) GetService(ctx context.Context, id string) (catalog.Service, error) {
	var svc catalog.Service
	if err := s.db.GetContext(ctx, &svc, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id); err != nil {
		return catalog.Service{}, mapErr(err, "service", id)
	}
	return svc, nil
}

func (s *Store) ListServices(ctx context.Context, ownerID string) ([]catalog.Service, error) {
	result := []catalog.Service{}
	err := s.db.SelectContext(ctx, &result, `
		SELECT `+serviceColumns+` FROM services WHERE owner_id = $1 ORDER BY name
	`, ownerID)
	return result, err
}

func (s *Store) DeleteService(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM services WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "service", id)
}

// --- AppointmentStore -------------------------------------------------------

const appointmentColumns = `
	id, owner_id, client_id, service_id, to_char(date, 'YYYY-MM-DD') AS date,
	start_time, end_time, notes, status, reminder_sent_at, created_at, updated_at`

func (s *Store) CreateAppointment(ctx context.Context, appt appointment.Appointment) (appointment.Appointment, error) {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO appointments (
			id, owner_id, client_id, service_id, date, start_time, end_time,
			notes, status, reminder_sent_at, created_at, updated_at
		) VALUES (
			:id, :owner_id, :client_id, :service_id, CAST(:date AS DATE), :start_time, :end_time,
			:notes, :status, :reminder_sent_at, :created_at, :updated_at
		)
	`, appt)
	if err != nil {
		return appointment.Appointment{}, mapErr(err, "appointment", appt.ID)
	}
	return appt, nil
}

func (s *Store) UpdateAppointment(ctx context.Context, appt appointment.Appointment) (appointment.Appointment, error) {
	existing, err := s.GetAppointment(ctx, appt.ID)
	if err != nil {
		return appointment.Appointment{}, err
	}
	appt.OwnerID = existing.OwnerID
	appt.CreatedAt = existing.CreatedAt
	appt.UpdatedAt = time.Now().UTC()
	_, err = s.db.NamedExecContext(ctx, `
		UPDATE appointments SET
			client_id = :client_id, service_id = :service_id, date = CAST(:date AS DATE),
			start_time = :start_time, end_time = :end_time, notes = :notes, status = :status,
			reminder_sent_at = :reminder_sent_at, updated_at = :updated_at
		WHERE id = :id
	`, appt)
	if err != nil {
		return appointment.Appointment{}, mapErr(err, "appointment", appt.ID)
	}
	return appt, nil
}

func (s *Store) GetAppointment(ctx context.Context, id string) (appointment.Appointment, error) {
	var appt appointment.Appointment
	if err := s.db.GetContext(ctx, &appt, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id); err != nil {
		return appointment.Appointment{}, mapErr(err, "appointment", id)
	}
	return appt, nil
}

func (s *Store) DeleteAppointment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "appointment", id)
}

func (s *Store) DeleteClientAppointments(ctx context.Context, clientID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM appointments WHERE client_id = $1`, clientID)
	return err
}

func (s *Store) ListAppointments(ctx context.Context, ownerID string, filter storage.AppointmentFilter) ([]appointment.Appointment, error) {
	clauses := []string{"owner_id = $1"}
	args := []any{ownerID}
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.Date != "" {
		add("date = CAST($%d AS DATE)", filter.Date)
	}
	if filter.From != "" {
		add("date >= CAST($%d AS DATE)", filter.From)
	}
	if filter.To != "" {
		add("date <= CAST($%d AS DATE)", filter.To)
	}
	if filter.ClientID != "" {
		add("client_id = $%d", filter.ClientID)
	}
	if filter.ServiceID != "" {
		add("service_id = $%d", filter.ServiceID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}

	result := []appointment.Appointment{}
	err := s.db.SelectContext(ctx, &result, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE `+strings.Join(clauses, " AND ")+`
		ORDER BY date, start_time
	`, args...)
	return result, err
}

func (s *Store) ListPendingReminders(ctx context.Context, from, to string) ([]appointment.Appointment, error) {
	result := []appointment.Appointment{}
	err := s.db.SelectContext(ctx, &result, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE status = 'scheduled' AND reminder_sent_at IS NULL
		  AND date BETWEEN CAST($1 AS DATE) AND CAST($2 AS DATE)
		ORDER BY date, start_time
	`, from, to)
	return result, err
}

// --- ClientAccountStore -----------------------------------------------------

const accountColumns = `id, client_id, owner_id, username, password_hash, active, created_at`

func (s *Store) CreateClientAccount(ctx context.Context, acct activation.Account) (activation.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	acct.CreatedAt = time.Now().UTC()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO client_accounts (`+accountColumns+`)
		VALUES (:id, :client_id, :owner_id, :username, :password_hash, :active, :created_at)
	`, acct)
	if err != nil {
		return activation.Account{}, mapErr(err, "client account", acct.Username)
	}
	return acct, nil
}

func (s *Store) GetClientAccountByUsername(ctx context.Context, username string) (activation.Account, error) {
	var acct activation.Account
	err := s.db.GetContext(ctx, &acct, `SELECT `+accountColumns+` FROM client_accounts WHERE lower(username) = lower($1)`, username)
	if err != nil {
		return activation.Account{}, mapErr(err, "client account", username)
	}
	return acct, nil
}

func (s *Store) GetClientAccountByClient(ctx context.Context, clientID string) (activation.Account, error) {
	var acct activation.Account
	err := s.db.GetContext(ctx, &acct, `SELECT `+accountColumns+` FROM client_accounts WHERE client_id = $1`, clientID)
	if err != nil {
		return activation.Account{}, mapErr(err, "client account for client", clientID)
	}
	return acct, nil
}

func (s *Store) DeleteClientAccount(ctx context.Context, clientID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM client_accounts WHERE client_id = $1`, clientID)
	return err
}

// --- ReferralStore ----------------------------------------------------------

const commissionColumns = `id, referrer_id, referred_id, monthly_amount_cents, status, start_date, created_at, updated_at`

func (s *Store) CreateCommission(ctx context.Context, c referral.Commission) (referral.Commission, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO referral_commissions (`+commissionColumns+`)
		VALUES (:id, :referrer_id, :referred_id, :monthly_amount_cents, :status, :start_date, :created_at, :updated_at)
	`, c)
	if err != nil {
		return referral.Commission{}, mapErr(err, "commission", c.ReferredID)
	}
	return c, nil
}

func (s *Store) UpdateCommission(ctx context.Context, c referral.Commission) (referral.Commission, error) {
	c.UpdatedAt = time.Now().UTC()
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE referral_commissions SET
			monthly_amount_cents = :monthly_amount_cents, status = :status,
			start_date = :start_date, updated_at = :updated_at
		WHERE id = :id
	`, c)
	if err != nil {
		return referral.Commission{}, err
	}
	if err := requireRow(res, "commission", c.ID); err != nil {
		return referral.Commission{}, err
	}
	return c, nil
}

func (s *Store) GetCommissionByReferred(ctx context.Context, referredID string) (referral.Commission, error) {
	var c referral.Commission
	err := s.db.GetContext(ctx, &c, `SELECT `+commissionColumns+` FROM referral_commissions WHERE referred_id = $1`, referredID)
	if err != nil {
		return referral.Commission{}, mapErr(err, "commission for referred owner", referredID)
	}
	return c, nil
}

func (s *Store) ListCommissions(ctx context.Context, referrerID string) ([]referral.Commission, error) {
	result := []referral.Commission{}
	err := s.db.SelectContext(ctx, &result, `
		SELECT `+commissionColumns+` FROM referral_commissions WHERE referrer_id = $1 ORDER BY created_at
	`, referrerID)
	return result, err
}

func (s *Store) ListActiveCommissions(ctx context.Context) ([]referral.Commission, error) {
	result := []referral.Commission{}
	err := s.db.SelectContext(ctx, &result, `
		SELECT `+commissionColumns+` FROM referral_commissions WHERE status = 'active' ORDER BY referrer_id
	`)
	return result, err
}

const paymentColumns = `id, referrer_id, period, amount_cents, status, note, created_at, updated_at`

func (s *Store) CreatePayment(ctx context.Context, p referral.Payment) (referral.Payment, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO referral_payments (`+paymentColumns+`)
		VALUES (:id, :referrer_id, :period, :amount_cents, :status, :note, :created_at, :updated_at)
	`, p)
	if err != nil {
		return referral.Payment{}, mapErr(err, "payment", p.ReferrerID+"/"+p.Period)
	}
	return p, nil
}

func (s *Store) UpdatePayment(ctx context.Context, p referral.Payment) (referral.Payment, error) {
	p.UpdatedAt = time.Now().UTC()
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE referral_payments SET amount_cents = :amount_cents, status = :status, note = :note, updated_at = :updated_at
		WHERE id = :id
	`, p)
	if err != nil {
		return referral.Payment{}, err
	}
	if err := requireRow(res, "payment", p.ID); err != nil {
		return referral.Payment{}, err
	}
	return p, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (referral.Payment, error) {
	var p referral.Payment
	if err := s.db.GetContext(ctx, &p, `SELECT `+paymentColumns+` FROM referral_payments WHERE id = $1`, id); err != nil {
		return referral.Payment{}, mapErr(err, "payment", id)
	}
	return p, nil
}

func (s *Store) GetPaymentForPeriod(ctx context.Context, referrerID, period string) (referral.Payment, error) {
	var p referral.Payment
	err := s.db.GetContext(ctx, &p, `
		SELECT `+paymentColumns+` FROM referral_payments WHERE referrer_id = $1 AND period = $2
	`, referrerID, period)
	if err != nil {
		return referral.Payment{}, mapErr(err, "payment", referrerID+"/"+period)
	}
	return p, nil
}

func (s *Store) ListPayments(ctx context.Context, referrerID string, status referral.PaymentStatus) ([]referral.Payment, error) {
	result := []referral.Payment{}
	err := s.db.SelectContext(ctx, &result, `
		SELECT `+paymentColumns+` FROM referral_payments
		WHERE ($1 = '' OR referrer_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY period, referrer_id
	`, referrerID, string(status))
	return result, err
}
