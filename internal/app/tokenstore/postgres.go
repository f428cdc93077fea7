package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/studiodesk/studiodesk/internal/app/domain/activation"
)

// Postgres keeps tokens in the activation_tokens table.
type Postgres struct {
	db *sqlx.DB
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Put(ctx context.Context, tok activation.Token) error {
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO activation_tokens (token_hash, client_id, owner_id, kind, expires_at, used, created_at)
		VALUES (:token_hash, :client_id, :owner_id, :kind, :expires_at, :used, :created_at)
		ON CONFLICT (token_hash) DO UPDATE SET
			expires_at = EXCLUDED.expires_at, used = EXCLUDED.used
	`, tok)
	return err
}

func (p *Postgres) Get(ctx context.Context, hash string) (activation.Token, error) {
	var tok activation.Token
	err := p.db.GetContext(ctx, &tok, `
		SELECT token_hash, client_id, owner_id, kind, expires_at, used, created_at
		FROM activation_tokens WHERE token_hash = $1
	`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return activation.Token{}, notFound(hash)
	}
	return tok, err
}

func (p *Postgres) MarkUsed(ctx context.Context, hash string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE activation_tokens SET used = TRUE WHERE token_hash = $1 AND NOT used`, hash)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows > 0 {
		return nil
	}
	if _, err := p.Get(ctx, hash); err != nil {
		return err
	}
	return alreadyUsed(hash)
}

func (p *Postgres) Delete(ctx context.Context, hash string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM activation_tokens WHERE token_hash = $1`, hash)
	return err
}

func (p *Postgres) DeleteByClient(ctx context.Context, clientID string) (int, error) {
	return p.deleteCount(ctx, `DELETE FROM activation_tokens WHERE client_id = $1`, clientID)
}

func (p *Postgres) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	return p.deleteCount(ctx, `DELETE FROM activation_tokens WHERE expires_at <= $1`, now)
}

func (p *Postgres) deleteCount(ctx context.Context, query string, arg any) (int, error) {
	res, err := p.db.ExecContext(ctx, query, arg)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close is a no-op; the database handle is owned by the application.
func (p *Postgres) Close() error { return nil }
