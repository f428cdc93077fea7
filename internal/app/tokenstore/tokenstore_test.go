package tokenstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiodesk/studiodesk/internal/app/domain/activation"
	"github.com/studiodesk/studiodesk/internal/app/storage"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	live := activation.Token{Hash: "aaaa1111", ClientID: "c1", OwnerID: "o1", Kind: activation.KindActivation, ExpiresAt: now.Add(time.Hour)}
	login := activation.Token{Hash: "bbbb2222", ClientID: "c1", OwnerID: "o1", Kind: activation.KindLogin, ExpiresAt: now.Add(2 * time.Hour)}
	other := activation.Token{Hash: "cccc3333", ClientID: "c2", OwnerID: "o1", Kind: activation.KindActivation, ExpiresAt: now.Add(time.Hour)}
	for _, tok := range []activation.Token{live, login, other} {
		require.NoError(t, s.Put(ctx, tok))
	}

	got, err := s.Get(ctx, live.Hash)
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ClientID)
	assert.False(t, got.Used)

	require.NoError(t, s.MarkUsed(ctx, live.Hash))
	got, err = s.Get(ctx, live.Hash)
	require.NoError(t, err)
	assert.True(t, got.Used)
	assert.True(t, errors.Is(s.MarkUsed(ctx, live.Hash), storage.ErrConflict), "a token is claimed once")
	assert.True(t, errors.Is(s.MarkUsed(ctx, "missing"), storage.ErrNotFound))

	_, err = s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	n, err := s.DeleteByClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = s.Get(ctx, login.Hash)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	require.NoError(t, s.Delete(ctx, other.Hash))
	require.NoError(t, s.Delete(ctx, other.Hash), "deleting twice is not an error")
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryPurgeExpired(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()
	require.NoError(t, m.Put(ctx, activation.Token{Hash: "old", ClientID: "c", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, m.Put(ctx, activation.Token{Hash: "edge", ClientID: "c", ExpiresAt: now}))
	require.NoError(t, m.Put(ctx, activation.Token{Hash: "new", ClientID: "c", ExpiresAt: now.Add(time.Minute)}))

	n, err := m.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "a token expiring exactly now is expired")
	_, err = m.Get(ctx, "new")
	assert.NoError(t, err)
}

func TestBoltStore(t *testing.T) {
	b, err := OpenBolt(filepath.Join(t.TempDir(), "data", "tokens.db"))
	require.NoError(t, err)
	defer b.Close()
	exerciseStore(t, b)

	ctx := context.Background()
	require.NoError(t, b.Put(ctx, activation.Token{Hash: "gone", ClientID: "c", ExpiresAt: time.Now().Add(-time.Second)}))
	n, err := b.PurgeExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	r, err := DialRedis(context.Background(), addr, "", 0)
	require.NoError(t, err)
	defer r.Close()
	exerciseStore(t, r)
}

func TestPostgresPurgeExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec("DELETE FROM activation_tokens WHERE expires_at <= \\$1").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	p := NewPostgres(sqlx.NewDb(db, "postgres"))
	n, err := p.PurgeExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkUsedMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE activation_tokens SET used = TRUE WHERE token_hash = \\$1 AND NOT used").
		WithArgs("nope").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT token_hash").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"token_hash"}))

	p := NewPostgres(sqlx.NewDb(db, "postgres"))
	err = p.MarkUsed(context.Background(), "nope")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkUsedTwice(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec("UPDATE activation_tokens SET used = TRUE").
		WithArgs("aaaa1111").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT token_hash").
		WithArgs("aaaa1111").
		WillReturnRows(sqlmock.NewRows([]string{"token_hash", "client_id", "owner_id", "kind", "expires_at", "used", "created_at"}).
			AddRow("aaaa1111", "c1", "o1", "activation", now.Add(time.Hour), true, now))

	p := NewPostgres(sqlx.NewDb(db, "postgres"))
	err = p.MarkUsed(context.Background(), "aaaa1111")
	assert.True(t, errors.Is(err, storage.ErrConflict), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisPutRejectsExpiredToken(t *testing.T) {
	// The expiry check runs before any command is sent.
	r := NewRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}))
	defer r.Close()

	err := r.Put(context.Background(), activation.Token{Hash: "dddd4444", ClientID: "c1", ExpiresAt: time.Now().Add(-time.Second)})
	assert.True(t, errors.Is(err, ErrExpired), "got %v", err)
}
