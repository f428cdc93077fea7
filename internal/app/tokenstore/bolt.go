package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/studiodesk/studiodesk/internal/app/domain/activation"
)

var bucketTokens = []byte("tokens")

// Bolt persists tokens in a single-file bbolt database. Suitable for a
// single-instance deployment without Redis.
type Bolt struct {
	db *bbolt.DB
}

var _ Store = (*Bolt)(nil)

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create bolt dir: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTokens)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Put(_ context.Context, tok activation.Token) error {
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).Put([]byte(tok.Hash), body)
	})
}

func (b *Bolt) Get(_ context.Context, hash string) (activation.Token, error) {
	var tok activation.Token
	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketTokens).Get([]byte(hash))
		if raw == nil {
			return notFound(hash)
		}
		return json.Unmarshal(raw, &tok)
	})
	return tok, err
}

func (b *Bolt) MarkUsed(_ context.Context, hash string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTokens)
		raw := bucket.Get([]byte(hash))
		if raw == nil {
			return notFound(hash)
		}
		var tok activation.Token
		if err := json.Unmarshal(raw, &tok); err != nil {
			return err
		}
		if tok.Used {
			return alreadyUsed(hash)
		}
		tok.Used = true
		body, err := json.Marshal(tok)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(hash), body)
	})
}

func (b *Bolt) Delete(_ context.Context, hash string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(hash))
	})
}

// deleteWhere removes every token for which match is true. Keys are collected
// first; bbolt forbids mutation inside ForEach.
func (b *Bolt) deleteWhere(match func(activation.Token) bool) (int, error) {
	n := 0
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTokens)
		var doomed [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var tok activation.Token
			if err := json.Unmarshal(v, &tok); err != nil {
				return err
			}
			if match(tok) {
				doomed = append(doomed, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range doomed {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		n = len(doomed)
		return nil
	})
	return n, err
}

func (b *Bolt) DeleteByClient(_ context.Context, clientID string) (int, error) {
	return b.deleteWhere(func(tok activation.Token) bool { return tok.ClientID == clientID })
}

func (b *Bolt) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	return b.deleteWhere(func(tok activation.Token) bool { return tok.Expired(now) })
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
