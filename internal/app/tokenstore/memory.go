package tokenstore

import (
	"context"
	"sync"
	"time"

	"github.com/studiodesk/studiodesk/internal/app/domain/activation"
)

// Memory is a process-local Store.
type Memory struct {
	mu     sync.RWMutex
	tokens map[string]activation.Token
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{tokens: make(map[string]activation.Token)}
}

func (m *Memory) Put(_ context.Context, tok activation.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}
	m.tokens[tok.Hash] = tok
	return nil
}

func (m *Memory) Get(_ context.Context, hash string) (activation.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.tokens[hash]
	if !ok {
		return activation.Token{}, notFound(hash)
	}
	return tok, nil
}

func (m *Memory) MarkUsed(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[hash]
	if !ok {
		return notFound(hash)
	}
	if tok.Used {
		return alreadyUsed(hash)
	}
	tok.Used = true
	m.tokens[hash] = tok
	return nil
}

func (m *Memory) Delete(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, hash)
	return nil
}

func (m *Memory) DeleteByClient(_ context.Context, clientID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for hash, tok := range m.tokens {
		if tok.ClientID == clientID {
			delete(m.tokens, hash)
			n++
		}
	}
	return n, nil
}

func (m *Memory) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for hash, tok := range m.tokens {
		if tok.Expired(now) {
			delete(m.tokens, hash)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error { return nil }
