// Package monitor keeps the process healthy: a keep-alive pinger, a resource
// watchdog and a restarter that hands control back to the supervisor.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studiodesk/studiodesk/internal/app/metrics"
	"github.com/studiodesk/studiodesk/internal/app/system"
	"github.com/studiodesk/studiodesk/internal/errors"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

const (
	restartTokenTTL = 5 * time.Minute
	restartDelay    = 2 * time.Second
	sweepInterval   = time.Minute
)

// Restarter ends the process gracefully by cancelling the root context. The
// command that owns the context turns that into a non-zero exit so a
// supervisor starts a fresh process.
type Restarter struct {
	shutdown context.CancelFunc
	log      *logger.Logger
	now      func() time.Time
	delay    time.Duration

	mu        sync.Mutex
	tokens    map[string]time.Time
	triggered bool
	reason    string
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
}

var _ system.Service = (*Restarter)(nil)

// NewRestarter creates a restarter that calls shutdown when triggered.
func NewRestarter(shutdown context.CancelFunc, log *logger.Logger) *Restarter {
	if log == nil {
		log = logger.NewDefault("restarter")
	}
	return &Restarter{
		shutdown: shutdown,
		log:      log,
		now:      time.Now,
		delay:    restartDelay,
		tokens:   make(map[string]time.Time),
	}
}

// Trigger requests a restart. Only the first call has an effect.
func (r *Restarter) Trigger(reason string) {
	r.mu.Lock()
	if r.triggered {
		r.mu.Unlock()
		return
	}
	r.triggered = true
	r.reason = reason
	r.mu.Unlock()

	metrics.RecordRestart()
	r.log.WithField("reason", reason).Warn("restart requested; shutting down")
	if r.shutdown != nil {
		r.shutdown()
	}
}

// Triggered reports whether a restart was requested and why.
func (r *Restarter) Triggered() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.triggered, r.reason
}

// IssueToken creates a single-use restart token valid for five minutes.
func (r *Restarter) IssueToken() (string, time.Time) {
	token := uuid.NewString()
	expires := r.now().Add(restartTokenTTL)
	r.mu.Lock()
	r.tokens[token] = expires
	r.mu.Unlock()
	return token, expires
}

// Restart consumes a token and triggers a restart after a short grace delay
// so the HTTP response can still be written.
func (r *Restarter) Restart(token string) error {
	r.mu.Lock()
	expires, ok := r.tokens[token]
	if ok {
		delete(r.tokens, token)
	}
	r.mu.Unlock()
	if !ok || !r.now().Before(expires) {
		return errors.Unauthorized("restart token is invalid or expired")
	}
	time.AfterFunc(r.delay, func() { r.Trigger("manual restart") })
	return nil
}

// PendingTokens returns the number of unexpired restart tokens.
func (r *Restarter) PendingTokens() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

func (r *Restarter) sweep() {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for token, expires := range r.tokens {
		if !now.Before(expires) {
			delete(r.tokens, token)
		}
	}
}

func (r *Restarter) Name() string { return "monitor-restarter" }

// Start runs the token sweeper.
func (r *Restarter) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
	return nil
}

func (r *Restarter) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
