package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/studiodesk/studiodesk/internal/errors"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

type hookRecorder struct {
	mu      sync.Mutex
	reasons []string
}

func (h *hookRecorder) hook(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reasons = append(h.reasons, reason)
}

func (h *hookRecorder) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.reasons)
}

func TestPingerParsesStatusAndCountsFailures(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" || r.Header.Get(KeepAliveHeader) != "true" {
			t.Errorf("unexpected probe %s %v", r.URL.Path, r.Header)
		}
		if healthy.Load() {
			_, _ = w.Write([]byte(`{"status":"ok"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"degraded"}`))
	}))
	defer server.Close()

	hooks := &hookRecorder{}
	p := NewPinger(server.URL+"/", time.Minute, 3, hooks.hook, logger.Discard())
	ctx := context.Background()

	if err := p.Ping(ctx); err != nil {
		t.Fatalf("healthy ping failed: %v", err)
	}
	if p.Stats().LastSuccess.IsZero() {
		t.Fatal("last success not recorded")
	}

	healthy.Store(false)
	for i := 0; i < 2; i++ {
		if err := p.Ping(ctx); err == nil {
			t.Fatal("degraded status should fail")
		}
	}
	if hooks.count() != 0 {
		t.Fatal("hook fired too early")
	}
	_ = p.Ping(ctx)
	if hooks.count() != 1 {
		t.Fatalf("hook count = %d, want 1", hooks.count())
	}
	st := p.Stats()
	if st.TotalPings != 4 || st.TotalFailures != 3 || st.ConsecutiveFailures != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

type fixedHealth struct{ last time.Time }

func (f fixedHealth) Stats() PingStats { return PingStats{LastSuccess: f.last} }

func TestWatchdogMemoryStrikes(t *testing.T) {
	hooks := &hookRecorder{}
	w := NewWatchdog(nil, time.Minute, time.Minute, 100, hooks.hook, logger.Discard())
	rss := uint64(150)
	w.rss = func(context.Context) (uint64, error) { return rss, nil }
	ctx := context.Background()

	w.Check(ctx)
	w.Check(ctx)
	if hooks.count() != 0 {
		t.Fatal("hook fired before three strikes")
	}
	rss = 50
	w.Check(ctx)
	rss = 150
	w.Check(ctx)
	w.Check(ctx)
	if hooks.count() != 0 {
		t.Fatal("strikes should reset after a healthy check")
	}
	if reason := w.Check(ctx); reason == "" || hooks.count() != 1 {
		t.Fatalf("expected recovery, reason=%q count=%d", reason, hooks.count())
	}
	if w.Stats().RSSBytes != 150 {
		t.Fatalf("rss = %d", w.Stats().RSSBytes)
	}
}

func TestWatchdogStaleKeepAlive(t *testing.T) {
	hooks := &hookRecorder{}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	health := fixedHealth{last: now.Add(-10 * time.Minute)}
	w := NewWatchdog(health, time.Minute, 5*time.Minute, 0, hooks.hook, logger.Discard())
	w.rss = func(context.Context) (uint64, error) { return 1, nil }
	w.now = func() time.Time { return now }

	if reason := w.Check(context.Background()); reason == "" {
		t.Fatal("expected stale keep-alive recovery")
	}

	fresh := NewWatchdog(fixedHealth{}, time.Minute, 5*time.Minute, 0, hooks.hook, logger.Discard())
	fresh.rss = w.rss
	if reason := fresh.Check(context.Background()); reason != "" {
		t.Fatalf("fresh process should get a grace period, got %q", reason)
	}
}

func TestRestarterTriggerOnce(t *testing.T) {
	var calls atomic.Int32
	r := NewRestarter(func() { calls.Add(1) }, logger.Discard())
	r.Trigger("memory")
	r.Trigger("again")
	if calls.Load() != 1 {
		t.Fatalf("shutdown called %d times", calls.Load())
	}
	if ok, reason := r.Triggered(); !ok || reason != "memory" {
		t.Fatalf("Triggered() = %v, %q", ok, reason)
	}
}

func TestRestartTokensAreSingleUseAndExpire(t *testing.T) {
	done := make(chan struct{})
	r := NewRestarter(func() { close(done) }, logger.Discard())
	r.delay = time.Millisecond
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	stale, _ := r.IssueToken()
	now = now.Add(6 * time.Minute)
	if err := r.Restart(stale); !errors.HasCode(err, errors.CodeUnauthorized) {
		t.Fatalf("expired token accepted: %v", err)
	}

	_, _ = r.IssueToken()
	_, _ = r.IssueToken()
	now = now.Add(6 * time.Minute)
	r.sweep()
	if r.PendingTokens() != 0 {
		t.Fatalf("sweep left %d tokens", r.PendingTokens())
	}

	now = now.Add(-6 * time.Minute)
	token, _ := r.IssueToken()
	if err := r.Restart(token); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if err := r.Restart(token); err == nil {
		t.Fatal("token reused")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("restart never triggered")
	}
}

func TestMonitorStats(t *testing.T) {
	r := NewRestarter(nil, logger.Discard())
	_, _ = r.IssueToken()
	m := New(nil, nil, r, time.Now().Add(-time.Hour))
	st := m.Stats()
	if st.PendingTokens != 1 || st.Restarting || st.Uptime < time.Hour {
		t.Fatalf("unexpected stats %+v", st)
	}
}
