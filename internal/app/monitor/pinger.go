package monitor

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/studiodesk/studiodesk/internal/app/metrics"
	"github.com/studiodesk/studiodesk/internal/app/system"
	"github.com/studiodesk/studiodesk/internal/httputil"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

// KeepAliveHeader marks self-probes so request logging can skip them.
const KeepAliveHeader = "X-Keep-Alive"

// RecoveryFunc is invoked when a component decides the process is unhealthy.
type RecoveryFunc func(reason string)

// PingStats describes keep-alive history.
type PingStats struct {
	LastSuccess         time.Time `json:"last_success"`
	LastFailure         time.Time `json:"last_failure"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalPings          int       `json:"total_pings"`
	TotalFailures       int       `json:"total_failures"`
}

// Pinger probes the service's own health endpoint.
type Pinger struct {
	client      *httputil.Client
	url         string
	interval    time.Duration
	maxFailures int
	onFailure   RecoveryFunc
	log         *logger.Logger
	now         func() time.Time

	mu      sync.Mutex
	stats   PingStats
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Pinger)(nil)

// NewPinger creates a pinger for baseURL/healthz.
func NewPinger(baseURL string, interval time.Duration, maxFailures int, onFailure RecoveryFunc, log *logger.Logger) *Pinger {
	if log == nil {
		log = logger.NewDefault("monitor-pinger")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if maxFailures <= 0 {
		maxFailures = 3
	}
	return &Pinger{
		client: httputil.NewClient(httputil.ClientConfig{
			Timeout:    10 * time.Second,
			MaxRetries: -1,
			Headers:    map[string]string{KeepAliveHeader: "true"},
		}),
		url:         strings.TrimRight(baseURL, "/") + "/healthz",
		interval:    interval,
		maxFailures: maxFailures,
		onFailure:   onFailure,
		log:         log,
		now:         time.Now,
	}
}

func (p *Pinger) Name() string { return "monitor-pinger" }

func (p *Pinger) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.Ping(runCtx)
			}
		}
	}()

	p.log.WithField("url", p.url).WithField("interval", p.interval.String()).Info("keep-alive pinger started")
	return nil
}

func (p *Pinger) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Ping performs one probe and updates the stats. After maxFailures
// consecutive failures the recovery hook runs and the counter resets.
func (p *Pinger) Ping(ctx context.Context) error {
	err := p.probe(ctx)
	metrics.RecordPing(err == nil)

	p.mu.Lock()
	now := p.now()
	p.stats.TotalPings++
	if err == nil {
		p.stats.LastSuccess = now
		p.stats.ConsecutiveFailures = 0
		p.mu.Unlock()
		return nil
	}
	p.stats.TotalFailures++
	p.stats.LastFailure = now
	p.stats.ConsecutiveFailures++
	failures := p.stats.ConsecutiveFailures
	exhausted := failures >= p.maxFailures
	if exhausted {
		p.stats.ConsecutiveFailures = 0
	}
	p.mu.Unlock()

	p.log.WithError(err).WithField("consecutive_failures", failures).Warn("keep-alive ping failed")
	if exhausted && p.onFailure != nil {
		p.onFailure(fmt.Sprintf("%d consecutive keep-alive failures", failures))
	}
	return err
}

func (p *Pinger) probe(ctx context.Context) error {
	resp, err := p.client.Get(ctx, p.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _, err := httputil.ReadAllWithLimit(resp.Body, 64<<10)
	if err != nil {
		return fmt.Errorf("read health body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	if status := gjson.GetBytes(raw, "status").String(); status != "ok" {
		return fmt.Errorf("health status %q", status)
	}
	return nil
}

// Stats returns a snapshot of the ping history.
func (p *Pinger) Stats() PingStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
