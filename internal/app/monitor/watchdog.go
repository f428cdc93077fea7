package monitor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/studiodesk/studiodesk/internal/app/system"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

const memoryStrikes = 3

// HealthSource reports the last successful keep-alive.
type HealthSource interface {
	Stats() PingStats
}

// WatchdogStats describes the last resource check.
type WatchdogStats struct {
	StartedAt     time.Time     `json:"started_at"`
	Uptime        time.Duration `json:"uptime"`
	RSSBytes      uint64        `json:"rss_bytes"`
	MemoryStrikes int           `json:"memory_strikes"`
	LastCheck     time.Time     `json:"last_check"`
}

// Watchdog checks process memory and keep-alive freshness.
type Watchdog struct {
	health     HealthSource
	interval   time.Duration
	staleAfter time.Duration
	limit      uint64
	onFailure  RecoveryFunc
	rss        func(ctx context.Context) (uint64, error)
	log        *logger.Logger
	now        func() time.Time

	mu      sync.Mutex
	stats   WatchdogStats
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Watchdog)(nil)

// NewWatchdog creates a watchdog. limitBytes of zero disables the memory
// check; a nil health source disables the staleness check.
func NewWatchdog(health HealthSource, interval, staleAfter time.Duration, limitBytes uint64, onFailure RecoveryFunc, log *logger.Logger) *Watchdog {
	if log == nil {
		log = logger.NewDefault("monitor-watchdog")
	}
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	w := &Watchdog{
		health:     health,
		interval:   interval,
		staleAfter: staleAfter,
		limit:      limitBytes,
		onFailure:  onFailure,
		rss:        processRSS,
		log:        log,
		now:        time.Now,
	}
	w.stats.StartedAt = w.now()
	return w
}

func processRSS(ctx context.Context) (uint64, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return mem.RSS, nil
}

func (w *Watchdog) Name() string { return "monitor-watchdog" }

func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.stats.StartedAt = w.now()
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				w.Check(runCtx)
			}
		}
	}()

	w.log.WithField("interval", w.interval.String()).
		WithField("memory_limit", humanize.Bytes(w.limit)).
		Info("watchdog started")
	return nil
}

func (w *Watchdog) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Check runs one watchdog pass and returns the reason it invoked recovery,
// or an empty string.
func (w *Watchdog) Check(ctx context.Context) string {
	now := w.now()
	rss, err := w.rss(ctx)
	if err != nil {
		w.log.WithError(err).Warn("read process memory failed")
	}

	w.mu.Lock()
	w.stats.LastCheck = now
	w.stats.Uptime = now.Sub(w.stats.StartedAt)
	if err == nil {
		w.stats.RSSBytes = rss
		if w.limit > 0 && rss > w.limit {
			w.stats.MemoryStrikes++
		} else {
			w.stats.MemoryStrikes = 0
		}
	}
	stats := w.stats
	w.mu.Unlock()

	w.log.WithField("uptime", stats.Uptime.Truncate(time.Second).String()).
		WithField("rss", humanize.Bytes(stats.RSSBytes)).
		Debug("watchdog check")

	reason := ""
	switch {
	case stats.MemoryStrikes >= memoryStrikes:
		reason = fmt.Sprintf("memory %s above limit %s on %d checks",
			humanize.Bytes(stats.RSSBytes), humanize.Bytes(w.limit), stats.MemoryStrikes)
	case w.stale(now, stats.StartedAt):
		reason = fmt.Sprintf("no successful keep-alive for %s", w.staleAfter)
	}
	if reason != "" && w.onFailure != nil {
		w.onFailure(reason)
	}
	return reason
}

// stale reports whether keep-alives stopped succeeding. A freshly started
// process gets staleAfter to produce its first success.
func (w *Watchdog) stale(now, startedAt time.Time) bool {
	if w.health == nil {
		return false
	}
	last := w.health.Stats().LastSuccess
	if last.IsZero() {
		last = startedAt
	}
	return now.Sub(last) > w.staleAfter
}

// Stats returns a snapshot of the last check.
func (w *Watchdog) Stats() WatchdogStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
