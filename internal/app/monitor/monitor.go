package monitor

import "time"

// Stats is the combined monitor view exposed to administrators.
type Stats struct {
	Ping          PingStats     `json:"ping"`
	Watchdog      WatchdogStats `json:"watchdog"`
	Uptime        time.Duration `json:"uptime"`
	PendingTokens int           `json:"pending_restart_tokens"`
	Restarting    bool          `json:"restarting"`
	RestartReason string        `json:"restart_reason,omitempty"`
}

// Monitor groups the pinger, watchdog and restarter. Pinger and Watchdog
// are nil when monitoring is disabled.
type Monitor struct {
	Pinger    *Pinger
	Watchdog  *Watchdog
	Restarter *Restarter
	started   time.Time
}

// New groups the components. started is the process start time.
func New(pinger *Pinger, watchdog *Watchdog, restarter *Restarter, started time.Time) *Monitor {
	return &Monitor{Pinger: pinger, Watchdog: watchdog, Restarter: restarter, started: started}
}

// Stats collects a snapshot from every component.
func (m *Monitor) Stats() Stats {
	st := Stats{Uptime: time.Since(m.started).Truncate(time.Second)}
	if m.Pinger != nil {
		st.Ping = m.Pinger.Stats()
	}
	if m.Watchdog != nil {
		st.Watchdog = m.Watchdog.Stats()
	}
	if m.Restarter != nil {
		st.PendingTokens = m.Restarter.PendingTokens()
		st.Restarting, st.RestartReason = m.Restarter.Triggered()
	}
	return st
}
