package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "studiodesk"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	appointmentsBooked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "booked_total",
			Help:      "Total number of appointments booked.",
		},
	)

	appointmentConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "conflicts_total",
			Help:      "Booking attempts rejected because the slot overlaps another appointment.",
		},
	)

	activationOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activation",
			Name:      "tokens_total",
			Help:      "Client token outcomes by result (issued, activated, login, rejected, purged).",
		},
		[]string{"result"},
	)

	reminderSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "sent_total",
			Help:      "Reminder deliveries by channel and result.",
		},
		[]string{"channel", "result"},
	)

	monitorPings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "pings_total",
			Help:      "Keep-alive pings by result.",
		},
		[]string{"result"},
	)

	monitorRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "restarts_triggered_total",
			Help:      "Number of times a process restart was requested.",
		},
	)

	referralPayments = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "referrals",
			Name:      "payments_generated_total",
			Help:      "Referral payments created by payout runs.",
		},
	)

	invoiceTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "invoices",
			Name:      "status_total",
			Help:      "Invoices entering each status (unpaid on creation, paid when settled).",
		},
		[]string{"status"},
	)

	portalNotifications = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "portal",
			Name:      "notifications_total",
			Help:      "In-portal notifications created for clients.",
		},
	)

	realtimeSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "subscribers",
			Help:      "Connected calendar stream subscribers.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		appointmentsBooked,
		appointmentConflicts,
		activationOutcomes,
		reminderSends,
		monitorPings,
		monitorRestarts,
		referralPayments,
		invoiceTransitions,
		portalNotifications,
		realtimeSubscribers,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the router with HTTP metrics collection. Paths are
// labelled by their mux route template to keep cardinality bounded.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := routePath(r)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

func RecordBooking()                 { appointmentsBooked.Inc() }
func RecordBookingConflict()         { appointmentConflicts.Inc() }
func RecordRestart()                 { monitorRestarts.Inc() }
func RecordPayments(n int)           { referralPayments.Add(float64(n)) }
func RecordInvoice(status string)    { invoiceTransitions.WithLabelValues(status).Inc() }
func RecordPortalNotification()      { portalNotifications.Inc() }
func SubscriberConnected()           { realtimeSubscribers.Inc() }
func SubscriberDisconnected()        { realtimeSubscribers.Dec() }
func RecordActivation(result string) { activationOutcomes.WithLabelValues(result).Inc() }

// RecordReminder counts one reminder delivery attempt.
func RecordReminder(channel string, ok bool) {
	result := "failed"
	if ok {
		result = "sent"
	}
	reminderSends.WithLabelValues(channel, result).Inc()
}

// RecordPing counts one keep-alive probe.
func RecordPing(ok bool) {
	result := "failed"
	if ok {
		result = "ok"
	}
	monitorPings.WithLabelValues(result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return canonicalPath(r.URL.Path)
}

func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] == "api" && len(parts) > 1 {
		return "/api/" + parts[1]
	}
	return "/" + parts[0]
}
