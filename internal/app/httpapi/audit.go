package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/studiodesk/studiodesk/internal/middleware"
)

// AuditEntry records one mutating request made by an authenticated owner.
type AuditEntry struct {
	Time       time.Time `json:"time"`
	User       string    `json:"user"`
	Role       string    `json:"role"`
	Tenant     string    `json:"tenant"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	Status     int       `json:"status"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// AuditLog keeps the most recent entries in memory and optionally appends
// every entry to a sink.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	max     int
	sink    auditSink
}

type auditSink interface {
	Write(entry AuditEntry) error
	Close() error
}

// NewAuditLog creates a log holding up to max entries. A non-empty path adds
// a JSONL file sink.
func NewAuditLog(max int, path string) (*AuditLog, error) {
	if max <= 0 {
		max = 200
	}
	l := &AuditLog{max: max}
	if path != "" {
		sink, err := newFileAuditSink(path)
		if err != nil {
			return nil, err
		}
		l.sink = sink
	}
	return l, nil
}

func (l *AuditLog) add(entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	if l.sink != nil {
		_ = l.sink.Write(entry)
	}
}

func (l *AuditLog) list() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// List returns up to limit of the newest entries, oldest first.
func (l *AuditLog) List(limit int) []AuditEntry {
	if limit <= 0 || limit > l.max {
		limit = l.max
	}
	all := l.list()
	if len(all) <= limit {
		return all
	}
	return all[len(all)-limit:]
}

// Close releases the sink.
func (l *AuditLog) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

func (l *AuditLog) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		p, _ := middleware.PrincipalFrom(r.Context())
		l.add(AuditEntry{
			Time:       time.Now().UTC(),
			User:       p.ID,
			Role:       p.Role,
			Tenant:     p.OwnerID,
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: middleware.ClientIP(r),
			UserAgent:  r.UserAgent(),
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// fileAuditSink appends audit entries as JSONL.
type fileAuditSink struct {
	mu   sync.Mutex
	file *os.File
}

func newFileAuditSink(path string) (*fileAuditSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &fileAuditSink{file: f}, nil
}

func (s *fileAuditSink) Write(entry AuditEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}

func (s *fileAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
