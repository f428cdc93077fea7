// Package httpapi exposes the studiodesk services over a JSON REST API.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	app "github.com/studiodesk/studiodesk/internal/app"
	"github.com/studiodesk/studiodesk/internal/app/domain/tenant"
	"github.com/studiodesk/studiodesk/internal/app/metrics"
	activationsvc "github.com/studiodesk/studiodesk/internal/app/services/activation"
	"github.com/studiodesk/studiodesk/internal/errors"
	"github.com/studiodesk/studiodesk/internal/httputil"
	"github.com/studiodesk/studiodesk/internal/middleware"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app     *app.Application
	audit   *AuditLog
	log     *logger.Logger
	started time.Time
}

// NewHandler returns the complete API with its middleware chain. ctx bounds
// background housekeeping of the rate limiter. audit may be nil.
func NewHandler(ctx context.Context, application *app.Application, audit *AuditLog, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("http")
	}
	if audit == nil {
		audit, _ = NewAuditLog(0, "")
	}
	h := &handler{app: application, audit: audit, log: log, started: time.Now()}
	cfg := application.Config()

	proxies, err := middleware.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		log.WithError(err).Warn("ignoring trusted proxy list")
		proxies = nil
	}

	limiter := middleware.NewRateLimiter(float64(cfg.Server.AuthRatePerSec), cfg.Server.AuthBurst, log)
	limiter.StartCleanup(ctx, time.Minute)
	limited := func(fn http.HandlerFunc) http.Handler { return limiter.Handler(fn) }

	r := mux.NewRouter()
	r.Use(metrics.InstrumentHandler)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, r, errors.NotFound("route", r.URL.Path))
	})

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.Handle("/api/auth/register", limited(h.register)).Methods(http.MethodPost)
	r.Handle("/api/auth/login", limited(h.login)).Methods(http.MethodPost)
	r.Handle("/api/client/activate", limited(h.clientActivate)).Methods(http.MethodPost)
	r.Handle("/api/client/login", limited(h.clientLogin)).Methods(http.MethodPost)
	r.Handle("/api/client/link-login", limited(h.clientLinkLogin)).Methods(http.MethodGet)
	r.Handle("/api/system/restart", limited(h.systemRestart)).Methods(http.MethodPost)

	clientAuth := middleware.NewAuthMiddleware(clientVerifier(application.Activation), log)
	portal := r.PathPrefix("/api/client").Subrouter()
	portal.Use(clientAuth.Handler, middleware.RequireRole(RoleClient))
	portal.HandleFunc("/me", h.clientMe).Methods(http.MethodGet)
	portal.HandleFunc("/appointments", h.clientAppointments).Methods(http.MethodGet)
	portal.HandleFunc("/notifications", h.clientNotifications).Methods(http.MethodGet)
	portal.HandleFunc("/notifications/{id}/read", h.clientReadNotification).Methods(http.MethodPost)
	portal.HandleFunc("/notifications/{id}", h.clientDismissNotification).Methods(http.MethodDelete)

	ownerAuth := middleware.NewAuthMiddleware(ownerVerifier(application.Tenants), log)

	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Use(ownerAuth.Handler, middleware.RequireRole(string(tenant.RoleAdmin)), audit.middleware)
	admin.HandleFunc("/owners", h.adminOwners).Methods(http.MethodGet)
	admin.HandleFunc("/payouts/pending", h.adminPendingPayouts).Methods(http.MethodGet)
	admin.HandleFunc("/payouts/{period:[0-9]{4}-[0-9]{2}}", h.adminGeneratePayouts).Methods(http.MethodPost)
	admin.HandleFunc("/payouts/{id}", h.adminUpdatePayout).Methods(http.MethodPatch)
	admin.HandleFunc("/restart-token", h.adminRestartToken).Methods(http.MethodPost)
	admin.HandleFunc("/monitor", h.adminMonitor).Methods(http.MethodGet)
	admin.HandleFunc("/audit", h.adminAudit).Methods(http.MethodGet)
	admin.HandleFunc("/jobs", h.adminJobs).Methods(http.MethodGet)
	admin.HandleFunc("/jobs/{name}/run", h.adminRunJob).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(ownerAuth.Handler, requireOwnerRole, audit.middleware)
	api.HandleFunc("/me", h.me).Methods(http.MethodGet)
	api.HandleFunc("/subscription", h.activateSubscription).Methods(http.MethodPost)
	api.HandleFunc("/subscription", h.cancelSubscription).Methods(http.MethodDelete)

	api.HandleFunc("/clients", h.listClients).Methods(http.MethodGet)
	api.HandleFunc("/clients", h.createClient).Methods(http.MethodPost)
	api.HandleFunc("/clients/{id}", h.getClient).Methods(http.MethodGet)
	api.HandleFunc("/clients/{id}", h.updateClient).Methods(http.MethodPut)
	api.HandleFunc("/clients/{id}", h.deleteClient).Methods(http.MethodDelete)
	api.HandleFunc("/clients/{id}/appointments", h.clientWithAppointments).Methods(http.MethodGet)
	api.HandleFunc("/clients/{id}/consents", h.listConsents).Methods(http.MethodGet)
	api.HandleFunc("/clients/{id}/consents", h.recordConsent).Methods(http.MethodPost)
	api.HandleFunc("/clients/{id}/export", h.exportClient).Methods(http.MethodGet)
	api.HandleFunc("/clients/{id}/anonymize", h.anonymizeClient).Methods(http.MethodPost)
	api.HandleFunc("/clients/{id}/activation", h.issueActivation).Methods(http.MethodPost)
	api.HandleFunc("/clients/{id}/activation", h.revokeActivation).Methods(http.MethodDelete)
	api.HandleFunc("/clients/{id}/notes", h.listNotes).Methods(http.MethodGet)
	api.HandleFunc("/clients/{id}/notes", h.addNote).Methods(http.MethodPost)
	api.HandleFunc("/clients/{id}/notes/{noteId}", h.updateNote).Methods(http.MethodPut)
	api.HandleFunc("/clients/{id}/notes/{noteId}", h.deleteNote).Methods(http.MethodDelete)
	api.HandleFunc("/clients/{id}/notifications", h.notifyClient).Methods(http.MethodPost)

	api.HandleFunc("/services", h.listServices).Methods(http.MethodGet)
	api.HandleFunc("/services", h.createService).Methods(http.MethodPost)
	api.HandleFunc("/services/{id}", h.getService).Methods(http.MethodGet)
	api.HandleFunc("/services/{id}", h.updateService).Methods(http.MethodPut)
	api.HandleFunc("/services/{id}", h.deleteService).Methods(http.MethodDelete)

	api.HandleFunc("/appointments", h.listAppointments).Methods(http.MethodGet)
	api.HandleFunc("/appointments", h.bookAppointment).Methods(http.MethodPost)
	api.HandleFunc("/appointments/{id}", h.getAppointment).Methods(http.MethodGet)
	api.HandleFunc("/appointments/{id}", h.updateAppointment).Methods(http.MethodPut)
	api.HandleFunc("/appointments/{id}", h.deleteAppointment).Methods(http.MethodDelete)
	api.HandleFunc("/appointments/{id}/status", h.setAppointmentStatus).Methods(http.MethodPatch)
	api.HandleFunc("/calendar/stream", h.calendarStream).Methods(http.MethodGet)

	api.HandleFunc("/invoices", h.listInvoices).Methods(http.MethodGet)
	api.HandleFunc("/invoices", h.createInvoice).Methods(http.MethodPost)
	api.HandleFunc("/invoices/{id}", h.getInvoice).Methods(http.MethodGet)
	api.HandleFunc("/invoices/{id}", h.updateInvoice).Methods(http.MethodPut)
	api.HandleFunc("/invoices/{id}", h.deleteInvoice).Methods(http.MethodDelete)
	api.HandleFunc("/invoices/{id}/status", h.setInvoiceStatus).Methods(http.MethodPatch)
	api.HandleFunc("/invoices/{id}/items", h.addInvoiceItem).Methods(http.MethodPost)
	api.HandleFunc("/invoices/{id}/items/{itemId}", h.updateInvoiceItem).Methods(http.MethodPut)
	api.HandleFunc("/invoices/{id}/items/{itemId}", h.removeInvoiceItem).Methods(http.MethodDelete)
	api.HandleFunc("/invoices/{id}/payments", h.addInvoicePayment).Methods(http.MethodPost)
	api.HandleFunc("/invoices/{id}/payments/{paymentId}", h.updateInvoicePayment).Methods(http.MethodPut)
	api.HandleFunc("/invoices/{id}/payments/{paymentId}", h.removeInvoicePayment).Methods(http.MethodDelete)

	api.HandleFunc("/reminder-templates", h.listTemplates).Methods(http.MethodGet)
	api.HandleFunc("/reminder-templates", h.createTemplate).Methods(http.MethodPost)
	api.HandleFunc("/reminder-templates/{id}", h.getTemplate).Methods(http.MethodGet)
	api.HandleFunc("/reminder-templates/{id}", h.updateTemplate).Methods(http.MethodPut)
	api.HandleFunc("/reminder-templates/{id}", h.deleteTemplate).Methods(http.MethodDelete)
	api.HandleFunc("/reminder-templates/{id}/preview", h.previewTemplate).Methods(http.MethodGet)

	api.HandleFunc("/referrals", h.referralDetails).Methods(http.MethodGet)
	api.HandleFunc("/referrals/code", h.referralCode).Methods(http.MethodPost)
	api.HandleFunc("/referrals/stats", h.referralStats).Methods(http.MethodGet)
	api.HandleFunc("/referrals/payout", h.savePayout).Methods(http.MethodPut)

	var root http.Handler = r
	root = middleware.LoggingMiddleware(log)(root)
	root = middleware.TracingMiddleware(root)
	root = proxies.Handler(root)
	root = middleware.NewCORSMiddleware(cfg.Server.CORSOrigins).Handler(root)
	return root
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Truncate(time.Second).String(),
	})
}

type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	Owner     tenant.Owner `json:"owner"`
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username     string `json:"username"`
		Email        string `json:"email"`
		Password     string `json:"password"`
		ReferralCode string `json:"referral_code"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	owner, err := h.app.Tenants.Register(r.Context(), payload.Username, payload.Email, payload.Password, payload.ReferralCode)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.writeSession(w, r, http.StatusCreated, owner)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	owner, err := h.app.Tenants.Authenticate(r.Context(), payload.Username, payload.Password)
	if err != nil {
		h.log.LogSecurityEvent(r.Context(), "owner_login_failed", map[string]interface{}{
			"username": payload.Username,
			"ip":       middleware.ClientIP(r),
		})
		httputil.WriteError(w, r, err)
		return
	}
	h.writeSession(w, r, http.StatusOK, owner)
}

func (h *handler) writeSession(w http.ResponseWriter, r *http.Request, status int, owner tenant.Owner) {
	token, expires, err := h.app.Tenants.IssueToken(owner)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, status, sessionResponse{Token: token, ExpiresAt: expires, Owner: owner})
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	owner, err := h.app.Tenants.Get(r.Context(), tenantID(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, owner)
}

func (h *handler) activateSubscription(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Plan string `json:"plan"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	owner, err := h.app.Tenants.ActivateSubscription(r.Context(), tenantID(r), payload.Plan)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, owner)
}

func (h *handler) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	owner, err := h.app.Tenants.CancelSubscription(r.Context(), tenantID(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, owner)
}

func (h *handler) clientActivate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token    string `json:"token"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	session, err := h.app.Activation.Activate(r.Context(), payload.Token, payload.Username, payload.Password)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, session)
}

func (h *handler) clientLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Token    string `json:"token"`
		ClientID string `json:"client_id"`
		PWA      bool   `json:"pwa"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	session, err := h.app.Activation.Login(r.Context(), activationsvc.LoginRequest{
		Username: payload.Username,
		Password: payload.Password,
		Token:    payload.Token,
		ClientID: payload.ClientID,
		PWA:      payload.PWA,
	})
	if err != nil {
		h.log.LogSecurityEvent(r.Context(), "client_login_failed", map[string]interface{}{
			"username": payload.Username,
			"ip":       middleware.ClientIP(r),
		})
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

func (h *handler) clientLinkLogin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pwa, _ := strconv.ParseBool(q.Get("pwa"))
	session, err := h.app.Activation.LoginViaLink(r.Context(), q.Get("username"), q.Get("client_id"), q.Get("token"), pwa)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

func (h *handler) clientMe(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	c, err := h.app.Clients.Get(r.Context(), p.OwnerID, p.ID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *handler) clientAppointments(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	appts, err := h.app.Appointments.ListByClient(r.Context(), p.OwnerID, p.ID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, appts)
}

func (h *handler) systemRestart(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token string `json:"token"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := h.app.Monitor.Restarter.Restart(payload.Token); err != nil {
		h.log.LogSecurityEvent(r.Context(), "restart_rejected", map[string]interface{}{"ip": middleware.ClientIP(r)})
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "restarting"})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
