package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/studiodesk/studiodesk/internal/app/domain/referral"
	"github.com/studiodesk/studiodesk/internal/app/domain/tenant"
	"github.com/studiodesk/studiodesk/internal/httputil"
)

func (h *handler) referralDetails(w http.ResponseWriter, r *http.Request) {
	details, err := h.app.Referrals.Details(r.Context(), tenantID(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, details)
}

func (h *handler) referralCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.app.Referrals.GenerateCode(r.Context(), tenantID(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"referral_code": code})
}

func (h *handler) referralStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.app.Referrals.Stats(r.Context(), tenantID(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *handler) savePayout(w http.ResponseWriter, r *http.Request) {
	var payload tenant.Payout
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	saved, err := h.app.Referrals.SavePayoutDetails(r.Context(), tenantID(r), payload)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, saved)
}

func (h *handler) adminOwners(w http.ResponseWriter, r *http.Request) {
	owners, err := h.app.Tenants.List(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, owners)
}

func (h *handler) adminGeneratePayouts(w http.ResponseWriter, r *http.Request) {
	payments, err := h.app.Referrals.GeneratePayments(r.Context(), mux.Vars(r)["period"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, payments)
}

func (h *handler) adminPendingPayouts(w http.ResponseWriter, r *http.Request) {
	payments, err := h.app.Referrals.PendingPayments(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, payments)
}

func (h *handler) adminUpdatePayout(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status referral.PaymentStatus `json:"status"`
		Note   string                 `json:"note"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	updated, err := h.app.Referrals.UpdatePaymentStatus(r.Context(), mux.Vars(r)["id"], payload.Status, payload.Note)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handler) adminRestartToken(w http.ResponseWriter, r *http.Request) {
	token, expires := h.app.Monitor.Restarter.IssueToken()
	h.log.LogSecurityEvent(r.Context(), "restart_token_issued", map[string]interface{}{"expires_at": expires})
	httputil.WriteJSON(w, http.StatusCreated, struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}{token, expires})
}

func (h *handler) adminMonitor(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.app.Monitor.Stats())
}

func (h *handler) adminAudit(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.audit.List(queryInt(r, "limit", 0)))
}

func (h *handler) adminJobs(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string][]string{"jobs": h.app.Scheduler.Jobs()})
}

func (h *handler) adminRunJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.app.Scheduler.RunNow(r.Context(), name); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"job": name, "status": "completed"})
}
