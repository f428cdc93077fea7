package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/studiodesk/studiodesk/internal/app/domain/client"
	"github.com/studiodesk/studiodesk/internal/httputil"
)

func (h *handler) listClients(w http.ResponseWriter, r *http.Request) {
	var (
		list []client.Client
		err  error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		list, err = h.app.Clients.Search(r.Context(), tenantID(r), q)
	} else {
		list, err = h.app.Clients.List(r.Context(), tenantID(r))
	}
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

type clientPayload struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	Address      string `json:"address"`
	Birthday     string `json:"birthday"`
	Notes        string `json:"notes"`
	IsFrequent   bool   `json:"is_frequent"`
	MedicalNotes string `json:"medical_notes"`
	Allergies    string `json:"allergies"`
}

func (p clientPayload) toClient() client.Client {
	return client.Client{
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Phone:        p.Phone,
		Email:        p.Email,
		Address:      p.Address,
		Birthday:     p.Birthday,
		Notes:        p.Notes,
		IsFrequent:   p.IsFrequent,
		MedicalNotes: p.MedicalNotes,
		Allergies:    p.Allergies,
	}
}

func (h *handler) createClient(w http.ResponseWriter, r *http.Request) {
	var payload clientPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	created, err := h.app.Clients.Create(r.Context(), tenantID(r), payload.toClient())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) getClient(w http.ResponseWriter, r *http.Request) {
	c, err := h.app.Clients.Get(r.Context(), tenantID(r), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *handler) updateClient(w http.ResponseWriter, r *http.Request) {
	var payload clientPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	updated, err := h.app.Clients.Update(r.Context(), tenantID(r), mux.Vars(r)["id"], payload.toClient())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteClient(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Clients.Delete(r.Context(), tenantID(r), mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) clientWithAppointments(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.Appointments.ClientWithAppointments(r.Context(), tenantID(r), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *handler) listConsents(w http.ResponseWriter, r *http.Request) {
	consents, err := h.app.Clients.ListConsents(r.Context(), tenantID(r), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, consents)
}

func (h *handler) recordConsent(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ConsentText string `json:"consent_text"`
		Signature   string `json:"signature"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	consent, err := h.app.Clients.RecordConsent(r.Context(), tenantID(r), mux.Vars(r)["id"], payload.ConsentText, payload.Signature)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, consent)
}

func (h *handler) exportClient(w http.ResponseWriter, r *http.Request) {
	export, err := h.app.Clients.Export(r.Context(), tenantID(r), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="client-`+export.Client.ID+`.json"`)
	httputil.WriteJSON(w, http.StatusOK, export)
}

func (h *handler) anonymizeClient(w http.ResponseWriter, r *http.Request) {
	c, err := h.app.Clients.Anonymize(r.Context(), tenantID(r), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

// issueActivation creates a client activation token. ?format=png answers
// with the QR code image instead of JSON; ?ttl_hours overrides the expiry.
func (h *handler) issueActivation(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["id"]
	ttl := time.Duration(queryInt(r, "ttl_hours", 0)) * time.Hour

	if r.URL.Query().Get("format") == "png" {
		png, issued, err := h.app.Activation.QR(r.Context(), tenantID(r), clientID, ttl)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(png)))
		w.Header().Set("X-Activation-Link", issued.Link)
		w.Header().Set("X-Activation-Expires", issued.ExpiresAt.Format(time.RFC3339))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(png)
		return
	}

	issued, err := h.app.Activation.Issue(r.Context(), tenantID(r), clientID, ttl)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, issued)
}

func (h *handler) revokeActivation(w http.ResponseWriter, r *http.Request) {
	n, err := h.app.Activation.RevokeForClient(r.Context(), tenantID(r), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"revoked": n})
}
