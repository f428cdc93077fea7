package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/studiodesk/studiodesk/internal/app/domain/invoice"
	"github.com/studiodesk/studiodesk/internal/app/services/invoices"
	"github.com/studiodesk/studiodesk/internal/app/storage"
	"github.com/studiodesk/studiodesk/internal/httputil"
)

type invoiceItemPayload struct {
	ServiceID      string `json:"service_id"`
	AppointmentID  string `json:"appointment_id"`
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

func (p invoiceItemPayload) toItem() invoice.Item {
	return invoice.Item{
		ServiceID:      p.ServiceID,
		AppointmentID:  p.AppointmentID,
		Description:    p.Description,
		Quantity:       p.Quantity,
		UnitPriceCents: p.UnitPriceCents,
	}
}

type invoicePayload struct {
	ClientID string               `json:"client_id"`
	Date     string               `json:"date"`
	DueDate  string               `json:"due_date"`
	Notes    string               `json:"notes"`
	Items    []invoiceItemPayload `json:"items"`
}

type paymentPayload struct {
	AmountCents int64      `json:"amount_cents"`
	Method      string     `json:"method"`
	Notes       string     `json:"notes"`
	PaidAt      *time.Time `json:"paid_at"`
}

func (p paymentPayload) toPayment() invoice.Payment {
	payment := invoice.Payment{AmountCents: p.AmountCents, Method: p.Method, Notes: p.Notes}
	if p.PaidAt != nil {
		payment.PaidAt = p.PaidAt.UTC()
	}
	return payment
}

func (h *handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.app.Invoices.List(r.Context(), tenantID(r), storage.InvoiceFilter{
		ClientID: q.Get("client_id"),
		From:     q.Get("from"),
		To:       q.Get("to"),
		Status:   invoice.Status(q.Get("status")),
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var payload invoicePayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	draft := invoices.Draft{
		ClientID: payload.ClientID,
		Date:     payload.Date,
		DueDate:  payload.DueDate,
		Notes:    payload.Notes,
	}
	for _, item := range payload.Items {
		draft.Items = append(draft.Items, item.toItem())
	}
	created, err := h.app.Invoices.Create(r.Context(), tenantID(r), draft)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.app.Invoices.Get(r.Context(), tenantID(r), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inv)
}

func (h *handler) updateInvoice(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Date    *string `json:"date"`
		DueDate *string `json:"due_date"`
		Notes   *string `json:"notes"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	updated, err := h.app.Invoices.Update(r.Context(), tenantID(r), mux.Vars(r)["id"], invoices.Changes{
		Date:    payload.Date,
		DueDate: payload.DueDate,
		Notes:   payload.Notes,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handler) setInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status invoice.Status `json:"status"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	updated, err := h.app.Invoices.SetStatus(r.Context(), tenantID(r), mux.Vars(r)["id"], payload.Status)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Invoices.Delete(r.Context(), tenantID(r), mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) addInvoiceItem(w http.ResponseWriter, r *http.Request) {
	var payload invoiceItemPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	inv, err := h.app.Invoices.AddItem(r.Context(), tenantID(r), mux.Vars(r)["id"], payload.toItem())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, inv)
}

func (h *handler) updateInvoiceItem(w http.ResponseWriter, r *http.Request) {
	var payload invoiceItemPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	inv, err := h.app.Invoices.UpdateItem(r.Context(), tenantID(r), vars["id"], vars["itemId"], payload.toItem())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inv)
}

func (h *handler) removeInvoiceItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	inv, err := h.app.Invoices.RemoveItem(r.Context(), tenantID(r), vars["id"], vars["itemId"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inv)
}

func (h *handler) addInvoicePayment(w http.ResponseWriter, r *http.Request) {
	var payload paymentPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	inv, err := h.app.Invoices.AddPayment(r.Context(), tenantID(r), mux.Vars(r)["id"], payload.toPayment())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, inv)
}

func (h *handler) updateInvoicePayment(w http.ResponseWriter, r *http.Request) {
	var payload paymentPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	inv, err := h.app.Invoices.UpdatePayment(r.Context(), tenantID(r), vars["id"], vars["paymentId"], payload.toPayment())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inv)
}

func (h *handler) removeInvoicePayment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	inv, err := h.app.Invoices.RemovePayment(r.Context(), tenantID(r), vars["id"], vars["paymentId"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inv)
}
