package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/studiodesk/studiodesk/internal/app/domain/appointment"
	"github.com/studiodesk/studiodesk/internal/app/domain/catalog"
	"github.com/studiodesk/studiodesk/internal/httputil"
)

type servicePayload struct {
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	Color           string `json:"color"`
	PriceCents      int64  `json:"price_cents"`
}

func (p servicePayload) toService() catalog.Service {
	return catalog.Service{Name: p.Name, DurationMinutes: p.DurationMinutes, Color: p.Color, PriceCents: p.PriceCents}
}

func (h *handler) listServices(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Catalog.List(r.Context(), tenantID(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) createService(w http.ResponseWriter, r *http.Request) {
	var payload servicePayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	created, err := h.app.Catalog.Create(r.Context(), tenantID(r), payload.toService())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) getService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.app.Catalog.Get(r.Context(), tenantID(r), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, svc)
}

func (h *handler) updateService(w http.ResponseWriter, r *http.Request) {
	var payload servicePayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	updated, err := h.app.Catalog.Update(r.Context(), tenantID(r), mux.Vars(r)["id"], payload.toService())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteService(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Catalog.Delete(r.Context(), tenantID(r), mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type appointmentPayload struct {
	ClientID  string  `json:"client_id"`
	ServiceID string  `json:"service_id"`
	Date      string  `json:"date"`
	StartTime string  `json:"start_time"`
	EndTime   string  `json:"end_time"`
	Notes     *string `json:"notes"`
}

func (p appointmentPayload) toAppointment() appointment.Appointment {
	appt := appointment.Appointment{
		ClientID:  p.ClientID,
		ServiceID: p.ServiceID,
		Date:      p.Date,
		StartTime: p.StartTime,
		EndTime:   p.EndTime,
	}
	if p.Notes != nil {
		appt.Notes = *p.Notes
	}
	return appt
}

// toChanges keeps omitted fields; "notes": "" clears the notes.
func (p appointmentPayload) toChanges() appointment.Changes {
	return appointment.Changes{
		ClientID:  p.ClientID,
		ServiceID: p.ServiceID,
		Date:      p.Date,
		StartTime: p.StartTime,
		EndTime:   p.EndTime,
		Notes:     p.Notes,
	}
}

// listAppointments serves ?date=, ?start=&end= or ?client_id=. Without
// parameters it lists today in the studio time zone.
func (h *handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		list []appointment.Details
		err  error
	)
	switch {
	case q.Get("client_id") != "":
		list, err = h.app.Appointments.ListByClient(r.Context(), tenantID(r), q.Get("client_id"))
	case q.Get("start") != "" || q.Get("end") != "":
		list, err = h.app.Appointments.ListRange(r.Context(), tenantID(r), q.Get("start"), q.Get("end"))
	default:
		date := q.Get("date")
		if date == "" {
			date = time.Now().In(h.app.Appointments.Location()).Format(appointment.DateLayout)
		}
		list, err = h.app.Appointments.ListByDate(r.Context(), tenantID(r), date)
	}
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) bookAppointment(w http.ResponseWriter, r *http.Request) {
	var payload appointmentPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	created, err := h.app.Appointments.Book(r.Context(), tenantID(r), payload.toAppointment())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) getAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.app.Appointments.Get(r.Context(), tenantID(r), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, appt)
}

func (h *handler) updateAppointment(w http.ResponseWriter, r *http.Request) {
	var payload appointmentPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	updated, err := h.app.Appointments.Update(r.Context(), tenantID(r), mux.Vars(r)["id"], payload.toChanges())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteAppointment(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Appointments.Delete(r.Context(), tenantID(r), mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) setAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status appointment.Status `json:"status"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	updated, err := h.app.Appointments.SetStatus(r.Context(), tenantID(r), mux.Vars(r)["id"], payload.Status)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

// calendarStream upgrades to a websocket carrying the tenant's appointment
// events.
func (h *handler) calendarStream(w http.ResponseWriter, r *http.Request) {
	h.app.Hub.ServeWS(w, r, tenantID(r))
}
