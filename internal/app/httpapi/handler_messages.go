package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/studiodesk/studiodesk/internal/app/domain/notification"
	"github.com/studiodesk/studiodesk/internal/httputil"
	"github.com/studiodesk/studiodesk/internal/middleware"
)

type notePayload struct {
	Content string `json:"content"`
}

func (h *handler) listNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.app.Clients.ListNotes(r.Context(), tenantID(r), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, notes)
}

func (h *handler) addNote(w http.ResponseWriter, r *http.Request) {
	var payload notePayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	note, err := h.app.Clients.AddNote(r.Context(), tenantID(r), mux.Vars(r)["id"], payload.Content)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, note)
}

func (h *handler) updateNote(w http.ResponseWriter, r *http.Request) {
	var payload notePayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	note, err := h.app.Clients.UpdateNote(r.Context(), tenantID(r), vars["id"], vars["noteId"], payload.Content)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, note)
}

func (h *handler) deleteNote(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.app.Clients.DeleteNote(r.Context(), tenantID(r), vars["id"], vars["noteId"]); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type templatePayload struct {
	Name      string               `json:"name"`
	Channel   notification.Channel `json:"channel"`
	ServiceID string               `json:"service_id"`
	IsDefault bool                 `json:"is_default"`
	Subject   string               `json:"subject"`
	Content   string               `json:"content"`
}

func (p templatePayload) toTemplate() notification.Template {
	return notification.Template{
		Name:      p.Name,
		Channel:   p.Channel,
		ServiceID: p.ServiceID,
		IsDefault: p.IsDefault,
		Subject:   p.Subject,
		Content:   p.Content,
	}
}

func (h *handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Messages.ListTemplates(r.Context(), tenantID(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var payload templatePayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	created, err := h.app.Messages.CreateTemplate(r.Context(), tenantID(r), payload.toTemplate())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := h.app.Messages.GetTemplate(r.Context(), tenantID(r), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (h *handler) updateTemplate(w http.ResponseWriter, r *http.Request) {
	var payload templatePayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	updated, err := h.app.Messages.UpdateTemplate(r.Context(), tenantID(r), mux.Vars(r)["id"], payload.toTemplate())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Messages.DeleteTemplate(r.Context(), tenantID(r), mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) previewTemplate(w http.ResponseWriter, r *http.Request) {
	subject, body, err := h.app.Messages.Preview(r.Context(), tenantID(r), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"subject": subject, "content": body})
}

// notifyClient posts an owner message to the client's portal inbox.
func (h *handler) notifyClient(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	n, err := h.app.Messages.SendToClient(r.Context(), tenantID(r), mux.Vars(r)["id"], payload.Title, payload.Body)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, n)
}

func (h *handler) clientNotifications(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	list, err := h.app.Messages.ListForClient(r.Context(), p.OwnerID, p.ID, r.URL.Query().Get("unread") == "true")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) clientReadNotification(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	n, err := h.app.Messages.MarkRead(r.Context(), p.OwnerID, p.ID, mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, n)
}

func (h *handler) clientDismissNotification(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	if err := h.app.Messages.Dismiss(r.Context(), p.OwnerID, p.ID, mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
