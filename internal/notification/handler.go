package notification

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"campuslib/internal/apperr"
	"campuslib/internal/web"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/users/{userID}/notifications", h.handleList)
	r.Get("/users/{userID}/notifications/unread-count", h.handleUnreadCount)
	r.Post("/notifications/read-all", h.handleReadAll)
	r.Post("/notifications/{notificationID}/read", h.handleRead)
	r.Post("/notifications/{notificationID}/archive", h.handleArchive)
	r.Delete("/notifications/{notificationID}", h.handleDelete)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userID, err := web.IDParam(r, "userID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	if _, err := web.Actor(r, userID); err != nil {
		web.Error(w, r, err)
		return
	}

	list, err := h.service.List(r.Context(), userID, r.URL.Query().Get("unread") == "true")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "ok", list)
}

func (h *Handler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, err := web.IDParam(r, "userID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	if _, err := web.Actor(r, userID); err != nil {
		web.Error(w, r, err)
		return
	}

	n, err := h.service.UnreadCount(r.Context(), userID)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "ok", map[string]int{"unread": n})
}

func (h *Handler) handleReadAll(w http.ResponseWriter, r *http.Request) {
	p, ok := web.PrincipalFrom(r.Context())
	if !ok {
		web.Error(w, r, apperr.ErrUnauthorized)
		return
	}
	n, err := h.service.MarkAllRead(r.Context(), p.UserID)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "notifications marked as read", map[string]int64{"updated": n})
}

func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.MarkRead, "notification marked as read")
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Archive, "notification archived")
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Delete, "notification deleted")
}

// transition checks the caller owns the notification before applying op.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uuid.UUID) error, message string) {
	id, err := web.IDParam(r, "notificationID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	n, err := h.service.Get(r.Context(), id)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	if _, err := web.Actor(r, n.UserID); err != nil {
		web.Error(w, r, err)
		return
	}
	if err := op(r.Context(), id); err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, message, nil)
}
