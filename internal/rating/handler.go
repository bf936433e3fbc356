package rating

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"campuslib/internal/web"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/items/{itemID}/ratings", h.handleRate)
	r.Get("/items/{itemID}/ratings", h.handleListForItem)
	r.Get("/items/{itemID}/rating", h.handleSummary)
	r.Get("/users/{userID}/ratings", h.handleListForUser)
	r.Delete("/ratings/{ratingID}", h.handleRemove)
}

func (h *Handler) handleRate(w http.ResponseWriter, r *http.Request) {
	itemID, err := web.IDParam(r, "itemID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	var req NewRating
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}
	p, _ := web.PrincipalFrom(r.Context())

	rt, err := h.service.Rate(r.Context(), p.UserID, itemID, req)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusCreated, "rating saved", rt)
}

func (h *Handler) handleListForItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := web.IDParam(r, "itemID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	list, err := h.service.ListForItem(r.Context(), itemID)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "ok", list)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	itemID, err := web.IDParam(r, "itemID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	summary, err := h.service.Summary(r.Context(), itemID)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "ok", summary)
}

func (h *Handler) handleListForUser(w http.ResponseWriter, r *http.Request) {
	userID, err := web.IDParam(r, "userID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	if _, err := web.Actor(r, userID); err != nil {
		web.Error(w, r, err)
		return
	}
	list, err := h.service.ListForUser(r.Context(), userID)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "ok", list)
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	id, err := web.IDParam(r, "ratingID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	rt, err := h.service.Get(r.Context(), id)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	if _, err := web.Actor(r, rt.UserID); err != nil {
		web.Error(w, r, err)
		return
	}
	if err := h.service.Remove(r.Context(), id); err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "rating removed", nil)
}
