package catalog

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"campuslib/internal/web"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// PublicRoutes mounts the read endpoints every authenticated user may call.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Get("/items", h.handleSearch)
	r.Get("/items/{itemID}", h.handleGetItem)
}

// LibrarianRoutes mounts the catalog maintenance endpoints.
func (h *Handler) LibrarianRoutes(r chi.Router) {
	r.Post("/items", h.handleAddItem)
	r.Patch("/items/{itemID}", h.handleUpdateItem)
	r.Put("/items/{itemID}/copies", h.handleSetCopies)
	r.Post("/items/{itemID}/deactivate", h.handleDeactivate)
	r.Post("/items/{itemID}/reactivate", h.handleReactivate)
	r.Delete("/items/{itemID}", h.handleDelete)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := SearchFilter{
		Query:           q.Get("q"),
		Author:          q.Get("author"),
		Genre:           q.Get("genre"),
		IncludeInactive: q.Get("include_inactive") == "true",
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			web.Error(w, r, ErrInvalidItem.WithDetail("limit must be a number"))
			return
		}
		filter.Limit = n
	}

	items, err := h.service.Search(r.Context(), filter)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "ok", items)
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req NewItem
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}

	item, err := h.service.AddItem(r.Context(), req)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusCreated, "item added", item)
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := web.IDParam(r, "itemID")
	if err != nil {
		web.Error(w, r, err)
		return
	}

	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "ok", item)
}

func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := web.IDParam(r, "itemID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	var req ItemUpdate
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}

	item, err := h.service.UpdateItem(r.Context(), id, req)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "item updated", item)
}

func (h *Handler) handleSetCopies(w http.ResponseWriter, r *http.Request) {
	id, err := web.IDParam(r, "itemID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	var req struct {
		TotalCopies int `json:"total_copies"`
	}
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}

	item, err := h.service.SetTotalCopies(r.Context(), id, req.TotalCopies)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "copies updated", item)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, err := web.IDParam(r, "itemID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	if err := h.service.Deactivate(r.Context(), id); err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "item deactivated", nil)
}

func (h *Handler) handleReactivate(w http.ResponseWriter, r *http.Request) {
	id, err := web.IDParam(r, "itemID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	if err := h.service.Reactivate(r.Context(), id); err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "item reactivated", nil)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := web.IDParam(r, "itemID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "item removed", nil)
}
