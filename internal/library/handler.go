package library

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

// PublicRoutes mounts the directory every authenticated user may read.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Get("/libraries", h.handleList)
	r.Get("/libraries/{libraryID}", h.handleGet)
}

// LibrarianRoutes mounts library administration.
func (h *Handler) LibrarianRoutes(r chi.Router) {
	r.Post("/libraries", h.handleCreate)
	r.Put("/libraries/{libraryID}/status", h.handleSetStatus)
}

// handleList lists libraries, or finds one by exact name when ?name= is set.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if name := q.Get("name"); name != "" {
		l, err := h.service.FindByName(r.Context(), name)
		if err != nil {
			web.Error(w, r, err)
			return
		}
		web.JSON(w, http.StatusOK, "ok", []*Library{l})
		return
	}

	list, err := h.service.List(r.Context(), q.Get("open") == "true")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "ok", list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := web.IDParam(r, "libraryID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	l, err := h.service.Get(r.Context(), id)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "ok", l)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req NewLibrary
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}
	l, err := h.service.Create(r.Context(), req)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusCreated, "library registered", l)
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := web.IDParam(r, "libraryID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	var req struct {
		Status Status `json:"status"`
	}
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}
	l, err := h.service.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "library status changed", l)
}
