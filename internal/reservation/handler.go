package reservation

import (
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
	r.Post("/reservations", h.handleReserve)
	r.Get("/reservations/{reservationID}", h.handleGet)
	r.Delete("/reservations/{reservationID}", h.handleCancel)
	r.Get("/items/{itemID}/reservations", h.handleQueue)
	r.Get("/users/{userID}/reservations", h.handleListForUser)
}

type reserveRequest struct {
	ItemID uuid.UUID `json:"item_id"`
	// UserID defaults to the caller; librarians may reserve for others.
	UserID uuid.UUID `json:"user_id"`
}

type queueResponse struct {
	*Queue
	Length int `json:"length"`
	// Position is the caller's place in the queue, 0 when not waiting.
	Position int `json:"position"`
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}
	if req.ItemID == uuid.Nil {
		web.Error(w, r, apperr.Validation("invalid_reservation", "item_id is required"))
		return
	}
	if req.UserID == uuid.Nil {
		if p, ok := web.PrincipalFrom(r.Context()); ok {
			req.UserID = p.UserID
		}
	}
	if _, err := web.Actor(r, req.UserID); err != nil {
		web.Error(w, r, err)
		return
	}

	res, err := h.service.Reserve(r.Context(), req.UserID, req.ItemID)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusCreated, "reservation placed", res)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	res, ok := h.owned(w, r)
	if !ok {
		return
	}
	web.JSON(w, http.StatusOK, "ok", res)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	res, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.service.Cancel(r.Context(), res.ID); err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "reservation cancelled", nil)
}

// owned loads the reservation in the URL and checks the caller may act on it.
func (h *Handler) owned(w http.ResponseWriter, r *http.Request) (*Reservation, bool) {
	id, err := web.IDParam(r, "reservationID")
	if err != nil {
		web.Error(w, r, err)
		return nil, false
	}
	res, err := h.service.Get(r.Context(), id)
	if err != nil {
		web.Error(w, r, err)
		return nil, false
	}
	if _, err := web.Actor(r, res.UserID); err != nil {
		web.Error(w, r, err)
		return nil, false
	}
	return res, true
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	itemID, err := web.IDParam(r, "itemID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	q, err := h.service.Queue(r.Context(), itemID)
	if err != nil {
		web.Error(w, r, err)
		return
	}

	resp := queueResponse{Queue: q, Length: len(q.Entries)}
	p, _ := web.PrincipalFrom(r.Context())
	resp.Position = q.Position(p.UserID)
	if p.Role != web.RoleLibrarian {
		// Patrons see their own place, not who else is waiting.
		resp.Queue = &Queue{ItemID: q.ItemID}
	}
	web.JSON(w, http.StatusOK, "ok", resp)
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
	list, err := h.service.ListForUser(r.Context(), userID, r.URL.Query().Get("active") == "true")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "ok", list)
}
