package circulation

import (
	"net/http"
	"time"

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

// Routes mounts the loan endpoints open to every authenticated user.
// Each handler checks the caller owns the loan or is a librarian.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/loans", h.handleBorrow)
	r.Get("/loans/{loanID}", h.handleGet)
	r.Get("/loans/{loanID}/history", h.handleHistory)
	r.Post("/loans/{loanID}/renew", h.handleRenew)
	r.Post("/loans/{loanID}/return", h.handleReturn)
	r.Get("/users/{userID}/loans", h.handleListByUser)
}

// LibrarianRoutes mounts the loan administration endpoints.
func (h *Handler) LibrarianRoutes(r chi.Router) {
	r.Post("/loans/{loanID}/cancel", h.handleCancel)
	r.Get("/loans/overdue", h.handleOverdue)
	r.Get("/loans/stats", h.handleStats)
}

type borrowRequest struct {
	ItemID uuid.UUID `json:"item_id"`
	// UserID defaults to the caller; librarians may lend to others.
	UserID uuid.UUID `json:"user_id"`
}

type renewRequest struct {
	Days int `json:"days"`
}

type returnRequest struct {
	// ReturnedAt backdates the return. Only librarians may set it.
	ReturnedAt *time.Time `json:"returned_at"`
	Note       string     `json:"note"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}
	if req.ItemID == uuid.Nil {
		web.Error(w, r, apperr.Validation("invalid_loan", "item_id is required"))
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

	loan, err := h.service.Borrow(r.Context(), req.UserID, req.ItemID)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusCreated, "item borrowed", loan)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	loan, _, ok := h.owned(w, r)
	if !ok {
		return
	}
	web.JSON(w, http.StatusOK, "ok", loan)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	loan, _, ok := h.owned(w, r)
	if !ok {
		return
	}
	events, err := h.service.History(r.Context(), loan.ID)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "ok", events)
}

func (h *Handler) handleRenew(w http.ResponseWriter, r *http.Request) {
	var req renewRequest
	if err := web.DecodeOptional(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}
	loan, _, ok := h.owned(w, r)
	if !ok {
		return
	}

	renewed, err := h.service.Renew(r.Context(), loan.ID, req.Days)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "loan renewed", renewed)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := web.DecodeOptional(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}
	loan, p, ok := h.owned(w, r)
	if !ok {
		return
	}

	var at time.Time
	if req.ReturnedAt != nil {
		if p.Role != web.RoleLibrarian {
			web.Error(w, r, apperr.ErrForbidden.WithDetail("only librarians may backdate a return"))
			return
		}
		at = *req.ReturnedAt
	}

	returned, err := h.service.Return(r.Context(), loan.ID, at, req.Note)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "item returned", returned)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := web.IDParam(r, "loanID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	var req cancelRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}

	loan, err := h.service.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "loan cancelled", loan)
}

func (h *Handler) handleListByUser(w http.ResponseWriter, r *http.Request) {
	userID, err := web.IDParam(r, "userID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	if _, err := web.Actor(r, userID); err != nil {
		web.Error(w, r, err)
		return
	}

	loans, err := h.service.ListByUser(r.Context(), userID, r.URL.Query().Get("open") == "true")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "ok", loans)
}

func (h *Handler) handleOverdue(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.ListOverdue(r.Context())
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "ok", loans)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "ok", stats)
}

// owned loads the loan in the URL and checks the caller may act on it.
func (h *Handler) owned(w http.ResponseWriter, r *http.Request) (*Loan, web.Principal, bool) {
	id, err := web.IDParam(r, "loanID")
	if err != nil {
		web.Error(w, r, err)
		return nil, web.Principal{}, false
	}
	loan, err := h.service.Get(r.Context(), id)
	if err != nil {
		web.Error(w, r, err)
		return nil, web.Principal{}, false
	}
	p, err := web.Actor(r, loan.UserID)
	if err != nil {
		web.Error(w, r, err)
		return nil, web.Principal{}, false
	}
	return loan, p, true
}
