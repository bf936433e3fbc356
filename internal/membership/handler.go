package membership

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"campuslib/internal/apperr"
	"campuslib/internal/web"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// AuthRoutes mounts the unauthenticated endpoints.
func (h *Handler) AuthRoutes(r chi.Router) {
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)
}

// UserRoutes mounts the endpoints a user may call for their own account.
func (h *Handler) UserRoutes(r chi.Router) {
	r.Get("/users/{userID}", h.handleGetUser)
	r.Post("/users/{userID}/password", h.handleChangePassword)
}

// LibrarianRoutes mounts account administration.
func (h *Handler) LibrarianRoutes(r chi.Router) {
	r.Get("/users", h.handleListUsers)
	r.Post("/users", h.handleCreateUser)
	r.Post("/users/{userID}/deactivate", h.handleDeactivate)
	r.Post("/users/{userID}/reactivate", h.handleReactivate)
}

type loginResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// handleRegister is self-service sign-up; librarian accounts are created by
// other librarians through handleCreateUser.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req Registration
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}
	if req.Role == RoleLibrarian {
		web.Error(w, r, apperr.ErrForbidden)
		return
	}
	h.register(w, r, req)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req Registration
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}
	h.register(w, r, req)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request, req Registration) {
	user, err := h.service.Register(r.Context(), req)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusCreated, "user registered", user)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}

	token, user, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "logged in", loginResponse{Token: token, User: user})
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := web.IDParam(r, "userID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	if _, err := web.Actor(r, id); err != nil {
		web.Error(w, r, err)
		return
	}

	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "ok", user)
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	id, err := web.IDParam(r, "userID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	// Only the account holder knows the current password.
	p, err := web.Actor(r, id)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	if p.UserID != id {
		web.Error(w, r, apperr.ErrForbidden)
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}
	if err := h.service.ChangePassword(r.Context(), id, req.CurrentPassword, req.NewPassword); err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "password changed", nil)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	filter := UserFilter{
		Role:       Role(r.URL.Query().Get("role")),
		ActiveOnly: r.URL.Query().Get("active") == "true",
	}
	users, err := h.service.ListUsers(r.Context(), filter)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "ok", users)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, err := web.IDParam(r, "userID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	if err := h.service.Deactivate(r.Context(), id); err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "user deactivated", nil)
}

func (h *Handler) handleReactivate(w http.ResponseWriter, r *http.Request) {
	id, err := web.IDParam(r, "userID")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	if err := h.service.Reactivate(r.Context(), id); err != nil {
		web.Error(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, "user reactivated", nil)
}
