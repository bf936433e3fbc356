package membership

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"campuslib/internal/apperr"
)

var (
	ErrUserNotFound       = apperr.NotFound("user_not_found", "user not found")
	ErrInvalidUser        = apperr.Validation("invalid_user", "invalid user")
	ErrDuplicateEmail     = apperr.Conflict("duplicate_email", "a user with this email already exists")
	ErrInvalidCredentials = apperr.New(apperr.KindUnauthorized, "invalid_credentials", "invalid email or password")
	ErrUserInactive       = apperr.Rule("user_inactive", "user account is inactive")
	ErrConcurrentUpdate   = apperr.Conflict("user_concurrent_update", "user was modified concurrently, retry")
)

// Role discriminates the kinds of library users.
type Role string

const (
	RoleStudent   Role = "student"
	RoleProfessor Role = "professor"
	RoleLibrarian Role = "librarian"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleProfessor, RoleLibrarian:
		return true
	}
	return false
}

// User is a library patron or staff member. EnrollmentID, Course and
// Department are only meaningful for some roles; see Validate.
type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	Role         Role      `json:"role" db:"role"`
	EnrollmentID string    `json:"enrollment_id,omitempty" db:"enrollment_id"`
	Course       string    `json:"course,omitempty" db:"course"`
	Department   string    `json:"department,omitempty" db:"department"`
	Active       bool      `json:"active" db:"active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
	Version      int       `json:"version" db:"version"`

	Credential `json:"-"`
}

// Credential holds a user's salted password hash.
type Credential struct {
	PasswordHash string `db:"password_hash"`
	Salt         string `db:"password_salt"`
}

// Validate applies the field rules of the user's role.
func (u *User) Validate() error {
	if len(strings.TrimSpace(u.Name)) < 2 {
		return ErrInvalidUser.WithDetail("name must have at least 2 characters")
	}
	at := strings.Index(u.Email, "@")
	if at < 1 || at == len(u.Email)-1 {
		return ErrInvalidUser.WithDetail("email is not valid")
	}
	if !u.Role.Valid() {
		return ErrInvalidUser.WithDetail("unknown role %q", u.Role)
	}
	switch u.Role {
	case RoleStudent:
		if u.EnrollmentID == "" {
			return ErrInvalidUser.WithDetail("students need an enrollment id")
		}
		if u.Course == "" {
			return ErrInvalidUser.WithDetail("students need a course")
		}
	case RoleProfessor:
		if u.EnrollmentID == "" {
			return ErrInvalidUser.WithDetail("professors need an enrollment id")
		}
		if u.Department == "" {
			return ErrInvalidUser.WithDetail("professors need a department")
		}
	}
	return nil
}

// Registration is the input for creating an account.
type Registration struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	Role         Role   `json:"role"`
	EnrollmentID string `json:"enrollment_id"`
	Course       string `json:"course"`
	Department   string `json:"department"`
}

// UserFilter narrows user listings.
type UserFilter struct {
	Role       Role
	ActiveOnly bool
}

// UserRegisteredEvent is recorded when an account is created.
type UserRegisteredEvent struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
	Role  Role      `json:"role"`
}

// UserPasswordChangedEvent is recorded when a user changes their password.
type UserPasswordChangedEvent struct {
	ID uuid.UUID `json:"id"`
}

// UserStatusChangedEvent is recorded on deactivation and reactivation.
type UserStatusChangedEvent struct {
	ID     uuid.UUID `json:"id"`
	Active bool      `json:"active"`
}
