package membership

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"campuslib/internal/apperr"
	"campuslib/internal/eventstore"
	"campuslib/internal/store/storetest"
)

func newTestService(t *testing.T, opts ...Option) (Service, *TokenIssuer) {
	t.Helper()
	db := storetest.New(t)
	tokens := NewTokenIssuer("test-secret", time.Hour)
	opts = append([]Option{WithRateLimiter(rate.NewLimiter(rate.Inf, 0))}, opts...)
	return NewService(db, eventstore.New(db), NewRepository(db), tokens, zaptest.NewLogger(t), opts...), tokens
}

func student(email string) Registration {
	return Registration{
		Name:         "Ana Souza",
		Email:        email,
		Password:     "correct horse",
		Role:         RoleStudent,
		EnrollmentID: "2024001",
		Course:       "Letras",
	}
}

func TestRegisterAndLogin(t *testing.T) {
	svc, tokens := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, student("  Ana@Uni.EDU "))
	require.NoError(t, err)
	assert.Equal(t, "ana@uni.edu", user.Email)
	assert.True(t, user.Active)
	assert.NotEmpty(t, user.PasswordHash)

	token, logged, err := svc.Login(ctx, "ana@uni.edu", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, user.ID, logged.ID)

	p, err := tokens.Principal(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, p.UserID)
	assert.Equal(t, "student", p.Role)

	_, _, err = svc.Login(ctx, "ana@uni.edu", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.Login(ctx, "nobody@uni.edu", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, student("ana@uni.edu"))
	require.NoError(t, err)
	_, err = svc.Register(ctx, student("ANA@uni.edu"))
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestRegisterRoleValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		reg  Registration
	}{
		{"student without course", Registration{Name: "Ana", Email: "a@uni.edu", Password: "12345678", Role: RoleStudent, EnrollmentID: "1"}},
		{"student without enrollment", Registration{Name: "Ana", Email: "a@uni.edu", Password: "12345678", Role: RoleStudent, Course: "Letras"}},
		{"professor without department", Registration{Name: "Rui", Email: "r@uni.edu", Password: "12345678", Role: RoleProfessor, EnrollmentID: "9"}},
		{"unknown role", Registration{Name: "Rui", Email: "r@uni.edu", Password: "12345678", Role: "dean"}},
		{"bad email", Registration{Name: "Rui", Email: "rui", Password: "12345678", Role: RoleLibrarian}},
		{"short name", Registration{Name: "R", Email: "r@uni.edu", Password: "12345678", Role: RoleLibrarian}},
		{"short password", Registration{Name: "Rui", Email: "r@uni.edu", Password: "123", Role: RoleLibrarian}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.reg)
			assert.ErrorIs(t, err, ErrInvalidUser)
		})
	}

	prof, err := svc.Register(ctx, Registration{
		Name: "Rui Lima", Email: "rui@uni.edu", Password: "12345678",
		Role: RoleProfessor, EnrollmentID: "P-77", Department: "Física",
	})
	require.NoError(t, err)
	assert.Equal(t, RoleProfessor, prof.Role)
}

func TestDeactivateBlocksLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, student("ana@uni.edu"))
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, user.ID))
	_, _, err = svc.Login(ctx, "ana@uni.edu", "correct horse")
	assert.ErrorIs(t, err, ErrUserInactive)

	got, err := svc.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, 2, got.Version)

	require.NoError(t, svc.Reactivate(ctx, user.ID))
	_, _, err = svc.Login(ctx, "ana@uni.edu", "correct horse")
	assert.NoError(t, err)

	assert.ErrorIs(t, svc.Deactivate(ctx, uuid.New()), ErrUserNotFound)
}

func TestDeactivateReleasesUser(t *testing.T) {
	var released []uuid.UUID
	fail := true
	svc, _ := newTestService(t, OnDeactivate(func(_ context.Context, id uuid.UUID) error {
		if fail {
			fail = false
			return errors.New("queue store unavailable")
		}
		released = append(released, id)
		return nil
	}))
	ctx := context.Background()

	user, err := svc.Register(ctx, student("ana@uni.edu"))
	require.NoError(t, err)

	require.Error(t, svc.Deactivate(ctx, user.ID))
	got, err := svc.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, got.Active, "the status change commits even if releasing fails")
	assert.Empty(t, released)

	require.NoError(t, svc.Deactivate(ctx, user.ID), "deactivating again retries the release")
	assert.Equal(t, []uuid.UUID{user.ID}, released)

	require.NoError(t, svc.Reactivate(ctx, user.ID))
	assert.Len(t, released, 1, "reactivation releases nothing")
}

func TestChangePassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, student("ana@uni.edu"))
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, user.ID, "wrong password", "new secret phrase")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	err = svc.ChangePassword(ctx, user.ID, "correct horse", "short")
	assert.ErrorIs(t, err, ErrInvalidUser)
	err = svc.ChangePassword(ctx, uuid.New(), "correct horse", "new secret phrase")
	assert.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, svc.ChangePassword(ctx, user.ID, "correct horse", "new secret phrase"))

	_, _, err = svc.Login(ctx, "ana@uni.edu", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, logged, err := svc.Login(ctx, "ana@uni.edu", "new secret phrase")
	require.NoError(t, err)
	assert.Equal(t, 2, logged.Version)
}

func TestListUsers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Register(ctx, student("ana@uni.edu"))
	require.NoError(t, err)
	_, err = svc.EnsureLibrarian(ctx, "desk@uni.edu", "librarian-pass")
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(ctx, a.ID))

	all, err := svc.ListUsers(ctx, UserFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := svc.ListUsers(ctx, UserFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, RoleLibrarian, active[0].Role)

	students, err := svc.ListUsers(ctx, UserFilter{Role: RoleStudent})
	require.NoError(t, err)
	assert.Len(t, students, 1)

	_, err = svc.ListUsers(ctx, UserFilter{Role: "dean"})
	assert.ErrorIs(t, err, ErrInvalidUser)
}

func TestEnsureLibrarianIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.EnsureLibrarian(ctx, "desk@uni.edu", "librarian-pass")
	require.NoError(t, err)
	second, err := svc.EnsureLibrarian(ctx, "DESK@uni.edu", "other-pass")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestRateLimiter(t *testing.T) {
	svc, _ := newTestService(t, WithRateLimiter(rate.NewLimiter(rate.Every(time.Hour), 1)))
	ctx := context.Background()

	_, err := svc.Register(ctx, student("ana@uni.edu"))
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "ana@uni.edu", "correct horse")
	assert.ErrorIs(t, err, apperr.ErrRateLimited)
}

func TestPolicies(t *testing.T) {
	svc, _ := newTestService(t, WithPolicies(Policies{
		RoleStudent:   {MaxLoans: 2, LoanDays: 10},
		RoleProfessor: {MaxLoans: 8, LoanDays: 30},
	}))

	assert.Equal(t, Policy{MaxLoans: 8, LoanDays: 30}, svc.PolicyFor(RoleProfessor))
	assert.Equal(t, Policy{MaxLoans: 2, LoanDays: 10}, svc.PolicyFor(RoleLibrarian), "missing roles fall back to the student policy")

	defaults := DefaultPolicies()
	assert.Equal(t, 3, defaults.For(RoleStudent).MaxLoans)
	assert.Equal(t, 7, defaults.For(RoleStudent).LoanDays)
	assert.Equal(t, 14, defaults.For(RoleProfessor).LoanDays)
}
