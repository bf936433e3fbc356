package clients

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"campuslib/internal/catalog"
	"campuslib/internal/circulation"
	"campuslib/internal/config"
	"campuslib/internal/httpapi"
	"campuslib/internal/library"
	"campuslib/internal/membership"
	"campuslib/internal/rating"
	"campuslib/internal/store/storetest"
)

func newServer(t *testing.T) *Client {
	t.Helper()
	logger := zaptest.NewLogger(t)
	app, err := httpapi.NewApp(config.Default(), storetest.New(t), httpapi.Infra{}, logger)
	require.NoError(t, err)
	_, err = app.Membership.EnsureLibrarian(context.Background(), "acervo@uni.test", "estante-secreta")
	require.NoError(t, err)

	srv := httptest.NewServer(httpapi.NewRouter(app, logger))
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "")
}

func TestClientLendingFlow(t *testing.T) {
	ctx := context.Background()
	anon := newServer(t)

	librarian, _, err := anon.Login(ctx, "acervo@uni.test", "estante-secreta")
	require.NoError(t, err)
	item, err := librarian.AddItem(ctx, catalog.NewItem{
		ISBN: "9788535910663", Title: "Esaú e Jacó", Author: "Machado de Assis", Genre: "Romance", TotalCopies: 1,
	})
	require.NoError(t, err)

	_, err = anon.Register(ctx, membership.Registration{
		Name: "Flora", Email: "flora@uni.test", Password: "pedro-paulo", Role: membership.RoleStudent,
		EnrollmentID: "E-100", Course: "Letras",
	})
	require.NoError(t, err)
	flora, user, err := anon.Login(ctx, "flora@uni.test", "pedro-paulo")
	require.NoError(t, err)
	assert.NotEmpty(t, flora.Token())

	loan, err := flora.Borrow(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, circulation.StatusActive, loan.Status)

	renewed, err := flora.Renew(ctx, loan.ID, 3)
	require.NoError(t, err)
	assert.True(t, renewed.DueAt.Equal(loan.DueAt.AddDate(0, 0, 3)))
	assert.Equal(t, 1, renewed.RenewalCount)

	open, err := flora.Loans(ctx, user.ID, true)
	require.NoError(t, err)
	require.Len(t, open, 1)

	// Only librarians may backdate.
	_, err = flora.Return(ctx, loan.ID, time.Now().Add(-time.Minute), "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)

	returned, err := flora.Return(ctx, loan.ID, time.Time{}, "")
	require.NoError(t, err)
	assert.Equal(t, circulation.StatusReturned, returned.Status)

	_, err = flora.Rate(ctx, item.ID, rating.NewRating{Score: 4})
	require.NoError(t, err)
	summary, err := flora.RatingSummary(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.0, summary.Average)

	stats, err := librarian.LoanStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Returned)

	report, err := librarian.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.Passed)

	results, err := librarian.Sweep(ctx)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	_, err = flora.Sweep(ctx)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestClientAccountAndLibraries(t *testing.T) {
	ctx := context.Background()
	anon := newServer(t)

	librarian, _, err := anon.Login(ctx, "acervo@uni.test", "estante-secreta")
	require.NoError(t, err)
	central, err := librarian.CreateLibrary(ctx, library.NewLibrary{
		Code: "central", Name: "Biblioteca Central", Address: "Praça da Reitoria, 1",
		Phone: "1133334444", Email: "central@uni.test",
	})
	require.NoError(t, err)
	assert.Equal(t, library.StatusOpen, central.Status)

	found, err := librarian.FindLibrary(ctx, "Biblioteca Central")
	require.NoError(t, err)
	assert.Equal(t, central.ID, found.ID)

	_, err = librarian.SetLibraryStatus(ctx, central.ID, library.StatusMaintenance)
	require.NoError(t, err)
	open, err := librarian.Libraries(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, open)

	_, err = anon.Register(ctx, membership.Registration{
		Name: "Capitu", Email: "capitu@uni.test", Password: "olhos-de-ressaca", Role: membership.RoleStudent,
		EnrollmentID: "E-200", Course: "Letras",
	})
	require.NoError(t, err)
	capitu, user, err := anon.Login(ctx, "capitu@uni.test", "olhos-de-ressaca")
	require.NoError(t, err)

	require.NoError(t, capitu.ChangePassword(ctx, user.ID, "olhos-de-ressaca", "cigana-obliqua"))
	_, _, err = anon.Login(ctx, "capitu@uni.test", "olhos-de-ressaca")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	_, _, err = anon.Login(ctx, "capitu@uni.test", "cigana-obliqua")
	require.NoError(t, err)

	unread, err := capitu.UnreadCount(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestClientReportsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"message":"item not found"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "abc").GetItem(context.Background(), uuid.New())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "item not found (HTTP 404)", err.Error())
}

func TestClientRejectsNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Search(context.Background(), "dom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}
