package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"campuslib/internal/catalog"
	"campuslib/internal/circulation"
	"campuslib/internal/library"
	"campuslib/internal/membership"
	"campuslib/internal/notification"
	"campuslib/internal/rating"
	"campuslib/internal/reservation"
	"campuslib/internal/web"
)

// NewRouter mounts every endpoint of the library API.
func NewRouter(app *App, logger *zap.Logger) http.Handler {
	users := membership.NewHandler(app.Membership)
	items := catalog.NewHandler(app.Catalog)
	libraries := library.NewHandler(app.Libraries)
	loans := circulation.NewHandler(app.Loans)
	reservations := reservation.NewHandler(app.Reservations)
	ratings := rating.NewHandler(app.Ratings)
	inbox := notification.NewHandler(app.Inbox)
	admin := &adminHandler{app: app}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(web.Metrics)
	r.Use(web.RequestLogger(logger.Named("http")))

	r.Get("/health", admin.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		users.AuthRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(web.Authenticate(app.Tokens.Principal))

			users.UserRoutes(r)
			items.PublicRoutes(r)
			libraries.PublicRoutes(r)
			loans.Routes(r)
			reservations.Routes(r)
			ratings.Routes(r)
			inbox.Routes(r)

			r.Group(func(r chi.Router) {
				r.Use(web.RequireRole(web.RoleLibrarian))

				users.LibrarianRoutes(r)
				items.LibrarianRoutes(r)
				libraries.LibrarianRoutes(r)
				loans.LibrarianRoutes(r)
				r.Get("/admin/audit", admin.handleAudit)
				r.Post("/admin/sweep", admin.handleSweep)
			})
		})
	})
	return r
}
