// Package httpapi assembles the library services and exposes them over HTTP.
package httpapi

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"campuslib/internal/audit"
	"campuslib/internal/catalog"
	"campuslib/internal/circulation"
	"campuslib/internal/config"
	"campuslib/internal/eventstore"
	"campuslib/internal/library"
	"campuslib/internal/membership"
	"campuslib/internal/notification"
	"campuslib/internal/rating"
	"campuslib/internal/reservation"
	"campuslib/internal/store"
	"campuslib/internal/worker"
)

// Infra carries the optional external collaborators. Nil fields fall back to
// in-process implementations.
type Infra struct {
	Cache reservation.Cache
	Sink  notification.Sink
}

// App is the wired set of library services.
type App struct {
	DB           *store.DB
	Tokens       *membership.TokenIssuer
	Membership   membership.Service
	Catalog      catalog.Service
	Libraries    library.Service
	Loans        circulation.Service
	Reservations reservation.Service
	Ratings      rating.Service
	Inbox        notification.Service
	Auditor      *audit.Auditor
	Sweeper      *worker.Sweeper
}

func NewApp(cfg *config.Config, db *store.DB, infra Infra, logger *zap.Logger) (*App, error) {
	ordering, err := reservation.ParseOrdering(cfg.Circulation.QueueOrdering)
	if err != nil {
		return nil, fmt.Errorf("queue ordering: %w", err)
	}

	es := eventstore.New(db)
	users := membership.NewRepository(db)
	items := catalog.NewRepository(db)
	loans := circulation.NewRepository(db)
	inboxRepo := notification.NewRepository(db)
	libraries := library.NewRepository(db)
	lifecycle := reservation.NewLifecycle(reservation.NewRepository(db, ordering), items, es)

	var cache reservation.Cache = reservation.NewMemoryCache()
	if infra.Cache != nil {
		cache = infra.Cache
	}
	// Every writer invalidates through the one guard.
	guard := reservation.NewGuardedCache(cache)
	sink := infra.Sink
	if sink == nil {
		sink = notification.NewStoreSink(inboxRepo)
	}
	notifier := notification.NewNotifier(sink, logger)
	policies := Policies(cfg)

	tokens := membership.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(max(cfg.Auth.LoginRate, 1))), max(cfg.Auth.LoginBurst, 1))

	app := &App{DB: db, Tokens: tokens}
	app.Membership = membership.NewService(db, es, users, tokens, logger,
		membership.WithPolicies(policies),
		membership.WithRateLimiter(limiter),
		membership.OnDeactivate(func(ctx context.Context, userID uuid.UUID) error {
			_, err := app.Reservations.CancelForUser(ctx, userID)
			return err
		}),
	)
	app.Catalog = catalog.NewService(db, es, items, logger,
		catalog.OnRemove(func(ctx context.Context, itemID uuid.UUID) {
			if err := guard.Invalidate(ctx, itemID); err != nil {
				logger.Warn("reservation cache invalidation failed", zap.Stringer("item_id", itemID), zap.Error(err))
			}
		}),
	)
	app.Libraries = library.NewService(db, es, libraries, logger)
	app.Reservations = reservation.NewService(reservation.Deps{
		DB:         db,
		Lifecycle:  lifecycle,
		Users:      users,
		Items:      items,
		Events:     es,
		Policies:   policies,
		Cache:      guard,
		Notifier:   notifier,
		Logger:     logger,
		HoldWindow: cfg.Circulation.HoldWindow,
	})
	app.Loans = circulation.NewService(circulation.Deps{
		DB:           db,
		Loans:        loans,
		Users:        users,
		Items:        items,
		Reservations: lifecycle,
		Libraries:    libraries,
		Cache:        guard,
		Events:       es,
		Policies:     policies,
		Notifier:     notifier,
		Logger:       logger,
		Rules: circulation.Rules{
			LibraryID:      cfg.Circulation.LibraryID,
			DailyFine:      cfg.Circulation.DailyFine,
			RenewalDays:    cfg.Circulation.RenewalDays,
			MaxRenewalDays: cfg.Circulation.MaxRenewalDays,
			MaxRenewals:    cfg.Circulation.MaxRenewals,
			ReminderLead:   cfg.Circulation.ReminderLead,
		},
	})
	app.Inbox = notification.NewService(db, inboxRepo)
	app.Auditor = audit.NewAuditor(db, logger)
	app.Ratings = rating.NewService(db, rating.NewRepository(db), users, items, loans, logger)
	app.Auditor.RegisterDefaults()
	app.Sweeper = worker.NewSweeper(cfg.Circulation.SweepInterval, logger,
		worker.LendingTasks(app.Loans, app.Reservations)...)
	return app, nil
}

// Policies converts the configured role policies.
func Policies(cfg *config.Config) membership.Policies {
	out := membership.Policies{}
	for role, p := range cfg.Roles {
		out[membership.Role(role)] = membership.Policy{
			MaxLoans: p.MaxLoans,
			LoanDays: p.LoanDays,
			Priority: p.Priority,
		}
	}
	return out
}
