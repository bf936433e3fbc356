package rating

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"campuslib/internal/catalog"
	"campuslib/internal/circulation"
	"campuslib/internal/membership"
	"campuslib/internal/store"
)

type service struct {
	db      *store.DB
	ratings *Repository
	users   *membership.Repository
	items   *catalog.Repository
	loans   *circulation.Repository
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates a rating service. Loan links are checked against loans.
func NewService(db *store.DB, ratings *Repository, users *membership.Repository, items *catalog.Repository, loans *circulation.Repository, logger *zap.Logger) Service {
	return &service{
		db:      db,
		ratings: ratings,
		users:   users,
		items:   items,
		loans:   loans,
		logger:  logger.Named("rating"),
		now:     store.Now,
	}
}

func (s *service) Rate(ctx context.Context, userID, itemID uuid.UUID, in NewRating) (*Rating, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.users.Get(ctx, s.db, userID); err != nil {
		return nil, err
	}

	now := s.now()
	rt := &Rating{
		ID:        uuid.New(),
		ItemID:    itemID,
		UserID:    userID,
		Score:     in.Score,
		Comment:   in.Comment,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.items.Get(ctx, tx, itemID); err != nil {
			return err
		}
		if in.LoanID != nil {
			loan, err := s.loans.Get(ctx, tx, *in.LoanID)
			if err != nil {
				return err
			}
			if loan.UserID != userID || loan.ItemID != itemID {
				return ErrLoanMismatch
			}
			rt.LoanID = uuid.NullUUID{UUID: loan.ID, Valid: true}
		}

		rated, err := s.ratings.HasActive(ctx, tx, userID, itemID)
		if err != nil {
			return err
		}
		if rated {
			return ErrAlreadyRated
		}
		return s.ratings.Insert(ctx, tx, rt)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("item rated",
		zap.Stringer("rating_id", rt.ID),
		zap.Stringer("item_id", itemID),
		zap.Int("score", rt.Score),
	)
	return rt, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Rating, error) {
	return s.ratings.Get(ctx, s.db, id)
}

// Remove soft-deletes the rating so the user may rate the item again.
func (s *service) Remove(ctx context.Context, id uuid.UUID) error {
	rt, err := s.ratings.Get(ctx, s.db, id)
	if err != nil {
		return err
	}
	rt.UpdatedAt = s.now()
	removed, err := s.ratings.Deactivate(ctx, s.db, rt)
	if err != nil {
		return err
	}
	if !removed {
		return ErrRatingNotFound
	}
	s.logger.Info("rating removed", zap.Stringer("rating_id", id))
	return nil
}

func (s *service) ListForItem(ctx context.Context, itemID uuid.UUID) ([]*Rating, error) {
	if _, err := s.items.Get(ctx, s.db, itemID); err != nil {
		return nil, err
	}
	return s.ratings.ListByItem(ctx, itemID)
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID) ([]*Rating, error) {
	return s.ratings.ListByUser(ctx, userID)
}

func (s *service) Summary(ctx context.Context, itemID uuid.UUID) (*Summary, error) {
	if _, err := s.items.Get(ctx, s.db, itemID); err != nil {
		return nil, err
	}
	count, sum, err := s.ratings.Totals(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return &Summary{ItemID: itemID, Average: average(sum, count), Count: count}, nil
}

// average rounds half away from zero to one decimal place.
func average(sum, count int) float64 {
	if count == 0 {
		return 0
	}
	avg := decimal.NewFromInt(int64(sum)).DivRound(decimal.NewFromInt(int64(count)), 1)
	return avg.InexactFloat64()
}
