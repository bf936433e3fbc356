package notification

import (
	"context"
	"time"

	"github.com/google/uuid"

	"campuslib/internal/store"
)

// Service is the user's notification inbox.
type Service interface {
	Create(ctx context.Context, n Notification) (*Notification, error)
	Get(ctx context.Context, id uuid.UUID) (*Notification, error)
	List(ctx context.Context, userID uuid.UUID, unreadOnly bool) ([]*Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
	Archive(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type service struct {
	db   *store.DB
	repo *Repository
	now  func() time.Time
}

func NewService(db *store.DB, repo *Repository) Service {
	return &service{db: db, repo: repo, now: store.Now}
}

// Create validates and stores n. It is the entry point of the Kafka consumer.
func (s *service) Create(ctx context.Context, n Notification) (*Notification, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Status == "" {
		n.Status = StatusUnread
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Insert(ctx, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return s.repo.Get(ctx, id)
}

func (s *service) List(ctx context.Context, userID uuid.UUID, unreadOnly bool) ([]*Notification, error) {
	return s.repo.List(ctx, userID, unreadOnly)
}

func (s *service) MarkRead(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, StatusRead)
}

func (s *service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID, s.now())
}

func (s *service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

func (s *service) Archive(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, StatusArchived)
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	found, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *service) setStatus(ctx context.Context, id uuid.UUID, status Status) error {
	found, err := s.repo.SetStatus(ctx, s.db, id, status, s.now())
	if err != nil {
		return err
	}
	if !found {
		return ErrNotificationNotFound
	}
	return nil
}
