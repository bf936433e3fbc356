package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"campuslib/internal/store"
	"campuslib/internal/telemetry"
)

// Sink delivers notifications somewhere durable or to another process.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// StoreSink writes notifications straight into the inbox table.
type StoreSink struct {
	repo *Repository
}

func NewStoreSink(repo *Repository) *StoreSink {
	return &StoreSink{repo: repo}
}

func (s *StoreSink) Notify(ctx context.Context, n Notification) error {
	return s.repo.Insert(ctx, &n)
}

// Fanout hands every notification to all sinks and joins their errors.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range f {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Notifier is the fire-and-forget front of a sink: failures are logged and
// counted, never returned, so they cannot undo the operation that caused them.
type Notifier struct {
	sink    Sink
	logger  *zap.Logger
	now     func() time.Time
	timeout time.Duration
}

func NewNotifier(sink Sink, logger *zap.Logger) *Notifier {
	return &Notifier{
		sink:    sink,
		logger:  logger.Named("notifier"),
		now:     store.Now,
		timeout: 5 * time.Second,
	}
}

// Send validates and delivers n. The caller's cancellation does not abort
// delivery of an already committed change.
func (n *Notifier) Send(ctx context.Context, msg Notification) {
	if n == nil || n.sink == nil {
		return
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = n.now()
	}
	if err := msg.Validate(); err != nil {
		n.fail("validation", msg, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	if err := n.sink.Notify(ctx, msg); err != nil {
		n.fail(fmt.Sprintf("%T", n.sink), msg, err)
		return
	}
	telemetry.NotificationsSentTotal.WithLabelValues(string(msg.Type)).Inc()
}

func (n *Notifier) fail(sink string, msg Notification, err error) {
	telemetry.NotificationFailuresTotal.WithLabelValues(sink).Inc()
	n.logger.Warn("notification not delivered",
		zap.String("sink", sink),
		zap.Stringer("user_id", msg.UserID),
		zap.String("type", string(msg.Type)),
		zap.Error(err),
	)
}
