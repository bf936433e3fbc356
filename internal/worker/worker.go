// Package worker runs the background processing of the library: the
// notification consumer and the periodic lending sweeps.
package worker

import (
	"context"

	"go.uber.org/zap"

	"campuslib/internal/apperr"
	"campuslib/internal/notification"
)

// NotificationWorker stores notifications consumed from Kafka in the inbox.
type NotificationWorker struct {
	consumer *notification.Consumer
	inbox    notification.Service
	logger   *zap.Logger
}

func NewNotificationWorker(consumer *notification.Consumer, inbox notification.Service, logger *zap.Logger) *NotificationWorker {
	return &NotificationWorker{
		consumer: consumer,
		inbox:    inbox,
		logger:   logger.Named("notification_worker"),
	}
}

// Start consumes until ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("starting notification worker")
	return w.consumer.StartConsuming(ctx, w.handle)
}

func (w *NotificationWorker) Stop() error {
	w.logger.Info("stopping notification worker")
	return w.consumer.Close()
}

// handle stores n. Invalid notifications are dropped so they do not block
// the partition; storage failures are returned for redelivery.
func (w *NotificationWorker) handle(ctx context.Context, n notification.Notification) error {
	stored, err := w.inbox.Create(ctx, n)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindValidation {
			w.logger.Warn("dropping invalid notification", zap.Stringer("id", n.ID), zap.Error(err))
			return nil
		}
		return err
	}
	w.logger.Debug("notification stored",
		zap.Stringer("id", stored.ID),
		zap.Stringer("user_id", stored.UserID),
		zap.String("type", string(stored.Type)),
	)
	return nil
}
