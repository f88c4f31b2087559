// Package notification fans an event update out to the people who hold
// tickets for it.
//
// Recipient computation is idempotent: deliveries are keyed by
// (notification_id, user_id) and inserted with ON CONFLICT DO NOTHING, so a
// crashed or retried fanout never produces duplicates.
package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"ticketly/internal/booking"
	"ticketly/internal/config"
	"ticketly/internal/logger"
	"ticketly/internal/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/uptrace/bun"
)

// Notifier pushes one message to one recipient over an external channel
// (mail, push, websocket). Delivery is best effort; failures are logged and
// the persisted delivery row stays so a later retry can pick it up.
type Notifier interface {
	Deliver(userID, title, message string) error
}

// Publisher puts the raw notification on the event feed for other services.
type Publisher interface {
	Publish(topic, key string, value []byte) error
}

type Service struct {
	db       *bun.DB
	notifier Notifier  // nil disables external delivery
	producer Publisher // nil when the event feed is disabled
	topics   config.TopicConfig
	clock    clockwork.Clock
	logger   *logger.Logger
}

func NewService(db *bun.DB, notifier Notifier, producer Publisher, topics config.TopicConfig, clock clockwork.Clock, log *logger.Logger) *Service {
	return &Service{db: db, notifier: notifier, producer: producer, topics: topics, clock: clock, logger: log}
}

// FanOutEventUpdate notifies everyone holding a ticket for the event. When
// the event has no ticket holders, or eventID is empty (a broadcast), the
// update goes to every active user instead.
func (s *Service) FanOutEventUpdate(ctx context.Context, eventID, title, message string) (*models.Notification, error) {
	return s.fanOut(ctx, eventID, models.NotificationUpdate, title, message)
}

// FanOutReminder sends a reminder to the event's ticket holders.
func (s *Service) FanOutReminder(ctx context.Context, eventID, title, message string) (*models.Notification, error) {
	return s.fanOut(ctx, eventID, models.NotificationReminder, title, message)
}

func (s *Service) fanOut(ctx context.Context, eventID string, typ models.NotificationType, title, message string) (*models.Notification, error) {
	now := s.clock.Now()
	notif := &models.Notification{
		ID:        uuid.NewString(),
		EventID:   eventID,
		Type:      typ,
		Title:     title,
		Message:   message,
		CreatedAt: now,
	}

	var recipients []string
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if eventID != "" {
			exists, err := tx.NewSelect().
				Model((*models.Event)(nil)).
				Where("id = ?", eventID).
				Exists(ctx)
			if err != nil {
				return err
			}
			if !exists {
				return booking.ErrEventNotFound
			}
		}

		if _, err := tx.NewInsert().Model(notif).Exec(ctx); err != nil {
			return err
		}

		var err error
		recipients, err = s.recipients(ctx, tx, eventID)
		if err != nil {
			return err
		}

		return s.insertDeliveries(ctx, tx, notif.ID, recipients)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("NOTIFY", fmt.Sprintf("notification %s (%s) fanned out to %d recipients", notif.ID, typ, len(recipients)))
	s.deliver(notif, recipients)
	s.publish(notif)
	return notif, nil
}

// Refanout recomputes recipients for an existing notification and fills any
// delivery gaps. Safe to call any number of times.
func (s *Service) Refanout(ctx context.Context, notificationID string) error {
	var notif models.Notification
	var recipients []string

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(&notif).
			Where("id = ?", notificationID).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return booking.ErrNotificationNotFound
		}
		if err != nil {
			return err
		}

		recipients, err = s.recipients(ctx, tx, notif.EventID)
		if err != nil {
			return err
		}
		return s.insertDeliveries(ctx, tx, notif.ID, recipients)
	})
	if err != nil {
		return err
	}

	s.logger.Info("NOTIFY", fmt.Sprintf("notification %s re-fanned to %d recipients", notif.ID, len(recipients)))
	s.deliver(&notif, recipients)
	return nil
}

// recipients returns the distinct ticket holders for the event, or every
// active user when the event has none (or no event is targeted).
func (s *Service) recipients(ctx context.Context, tx bun.Tx, eventID string) ([]string, error) {
	var ids []string

	if eventID != "" {
		err := tx.NewSelect().
			Model((*models.Ticket)(nil)).
			ColumnExpr("DISTINCT user_id").
			Where("event_id = ?", eventID).
			Scan(ctx, &ids)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			return ids, nil
		}
	}

	err := tx.NewSelect().
		Model((*models.User)(nil)).
		Column("id").
		Where("is_active = ?", true).
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Service) insertDeliveries(ctx context.Context, tx bun.Tx, notificationID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	now := s.clock.Now()
	deliveries := make([]models.NotificationDelivery, len(userIDs))
	for i, uid := range userIDs {
		deliveries[i] = models.NotificationDelivery{
			NotificationID: notificationID,
			UserID:         uid,
			CreatedAt:      now,
		}
	}
	_, err := tx.NewInsert().
		Model(&deliveries).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	return err
}

// ListForUser returns the notifications delivered to a user, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]models.Notification, error) {
	var notifs []models.Notification
	err := s.db.NewSelect().
		Model(&notifs).
		Join("JOIN notification_deliveries AS d ON d.notification_id = notification.id").
		Where("d.user_id = ?", userID).
		Order("notification.created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return notifs, nil
}

// MarkRead stamps the user's delivery of a notification.
func (s *Service) MarkRead(ctx context.Context, notificationID, userID string) error {
	res, err := s.db.NewUpdate().
		Model((*models.NotificationDelivery)(nil)).
		Set("read_at = ?", s.clock.Now()).
		Where("notification_id = ?", notificationID).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return booking.ErrNotificationNotFound
	}
	return nil
}

func (s *Service) deliver(notif *models.Notification, userIDs []string) {
	if s.notifier == nil {
		return
	}
	for _, uid := range userIDs {
		if err := s.notifier.Deliver(uid, notif.Title, notif.Message); err != nil {
			s.logger.Warn("NOTIFY", fmt.Sprintf("deliver notification %s to user %s: %v", notif.ID, uid, err))
		}
	}
}

func (s *Service) publish(notif *models.Notification) {
	if s.producer == nil {
		return
	}
	payload, err := json.Marshal(notif)
	if err != nil {
		s.logger.Error("NOTIFY", fmt.Sprintf("marshal notification %s: %v", notif.ID, err))
		return
	}
	key := notif.EventID
	if key == "" {
		key = notif.ID
	}
	if err := s.producer.Publish(s.topics.EventUpdated, key, payload); err != nil {
		s.logger.Error("NOTIFY", fmt.Sprintf("publish notification %s: %v", notif.ID, err))
	}
}
