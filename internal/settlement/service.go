// Package settlement converts a user's unpaid tickets for an event into paid
// state through one committed Payment.
//
// The whole settlement (payment row, ticket states, discount usage, user
// spend, counter recount) is a single transaction. Either everything commits
// or nothing does; a payment whose tickets stayed unpaid must never be
// observable.
package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ticketly/internal/booking"
	"ticketly/internal/config"
	"ticketly/internal/discount"
	"ticketly/internal/logger"
	"ticketly/internal/models"
	"ticketly/internal/trending"
	"ticketly/internal/utils"

	"github.com/jonboulle/clockwork"
	"github.com/uptrace/bun"
)

type Publisher interface {
	PublishTicketEvent(topic string, ev models.TicketEvent) error
}

type Service struct {
	db        *bun.DB
	locks     booking.Locker
	validator *discount.Validator
	trending  *trending.Service
	producer  Publisher // nil when the event feed is disabled
	topics    config.TopicConfig
	clock     clockwork.Clock
	logger    *logger.Logger
}

func NewService(db *bun.DB, locks booking.Locker, validator *discount.Validator, tr *trending.Service,
	producer Publisher, topics config.TopicConfig, clock clockwork.Clock, log *logger.Logger) *Service {
	return &Service{
		db:        db,
		locks:     locks,
		validator: validator,
		trending:  tr,
		producer:  producer,
		topics:    topics,
		clock:     clock,
		logger:    log,
	}
}

// Settle aggregates every unpaid ticket the user holds for the event into one
// settled Payment. discountCode is optional; when given, its rejection is a
// hard failure because the caller explicitly asked for it.
func (s *Service) Settle(ctx context.Context, userID, eventID, discountCode string) (*models.Payment, error) {
	releaseEvent, err := s.locks.Lock(ctx, "event:"+eventID)
	if err != nil {
		return nil, fmt.Errorf("acquire event lock: %w", err)
	}
	defer releaseEvent()

	releaseUser, err := s.locks.Lock(ctx, "user:"+userID)
	if err != nil {
		return nil, fmt.Errorf("acquire user lock: %w", err)
	}
	defer releaseUser()

	now := s.clock.Now()
	var payment models.Payment
	var tickets []models.Ticket

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var event models.Event
		err := tx.NewSelect().
			Model(&event).
			Where("id = ?", eventID).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return booking.ErrEventNotFound
		}
		if err != nil {
			return err
		}

		var user models.User
		err = tx.NewSelect().
			Model(&user).
			Where("id = ?", userID).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return booking.ErrUserNotFound
		}
		if err != nil {
			return err
		}

		err = tx.NewSelect().
			Model(&tickets).
			Where("user_id = ?", userID).
			Where("event_id = ?", eventID).
			Where("status = ?", models.TicketUnpaid).
			Scan(ctx)
		if err != nil {
			return err
		}
		if len(tickets) == 0 {
			return booking.ErrNoUnpaidTickets
		}

		total := float64(len(tickets)) * event.TicketPrice

		if discountCode != "" {
			total, err = s.redeemDiscount(ctx, tx, discountCode, &user, now, total)
			if err != nil {
				return err
			}
		}

		payment = models.Payment{
			ID:            utils.GeneratePaymentID(),
			UserID:        userID,
			EventID:       eventID,
			Amount:        total,
			Status:        models.PaymentSettled,
			DiscountCode:  discountCode,
			TransactionID: utils.GenerateTransactionID(),
			PaidAt:        now,
			CreatedAt:     now,
		}
		if _, err := tx.NewInsert().Model(&payment).Exec(ctx); err != nil {
			return err
		}

		ticketIDs := make([]string, len(tickets))
		for i, t := range tickets {
			ticketIDs[i] = t.ID
		}
		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.TicketPaid).
			Set("paid_at = ?", now).
			Set("payment_id = ?", payment.ID).
			Where("id IN (?)", bun.In(ticketIDs)).
			Where("status = ?", models.TicketUnpaid).
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows != int64(len(ticketIDs)) {
			// A collected ticket changed state under the settlement.
			s.logger.Alert("SETTLEMENT", fmt.Sprintf(
				"settlement %s expected to pay %d tickets, paid %d", payment.ID, len(ticketIDs), rows))
			return booking.ErrInconsistentState
		}

		_, err = tx.NewUpdate().
			Model((*models.User)(nil)).
			Set("total_spent = total_spent + ?", total).
			Where("id = ?", userID).
			Exec(ctx)
		if err != nil {
			return err
		}

		return s.trending.SyncCounters(ctx, tx, eventID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.LogSettlement("SETTLE", payment.ID, fmt.Sprintf(
		"%d tickets settled for user %s, amount %.2f", len(tickets), userID, payment.Amount))
	s.publishPaid(tickets, now)
	s.recomputeScores(eventID)
	return &payment, nil
}

// redeemDiscount validates the code and claims one use. The used_count
// increment is conditional on the cap inside this same transaction, so two
// settlements racing for the last redemption cannot both pass.
func (s *Service) redeemDiscount(ctx context.Context, tx bun.Tx, code string, user *models.User, now time.Time, total float64) (float64, error) {
	var dc models.DiscountCode
	err := tx.NewSelect().
		Model(&dc).
		Where("code = ?", code).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &booking.DiscountError{Code: code, Kind: booking.DiscountNotFound}
	}
	if err != nil {
		return 0, err
	}

	if err := s.validator.Validate(&dc, user, now); err != nil {
		return 0, err
	}

	res, err := tx.NewUpdate().
		Model((*models.DiscountCode)(nil)).
		Set("used_count = used_count + 1").
		Where("code = ?", code).
		Where("is_active = ?", true).
		Where("max_uses = 0 OR used_count < max_uses").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		// Validation passed on the read, so a concurrent settlement just
		// claimed the last remaining use.
		return 0, &booking.DiscountError{Code: code, Kind: booking.DiscountUsageExceeded}
	}

	return discount.Apply(total, &dc), nil
}

// FlipPaymentStatus is the administrative correction path. Flipping a
// payment also flips its tickets, and the user's spend is recomputed from
// the settled payments themselves rather than patched by a delta.
func (s *Service) FlipPaymentStatus(ctx context.Context, paymentID string, settled bool) (*models.Payment, error) {
	// The lock keys come from the payment row, so read it once up front;
	// the transaction re-reads it under the locks.
	ref, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	releaseEvent, err := s.locks.Lock(ctx, "event:"+ref.EventID)
	if err != nil {
		return nil, fmt.Errorf("acquire event lock: %w", err)
	}
	defer releaseEvent()

	releaseUser, err := s.locks.Lock(ctx, "user:"+ref.UserID)
	if err != nil {
		return nil, fmt.Errorf("acquire user lock: %w", err)
	}
	defer releaseUser()

	var payment models.Payment

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(&payment).
			Where("id = ?", paymentID).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return booking.ErrPaymentNotFound
		}
		if err != nil {
			return err
		}

		target := models.PaymentUnsettled
		if settled {
			target = models.PaymentSettled
		}
		if payment.Status == target {
			return nil
		}
		payment.Status = target

		now := s.clock.Now()
		update := tx.NewUpdate().
			Model((*models.Payment)(nil)).
			Set("status = ?", target).
			Where("id = ?", paymentID)
		if settled {
			update = update.Set("paid_at = ?", now)
			payment.PaidAt = now
		}
		if _, err := update.Exec(ctx); err != nil {
			return err
		}

		ticketUpdate := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Where("payment_id = ?", paymentID)
		if settled {
			ticketUpdate = ticketUpdate.
				Set("status = ?", models.TicketPaid).
				Set("paid_at = ?", now).
				Where("status = ?", models.TicketUnpaid)
		} else {
			ticketUpdate = ticketUpdate.
				Set("status = ?", models.TicketUnpaid).
				Set("paid_at = NULL").
				Where("status = ?", models.TicketPaid)
		}
		if _, err := ticketUpdate.Exec(ctx); err != nil {
			return err
		}

		// Recompute from source of truth: total_spent must equal the sum of
		// this user's settled payment amounts.
		_, err = tx.NewUpdate().
			Model((*models.User)(nil)).
			Set("total_spent = (SELECT COALESCE(SUM(amount), 0) FROM payments WHERE user_id = ? AND status = ?)",
				payment.UserID, models.PaymentSettled).
			Where("id = ?", payment.UserID).
			Exec(ctx)
		if err != nil {
			return err
		}

		return s.trending.SyncCounters(ctx, tx, payment.EventID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.LogSettlement("FLIP", paymentID, fmt.Sprintf("status now %s", payment.Status))
	s.recomputeScores(payment.EventID)
	return &payment, nil
}

// GetPayment returns one payment by id.
func (s *Service) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.NewSelect().
		Model(&payment).
		Where("id = ?", paymentID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (s *Service) publishPaid(tickets []models.Ticket, at time.Time) {
	if s.producer == nil {
		return
	}
	for _, t := range tickets {
		ev := models.TicketEvent{
			Type:     "ticket.paid",
			TicketID: t.ID,
			EventID:  t.EventID,
			UserID:   t.UserID,
			At:       at,
		}
		if err := s.producer.PublishTicketEvent(s.topics.TicketPaid, ev); err != nil {
			s.logger.Error("SETTLEMENT", fmt.Sprintf("publish ticket.paid for %s: %v", t.ID, err))
		}
	}
}

// recomputeScores refreshes the eventually consistent scores right away. The
// event feed repeats the recompute on the consumer side, so a failure here
// only delays convergence.
func (s *Service) recomputeScores(eventID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.trending.RecomputeScores(ctx, eventID); err != nil {
		s.logger.Error("SETTLEMENT", fmt.Sprintf("score recompute for event %s: %v", eventID, err))
	}
}
