// Package ledger owns ticket state transitions: unpaid → paid → checked_in,
// plus administrative deletion. Every successful transition recounts the
// event's derived counters in the same transaction and then streams a domain
// event for the score aggregator.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ticketly/internal/booking"
	"ticketly/internal/config"
	"ticketly/internal/logger"
	"ticketly/internal/models"
	"ticketly/internal/trending"

	"github.com/jonboulle/clockwork"
	"github.com/uptrace/bun"
)

// Publisher streams ticket transitions to the event feed.
type Publisher interface {
	PublishTicketEvent(topic string, ev models.TicketEvent) error
}

type Service struct {
	db       *bun.DB
	trending *trending.Service
	producer Publisher // nil when the event feed is disabled
	topics   config.TopicConfig
	clock    clockwork.Clock
	logger   *logger.Logger
}

func NewService(db *bun.DB, tr *trending.Service, producer Publisher, topics config.TopicConfig, clock clockwork.Clock, log *logger.Logger) *Service {
	return &Service{db: db, trending: tr, producer: producer, topics: topics, clock: clock, logger: log}
}

// MarkPaid flips a ticket to paid. Idempotent: a ticket that is already paid
// (or checked in) is left untouched and no error is returned.
func (s *Service) MarkPaid(ctx context.Context, ticketID string, paidAt time.Time) error {
	var ticket models.Ticket
	transitioned := false

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(&ticket).
			Where("id = ?", ticketID).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return booking.ErrTicketNotFound
		}
		if err != nil {
			return err
		}

		if ticket.IsPaid() {
			return nil
		}

		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.TicketPaid).
			Set("paid_at = ?", paidAt).
			Where("id = ?", ticketID).
			Where("status = ?", models.TicketUnpaid).
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			// Lost to a concurrent MarkPaid; same outcome, still a no-op.
			return nil
		}

		transitioned = true
		return s.trending.SyncCounters(ctx, tx, ticket.EventID)
	})
	if err != nil {
		return err
	}

	if transitioned {
		s.publish(s.topics.TicketPaid, "ticket.paid", &ticket)
	}
	return nil
}

// CheckIn moves a paid ticket to its terminal state. It fails with ErrNotPaid
// or ErrAlreadyCheckedIn without touching the ticket.
func (s *Service) CheckIn(ctx context.Context, ticketID string) error {
	var ticket models.Ticket

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(&ticket).
			Where("id = ?", ticketID).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return booking.ErrTicketNotFound
		}
		if err != nil {
			return err
		}

		switch ticket.Status {
		case models.TicketUnpaid:
			return booking.ErrNotPaid
		case models.TicketCheckedIn:
			return booking.ErrAlreadyCheckedIn
		}

		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.TicketCheckedIn).
			Set("checked_in_at = ?", s.clock.Now()).
			Where("id = ?", ticketID).
			Where("status = ?", models.TicketPaid).
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return booking.ErrAlreadyCheckedIn
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(s.topics.TicketCheckedIn, "ticket.checked_in", &ticket)
	return nil
}

// Delete removes a ticket (administrative path) and recounts the event's
// counters from source state so any drift self-heals.
func (s *Service) Delete(ctx context.Context, ticketID string) error {
	var ticket models.Ticket

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(&ticket).
			Where("id = ?", ticketID).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return booking.ErrTicketNotFound
		}
		if err != nil {
			return err
		}

		_, err = tx.NewDelete().
			Model((*models.Ticket)(nil)).
			Where("id = ?", ticketID).
			Exec(ctx)
		if err != nil {
			return err
		}

		return s.trending.SyncCounters(ctx, tx, ticket.EventID)
	})
	if err != nil {
		return err
	}

	s.publish(s.topics.TicketDeleted, "ticket.deleted", &ticket)
	return nil
}

// Get returns one ticket by id.
func (s *Service) Get(ctx context.Context, ticketID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.db.NewSelect().
		Model(&ticket).
		Where("id = ?", ticketID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (s *Service) publish(topic, eventType string, ticket *models.Ticket) {
	if s.producer == nil {
		return
	}
	ev := models.TicketEvent{
		Type:     eventType,
		TicketID: ticket.ID,
		EventID:  ticket.EventID,
		UserID:   ticket.UserID,
		At:       s.clock.Now(),
	}
	if err := s.producer.PublishTicketEvent(topic, ev); err != nil {
		s.logger.Error("LEDGER", fmt.Sprintf("publish %s for ticket %s: %v", eventType, ticket.ID, err))
	}
}
