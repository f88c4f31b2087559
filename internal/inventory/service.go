// Package inventory admits or denies ticket reservations against event
// capacity.
//
// Admission is serialized per event id: the service takes the event's key
// lock, then inserts the ticket with a conditional statement that re-checks
// capacity inside the same transaction. A reservation in any state counts
// against capacity (soft hold), so an event can never hold more live tickets
// than total_tickets regardless of how many remain unpaid.
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ticketly/internal/booking"
	"ticketly/internal/logger"
	"ticketly/internal/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/uptrace/bun"
)

// IdentifierRenderer turns a ticket serial into its scannable form.
type IdentifierRenderer interface {
	RenderIdentifier(serial string) ([]byte, error)
}

type Service struct {
	db       *bun.DB
	locks    booking.Locker
	renderer IdentifierRenderer
	clock    clockwork.Clock
	logger   *logger.Logger
}

func NewService(db *bun.DB, locks booking.Locker, renderer IdentifierRenderer, clock clockwork.Clock, log *logger.Logger) *Service {
	return &Service{db: db, locks: locks, renderer: renderer, clock: clock, logger: log}
}

// Reserve admits one ticket for user against the event's capacity. The new
// ticket starts unpaid; sold_tickets is untouched because it counts paid
// tickets only.
func (s *Service) Reserve(ctx context.Context, eventID, userID string) (*models.Ticket, error) {
	release, err := s.locks.Lock(ctx, "event:"+eventID)
	if err != nil {
		return nil, fmt.Errorf("acquire reservation lock: %w", err)
	}
	defer release()

	serial := uuid.NewString()
	qrBytes, err := s.renderer.RenderIdentifier(serial)
	if err != nil {
		return nil, fmt.Errorf("render ticket identifier: %w", err)
	}

	ticket := &models.Ticket{
		ID:        uuid.NewString(),
		EventID:   eventID,
		UserID:    userID,
		Serial:    serial,
		QRCode:    qrBytes,
		Status:    models.TicketUnpaid,
		CreatedAt: s.clock.Now(),
	}

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
		if !event.IsActive || s.clock.Now().After(event.EndTime) {
			return booking.ErrEventInactive
		}

		exists, err := tx.NewSelect().
			Model((*models.User)(nil)).
			Where("id = ?", userID).
			Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return booking.ErrUserNotFound
		}

		// Conditional insert: the capacity check and the ticket creation are
		// one statement, so a plain read-then-insert race cannot oversell
		// even without the key lock.
		res, err := tx.NewRaw(`
			INSERT INTO tickets (id, event_id, user_id, serial, qr_code, status, created_at)
			SELECT ?, ?, ?, ?, ?, ?, ?
			WHERE (SELECT COUNT(*) FROM tickets WHERE event_id = ?) < ?`,
			ticket.ID, ticket.EventID, ticket.UserID, ticket.Serial,
			ticket.QRCode, ticket.Status, ticket.CreatedAt,
			eventID, event.TotalTickets,
		).Exec(ctx)
		if err != nil {
			return err
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			count, err := tx.NewSelect().
				Model((*models.Ticket)(nil)).
				Where("event_id = ?", eventID).
				Count(ctx)
			if err != nil {
				return err
			}
			if count >= event.TotalTickets {
				return booking.ErrCapacityExceeded
			}
			// Capacity was free, yet the insert lost: a concurrent admission
			// slipped between the check and the write. Caller retries.
			return booking.ErrInventoryRace
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.LogInventory("RESERVE", eventID, fmt.Sprintf("ticket %s reserved for user %s", ticket.ID, userID))
	return ticket, nil
}

// Remaining reports how many tickets are still reservable for the event.
func (s *Service) Remaining(ctx context.Context, eventID string) (int, error) {
	var event models.Event
	err := s.db.NewSelect().
		Model(&event).
		Where("id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, booking.ErrEventNotFound
	}
	if err != nil {
		return 0, err
	}

	count, err := s.db.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("event_id = ?", eventID).
		Count(ctx)
	if err != nil {
		return 0, err
	}

	remaining := event.TotalTickets - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
