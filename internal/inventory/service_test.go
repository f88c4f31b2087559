package inventory_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"ticketly/internal/booking"
	"ticketly/internal/database/migrations"
	"ticketly/internal/inventory"
	"ticketly/internal/keylock"
	"ticketly/internal/logger"
	"ticketly/internal/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

type stubRenderer struct{}

func (stubRenderer) RenderIdentifier(serial string) ([]byte, error) {
	return []byte("qr:" + serial), nil
}

func setupTestDB(t *testing.T) *bun.DB {
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// One shared connection so every goroutine sees the same in-memory DB.
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, migrations.Bootstrap(context.Background(), bunDB))
	return bunDB
}

func seedEvent(t *testing.T, db *bun.DB, clock clockwork.Clock, capacity int, price float64) *models.Event {
	event := &models.Event{
		ID:           uuid.NewString(),
		OrganizerID:  "org-1",
		Title:        "Test Event",
		StartTime:    clock.Now().Add(24 * time.Hour),
		EndTime:      clock.Now().Add(28 * time.Hour),
		IsActive:     true,
		TotalTickets: capacity,
		TicketPrice:  price,
		CreatedAt:    clock.Now(),
	}
	_, err := db.NewInsert().Model(event).Exec(context.Background())
	require.NoError(t, err)
	return event
}

func seedUser(t *testing.T, db *bun.DB, clock clockwork.Clock, id string) *models.User {
	user := &models.User{
		ID:        id,
		Email:     id + "@test.dev",
		FullName:  "Test User " + id,
		Role:      "attendee",
		IsActive:  true,
		CreatedAt: clock.Now().Add(-30 * 24 * time.Hour),
	}
	_, err := db.NewInsert().Model(user).Exec(context.Background())
	require.NoError(t, err)
	return user
}

func newService(db *bun.DB, clock clockwork.Clock) *inventory.Service {
	return inventory.NewService(db, keylock.New(), stubRenderer{}, clock, logger.NewLogger())
}

func TestReserveWithinCapacity(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newService(db, clock)
	event := seedEvent(t, db, clock, 3, 100)
	seedUser(t, db, clock, "user-1")

	ticket, err := svc.Reserve(context.Background(), event.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.TicketUnpaid, ticket.Status)
	assert.Equal(t, event.ID, ticket.EventID)
	assert.NotEmpty(t, ticket.Serial)
	assert.Equal(t, []byte("qr:"+ticket.Serial), ticket.QRCode)

	// Reserving never moves sold_tickets; that counter tracks paid tickets.
	var stored models.Event
	require.NoError(t, db.NewSelect().Model(&stored).Where("id = ?", event.ID).Scan(context.Background()))
	assert.Equal(t, 0, stored.SoldTickets)

	remaining, err := svc.Remaining(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
}

func TestReserveRejectsWhenFull(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newService(db, clock)
	event := seedEvent(t, db, clock, 2, 100)
	seedUser(t, db, clock, "user-1")

	_, err := svc.Reserve(context.Background(), event.ID, "user-1")
	require.NoError(t, err)
	_, err = svc.Reserve(context.Background(), event.ID, "user-1")
	require.NoError(t, err)

	// Third reservation must fail even though the first two are still unpaid.
	_, err = svc.Reserve(context.Background(), event.ID, "user-1")
	assert.ErrorIs(t, err, booking.ErrCapacityExceeded)

	count, err := db.NewSelect().Model((*models.Ticket)(nil)).Where("event_id = ?", event.ID).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestReserveConcurrentHerd(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newService(db, clock)

	const capacity = 5
	const herd = 20
	event := seedEvent(t, db, clock, capacity, 100)
	seedUser(t, db, clock, "user-1")

	var wg sync.WaitGroup
	results := make([]error, herd)
	for i := 0; i < herd; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Reserve(context.Background(), event.ID, "user-1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, booking.ErrCapacityExceeded)
		}
	}
	assert.Equal(t, capacity, succeeded)

	count, err := db.NewSelect().Model((*models.Ticket)(nil)).Where("event_id = ?", event.ID).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, capacity, count)
}

func TestReserveInactiveEvent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newService(db, clock)
	event := seedEvent(t, db, clock, 10, 100)
	seedUser(t, db, clock, "user-1")

	_, err := db.NewUpdate().
		Model((*models.Event)(nil)).
		Set("is_active = ?", false).
		Where("id = ?", event.ID).
		Exec(context.Background())
	require.NoError(t, err)

	_, err = svc.Reserve(context.Background(), event.ID, "user-1")
	assert.ErrorIs(t, err, booking.ErrEventInactive)
}

func TestReserveEndedEvent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newService(db, clock)
	event := seedEvent(t, db, clock, 10, 100)
	seedUser(t, db, clock, "user-1")

	clock.Advance(72 * time.Hour)

	_, err := svc.Reserve(context.Background(), event.ID, "user-1")
	assert.ErrorIs(t, err, booking.ErrEventInactive)
}

func TestReserveUnknownEventAndUser(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newService(db, clock)
	event := seedEvent(t, db, clock, 10, 100)

	_, err := svc.Reserve(context.Background(), "missing-event", "user-1")
	assert.ErrorIs(t, err, booking.ErrEventNotFound)

	_, err = svc.Reserve(context.Background(), event.ID, "missing-user")
	assert.ErrorIs(t, err, booking.ErrUserNotFound)
}
