package notification_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"ticketly/internal/booking"
	"ticketly/internal/config"
	"ticketly/internal/database/migrations"
	"ticketly/internal/logger"
	"ticketly/internal/models"
	"ticketly/internal/notification"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

type capturingNotifier struct {
	delivered []string
}

func (n *capturingNotifier) Deliver(userID, title, message string) error {
	n.delivered = append(n.delivered, userID)
	return nil
}

type fixture struct {
	db       *bun.DB
	clock    *clockwork.FakeClock
	svc      *notification.Service
	notifier *capturingNotifier
	event    *models.Event
}

func setup(t *testing.T) *fixture {
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, migrations.Bootstrap(context.Background(), db))

	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC))
	notifier := &capturingNotifier{}
	svc := notification.NewService(db, notifier, nil, config.TopicConfig{}, clock, logger.NewLogger())

	ctx := context.Background()
	for _, u := range []models.User{
		{ID: "holder-1", Email: "h1@test.dev", FullName: "Holder One", Role: "attendee", IsActive: true, CreatedAt: clock.Now()},
		{ID: "holder-2", Email: "h2@test.dev", FullName: "Holder Two", Role: "attendee", IsActive: true, CreatedAt: clock.Now()},
		{ID: "bystander", Email: "b@test.dev", FullName: "By Stander", Role: "attendee", IsActive: true, CreatedAt: clock.Now()},
		{ID: "dormant", Email: "d@test.dev", FullName: "Dor Mant", Role: "attendee", IsActive: false, CreatedAt: clock.Now()},
	} {
		user := u
		_, err := db.NewInsert().Model(&user).Exec(ctx)
		require.NoError(t, err)
	}

	event := &models.Event{
		ID: uuid.NewString(), OrganizerID: "org-1", Title: "Notify Event",
		StartTime: clock.Now().Add(24 * time.Hour), EndTime: clock.Now().Add(26 * time.Hour),
		IsActive: true, TotalTickets: 50, TicketPrice: 10, CreatedAt: clock.Now(),
	}
	_, err = db.NewInsert().Model(event).Exec(ctx)
	require.NoError(t, err)

	// holder-1 has two tickets; the recipient set must still list them once.
	for _, owner := range []string{"holder-1", "holder-1", "holder-2"} {
		ticket := &models.Ticket{
			ID: uuid.NewString(), EventID: event.ID, UserID: owner,
			Serial: uuid.NewString(), Status: models.TicketUnpaid, CreatedAt: clock.Now(),
		}
		_, err := db.NewInsert().Model(ticket).Exec(ctx)
		require.NoError(t, err)
	}

	return &fixture{db: db, clock: clock, svc: svc, notifier: notifier, event: event}
}

func (f *fixture) deliveryCount(t *testing.T, notificationID string) int {
	count, err := f.db.NewSelect().
		Model((*models.NotificationDelivery)(nil)).
		Where("notification_id = ?", notificationID).
		Count(context.Background())
	require.NoError(t, err)
	return count
}

func TestFanOutToTicketHolders(t *testing.T) {
	f := setup(t)
	defer f.db.Close()
	ctx := context.Background()

	notif, err := f.svc.FanOutEventUpdate(ctx, f.event.ID, "Venue change", "Moved to Hall B")
	require.NoError(t, err)
	assert.Equal(t, models.NotificationUpdate, notif.Type)

	// Distinct holders only: holder-1 once despite two tickets.
	assert.Equal(t, 2, f.deliveryCount(t, notif.ID))
	assert.ElementsMatch(t, []string{"holder-1", "holder-2"}, f.notifier.delivered)
}

func TestFanOutWithoutHoldersGoesToActiveUsers(t *testing.T) {
	f := setup(t)
	defer f.db.Close()
	ctx := context.Background()

	empty := &models.Event{
		ID: uuid.NewString(), OrganizerID: "org-1", Title: "Empty Event",
		StartTime: f.clock.Now().Add(24 * time.Hour), EndTime: f.clock.Now().Add(26 * time.Hour),
		IsActive: true, TotalTickets: 10, TicketPrice: 10, CreatedAt: f.clock.Now(),
	}
	_, err := f.db.NewInsert().Model(empty).Exec(ctx)
	require.NoError(t, err)

	notif, err := f.svc.FanOutEventUpdate(ctx, empty.ID, "Heads up", "On sale soon")
	require.NoError(t, err)

	// Every active user, never the inactive one.
	assert.Equal(t, 3, f.deliveryCount(t, notif.ID))
	assert.NotContains(t, f.notifier.delivered, "dormant")
}

func TestRefanoutIsIdempotent(t *testing.T) {
	f := setup(t)
	defer f.db.Close()
	ctx := context.Background()

	notif, err := f.svc.FanOutEventUpdate(ctx, f.event.ID, "Venue change", "Moved to Hall B")
	require.NoError(t, err)
	require.Equal(t, 2, f.deliveryCount(t, notif.ID))

	require.NoError(t, f.svc.Refanout(ctx, notif.ID))
	assert.Equal(t, 2, f.deliveryCount(t, notif.ID))
}

func TestRefanoutPicksUpNewHolders(t *testing.T) {
	f := setup(t)
	defer f.db.Close()
	ctx := context.Background()

	notif, err := f.svc.FanOutEventUpdate(ctx, f.event.ID, "Venue change", "Moved to Hall B")
	require.NoError(t, err)

	ticket := &models.Ticket{
		ID: uuid.NewString(), EventID: f.event.ID, UserID: "bystander",
		Serial: uuid.NewString(), Status: models.TicketUnpaid, CreatedAt: f.clock.Now(),
	}
	_, err = f.db.NewInsert().Model(ticket).Exec(ctx)
	require.NoError(t, err)

	require.NoError(t, f.svc.Refanout(ctx, notif.ID))
	assert.Equal(t, 3, f.deliveryCount(t, notif.ID))
}

func TestFanOutUnknownEvent(t *testing.T) {
	f := setup(t)
	defer f.db.Close()

	_, err := f.svc.FanOutEventUpdate(context.Background(), "missing", "x", "y")
	assert.ErrorIs(t, err, booking.ErrEventNotFound)
}

func TestListAndMarkRead(t *testing.T) {
	f := setup(t)
	defer f.db.Close()
	ctx := context.Background()

	notif, err := f.svc.FanOutReminder(ctx, f.event.ID, "Tomorrow", "Doors open 18:00")
	require.NoError(t, err)

	list, err := f.svc.ListForUser(ctx, "holder-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, notif.ID, list[0].ID)
	assert.Equal(t, models.NotificationReminder, list[0].Type)

	require.NoError(t, f.svc.MarkRead(ctx, notif.ID, "holder-1"))

	var delivery models.NotificationDelivery
	require.NoError(t, f.db.NewSelect().
		Model(&delivery).
		Where("notification_id = ?", notif.ID).
		Where("user_id = ?", "holder-1").
		Scan(ctx))
	assert.False(t, delivery.ReadAt.IsZero())

	assert.ErrorIs(t, f.svc.MarkRead(ctx, notif.ID, "bystander"), booking.ErrNotificationNotFound)
}
