package trending_test

import (
	"context"
	"database/sql"
	"math"
	"testing"
	"time"

	"ticketly/internal/database/migrations"
	"ticketly/internal/logger"
	"ticketly/internal/models"
	"ticketly/internal/trending"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

func TestScores(t *testing.T) {
	now := time.Date(2026, 7, 3, 10, 0, 0, 0, time.UTC)
	created := now.Add(-48 * time.Hour)

	// sold_ratio 0.25, velocity 5/2 = 2.5, views 10.
	trendingScore, interestScore := trending.Scores(5, 20, 10, 0, created, now)

	want := 0.5*0.25 + 0.3*2.5 + 0.2*math.Log(11)
	want = math.Round(want*10000) / 10000
	assert.InDelta(t, want, trendingScore, 1e-9)
	assert.InDelta(t, 1.3546, trendingScore, 1e-9)

	wantInterest := math.Round((0.5*trendingScore+0.3*5)*10000) / 10000
	assert.InDelta(t, wantInterest, interestScore, 1e-9)
}

func TestScoresDayFloorAndZeroCapacity(t *testing.T) {
	now := time.Date(2026, 7, 3, 10, 0, 0, 0, time.UTC)

	// Created today: days floors to 1 so velocity equals sold.
	sameDay, _ := trending.Scores(4, 10, 0, 0, now.Add(-2*time.Hour), now)
	want := math.Round((0.5*0.4+0.3*4)*10000) / 10000
	assert.InDelta(t, want, sameDay, 1e-9)

	// Zero capacity must not divide by zero; the ratio term just drops out.
	zeroTotal, _ := trending.Scores(0, 0, 5, 0, now.Add(-72*time.Hour), now)
	wantZero := math.Round(0.2*math.Log(6)*10000) / 10000
	assert.InDelta(t, wantZero, zeroTotal, 1e-9)
}

func TestScoresReviewsRaiseInterestOnly(t *testing.T) {
	now := time.Date(2026, 7, 3, 10, 0, 0, 0, time.UTC)
	created := now.Add(-48 * time.Hour)

	t0, i0 := trending.Scores(5, 20, 10, 0, created, now)
	t5, i5 := trending.Scores(5, 20, 10, 5, created, now)

	assert.Equal(t, t0, t5)
	assert.InDelta(t, i0+1.0, i5, 1e-9)
}

type fixture struct {
	db    *bun.DB
	clock *clockwork.FakeClock
	svc   *trending.Service
	event *models.Event
}

func setup(t *testing.T) *fixture {
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, migrations.Bootstrap(context.Background(), db))

	clock := clockwork.NewFakeClockAt(time.Date(2026, 7, 3, 10, 0, 0, 0, time.UTC))
	svc := trending.NewService(db, clock, logger.NewLogger())

	event := &models.Event{
		ID: uuid.NewString(), OrganizerID: "org-1", Title: "Trending Event",
		StartTime: clock.Now().Add(24 * time.Hour), EndTime: clock.Now().Add(26 * time.Hour),
		IsActive: true, TotalTickets: 20, TicketPrice: 50, CreatedAt: clock.Now().Add(-48 * time.Hour),
	}
	_, err = db.NewInsert().Model(event).Exec(context.Background())
	require.NoError(t, err)

	return &fixture{db: db, clock: clock, svc: svc, event: event}
}

func (f *fixture) insertPaidTickets(t *testing.T, n int) {
	for i := 0; i < n; i++ {
		ticket := &models.Ticket{
			ID: uuid.NewString(), EventID: f.event.ID, UserID: "user-1",
			Serial: uuid.NewString(), Status: models.TicketPaid,
			CreatedAt: f.clock.Now(), PaidAt: f.clock.Now(),
		}
		_, err := f.db.NewInsert().Model(ticket).Exec(context.Background())
		require.NoError(t, err)
	}
}

func TestSyncCountersRecountsFromSource(t *testing.T) {
	f := setup(t)
	defer f.db.Close()
	ctx := context.Background()

	f.insertPaidTickets(t, 5)
	payment := &models.Payment{
		ID: uuid.NewString(), UserID: "user-1", EventID: f.event.ID,
		Amount: 250, Status: models.PaymentSettled,
		TransactionID: uuid.NewString(), PaidAt: f.clock.Now(), CreatedAt: f.clock.Now(),
	}
	_, err := f.db.NewInsert().Model(payment).Exec(ctx)
	require.NoError(t, err)

	// Plant drift; the recount must overwrite it, not add to it.
	_, err = f.db.NewUpdate().
		Model((*models.Event)(nil)).
		Set("sold_tickets = ?", 99).
		Where("id = ?", f.event.ID).
		Exec(ctx)
	require.NoError(t, err)

	require.NoError(t, f.svc.SyncCounters(ctx, f.db, f.event.ID))

	var event models.Event
	require.NoError(t, f.db.NewSelect().Model(&event).Where("id = ?", f.event.ID).Scan(ctx))
	assert.Equal(t, 5, event.SoldTickets)

	tl, err := f.svc.Log(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(250), tl.TotalRevenue)
}

func TestSyncCountersIgnoresUnsettledPayments(t *testing.T) {
	f := setup(t)
	defer f.db.Close()
	ctx := context.Background()

	payment := &models.Payment{
		ID: uuid.NewString(), UserID: "user-1", EventID: f.event.ID,
		Amount: 999, Status: models.PaymentUnsettled,
		TransactionID: uuid.NewString(), CreatedAt: f.clock.Now(),
	}
	_, err := f.db.NewInsert().Model(payment).Exec(ctx)
	require.NoError(t, err)

	require.NoError(t, f.svc.SyncCounters(ctx, f.db, f.event.ID))

	tl, err := f.svc.Log(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Zero(t, tl.TotalRevenue)
}

func TestRecordViewBumpsCounterAndScores(t *testing.T) {
	f := setup(t)
	defer f.db.Close()
	ctx := context.Background()

	f.insertPaidTickets(t, 5)
	require.NoError(t, f.svc.SyncCounters(ctx, f.db, f.event.ID))

	for i := 0; i < 10; i++ {
		require.NoError(t, f.svc.RecordView(ctx, f.event.ID))
	}

	tl, err := f.svc.Log(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, tl.ViewCount)

	// 5 sold of 20, 10 views, event created two days ago.
	assert.InDelta(t, 1.3546, tl.TrendingScore, 1e-9)
	assert.InDelta(t, 2.1773, tl.InterestScore, 1e-9)
}

func TestRecomputeScoresForMissingEventIsNoop(t *testing.T) {
	f := setup(t)
	defer f.db.Close()

	assert.NoError(t, f.svc.RecomputeScores(context.Background(), "gone"))
}

func TestLeaderboardOrdersByTrendingScore(t *testing.T) {
	f := setup(t)
	defer f.db.Close()
	ctx := context.Background()

	quiet := &models.Event{
		ID: uuid.NewString(), OrganizerID: "org-1", Title: "Quiet Event",
		StartTime: f.clock.Now().Add(24 * time.Hour), EndTime: f.clock.Now().Add(26 * time.Hour),
		IsActive: true, TotalTickets: 20, TicketPrice: 50, CreatedAt: f.clock.Now().Add(-48 * time.Hour),
	}
	_, err := f.db.NewInsert().Model(quiet).Exec(ctx)
	require.NoError(t, err)

	f.insertPaidTickets(t, 5)
	require.NoError(t, f.svc.Rebuild(ctx, f.event.ID))
	require.NoError(t, f.svc.Rebuild(ctx, quiet.ID))

	board, err := f.svc.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, f.event.ID, board[0].EventID)
	assert.Equal(t, 5, board[0].SoldTickets)
	assert.GreaterOrEqual(t, board[0].TrendingScore, board[1].TrendingScore)
}
