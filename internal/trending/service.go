// Package trending maintains the derived popularity state: the per-event
// sold-ticket counter, revenue total, and the trending/interest scores kept
// in trending_logs.
//
// The counters are strongly consistent: every transaction that flips a ticket
// paid-state calls SyncCounters with its own tx handle, so the recount commits
// or rolls back together with the trigger. The scores are eventually
// consistent: they are recomputed from the ticket event feed and may lag.
package trending

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"ticketly/internal/booking"
	"ticketly/internal/logger"
	"ticketly/internal/models"

	"github.com/jonboulle/clockwork"
	"github.com/uptrace/bun"
)

type Service struct {
	db     *bun.DB
	clock  clockwork.Clock
	logger *logger.Logger
}

func NewService(db *bun.DB, clock clockwork.Clock, log *logger.Logger) *Service {
	return &Service{db: db, clock: clock, logger: log}
}

// EnsureLog creates the trending row for a new event. One row per event,
// created with it and deleted with it.
func (s *Service) EnsureLog(ctx context.Context, idb bun.IDB, eventID string) error {
	tl := models.TrendingLog{
		EventID:     eventID,
		LastUpdated: s.clock.Now(),
	}
	_, err := idb.NewInsert().
		Model(&tl).
		On("CONFLICT (event_id) DO NOTHING").
		Exec(ctx)
	return err
}

// DeleteLog removes the cache row when its event is deleted.
func (s *Service) DeleteLog(ctx context.Context, idb bun.IDB, eventID string) error {
	_, err := idb.NewDelete().
		Model((*models.TrendingLog)(nil)).
		Where("event_id = ?", eventID).
		Exec(ctx)
	return err
}

// SyncCounters recounts sold_tickets and total_revenue from source state.
// It runs on idb so a settlement or ledger transaction commits the recount
// atomically with the triggering state change. A recount is used uniformly
// (rather than increment/decrement) so any prior drift self-heals on the
// next transition.
func (s *Service) SyncCounters(ctx context.Context, idb bun.IDB, eventID string) error {
	var event models.Event
	err := idb.NewSelect().
		Model(&event).
		Where("id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("sync counters: event %s: %w", eventID, err)
	}

	paidCount, err := idb.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("event_id = ?", eventID).
		Where("status IN (?)", bun.In([]models.TicketStatus{models.TicketPaid, models.TicketCheckedIn})).
		Count(ctx)
	if err != nil {
		return fmt.Errorf("sync counters: recount tickets: %w", err)
	}

	if paidCount > event.TotalTickets {
		// The capacity invariant was broken upstream. Store the truthful
		// recount anyway and alert; clamping would hide the defect.
		s.logger.Alert("TRENDING", fmt.Sprintf(
			"event %s has %d paid tickets over capacity %d", eventID, paidCount, event.TotalTickets))
	}

	var revenue float64
	err = idb.NewSelect().
		ColumnExpr("COALESCE(SUM(amount), 0)").
		Model((*models.Payment)(nil)).
		Where("event_id = ?", eventID).
		Where("status = ?", models.PaymentSettled).
		Scan(ctx, &revenue)
	if err != nil {
		return fmt.Errorf("sync counters: revenue: %w", err)
	}

	_, err = idb.NewUpdate().
		Model((*models.Event)(nil)).
		Set("sold_tickets = ?", paidCount).
		Where("id = ?", eventID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sync counters: update event: %w", err)
	}

	if err := s.EnsureLog(ctx, idb, eventID); err != nil {
		return err
	}
	_, err = idb.NewUpdate().
		Model((*models.TrendingLog)(nil)).
		Set("total_revenue = ?", revenue).
		Set("last_updated = ?", s.clock.Now()).
		Where("event_id = ?", eventID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sync counters: update trending log: %w", err)
	}
	return nil
}

// RecomputeScores refreshes trending_score and interest_score from
// post-mutation values. Called off the ticket event feed; a lost or failed
// recompute is retried on the next event for the same event id.
func (s *Service) RecomputeScores(ctx context.Context, eventID string) error {
	var event models.Event
	err := s.db.NewSelect().
		Model(&event).
		Where("id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		// Event deleted; its trending row is gone with it.
		return nil
	}
	if err != nil {
		return fmt.Errorf("recompute scores: event %s: %w", eventID, err)
	}

	var tl models.TrendingLog
	err = s.db.NewSelect().
		Model(&tl).
		Where("event_id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("recompute scores: trending log %s: %w", eventID, err)
	}

	reviewCount, err := s.db.NewSelect().
		Model((*models.Review)(nil)).
		Where("event_id = ?", eventID).
		Count(ctx)
	if err != nil {
		return fmt.Errorf("recompute scores: reviews: %w", err)
	}

	trendingScore, interestScore := Scores(
		event.SoldTickets, event.TotalTickets,
		tl.ViewCount, reviewCount,
		event.CreatedAt, s.clock.Now(),
	)

	_, err = s.db.NewUpdate().
		Model((*models.TrendingLog)(nil)).
		Set("trending_score = ?", trendingScore).
		Set("interest_score = ?", interestScore).
		Set("last_updated = ?", s.clock.Now()).
		Where("event_id = ?", eventID).
		Exec(ctx)
	return err
}

// Rebuild is the recovery path: recount counters and recompute scores from
// source state in one pass.
func (s *Service) Rebuild(ctx context.Context, eventID string) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return s.SyncCounters(ctx, tx, eventID)
	})
	if err != nil {
		return err
	}
	return s.RecomputeScores(ctx, eventID)
}

// HandleTicketEvent is the Kafka feed entry point.
func (s *Service) HandleTicketEvent(ev models.TicketEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.RecomputeScores(ctx, ev.EventID); err != nil {
		s.logger.Error("TRENDING", fmt.Sprintf("score recompute for event %s: %v", ev.EventID, err))
	}
}

// RecordView bumps the event's view counter and refreshes the scores.
func (s *Service) RecordView(ctx context.Context, eventID string) error {
	exists, err := s.db.NewSelect().
		Model((*models.Event)(nil)).
		Where("id = ?", eventID).
		Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return booking.ErrEventNotFound
	}

	if err := s.EnsureLog(ctx, s.db, eventID); err != nil {
		return err
	}
	_, err = s.db.NewUpdate().
		Model((*models.TrendingLog)(nil)).
		Set("view_count = view_count + 1").
		Set("last_updated = ?", s.clock.Now()).
		Where("event_id = ?", eventID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return s.RecomputeScores(ctx, eventID)
}

// EventScore is one leaderboard row.
type EventScore struct {
	EventID       string  `bun:"event_id" json:"event_id"`
	Title         string  `bun:"title" json:"title"`
	SoldTickets   int     `bun:"sold_tickets" json:"sold_tickets"`
	ViewCount     int     `bun:"view_count" json:"view_count"`
	TotalRevenue  float64 `bun:"total_revenue" json:"total_revenue"`
	TrendingScore float64 `bun:"trending_score" json:"trending_score"`
	InterestScore float64 `bun:"interest_score" json:"interest_score"`
}

// Leaderboard returns the top events by trending score.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]EventScore, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []EventScore
	err := s.db.NewSelect().
		ColumnExpr("tl.event_id, e.title, e.sold_tickets, tl.view_count, tl.total_revenue, tl.trending_score, tl.interest_score").
		TableExpr("trending_logs AS tl").
		Join("JOIN events AS e ON e.id = tl.event_id").
		OrderExpr("tl.trending_score DESC").
		Limit(limit).
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Log returns the trending row for one event.
func (s *Service) Log(ctx context.Context, eventID string) (*models.TrendingLog, error) {
	var tl models.TrendingLog
	err := s.db.NewSelect().
		Model(&tl).
		Where("event_id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tl, nil
}

// Scores computes the composite popularity metrics:
//
//	sold_ratio = sold / total            (0 when total is 0)
//	days       = max(1, today - created)
//	velocity   = sold / days
//	trending   = 0.5*sold_ratio + 0.3*velocity + 0.2*ln(views+1)
//	interest   = 0.5*trending + 0.3*sold + 0.2*reviews
//
// both rounded to 4 decimals.
func Scores(sold, total, views, reviews int, createdAt, now time.Time) (trending, interest float64) {
	var soldRatio float64
	if total > 0 {
		soldRatio = float64(sold) / float64(total)
	}

	days := daysBetween(createdAt, now)
	if days < 1 {
		days = 1
	}
	velocity := float64(sold) / float64(days)

	trending = round4(0.5*soldRatio + 0.3*velocity + 0.2*math.Log(float64(views)+1))
	interest = round4(0.5*trending + 0.3*float64(sold) + 0.2*float64(reviews))
	return trending, interest
}

// daysBetween counts whole calendar days from the date of a to the date of b.
func daysBetween(a, b time.Time) int {
	aDate := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bDate := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bDate.Sub(aDate).Hours() / 24)
}

func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}
