package models

import (
	"time"

	"github.com/uptrace/bun"
)

// TrendingLog is a materialized cache of popularity metrics, one row per
// event. Everything here is recomputable from events, tickets, payments and
// reviews; it is never treated as a source of truth.
type TrendingLog struct {
	bun.BaseModel `bun:"table:trending_logs"`

	EventID      string  `bun:"event_id,pk"`
	ViewCount    int     `bun:"view_count,notnull,default:0"`
	TotalRevenue float64 `bun:"total_revenue,notnull,default:0"`

	TrendingScore float64 `bun:"trending_score,notnull,default:0"`
	InterestScore float64 `bun:"interest_score,notnull,default:0"`

	LastUpdated time.Time `bun:"last_updated,nullzero"`
}

type Review struct {
	bun.BaseModel `bun:"table:reviews"`

	ID        string    `bun:"id,pk"`
	EventID   string    `bun:"event_id,notnull"`
	UserID    string    `bun:"user_id,notnull"`
	Rating    int       `bun:"rating,notnull"`
	Comment   string    `bun:"comment,nullzero"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}
