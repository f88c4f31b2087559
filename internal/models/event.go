package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID          string `bun:"id,pk"`
	OrganizerID string `bun:"organizer_id,notnull"`
	Title       string `bun:"title,notnull"`
	Description string `bun:"description,nullzero"`
	Category    string `bun:"category,nullzero"`
	Location    string `bun:"location,nullzero"`
	PosterURL   string `bun:"poster_url,nullzero"`

	StartTime time.Time `bun:"start_time,notnull"`
	EndTime   time.Time `bun:"end_time,notnull"`
	IsActive  bool      `bun:"is_active,notnull,default:true"`

	TotalTickets int     `bun:"total_tickets,notnull"`
	TicketPrice  float64 `bun:"ticket_price,notnull"`
	// SoldTickets counts paid tickets only. It is derived state, maintained
	// by the trending service recount inside the mutating transaction.
	SoldTickets int `bun:"sold_tickets,notnull,default:0"`

	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,nullzero"`
}

type EventUpdateRequest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}
