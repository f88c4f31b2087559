package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketUnpaid    TicketStatus = "unpaid"
	TicketPaid      TicketStatus = "paid"
	TicketCheckedIn TicketStatus = "checked_in"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID      string `bun:"id,pk"`
	EventID string `bun:"event_id,notnull"`
	UserID  string `bun:"user_id,notnull"`

	// Serial is the opaque scannable identifier; QRCode is its rendered form.
	Serial string `bun:"serial,unique,notnull"`
	QRCode []byte `bun:"qr_code,nullzero"`

	Status    TicketStatus `bun:"status,notnull"`
	PaymentID string       `bun:"payment_id,nullzero"`

	CreatedAt   time.Time `bun:"created_at,notnull"`
	PaidAt      time.Time `bun:"paid_at,nullzero"`
	CheckedInAt time.Time `bun:"checked_in_at,nullzero"`
}

func (t *Ticket) IsPaid() bool {
	return t.Status == TicketPaid || t.Status == TicketCheckedIn
}

// TicketEvent is the payload published on every ticket state transition.
type TicketEvent struct {
	Type     string    `json:"type"` // ticket.paid, ticket.unpaid, ticket.deleted, ticket.checked_in
	TicketID string    `json:"ticket_id"`
	EventID  string    `json:"event_id"`
	UserID   string    `json:"user_id"`
	At       time.Time `json:"at"`
}
