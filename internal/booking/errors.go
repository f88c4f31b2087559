// Package booking holds the domain error taxonomy shared by the inventory,
// ledger, settlement and discount services.
package booking

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded means the event has no tickets left to reserve.
	ErrCapacityExceeded = errors.New("event capacity exceeded")

	// ErrInventoryRace means a concurrent reservation won the admission
	// slot first. Retryable: the caller should attempt the reservation again.
	ErrInventoryRace = errors.New("reservation lost an admission race, retry")

	// ErrNoUnpaidTickets means settlement found nothing to settle.
	ErrNoUnpaidTickets = errors.New("no unpaid tickets for this user and event")

	// ErrNotPaid rejects a check-in on a ticket that was never settled.
	ErrNotPaid = errors.New("ticket is not paid")

	// ErrAlreadyCheckedIn rejects a second check-in on the same ticket.
	ErrAlreadyCheckedIn = errors.New("ticket already checked in")

	// ErrInconsistentState signals a violated invariant (counter drift,
	// partially applied settlement). Fatal: alert, never silently clamp.
	ErrInconsistentState = errors.New("inconsistent derived state")

	// ErrEventInactive rejects reservations on deactivated or ended events.
	ErrEventInactive = errors.New("event is not open for booking")

	ErrEventNotFound        = errors.New("event not found")
	ErrTicketNotFound       = errors.New("ticket not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrNotificationNotFound = errors.New("notification not found")
)

type DiscountErrorKind string

const (
	DiscountNotFound        DiscountErrorKind = "not_found"
	DiscountInactive        DiscountErrorKind = "inactive"
	DiscountOutOfWindow     DiscountErrorKind = "out_of_window"
	DiscountUsageExceeded   DiscountErrorKind = "usage_exceeded"
	DiscountSegmentMismatch DiscountErrorKind = "segment_mismatch"
)

// DiscountError reports why a discount code could not be applied. It is a
// hard settlement failure only because the caller explicitly asked for the
// code; settlement without a code never produces one.
type DiscountError struct {
	Code string
	Kind DiscountErrorKind
}

func (e *DiscountError) Error() string {
	return fmt.Sprintf("discount code %q rejected: %s", e.Code, e.Kind)
}

// AsDiscountError unwraps err into a *DiscountError if there is one.
func AsDiscountError(err error) (*DiscountError, bool) {
	var de *DiscountError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
