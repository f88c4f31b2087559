// Package discount validates discount codes against their activation flag,
// validity window, usage cap and target customer segment.
//
// Validation here is read-side only. The usage cap is enforced for real by a
// conditional used_count increment inside the settlement transaction, so two
// settlements racing for the last redemption cannot both win.
package discount

import (
	"time"

	"ticketly/internal/booking"
	"ticketly/internal/models"
)

type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks whether user may redeem code at instant now. A nil result
// means the code is redeemable; otherwise the error is a
// *booking.DiscountError naming the first failed check.
func (v *Validator) Validate(code *models.DiscountCode, user *models.User, now time.Time) error {
	if code == nil {
		return &booking.DiscountError{Kind: booking.DiscountNotFound}
	}

	if !code.IsActive {
		return &booking.DiscountError{Code: code.Code, Kind: booking.DiscountInactive}
	}

	if now.Before(code.ValidFrom) || now.After(code.ValidTo) {
		return &booking.DiscountError{Code: code.Code, Kind: booking.DiscountOutOfWindow}
	}

	if code.MaxUses > 0 && code.UsedCount >= code.MaxUses {
		return &booking.DiscountError{Code: code.Code, Kind: booking.DiscountUsageExceeded}
	}

	if code.UserGroup != "" && code.UserGroup != user.SegmentAt(now) {
		return &booking.DiscountError{Code: code.Code, Kind: booking.DiscountSegmentMismatch}
	}

	return nil
}

// Apply returns total reduced by the code's percentage, clamped at zero.
func Apply(total float64, code *models.DiscountCode) float64 {
	discounted := total - total*(code.Percentage/100)
	if discounted < 0 {
		return 0
	}
	return discounted
}
